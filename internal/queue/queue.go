// Package queue はRabbitMQによるディスパッチジョブの送受信を提供する。
// リトライのタイミングはDB側（next_attempt_at）が保持するため、
// ブローカーの再配信には依存しない。
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

// DispatchJob は1コンテンツアイテムのディスパッチ試行を表すジョブ。
type DispatchJob struct {
	ItemID  string `json:"item_id"`
	Attempt int    `json:"attempt"`
}

// JobHandler はディスパッチジョブの処理関数。
type JobHandler func(ctx context.Context, job DispatchJob) error

// DispatchQueue はディスパッチジョブ用の耐久キュー。
type DispatchQueue struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	name   string
	logger *slog.Logger
}

// Dial はRabbitMQへ接続し、耐久キューを宣言してDispatchQueueを生成する。
func Dial(url, queueName string, prefetch int, logger *slog.Logger) (*DispatchQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &DispatchQueue{
		conn:   conn,
		ch:     ch,
		name:   queueName,
		logger: logger,
	}, nil
}

// Publish はディスパッチジョブをキューへ送信する。永続化配信を使用する。
func (q *DispatchQueue) Publish(job DispatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("ジョブのエンコードに失敗しました: %w", err)
	}

	err = q.ch.Publish(
		"",     // exchange
		q.name, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("ジョブの送信に失敗しました: %w", err)
	}
	return nil
}

// Consume はキューの購読を開始し、ジョブごとにhandlerを呼び出す。
// 同時実行数はmaxConcurrentで制限される。コンテキストがキャンセル
// されるまでブロックし、処理中のジョブの完了を待ってから戻る。
// handlerのエラーはログに記録した上でackする。リトライが必要な場合は
// handler側がDBにnext_attempt_atを書き込み、スケジューラが再投入する。
func (q *DispatchQueue) Consume(ctx context.Context, maxConcurrent int, handler JobHandler) error {
	deliveries, err := q.ch.Consume(
		q.name,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrent)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case d, ok := <-deliveries:
			if !ok {
				wg.Wait()
				return fmt.Errorf("delivery channel closed")
			}

			var job DispatchJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				// デコード不能なジョブは再配信しても回復しないため破棄する
				q.logger.Error("不正なジョブを破棄します",
					slog.String("error", err.Error()),
				)
				_ = d.Ack(false)
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(d amqp.Delivery, job DispatchJob) {
				defer wg.Done()
				defer func() { <-sem }()

				if err := handler(ctx, job); err != nil {
					q.logger.Error("ジョブの処理に失敗しました",
						slog.String("item_id", job.ItemID),
						slog.Int("attempt", job.Attempt),
						slog.String("error", err.Error()),
					)
				}
				_ = d.Ack(false)
			}(d, job)
		}
	}
}

// Close はチャンネルと接続を閉じる。
func (q *DispatchQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
