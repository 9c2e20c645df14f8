package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ksato/multipost/internal/metrics"
	"github.com/ksato/multipost/internal/model"
	"github.com/ksato/multipost/internal/queue"
	"github.com/ksato/multipost/internal/repository"
)

// Runner はディスパッチ試行の実行インターフェース。
type Runner interface {
	Dispatch(ctx context.Context, itemID string) (Outcome, error)
	Finalize(ctx context.Context, itemID, reason string)
}

// Consumer はキューから受け取ったジョブをオーケストレーターへ渡す。
// 試行ごとのタイムアウト、panicからの回復、試行予算超過時の
// 最終処理をここで保証する。
type Consumer struct {
	runner         Runner
	itemRepo       repository.ContentItemRepository
	collector      metrics.MetricsCollector
	attemptTimeout time.Duration
	maxAttempts    int
	logger         *slog.Logger
	now            func() time.Time
}

// NewConsumer はConsumerを生成する。
func NewConsumer(runner Runner, itemRepo repository.ContentItemRepository, collector metrics.MetricsCollector, attemptTimeout time.Duration, maxAttempts int, logger *slog.Logger) *Consumer {
	return &Consumer{
		runner:         runner,
		itemRepo:       itemRepo,
		collector:      collector,
		attemptTimeout: attemptTimeout,
		maxAttempts:    maxAttempts,
		logger:         logger,
		now:            time.Now,
	}
}

// HandleJob はディスパッチジョブ1件を処理する。
// オーケストレーターがpanicした場合やエラーを返した場合でも、
// アイテムがscheduledのまま取り残されないようにする。
func (c *Consumer) HandleJob(ctx context.Context, job queue.DispatchJob) (err error) {
	start := c.now()
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	defer func() {
		c.collector.RecordDispatchLatency(c.now().Sub(start))
		if r := recover(); r != nil {
			c.logger.Error("ディスパッチ処理がpanicしました",
				slog.String("item_id", job.ItemID),
				slog.Any("panic", r),
			)
			// panicは集約処理を迂回している可能性があるため強制終端させる
			c.runner.Finalize(context.WithoutCancel(ctx), job.ItemID, fmt.Sprintf("dispatch panicked: %v", r))
			err = fmt.Errorf("ディスパッチ処理がpanicしました: %v", r)
		}
	}()

	outcome, dispatchErr := c.runner.Dispatch(attemptCtx, job.ItemID)
	if dispatchErr != nil {
		c.handleDispatchError(context.WithoutCancel(ctx), job, dispatchErr)
		return dispatchErr
	}

	if outcome.Kind == OutcomeRetry {
		c.logger.Info("アイテムのリトライを予約しました",
			slog.String("item_id", job.ItemID),
			slog.Duration("retry_after", outcome.RetryAfter),
		)
	}
	return nil
}

// handleDispatchError はオーケストレーター自体のエラー（DB障害など）を処理する。
// 試行予算が残っていれば再試行を予約し、尽きていれば最終処理に回す。
// 試行回数は実際の投稿試行に対してのみ数えるため、ここでは増やさない。
func (c *Consumer) handleDispatchError(ctx context.Context, job queue.DispatchJob, dispatchErr error) {
	if job.Attempt >= c.maxAttempts {
		c.runner.Finalize(ctx, job.ItemID, fmt.Sprintf("dispatch failed after %d attempts: %s", job.Attempt, dispatchErr.Error()))
		return
	}

	item, err := c.itemRepo.FindByID(ctx, job.ItemID)
	if err != nil || item == nil || item.Status.IsTerminal() {
		if err != nil {
			c.logger.Error("再試行予約のためのアイテム読込に失敗しました",
				slog.String("item_id", job.ItemID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	nextAttempt := c.now().Add(initialBackoff)
	item.Status = model.ItemStatusScheduled
	item.NextAttemptAt = &nextAttempt
	item.UpdatedAt = c.now()
	if err := c.itemRepo.UpdateDispatchState(ctx, item); err != nil {
		c.logger.Error("再試行予約の書き込みに失敗しました",
			slog.String("item_id", job.ItemID),
			slog.String("error", err.Error()),
		)
		// 再試行も予約できない場合はscheduledのまま残さない
		c.runner.Finalize(ctx, job.ItemID, fmt.Sprintf("dispatch failed and retry could not be scheduled: %s", dispatchErr.Error()))
	}
}
