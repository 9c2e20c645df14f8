package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/ksato/multipost/internal/queue"
	"github.com/ksato/multipost/internal/repository"
)

// claimBatchSize は1回のスケジューラ実行で取得するアイテム数の上限。
const claimBatchSize = 100

// JobPublisher はディスパッチジョブの送信インターフェース。
type JobPublisher interface {
	Publish(job queue.DispatchJob) error
}

// Scheduler は配信期限の到来したコンテンツアイテムを定期的に確保し、
// ディスパッチジョブとしてキューへ投入する。
// 初回配信（pending）とリトライ（next_attempt_at到来済みのscheduled）の
// 両方を同じ経路で扱う。
type Scheduler struct {
	itemRepo  repository.ContentItemRepository
	publisher JobPublisher
	interval  time.Duration
	logger    *slog.Logger
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(itemRepo repository.ContentItemRepository, publisher JobPublisher, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		itemRepo:  itemRepo,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}
}

// Run は定期的なスケジューリングループを開始する。
// コンテキストがキャンセルされるまでブロックする。
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("ディスパッチスケジューラを開始します",
		slog.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// 起動直後に1回実行する
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ディスパッチスケジューラを停止します")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は配信期限の到来したアイテムを1バッチ確保し、キューへ投入する。
// 確保時にアイテムはscheduledへ遷移済みのため、複数のスケジューラが
// 並走しても同じアイテムが二重投入されることはない。
func (s *Scheduler) RunOnce(ctx context.Context) {
	items, err := s.itemRepo.ClaimDue(ctx, claimBatchSize)
	if err != nil {
		s.logger.Error("配信対象アイテムの確保に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(items) == 0 {
		return
	}

	published := 0
	for _, item := range items {
		job := queue.DispatchJob{
			ItemID:  item.ID,
			Attempt: item.AttemptCount,
		}
		if err := s.publisher.Publish(job); err != nil {
			s.logger.Error("ジョブの投入に失敗しました",
				slog.String("item_id", item.ID),
				slog.String("error", err.Error()),
			)
			// 投入できなかったアイテムは返却し、次回の実行で再確保させる
			if resetErr := s.itemRepo.ResetToPending(ctx, item.ID); resetErr != nil {
				s.logger.Error("アイテムの返却に失敗しました",
					slog.String("item_id", item.ID),
					slog.String("error", resetErr.Error()),
				)
			}
			continue
		}
		published++
	}

	s.logger.Info("ディスパッチジョブを投入しました",
		slog.Int("claimed", len(items)),
		slog.Int("published", published),
	)
}
