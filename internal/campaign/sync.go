package campaign

import (
	"context"
	"log/slog"
	"time"

	"github.com/ksato/multipost/internal/repository"
)

// Syncer はコンテンツソースを持つrunningキャンペーンを定期的に同期する。
// 手動同期（APIのsync操作）と同じService.Syncを呼び出すため、
// どちらの経路でも取り込みは冪等。
type Syncer struct {
	campaignRepo repository.CampaignRepository
	service      *Service
	interval     time.Duration
	syncTimeout  time.Duration
	logger       *slog.Logger
}

// NewSyncer はSyncerを生成する。
func NewSyncer(campaignRepo repository.CampaignRepository, service *Service, interval, syncTimeout time.Duration, logger *slog.Logger) *Syncer {
	return &Syncer{
		campaignRepo: campaignRepo,
		service:      service,
		interval:     interval,
		syncTimeout:  syncTimeout,
		logger:       logger,
	}
}

// Run は定期同期ループを開始する。コンテキストがキャンセルされるまでブロックする。
func (s *Syncer) Run(ctx context.Context) {
	s.logger.Info("コンテンツソース同期を開始します",
		slog.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("コンテンツソース同期を停止します")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は同期対象の全キャンペーンを1回ずつ同期する。
// 1キャンペーンの失敗は他のキャンペーンの同期を妨げない。
func (s *Syncer) RunOnce(ctx context.Context) {
	campaigns, err := s.campaignRepo.ListWithSource(ctx)
	if err != nil {
		s.logger.Error("同期対象キャンペーンの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, campaign := range campaigns {
		syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
		if _, err := s.service.Sync(syncCtx, campaign.ID); err != nil {
			s.logger.Error("キャンペーンの同期に失敗しました",
				slog.String("campaign_id", campaign.ID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}
