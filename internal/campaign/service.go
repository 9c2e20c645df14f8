// Package campaign はキャンペーンのライフサイクル操作とコンテンツソース同期を提供する。
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ksato/multipost/internal/metrics"
	"github.com/ksato/multipost/internal/model"
	"github.com/ksato/multipost/internal/repository"
)

// ErrCampaignNotFound は指定されたキャンペーンが存在しない場合のエラー。
var ErrCampaignNotFound = errors.New("キャンペーンが見つかりません")

// ErrInvalidTransition は現在の状態から許可されない遷移が要求された場合のエラー。
var ErrInvalidTransition = errors.New("許可されない状態遷移です")

// ErrNoContentSource はコンテンツソースを持たないキャンペーンへの同期要求エラー。
var ErrNoContentSource = errors.New("キャンペーンはコンテンツソースを持ちません")

// AuditRecorder は監査ログ記録のインターフェース。
type AuditRecorder interface {
	Record(ctx context.Context, campaignID string, event model.LogEventType, payload map[string]any)
}

// Service はキャンペーンのライフサイクル操作とソース同期を実装する。
// 遷移規則: draft → running ⇄ paused → {completed, failed}。
type Service struct {
	campaignRepo repository.CampaignRepository
	itemRepo     repository.ContentItemRepository
	fetcher      SourceFetcher
	audit        AuditRecorder
	collector    metrics.MetricsCollector
	logger       *slog.Logger
	now          func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	campaignRepo repository.CampaignRepository,
	itemRepo repository.ContentItemRepository,
	fetcher SourceFetcher,
	audit AuditRecorder,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	return &Service{
		campaignRepo: campaignRepo,
		itemRepo:     itemRepo,
		fetcher:      fetcher,
		audit:        audit,
		collector:    collector,
		logger:       logger,
		now:          time.Now,
	}
}

// Start はキャンペーンを配信中へ遷移させる。
// すでにrunningの場合はエラー。started_atは初回の開始時のみ設定され、
// paused_atはクリアされる。
func (s *Service) Start(ctx context.Context, campaignID string) (*model.Campaign, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	if campaign.Status == model.CampaignStatusRunning {
		return nil, fmt.Errorf("%w: %s から start はできません", ErrInvalidTransition, campaign.Status)
	}

	now := s.now()
	campaign.Status = model.CampaignStatusRunning
	if campaign.StartedAt == nil {
		campaign.StartedAt = &now
	}
	campaign.PausedAt = nil
	campaign.UpdatedAt = now

	if err := s.campaignRepo.UpdateLifecycle(ctx, campaign); err != nil {
		return nil, err
	}

	s.logger.Info("キャンペーンを開始しました",
		slog.String("campaign_id", campaign.ID),
		slog.String("name", campaign.Name),
	)
	return campaign, nil
}

// Pause はキャンペーンを一時停止する。runningからのみ許可される。
// 進行中のディスパッチ試行は通常どおり完了し、次回のスケジューリングから
// 新しい状態が反映される。
func (s *Service) Pause(ctx context.Context, campaignID string) (*model.Campaign, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	if campaign.Status != model.CampaignStatusRunning {
		return nil, fmt.Errorf("%w: %s から pause はできません", ErrInvalidTransition, campaign.Status)
	}

	now := s.now()
	campaign.Status = model.CampaignStatusPaused
	campaign.PausedAt = &now
	campaign.UpdatedAt = now

	if err := s.campaignRepo.UpdateLifecycle(ctx, campaign); err != nil {
		return nil, err
	}

	s.logger.Info("キャンペーンを一時停止しました",
		slog.String("campaign_id", campaign.ID),
	)
	return campaign, nil
}

// Resume は一時停止中のキャンペーンを再開する。pausedからのみ許可される。
func (s *Service) Resume(ctx context.Context, campaignID string) (*model.Campaign, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	if campaign.Status != model.CampaignStatusPaused {
		return nil, fmt.Errorf("%w: %s から resume はできません", ErrInvalidTransition, campaign.Status)
	}

	now := s.now()
	campaign.Status = model.CampaignStatusRunning
	campaign.PausedAt = nil
	campaign.UpdatedAt = now

	if err := s.campaignRepo.UpdateLifecycle(ctx, campaign); err != nil {
		return nil, err
	}

	s.logger.Info("キャンペーンを再開しました",
		slog.String("campaign_id", campaign.ID),
	)
	return campaign, nil
}

// Sync はキャンペーンのコンテンツソースと既存アイテムの差分を取り込む。
// 既に取り込み済みのsource_refはスキップされるため冪等。
// completed/failedのキャンペーンに新規アイテムが追加された場合は
// pausedへ遷移させ、オペレーターの明示的な再開を要求する。
// 戻り値は新規作成されたアイテム数。
func (s *Service) Sync(ctx context.Context, campaignID string) (int, error) {
	campaign, err := s.campaignRepo.FindByID(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if campaign == nil {
		return 0, ErrCampaignNotFound
	}
	if campaign.SourceKind == model.SourceKindNone || campaign.SourceURL == "" {
		return 0, ErrNoContentSource
	}

	sourceItems, err := s.fetcher.Fetch(ctx, campaign)
	if err != nil {
		return 0, fmt.Errorf("コンテンツソースの取得に失敗しました: %w", err)
	}

	existing, err := s.itemRepo.ListSourceRefs(ctx, campaign.ID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	added := 0
	for _, src := range sourceItems {
		if existing[src.Ref] {
			continue
		}

		item := &model.ContentItem{
			ID:         uuid.New().String(),
			CampaignID: campaign.ID,
			SourceRef:  src.Ref,
			Caption:    src.Caption,
			Status:     model.ItemStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if src.MediaURL != "" {
			item.MediaURLs = []string{src.MediaURL}
		}

		if err := s.itemRepo.Create(ctx, item); err != nil {
			return added, fmt.Errorf("アイテムの作成に失敗しました: %w", err)
		}
		existing[src.Ref] = true
		added++
	}

	// 終了済みキャンペーンに新規アイテムが入った場合、勝手に配信を再開せず
	// オペレーターの判断を待つ
	if added > 0 && (campaign.Status == model.CampaignStatusCompleted || campaign.Status == model.CampaignStatusFailed) {
		campaign.Status = model.CampaignStatusPaused
		campaign.PausedAt = &now
		campaign.UpdatedAt = now
		if err := s.campaignRepo.UpdateLifecycle(ctx, campaign); err != nil {
			return added, err
		}
	}

	s.audit.Record(ctx, campaign.ID, model.EventCampaignSynced, map[string]any{
		"source_kind": string(campaign.SourceKind),
		"source_size": len(sourceItems),
		"items_added": added,
	})
	s.collector.RecordItemsSynced(added)

	s.logger.Info("コンテンツソースを同期しました",
		slog.String("campaign_id", campaign.ID),
		slog.String("source_kind", string(campaign.SourceKind)),
		slog.Int("source_size", len(sourceItems)),
		slog.Int("items_added", added),
	)
	return added, nil
}
