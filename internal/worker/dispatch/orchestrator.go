// Package dispatch はコンテンツアイテムのディスパッチ処理を提供する。
// オーケストレーター、リトライポリシー、スケジューラ、ジョブコンシューマを含む。
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ksato/multipost/internal/metrics"
	"github.com/ksato/multipost/internal/model"
	"github.com/ksato/multipost/internal/repository"
)

// ChannelResolverService はチャンネル解決のインターフェース。
type ChannelResolverService interface {
	// Resolve はコネクション一覧からアクティブなチャンネル一覧を返す。
	Resolve(ctx context.Context, connections []*model.Connection) ([]*model.Channel, error)
}

// PayloadResolverService はペイロード解決のインターフェース。
type PayloadResolverService interface {
	// Resolve はアイテムから投稿ペイロードを生成する。
	Resolve(ctx context.Context, item *model.ContentItem) (model.PostPayload, error)
}

// PosterService はマルチチャンネル投稿の実行インターフェース。
// 渡された全チャンネル分の結果エントリを必ず返す。
type PosterService interface {
	Post(ctx context.Context, item *model.ContentItem, channels []*model.Channel, payload model.PostPayload) map[string]model.ChannelResult
}

// AuditRecorder は監査ログ記録のインターフェース。
// 記録の失敗はアイテムの状態遷移に影響してはならない（実装側でベストエフォート処理）。
type AuditRecorder interface {
	Record(ctx context.Context, campaignID string, event model.LogEventType, payload map[string]any)
}

// OutcomeKind はディスパッチ試行の結果種別を表す。
type OutcomeKind int

const (
	// OutcomeNoOp は状態変更なし（削除済み・終端済み・キャンペーン非running）。
	OutcomeNoOp OutcomeKind = iota
	// OutcomePublished は全チャンネル成功による公開。
	OutcomePublished
	// OutcomePartial は一部チャンネル成功による公開（部分成功）。
	OutcomePartial
	// OutcomeSkipped は空ペイロードによるスキップ。
	OutcomeSkipped
	// OutcomeFailed は終端失敗。
	OutcomeFailed
	// OutcomeRetry はリトライ予約。RetryAfter経過後に再試行される。
	OutcomeRetry
)

// Outcome はディスパッチ試行の結果を表す明示的な値。
// リトライは例外ではなくこの値で表現され、スケジューラ側が解釈する。
type Outcome struct {
	Kind       OutcomeKind
	RetryAfter time.Duration
}

// Orchestrator はコンテンツアイテム1件のディスパッチを実行する状態機械。
// 事前条件の検証、チャンネル解決、ペイロード解決、投稿のファンアウト、
// 結果の集約とアイテム状態の更新を行う。
type Orchestrator struct {
	campaignRepo repository.CampaignRepository
	itemRepo     repository.ContentItemRepository
	channels     ChannelResolverService
	payloads     PayloadResolverService
	poster       PosterService
	audit        AuditRecorder
	collector    metrics.MetricsCollector
	policy       Policy
	logger       *slog.Logger
	now          func() time.Time
}

// NewOrchestrator はOrchestratorを生成する。
func NewOrchestrator(
	campaignRepo repository.CampaignRepository,
	itemRepo repository.ContentItemRepository,
	channels ChannelResolverService,
	payloads PayloadResolverService,
	poster PosterService,
	audit AuditRecorder,
	collector metrics.MetricsCollector,
	policy Policy,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		campaignRepo: campaignRepo,
		itemRepo:     itemRepo,
		channels:     channels,
		payloads:     payloads,
		poster:       poster,
		audit:        audit,
		collector:    collector,
		policy:       policy,
		logger:       logger,
		now:          time.Now,
	}
}

// Dispatch はアイテム1件のディスパッチ試行を実行する。
// 試行のたびにアイテムとキャンペーンをDBから読み直し、
// メモリ上の古い状態を信用しない。
func (o *Orchestrator) Dispatch(ctx context.Context, itemID string) (Outcome, error) {
	// 1. 最新状態の再読込。アイテムまたはキャンペーンが削除済みの場合は
	//    状態変更もログも行わず静かに終了する。
	item, err := o.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return Outcome{}, fmt.Errorf("アイテムの再読込に失敗しました: %w", err)
	}
	if item == nil {
		return Outcome{Kind: OutcomeNoOp}, nil
	}

	// 終端済みアイテムへの再入は一切の変更を行わない
	if item.Status.IsTerminal() {
		return Outcome{Kind: OutcomeNoOp}, nil
	}

	campaign, err := o.campaignRepo.FindByID(ctx, item.CampaignID)
	if err != nil {
		return Outcome{}, fmt.Errorf("キャンペーンの再読込に失敗しました: %w", err)
	}
	if campaign == nil {
		return Outcome{Kind: OutcomeNoOp}, nil
	}

	// 2. runningでないキャンペーンのアイテムは返却する
	if campaign.Status != model.CampaignStatusRunning {
		if item.Status == model.ItemStatusScheduled {
			if err := o.itemRepo.ResetToPending(ctx, item.ID); err != nil {
				return Outcome{}, fmt.Errorf("アイテムの返却に失敗しました: %w", err)
			}
		}
		return Outcome{Kind: OutcomeNoOp}, nil
	}

	now := o.now()
	if item.FirstAttemptedAt == nil {
		item.FirstAttemptedAt = &now
	}

	// 3. チャンネル解決。空は設定上の問題でありリトライしても無駄なので終端失敗。
	connections, err := o.campaignRepo.ListConnections(ctx, campaign.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("コネクション一覧の取得に失敗しました: %w", err)
	}

	channels, err := o.channels.Resolve(ctx, connections)
	if err != nil {
		return Outcome{}, fmt.Errorf("チャンネル解決に失敗しました: %w", err)
	}

	if len(channels) == 0 {
		item.Status = model.ItemStatusFailed
		item.ErrorMessage = "No valid channels resolved for campaign"
		item.NextAttemptAt = nil
		item.UpdatedAt = now
		if err := o.itemRepo.UpdateDispatchState(ctx, item); err != nil {
			return Outcome{}, fmt.Errorf("アイテム状態の更新に失敗しました: %w", err)
		}
		o.audit.Record(ctx, campaign.ID, model.EventPostFailed, map[string]any{
			"item_id":       item.ID,
			"error_code":    model.ErrCodeNoChannels,
			"error":         item.ErrorMessage,
			"attempt_count": item.AttemptCount,
		})
		o.collector.RecordFailed()
		return Outcome{Kind: OutcomeFailed}, nil
	}

	// 4. ペイロード解決。リゾルバ自体の失敗は終端失敗、
	//    空ペイロードは失敗と区別してスキップとする。
	payload, err := o.payloads.Resolve(ctx, item)
	if err != nil {
		item.Status = model.ItemStatusFailed
		item.ErrorMessage = TruncateMessage(fmt.Sprintf("payload resolution failed: %s", err.Error()))
		item.NextAttemptAt = nil
		item.UpdatedAt = now
		if updateErr := o.itemRepo.UpdateDispatchState(ctx, item); updateErr != nil {
			return Outcome{}, fmt.Errorf("アイテム状態の更新に失敗しました: %w", updateErr)
		}
		o.audit.Record(ctx, campaign.ID, model.EventPostFailed, map[string]any{
			"item_id":       item.ID,
			"error_code":    model.ErrCodePayloadFailed,
			"error":         err.Error(),
			"attempt_count": item.AttemptCount,
		})
		o.collector.RecordFailed()
		return Outcome{Kind: OutcomeFailed}, nil
	}

	if payload.IsEmpty() {
		item.Status = model.ItemStatusSkipped
		item.ErrorMessage = ""
		item.NextAttemptAt = nil
		item.UpdatedAt = now
		if err := o.itemRepo.UpdateDispatchState(ctx, item); err != nil {
			return Outcome{}, fmt.Errorf("アイテム状態の更新に失敗しました: %w", err)
		}
		o.audit.Record(ctx, campaign.ID, model.EventPostSkipped, map[string]any{
			"item_id":    item.ID,
			"error_code": model.ErrCodeEmptyPayload,
		})
		o.collector.RecordSkipped()
		return Outcome{Kind: OutcomeSkipped}, nil
	}

	// 5. 全チャンネルへのファンアウト。Postは全チャンネル分の結果を返す。
	results := o.poster.Post(ctx, item, channels, payload)
	for _, r := range results {
		o.collector.RecordChannelPost(r.Provider, r.Success)
	}

	// 6. 集約
	outcome, err := o.reduce(ctx, campaign, item, results, now)
	if err != nil {
		return Outcome{}, err
	}

	if outcome.Kind == OutcomePublished || outcome.Kind == OutcomePartial ||
		outcome.Kind == OutcomeFailed || outcome.Kind == OutcomeSkipped {
		o.maybeCompleteCampaign(ctx, campaign)
	}

	return outcome, nil
}

// reduce はチャンネルごとの結果を1つのアイテム結果へ集約する。
func (o *Orchestrator) reduce(ctx context.Context, campaign *model.Campaign, item *model.ContentItem, results map[string]model.ChannelResult, now time.Time) (Outcome, error) {
	successCount := 0
	for _, r := range results {
		if r.Success {
			successCount++
		}
	}
	failureCount := len(results) - successCount

	item.ExternalPostIDs = results
	item.UpdatedAt = now

	switch {
	case successCount == len(results):
		// 全チャンネル成功
		item.Status = model.ItemStatusPublished
		item.PublishedAt = &now
		item.ErrorMessage = ""
		item.NextAttemptAt = nil
		if err := o.itemRepo.UpdateDispatchState(ctx, item); err != nil {
			return Outcome{}, fmt.Errorf("アイテム状態の更新に失敗しました: %w", err)
		}
		o.audit.Record(ctx, campaign.ID, model.EventPostPublished, map[string]any{
			"item_id":         item.ID,
			"network_results": results,
			"success_count":   successCount,
			"failure_count":   0,
		})
		o.collector.RecordPublished(false)
		o.logger.Info("アイテムを公開しました",
			slog.String("item_id", item.ID),
			slog.String("campaign_id", campaign.ID),
			slog.Int("channel_count", len(results)),
		)
		return Outcome{Kind: OutcomePublished}, nil

	case successCount > 0:
		// 部分成功。一部チャンネルへの公開にもユーザー価値があるため
		// publishedとして扱い、失敗詳細を記録する。
		item.Status = model.ItemStatusPublished
		item.PublishedAt = &now
		item.ErrorMessage = FailureSummary(results)
		item.NextAttemptAt = nil
		if err := o.itemRepo.UpdateDispatchState(ctx, item); err != nil {
			return Outcome{}, fmt.Errorf("アイテム状態の更新に失敗しました: %w", err)
		}
		o.audit.Record(ctx, campaign.ID, model.EventPostPublished, map[string]any{
			"item_id":         item.ID,
			"network_results": results,
			"partial_success": true,
			"success_count":   successCount,
			"failure_count":   failureCount,
			"failures":        failedResults(results),
		})
		o.collector.RecordPublished(true)
		o.logger.Warn("アイテムを部分成功として公開しました",
			slog.String("item_id", item.ID),
			slog.String("campaign_id", campaign.ID),
			slog.Int("success_count", successCount),
			slog.Int("failure_count", failureCount),
		)
		return Outcome{Kind: OutcomePartial}, nil
	}

	// 全チャンネル失敗。リトライポリシーで判定する。
	firstAttemptedAt := time.Time{}
	if item.FirstAttemptedAt != nil {
		firstAttemptedAt = *item.FirstAttemptedAt
	}

	if o.policy.ShouldRetry(results, item.AttemptCount, firstAttemptedAt, now) {
		delay := Backoff(item.AttemptCount)
		nextAttempt := now.Add(delay)
		item.Status = model.ItemStatusScheduled
		item.AttemptCount++
		item.NextAttemptAt = &nextAttempt
		item.ErrorMessage = FailureSummary(results)
		if err := o.itemRepo.UpdateDispatchState(ctx, item); err != nil {
			return Outcome{}, fmt.Errorf("リトライ予約の書き込みに失敗しました: %w", err)
		}
		o.collector.RecordRetried()
		o.logger.Warn("リトライを予約しました",
			slog.String("item_id", item.ID),
			slog.String("campaign_id", campaign.ID),
			slog.Int("attempt_count", item.AttemptCount),
			slog.Duration("retry_after", delay),
		)
		return Outcome{Kind: OutcomeRetry, RetryAfter: delay}, nil
	}

	// リトライ不能または試行上限・期限超過: 終端失敗
	item.Status = model.ItemStatusFailed
	item.ErrorMessage = FailureSummary(results)
	item.NextAttemptAt = nil
	if err := o.itemRepo.UpdateDispatchState(ctx, item); err != nil {
		return Outcome{}, fmt.Errorf("アイテム状態の更新に失敗しました: %w", err)
	}
	o.audit.Record(ctx, campaign.ID, model.EventPostFailed, map[string]any{
		"item_id":         item.ID,
		"network_results": results,
		"errors":          failureMessages(results),
		"attempt_count":   item.AttemptCount,
	})
	o.collector.RecordFailed()
	o.logger.Error("アイテムの投稿に失敗しました",
		slog.String("item_id", item.ID),
		slog.String("campaign_id", campaign.ID),
		slog.Int("attempt_count", item.AttemptCount),
		slog.Int("channel_count", len(results)),
	)
	return Outcome{Kind: OutcomeFailed}, nil
}

// Finalize は試行予算をすべて使い切った後の最終安全網。
// アイテムを読み直し、publishedでない限り強制的にfailedへ遷移させる。
// 予期しない例外が通常の集約処理を迂回した場合でも、
// アイテムがscheduledのまま取り残されないことを保証する。
func (o *Orchestrator) Finalize(ctx context.Context, itemID, reason string) {
	item, err := o.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		o.logger.Error("最終処理でのアイテム再読込に失敗しました",
			slog.String("item_id", itemID),
			slog.String("error", err.Error()),
		)
		return
	}
	if item == nil || item.Status == model.ItemStatusPublished {
		return
	}
	if item.Status.IsTerminal() {
		return
	}

	now := o.now()
	item.Status = model.ItemStatusFailed
	item.ErrorMessage = TruncateMessage(reason)
	item.NextAttemptAt = nil
	item.UpdatedAt = now

	if err := o.itemRepo.UpdateDispatchState(ctx, item); err != nil {
		o.logger.Error("最終処理でのアイテム状態更新に失敗しました",
			slog.String("item_id", itemID),
			slog.String("error", err.Error()),
		)
		return
	}

	o.audit.Record(ctx, item.CampaignID, model.EventPostFailed, map[string]any{
		"item_id":       item.ID,
		"error":         item.ErrorMessage,
		"attempt_count": item.AttemptCount,
		"final_failure": true,
	})
	o.collector.RecordFailed()
}

// maybeCompleteCampaign は未終端アイテムが無くなったキャンペーンをcompletedへ遷移させる。
// ベストエフォートであり、失敗してもディスパッチ結果には影響しない。
func (o *Orchestrator) maybeCompleteCampaign(ctx context.Context, campaign *model.Campaign) {
	unfinished, err := o.itemRepo.CountUnfinished(ctx, campaign.ID)
	if err != nil {
		o.logger.Error("未終端アイテム数の取得に失敗しました",
			slog.String("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if unfinished > 0 {
		return
	}

	now := o.now()
	campaign.Status = model.CampaignStatusCompleted
	campaign.UpdatedAt = now
	if err := o.campaignRepo.UpdateLifecycle(ctx, campaign); err != nil {
		o.logger.Error("キャンペーンのcompletedへの遷移に失敗しました",
			slog.String("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
	}
}

// failedResults は失敗したチャンネルの結果のみを抜き出す。
func failedResults(results map[string]model.ChannelResult) map[string]model.ChannelResult {
	failed := make(map[string]model.ChannelResult)
	for id, r := range results {
		if !r.Success {
			failed[id] = r
		}
	}
	return failed
}

// failureMessages は失敗したチャンネルのエラーメッセージ一覧を返す。
func failureMessages(results map[string]model.ChannelResult) []string {
	var msgs []string
	for _, r := range results {
		if !r.Success {
			msgs = append(msgs, fmt.Sprintf("%s (%s): %s", r.ChannelName, r.Provider, r.Error))
		}
	}
	sort.Strings(msgs)
	return msgs
}
