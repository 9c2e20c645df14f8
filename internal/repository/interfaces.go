// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/ksato/multipost/internal/model"
)

// CampaignRepository はキャンペーンデータの永続化インターフェース。
type CampaignRepository interface {
	// FindByID は指定IDのキャンペーンを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Campaign, error)

	// ListConnections はキャンペーンのコネクション一覧を作成順で返す。
	ListConnections(ctx context.Context, campaignID string) ([]*model.Connection, error)

	// ListWithSource はコンテンツソースを持つrunningキャンペーンを返す。
	// 定期同期の対象列挙に使用される。
	ListWithSource(ctx context.Context) ([]*model.Campaign, error)

	// UpdateLifecycle はキャンペーンのライフサイクル状態を更新する。
	// status、started_at、paused_at、updated_atを書き込む。
	UpdateLifecycle(ctx context.Context, campaign *model.Campaign) error
}

// ChannelRepository はチャンネル/グループデータの読み取りインターフェース。
// チャンネルの管理はコネクションサブシステム側が行うため、配信エンジンは読み取り専用。
type ChannelRepository interface {
	// ListByIDs は指定IDのチャンネルを入力順を保って返す。
	// 存在しないIDは結果から除外される。
	ListByIDs(ctx context.Context, ids []string) ([]*model.Channel, error)

	// ListGroupMemberIDs はグループのメンバーチャンネルIDをposition順で返す。
	ListGroupMemberIDs(ctx context.Context, groupID string) ([]string, error)
}

// ContentItemRepository はコンテンツアイテムの永続化インターフェース。
// ディスパッチは常にDBから最新状態を読み直すため、キャッシュは行わない。
type ContentItemRepository interface {
	// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ContentItem, error)

	// Create はアイテムを作成する。
	Create(ctx context.Context, item *model.ContentItem) error

	// ListSourceRefs はキャンペーンの既存アイテムのsource_ref集合を返す。
	// コンテンツソース同期の冪等な差分取り込みに使用される。
	ListSourceRefs(ctx context.Context, campaignID string) (map[string]bool, error)

	// ClaimDue はディスパッチ対象のアイテムを排他的にクレームする。
	// runningキャンペーンのpendingアイテム、およびnext_attempt_atが到来した
	// scheduledアイテム（リトライ）をFOR UPDATE SKIP LOCKEDで取得し、
	// scheduledへ遷移させてnext_attempt_atをクリアする。
	ClaimDue(ctx context.Context, limit int) ([]*model.ContentItem, error)

	// UpdateDispatchState はディスパッチ結果を書き込む。
	// status、error_message、external_post_ids、attempt_count、
	// first_attempted_at、next_attempt_at、published_at、updated_atを更新する。
	UpdateDispatchState(ctx context.Context, item *model.ContentItem) error

	// ResetToPending はアイテムをpendingへ戻し、scheduled_atとnext_attempt_atをクリアする。
	// キャンペーンがrunningでなくなった場合の返却処理に使用される。
	ResetToPending(ctx context.Context, itemID string) error

	// CountUnfinished はキャンペーンの未終端（pending/scheduled）アイテム数を返す。
	CountUnfinished(ctx context.Context, campaignID string) (int, error)
}

// CampaignLogRepository は監査ログの永続化インターフェース。追記専用。
type CampaignLogRepository interface {
	// Append はログエントリを追記する。
	Append(ctx context.Context, entry *model.CampaignLog) error

	// ListByCampaign はキャンペーンのログを新しい順で返す。
	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*model.CampaignLog, error)
}
