package model

import (
	"strings"
	"time"
)

// ContentItem はキャンペーンに属する1件の配信コンテンツを表す。
// ライフサイクル: pending → scheduled → {published, failed, skipped}。
// scheduledのアイテムはキャンペーンがrunningでなくなった場合pendingへ戻される。
type ContentItem struct {
	ID               string
	CampaignID       string
	SourceRef        string
	Caption          string
	MediaURLs        []string
	Status           ItemStatus
	ErrorMessage     string
	ExternalPostIDs  map[string]ChannelResult
	AttemptCount     int
	FirstAttemptedAt *time.Time
	NextAttemptAt    *time.Time
	ScheduledAt      *time.Time
	PublishedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ItemStatus はコンテンツアイテムの配信状態を表す。
type ItemStatus string

const (
	// ItemStatusPending はディスパッチ待ちの状態。
	ItemStatusPending ItemStatus = "pending"
	// ItemStatusScheduled はディスパッチのためにクレームされた状態。
	ItemStatusScheduled ItemStatus = "scheduled"
	// ItemStatusPublished は少なくとも1チャンネルへの投稿に成功した終端状態。
	ItemStatusPublished ItemStatus = "published"
	// ItemStatusFailed は全チャンネルへの投稿に失敗した終端状態。
	ItemStatusFailed ItemStatus = "failed"
	// ItemStatusSkipped はペイロードが空のためスキップされた終端状態。
	ItemStatusSkipped ItemStatus = "skipped"
)

// IsTerminal はアイテムが終端状態（再ディスパッチ対象外）かを返す。
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusPublished || s == ItemStatusFailed || s == ItemStatusSkipped
}

// ChannelResult は1チャンネルへの投稿試行の結果を表す。
// 監査ログ用にチャンネルのプロバイダー情報を併せて保持する。
type ChannelResult struct {
	Provider       string `json:"provider"`
	ChannelType    string `json:"channel_type"`
	ChannelName    string `json:"channel_name"`
	Success        bool   `json:"success"`
	ExternalPostID string `json:"external_post_id,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
}

// PostPayload はコンテンツペイロードリゾルバが生成する投稿内容を表す。
type PostPayload struct {
	Caption   string
	MediaURLs []string
}

// IsEmpty はキャプションとメディアの両方が空かを返す。
// 空ペイロードのアイテムは失敗ではなくスキップとして扱う。
func (p PostPayload) IsEmpty() bool {
	return strings.TrimSpace(p.Caption) == "" && len(p.MediaURLs) == 0
}

// SourceItem はコンテンツソース同期が取得した未保存の1エントリを表す。
// source_refによる冪等な差分取り込みに使用される。
type SourceItem struct {
	Ref      string
	Caption  string
	MediaURL string
}
