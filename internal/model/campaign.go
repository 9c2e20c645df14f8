// Package model はドメインモデルを定義する。
package model

import "time"

// Campaign は配信キャンペーンを表す。
// コンテンツアイテムと投稿先コネクションを所有するスケジューリング単位。
type Campaign struct {
	ID                    string
	Name                  string
	Status                CampaignStatus
	SourceKind            SourceKind
	SourceURL             string
	RepostIntervalMinutes int
	MaxRepostCount        int
	StartedAt             *time.Time
	PausedAt              *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// CampaignStatus はキャンペーンのライフサイクル状態を表す。
type CampaignStatus string

const (
	// CampaignStatusDraft は未開始の下書き状態。
	CampaignStatusDraft CampaignStatus = "draft"
	// CampaignStatusRunning は配信中の状態。runningのキャンペーンのみディスパッチ対象になる。
	CampaignStatusRunning CampaignStatus = "running"
	// CampaignStatusPaused は一時停止された状態。
	CampaignStatusPaused CampaignStatus = "paused"
	// CampaignStatusCompleted は全アイテムの配信が完了した状態。
	CampaignStatusCompleted CampaignStatus = "completed"
	// CampaignStatusFailed は失敗により終了した状態。
	CampaignStatusFailed CampaignStatus = "failed"
)

// SourceKind はキャンペーンのコンテンツソース種別を表す。
type SourceKind string

const (
	// SourceKindMediaPool は外部メディアプール（JSONリスティング）をソースとする。
	SourceKindMediaPool SourceKind = "media_pool"
	// SourceKindFeed はRSS/Atomフィードをソースとする。
	SourceKindFeed SourceKind = "feed"
	// SourceKindNone は外部ソースを持たない（アイテムは手動投入）。
	SourceKindNone SourceKind = "none"
)

// Connection はキャンペーンに紐づく投稿先参照を表す。
// kind=channelの場合はチャンネルを直接指し、kind=groupの場合は
// ディスパッチ時にグループのメンバーチャンネルへ展開される。
type Connection struct {
	ID         string
	CampaignID string
	Kind       ConnectionKind
	TargetID   string
	CreatedAt  time.Time
}

// ConnectionKind はコネクションの参照種別を表す。
type ConnectionKind string

const (
	// ConnectionKindChannel は単一チャンネルへの直接参照。
	ConnectionKindChannel ConnectionKind = "channel"
	// ConnectionKindGroup はチャンネルグループへの参照。
	ConnectionKindGroup ConnectionKind = "group"
)
