package model

import "time"

// CampaignLog はキャンペーン/アイテムの状態遷移ごとに追記される監査ログエントリ。
// 作成後は変更されず、制御フローには一切使用されない（観測専用）。
type CampaignLog struct {
	ID         string
	CampaignID string
	EventType  LogEventType
	Payload    map[string]any
	CreatedAt  time.Time
}

// LogEventType は監査ログのイベント種別を表す。
type LogEventType string

const (
	// EventCampaignSynced はコンテンツソース同期の完了イベント。
	EventCampaignSynced LogEventType = "campaign_synced"
	// EventPostPublished はアイテムの投稿成功イベント（部分成功を含む）。
	EventPostPublished LogEventType = "post_published"
	// EventPostFailed はアイテムの投稿失敗イベント。
	EventPostFailed LogEventType = "post_failed"
	// EventPostSkipped は空ペイロードによるスキップイベント。
	EventPostSkipped LogEventType = "post_skipped"
)
