package model

import "time"

// Channel は単一の外部投稿先（1プロバイダー上の1アカウント）を表す。
// チャンネルの認証情報はコネクションサブシステム側が管理するため、
// 配信エンジンは読み取りのみを行う。
type Channel struct {
	ID          string
	Provider    string
	ChannelType string
	DisplayName string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChannelGroup は名前付きのチャンネル集合を表す。
// ディスパッチ時にメンバーチャンネルへ展開される。
type ChannelGroup struct {
	ID        string
	Name      string
	CreatedAt time.Time
}
