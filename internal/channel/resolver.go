// Package channel はキャンペーンのコネクション一覧から
// 投稿先チャンネル集合を解決する機能を提供する。
package channel

import (
	"context"
	"fmt"

	"github.com/ksato/multipost/internal/model"
	"github.com/ksato/multipost/internal/repository"
)

// Resolver はコネクション一覧をアクティブなチャンネル一覧へ展開する。
// グループは展開時にメンバーへ分解され、同一チャンネルへの重複参照は
// ID単位で排除される（直接参照とグループ経由の両方で届く場合も投稿は1回）。
type Resolver struct {
	channelRepo repository.ChannelRepository
}

// NewResolver はResolverを生成する。
func NewResolver(channelRepo repository.ChannelRepository) *Resolver {
	return &Resolver{channelRepo: channelRepo}
}

// Resolve はコネクション一覧からアクティブなチャンネルの順序付きリストを返す。
// 順序はコネクションの出現順（グループはposition順に展開）を保つ。
// 空の結果はエラーではなく正常な出力であり、扱いは呼び出し側が決める。
func (r *Resolver) Resolve(ctx context.Context, connections []*model.Connection) ([]*model.Channel, error) {
	var candidateIDs []string
	seen := make(map[string]bool)

	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			candidateIDs = append(candidateIDs, id)
		}
	}

	for _, conn := range connections {
		switch conn.Kind {
		case model.ConnectionKindChannel:
			add(conn.TargetID)
		case model.ConnectionKindGroup:
			memberIDs, err := r.channelRepo.ListGroupMemberIDs(ctx, conn.TargetID)
			if err != nil {
				return nil, fmt.Errorf("グループ %s の展開に失敗しました: %w", conn.TargetID, err)
			}
			for _, id := range memberIDs {
				add(id)
			}
		default:
			// 未知のコネクション種別は無視する
		}
	}

	if len(candidateIDs) == 0 {
		return nil, nil
	}

	channels, err := r.channelRepo.ListByIDs(ctx, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("チャンネルの取得に失敗しました: %w", err)
	}

	active := make([]*model.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.IsActive {
			active = append(active, ch)
		}
	}

	return active, nil
}
