package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ksato/multipost/internal/model"
)

// PostgresChannelRepo はPostgreSQLを使用したチャンネルリポジトリ。読み取り専用。
type PostgresChannelRepo struct {
	db *sql.DB
}

// NewPostgresChannelRepo はPostgresChannelRepoを生成する。
func NewPostgresChannelRepo(db *sql.DB) *PostgresChannelRepo {
	return &PostgresChannelRepo{db: db}
}

// ListByIDs は指定IDのチャンネルを入力順を保って返す。
// 存在しないIDは結果から除外される。
func (r *PostgresChannelRepo) ListByIDs(ctx context.Context, ids []string) ([]*model.Channel, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, provider, channel_type, display_name, is_active, created_at, updated_at
		 FROM channels
		 WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("チャンネル一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*model.Channel, len(ids))
	for rows.Next() {
		ch := &model.Channel{}
		if err := rows.Scan(
			&ch.ID, &ch.Provider, &ch.ChannelType, &ch.DisplayName,
			&ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("チャンネル行のスキャンに失敗しました: %w", err)
		}
		byID[ch.ID] = ch
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("チャンネル一覧の読み取りに失敗しました: %w", err)
	}

	// 入力順を保って並べ直す
	channels := make([]*model.Channel, 0, len(byID))
	for _, id := range ids {
		if ch, ok := byID[id]; ok {
			channels = append(channels, ch)
		}
	}

	return channels, nil
}

// ListGroupMemberIDs はグループのメンバーチャンネルIDをposition順で返す。
func (r *PostgresChannelRepo) ListGroupMemberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT channel_id FROM channel_group_members
		 WHERE group_id = $1
		 ORDER BY position, channel_id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("グループメンバーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("グループメンバー行のスキャンに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("グループメンバーの読み取りに失敗しました: %w", err)
	}

	return ids, nil
}
