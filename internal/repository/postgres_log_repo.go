package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ksato/multipost/internal/model"
)

// PostgresCampaignLogRepo はPostgreSQLを使用した監査ログリポジトリ。追記専用。
type PostgresCampaignLogRepo struct {
	db *sql.DB
}

// NewPostgresCampaignLogRepo はPostgresCampaignLogRepoを生成する。
func NewPostgresCampaignLogRepo(db *sql.DB) *PostgresCampaignLogRepo {
	return &PostgresCampaignLogRepo{db: db}
}

// Append はログエントリを追記する。
func (r *PostgresCampaignLogRepo) Append(ctx context.Context, entry *model.CampaignLog) error {
	payload := entry.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ログペイロードのエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO campaign_logs (id, campaign_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.CampaignID, entry.EventType, b, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ログエントリの追記に失敗しました: %w", err)
	}
	return nil
}

// ListByCampaign はキャンペーンのログを新しい順で返す。
func (r *PostgresCampaignLogRepo) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*model.CampaignLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, campaign_id, event_type, payload, created_at
		 FROM campaign_logs
		 WHERE campaign_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		campaignID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ログ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []*model.CampaignLog
	for rows.Next() {
		entry := &model.CampaignLog{}
		var payload []byte
		if err := rows.Scan(
			&entry.ID, &entry.CampaignID, &entry.EventType, &payload, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ログ行のスキャンに失敗しました: %w", err)
		}
		if err := json.Unmarshal(payload, &entry.Payload); err != nil {
			return nil, fmt.Errorf("ログペイロードのデコードに失敗しました: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ログ一覧の読み取りに失敗しました: %w", err)
	}

	return entries, nil
}
