package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ksato/multipost/internal/model"
)

// PostgresCampaignRepo はPostgreSQLを使用したキャンペーンリポジトリ。
type PostgresCampaignRepo struct {
	db *sql.DB
}

// NewPostgresCampaignRepo はPostgresCampaignRepoを生成する。
func NewPostgresCampaignRepo(db *sql.DB) *PostgresCampaignRepo {
	return &PostgresCampaignRepo{db: db}
}

// FindByID は指定IDのキャンペーンを取得する。見つからない場合はnilを返す。
func (r *PostgresCampaignRepo) FindByID(ctx context.Context, id string) (*model.Campaign, error) {
	campaign := &model.Campaign{}
	var sourceURL sql.NullString
	var startedAt, pausedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, status, source_kind, source_url,
		        repost_interval_minutes, max_repost_count,
		        started_at, paused_at, created_at, updated_at
		 FROM campaigns WHERE id = $1`,
		id,
	).Scan(
		&campaign.ID, &campaign.Name, &campaign.Status,
		&campaign.SourceKind, &sourceURL,
		&campaign.RepostIntervalMinutes, &campaign.MaxRepostCount,
		&startedAt, &pausedAt, &campaign.CreatedAt, &campaign.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キャンペーンの取得に失敗しました: %w", err)
	}

	campaign.SourceURL = nullStringValue(sourceURL)
	campaign.StartedAt = nullTimeValue(startedAt)
	campaign.PausedAt = nullTimeValue(pausedAt)

	return campaign, nil
}

// ListWithSource はコンテンツソースを持つrunningキャンペーンを返す。
func (r *PostgresCampaignRepo) ListWithSource(ctx context.Context) ([]*model.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, status, source_kind, source_url,
		        repost_interval_minutes, max_repost_count,
		        started_at, paused_at, created_at, updated_at
		 FROM campaigns
		 WHERE status = $1 AND source_kind <> $2 AND source_url IS NOT NULL
		 ORDER BY created_at`,
		model.CampaignStatusRunning, model.SourceKindNone,
	)
	if err != nil {
		return nil, fmt.Errorf("同期対象キャンペーンの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		campaign := &model.Campaign{}
		var sourceURL sql.NullString
		var startedAt, pausedAt sql.NullTime
		if err := rows.Scan(
			&campaign.ID, &campaign.Name, &campaign.Status,
			&campaign.SourceKind, &sourceURL,
			&campaign.RepostIntervalMinutes, &campaign.MaxRepostCount,
			&startedAt, &pausedAt, &campaign.CreatedAt, &campaign.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("キャンペーン行のスキャンに失敗しました: %w", err)
		}
		campaign.SourceURL = nullStringValue(sourceURL)
		campaign.StartedAt = nullTimeValue(startedAt)
		campaign.PausedAt = nullTimeValue(pausedAt)
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("同期対象キャンペーンの読み取りに失敗しました: %w", err)
	}

	return campaigns, nil
}

// ListConnections はキャンペーンのコネクション一覧を作成順で返す。
func (r *PostgresCampaignRepo) ListConnections(ctx context.Context, campaignID string) ([]*model.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, campaign_id, kind, target_id, created_at
		 FROM connections
		 WHERE campaign_id = $1
		 ORDER BY created_at, id`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("コネクション一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var conns []*model.Connection
	for rows.Next() {
		conn := &model.Connection{}
		if err := rows.Scan(
			&conn.ID, &conn.CampaignID, &conn.Kind, &conn.TargetID, &conn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("コネクション行のスキャンに失敗しました: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コネクション一覧の読み取りに失敗しました: %w", err)
	}

	return conns, nil
}

// UpdateLifecycle はキャンペーンのライフサイクル状態を更新する。
func (r *PostgresCampaignRepo) UpdateLifecycle(ctx context.Context, campaign *model.Campaign) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET
		    status = $2, started_at = $3, paused_at = $4, updated_at = $5
		 WHERE id = $1`,
		campaign.ID, campaign.Status,
		nullTimePtr(campaign.StartedAt), nullTimePtr(campaign.PausedAt),
		campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("キャンペーン状態の更新に失敗しました: %w", err)
	}
	return nil
}
