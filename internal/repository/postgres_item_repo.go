package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ksato/multipost/internal/model"
)

// PostgresContentItemRepo はPostgreSQLを使用したコンテンツアイテムリポジトリ。
type PostgresContentItemRepo struct {
	db *sql.DB
}

// NewPostgresContentItemRepo はPostgresContentItemRepoを生成する。
func NewPostgresContentItemRepo(db *sql.DB) *PostgresContentItemRepo {
	return &PostgresContentItemRepo{db: db}
}

// itemColumns はcontent_itemsのSELECT対象カラム。Scanの順序と一致させること。
const itemColumns = `id, campaign_id, source_ref, caption, media_urls,
	status, error_message, external_post_ids, attempt_count,
	first_attempted_at, next_attempt_at, scheduled_at, published_at,
	created_at, updated_at`

// scanItem は1行をContentItemへスキャンする。
func scanItem(row interface{ Scan(dest ...any) error }) (*model.ContentItem, error) {
	item := &model.ContentItem{}
	var mediaURLs, externalPostIDs []byte
	var firstAttemptedAt, nextAttemptAt, scheduledAt, publishedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.CampaignID, &item.SourceRef, &item.Caption, &mediaURLs,
		&item.Status, &item.ErrorMessage, &externalPostIDs, &item.AttemptCount,
		&firstAttemptedAt, &nextAttemptAt, &scheduledAt, &publishedAt,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(mediaURLs, &item.MediaURLs); err != nil {
		return nil, fmt.Errorf("media_urlsのデコードに失敗しました: %w", err)
	}
	if err := json.Unmarshal(externalPostIDs, &item.ExternalPostIDs); err != nil {
		return nil, fmt.Errorf("external_post_idsのデコードに失敗しました: %w", err)
	}

	item.FirstAttemptedAt = nullTimeValue(firstAttemptedAt)
	item.NextAttemptAt = nullTimeValue(nextAttemptAt)
	item.ScheduledAt = nullTimeValue(scheduledAt)
	item.PublishedAt = nullTimeValue(publishedAt)

	return item, nil
}

// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
func (r *PostgresContentItemRepo) FindByID(ctx context.Context, id string) (*model.ContentItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM content_items WHERE id = $1`, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	return item, nil
}

// Create はアイテムを作成する。
func (r *PostgresContentItemRepo) Create(ctx context.Context, item *model.ContentItem) error {
	mediaURLs, err := json.Marshal(item.MediaURLs)
	if err != nil {
		return fmt.Errorf("media_urlsのエンコードに失敗しました: %w", err)
	}
	externalPostIDs, err := marshalResults(item.ExternalPostIDs)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO content_items (id, campaign_id, source_ref, caption, media_urls,
		                            status, error_message, external_post_ids, attempt_count,
		                            first_attempted_at, next_attempt_at, scheduled_at, published_at,
		                            created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		item.ID, item.CampaignID, item.SourceRef, item.Caption, mediaURLs,
		item.Status, item.ErrorMessage, externalPostIDs, item.AttemptCount,
		nullTimePtr(item.FirstAttemptedAt), nullTimePtr(item.NextAttemptAt),
		nullTimePtr(item.ScheduledAt), nullTimePtr(item.PublishedAt),
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アイテムの作成に失敗しました: %w", err)
	}
	return nil
}

// ListSourceRefs はキャンペーンの既存アイテムのsource_ref集合を返す。
func (r *PostgresContentItemRepo) ListSourceRefs(ctx context.Context, campaignID string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT source_ref FROM content_items
		 WHERE campaign_id = $1 AND source_ref <> ''`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("source_ref一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]bool)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("source_ref行のスキャンに失敗しました: %w", err)
		}
		refs[ref] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source_ref一覧の読み取りに失敗しました: %w", err)
	}

	return refs, nil
}

// ClaimDue はディスパッチ対象のアイテムを排他的にクレームする。
// FOR UPDATE SKIP LOCKEDにより複数ワーカー間で二重クレームが発生しない。
// クレームされたアイテムはscheduledへ遷移し、next_attempt_atがクリアされる。
func (r *PostgresContentItemRepo) ClaimDue(ctx context.Context, limit int) ([]*model.ContentItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE content_items SET
		    status = 'scheduled', scheduled_at = now(), next_attempt_at = NULL, updated_at = now()
		 WHERE id IN (
		    SELECT i.id FROM content_items i
		    JOIN campaigns c ON c.id = i.campaign_id
		    WHERE c.status = 'running'
		      AND (
		        i.status = 'pending'
		        OR (i.status = 'scheduled' AND i.next_attempt_at IS NOT NULL AND i.next_attempt_at <= now())
		      )
		    ORDER BY i.created_at
		    LIMIT $1
		    FOR UPDATE OF i SKIP LOCKED
		 )
		 RETURNING `+itemColumns,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ディスパッチ対象のクレームに失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("クレーム行のスキャンに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("クレーム結果の読み取りに失敗しました: %w", err)
	}

	return items, nil
}

// UpdateDispatchState はディスパッチ結果を書き込む。
func (r *PostgresContentItemRepo) UpdateDispatchState(ctx context.Context, item *model.ContentItem) error {
	externalPostIDs, err := marshalResults(item.ExternalPostIDs)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE content_items SET
		    status = $2, error_message = $3, external_post_ids = $4,
		    attempt_count = $5, first_attempted_at = $6, next_attempt_at = $7,
		    published_at = $8, updated_at = $9
		 WHERE id = $1`,
		item.ID, item.Status, item.ErrorMessage, externalPostIDs,
		item.AttemptCount, nullTimePtr(item.FirstAttemptedAt), nullTimePtr(item.NextAttemptAt),
		nullTimePtr(item.PublishedAt), item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ディスパッチ状態の更新に失敗しました: %w", err)
	}
	return nil
}

// ResetToPending はアイテムをpendingへ戻す。
func (r *PostgresContentItemRepo) ResetToPending(ctx context.Context, itemID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE content_items SET
		    status = 'pending', scheduled_at = NULL, next_attempt_at = NULL, updated_at = now()
		 WHERE id = $1`,
		itemID,
	)
	if err != nil {
		return fmt.Errorf("アイテムのpendingへの返却に失敗しました: %w", err)
	}
	return nil
}

// CountUnfinished はキャンペーンの未終端アイテム数を返す。
func (r *PostgresContentItemRepo) CountUnfinished(ctx context.Context, campaignID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_items
		 WHERE campaign_id = $1 AND status IN ('pending', 'scheduled')`,
		campaignID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未終端アイテム数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// marshalResults はexternal_post_idsマップをJSONBへ書き込める形にエンコードする。
// nilマップは空オブジェクトとして保存する。
func marshalResults(results map[string]model.ChannelResult) ([]byte, error) {
	if results == nil {
		results = map[string]model.ChannelResult{}
	}
	b, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("external_post_idsのエンコードに失敗しました: %w", err)
	}
	return b, nil
}
