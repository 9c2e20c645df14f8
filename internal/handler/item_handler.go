package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ksato/multipost/internal/middleware"
	"github.com/ksato/multipost/internal/model"
)

// ContentItemReader はコンテンツアイテムの読み取りインターフェース。
type ContentItemReader interface {
	FindByID(ctx context.Context, id string) (*model.ContentItem, error)
}

// ItemHandler はコンテンツアイテム照会のHTTPハンドラー。
type ItemHandler struct {
	items  ContentItemReader
	logger *slog.Logger
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(items ContentItemReader, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{
		items:  items,
		logger: logger,
	}
}

// itemResponse はコンテンツアイテムのレスポンス。
type itemResponse struct {
	ID              string                         `json:"id"`
	CampaignID      string                         `json:"campaign_id"`
	SourceRef       string                         `json:"source_ref,omitempty"`
	Caption         string                         `json:"caption"`
	MediaURLs       []string                       `json:"media_urls"`
	Status          string                         `json:"status"`
	ErrorMessage    string                         `json:"error_message,omitempty"`
	ExternalPostIDs map[string]model.ChannelResult `json:"external_post_ids,omitempty"`
	AttemptCount    int                            `json:"attempt_count"`
	NextAttemptAt   *time.Time                     `json:"next_attempt_at,omitempty"`
	PublishedAt     *time.Time                     `json:"published_at,omitempty"`
	CreatedAt       time.Time                      `json:"created_at"`
	UpdatedAt       time.Time                      `json:"updated_at"`
}

// GetItem はコンテンツアイテムの詳細を返す。
// GET /api/items/:id
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	item, err := h.items.FindByID(r.Context(), itemID)
	if err != nil {
		h.logger.Error("アイテムの取得に失敗しました",
			slog.String("item_id", itemID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	if item == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "ITEM_NOT_FOUND", "アイテムが見つかりません。")
		return
	}

	writeJSON(w, http.StatusOK, itemResponse{
		ID:              item.ID,
		CampaignID:      item.CampaignID,
		SourceRef:       item.SourceRef,
		Caption:         item.Caption,
		MediaURLs:       item.MediaURLs,
		Status:          string(item.Status),
		ErrorMessage:    item.ErrorMessage,
		ExternalPostIDs: item.ExternalPostIDs,
		AttemptCount:    item.AttemptCount,
		NextAttemptAt:   item.NextAttemptAt,
		PublishedAt:     item.PublishedAt,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	})
}
