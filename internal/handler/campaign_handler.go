// Package handler はREST APIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ksato/multipost/internal/campaign"
	"github.com/ksato/multipost/internal/middleware"
	"github.com/ksato/multipost/internal/model"
)

// defaultLogsPerPage は監査ログ一覧の1回の取得件数。
const defaultLogsPerPage = 100

// CampaignServiceInterface はキャンペーンハンドラーが必要とするサービスインターフェース。
type CampaignServiceInterface interface {
	Start(ctx context.Context, campaignID string) (*model.Campaign, error)
	Pause(ctx context.Context, campaignID string) (*model.Campaign, error)
	Resume(ctx context.Context, campaignID string) (*model.Campaign, error)
	Sync(ctx context.Context, campaignID string) (int, error)
}

// CampaignLogReader は監査ログの読み取りインターフェース。
type CampaignLogReader interface {
	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*model.CampaignLog, error)
}

// CampaignHandler はキャンペーンライフサイクル操作のHTTPハンドラー。
type CampaignHandler struct {
	service CampaignServiceInterface
	logs    CampaignLogReader
	logger  *slog.Logger
}

// NewCampaignHandler はCampaignHandlerを生成する。
func NewCampaignHandler(service CampaignServiceInterface, logs CampaignLogReader, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{
		service: service,
		logs:    logs,
		logger:  logger,
	}
}

// campaignResponse はキャンペーンのレスポンス。
type campaignResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	SourceKind string     `json:"source_kind"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	PausedAt   *time.Time `json:"paused_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// syncResponse は同期操作のレスポンス。
type syncResponse struct {
	CampaignID string `json:"campaign_id"`
	ItemsAdded int    `json:"items_added"`
}

// logEntryResponse は監査ログ1件のレスポンス。
type logEntryResponse struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Start はキャンペーンを開始する。
// POST /api/campaigns/:id/start
func (h *CampaignHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Start)
}

// Pause はキャンペーンを一時停止する。
// POST /api/campaigns/:id/pause
func (h *CampaignHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Pause)
}

// Resume はキャンペーンを再開する。
// POST /api/campaigns/:id/resume
func (h *CampaignHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.service.Resume)
}

// lifecycle はライフサイクル操作の共通処理。
func (h *CampaignHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, campaignID string) (*model.Campaign, error)) {
	campaignID := chi.URLParam(r, "id")

	result, err := op(r.Context(), campaignID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCampaignResponse(result))
}

// Sync はキャンペーンのコンテンツソースを同期する。
// POST /api/campaigns/:id/sync
func (h *CampaignHandler) Sync(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	added, err := h.service.Sync(r.Context(), campaignID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{
		CampaignID: campaignID,
		ItemsAdded: added,
	})
}

// ListLogs はキャンペーンの監査ログを新しい順で返す。
// GET /api/campaigns/:id/logs
func (h *CampaignHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")

	entries, err := h.logs.ListByCampaign(r.Context(), campaignID, defaultLogsPerPage)
	if err != nil {
		h.logger.Error("監査ログの取得に失敗しました",
			slog.String("campaign_id", campaignID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	responses := make([]logEntryResponse, 0, len(entries))
	for _, e := range entries {
		responses = append(responses, logEntryResponse{
			ID:        e.ID,
			EventType: string(e.EventType),
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"logs": responses})
}

// handleServiceError はサービスエラーをHTTPステータスへ変換する。
func (h *CampaignHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrCampaignNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, "CAMPAIGN_NOT_FOUND", "キャンペーンが見つかりません。")
	case errors.Is(err, campaign.ErrInvalidTransition):
		middleware.WriteErrorResponse(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, campaign.ErrNoContentSource):
		middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity, "NO_CONTENT_SOURCE", "キャンペーンはコンテンツソースを持ちません。")
	default:
		h.logger.Error("キャンペーン操作に失敗しました",
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}

// toCampaignResponse はモデルをレスポンス型へ変換する。
func toCampaignResponse(c *model.Campaign) campaignResponse {
	return campaignResponse{
		ID:         c.ID,
		Name:       c.Name,
		Status:     string(c.Status),
		SourceKind: string(c.SourceKind),
		StartedAt:  c.StartedAt,
		PausedAt:   c.PausedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
