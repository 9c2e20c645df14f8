package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ksato/multipost/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	CampaignService CampaignServiceInterface
	CampaignLogs    CampaignLogReader
	Items           ContentItemReader
	MetricsHandler  http.Handler
	Logger          *slog.Logger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを
// 構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	campaignHandler := NewCampaignHandler(deps.CampaignService, deps.CampaignLogs, deps.Logger)
	itemHandler := NewItemHandler(deps.Items, deps.Logger)

	// ヘルスチェック（ロードバランサー用）
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheusメトリクス
	r.Handle("/metrics", deps.MetricsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Post("/start", campaignHandler.Start)
			r.Post("/pause", campaignHandler.Pause)
			r.Post("/resume", campaignHandler.Resume)
			r.Post("/sync", campaignHandler.Sync)
			r.Get("/logs", campaignHandler.ListLogs)
		})

		r.Get("/items/{id}", itemHandler.GetItem)
	})

	return r
}
