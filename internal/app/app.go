// Package app はアプリケーションの起動モードごとの組み立てを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ksato/multipost/internal/audit"
	campaignpkg "github.com/ksato/multipost/internal/campaign"
	channelpkg "github.com/ksato/multipost/internal/channel"
	"github.com/ksato/multipost/internal/config"
	"github.com/ksato/multipost/internal/content"
	"github.com/ksato/multipost/internal/database"
	"github.com/ksato/multipost/internal/handler"
	"github.com/ksato/multipost/internal/logger"
	"github.com/ksato/multipost/internal/metrics"
	"github.com/ksato/multipost/internal/poster"
	"github.com/ksato/multipost/internal/queue"
	"github.com/ksato/multipost/internal/repository"
	"github.com/ksato/multipost/internal/security"
	"github.com/ksato/multipost/internal/worker/dispatch"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、ライフサイクル操作・監査ログ照会のエンドポイントを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	campaignRepo := repository.NewPostgresCampaignRepo(db)
	itemRepo := repository.NewPostgresContentItemRepo(db)
	logRepo := repository.NewPostgresCampaignLogRepo(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	auditLogger := audit.NewLogger(logRepo, slog.Default())

	sourceGuard := security.NewSourceURLGuard()
	sourceFetcher := campaignpkg.NewHTTPSourceFetcher(sourceGuard, cfg.SyncTimeout, cfg.SyncMaxSize)
	campaignService := campaignpkg.NewService(
		campaignRepo, itemRepo, sourceFetcher, auditLogger, collector, slog.Default(),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		CampaignService: campaignService,
		CampaignLogs:    logRepo,
		Items:           itemRepo,
		MetricsHandler:  metrics.Handler(registry),
		Logger:          slog.Default(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はディスパッチワーカーモードで起動する。
// スケジューラ、ジョブコンシューマ、コンテンツソース同期を起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	dispatchQueue, err := queue.Dial(cfg.AMQPURL, cfg.DispatchQueue, cfg.DispatchMaxConcurrent, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to connect to message broker: %w", err)
	}
	defer dispatchQueue.Close()

	slog.Info("message broker connection established")

	campaignRepo := repository.NewPostgresCampaignRepo(db)
	channelRepo := repository.NewPostgresChannelRepo(db)
	itemRepo := repository.NewPostgresContentItemRepo(db)
	logRepo := repository.NewPostgresCampaignLogRepo(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	auditLogger := audit.NewLogger(logRepo, slog.Default())

	channelResolver := channelpkg.NewResolver(channelRepo)
	payloadResolver := content.NewResolver()
	gatewayPoster := poster.NewGatewayPoster(
		cfg.GatewayBaseURL, cfg.PostTimeout, cfg.GatewayRatePerSec, cfg.GatewayBurst, slog.Default(),
	)

	orchestrator := dispatch.NewOrchestrator(
		campaignRepo, itemRepo, channelResolver, payloadResolver,
		gatewayPoster, auditLogger, collector,
		dispatch.Policy{
			MaxAttempts:   cfg.MaxAttempts,
			RetryDeadline: cfg.RetryDeadline,
		},
		slog.Default(),
	)

	consumer := dispatch.NewConsumer(
		orchestrator, itemRepo, collector, cfg.AttemptTimeout, cfg.MaxAttempts, slog.Default(),
	)

	scheduler := dispatch.NewScheduler(itemRepo, dispatchQueue, cfg.DispatchInterval, slog.Default())

	sourceGuard := security.NewSourceURLGuard()
	sourceFetcher := campaignpkg.NewHTTPSourceFetcher(sourceGuard, cfg.SyncTimeout, cfg.SyncMaxSize)
	campaignService := campaignpkg.NewService(
		campaignRepo, itemRepo, sourceFetcher, auditLogger, collector, slog.Default(),
	)
	syncer := campaignpkg.NewSyncer(campaignRepo, campaignService, cfg.SyncInterval, cfg.SyncTimeout, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("dispatch_interval", cfg.DispatchInterval),
		slog.Int("max_concurrent", cfg.DispatchMaxConcurrent),
		slog.Duration("sync_interval", cfg.SyncInterval),
	)

	// コンテンツソース同期をバックグラウンドで起動
	go syncer.Run(ctx)

	// ジョブコンシューマをバックグラウンドで起動
	go func() {
		if err := dispatchQueue.Consume(ctx, cfg.DispatchMaxConcurrent, consumer.HandleJob); err != nil {
			slog.Error("job consumer stopped", slog.String("error", err.Error()))
			cancel()
		}
	}()

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Run(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
