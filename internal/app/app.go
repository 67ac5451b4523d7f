// Package app はアプリケーションの起動とワイヤリングを提供する。
// serve（API）、worker（同期パイプライン）、migrate、healthcheckの
// 4つのサブコマンドをサポートする。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/chartman/internal/alias"
	"github.com/hitoshi/chartman/internal/config"
	"github.com/hitoshi/chartman/internal/database"
	"github.com/hitoshi/chartman/internal/handler"
	"github.com/hitoshi/chartman/internal/logger"
	"github.com/hitoshi/chartman/internal/metrics"
	"github.com/hitoshi/chartman/internal/ranking"
	"github.com/hitoshi/chartman/internal/repository"
	"github.com/hitoshi/chartman/internal/source"
	syncpkg "github.com/hitoshi/chartman/internal/sync"
	"github.com/hitoshi/chartman/internal/worker/retention"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
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
// DB接続を開き、読み取り側の依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	aggRepo := repository.NewPostgresAggregateRepo(db)
	exclRepo := repository.NewPostgresExclusionRepo(db)
	guildRepo := repository.NewPostgresGuildRepo(db)

	// 3. ランキングエンジンの初期化
	rankingService := ranking.NewService(
		aggRepo, exclRepo, guildRepo, slog.Default(),
		ranking.Config{FraudWindow: cfg.FraudWindow},
	)

	// 4. メトリクスの初期化
	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)

	// 5. ルーターの構築
	// Queueは設定しない。同期ジョブの投入はワーカープロセスのAPIが受け付ける。
	// serveプロセスにはプールが存在せず、投入を受理しても実行できないため。
	deps := &handler.RouterDeps{
		Logger:         slog.Default(),
		DB:             db,
		MetricsHandler: metrics.Handler(reg),
		RankingService: rankingService,
		Users:          userRepo,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
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

// runWorker は同期ワーカーモードで起動する。
// DB接続を開き、同期スケジューラとワーカープールを起動する。
// ワーカープロセスは内部APIも公開し、手動の同期ジョブ投入を受け付ける。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	aggRepo := repository.NewPostgresAggregateRepo(db)
	aliasRepo := repository.NewPostgresAliasRepo(db)
	exclRepo := repository.NewPostgresExclusionRepo(db)
	guildRepo := repository.NewPostgresGuildRepo(db)

	// 3. メトリクスの初期化
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 4. 外部ソースクライアントの初期化
	sourceClient := source.NewClient(source.Config{
		APIKey:    cfg.LastfmAPIKey,
		BaseURL:   cfg.LastfmAPIURL,
		Timeout:   cfg.LastfmTimeout,
		RateLimit: cfg.LastfmRateLimit,
		RateBurst: cfg.LastfmRateBurst,
	}, slog.Default(), collector)

	// 5. エイリアスリゾルバの初期化（初回ロード失敗は恒等写像で継続）
	resolver := alias.NewResolver(aliasRepo, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	if err := resolver.Reload(ctx); err != nil {
		slog.Error("エイリアステーブルの初回ロードに失敗しました",
			slog.String("error", err.Error()),
		)
	}
	go resolver.StartReloadLoop(ctx, cfg.AliasReloadInterval)

	// 6. 同期エンジンの初期化
	reindexEngine := syncpkg.NewReindexEngine(
		sourceClient, resolver, userRepo, aggRepo, slog.Default(), collector,
		syncpkg.ReindexConfig{PageSize: cfg.TopPageSize, MaxPages: cfg.TopMaxPages},
	)
	incrementalEngine := syncpkg.NewIncrementalEngine(
		sourceClient, resolver, userRepo, aggRepo, slog.Default(), collector,
		syncpkg.IncrementalConfig{FetchLimit: cfg.RecentFetchLimit},
	)
	syncer := syncpkg.NewSyncer(userRepo, reindexEngine, incrementalEngine, slog.Default(), collector)

	// 7. キュー・プール・スケジューラの初期化
	queue := syncpkg.NewQueue()
	pool := syncpkg.NewPool(queue, syncer, slog.Default(), collector, syncpkg.PoolConfig{
		MaxConcurrentJobs: cfg.SyncMaxConcurrent,
		JobDelay:          cfg.SyncJobDelay,
		IdleBackoff:       cfg.SyncIdleBackoff,
	})
	scheduler := syncpkg.NewScheduler(userRepo, queue, slog.Default(), syncpkg.SchedulerConfig{
		Interval:   cfg.SyncInterval,
		StaleAfter: cfg.SyncStaleAfter,
		DueLimit:   cfg.SyncDueLimit,
	})

	// 8. 除外リスト整理ジョブの初期化
	retentionJob := retention.NewJob(exclRepo, slog.Default())
	retentionJob.FraudWindow = cfg.FraudWindow

	// 9. ランキングエンジンと内部API（ワーカープロセスでも照会と手動投入を受け付ける）
	rankingService := ranking.NewService(
		aggRepo, exclRepo, guildRepo, slog.Default(),
		ranking.Config{FraudWindow: cfg.FraudWindow},
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		DB:             db,
		MetricsHandler: metrics.Handler(reg),
		RankingService: rankingService,
		Users:          userRepo,
		Queue:          queue,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("worker API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
	)

	// スケジューラをバックグラウンドで起動
	go scheduler.Start(ctx)

	// 除外リスト整理ジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := retentionJob.Run(ctx); err != nil {
			slog.Error("retention job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := retentionJob.Run(ctx); err != nil {
					slog.Error("retention job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// ワーカープールをメインgoroutineで実行（ブロッキング）
	// キャンセル時は実行中のジョブの完了を待ってから戻る
	pool.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker API server shutdown failed", slog.String("error", err.Error()))
	}

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
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できないURLは全体をマスクして返す。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
