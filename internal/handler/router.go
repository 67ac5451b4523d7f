package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chartman/internal/middleware"
	"github.com/hitoshi/chartman/internal/repository"
)

// Pinger はデータベースの死活確認インターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// データベース死活確認
	DB Pinger

	// メトリクスエンドポイント
	MetricsHandler http.Handler

	// ランキング
	RankingService RankingServiceInterface

	// 同期
	// Queueはワーカープロセスのみが設定する。nilの場合、同期ジョブ投入と
	// キュー状態のルートは登録されない（プロセス内にプールが存在しないため、
	// 投入を受理しても実行されない）。
	Users repository.UserRepository
	Queue JobEnqueuer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	rankHandler := NewRankHandler(deps.RankingService, deps.Logger)
	userHandler := NewUserHandler(deps.Users, deps.Logger)

	// 死活監視
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.DB != nil {
			if err := deps.DB.PingContext(req.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE",
					"データベースに接続できません。")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Prometheusメトリクス
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// ランキング照会
		r.Get("/rank/{class}", rankHandler.Rank)

		// ユーザー登録
		r.Post("/users", userHandler.RegisterUser)

		// 同期ジョブ投入とキュー状態（ワーカープロセスのみ）
		if deps.Queue != nil {
			syncHandler := NewSyncHandler(deps.Users, deps.Queue, deps.Logger)
			r.Post("/users/{id}/sync", syncHandler.TriggerSync)
			r.Get("/queue", syncHandler.QueueStatus)
		}
	})

	return r
}
