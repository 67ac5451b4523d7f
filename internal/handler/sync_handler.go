package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chartman/internal/model"
	"github.com/hitoshi/chartman/internal/repository"
)

// JobEnqueuer は同期ジョブの投入インターフェース。
type JobEnqueuer interface {
	// Enqueue はジョブをキューへ投入する。重複の場合はfalseを返す。
	Enqueue(job model.SyncJob) bool
	// Depth はキュー内の待機ジョブ数を返す。
	Depth() int
}

// SyncHandler は同期ジョブ投入とキュー状態照会のHTTPハンドラー。
type SyncHandler struct {
	users  repository.UserRepository
	queue  JobEnqueuer
	logger *slog.Logger
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(users repository.UserRepository, queue JobEnqueuer, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		users:  users,
		queue:  queue,
		logger: logger,
	}
}

// enqueueResponse は同期ジョブ投入のAPIレスポンス。
type enqueueResponse struct {
	Enqueued bool   `json:"enqueued"`
	Mode     string `json:"mode"`
}

// queueResponse はキュー状態のAPIレスポンス。
type queueResponse struct {
	Depth int `json:"depth"`
}

// TriggerSync は指定ユーザーの同期ジョブ投入を処理する。
// POST /v1/users/{id}/sync?mode=reindex|incremental
// modeを省略した場合、インデックス済みのユーザーは増分同期となる。
// 同一ユーザーのジョブが既にキューまたは実行中の場合、投入はスキップされる（202で通知）。
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		h.logger.Error("ユーザーの取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeInternalError(w)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "指定されたユーザーは存在しません。")
		return
	}

	var mode model.SyncMode
	switch r.URL.Query().Get("mode") {
	case "reindex":
		mode = model.SyncModeReindex
	case "incremental":
		mode = model.SyncModeIncremental
	case "":
		mode = model.SyncModeIncremental
		if !user.Indexed() {
			mode = model.SyncModeReindex
		}
	default:
		writeError(w, http.StatusBadRequest, "INVALID_MODE",
			"modeはreindexまたはincrementalを指定してください。")
		return
	}

	enqueued := h.queue.Enqueue(model.SyncJob{UserID: user.ID, Mode: mode})

	writeJSON(w, http.StatusAccepted, enqueueResponse{
		Enqueued: enqueued,
		Mode:     string(mode),
	})
}

// QueueStatus はキュー状態照会を処理する。
// GET /v1/queue
func (h *SyncHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, queueResponse{Depth: h.queue.Depth()})
}
