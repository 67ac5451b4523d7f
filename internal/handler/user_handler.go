package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/chartman/internal/model"
	"github.com/hitoshi/chartman/internal/repository"
)

// UserHandler はユーザー登録のHTTPハンドラー。
type UserHandler struct {
	users  repository.UserRepository
	logger *slog.Logger
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(users repository.UserRepository, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger,
	}
}

// registerUserRequest はユーザー登録リクエストのボディ。
type registerUserRequest struct {
	DiscordID      string `json:"discord_id"`
	LastfmUsername string `json:"lastfm_username"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID             string `json:"id"`
	DiscordID      string `json:"discord_id"`
	LastfmUsername string `json:"lastfm_username"`
	Indexed        bool   `json:"indexed"`
}

// RegisterUser はユーザー登録を処理する。
// POST /v1/users
// 登録直後のユーザーは未インデックスであり、次回の同期サイクルで
// フルリインデックスの対象となる。
func (h *UserHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST",
			"リクエストボディの解析に失敗しました。")
		return
	}

	if req.DiscordID == "" || req.LastfmUsername == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST",
			"discord_idとlastfm_usernameは必須です。")
		return
	}

	existing, err := h.users.FindByDiscordID(r.Context(), req.DiscordID)
	if err != nil {
		h.logger.Error("ユーザーの取得に失敗しました",
			slog.String("discord_id", req.DiscordID),
			slog.String("error", err.Error()),
		)
		writeInternalError(w)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "USER_EXISTS", "このDiscord IDは既に登録されています。")
		return
	}

	user := &model.User{
		DiscordID:      req.DiscordID,
		LastfmUsername: req.LastfmUsername,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		h.logger.Error("ユーザーの登録に失敗しました",
			slog.String("discord_id", req.DiscordID),
			slog.String("error", err.Error()),
		)
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{
		ID:             user.ID,
		DiscordID:      user.DiscordID,
		LastfmUsername: user.LastfmUsername,
		Indexed:        user.Indexed(),
	})
}
