package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chartman/internal/model"
	"github.com/hitoshi/chartman/internal/ranking"
)

// RankingServiceInterface はランキングハンドラーが必要とするサービスインターフェース。
type RankingServiceInterface interface {
	// Global は全登録ユーザーを対象としたリーダーボードを構築する。
	Global(ctx context.Context, key model.EntityKey, requesterID string) (*ranking.Result, error)
	// Guild は指定メンバーシップを対象としたリーダーボードを構築する。
	Guild(ctx context.Context, key model.EntityKey, guildID string, members []model.GuildMember, requesterID string) (*ranking.Result, error)
}

// RankHandler はランキング照会のHTTPハンドラー。
type RankHandler struct {
	service RankingServiceInterface
	logger  *slog.Logger
}

// NewRankHandler はRankHandlerを生成する。
func NewRankHandler(service RankingServiceInterface, logger *slog.Logger) *RankHandler {
	return &RankHandler{
		service: service,
		logger:  logger,
	}
}

// Rank はリーダーボード照会を処理する。
// GET /v1/rank/{class}?artist=&album=&track=&requester=&guild=&member=...
// guildパラメータが存在する場合はギルドスコープ照会となり、
// memberパラメータ（複数指定可）で対象メンバーシップを受け取る。
func (h *RankHandler) Rank(w http.ResponseWriter, r *http.Request) {
	class := chi.URLParam(r, "class")
	q := r.URL.Query()

	key, ok := entityKeyFromQuery(class, q.Get("artist"), q.Get("album"), q.Get("track"))
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ENTITY_KEY",
			"エンティティ種別とクエリパラメータの組み合わせが不正です。")
		return
	}

	requesterID := q.Get("requester")
	guildID := q.Get("guild")

	var result *ranking.Result
	var err error

	if guildID != "" {
		memberIDs := q["member"]
		members := make([]model.GuildMember, 0, len(memberIDs))
		for _, id := range memberIDs {
			members = append(members, model.GuildMember{UserID: id})
		}
		result, err = h.service.Guild(r.Context(), key, guildID, members, requesterID)
	} else {
		result, err = h.service.Global(r.Context(), key, requesterID)
	}

	if err != nil {
		h.logger.Error("ランキング照会に失敗しました",
			slog.String("class", class),
			slog.String("error", err.Error()),
		)
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// entityKeyFromQuery はパスのエンティティ種別とクエリパラメータを検証し、
// ランキング照会用のエンティティキーを構築する。
func entityKeyFromQuery(class, artist, album, track string) (model.EntityKey, bool) {
	if artist == "" {
		return model.EntityKey{}, false
	}

	switch model.EntityClass(class) {
	case model.EntityClassArtist:
		if album != "" || track != "" {
			return model.EntityKey{}, false
		}
		return model.EntityKey{Artist: artist}, true
	case model.EntityClassAlbum:
		if album == "" || track != "" {
			return model.EntityKey{}, false
		}
		return model.EntityKey{Artist: artist, Album: album}, true
	case model.EntityClassTrack:
		if track == "" || album != "" {
			return model.EntityKey{}, false
		}
		return model.EntityKey{Artist: artist, Track: track}, true
	default:
		return model.EntityKey{}, false
	}
}
