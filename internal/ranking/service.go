// Package ranking は集計ストアの読み取り側であり、
// 再生数の多い順のリーダーボードを構築する。
// 除外リスト（BAN・不正フラグ）とギルド設定によるフィルタリングを含む。
package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/chartman/internal/model"
	"github.com/hitoshi/chartman/internal/repository"
)

// Entry はリーダーボードの1行。
type Entry struct {
	UserID         string `json:"user_id"`
	LastfmUsername string `json:"lastfm_username"`
	Playcount      int64  `json:"playcount"`
	Rank           int    `json:"rank"`
}

// Result はランキング照会の結果。
// RequesterRankは照会者の1始まりの順位で、除外・不在の場合はnil。
type Result struct {
	Entries       []Entry `json:"entries"`
	RequesterRank *int    `json:"requester_rank,omitempty"`
}

// Config はランキングエンジンの設定パラメータ。
type Config struct {
	// FraudWindow は不正フラグを有効とみなす期間（デフォルト: 90日）。
	FraudWindow time.Duration
}

// DefaultConfig はデフォルトのランキング設定を返す。
func DefaultConfig() Config {
	return Config{
		FraudWindow: 90 * 24 * time.Hour,
	}
}

// Service はランキングエンジン。集計ストアに対して読み取り専用であり、
// 同期パイプラインの書き込みとは一切干渉しない。
type Service struct {
	aggregates repository.AggregateRepository
	exclusions repository.ExclusionRepository
	guilds     repository.GuildRepository
	logger     *slog.Logger
	config     Config
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	aggregates repository.AggregateRepository,
	exclusions repository.ExclusionRepository,
	guilds repository.GuildRepository,
	logger *slog.Logger,
	config Config,
) *Service {
	if config.FraudWindow <= 0 {
		config.FraudWindow = 90 * 24 * time.Hour
	}
	return &Service{
		aggregates: aggregates,
		exclusions: exclusions,
		guilds:     guilds,
		logger:     logger,
		config:     config,
	}
}

// Global は全登録ユーザーを対象としたリーダーボードを構築する。
// requesterIDが空の場合、照会者順位の算出は行わない。
func (s *Service) Global(ctx context.Context, key model.EntityKey, requesterID string) (*Result, error) {
	rows, err := s.aggregates.GlobalRankRows(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("ランキング行の取得に失敗しました: %w", err)
	}

	excluded, err := s.exclusions.ExcludedUsernames(ctx, time.Now(), s.config.FraudWindow)
	if err != nil {
		return nil, fmt.Errorf("除外リストの取得に失敗しました: %w", err)
	}

	return s.rank(rows, excluded, requesterID), nil
}

// Guild は指定メンバーシップを対象としたリーダーボードを構築する。
// ギルド設定のアクティビティ閾値・プライバシーフロア・
// ユーザー単位のブロック/非表示フラグを適用した上で、Globalと同一の手順でランク付けする。
func (s *Service) Guild(ctx context.Context, key model.EntityKey, guildID string, members []model.GuildMember, requesterID string) (*Result, error) {
	if len(members) == 0 {
		return &Result{Entries: []Entry{}}, nil
	}

	userIDs := make([]string, 0, len(members))
	for _, m := range members {
		userIDs = append(userIDs, m.UserID)
	}

	rows, err := s.aggregates.RankRowsForUsers(ctx, key, userIDs)
	if err != nil {
		return nil, fmt.Errorf("ランキング行の取得に失敗しました: %w", err)
	}

	excluded, err := s.exclusions.ExcludedUsernames(ctx, time.Now(), s.config.FraudWindow)
	if err != nil {
		return nil, fmt.Errorf("除外リストの取得に失敗しました: %w", err)
	}

	settings, err := s.guilds.FindSettings(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("ギルド設定の取得に失敗しました: %w", err)
	}

	blocked, err := s.guilds.BlockedUsers(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("ブロックリストの取得に失敗しました: %w", err)
	}

	rows = s.applyGuildScope(rows, settings, blocked)

	return s.rank(rows, excluded, requesterID), nil
}

// applyGuildScope はギルド固有のフィルタを適用する。
func (s *Service) applyGuildScope(rows []repository.RankRow, settings *model.GuildSettings, blocked map[string]model.GuildBlockKind) []repository.RankRow {
	var threshold *time.Time
	var floor int64
	if settings != nil {
		if settings.ActivityThresholdDays != nil {
			t := time.Now().AddDate(0, 0, -*settings.ActivityThresholdDays)
			threshold = &t
		}
		floor = int64(settings.PrivacyFloor)
	}

	filtered := rows[:0]
	for _, row := range rows {
		if _, ok := blocked[row.UserID]; ok {
			continue
		}
		// アクティビティ閾値: 最終再生がギルドの許容期間より古いメンバーは除外する
		if threshold != nil {
			if row.LastScrobbleUpdate == nil || row.LastScrobbleUpdate.Before(*threshold) {
				continue
			}
		}
		if floor > 0 && row.Playcount < floor {
			continue
		}
		filtered = append(filtered, row)
	}

	return filtered
}

// rank は除外・重複排除・並び替えを行い、照会者順位を算出する。
// 同一のlastfmユーザー名（小文字比較）が複数行ある場合は最大再生数の行のみを残す。
// 並び順は再生数の降順、同数の場合はユーザー名（小文字）の昇順で決定的に定まる。
func (s *Service) rank(rows []repository.RankRow, excluded map[string]struct{}, requesterID string) *Result {
	best := make(map[string]repository.RankRow, len(rows))
	for _, row := range rows {
		username := strings.ToLower(row.LastfmUsername)
		if _, ok := excluded[username]; ok {
			continue
		}
		if prev, ok := best[username]; !ok || row.Playcount > prev.Playcount {
			best[username] = row
		}
	}

	deduped := make([]repository.RankRow, 0, len(best))
	for _, row := range best {
		deduped = append(deduped, row)
	}

	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].Playcount != deduped[j].Playcount {
			return deduped[i].Playcount > deduped[j].Playcount
		}
		return strings.ToLower(deduped[i].LastfmUsername) < strings.ToLower(deduped[j].LastfmUsername)
	})

	result := &Result{Entries: make([]Entry, 0, len(deduped))}
	for i, row := range deduped {
		entry := Entry{
			UserID:         row.UserID,
			LastfmUsername: row.LastfmUsername,
			Playcount:      row.Playcount,
			Rank:           i + 1,
		}
		result.Entries = append(result.Entries, entry)

		if requesterID != "" && row.UserID == requesterID {
			rank := i + 1
			result.RequesterRank = &rank
		}
	}

	return result
}
