package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/chartman/internal/model"
	"github.com/hitoshi/chartman/internal/repository"
)

// IncrementsRecorder は増分適用件数の記録インターフェース。
type IncrementsRecorder interface {
	RecordIncrementsApplied(count int)
}

// IncrementalConfig は増分同期の設定パラメータ。
type IncrementalConfig struct {
	// FetchLimit は再生履歴取得の最大件数（デフォルト: 1000）。
	FetchLimit int
}

// DefaultIncrementalConfig はデフォルトの増分同期設定を返す。
func DefaultIncrementalConfig() IncrementalConfig {
	return IncrementalConfig{
		FetchLimit: 1000,
	}
}

// IncrementalEngine はチェックポイント以降の新規再生のみを取り込み、
// 既存の集計行に差分を加算する。リインデックス済みのユーザーが前提であり、
// 対象行が存在しない場合の加算は警告ログ付きの無操作となる。
type IncrementalEngine struct {
	source     SourceClient
	aliases    AliasResolver
	users      repository.UserRepository
	aggregates repository.AggregateRepository
	logger     *slog.Logger
	increments IncrementsRecorder
	config     IncrementalConfig
}

// NewIncrementalEngine はIncrementalEngineの新しいインスタンスを生成する。
func NewIncrementalEngine(
	source SourceClient,
	aliases AliasResolver,
	users repository.UserRepository,
	aggregates repository.AggregateRepository,
	logger *slog.Logger,
	increments IncrementsRecorder,
	config IncrementalConfig,
) *IncrementalEngine {
	if config.FetchLimit <= 0 {
		config.FetchLimit = 1000
	}
	return &IncrementalEngine{
		source:     source,
		aliases:    aliases,
		users:      users,
		aggregates: aggregates,
		logger:     logger,
		increments: increments,
		config:     config,
	}
}

// Run は指定ユーザーの増分同期を実行する。
// チェックポイントより厳密に新しい再生のみを加算対象とし、
// チェックポイントは取得バッチ全体の最大再生時刻まで前進する。
func (e *IncrementalEngine) Run(ctx context.Context, user *model.User) error {
	scrobbles, err := e.source.RecentTracks(ctx, user.LastfmUsername, e.config.FetchLimit)
	if err != nil {
		return fmt.Errorf("再生履歴の取得に失敗しました: %w", err)
	}

	checkpoint := user.LastScrobbleUpdate
	var fresh []model.Scrobble
	var latest *time.Time

	for _, s := range scrobbles {
		if latest == nil || s.TimePlayed.After(*latest) {
			t := s.TimePlayed
			latest = &t
		}
		// 厳密に新しい再生のみを対象とする（境界ちょうどは二重加算を避けるため除外）
		if checkpoint == nil || s.TimePlayed.After(*checkpoint) {
			fresh = append(fresh, s)
		}
	}

	if len(fresh) == 0 {
		if err := e.users.TouchLastUpdated(ctx, user.ID, time.Now()); err != nil {
			return fmt.Errorf("同期時刻の更新に失敗しました: %w", err)
		}
		e.logger.Info("新規再生なしのため集計をスキップしました",
			slog.String("user_id", user.ID),
			slog.String("lastfm_username", user.LastfmUsername),
		)
		return nil
	}

	applied, err := e.applyDeltas(ctx, user, fresh)
	if err != nil {
		return err
	}

	if err := e.users.AdvanceCheckpoint(ctx, user.ID, time.Now(), *latest); err != nil {
		return fmt.Errorf("チェックポイントの前進に失敗しました: %w", err)
	}

	if e.increments != nil {
		e.increments.RecordIncrementsApplied(applied)
	}

	e.logger.Info("増分同期が完了しました",
		slog.String("user_id", user.ID),
		slog.String("lastfm_username", user.LastfmUsername),
		slog.Int("new_scrobbles", len(fresh)),
		slog.Int("increments_applied", applied),
	)

	return nil
}

// applyDeltas は新規再生をエンティティ種別ごとにグループ化し、
// 既存の集計行へ差分加算する。適用した加算操作の件数を返す。
func (e *IncrementalEngine) applyDeltas(ctx context.Context, user *model.User, fresh []model.Scrobble) (int, error) {
	type pair struct{ artist, name string }

	artistDeltas := make(map[string]int64)
	artistNames := make(map[string]string)
	albumDeltas := make(map[pair]int64)
	albumNames := make(map[pair][2]string)
	trackDeltas := make(map[pair]int64)
	trackNames := make(map[pair][2]string)

	for _, s := range fresh {
		canonical := e.aliases.Resolve(s.Artist)
		artistKey := strings.ToLower(canonical)
		artistDeltas[artistKey]++
		artistNames[artistKey] = canonical

		if s.Album != "" {
			key := pair{artistKey, strings.ToLower(s.Album)}
			albumDeltas[key]++
			albumNames[key] = [2]string{canonical, s.Album}
		}

		if s.Track != "" {
			key := pair{artistKey, strings.ToLower(s.Track)}
			trackDeltas[key]++
			trackNames[key] = [2]string{canonical, s.Track}
		}
	}

	applied := 0

	for key, delta := range artistDeltas {
		name := artistNames[key]
		updated, err := e.aggregates.IncrementArtist(ctx, user.ID, name, delta)
		if err != nil {
			return applied, fmt.Errorf("アーティスト集計の加算に失敗しました: %w", err)
		}
		if !updated {
			e.logger.Warn("加算対象のアーティスト行が存在しません",
				slog.String("user_id", user.ID),
				slog.String("artist", name),
			)
			continue
		}
		applied++
	}

	for key, delta := range albumDeltas {
		names := albumNames[key]
		updated, err := e.aggregates.IncrementAlbum(ctx, user.ID, names[0], names[1], delta)
		if err != nil {
			return applied, fmt.Errorf("アルバム集計の加算に失敗しました: %w", err)
		}
		if !updated {
			e.logger.Warn("加算対象のアルバム行が存在しません",
				slog.String("user_id", user.ID),
				slog.String("artist", names[0]),
				slog.String("album", names[1]),
			)
			continue
		}
		applied++
	}

	for key, delta := range trackDeltas {
		names := trackNames[key]
		updated, err := e.aggregates.IncrementTrack(ctx, user.ID, names[0], names[1], delta)
		if err != nil {
			return applied, fmt.Errorf("トラック集計の加算に失敗しました: %w", err)
		}
		if !updated {
			e.logger.Warn("加算対象のトラック行が存在しません",
				slog.String("user_id", user.ID),
				slog.String("artist", names[0]),
				slog.String("track", names[1]),
			)
			continue
		}
		applied++
	}

	return applied, nil
}
