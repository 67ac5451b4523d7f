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

// SourceClient は外部スクロブルサービスの取得インターフェース。
type SourceClient interface {
	// TopArtists は全期間トップアーティストを1ページ分取得する。
	TopArtists(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error)
	// TopAlbums は全期間トップアルバムを1ページ分取得する。
	TopAlbums(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error)
	// TopTracks は全期間トップトラックを1ページ分取得する。
	TopTracks(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error)
	// RecentTracks は直近の再生履歴を新しい順に取得する。
	RecentTracks(ctx context.Context, user string, limit int) ([]model.Scrobble, error)
}

// AliasResolver はアーティスト名のエイリアス解決インターフェース。
type AliasResolver interface {
	// Resolve は生のアーティスト名を正規名に解決する。
	Resolve(rawName string) string
}

// RowsRecorder はリインデックスの置き換え行数の記録インターフェース。
type RowsRecorder interface {
	RecordRowsReplaced(class string, count int)
}

// ReindexConfig はフルリインデックスの設定パラメータ。
type ReindexConfig struct {
	// PageSize はトップリスト取得の1ページあたりの件数（デフォルト: 1000）。
	PageSize int
	// MaxPages はエンティティ種別ごとの最大取得ページ数（デフォルト: 4）。
	MaxPages int
}

// DefaultReindexConfig はデフォルトのリインデックス設定を返す。
func DefaultReindexConfig() ReindexConfig {
	return ReindexConfig{
		PageSize: 1000,
		MaxPages: 4,
	}
}

// ReindexEngine はユーザーの集計を外部サービスの全期間トップリストからゼロ再構築する。
// 初回同期と明示的なベースライン再設定に使用される。
// エンティティ種別ごとに独立して置き換えるため、トラックの取得失敗が
// アーティストの置き換えをロールバックすることはない（種別単位のアトミシティ）。
type ReindexEngine struct {
	source     SourceClient
	aliases    AliasResolver
	users      repository.UserRepository
	aggregates repository.AggregateRepository
	logger     *slog.Logger
	rows       RowsRecorder
	config     ReindexConfig
}

// NewReindexEngine はReindexEngineの新しいインスタンスを生成する。
func NewReindexEngine(
	source SourceClient,
	aliases AliasResolver,
	users repository.UserRepository,
	aggregates repository.AggregateRepository,
	logger *slog.Logger,
	rows RowsRecorder,
	config ReindexConfig,
) *ReindexEngine {
	if config.PageSize <= 0 {
		config.PageSize = 1000
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 4
	}
	return &ReindexEngine{
		source:     source,
		aliases:    aliases,
		users:      users,
		aggregates: aggregates,
		logger:     logger,
		rows:       rows,
		config:     config,
	}
}

// Run は指定ユーザーのフルリインデックスを実行する。
// 成功後、ユーザーの集計は取得時点の外部サービスの全期間再生数と一致し、
// last_indexedとチェックポイントが更新される。
func (e *ReindexEngine) Run(ctx context.Context, user *model.User) error {
	start := time.Now()

	if err := e.reindexArtists(ctx, user); err != nil {
		return err
	}
	if err := e.reindexAlbums(ctx, user); err != nil {
		return err
	}
	if err := e.reindexTracks(ctx, user); err != nil {
		return err
	}

	// チェックポイントの初期値として最新の再生を1件取得する
	lastScrobble, err := e.fetchLatestScrobble(ctx, user)
	if err != nil {
		return err
	}

	if err := e.users.MarkIndexed(ctx, user.ID, time.Now(), lastScrobble); err != nil {
		return fmt.Errorf("リインデックス完了の記録に失敗しました: %w", err)
	}

	e.logger.Info("フルリインデックスが完了しました",
		slog.String("user_id", user.ID),
		slog.String("lastfm_username", user.LastfmUsername),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// reindexArtists はアーティスト集計を置き換える。
// エイリアス解決で同一の正規名に収束した項目は再生数を合算する。
func (e *ReindexEngine) reindexArtists(ctx context.Context, user *model.User) error {
	entries, err := e.fetchAllPages(ctx, user.LastfmUsername, e.source.TopArtists)
	if err != nil {
		return fmt.Errorf("トップアーティストの取得に失敗しました: %w", err)
	}

	counts := make(map[string]int64, len(entries))
	names := make(map[string]string, len(entries))
	for _, entry := range entries {
		canonical := e.aliases.Resolve(entry.Name)
		key := strings.ToLower(canonical)
		counts[key] += entry.Playcount
		names[key] = canonical
	}

	rows := make([]model.ArtistAggregate, 0, len(counts))
	for key, count := range counts {
		rows = append(rows, model.ArtistAggregate{
			UserID:    user.ID,
			Name:      names[key],
			Playcount: count,
		})
	}

	if err := e.aggregates.ReplaceArtists(ctx, user.ID, rows); err != nil {
		return fmt.Errorf("アーティスト集計の置き換えに失敗しました: %w", err)
	}
	if e.rows != nil {
		e.rows.RecordRowsReplaced(string(model.EntityClassArtist), len(rows))
	}

	return nil
}

// reindexAlbums はアルバム集計を置き換える。
func (e *ReindexEngine) reindexAlbums(ctx context.Context, user *model.User) error {
	entries, err := e.fetchAllPages(ctx, user.LastfmUsername, e.source.TopAlbums)
	if err != nil {
		return fmt.Errorf("トップアルバムの取得に失敗しました: %w", err)
	}

	type albumKey struct{ artist, name string }
	counts := make(map[albumKey]int64, len(entries))
	display := make(map[albumKey]model.AlbumAggregate, len(entries))
	for _, entry := range entries {
		canonical := e.aliases.Resolve(entry.ArtistName)
		key := albumKey{strings.ToLower(canonical), strings.ToLower(entry.Name)}
		counts[key] += entry.Playcount
		display[key] = model.AlbumAggregate{
			UserID:     user.ID,
			ArtistName: canonical,
			Name:       entry.Name,
		}
	}

	rows := make([]model.AlbumAggregate, 0, len(counts))
	for key, count := range counts {
		row := display[key]
		row.Playcount = count
		rows = append(rows, row)
	}

	if err := e.aggregates.ReplaceAlbums(ctx, user.ID, rows); err != nil {
		return fmt.Errorf("アルバム集計の置き換えに失敗しました: %w", err)
	}
	if e.rows != nil {
		e.rows.RecordRowsReplaced(string(model.EntityClassAlbum), len(rows))
	}

	return nil
}

// reindexTracks はトラック集計を置き換える。
func (e *ReindexEngine) reindexTracks(ctx context.Context, user *model.User) error {
	entries, err := e.fetchAllPages(ctx, user.LastfmUsername, e.source.TopTracks)
	if err != nil {
		return fmt.Errorf("トップトラックの取得に失敗しました: %w", err)
	}

	type trackKey struct{ artist, name string }
	counts := make(map[trackKey]int64, len(entries))
	display := make(map[trackKey]model.TrackAggregate, len(entries))
	for _, entry := range entries {
		canonical := e.aliases.Resolve(entry.ArtistName)
		key := trackKey{strings.ToLower(canonical), strings.ToLower(entry.Name)}
		counts[key] += entry.Playcount
		display[key] = model.TrackAggregate{
			UserID:     user.ID,
			ArtistName: canonical,
			Name:       entry.Name,
		}
	}

	rows := make([]model.TrackAggregate, 0, len(counts))
	for key, count := range counts {
		row := display[key]
		row.Playcount = count
		rows = append(rows, row)
	}

	if err := e.aggregates.ReplaceTracks(ctx, user.ID, rows); err != nil {
		return fmt.Errorf("トラック集計の置き換えに失敗しました: %w", err)
	}
	if e.rows != nil {
		e.rows.RecordRowsReplaced(string(model.EntityClassTrack), len(rows))
	}

	return nil
}

// fetchAllPages はトップリストを上限ページ数まで取得する。
// ページサイズ未満の結果が返った時点、またはhasMoreがfalseの時点で打ち切る。
func (e *ReindexEngine) fetchAllPages(
	ctx context.Context,
	username string,
	fetch func(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error),
) ([]model.TopEntry, error) {
	var all []model.TopEntry

	for page := 1; page <= e.config.MaxPages; page++ {
		entries, hasMore, err := fetch(ctx, username, page, e.config.PageSize)
		if err != nil {
			return nil, err
		}

		all = append(all, entries...)

		if !hasMore || len(entries) < e.config.PageSize {
			break
		}
	}

	return all, nil
}

// fetchLatestScrobble はチェックポイントの初期値となる最新の再生を取得する。
// 再生履歴が空の場合はnilを返す。
func (e *ReindexEngine) fetchLatestScrobble(ctx context.Context, user *model.User) (*time.Time, error) {
	scrobbles, err := e.source.RecentTracks(ctx, user.LastfmUsername, 1)
	if err != nil {
		return nil, fmt.Errorf("最新再生の取得に失敗しました: %w", err)
	}
	if len(scrobbles) == 0 {
		return nil, nil
	}

	t := scrobbles[0].TimePlayed
	return &t, nil
}
