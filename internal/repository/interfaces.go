// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/chartman/internal/model"
)

// UserRepository はユーザーデータとチェックポイントの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByDiscordID はDiscord IDでユーザーを検索する。見つからない場合はnilを返す。
	FindByDiscordID(ctx context.Context, discordID string) (*model.User, error)

	// Create はユーザーを登録する。IDが空の場合は生成される。
	Create(ctx context.Context, user *model.User) error

	// ListDueForSync は同期が必要なユーザーを取得する。
	// last_updatedがstaleBeforeより古い（またはNULLの）ユーザーを古い順に最大limit件返す。
	ListDueForSync(ctx context.Context, staleBefore time.Time, limit int) ([]*model.User, error)

	// MarkIndexed はフルリインデックス完了を記録する。
	// last_indexedとlast_updatedをindexedAtに設定し、
	// last_scrobble_updateはGREATESTにより前進方向のみ更新する。
	MarkIndexed(ctx context.Context, userID string, indexedAt time.Time, lastScrobble *time.Time) error

	// TouchLastUpdated は差分同期のゼロデルタ完了を記録する。
	// last_updatedのみ更新し、チェックポイントには触れない。
	TouchLastUpdated(ctx context.Context, userID string, at time.Time) error

	// AdvanceCheckpoint は差分適用完了を記録する。
	// last_updatedをupdatedAtに設定し、last_scrobble_updateを
	// GREATEST(現在値, scrobbleAt)で前進方向のみ更新する。
	AdvanceCheckpoint(ctx context.Context, userID string, updatedAt, scrobbleAt time.Time) error
}

// RankRow はランキングクエリが返す1ユーザー分の行。
type RankRow struct {
	UserID             string
	LastfmUsername     string
	Playcount          int64
	LastScrobbleUpdate *time.Time
}

// AggregateRepository はユーザー×エンティティの再生数集計の永続化インターフェース。
// このサブシステムで唯一の書き込み先となる。
type AggregateRepository interface {
	// ReplaceArtists はユーザーのアーティスト集計を置き換える。
	// 既存行の全削除と一括挿入を単一トランザクションで行う。
	ReplaceArtists(ctx context.Context, userID string, rows []model.ArtistAggregate) error

	// ReplaceAlbums はユーザーのアルバム集計を置き換える。
	ReplaceAlbums(ctx context.Context, userID string, rows []model.AlbumAggregate) error

	// ReplaceTracks はユーザーのトラック集計を置き換える。
	ReplaceTracks(ctx context.Context, userID string, rows []model.TrackAggregate) error

	// IncrementArtist は既存のアーティスト集計行にdeltaを加算する。
	// 対象行が存在しない場合は何もせずfalseを返す（UPSERTではない）。
	IncrementArtist(ctx context.Context, userID, name string, delta int64) (bool, error)

	// IncrementAlbum は既存のアルバム集計行にdeltaを加算する。
	IncrementAlbum(ctx context.Context, userID, artistName, name string, delta int64) (bool, error)

	// IncrementTrack は既存のトラック集計行にdeltaを加算する。
	IncrementTrack(ctx context.Context, userID, artistName, name string, delta int64) (bool, error)

	// GlobalRankRows は指定エンティティの全ユーザーの集計行をユーザー情報付きで返す。
	// 並び順は保証しない（ランキングエンジン側でソートする）。
	GlobalRankRows(ctx context.Context, key model.EntityKey) ([]RankRow, error)

	// RankRowsForUsers は指定エンティティの集計行を、指定ユーザー群に限定して返す。
	RankRowsForUsers(ctx context.Context, key model.EntityKey, userIDs []string) ([]RankRow, error)
}

// AliasRepository はアーティスト名エイリアスの読み取りインターフェース。
// エイリアスのメンテナンスは外部のキュレーション処理が行うため、書き込みは提供しない。
type AliasRepository interface {
	// ListAll は全エイリアスを返す。
	ListAll(ctx context.Context) ([]model.Alias, error)
}

// ExclusionRepository は除外エントリの永続化インターフェース。
type ExclusionRepository interface {
	// ExcludedUsernames はランキングから除外すべき外部ユーザー名の集合を返す。
	// キーは小文字化済み。BANはexpires_atがNULLまたは未来のもの、
	// fraudはflagged_atがnowからfraudWindow以内のものが対象。
	ExcludedUsernames(ctx context.Context, now time.Time, fraudWindow time.Duration) (map[string]struct{}, error)

	// DeleteExpired は効力を失った除外エントリを削除し、削除件数を返す。
	// 期限切れBAN、およびflagged_atがolderThanより古いfraudエントリが対象。
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

// GuildRepository はギルド設定とブロックフラグの読み取りインターフェース。
// 設定のCRUDは対象外（外部のコマンド層が管理する）。
type GuildRepository interface {
	// FindSettings は指定ギルドの設定を取得する。未設定の場合はnilを返す。
	FindSettings(ctx context.Context, guildID string) (*model.GuildSettings, error)

	// BlockedUsers は指定ギルドでブロック/非表示に設定されたユーザーIDとその種別を返す。
	BlockedUsers(ctx context.Context, guildID string) (map[string]model.GuildBlockKind, error)
}
