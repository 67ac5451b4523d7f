package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/chartman/internal/model"
)

// PostgresAggregateRepo はPostgreSQLを使用した再生数集計リポジトリ。
// 置き換えは「全削除 + COPYによる一括挿入」を単一トランザクションで行い、
// 加算は対象行が存在する場合のみ適用される条件付きUPDATEで行う。
type PostgresAggregateRepo struct {
	db *sql.DB
}

// NewPostgresAggregateRepo はPostgresAggregateRepoを生成する。
func NewPostgresAggregateRepo(db *sql.DB) *PostgresAggregateRepo {
	return &PostgresAggregateRepo{db: db}
}

// ReplaceArtists はユーザーのアーティスト集計を置き換える。
func (r *PostgresAggregateRepo) ReplaceArtists(ctx context.Context, userID string, rows []model.ArtistAggregate) error {
	return r.replace(ctx, "user_artists", userID, len(rows),
		pq.CopyIn("user_artists", "user_id", "name", "playcount"),
		func(stmt *sql.Stmt, i int) error {
			_, err := stmt.ExecContext(ctx, userID, rows[i].Name, rows[i].Playcount)
			return err
		},
	)
}

// ReplaceAlbums はユーザーのアルバム集計を置き換える。
func (r *PostgresAggregateRepo) ReplaceAlbums(ctx context.Context, userID string, rows []model.AlbumAggregate) error {
	return r.replace(ctx, "user_albums", userID, len(rows),
		pq.CopyIn("user_albums", "user_id", "artist_name", "name", "playcount"),
		func(stmt *sql.Stmt, i int) error {
			_, err := stmt.ExecContext(ctx, userID, rows[i].ArtistName, rows[i].Name, rows[i].Playcount)
			return err
		},
	)
}

// ReplaceTracks はユーザーのトラック集計を置き換える。
func (r *PostgresAggregateRepo) ReplaceTracks(ctx context.Context, userID string, rows []model.TrackAggregate) error {
	return r.replace(ctx, "user_tracks", userID, len(rows),
		pq.CopyIn("user_tracks", "user_id", "artist_name", "name", "playcount"),
		func(stmt *sql.Stmt, i int) error {
			_, err := stmt.ExecContext(ctx, userID, rows[i].ArtistName, rows[i].Name, rows[i].Playcount)
			return err
		},
	)
}

// replace は指定テーブルのユーザー行を削除し、COPYで一括挿入する。
// 途中で失敗した場合はロールバックされ、既存の集計は保持される。
func (r *PostgresAggregateRepo) replace(
	ctx context.Context,
	table, userID string,
	count int,
	copyStmt string,
	exec func(stmt *sql.Stmt, i int) error,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, table), userID,
	); err != nil {
		return fmt.Errorf("%sの既存行の削除に失敗しました: %w", table, err)
	}

	stmt, err := tx.PrepareContext(ctx, copyStmt)
	if err != nil {
		return fmt.Errorf("%sへのCOPYの準備に失敗しました: %w", table, err)
	}

	for i := 0; i < count; i++ {
		if err := exec(stmt, i); err != nil {
			stmt.Close()
			return fmt.Errorf("%sへのCOPYに失敗しました: %w", table, err)
		}
	}

	// COPYのフラッシュ（引数なしExecで完了を通知する）
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("%sへのCOPYの完了に失敗しました: %w", table, err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("%sへのCOPYのクローズに失敗しました: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%sの置き換えのコミットに失敗しました: %w", table, err)
	}

	return nil
}

// IncrementArtist は既存のアーティスト集計行にdeltaを加算する。
// 対象行が存在しない場合は何もせずfalseを返す（UPSERTではない）。
func (r *PostgresAggregateRepo) IncrementArtist(ctx context.Context, userID, name string, delta int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_artists SET playcount = playcount + $3
		 WHERE user_id = $1 AND lower(name) = lower($2)`,
		userID, name, delta,
	)
	if err != nil {
		return false, fmt.Errorf("アーティスト集計の加算に失敗しました: %w", err)
	}
	return rowsAffected(res)
}

// IncrementAlbum は既存のアルバム集計行にdeltaを加算する。
func (r *PostgresAggregateRepo) IncrementAlbum(ctx context.Context, userID, artistName, name string, delta int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_albums SET playcount = playcount + $4
		 WHERE user_id = $1 AND lower(artist_name) = lower($2) AND lower(name) = lower($3)`,
		userID, artistName, name, delta,
	)
	if err != nil {
		return false, fmt.Errorf("アルバム集計の加算に失敗しました: %w", err)
	}
	return rowsAffected(res)
}

// IncrementTrack は既存のトラック集計行にdeltaを加算する。
func (r *PostgresAggregateRepo) IncrementTrack(ctx context.Context, userID, artistName, name string, delta int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_tracks SET playcount = playcount + $4
		 WHERE user_id = $1 AND lower(artist_name) = lower($2) AND lower(name) = lower($3)`,
		userID, artistName, name, delta,
	)
	if err != nil {
		return false, fmt.Errorf("トラック集計の加算に失敗しました: %w", err)
	}
	return rowsAffected(res)
}

// GlobalRankRows は指定エンティティの全ユーザーの集計行をユーザー情報付きで返す。
func (r *PostgresAggregateRepo) GlobalRankRows(ctx context.Context, key model.EntityKey) ([]RankRow, error) {
	query, args := rankQuery(key, nil)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("グローバルランキング行の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanRankRows(rows)
}

// RankRowsForUsers は指定エンティティの集計行を、指定ユーザー群に限定して返す。
func (r *PostgresAggregateRepo) RankRowsForUsers(ctx context.Context, key model.EntityKey, userIDs []string) ([]RankRow, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query, args := rankQuery(key, userIDs)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("スコープ付きランキング行の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanRankRows(rows)
}

// rankQuery はエンティティキーと任意のユーザーID制限からランキングクエリを組み立てる。
func rankQuery(key model.EntityKey, userIDs []string) (string, []any) {
	var table string
	var args []any

	switch key.Class() {
	case model.EntityClassAlbum:
		table = "user_albums"
		args = []any{key.Artist, key.Album}
	case model.EntityClassTrack:
		table = "user_tracks"
		args = []any{key.Artist, key.Track}
	default:
		table = "user_artists"
		args = []any{key.Artist}
	}

	query := `SELECT a.user_id, u.lastfm_username, a.playcount, u.last_scrobble_update
		 FROM ` + table + ` a
		 JOIN users u ON u.id = a.user_id
		 WHERE `

	if table == "user_artists" {
		query += `lower(a.name) = lower($1)`
	} else {
		query += `lower(a.artist_name) = lower($1) AND lower(a.name) = lower($2)`
	}

	if userIDs != nil {
		query += fmt.Sprintf(` AND a.user_id = ANY($%d)`, len(args)+1)
		args = append(args, pq.Array(userIDs))
	}

	return query, args
}

// scanRankRows はランキングクエリの結果行を読み取る。
func scanRankRows(rows *sql.Rows) ([]RankRow, error) {
	var result []RankRow
	for rows.Next() {
		var rr RankRow
		var lastScrobble sql.NullTime

		if err := rows.Scan(&rr.UserID, &rr.LastfmUsername, &rr.Playcount, &lastScrobble); err != nil {
			return nil, fmt.Errorf("ランキング行の読み取りに失敗しました: %w", err)
		}
		if lastScrobble.Valid {
			rr.LastScrobbleUpdate = &lastScrobble.Time
		}

		result = append(result, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ランキング行の走査に失敗しました: %w", err)
	}

	return result, nil
}

// rowsAffected はUPDATEが1行以上に適用されたかどうかを返す。
func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ AggregateRepository = (*PostgresAggregateRepo)(nil)
