package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PostgresExclusionRepo はPostgreSQLを使用した除外エントリリポジトリ。
type PostgresExclusionRepo struct {
	db *sql.DB
}

// NewPostgresExclusionRepo はPostgresExclusionRepoを生成する。
func NewPostgresExclusionRepo(db *sql.DB) *PostgresExclusionRepo {
	return &PostgresExclusionRepo{db: db}
}

// ExcludedUsernames はランキングから除外すべき外部ユーザー名の集合を返す。
// BANはexpires_atがNULLまたは未来のもの、fraudはflagged_atが
// nowからfraudWindow以内のものが対象。キーは小文字化済み。
func (r *PostgresExclusionRepo) ExcludedUsernames(ctx context.Context, now time.Time, fraudWindow time.Duration) (map[string]struct{}, error) {
	windowStart := now.Add(-fraudWindow)

	rows, err := r.db.QueryContext(ctx,
		`SELECT lower(lastfm_username) FROM exclusions
		 WHERE (kind = 'ban' AND (expires_at IS NULL OR expires_at > $1))
		    OR (kind = 'fraud' AND flagged_at > $2)`,
		now, windowStart,
	)
	if err != nil {
		return nil, fmt.Errorf("除外ユーザー名の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	excluded := make(map[string]struct{})
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("除外ユーザー名の読み取りに失敗しました: %w", err)
		}
		excluded[strings.ToLower(username)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("除外ユーザー名の走査に失敗しました: %w", err)
	}

	return excluded, nil
}

// DeleteExpired は効力を失った除外エントリを削除し、削除件数を返す。
// 期限切れBAN、およびflagged_atがolderThanより古いfraudエントリが対象。
func (r *PostgresExclusionRepo) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM exclusions
		 WHERE (kind = 'ban' AND expires_at IS NOT NULL AND expires_at < now())
		    OR (kind = 'fraud' AND flagged_at < $1)`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れ除外エントリの削除に失敗しました: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ ExclusionRepository = (*PostgresExclusionRepo)(nil)
