package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chartman/internal/model"
)

// PostgresAliasRepo はPostgreSQLを使用したアーティスト名エイリアスリポジトリ。
// 同期パイプラインからは読み取り専用で使用される。
type PostgresAliasRepo struct {
	db *sql.DB
}

// NewPostgresAliasRepo はPostgresAliasRepoを生成する。
func NewPostgresAliasRepo(db *sql.DB) *PostgresAliasRepo {
	return &PostgresAliasRepo{db: db}
}

// ListAll は全エイリアスを返す。
func (r *PostgresAliasRepo) ListAll(ctx context.Context) ([]model.Alias, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, raw_name, canonical_name FROM artist_aliases`)
	if err != nil {
		return nil, fmt.Errorf("エイリアス一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var aliases []model.Alias
	for rows.Next() {
		var a model.Alias
		if err := rows.Scan(&a.ID, &a.RawName, &a.CanonicalName); err != nil {
			return nil, fmt.Errorf("エイリアス行の読み取りに失敗しました: %w", err)
		}
		aliases = append(aliases, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("エイリアス一覧の走査に失敗しました: %w", err)
	}

	return aliases, nil
}

// compile-time interface check
var _ AliasRepository = (*PostgresAliasRepo)(nil)
