package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/chartman/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, discord_id, lastfm_username, last_indexed, last_updated,
       last_scrobble_update, created_at, updated_at`

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return user, nil
}

// FindByDiscordID はDiscord IDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByDiscordID(ctx context.Context, discordID string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE discord_id = $1`, discordID)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Discord IDによるユーザーの検索に失敗しました: %w", err)
	}
	return user, nil
}

// Create はユーザーを登録する。IDが空の場合は生成される。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, discord_id, lastfm_username, last_indexed, last_updated,
		                    last_scrobble_update, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.DiscordID, user.LastfmUsername,
		user.LastIndexed, user.LastUpdated, user.LastScrobbleUpdate,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}
	return nil
}

// ListDueForSync は同期が必要なユーザーを取得する。
// last_updatedがstaleBeforeより古い（またはNULLの）ユーザーを古い順に最大limit件返す。
func (r *PostgresUserRepo) ListDueForSync(ctx context.Context, staleBefore time.Time, limit int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE last_updated IS NULL OR last_updated < $1
		 ORDER BY last_updated ASC NULLS FIRST
		 LIMIT $2`,
		staleBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("同期対象ユーザーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("同期対象ユーザーの行読み取りに失敗しました: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("同期対象ユーザーの走査に失敗しました: %w", err)
	}

	return users, nil
}

// MarkIndexed はフルリインデックス完了を記録する。
// last_scrobble_updateはGREATESTにより前進方向のみ更新する。
func (r *PostgresUserRepo) MarkIndexed(ctx context.Context, userID string, indexedAt time.Time, lastScrobble *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET
		    last_indexed = $2,
		    last_updated = $2,
		    last_scrobble_update = GREATEST(last_scrobble_update, $3),
		    updated_at = now()
		 WHERE id = $1`,
		userID, indexedAt, lastScrobble,
	)
	if err != nil {
		return fmt.Errorf("リインデックス完了の記録に失敗しました: %w", err)
	}
	return nil
}

// TouchLastUpdated は差分同期のゼロデルタ完了を記録する。チェックポイントには触れない。
func (r *PostgresUserRepo) TouchLastUpdated(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_updated = $2, updated_at = now() WHERE id = $1`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("last_updatedの更新に失敗しました: %w", err)
	}
	return nil
}

// AdvanceCheckpoint は差分適用完了を記録する。
// last_scrobble_updateをGREATEST(現在値, scrobbleAt)で前進方向のみ更新する。
func (r *PostgresUserRepo) AdvanceCheckpoint(ctx context.Context, userID string, updatedAt, scrobbleAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET
		    last_updated = $2,
		    last_scrobble_update = GREATEST(last_scrobble_update, $3),
		    updated_at = now()
		 WHERE id = $1`,
		userID, updatedAt, scrobbleAt,
	)
	if err != nil {
		return fmt.Errorf("チェックポイントの前進に失敗しました: %w", err)
	}
	return nil
}

// scanner はsql.Rowとsql.Rowsの共通Scanインターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanUser は1行分のユーザーレコードを読み取る。
func scanUser(s scanner) (*model.User, error) {
	user := &model.User{}
	var lastIndexed, lastUpdated, lastScrobble sql.NullTime

	if err := s.Scan(
		&user.ID, &user.DiscordID, &user.LastfmUsername,
		&lastIndexed, &lastUpdated, &lastScrobble,
		&user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if lastIndexed.Valid {
		user.LastIndexed = &lastIndexed.Time
	}
	if lastUpdated.Valid {
		user.LastUpdated = &lastUpdated.Time
	}
	if lastScrobble.Valid {
		user.LastScrobbleUpdate = &lastScrobble.Time
	}

	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
