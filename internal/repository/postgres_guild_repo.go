package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chartman/internal/model"
)

// PostgresGuildRepo はPostgreSQLを使用したギルド設定リポジトリ。
// ランキングエンジンからは読み取り専用で使用される。
type PostgresGuildRepo struct {
	db *sql.DB
}

// NewPostgresGuildRepo はPostgresGuildRepoを生成する。
func NewPostgresGuildRepo(db *sql.DB) *PostgresGuildRepo {
	return &PostgresGuildRepo{db: db}
}

// FindSettings は指定ギルドの設定を取得する。未設定の場合はnilを返す。
func (r *PostgresGuildRepo) FindSettings(ctx context.Context, guildID string) (*model.GuildSettings, error) {
	settings := &model.GuildSettings{}
	var threshold sql.NullInt64

	err := r.db.QueryRowContext(ctx,
		`SELECT guild_id, activity_threshold_days, privacy_floor
		 FROM guild_settings WHERE guild_id = $1`,
		guildID,
	).Scan(&settings.GuildID, &threshold, &settings.PrivacyFloor)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ギルド設定の取得に失敗しました: %w", err)
	}

	if threshold.Valid {
		days := int(threshold.Int64)
		settings.ActivityThresholdDays = &days
	}

	return settings, nil
}

// BlockedUsers は指定ギルドでブロック/非表示に設定されたユーザーIDとその種別を返す。
func (r *PostgresGuildRepo) BlockedUsers(ctx context.Context, guildID string) (map[string]model.GuildBlockKind, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, kind FROM guild_blocked_users WHERE guild_id = $1`,
		guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("ギルドのブロックユーザーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	blocked := make(map[string]model.GuildBlockKind)
	for rows.Next() {
		var userID, kind string
		if err := rows.Scan(&userID, &kind); err != nil {
			return nil, fmt.Errorf("ブロックユーザー行の読み取りに失敗しました: %w", err)
		}
		blocked[userID] = model.GuildBlockKind(kind)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ブロックユーザーの走査に失敗しました: %w", err)
	}

	return blocked, nil
}

// compile-time interface check
var _ GuildRepository = (*PostgresGuildRepo)(nil)
