// Package retention は除外リストの自動整理ジョブを提供する。
// 期限切れのBANエントリと不正フラグ期間（デフォルト90日）を超過した
// 不正フラグエントリを日次バッチで削除する。
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chartman/internal/repository"
)

// Job は期限切れ除外エントリの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type Job struct {
	exclusions  repository.ExclusionRepository
	logger      *slog.Logger
	FraudWindow time.Duration // 不正フラグの保持期間（デフォルト: 90日）
}

// NewJob は新しいJobを生成する。
// デフォルトの不正フラグ保持期間は90日。
func NewJob(exclusions repository.ExclusionRepository, logger *slog.Logger) *Job {
	return &Job{
		exclusions:  exclusions,
		logger:      logger,
		FraudWindow: 90 * 24 * time.Hour,
	}
}

// Run は効力を失った除外エントリを削除する。
// 期限切れのBANと保持期間を超過した不正フラグが対象となる。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.exclusions.DeleteExpired(ctx, time.Now().Add(-j.FraudWindow))
	if err != nil {
		j.logger.Error("除外リスト整理ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("除外リスト整理の実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("除外リスト整理ジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
