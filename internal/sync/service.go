package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chartman/internal/model"
	"github.com/hitoshi/chartman/internal/repository"
)

// SyncRecorder は同期結果メトリクスの記録インターフェース。
type SyncRecorder interface {
	RecordSyncSuccess(mode string)
	RecordSyncFailure(mode, reason string)
	RecordSyncLatency(mode string, duration time.Duration)
}

// Syncer は同期ジョブをモードに応じたエンジンへ振り分ける。
// 未インデックスのユーザーへの増分同期要求はフルリインデックスへ昇格される。
type Syncer struct {
	users       repository.UserRepository
	reindex     *ReindexEngine
	incremental *IncrementalEngine
	logger      *slog.Logger
	recorder    SyncRecorder
}

// NewSyncer はSyncerの新しいインスタンスを生成する。
func NewSyncer(
	users repository.UserRepository,
	reindex *ReindexEngine,
	incremental *IncrementalEngine,
	logger *slog.Logger,
	recorder SyncRecorder,
) *Syncer {
	return &Syncer{
		users:       users,
		reindex:     reindex,
		incremental: incremental,
		logger:      logger,
		recorder:    recorder,
	}
}

// Run は1件の同期ジョブを実行する。JobRunnerの実装。
func (s *Syncer) Run(ctx context.Context, job model.SyncJob) error {
	user, err := s.users.FindByID(ctx, job.UserID)
	if err != nil {
		s.recordFailure(job.Mode, "user_lookup")
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		// キュー投入後に削除されたユーザー。ジョブは破棄する。
		s.logger.Warn("同期対象のユーザーが存在しません",
			slog.String("user_id", job.UserID),
		)
		return nil
	}

	mode := job.Mode
	if mode == model.SyncModeIncremental && !user.Indexed() {
		s.logger.Info("未インデックスのユーザーのためフルリインデックスへ昇格します",
			slog.String("user_id", user.ID),
			slog.String("lastfm_username", user.LastfmUsername),
		)
		mode = model.SyncModeReindex
	}

	start := time.Now()

	var runErr error
	switch mode {
	case model.SyncModeReindex:
		runErr = s.reindex.Run(ctx, user)
	case model.SyncModeIncremental:
		runErr = s.incremental.Run(ctx, user)
	default:
		s.recordFailure(mode, "invalid_mode")
		return fmt.Errorf("不明な同期モードです: %s", mode)
	}

	if s.recorder != nil {
		s.recorder.RecordSyncLatency(string(mode), time.Since(start))
	}

	if runErr != nil {
		s.recordFailure(mode, failureReason(runErr))
		return runErr
	}

	if s.recorder != nil {
		s.recorder.RecordSyncSuccess(string(mode))
	}

	return nil
}

func (s *Syncer) recordFailure(mode model.SyncMode, reason string) {
	if s.recorder != nil {
		s.recorder.RecordSyncFailure(string(mode), reason)
	}
}

// failureReason はメトリクスのラベル用に失敗原因を分類する。
func failureReason(err error) string {
	switch {
	case model.IsSourceNotFound(err):
		return "source_not_found"
	case model.IsSourceRateLimited(err):
		return "source_rate_limited"
	default:
		return "internal"
	}
}
