package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/chartman/internal/model"
	"github.com/hitoshi/chartman/internal/repository"
)

// SchedulerConfig は同期スケジューラの設定パラメータ。
type SchedulerConfig struct {
	// Interval は同期サイクルの実行間隔（デフォルト: 5分）。
	Interval time.Duration
	// StaleAfter は同期対象とみなす経過時間の閾値（デフォルト: 12時間）。
	StaleAfter time.Duration
	// DueLimit は1サイクルで投入するユーザーの最大数（デフォルト: 100）。
	DueLimit int
}

// DefaultSchedulerConfig はデフォルトのスケジューラ設定を返す。
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   5 * time.Minute,
		StaleAfter: 12 * time.Hour,
		DueLimit:   100,
	}
}

// Scheduler は同期期限を迎えたユーザーを定期的にキューへ投入する。
// 実際のジョブ実行はPoolが担うため、ここでは投入のみを行う。
type Scheduler struct {
	users  repository.UserRepository
	queue  *Queue
	logger *slog.Logger
	config SchedulerConfig
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	users repository.UserRepository,
	queue *Queue,
	logger *slog.Logger,
	config SchedulerConfig,
) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 12 * time.Hour
	}
	if config.DueLimit <= 0 {
		config.DueLimit = 100
	}
	return &Scheduler{
		users:  users,
		queue:  queue,
		logger: logger,
		config: config,
	}
}

// Start は設定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", s.config.Interval),
		slog.Duration("stale_after", s.config.StaleAfter),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("同期サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は同期期限を迎えたユーザーを1回取得し、キューへ投入する。
// 未インデックスのユーザーはフルリインデックス、それ以外は増分同期で投入する。
// キューに既に存在するユーザーは重複排除によりスキップされる。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	staleBefore := time.Now().Add(-s.config.StaleAfter)

	users, err := s.users.ListDueForSync(ctx, staleBefore, s.config.DueLimit)
	if err != nil {
		return err
	}

	if len(users) == 0 {
		s.logger.Info("同期対象のユーザーはありません")
		return nil
	}

	enqueued := 0
	for _, user := range users {
		mode := model.SyncModeIncremental
		if !user.Indexed() {
			mode = model.SyncModeReindex
		}

		if s.queue.Enqueue(model.SyncJob{UserID: user.ID, Mode: mode}) {
			enqueued++
		}
	}

	s.logger.Info("同期サイクルが完了しました",
		slog.Int("due_count", len(users)),
		slog.Int("enqueued", enqueued),
		slog.Int("queue_depth", s.queue.Depth()),
	)

	return nil
}
