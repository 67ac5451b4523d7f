package sync

import (
	"context"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/hitoshi/chartman/internal/model"
)

// JobRunner は1ジョブ分の同期処理の実行インターフェース。
type JobRunner interface {
	// Run は指定ジョブを実行する。
	Run(ctx context.Context, job model.SyncJob) error
}

// DepthRecorder はキュー深さメトリクスの記録インターフェース。
type DepthRecorder interface {
	SetQueueDepth(depth int)
}

// PoolConfig はワーカープールの設定パラメータ。
type PoolConfig struct {
	// MaxConcurrentJobs は同時実行するジョブの最大数（デフォルト: 3）。
	MaxConcurrentJobs int
	// JobDelay は各ジョブ完了後の固定待機時間。
	// バックログが続いても外部APIのレート制限内に収めるための遅延。
	JobDelay time.Duration
	// IdleBackoff はキューが空のときの待機時間。
	IdleBackoff time.Duration
}

// DefaultPoolConfig はデフォルトのワーカープール設定を返す。
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConcurrentJobs: 3,
		JobDelay:          2 * time.Second,
		IdleBackoff:       500 * time.Millisecond,
	}
}

// Pool は同期ジョブの境界付きワーカープール。
// 単一のコーディネートループがキューからFIFO順にジョブを取り出し、
// semaphoreパターンで最大並列数を制御しながらディスパッチする。
// 個別ジョブの失敗（エラー・panic）はそのジョブ内に封じ込められ、
// プールや他の実行中ジョブには影響しない。
type Pool struct {
	queue  *Queue
	runner JobRunner
	logger *slog.Logger
	depth  DepthRecorder
	config PoolConfig
}

// NewPool はPoolの新しいインスタンスを生成する。
// MaxConcurrentJobsが0以下の場合はデフォルト値3を使用する。
func NewPool(queue *Queue, runner JobRunner, logger *slog.Logger, depth DepthRecorder, config PoolConfig) *Pool {
	if config.MaxConcurrentJobs <= 0 {
		config.MaxConcurrentJobs = 3
	}
	if config.IdleBackoff <= 0 {
		config.IdleBackoff = 500 * time.Millisecond
	}
	return &Pool{
		queue:  queue,
		runner: runner,
		logger: logger,
		depth:  depth,
		config: config,
	}
}

// Run はコーディネートループを実行し、キャンセルされるまでキューを処理し続ける。
// キャンセル時は新規ディスパッチを停止し、実行中の全ジョブの完了を待ってから返る。
// ジョブ自体はキャンセルされないコンテキストで実行されるため、
// 書き込み途中のジョブが中断されることはない。
func (p *Pool) Run(ctx context.Context) {
	sem := make(chan struct{}, p.config.MaxConcurrentJobs)
	var wg stdsync.WaitGroup

	// 実行中ジョブはシャットダウンで中断せず完了させる
	jobCtx := context.WithoutCancel(ctx)

	p.logger.Info("同期ワーカープールを開始しました",
		slog.Int("max_concurrent_jobs", p.config.MaxConcurrentJobs),
		slog.Duration("job_delay", p.config.JobDelay),
	)

	for {
		if ctx.Err() != nil {
			break
		}

		job, ok := p.queue.Pop()
		if p.depth != nil {
			p.depth.SetQueueDepth(p.queue.Depth())
		}
		if !ok {
			// キューが空の場合はバックオフしてビジースピンを避ける
			select {
			case <-ctx.Done():
			case <-time.After(p.config.IdleBackoff):
			}
			continue
		}

		// semaphore取得（キャンセルも待ち受ける）
		select {
		case <-ctx.Done():
			// 取り出したジョブは実行せずに完了扱いとする（次回スケジュールで再同期される）
			p.queue.Done(job.UserID)
		case sem <- struct{}{}:
			wg.Add(1)
			go func(job model.SyncJob) {
				defer wg.Done()
				defer func() { <-sem }()

				p.runJob(jobCtx, job)
				p.queue.Done(job.UserID)

				// ジョブ間の固定遅延でAPI呼び出しレートを抑える
				if p.config.JobDelay > 0 {
					select {
					case <-ctx.Done():
					case <-time.After(p.config.JobDelay):
					}
				}
			}(job)
		}
	}

	wg.Wait()
	p.logger.Info("同期ワーカープールを停止しました")
}

// runJob は1ジョブを実行し、エラーとpanicをジョブ境界内に封じ込める。
func (p *Pool) runJob(ctx context.Context, job model.SyncJob) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("同期ジョブでpanicが発生しました",
				slog.String("user_id", job.UserID),
				slog.String("mode", string(job.Mode)),
				slog.Any("panic", rec),
			)
		}
	}()

	if err := p.runner.Run(ctx, job); err != nil {
		p.logger.Error("同期ジョブの実行に失敗しました",
			slog.String("user_id", job.UserID),
			slog.String("mode", string(job.Mode)),
			slog.String("error", err.Error()),
		)
	}
}
