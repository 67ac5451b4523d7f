// Package sync はユーザー単位の同期ジョブのスケジューリングと実行を提供する。
// ジョブキュー、境界付きワーカープール、フルリインデックスエンジン、
// 差分同期エンジン、同期対象ユーザーのスケジューラを含む。
package sync

import (
	stdsync "sync"

	"github.com/hitoshi/chartman/internal/model"
)

// Queue は同期ジョブのFIFOキュー。
// Enqueueはノンブロッキングで失敗せず、同一ユーザーの重複登録は
// キュー内・実行中の両方に対して排除される（二重処理による集計の競合を防ぐ）。
type Queue struct {
	mu      stdsync.Mutex
	jobs    []model.SyncJob
	pending map[string]struct{} // キュー内または実行中のユーザーID
}

// NewQueue はQueueの新しいインスタンスを生成する。
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[string]struct{}),
	}
}

// Enqueue はジョブをキューに追加する。
// 同一ユーザーのジョブがキュー内または実行中の場合は追加せずfalseを返す。
// それ以外は常に成功しtrueを返す。
func (q *Queue) Enqueue(job model.SyncJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[job.UserID]; exists {
		return false
	}

	q.pending[job.UserID] = struct{}{}
	q.jobs = append(q.jobs, job)
	return true
}

// Pop はキューの先頭ジョブを取り出す。キューが空の場合はfalseを返す。
// 取り出されたジョブのユーザーはDoneが呼ばれるまで実行中として扱われ、
// 再エンキューは排除される。
func (q *Queue) Pop() (model.SyncJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return model.SyncJob{}, false
	}

	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

// Done はジョブの完了を記録し、同一ユーザーの再エンキューを許可する。
func (q *Queue) Done(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, userID)
}

// Depth はキュー内の未実行ジョブ数を返す。
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
