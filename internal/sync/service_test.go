package sync

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/chartman/internal/model"
)

func newTestSyncer(users *mockUserRepo, source *mockSourceClient, aggregates *mockAggregateRepo, recorder *mockSyncRecorder, buf *bytes.Buffer) *Syncer {
	logger := newTestLogger(buf)
	reindex := NewReindexEngine(source, &mockAliasResolver{}, users, aggregates, logger, nil, DefaultReindexConfig())
	incremental := NewIncrementalEngine(source, &mockAliasResolver{}, users, aggregates, logger, nil, DefaultIncrementalConfig())
	return NewSyncer(users, reindex, incremental, logger, recorder)
}

func TestSyncer_Run_DispatchesReindex(t *testing.T) {
	var buf bytes.Buffer

	marked := false
	users := &mockUserRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.User, error) {
			return testUser(), nil
		},
		markIndexedFunc: func(ctx context.Context, userID string, indexedAt time.Time, lastScrobble *time.Time) error {
			marked = true
			return nil
		},
	}

	recorder := &mockSyncRecorder{}
	s := newTestSyncer(users, &mockSourceClient{}, &mockAggregateRepo{}, recorder, &buf)

	err := s.Run(context.Background(), model.SyncJob{UserID: "user-1", Mode: model.SyncModeReindex})
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if !marked {
		t.Error("リインデックスジョブで MarkIndexed が呼ばれていない")
	}
	if recorder.successes.Load() != 1 {
		t.Errorf("成功メトリクスの記録数 = %d, want 1", recorder.successes.Load())
	}
	if recorder.latencies.Load() != 1 {
		t.Errorf("レイテンシメトリクスの記録数 = %d, want 1", recorder.latencies.Load())
	}
}

func TestSyncer_Run_DispatchesIncremental(t *testing.T) {
	var buf bytes.Buffer

	checkpoint := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	touched := false
	users := &mockUserRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.User, error) {
			return indexedUser(checkpoint), nil
		},
		touchLastUpdatedFunc: func(ctx context.Context, userID string, at time.Time) error {
			touched = true
			return nil
		},
	}

	recorder := &mockSyncRecorder{}
	s := newTestSyncer(users, &mockSourceClient{}, &mockAggregateRepo{}, recorder, &buf)

	err := s.Run(context.Background(), model.SyncJob{UserID: "user-1", Mode: model.SyncModeIncremental})
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	// 新規再生なし → ゼロデルタ経路
	if !touched {
		t.Error("増分ジョブで TouchLastUpdated が呼ばれていない")
	}
	if recorder.successes.Load() != 1 {
		t.Errorf("成功メトリクスの記録数 = %d, want 1", recorder.successes.Load())
	}
}

func TestSyncer_Run_PromotesIncrementalForUnindexedUser(t *testing.T) {
	var buf bytes.Buffer

	marked := false
	users := &mockUserRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.User, error) {
			return testUser(), nil // 未インデックス
		},
		markIndexedFunc: func(ctx context.Context, userID string, indexedAt time.Time, lastScrobble *time.Time) error {
			marked = true
			return nil
		},
	}

	recorder := &mockSyncRecorder{}
	s := newTestSyncer(users, &mockSourceClient{}, &mockAggregateRepo{}, recorder, &buf)

	err := s.Run(context.Background(), model.SyncJob{UserID: "user-1", Mode: model.SyncModeIncremental})
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	// 未インデックスのユーザーはフルリインデックスへ昇格する
	if !marked {
		t.Error("未インデックスユーザーの増分ジョブはリインデックスとして実行されるべき")
	}
}

func TestSyncer_Run_MissingUserIsNoop(t *testing.T) {
	var buf bytes.Buffer

	users := &mockUserRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.User, error) {
			return nil, nil
		},
	}

	recorder := &mockSyncRecorder{}
	s := newTestSyncer(users, &mockSourceClient{}, &mockAggregateRepo{}, recorder, &buf)

	err := s.Run(context.Background(), model.SyncJob{UserID: "ghost", Mode: model.SyncModeIncremental})
	if err != nil {
		t.Fatalf("存在しないユーザーのジョブはエラーにすべきではない: %v", err)
	}
}

func TestSyncer_Run_RecordsFailureReason(t *testing.T) {
	var buf bytes.Buffer

	users := &mockUserRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.User, error) {
			return indexedUser(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)), nil
		},
	}

	source := &mockSourceClient{
		recentTracksFunc: func(ctx context.Context, user string, limit int) ([]model.Scrobble, error) {
			return nil, model.NewSourceError(model.SourceErrorRateLimited, "user.getrecenttracks", "rate limit exceeded")
		},
	}

	recorder := &mockSyncRecorder{}
	s := newTestSyncer(users, source, &mockAggregateRepo{}, recorder, &buf)

	err := s.Run(context.Background(), model.SyncJob{UserID: "user-1", Mode: model.SyncModeIncremental})
	if err == nil {
		t.Fatal("Run() は外部エラー時にエラーを返すべき")
	}

	if recorder.failures.Load() != 1 {
		t.Errorf("失敗メトリクスの記録数 = %d, want 1", recorder.failures.Load())
	}
	if got := recorder.lastReason.Load(); got != "source_rate_limited" {
		t.Errorf("失敗理由 = %v, want source_rate_limited", got)
	}
}

func TestSyncer_Run_InternalFailureReason(t *testing.T) {
	var buf bytes.Buffer

	users := &mockUserRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.User, error) {
			return nil, errors.New("db connection failed")
		},
	}

	recorder := &mockSyncRecorder{}
	s := newTestSyncer(users, &mockSourceClient{}, &mockAggregateRepo{}, recorder, &buf)

	err := s.Run(context.Background(), model.SyncJob{UserID: "user-1", Mode: model.SyncModeIncremental})
	if err == nil {
		t.Fatal("Run() はユーザー取得失敗時にエラーを返すべき")
	}
	if got := recorder.lastReason.Load(); got != "user_lookup" {
		t.Errorf("失敗理由 = %v, want user_lookup", got)
	}
}
