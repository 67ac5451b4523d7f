package sync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hitoshi/chartman/internal/model"
	"github.com/hitoshi/chartman/internal/repository"
)

// --- 同期エンジンのテストで共有するモック定義 ---

// mockSourceClient はSourceClientのテスト用モック。
type mockSourceClient struct {
	topArtistsFunc   func(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error)
	topAlbumsFunc    func(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error)
	topTracksFunc    func(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error)
	recentTracksFunc func(ctx context.Context, user string, limit int) ([]model.Scrobble, error)
}

func (m *mockSourceClient) TopArtists(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error) {
	if m.topArtistsFunc != nil {
		return m.topArtistsFunc(ctx, user, page, limit)
	}
	return nil, false, nil
}

func (m *mockSourceClient) TopAlbums(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error) {
	if m.topAlbumsFunc != nil {
		return m.topAlbumsFunc(ctx, user, page, limit)
	}
	return nil, false, nil
}

func (m *mockSourceClient) TopTracks(ctx context.Context, user string, page, limit int) ([]model.TopEntry, bool, error) {
	if m.topTracksFunc != nil {
		return m.topTracksFunc(ctx, user, page, limit)
	}
	return nil, false, nil
}

func (m *mockSourceClient) RecentTracks(ctx context.Context, user string, limit int) ([]model.Scrobble, error) {
	if m.recentTracksFunc != nil {
		return m.recentTracksFunc(ctx, user, limit)
	}
	return nil, nil
}

// mockAliasResolver はAliasResolverのテスト用モック。
// mappingが未設定の名前は恒等写像として扱う。
type mockAliasResolver struct {
	mapping map[string]string
}

func (m *mockAliasResolver) Resolve(rawName string) string {
	if canonical, ok := m.mapping[rawName]; ok {
		return canonical
	}
	return rawName
}

// mockUserRepo はUserRepositoryのテスト用モック。
type mockUserRepo struct {
	findByIDFunc          func(ctx context.Context, id string) (*model.User, error)
	findByDiscordIDFunc   func(ctx context.Context, discordID string) (*model.User, error)
	createFunc            func(ctx context.Context, user *model.User) error
	listDueForSyncFunc    func(ctx context.Context, staleBefore time.Time, limit int) ([]*model.User, error)
	markIndexedFunc       func(ctx context.Context, userID string, indexedAt time.Time, lastScrobble *time.Time) error
	touchLastUpdatedFunc  func(ctx context.Context, userID string, at time.Time) error
	advanceCheckpointFunc func(ctx context.Context, userID string, updatedAt, scrobbleAt time.Time) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByDiscordID(ctx context.Context, discordID string) (*model.User, error) {
	if m.findByDiscordIDFunc != nil {
		return m.findByDiscordIDFunc(ctx, discordID)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) ListDueForSync(ctx context.Context, staleBefore time.Time, limit int) ([]*model.User, error) {
	if m.listDueForSyncFunc != nil {
		return m.listDueForSyncFunc(ctx, staleBefore, limit)
	}
	return nil, nil
}

func (m *mockUserRepo) MarkIndexed(ctx context.Context, userID string, indexedAt time.Time, lastScrobble *time.Time) error {
	if m.markIndexedFunc != nil {
		return m.markIndexedFunc(ctx, userID, indexedAt, lastScrobble)
	}
	return nil
}

func (m *mockUserRepo) TouchLastUpdated(ctx context.Context, userID string, at time.Time) error {
	if m.touchLastUpdatedFunc != nil {
		return m.touchLastUpdatedFunc(ctx, userID, at)
	}
	return nil
}

func (m *mockUserRepo) AdvanceCheckpoint(ctx context.Context, userID string, updatedAt, scrobbleAt time.Time) error {
	if m.advanceCheckpointFunc != nil {
		return m.advanceCheckpointFunc(ctx, userID, updatedAt, scrobbleAt)
	}
	return nil
}

// mockAggregateRepo はAggregateRepositoryのテスト用モック。
type mockAggregateRepo struct {
	replaceArtistsFunc   func(ctx context.Context, userID string, rows []model.ArtistAggregate) error
	replaceAlbumsFunc    func(ctx context.Context, userID string, rows []model.AlbumAggregate) error
	replaceTracksFunc    func(ctx context.Context, userID string, rows []model.TrackAggregate) error
	incrementArtistFunc  func(ctx context.Context, userID, name string, delta int64) (bool, error)
	incrementAlbumFunc   func(ctx context.Context, userID, artistName, name string, delta int64) (bool, error)
	incrementTrackFunc   func(ctx context.Context, userID, artistName, name string, delta int64) (bool, error)
	globalRankRowsFunc   func(ctx context.Context, key model.EntityKey) ([]repository.RankRow, error)
	rankRowsForUsersFunc func(ctx context.Context, key model.EntityKey, userIDs []string) ([]repository.RankRow, error)
}

func (m *mockAggregateRepo) ReplaceArtists(ctx context.Context, userID string, rows []model.ArtistAggregate) error {
	if m.replaceArtistsFunc != nil {
		return m.replaceArtistsFunc(ctx, userID, rows)
	}
	return nil
}

func (m *mockAggregateRepo) ReplaceAlbums(ctx context.Context, userID string, rows []model.AlbumAggregate) error {
	if m.replaceAlbumsFunc != nil {
		return m.replaceAlbumsFunc(ctx, userID, rows)
	}
	return nil
}

func (m *mockAggregateRepo) ReplaceTracks(ctx context.Context, userID string, rows []model.TrackAggregate) error {
	if m.replaceTracksFunc != nil {
		return m.replaceTracksFunc(ctx, userID, rows)
	}
	return nil
}

func (m *mockAggregateRepo) IncrementArtist(ctx context.Context, userID, name string, delta int64) (bool, error) {
	if m.incrementArtistFunc != nil {
		return m.incrementArtistFunc(ctx, userID, name, delta)
	}
	return true, nil
}

func (m *mockAggregateRepo) IncrementAlbum(ctx context.Context, userID, artistName, name string, delta int64) (bool, error) {
	if m.incrementAlbumFunc != nil {
		return m.incrementAlbumFunc(ctx, userID, artistName, name, delta)
	}
	return true, nil
}

func (m *mockAggregateRepo) IncrementTrack(ctx context.Context, userID, artistName, name string, delta int64) (bool, error) {
	if m.incrementTrackFunc != nil {
		return m.incrementTrackFunc(ctx, userID, artistName, name, delta)
	}
	return true, nil
}

func (m *mockAggregateRepo) GlobalRankRows(ctx context.Context, key model.EntityKey) ([]repository.RankRow, error) {
	if m.globalRankRowsFunc != nil {
		return m.globalRankRowsFunc(ctx, key)
	}
	return nil, nil
}

func (m *mockAggregateRepo) RankRowsForUsers(ctx context.Context, key model.EntityKey, userIDs []string) ([]repository.RankRow, error) {
	if m.rankRowsForUsersFunc != nil {
		return m.rankRowsForUsersFunc(ctx, key, userIDs)
	}
	return nil, nil
}

// mockSyncRecorder は同期メトリクスのテスト用モック。
type mockSyncRecorder struct {
	successes  atomic.Int32
	failures   atomic.Int32
	latencies  atomic.Int32
	lastReason atomic.Value // string
}

func (m *mockSyncRecorder) RecordSyncSuccess(mode string) { m.successes.Add(1) }

func (m *mockSyncRecorder) RecordSyncFailure(mode, reason string) {
	m.failures.Add(1)
	m.lastReason.Store(reason)
}

func (m *mockSyncRecorder) RecordSyncLatency(mode string, duration time.Duration) {
	m.latencies.Add(1)
}

// mockRowsRecorder はリインデックス行数メトリクスのテスト用モック。
type mockRowsRecorder struct {
	replaced map[string]int
}

func (m *mockRowsRecorder) RecordRowsReplaced(class string, count int) {
	if m.replaced == nil {
		m.replaced = make(map[string]int)
	}
	m.replaced[class] = count
}

// mockIncrementsRecorder は増分適用メトリクスのテスト用モック。
type mockIncrementsRecorder struct {
	applied int
}

func (m *mockIncrementsRecorder) RecordIncrementsApplied(count int) {
	m.applied += count
}
