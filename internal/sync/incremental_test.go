package sync

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/chartman/internal/model"
)

func indexedUser(checkpoint time.Time) *model.User {
	now := checkpoint
	return &model.User{
		ID:                 "user-1",
		DiscordID:          "111111111111111111",
		LastfmUsername:     "listener1",
		LastIndexed:        &now,
		LastScrobbleUpdate: &now,
	}
}

func TestIncrementalEngine_Run_AppliesOnlyStrictlyNewerScrobbles(t *testing.T) {
	var buf bytes.Buffer

	checkpoint := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &mockSourceClient{
		recentTracksFunc: func(ctx context.Context, user string, limit int) ([]model.Scrobble, error) {
			return []model.Scrobble{
				// チェックポイントちょうどの再生は二重加算を避けるため対象外
				{Artist: "Perfume", Album: "GAME", Track: "Polyrhythm", TimePlayed: checkpoint},
				{Artist: "Perfume", Album: "GAME", Track: "Polyrhythm", TimePlayed: checkpoint.Add(10 * time.Minute)},
				{Artist: "Sakanaction", Album: "sakanaction", Track: "Music", TimePlayed: checkpoint.Add(20 * time.Minute)},
			}, nil
		},
	}

	artistDeltas := make(map[string]int64)
	aggregates := &mockAggregateRepo{
		incrementArtistFunc: func(ctx context.Context, userID, name string, delta int64) (bool, error) {
			artistDeltas[name] += delta
			return true, nil
		},
	}

	var advancedTo time.Time
	users := &mockUserRepo{
		advanceCheckpointFunc: func(ctx context.Context, userID string, updatedAt, scrobbleAt time.Time) error {
			advancedTo = scrobbleAt
			return nil
		},
	}

	recorder := &mockIncrementsRecorder{}
	e := NewIncrementalEngine(source, &mockAliasResolver{}, users, aggregates,
		newTestLogger(&buf), recorder, DefaultIncrementalConfig())

	if err := e.Run(context.Background(), indexedUser(checkpoint)); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if artistDeltas["Perfume"] != 1 {
		t.Errorf("Perfumeへの加算 = %d, want 1 (境界ちょうどの再生は除外)", artistDeltas["Perfume"])
	}
	if artistDeltas["Sakanaction"] != 1 {
		t.Errorf("Sakanactionへの加算 = %d, want 1", artistDeltas["Sakanaction"])
	}

	want := checkpoint.Add(20 * time.Minute)
	if !advancedTo.Equal(want) {
		t.Errorf("チェックポイントの前進先 = %v, want %v", advancedTo, want)
	}
}

func TestIncrementalEngine_Run_GroupsRepeatedPlays(t *testing.T) {
	var buf bytes.Buffer

	checkpoint := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &mockSourceClient{
		recentTracksFunc: func(ctx context.Context, user string, limit int) ([]model.Scrobble, error) {
			return []model.Scrobble{
				{Artist: "Perfume", Album: "GAME", Track: "Polyrhythm", TimePlayed: checkpoint.Add(1 * time.Minute)},
				{Artist: "Perfume", Album: "GAME", Track: "Polyrhythm", TimePlayed: checkpoint.Add(2 * time.Minute)},
				{Artist: "Perfume", Album: "GAME", Track: "Polyrhythm", TimePlayed: checkpoint.Add(3 * time.Minute)},
			}, nil
		},
	}

	var artistCalls int
	var artistDelta, trackDelta int64
	aggregates := &mockAggregateRepo{
		incrementArtistFunc: func(ctx context.Context, userID, name string, delta int64) (bool, error) {
			artistCalls++
			artistDelta = delta
			return true, nil
		},
		incrementTrackFunc: func(ctx context.Context, userID, artistName, name string, delta int64) (bool, error) {
			trackDelta = delta
			return true, nil
		},
	}

	e := NewIncrementalEngine(source, &mockAliasResolver{}, &mockUserRepo{}, aggregates,
		newTestLogger(&buf), nil, DefaultIncrementalConfig())

	if err := e.Run(context.Background(), indexedUser(checkpoint)); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	// 同一エンティティの複数再生は1回のUPDATEにまとめる
	if artistCalls != 1 {
		t.Errorf("アーティストへのUPDATE回数 = %d, want 1", artistCalls)
	}
	if artistDelta != 3 {
		t.Errorf("アーティストへの加算量 = %d, want 3", artistDelta)
	}
	if trackDelta != 3 {
		t.Errorf("トラックへの加算量 = %d, want 3", trackDelta)
	}
}

func TestIncrementalEngine_Run_ZeroDeltaTouchesLastUpdatedOnly(t *testing.T) {
	var buf bytes.Buffer

	checkpoint := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &mockSourceClient{
		recentTracksFunc: func(ctx context.Context, user string, limit int) ([]model.Scrobble, error) {
			return []model.Scrobble{
				{Artist: "Perfume", Track: "Polyrhythm", TimePlayed: checkpoint.Add(-1 * time.Hour)},
			}, nil
		},
	}

	touched := false
	advanced := false
	users := &mockUserRepo{
		touchLastUpdatedFunc: func(ctx context.Context, userID string, at time.Time) error {
			touched = true
			return nil
		},
		advanceCheckpointFunc: func(ctx context.Context, userID string, updatedAt, scrobbleAt time.Time) error {
			advanced = true
			return nil
		},
	}

	incremented := false
	aggregates := &mockAggregateRepo{
		incrementArtistFunc: func(ctx context.Context, userID, name string, delta int64) (bool, error) {
			incremented = true
			return true, nil
		},
	}

	e := NewIncrementalEngine(source, &mockAliasResolver{}, users, aggregates,
		newTestLogger(&buf), nil, DefaultIncrementalConfig())

	if err := e.Run(context.Background(), indexedUser(checkpoint)); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if !touched {
		t.Error("ゼロデルタ時は TouchLastUpdated が呼ばれるべき")
	}
	if advanced {
		t.Error("ゼロデルタ時にチェックポイントを前進させてはならない")
	}
	if incremented {
		t.Error("ゼロデルタ時に集計へ加算してはならない")
	}
}

func TestIncrementalEngine_Run_Idempotency(t *testing.T) {
	var buf bytes.Buffer

	checkpoint := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	batch := []model.Scrobble{
		{Artist: "Perfume", Track: "Polyrhythm", TimePlayed: checkpoint.Add(5 * time.Minute)},
	}
	source := &mockSourceClient{
		recentTracksFunc: func(ctx context.Context, user string, limit int) ([]model.Scrobble, error) {
			return batch, nil
		},
	}

	var totalDelta int64
	aggregates := &mockAggregateRepo{
		incrementArtistFunc: func(ctx context.Context, userID, name string, delta int64) (bool, error) {
			totalDelta += delta
			return true, nil
		},
	}

	user := indexedUser(checkpoint)
	users := &mockUserRepo{
		advanceCheckpointFunc: func(ctx context.Context, userID string, updatedAt, scrobbleAt time.Time) error {
			// 永続化されたチェックポイントの前進をユーザーへ反映する
			t := scrobbleAt
			user.LastScrobbleUpdate = &t
			return nil
		},
	}

	e := NewIncrementalEngine(source, &mockAliasResolver{}, users, aggregates,
		newTestLogger(&buf), nil, DefaultIncrementalConfig())

	// 同一バッチで2回実行しても加算は1回分のみ
	if err := e.Run(context.Background(), user); err != nil {
		t.Fatalf("1回目のRun() がエラーを返した: %v", err)
	}
	if err := e.Run(context.Background(), user); err != nil {
		t.Fatalf("2回目のRun() がエラーを返した: %v", err)
	}

	if totalDelta != 1 {
		t.Errorf("加算量の合計 = %d, want 1 (再実行で二重加算しない)", totalDelta)
	}
}

func TestIncrementalEngine_Run_MissingRowIsLoggedNoop(t *testing.T) {
	var buf bytes.Buffer

	checkpoint := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &mockSourceClient{
		recentTracksFunc: func(ctx context.Context, user string, limit int) ([]model.Scrobble, error) {
			return []model.Scrobble{
				{Artist: "Unknown Artist", Track: "New Song", TimePlayed: checkpoint.Add(5 * time.Minute)},
			}, nil
		},
	}

	aggregates := &mockAggregateRepo{
		incrementArtistFunc: func(ctx context.Context, userID, name string, delta int64) (bool, error) {
			return false, nil
		},
		incrementTrackFunc: func(ctx context.Context, userID, artistName, name string, delta int64) (bool, error) {
			return false, nil
		},
	}

	advanced := false
	users := &mockUserRepo{
		advanceCheckpointFunc: func(ctx context.Context, userID string, updatedAt, scrobbleAt time.Time) error {
			advanced = true
			return nil
		},
	}

	recorder := &mockIncrementsRecorder{}
	e := NewIncrementalEngine(source, &mockAliasResolver{}, users, aggregates,
		newTestLogger(&buf), recorder, DefaultIncrementalConfig())

	if err := e.Run(context.Background(), indexedUser(checkpoint)); err != nil {
		t.Fatalf("対象行が存在しない場合もRun() はエラーを返すべきではない: %v", err)
	}

	if recorder.applied != 0 {
		t.Errorf("適用された加算数 = %d, want 0", recorder.applied)
	}
	if !strings.Contains(buf.String(), "WARN") {
		t.Error("対象行の不在は警告ログに記録されるべき")
	}
	// 加算がスキップされてもチェックポイントは前進する
	if !advanced {
		t.Error("チェックポイントは前進するべき")
	}
}

func TestIncrementalEngine_Run_AliasTransparency(t *testing.T) {
	var buf bytes.Buffer

	checkpoint := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	source := &mockSourceClient{
		recentTracksFunc: func(ctx context.Context, user string, limit int) ([]model.Scrobble, error) {
			return []model.Scrobble{
				{Artist: "SUPERCAR", Track: "Cream Soda", TimePlayed: checkpoint.Add(5 * time.Minute)},
			}, nil
		},
	}

	resolver := &mockAliasResolver{mapping: map[string]string{
		"SUPERCAR": "Supercar",
	}}

	var gotArtist string
	aggregates := &mockAggregateRepo{
		incrementArtistFunc: func(ctx context.Context, userID, name string, delta int64) (bool, error) {
			gotArtist = name
			return true, nil
		},
	}

	e := NewIncrementalEngine(source, resolver, &mockUserRepo{}, aggregates,
		newTestLogger(&buf), nil, DefaultIncrementalConfig())

	if err := e.Run(context.Background(), indexedUser(checkpoint)); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if gotArtist != "Supercar" {
		t.Errorf("加算対象のアーティスト名 = %s, want Supercar (エイリアス解決後)", gotArtist)
	}
}

func TestIncrementalEngine_Run_FetchErrorLeavesCheckpointUntouched(t *testing.T) {
	var buf bytes.Buffer

	source := &mockSourceClient{
		recentTracksFunc: func(ctx context.Context, user string, limit int) ([]model.Scrobble, error) {
			return nil, errors.New("upstream timeout")
		},
	}

	advanced := false
	touched := false
	users := &mockUserRepo{
		advanceCheckpointFunc: func(ctx context.Context, userID string, updatedAt, scrobbleAt time.Time) error {
			advanced = true
			return nil
		},
		touchLastUpdatedFunc: func(ctx context.Context, userID string, at time.Time) error {
			touched = true
			return nil
		},
	}

	e := NewIncrementalEngine(source, &mockAliasResolver{}, users, &mockAggregateRepo{},
		newTestLogger(&buf), nil, DefaultIncrementalConfig())

	checkpoint := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	if err := e.Run(context.Background(), indexedUser(checkpoint)); err == nil {
		t.Fatal("Run() は取得失敗時にエラーを返すべき")
	}

	if advanced || touched {
		t.Error("取得失敗時にユーザーの同期状態を更新してはならない")
	}
}

func TestIncrementalEngine_Run_NilCheckpointTreatsAllAsFresh(t *testing.T) {
	var buf bytes.Buffer

	source := &mockSourceClient{
		recentTracksFunc: func(ctx context.Context, user string, limit int) ([]model.Scrobble, error) {
			return []model.Scrobble{
				{Artist: "Perfume", Track: "Polyrhythm", TimePlayed: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)},
			}, nil
		},
	}

	var delta int64
	aggregates := &mockAggregateRepo{
		incrementArtistFunc: func(ctx context.Context, userID, name string, delta0 int64) (bool, error) {
			delta += delta0
			return true, nil
		},
	}

	e := NewIncrementalEngine(source, &mockAliasResolver{}, &mockUserRepo{}, aggregates,
		newTestLogger(&buf), nil, DefaultIncrementalConfig())

	user := testUser() // チェックポイントなし
	if err := e.Run(context.Background(), user); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if delta != 1 {
		t.Errorf("加算量 = %d, want 1 (チェックポイント不在時は全件が対象)", delta)
	}
}
