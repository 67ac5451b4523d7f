// Package model はドメインモデルを定義する。
package model

import "time"

// User は登録済みユーザーを表す。
// 外部スクロブルサービスのアカウントと1対1で紐付く。
type User struct {
	ID             string
	DiscordID      string
	LastfmUsername string

	// LastIndexed は最後にフルリインデックスが完了した日時。未実施の場合はnil。
	LastIndexed *time.Time
	// LastUpdated は最後に差分同期パスが完了した日時。
	LastUpdated *time.Time
	// LastScrobbleUpdate は集計に反映済みの最新再生のタイムスタンプ（チェックポイント）。
	// 前進のみ許可され、後退することはない。
	LastScrobbleUpdate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Indexed はユーザーがフルリインデックス済みかどうかを返す。
// 未インデックスのユーザーには差分同期ではなくリインデックスを実行する。
func (u *User) Indexed() bool {
	return u.LastIndexed != nil
}

// SyncMode は同期ジョブの実行モードを表す。
type SyncMode string

const (
	// SyncModeReindex はフルリインデックス（全集計の置き換え）を示す。
	SyncModeReindex SyncMode = "reindex"
	// SyncModeIncremental はチェックポイント以降の差分適用を示す。
	SyncModeIncremental SyncMode = "incremental"
)

// SyncJob はキューに積まれる1ユーザー分の同期ジョブ。
// キュー内にのみ存在し、永続化はされない。
type SyncJob struct {
	UserID string
	Mode   SyncMode
}
