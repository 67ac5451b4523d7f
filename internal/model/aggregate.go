package model

import "time"

// ArtistAggregate はユーザー×アーティストの累計再生数を表す。
// Nameはエイリアス解決後の正規名で保持する。
type ArtistAggregate struct {
	UserID    string
	Name      string
	Playcount int64
}

// AlbumAggregate はユーザー×（アーティスト, アルバム）の累計再生数を表す。
type AlbumAggregate struct {
	UserID     string
	ArtistName string
	Name       string
	Playcount  int64
}

// TrackAggregate はユーザー×（アーティスト, トラック）の累計再生数を表す。
type TrackAggregate struct {
	UserID     string
	ArtistName string
	Name       string
	Playcount  int64
}

// Alias は外部サービスの表記ゆれ名から正規アーティスト名へのマッピングを表す。
// 多対1・大文字小文字を区別しない完全一致で解決される。
// 同期処理からは読み取り専用で、メンテナンスは外部のキュレーション処理が行う。
type Alias struct {
	ID            string
	RawName       string
	CanonicalName string
}

// ExclusionKind は除外エントリの種別を表す。
type ExclusionKind string

const (
	// ExclusionKindBan はBANによる恒久的または期限付きの除外。
	ExclusionKindBan ExclusionKind = "ban"
	// ExclusionKindFraud は不正検出による除外。
	// フラグ付与から一定期間（ローリングウィンドウ）のみランキングから除外される。
	ExclusionKindFraud ExclusionKind = "fraud"
)

// Exclusion はグローバルランキングから除外される外部ユーザー名のエントリを表す。
type Exclusion struct {
	ID             string
	LastfmUsername string
	Kind           ExclusionKind
	Reason         string
	FlaggedAt      time.Time
	// ExpiresAt はBANの期限。nilの場合は無期限。
	ExpiresAt *time.Time
}
