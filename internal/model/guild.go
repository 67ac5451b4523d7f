package model

// GuildSettings はギルドスコープのランキングに適用される設定を表す。
type GuildSettings struct {
	GuildID string
	// ActivityThresholdDays は非アクティブ判定の日数。
	// nilの場合はアクティビティによる足切りを行わない。
	ActivityThresholdDays *int
	// PrivacyFloor はランキングに掲載される最低再生数。0は無効。
	PrivacyFloor int
}

// GuildBlockKind はギルド単位のユーザーブロック種別を表す。
type GuildBlockKind string

const (
	// GuildBlockKindBlocked はギルドの全機能から除外されるブロック。
	GuildBlockKindBlocked GuildBlockKind = "blocked"
	// GuildBlockKindHidden はランキング表示からのみ除外される非表示フラグ。
	GuildBlockKindHidden GuildBlockKind = "hidden"
)

// GuildMember はギルドスコープのランキング対象となるメンバーを表す。
// メンバーシップの解決は呼び出し側（コマンド層）の責務で、ここには確定済みのリストが渡される。
type GuildMember struct {
	UserID string
}
