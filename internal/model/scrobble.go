package model

import "time"

// Scrobble は外部サービスに記録された1回の再生イベントを表す。
type Scrobble struct {
	Artist     string
	Album      string
	Track      string
	TimePlayed time.Time
}

// EntityClass は集計対象のエンティティ種別を表す。
type EntityClass string

const (
	// EntityClassArtist はアーティスト単位の集計。
	EntityClassArtist EntityClass = "artist"
	// EntityClassAlbum は（アーティスト, アルバム）単位の集計。
	EntityClassAlbum EntityClass = "album"
	// EntityClassTrack は（アーティスト, トラック）単位の集計。
	EntityClassTrack EntityClass = "track"
)

// TopEntry は外部サービスの全期間トップリストの1項目を表す。
// アーティストの場合はArtistNameが空、アルバム/トラックの場合は所属アーティスト名が入る。
type TopEntry struct {
	Name       string
	ArtistName string
	Playcount  int64
}

// EntityKey はランキング対象のエンティティを指定するキー。
// Album/Trackが両方空の場合はアーティスト単位、どちらか一方が指定される。
type EntityKey struct {
	Artist string
	Album  string
	Track  string
}

// Class はキーが指すエンティティ種別を返す。
func (k EntityKey) Class() EntityClass {
	switch {
	case k.Album != "":
		return EntityClassAlbum
	case k.Track != "":
		return EntityClassTrack
	default:
		return EntityClassArtist
	}
}
