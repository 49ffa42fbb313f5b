// Package catalog is the authoritative record store for tracks, playlists and
// playlist memberships. It is the single source of truth the broadcast hub
// applies mutations against.
package catalog

import "time"

// Track is a shared catalog entry. The vote counter lives here, not on the
// playlist membership, so one counter is shared by every playlist containing
// the track. Tracks are created at catalog load time and never deleted.
type Track struct {
	ID              string `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Title           string `gorm:"column:title;size:500;not null" json:"title"`
	Artist          string `gorm:"column:artist;size:500;not null" json:"artist"`
	Album           string `gorm:"column:album;size:500" json:"album"`
	Genre           string `gorm:"column:genre;size:190;index" json:"genre"`
	DurationSeconds int64  `gorm:"column:duration_seconds;not null" json:"duration_seconds"`
	CoverURL        string `gorm:"column:cover_url;size:1000" json:"cover_url"`
	Votes           int64  `gorm:"column:votes;not null;default:0" json:"votes"`
}

// TableName provides the explicit table binding for GORM.
func (Track) TableName() string {
	return "tracks"
}

// Playlist is a named ordered set of memberships plus metadata.
type Playlist struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Name        string    `gorm:"column:name;size:500;not null" json:"name"`
	Description string    `gorm:"column:description;size:2000" json:"description"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Playlist) TableName() string {
	return "playlists"
}

// PlaylistTrack is one occurrence of a track inside one playlist. The
// composite unique index enforces at most one membership per
// (playlist, track) pair; `Activate` enforces at most one IsPlaying
// membership per playlist.
type PlaylistTrack struct {
	ID         string     `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	PlaylistID string     `gorm:"column:playlist_id;size:190;not null;uniqueIndex:idx_playlist_track,priority:1" json:"playlist_id"`
	TrackID    string     `gorm:"column:track_id;size:190;not null;uniqueIndex:idx_playlist_track,priority:2" json:"track_id"`
	Position   float64    `gorm:"column:position;not null;index" json:"position"`
	IsPlaying  bool       `gorm:"column:is_playing;not null;default:false" json:"is_playing"`
	AddedBy    string     `gorm:"column:added_by;size:190;not null" json:"added_by"`
	AddedAt    time.Time  `gorm:"column:added_at;not null" json:"added_at"`
	PlayedAt   *time.Time `gorm:"column:played_at" json:"played_at"`
}

// TableName provides the explicit table binding for GORM.
func (PlaylistTrack) TableName() string {
	return "playlist_tracks"
}

// PlaylistEntry joins a membership with its track for listing and broadcast
// payloads.
type PlaylistEntry struct {
	PlaylistTrack
	Track Track `gorm:"-" json:"track"`
}

// VoteDirection enumerates the accepted vote directions.
type VoteDirection string

const (
	// VoteUp increments the shared counter by one.
	VoteUp VoteDirection = "up"
	// VoteDown decrements the shared counter by one.
	VoteDown VoteDirection = "down"
)

// Delta returns the signed increment for the direction.
func (d VoteDirection) Delta() int64 {
	if d == VoteDown {
		return -1
	}
	return 1
}

// ParseVoteDirection validates raw input and returns a VoteDirection.
func ParseVoteDirection(raw string) (VoteDirection, error) {
	switch VoteDirection(raw) {
	case VoteUp:
		return VoteUp, nil
	case VoteDown:
		return VoteDown, nil
	default:
		return "", ErrInvalidDirection
	}
}
