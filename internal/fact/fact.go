// Package fact defines the authoritative broadcast messages the hub fans out
// to connected sessions, as a closed set of typed variants plus the wire
// envelope that carries them.
package fact

import (
	"fmt"
	"time"

	"github.com/pulseroom/pulseroom/internal/catalog"
)

// Kind discriminates the fact variants on the wire.
type Kind string

const (
	KindSessionJoined     Kind = "session.joined"
	KindSessionsPresence  Kind = "sessions.presence"
	KindCollectionCreated Kind = "collection.created"
	KindCollectionDeleted Kind = "collection.deleted"
	KindItemAdded         Kind = "item.added"
	KindItemRemoved       Kind = "item.removed"
	KindItemMoved         Kind = "item.moved"
	KindItemVoted         Kind = "item.voted"
	KindItemActivated     Kind = "item.activated"
	KindKeepalive         Kind = "ping"
)

// Fact is one authoritative change broadcast by the hub. The set of
// implementations is closed; Decode is the single place a new variant must be
// registered.
type Fact interface {
	Kind() Kind
}

// SessionInfo describes one connected session for presence payloads.
type SessionInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// SessionJoined is sent to a newly attached session only, carrying its
// assigned identity.
type SessionJoined struct {
	Session SessionInfo `json:"session"`
}

// SessionsPresence carries the full roster of connected sessions.
type SessionsPresence struct {
	Sessions []SessionInfo `json:"sessions"`
}

// CollectionCreated announces a new playlist.
type CollectionCreated struct {
	Playlist catalog.Playlist `json:"playlist"`
}

// CollectionDeleted announces a deleted playlist.
type CollectionDeleted struct {
	PlaylistID string `json:"playlist_id"`
}

// ItemAdded carries the full membership record. Receivers refetch the whole
// playlist rather than patching, since a partial payload cannot reconstruct
// neighbor-relative positions for every receiver.
type ItemAdded struct {
	PlaylistID string                `json:"playlist_id"`
	Item       catalog.PlaylistEntry `json:"item"`
}

// ItemRemoved announces a deleted membership.
type ItemRemoved struct {
	PlaylistID string `json:"playlist_id"`
	ItemID     string `json:"item_id"`
}

// ItemMoved carries the authoritative position for one membership.
type ItemMoved struct {
	PlaylistID string  `json:"playlist_id"`
	ItemID     string  `json:"item_id"`
	Position   float64 `json:"position"`
}

// ItemVoted carries the authoritative shared counter for a track.
type ItemVoted struct {
	PlaylistID string `json:"playlist_id"`
	ItemID     string `json:"item_id"`
	TrackID    string `json:"track_id"`
	Votes      int64  `json:"votes"`
}

// ItemActivated names the single membership now playing in a playlist.
type ItemActivated struct {
	PlaylistID string `json:"playlist_id"`
	ItemID     string `json:"item_id"`
}

// Keepalive carries no state. Reconciliation ignores it; it only exists so
// dead connections are detected.
type Keepalive struct{}

func (SessionJoined) Kind() Kind     { return KindSessionJoined }
func (SessionsPresence) Kind() Kind  { return KindSessionsPresence }
func (CollectionCreated) Kind() Kind { return KindCollectionCreated }
func (CollectionDeleted) Kind() Kind { return KindCollectionDeleted }
func (ItemAdded) Kind() Kind         { return KindItemAdded }
func (ItemRemoved) Kind() Kind       { return KindItemRemoved }
func (ItemMoved) Kind() Kind         { return KindItemMoved }
func (ItemVoted) Kind() Kind         { return KindItemVoted }
func (ItemActivated) Kind() Kind     { return KindItemActivated }
func (Keepalive) Kind() Kind         { return KindKeepalive }

// EntityID returns the identifier of the entity a fact is about, used in the
// reconciliation dedup key. Facts without a single affected entity return "".
func EntityID(f Fact) string {
	switch v := f.(type) {
	case ItemAdded:
		return v.Item.ID
	case ItemRemoved:
		return v.ItemID
	case ItemMoved:
		return v.ItemID
	case ItemVoted:
		return v.TrackID
	case ItemActivated:
		return v.ItemID
	case CollectionCreated:
		return v.Playlist.ID
	case CollectionDeleted:
		return v.PlaylistID
	case SessionJoined:
		return v.Session.ID
	case SessionsPresence, Keepalive:
		return ""
	default:
		return ""
	}
}

// CollectionID returns the owning playlist of a collection-scoped fact.
// Session and collection lifecycle facts are unscoped and return false.
func CollectionID(f Fact) (string, bool) {
	switch v := f.(type) {
	case ItemAdded:
		return v.PlaylistID, true
	case ItemRemoved:
		return v.PlaylistID, true
	case ItemMoved:
		return v.PlaylistID, true
	case ItemVoted:
		return v.PlaylistID, true
	case ItemActivated:
		return v.PlaylistID, true
	default:
		return "", false
	}
}

// ErrUnknownKind is returned by Decode for a type outside the closed set.
type ErrUnknownKind struct {
	kind Kind
}

func (e ErrUnknownKind) Error() string {
	return fmt.Sprintf("fact: unknown kind %q", e.kind)
}
