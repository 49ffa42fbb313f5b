// Package client implements the per-session runtime: session-local view
// state, the mutation coordinator that applies user intents optimistically,
// and the reconciliation engine that merges the hub's broadcast stream back
// into the view.
package client

import (
	"sort"

	"github.com/pulseroom/pulseroom/internal/catalog"
	"github.com/pulseroom/pulseroom/internal/fact"
)

// View is the session-local mirror of server state: the viewed playlist's
// entries ordered by position, the track library, the playlist list and the
// presence roster. All access is serialized by the owning Session.
type View struct {
	PlaylistID string
	Entries    []catalog.PlaylistEntry
	Library    []catalog.Track
	Playlists  []catalog.Playlist
	Roster     []fact.SessionInfo
}

func (v *View) sortByPosition() {
	sort.SliceStable(v.Entries, func(i, j int) bool {
		return v.Entries[i].Position < v.Entries[j].Position
	})
}

func (v *View) indexOf(itemID string) int {
	for i := range v.Entries {
		if v.Entries[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (v *View) entryByTrack(trackID string) *catalog.PlaylistEntry {
	for i := range v.Entries {
		if v.Entries[i].TrackID == trackID {
			return &v.Entries[i]
		}
	}
	return nil
}

func (v *View) removeAt(index int) catalog.PlaylistEntry {
	removed := v.Entries[index]
	v.Entries = append(v.Entries[:index], v.Entries[index+1:]...)
	return removed
}

func (v *View) insert(entry catalog.PlaylistEntry) {
	v.Entries = append(v.Entries, entry)
	v.sortByPosition()
}

// setVotes overwrites the shared counter for every local occurrence of a
// track: the playlist entries and the library listing.
func (v *View) setVotes(trackID string, votes int64) {
	for i := range v.Entries {
		if v.Entries[i].TrackID == trackID {
			v.Entries[i].Track.Votes = votes
		}
	}
	for i := range v.Library {
		if v.Library[i].ID == trackID {
			v.Library[i].Votes = votes
		}
	}
}

// activeEntry returns the entry currently marked playing, or nil.
func (v *View) activeEntry() *catalog.PlaylistEntry {
	for i := range v.Entries {
		if v.Entries[i].IsPlaying {
			return &v.Entries[i]
		}
	}
	return nil
}

// setActive marks exactly one entry as playing and clears every sibling.
// An empty id clears the flag everywhere.
func (v *View) setActive(itemID string) {
	for i := range v.Entries {
		v.Entries[i].IsPlaying = v.Entries[i].ID == itemID
	}
}
