package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulseroom/pulseroom/internal/catalog"
	"github.com/pulseroom/pulseroom/internal/fact"
)

func envelopeAt(seq uint64, origin string, f fact.Fact) fact.Envelope {
	return fact.Envelope{
		Seq:       seq,
		Origin:    origin,
		Timestamp: time.Unix(1700000700, 0).UTC(),
		Fact:      f,
	}
}

func TestApplyFactDropsDuplicateDelivery(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	voted := fact.ItemVoted{PlaylistID: "playlist-1", ItemID: "item-1", TrackID: "track-1", Votes: 9}
	if err := session.ApplyFact(context.Background(), envelopeAt(7, "", voted)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := session.Snapshot().Entries[0].Track.Votes; got != 9 {
		t.Fatalf("expected authoritative counter 9, got %d", got)
	}

	// Redelivery of the same (kind, entity, seq) must be a no-op even when
	// local state has diverged since.
	session.mu.Lock()
	session.view.setVotes("track-1", 3)
	session.mu.Unlock()
	if err := session.ApplyFact(context.Background(), envelopeAt(7, "", voted)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := session.Snapshot().Entries[0].Track.Votes; got != 3 {
		t.Fatalf("expected duplicate delivery ignored, got counter %d", got)
	}
}

func TestApplyFactFiltersOtherCollections(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	removed := fact.ItemRemoved{PlaylistID: "playlist-2", ItemID: "item-1"}
	if err := session.ApplyFact(context.Background(), envelopeAt(3, "", removed)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view := session.Snapshot()
	if !sameOrder(entryOrder(view), []string{"item-1", "item-2", "item-3"}) {
		t.Fatalf("expected fact for another playlist ignored, got %v", entryOrder(view))
	}
}

func TestApplyFactKeepaliveIsIgnored(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)
	before := session.Snapshot()

	if err := session.ApplyFact(context.Background(), envelopeAt(1, "", fact.Keepalive{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after := session.Snapshot()
	if !sameOrder(entryOrder(before), entryOrder(after)) {
		t.Fatalf("expected keepalive to leave the view untouched")
	}
}

// session.joined is only ever delivered to the connection it describes, and a
// reconnect assigns a fresh identity; the descriptor is adopted every time.
func TestApplyFactSessionJoinedAdoptsIdentity(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	joined := fact.SessionJoined{Session: fact.SessionInfo{ID: "session-a", Name: "Alex"}}
	if err := session.ApplyFact(context.Background(), envelopeAt(1, "", joined)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Self().ID != "session-a" {
		t.Fatalf("expected self identity assigned, got %q", session.Self().ID)
	}

	rejoined := fact.SessionJoined{Session: fact.SessionInfo{ID: "session-b", Name: "Sam"}}
	if err := session.ApplyFact(context.Background(), envelopeAt(2, "", rejoined)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := session.Self(); got.ID != "session-b" || got.Name != "Sam" {
		t.Fatalf("expected the reconnect identity adopted, got %+v", got)
	}
}

func TestApplyFactPresenceReplacesRoster(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	presence := fact.SessionsPresence{Sessions: []fact.SessionInfo{
		{ID: "session-a", Name: "Alex"},
		{ID: "session-b", Name: "Sam"},
	}}
	if err := session.ApplyFact(context.Background(), envelopeAt(1, "", presence)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	roster := session.Snapshot().Roster
	if len(roster) != 2 || roster[1].Name != "Sam" {
		t.Fatalf("unexpected roster %+v", roster)
	}
}

// An item.added fact always triggers a full refetch of the viewed playlist:
// the provisional entry is replaced by the authoritative one and the pending
// marker is gone.
func TestApplyFactItemAddedRefetches(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	if err := session.AddTrack(context.Background(), "track-4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	authoritative := store.entries["playlist-1"][3]

	added := fact.ItemAdded{PlaylistID: "playlist-1", Item: authoritative}
	if err := session.ApplyFact(context.Background(), envelopeAt(5, "token-1", added)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view := session.Snapshot()
	if len(view.Entries) != 4 {
		t.Fatalf("expected 4 entries after refetch, got %d", len(view.Entries))
	}
	if view.Entries[3].ID != authoritative.ID {
		t.Fatalf("expected authoritative id %s, got %s", authoritative.ID, view.Entries[3].ID)
	}
	for _, entry := range view.Entries {
		if entry.ID == "" || entry.ID[:4] == "temp" {
			t.Fatalf("provisional entry survived the refetch: %v", entryOrder(view))
		}
	}
	if session.PendingCount() != 0 {
		t.Fatalf("expected pending mutations resolved by refetch, got %d", session.PendingCount())
	}
}

// A fact whose refetch fails is not consumed: redelivering the same envelope
// after the store recovers merges it instead of hitting the seen set.
func TestApplyFactItemAddedRefetchFailureRetried(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	store.entries["playlist-1"] = append(store.entries["playlist-1"], makeEntry("item-4", "track-4", 4.0, 5))
	added := fact.ItemAdded{PlaylistID: "playlist-1", Item: store.entries["playlist-1"][3]}

	store.failItems = errors.New("store unavailable")
	if err := session.ApplyFact(context.Background(), envelopeAt(5, "other-token", added)); err == nil {
		t.Fatalf("expected the refetch failure to surface")
	}
	if got := len(session.Snapshot().Entries); got != 3 {
		t.Fatalf("expected the view untouched by the failed refetch, got %d entries", got)
	}

	store.failItems = nil
	if err := session.ApplyFact(context.Background(), envelopeAt(5, "other-token", added)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	view := session.Snapshot()
	if !sameOrder(entryOrder(view), []string{"item-1", "item-2", "item-3", "item-4"}) {
		t.Fatalf("expected the redelivered fact merged, got %v", entryOrder(view))
	}
}

func TestApplyFactItemRemovedClearsEntityPending(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	if err := session.MoveItem(context.Background(), "item-2", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.PendingCount() != 1 {
		t.Fatalf("expected 1 pending mutation, got %d", session.PendingCount())
	}

	// A foreign removal supersedes the pending move on the same entity.
	removed := fact.ItemRemoved{PlaylistID: "playlist-1", ItemID: "item-2"}
	if err := session.ApplyFact(context.Background(), envelopeAt(8, "foreign-token", removed)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view := session.Snapshot()
	if !sameOrder(entryOrder(view), []string{"item-1", "item-3"}) {
		t.Fatalf("expected item-2 removed, got %v", entryOrder(view))
	}
	if session.PendingCount() != 0 {
		t.Fatalf("expected pending move superseded, got %d", session.PendingCount())
	}
}

// The echo of this session's own move must be absorbed without a second
// reorder: applying it leaves the view exactly as the optimistic apply left
// it.
func TestApplyFactMoveEchoAbsorbedByToken(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	if err := session.MoveItem(context.Background(), "item-3", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	optimistic := session.Snapshot()
	pendingPosition := optimistic.Entries[0].Position

	echo := fact.ItemMoved{PlaylistID: "playlist-1", ItemID: "item-3", Position: pendingPosition}
	if err := session.ApplyFact(context.Background(), envelopeAt(9, "token-1", echo)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after := session.Snapshot()
	if !sameOrder(entryOrder(after), entryOrder(optimistic)) {
		t.Fatalf("echo changed the order: %v -> %v", entryOrder(optimistic), entryOrder(after))
	}
	if after.Entries[0].Position != pendingPosition {
		t.Fatalf("echo changed the position: %v -> %v", pendingPosition, after.Entries[0].Position)
	}
	if session.PendingCount() != 0 {
		t.Fatalf("expected pending move confirmed, got %d", session.PendingCount())
	}
}

func TestApplyFactMoveEchoFallsBackToEpsilon(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	if err := session.MoveItem(context.Background(), "item-3", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pendingPosition := session.Snapshot().Entries[0].Position

	// No token on the envelope; the numerically close position is still
	// recognized as the echo.
	echo := fact.ItemMoved{PlaylistID: "playlist-1", ItemID: "item-3", Position: pendingPosition + echoEpsilon/2}
	if err := session.ApplyFact(context.Background(), envelopeAt(9, "", echo)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after := session.Snapshot()
	if after.Entries[0].Position != pendingPosition {
		t.Fatalf("expected echo absorbed, position overwritten to %v", after.Entries[0].Position)
	}
	if session.PendingCount() != 0 {
		t.Fatalf("expected pending move confirmed, got %d", session.PendingCount())
	}
}

// A concurrent foreign move for the same entity supersedes the pending one:
// the authoritative position wins and the pending marker is dropped, so both
// sessions converge on the same order.
func TestApplyFactForeignMoveSupersedesPending(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	if err := session.MoveItem(context.Background(), "item-3", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	foreign := fact.ItemMoved{PlaylistID: "playlist-1", ItemID: "item-3", Position: 5.0}
	if err := session.ApplyFact(context.Background(), envelopeAt(9, "other-token", foreign)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view := session.Snapshot()
	if !sameOrder(entryOrder(view), []string{"item-1", "item-2", "item-3"}) {
		t.Fatalf("expected authoritative order, got %v", entryOrder(view))
	}
	if view.Entries[2].Position != 5.0 {
		t.Fatalf("expected authoritative position 5.0, got %v", view.Entries[2].Position)
	}
	if session.PendingCount() != 0 {
		t.Fatalf("expected pending move superseded, got %d", session.PendingCount())
	}
}

// A foreign move for a different entity arriving before this session's own
// echo must not disturb the pending move: the foreign position is applied,
// the pending one survives, and the later echo is absorbed without a reorder.
func TestApplyFactForeignMoveLeavesUnrelatedPendingIntact(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	if err := session.MoveItem(context.Background(), "item-3", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pendingPosition := session.Snapshot().Entries[0].Position

	foreign := fact.ItemMoved{PlaylistID: "playlist-1", ItemID: "item-2", Position: 1.6}
	if err := session.ApplyFact(context.Background(), envelopeAt(9, "other-token", foreign)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view := session.Snapshot()
	if view.Entries[0].ID != "item-3" || view.Entries[0].Position != pendingPosition {
		t.Fatalf("foreign move disturbed the pending entry: %+v", view.Entries[0])
	}
	if index := view.indexOf("item-2"); view.Entries[index].Position != 1.6 {
		t.Fatalf("expected foreign position 1.6, got %v", view.Entries[index].Position)
	}
	if session.PendingCount() != 1 {
		t.Fatalf("expected the unrelated pending move to survive, got %d", session.PendingCount())
	}

	echo := fact.ItemMoved{PlaylistID: "playlist-1", ItemID: "item-3", Position: pendingPosition}
	if err := session.ApplyFact(context.Background(), envelopeAt(10, "token-1", echo)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after := session.Snapshot()
	if !sameOrder(entryOrder(after), entryOrder(view)) {
		t.Fatalf("echo triggered a reorder: %v -> %v", entryOrder(view), entryOrder(after))
	}
	if session.PendingCount() != 0 {
		t.Fatalf("expected pending move confirmed, got %d", session.PendingCount())
	}
}

func TestApplyFactForeignMoveWithoutPending(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	moved := fact.ItemMoved{PlaylistID: "playlist-1", ItemID: "item-1", Position: 2.5}
	if err := session.ApplyFact(context.Background(), envelopeAt(4, "other-token", moved)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view := session.Snapshot()
	if !sameOrder(entryOrder(view), []string{"item-2", "item-1", "item-3"}) {
		t.Fatalf("expected reorder to follow the fact, got %v", entryOrder(view))
	}
}

func TestApplyFactVoteOverwritesCounter(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	if err := session.Vote(context.Background(), "track-1", catalog.VoteUp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The echo carries the authoritative value, which may differ from the
	// optimistic one when votes raced.
	voted := fact.ItemVoted{PlaylistID: "playlist-1", ItemID: "item-1", TrackID: "track-1", Votes: 8}
	if err := session.ApplyFact(context.Background(), envelopeAt(6, "token-1", voted)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view := session.Snapshot()
	if view.Entries[0].Track.Votes != 8 {
		t.Fatalf("expected authoritative counter 8, got %d", view.Entries[0].Track.Votes)
	}
	for _, track := range view.Library {
		if track.ID == "track-1" && track.Votes != 8 {
			t.Fatalf("expected library counter 8, got %d", track.Votes)
		}
	}
	if session.PendingCount() != 0 {
		t.Fatalf("expected pending vote confirmed, got %d", session.PendingCount())
	}
}

func TestApplyFactActivationSupersedesAllPendingActivations(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	if err := session.Activate(context.Background(), "item-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A foreign activation wins regardless of which entry this session had
	// optimistically activated.
	activated := fact.ItemActivated{PlaylistID: "playlist-1", ItemID: "item-3"}
	if err := session.ApplyFact(context.Background(), envelopeAt(11, "other-token", activated)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view := session.Snapshot()
	for _, entry := range view.Entries {
		if entry.IsPlaying != (entry.ID == "item-3") {
			t.Fatalf("expected only item-3 playing, got %s playing=%v", entry.ID, entry.IsPlaying)
		}
	}
	if session.PendingCount() != 0 {
		t.Fatalf("expected pending activation superseded, got %d", session.PendingCount())
	}
}

func TestApplyFactCollectionLifecycle(t *testing.T) {
	store := newFakeStore()
	session := newClientSession(t, store)

	store.playlists = append(store.playlists, catalog.Playlist{ID: "playlist-2", Name: "Fresh"})
	created := fact.CollectionCreated{Playlist: store.playlists[1]}
	if err := session.ApplyFact(context.Background(), envelopeAt(2, "", created)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(session.Snapshot().Playlists); got != 2 {
		t.Fatalf("expected 2 playlists after creation fact, got %d", got)
	}

	store.playlists = store.playlists[:1]
	deleted := fact.CollectionDeleted{PlaylistID: "playlist-2"}
	if err := session.ApplyFact(context.Background(), envelopeAt(3, "", deleted)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(session.Snapshot().Playlists); got != 1 {
		t.Fatalf("expected 1 playlist after deletion fact, got %d", got)
	}
}
