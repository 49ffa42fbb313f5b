// Package hub implements the authoritative broadcast hub: every mutation
// request is applied to the record store here, then fanned out to all
// connected sessions, including the one that issued it. The self-echo is how
// the issuing session learns the authoritative value and clears its pending
// marker.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulseroom/pulseroom/internal/catalog"
	"github.com/pulseroom/pulseroom/internal/fact"
)

var errMissingStore = errors.New("hub: record store is required")

const defaultNameMaxRunes = 20

// Config carries the dependencies for a Hub.
type Config struct {
	Store        *catalog.Store
	Logger       *zap.Logger
	Clock        func() time.Time
	NameMaxRunes int
}

// Hub applies mutation requests to the record store and broadcasts the
// resulting facts. One apply mutex serializes application and fan-out, so the
// order facts are broadcast in is exactly the order mutations were applied
// in, and every connection observes the same relative order.
type Hub struct {
	store        *catalog.Store
	logger       *zap.Logger
	clock        func() time.Time
	nameMaxRunes int

	applyMu sync.Mutex
	seq     uint64

	mu       sync.RWMutex
	sessions map[string]*session
}

// New validates the configuration and returns a Hub.
func New(cfg Config) (*Hub, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	nameMaxRunes := cfg.NameMaxRunes
	if nameMaxRunes <= 0 {
		nameMaxRunes = defaultNameMaxRunes
	}
	return &Hub{
		store:        cfg.Store,
		logger:       logger,
		clock:        clock,
		nameMaxRunes: nameMaxRunes,
		sessions:     make(map[string]*session),
	}, nil
}

// Store exposes the underlying record store for read paths.
func (h *Hub) Store() *catalog.Store {
	return h.store
}

// AddItem appends a track to a playlist and broadcasts item.added. Duplicate
// and not-found rejections broadcast nothing.
func (h *Hub) AddItem(ctx context.Context, playlistID, trackID, addedBy, origin string) (*catalog.PlaylistEntry, error) {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	entry, err := h.store.AddItem(ctx, playlistID, trackID, addedBy)
	if err != nil {
		return nil, err
	}
	h.broadcastLocked(origin, fact.ItemAdded{PlaylistID: playlistID, Item: *entry})
	return entry, nil
}

// RemoveItem deletes a membership and broadcasts item.removed.
func (h *Hub) RemoveItem(ctx context.Context, itemID, origin string) error {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	playlistID, err := h.store.RemoveItem(ctx, itemID)
	if err != nil {
		return err
	}
	h.broadcastLocked(origin, fact.ItemRemoved{PlaylistID: playlistID, ItemID: itemID})
	return nil
}

// MoveItem stores the client-computed position and broadcasts item.moved.
func (h *Hub) MoveItem(ctx context.Context, itemID string, newPosition float64, origin string) (*catalog.PlaylistTrack, error) {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	item, err := h.store.MoveItem(ctx, itemID, newPosition)
	if err != nil {
		return nil, err
	}
	h.broadcastLocked(origin, fact.ItemMoved{
		PlaylistID: item.PlaylistID,
		ItemID:     item.ID,
		Position:   item.Position,
	})
	return item, nil
}

// Vote applies an atomic counter increment and broadcasts item.voted with the
// authoritative value.
func (h *Hub) Vote(ctx context.Context, itemID string, direction catalog.VoteDirection, origin string) (*catalog.VoteResult, error) {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	result, err := h.store.Vote(ctx, itemID, direction)
	if err != nil {
		return nil, err
	}
	h.broadcastLocked(origin, fact.ItemVoted{
		PlaylistID: result.PlaylistID,
		ItemID:     result.ItemID,
		TrackID:    result.TrackID,
		Votes:      result.Votes,
	})
	return result, nil
}

// Activate marks one membership as playing, clears its siblings, and
// broadcasts item.activated.
func (h *Hub) Activate(ctx context.Context, itemID, origin string) (*catalog.PlaylistTrack, error) {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	item, err := h.store.Activate(ctx, itemID)
	if err != nil {
		return nil, err
	}
	h.broadcastLocked(origin, fact.ItemActivated{PlaylistID: item.PlaylistID, ItemID: item.ID})
	return item, nil
}

// CreatePlaylist persists a playlist and broadcasts collection.created.
func (h *Hub) CreatePlaylist(ctx context.Context, name, description, origin string) (*catalog.Playlist, error) {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	playlist, err := h.store.CreatePlaylist(ctx, name, description)
	if err != nil {
		return nil, err
	}
	h.broadcastLocked(origin, fact.CollectionCreated{Playlist: *playlist})
	return playlist, nil
}

// DeletePlaylist removes a playlist and broadcasts collection.deleted.
func (h *Hub) DeletePlaylist(ctx context.Context, playlistID, origin string) error {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	if err := h.store.DeletePlaylist(ctx, playlistID); err != nil {
		return err
	}
	h.broadcastLocked(origin, fact.CollectionDeleted{PlaylistID: playlistID})
	return nil
}

// Run drives the periodic work: the keepalive fact and, when enabled, the
// position renormalization pass. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context, keepaliveInterval, renormalizeInterval time.Duration) {
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	var renormalize <-chan time.Time
	if renormalizeInterval > 0 {
		ticker := time.NewTicker(renormalizeInterval)
		defer ticker.Stop()
		renormalize = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			h.applyMu.Lock()
			h.broadcastLocked("", fact.Keepalive{})
			h.applyMu.Unlock()
		case <-renormalize:
			h.renormalizeAll(ctx)
		}
	}
}

func (h *Hub) renormalizeAll(ctx context.Context) {
	playlists, err := h.store.Playlists(ctx)
	if err != nil {
		h.logger.Warn("renormalization listing failed", zap.Error(err))
		return
	}
	for _, playlist := range playlists {
		h.applyMu.Lock()
		_, err := h.store.RenormalizePositions(ctx, playlist.ID)
		h.applyMu.Unlock()
		if err != nil {
			h.logger.Warn("renormalization failed",
				zap.String("playlist_id", playlist.ID), zap.Error(err))
		}
	}
}

// broadcastLocked stamps the next sequence number on the fact and queues it
// on every connected session. Callers hold applyMu.
func (h *Hub) broadcastLocked(origin string, f fact.Fact) {
	h.seq++
	envelope := fact.Envelope{
		Seq:       h.seq,
		Origin:    origin,
		Timestamp: h.clock().UTC(),
		Fact:      f,
	}
	payload, err := fact.Encode(envelope)
	if err != nil {
		h.logger.Error("fact encoding failed", zap.String("kind", string(f.Kind())), zap.Error(err))
		return
	}

	h.mu.RLock()
	recipients := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		recipients = append(recipients, sess)
	}
	h.mu.RUnlock()

	for _, sess := range recipients {
		// A closed session stays registered until its read pump exits; skip
		// it instead of re-closing on every broadcast.
		if sess.closed() {
			continue
		}
		// A skipped fact would silently break per-connection ordering, so a
		// session that cannot keep up is closed and recovers via refetch.
		if !sess.enqueue(payload) {
			h.logger.Warn("dropping slow session", zap.String("session_id", sess.info.ID))
			sess.close()
		}
	}
}

func (h *Hub) register(sess *session) {
	h.mu.Lock()
	h.sessions[sess.info.ID] = sess
	total := len(h.sessions)
	h.mu.Unlock()
	h.logger.Info("session connected",
		zap.String("session_id", sess.info.ID),
		zap.String("name", sess.info.Name),
		zap.Int("total", total))
}

func (h *Hub) unregister(sess *session) {
	h.mu.Lock()
	_, present := h.sessions[sess.info.ID]
	delete(h.sessions, sess.info.ID)
	total := len(h.sessions)
	h.mu.Unlock()
	if !present {
		return
	}
	h.logger.Info("session disconnected",
		zap.String("session_id", sess.info.ID),
		zap.Int("total", total))
	h.broadcastPresence()
}

// Presence returns the current session roster.
func (h *Hub) Presence() []fact.SessionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	roster := make([]fact.SessionInfo, 0, len(h.sessions))
	for _, sess := range h.sessions {
		roster = append(roster, sess.info)
	}
	return roster
}

// sendTo stamps and delivers a fact to a single session, used for the
// session.joined fact only the new connection should receive.
func (h *Hub) sendTo(sess *session, f fact.Fact) {
	h.applyMu.Lock()
	h.seq++
	envelope := fact.Envelope{Seq: h.seq, Timestamp: h.clock().UTC(), Fact: f}
	h.applyMu.Unlock()

	payload, err := fact.Encode(envelope)
	if err != nil {
		h.logger.Error("fact encoding failed", zap.String("kind", string(f.Kind())), zap.Error(err))
		return
	}
	if !sess.enqueue(payload) {
		sess.close()
	}
}

func (h *Hub) broadcastPresence() {
	h.applyMu.Lock()
	defer h.applyMu.Unlock()
	h.broadcastLocked("", fact.SessionsPresence{Sessions: h.Presence()})
}

func (h *Hub) rename(sess *session, requestedName string) {
	trimmed := truncateRunes(requestedName, h.nameMaxRunes)
	if trimmed == "" {
		return
	}
	h.mu.Lock()
	sess.info.Name = trimmed
	h.mu.Unlock()
	h.broadcastPresence()
}
