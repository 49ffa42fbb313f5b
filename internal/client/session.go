package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseroom/pulseroom/internal/catalog"
	"github.com/pulseroom/pulseroom/internal/fact"
)

var (
	errMissingStore = errors.New("client: record store is required")

	// ErrNotInView indicates a mutation referenced an entity absent from the
	// session's current view, usually because another session removed it.
	ErrNotInView = errors.New("client: entity not in current view")
	// ErrNothingActive indicates a skip was requested with no playing entry.
	ErrNothingActive = errors.New("client: no entry is playing")
)

// RecordStore is the request surface the coordinator issues mutations
// through and the refetch paths read from. In-process it is backed by the
// hub; over the network by an HTTP client. The token argument is the
// correlation token echoed back on the resulting fact.
type RecordStore interface {
	Tracks(ctx context.Context) ([]catalog.Track, error)
	Playlists(ctx context.Context) ([]catalog.Playlist, error)
	PlaylistItems(ctx context.Context, playlistID string) ([]catalog.PlaylistEntry, error)
	AddItem(ctx context.Context, playlistID, trackID, addedBy, token string) (*catalog.PlaylistEntry, error)
	RemoveItem(ctx context.Context, itemID, token string) error
	MoveItem(ctx context.Context, itemID string, newPosition float64, token string) (*catalog.PlaylistTrack, error)
	Vote(ctx context.Context, itemID string, direction catalog.VoteDirection, token string) (*catalog.VoteResult, error)
	Activate(ctx context.Context, itemID, token string) (*catalog.PlaylistTrack, error)
}

// SessionConfig carries the dependencies for a Session.
type SessionConfig struct {
	Store  RecordStore
	Logger *zap.Logger
	Clock  func() time.Time
	// NewToken issues correlation tokens for mutation requests. Defaults to
	// random UUIDs.
	NewToken func() string
}

// Session is one connected client's runtime: view state, the mutation
// coordinator and the reconciliation engine. A single mutex serializes every
// view and pending-table mutation, whether it originates from a user action
// or an inbound fact, so local state never exposes interleaved partial
// updates.
type Session struct {
	store    RecordStore
	logger   *zap.Logger
	clock    func() time.Time
	newToken func() string

	mu      sync.Mutex
	view    View
	recon   ReconContext
	self    fact.SessionInfo
	control [][]byte
	sender  func([]byte) error
}

// NewSession validates the configuration and returns a Session.
func NewSession(cfg SessionConfig) (*Session, error) {
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
	newToken := cfg.NewToken
	if newToken == nil {
		newToken = uuid.NewString
	}
	return &Session{
		store:    cfg.Store,
		logger:   logger,
		clock:    clock,
		newToken: newToken,
		recon:    newReconContext(),
	}, nil
}

// Snapshot returns a copy of the current view for rendering.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := View{
		PlaylistID: s.view.PlaylistID,
		Entries:    append([]catalog.PlaylistEntry(nil), s.view.Entries...),
		Library:    append([]catalog.Track(nil), s.view.Library...),
		Playlists:  append([]catalog.Playlist(nil), s.view.Playlists...),
		Roster:     append([]fact.SessionInfo(nil), s.view.Roster...),
	}
	return snapshot
}

// Self returns the identity the hub assigned to this session.
func (s *Session) Self() fact.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// PendingCount reports the number of unresolved optimistic mutations.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recon.pending)
}

// Refetch replaces the full local state with the store's authoritative state
// and drops every pending optimistic mutation, the recovery step after
// connect and reconnect.
func (s *Session) Refetch(ctx context.Context) error {
	tracks, err := s.store.Tracks(ctx)
	if err != nil {
		return err
	}
	playlists, err := s.store.Playlists(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	playlistID := s.view.PlaylistID
	s.mu.Unlock()
	if playlistID == "" && len(playlists) > 0 {
		playlistID = playlists[0].ID
	}

	var entries []catalog.PlaylistEntry
	if playlistID != "" {
		entries, err = s.store.PlaylistItems(ctx, playlistID)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Library = tracks
	s.view.Playlists = playlists
	s.view.PlaylistID = playlistID
	s.view.Entries = entries
	s.view.sortByPosition()
	s.recon.resetPending()
	return nil
}

// SwitchCollection changes the viewed playlist. All reconciliation state is
// scoped to the subscription and is dropped with it.
func (s *Session) SwitchCollection(ctx context.Context, playlistID string) error {
	entries, err := s.store.PlaylistItems(ctx, playlistID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.PlaylistID = playlistID
	s.view.Entries = entries
	s.view.sortByPosition()
	s.recon.reset()
	return nil
}

// refetchEntries reloads the viewed playlist's entries and drops pending
// mutations, used when an item.added fact arrives.
func (s *Session) refetchEntries(ctx context.Context) error {
	s.mu.Lock()
	playlistID := s.view.PlaylistID
	s.mu.Unlock()
	if playlistID == "" {
		return nil
	}
	entries, err := s.store.PlaylistItems(ctx, playlistID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view.PlaylistID != playlistID {
		return nil
	}
	s.view.Entries = entries
	s.view.sortByPosition()
	s.recon.resetPending()
	return nil
}

func (s *Session) refreshPlaylists(ctx context.Context) error {
	playlists, err := s.store.Playlists(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Playlists = playlists
	return nil
}
