package client

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/pulseroom/pulseroom/internal/fact"
)

// echoEpsilon is the numeric-closeness fallback for recognizing a move echo
// when no correlation token matches. Best effort only; the token comparison
// is the authoritative check.
const echoEpsilon = 1e-4

// ApplyFact merges one broadcast fact into local state: duplicates are
// dropped, facts for other collections are discarded, echoes of pending
// mutations are absorbed silently, and foreign facts are applied as
// authoritative patches. A fact is marked seen only after its merge
// succeeds, so one whose refetch failed is still eligible for reprocessing.
func (s *Session) ApplyFact(ctx context.Context, envelope fact.Envelope) error {
	if envelope.Fact.Kind() == fact.KindKeepalive {
		return nil
	}

	s.mu.Lock()
	key := dedupKey{
		kind:     envelope.Fact.Kind(),
		entityID: fact.EntityID(envelope.Fact),
		seq:      envelope.Seq,
	}
	if s.recon.alreadySeen(key) {
		s.mu.Unlock()
		return nil
	}
	if collectionID, scoped := fact.CollectionID(envelope.Fact); scoped && collectionID != s.view.PlaylistID {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.mergeFact(ctx, envelope); err != nil {
		return err
	}

	s.mu.Lock()
	s.recon.markSeen(key)
	s.mu.Unlock()
	return nil
}

func (s *Session) mergeFact(ctx context.Context, envelope fact.Envelope) error {
	switch f := envelope.Fact.(type) {
	case fact.SessionJoined:
		// Delivered only to the connection it describes, so the descriptor is
		// adopted on every connect and reconnect.
		s.mu.Lock()
		s.self = f.Session
		s.mu.Unlock()
		return nil

	case fact.SessionsPresence:
		s.mu.Lock()
		s.view.Roster = f.Sessions
		s.mu.Unlock()
		return nil

	case fact.CollectionCreated, fact.CollectionDeleted:
		return s.refreshPlaylists(ctx)

	case fact.ItemAdded:
		// A partial patch cannot reconstruct neighbor-relative positions for
		// every receiver, so an add always triggers a full refetch.
		return s.refetchEntries(ctx)

	case fact.ItemRemoved:
		s.mu.Lock()
		if index := s.view.indexOf(f.ItemID); index >= 0 {
			s.view.removeAt(index)
		}
		s.recon.clearEntity(f.ItemID)
		s.mu.Unlock()
		return nil

	case fact.ItemMoved:
		s.applyMove(envelope, f)
		return nil

	case fact.ItemVoted:
		s.mu.Lock()
		s.view.setVotes(f.TrackID, f.Votes)
		s.recon.clearPending(MutationVote, f.TrackID)
		s.mu.Unlock()
		return nil

	case fact.ItemActivated:
		s.mu.Lock()
		s.view.setActive(f.ItemID)
		s.recon.clearKind(MutationActivate)
		s.mu.Unlock()
		return nil

	case fact.Keepalive:
		return nil

	default:
		s.logger.Warn("unhandled fact kind", zap.String("kind", string(envelope.Fact.Kind())))
		return nil
	}
}

// applyMove distinguishes the echo of this session's own pending move from a
// foreign authoritative move. An echo is absorbed without a second reorder;
// a foreign move overwrites the position unconditionally and re-sorts.
func (s *Session) applyMove(envelope fact.Envelope, f fact.ItemMoved) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pending, ok := s.recon.pendingFor(MutationMove, f.ItemID); ok {
		tokenMatch := envelope.Origin != "" && envelope.Origin == pending.Token
		if tokenMatch || math.Abs(pending.Position-f.Position) < echoEpsilon {
			s.recon.clearPending(MutationMove, f.ItemID)
			return
		}
	}

	if index := s.view.indexOf(f.ItemID); index >= 0 {
		s.view.Entries[index].Position = f.Position
		s.view.sortByPosition()
	}
	s.recon.clearPending(MutationMove, f.ItemID)
}
