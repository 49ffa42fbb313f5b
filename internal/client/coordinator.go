package client

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pulseroom/pulseroom/internal/catalog"
	"github.com/pulseroom/pulseroom/internal/position"
)

// The mutation coordinator: each method applies one user intent to the local
// view immediately, registers how to reconcile or roll it back, and issues
// the request to the record store. Failures revert exactly the optimistic
// delta they applied; there is no automatic retry. A foreign authoritative
// fact can resolve the pending marker while the request is in flight, and a
// resolved mutation is never rolled back: the authoritative value already
// replaced the optimistic one.

// stillPending reports whether the mutation identified by this token is still
// awaiting resolution. Callers hold s.mu.
func (s *Session) stillPending(kind MutationKind, entityID, token string) bool {
	pending, ok := s.recon.pendingFor(kind, entityID)
	return ok && pending.Token == token
}

// AddTrack appends a track to the viewed playlist. A membership already
// present for the (playlist, track) pair short-circuits as a duplicate
// before any state changes.
func (s *Session) AddTrack(ctx context.Context, trackID string) error {
	s.mu.Lock()
	if s.view.entryByTrack(trackID) != nil {
		s.mu.Unlock()
		return catalog.ErrDuplicateItem
	}
	var track *catalog.Track
	for i := range s.view.Library {
		if s.view.Library[i].ID == trackID {
			track = &s.view.Library[i]
			break
		}
	}
	if track == nil {
		s.mu.Unlock()
		return catalog.ErrTrackNotFound
	}

	var appendAfter *float64
	if n := len(s.view.Entries); n > 0 {
		appendAfter = &s.view.Entries[n-1].Position
	}
	token := s.newToken()
	tempID := "temp-" + token
	optimistic := catalog.PlaylistEntry{
		PlaylistTrack: catalog.PlaylistTrack{
			ID:         tempID,
			PlaylistID: s.view.PlaylistID,
			TrackID:    trackID,
			Position:   position.Allocate(appendAfter, nil),
			AddedBy:    s.self.Name,
			AddedAt:    s.clock().UTC(),
		},
		Track: *track,
	}
	s.view.insert(optimistic)
	s.recon.setPending(PendingMutation{
		Kind:     MutationAdd,
		EntityID: tempID,
		Token:    token,
		IssuedAt: s.clock().UTC(),
	})
	playlistID := s.view.PlaylistID
	addedBy := optimistic.AddedBy
	s.mu.Unlock()

	_, err := s.store.AddItem(ctx, playlistID, trackID, addedBy, token)
	if err != nil {
		s.mu.Lock()
		if s.stillPending(MutationAdd, tempID, token) {
			if index := s.view.indexOf(tempID); index >= 0 {
				s.view.removeAt(index)
			}
			s.recon.clearPending(MutationAdd, tempID)
		}
		s.mu.Unlock()
		return fmt.Errorf("add track rejected: %w", err)
	}
	return nil
}

// RemoveItem deletes a membership from the local view instantly. On store
// failure the removed entry is reinserted with its exact original position,
// not a recomputed one.
func (s *Session) RemoveItem(ctx context.Context, itemID string) error {
	s.mu.Lock()
	index := s.view.indexOf(itemID)
	if index < 0 {
		s.mu.Unlock()
		return ErrNotInView
	}
	removed := s.view.removeAt(index)
	token := s.newToken()
	s.recon.setPending(PendingMutation{
		Kind:     MutationRemove,
		EntityID: itemID,
		Token:    token,
		IssuedAt: s.clock().UTC(),
	})
	s.mu.Unlock()

	if err := s.store.RemoveItem(ctx, itemID, token); err != nil {
		s.mu.Lock()
		if s.stillPending(MutationRemove, itemID, token) {
			s.view.insert(removed)
			s.recon.clearPending(MutationRemove, itemID)
		}
		s.mu.Unlock()
		return fmt.Errorf("remove rejected: %w", err)
	}
	return nil
}

// MoveItem reorders a membership to targetIndex. The neighbors used for
// position allocation come from the ordered list with the moved entry
// conceptually removed first, so the entry is never compared against itself.
// The pending position is recorded so the broadcast echo can be recognized.
func (s *Session) MoveItem(ctx context.Context, itemID string, targetIndex int) error {
	s.mu.Lock()
	index := s.view.indexOf(itemID)
	if index < 0 {
		s.mu.Unlock()
		return ErrNotInView
	}
	if targetIndex < 0 {
		targetIndex = 0
	}

	remaining := make([]catalog.PlaylistEntry, 0, len(s.view.Entries)-1)
	remaining = append(remaining, s.view.Entries[:index]...)
	remaining = append(remaining, s.view.Entries[index+1:]...)
	if targetIndex > len(remaining) {
		targetIndex = len(remaining)
	}

	var prev, next *float64
	if targetIndex > 0 {
		prev = &remaining[targetIndex-1].Position
	}
	if targetIndex < len(remaining) {
		next = &remaining[targetIndex].Position
	}
	if prev != nil && next != nil && *prev == *next {
		// The allocator nudges past this, but equal neighbor positions mean
		// the ordering invariant is already broken upstream.
		s.logger.Warn("equal neighbor positions during move",
			zap.String("item_id", itemID), zap.Float64("position", *prev))
	}
	newPosition := position.Allocate(prev, next)

	priorPosition := s.view.Entries[index].Position
	token := s.newToken()
	s.view.Entries[index].Position = newPosition
	s.view.sortByPosition()
	s.recon.setPending(PendingMutation{
		Kind:     MutationMove,
		EntityID: itemID,
		Token:    token,
		IssuedAt: s.clock().UTC(),
		Position: newPosition,
	})
	s.mu.Unlock()

	if _, err := s.store.MoveItem(ctx, itemID, newPosition, token); err != nil {
		s.mu.Lock()
		if s.stillPending(MutationMove, itemID, token) {
			if revert := s.view.indexOf(itemID); revert >= 0 {
				s.view.Entries[revert].Position = priorPosition
				s.view.sortByPosition()
			}
			s.recon.clearPending(MutationMove, itemID)
		}
		s.mu.Unlock()
		return fmt.Errorf("move rejected: %w", err)
	}
	return nil
}

// Vote applies a ±1 delta to the shared counter in every local occurrence of
// the track, then asks the store for the authoritative increment. Store
// failure restores the exact prior counter everywhere it was changed.
func (s *Session) Vote(ctx context.Context, trackID string, direction catalog.VoteDirection) error {
	if direction != catalog.VoteUp && direction != catalog.VoteDown {
		return catalog.ErrInvalidDirection
	}

	s.mu.Lock()
	entry := s.view.entryByTrack(trackID)
	if entry == nil {
		s.mu.Unlock()
		return ErrNotInView
	}
	itemID := entry.ID
	priorVotes := entry.Track.Votes
	token := s.newToken()
	s.view.setVotes(trackID, priorVotes+direction.Delta())
	s.recon.setPending(PendingMutation{
		Kind:       MutationVote,
		EntityID:   trackID,
		Token:      token,
		IssuedAt:   s.clock().UTC(),
		PriorVotes: priorVotes,
	})
	s.mu.Unlock()

	if _, err := s.store.Vote(ctx, itemID, direction, token); err != nil {
		s.mu.Lock()
		if pending, ok := s.recon.pendingFor(MutationVote, trackID); ok && pending.Token == token {
			s.view.setVotes(trackID, pending.PriorVotes)
			s.recon.clearPending(MutationVote, trackID)
		}
		s.mu.Unlock()
		return fmt.Errorf("vote rejected: %w", err)
	}
	return nil
}

// Activate marks one membership as playing, clearing the flag on every other
// local entry of the playlist. On store failure the entry that was playing
// before the optimistic apply, recorded in the pending marker, gets its flag
// back.
func (s *Session) Activate(ctx context.Context, itemID string) error {
	s.mu.Lock()
	index := s.view.indexOf(itemID)
	if index < 0 {
		s.mu.Unlock()
		return ErrNotInView
	}
	var priorActiveID string
	if active := s.view.activeEntry(); active != nil {
		priorActiveID = active.ID
	}
	token := s.newToken()
	playedAt := s.clock().UTC()
	s.view.setActive(itemID)
	s.view.Entries[index].PlayedAt = &playedAt
	s.recon.setPending(PendingMutation{
		Kind:          MutationActivate,
		EntityID:      itemID,
		Token:         token,
		IssuedAt:      playedAt,
		PriorActiveID: priorActiveID,
	})
	s.mu.Unlock()

	if _, err := s.store.Activate(ctx, itemID, token); err != nil {
		s.mu.Lock()
		if pending, ok := s.recon.pendingFor(MutationActivate, itemID); ok && pending.Token == token {
			s.view.setActive(pending.PriorActiveID)
			s.recon.clearPending(MutationActivate, itemID)
		}
		s.mu.Unlock()
		return fmt.Errorf("activate rejected: %w", err)
	}
	return nil
}

// SkipToNext activates the entry after the currently playing one.
func (s *Session) SkipToNext(ctx context.Context) error {
	s.mu.Lock()
	active := s.view.activeEntry()
	if active == nil {
		s.mu.Unlock()
		return ErrNothingActive
	}
	index := s.view.indexOf(active.ID)
	if index < 0 || index+1 >= len(s.view.Entries) {
		s.mu.Unlock()
		return ErrNothingActive
	}
	nextID := s.view.Entries[index+1].ID
	s.mu.Unlock()

	return s.Activate(ctx, nextID)
}

// SetDisplayName updates the local session name and sends the rename control
// message to the hub, which truncates it and broadcasts updated presence. No
// pending bookkeeping is needed: the rename affects no ordering or voting
// invariant.
func (s *Session) SetDisplayName(name string) error {
	payload, err := json.Marshal(map[string]string{"type": "session.rename", "name": name})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.self.Name = name
	sender := s.sender
	if sender == nil {
		// Disconnected: queue for delivery after the next (re)connect.
		s.control = append(s.control, payload)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return sender(payload)
}
