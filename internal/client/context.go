package client

import (
	"time"

	"github.com/pulseroom/pulseroom/internal/fact"
)

// MutationKind enumerates the locally-issued mutation kinds tracked for
// reconciliation.
type MutationKind string

const (
	MutationAdd      MutationKind = "add"
	MutationRemove   MutationKind = "remove"
	MutationMove     MutationKind = "move"
	MutationVote     MutationKind = "vote"
	MutationActivate MutationKind = "activate"
)

// PendingMutation records one optimistic apply awaiting its authoritative
// echo. An entry exists only while the mutation is in the PENDING state; the
// three terminal outcomes (confirmed by echo, superseded by a foreign fact,
// failed and rolled back) all delete it.
type PendingMutation struct {
	Kind     MutationKind
	EntityID string
	Token    string
	IssuedAt time.Time

	// Position is the optimistically applied ordering key for a move.
	Position float64
	// PriorVotes is the counter value before an optimistic vote, restored on
	// failure.
	PriorVotes int64
	// PriorActiveID names the entry that was playing before an optimistic
	// activate.
	PriorActiveID string
}

type dedupKey struct {
	kind     fact.Kind
	entityID string
	seq      uint64
}

type pendingKey struct {
	kind     MutationKind
	entityID string
}

// ReconContext is the reconciliation state owned by one session, scoped to
// the active collection subscription: the seen-fact set used for duplicate
// suppression and the pending-mutation table. It is cleared on collection
// switch and on every full refetch.
type ReconContext struct {
	seen    map[dedupKey]struct{}
	pending map[pendingKey]PendingMutation
}

func newReconContext() ReconContext {
	return ReconContext{
		seen:    make(map[dedupKey]struct{}),
		pending: make(map[pendingKey]PendingMutation),
	}
}

func (r *ReconContext) alreadySeen(key dedupKey) bool {
	_, seen := r.seen[key]
	return seen
}

func (r *ReconContext) markSeen(key dedupKey) {
	r.seen[key] = struct{}{}
}

func (r *ReconContext) setPending(mutation PendingMutation) {
	r.pending[pendingKey{kind: mutation.Kind, entityID: mutation.EntityID}] = mutation
}

func (r *ReconContext) pendingFor(kind MutationKind, entityID string) (PendingMutation, bool) {
	mutation, ok := r.pending[pendingKey{kind: kind, entityID: entityID}]
	return mutation, ok
}

func (r *ReconContext) clearPending(kind MutationKind, entityID string) {
	delete(r.pending, pendingKey{kind: kind, entityID: entityID})
}

// clearKind drops every pending mutation of one kind. Activation is
// exclusive per collection, so any foreign activation supersedes every
// pending one.
func (r *ReconContext) clearKind(kind MutationKind) {
	for key := range r.pending {
		if key.kind == kind {
			delete(r.pending, key)
		}
	}
}

// clearEntity drops every pending mutation for an entity, regardless of kind.
func (r *ReconContext) clearEntity(entityID string) {
	for key := range r.pending {
		if key.entityID == entityID {
			delete(r.pending, key)
		}
	}
}

// resetPending drops all pending mutations; the seen set survives so
// duplicate delivery across a refetch is still suppressed.
func (r *ReconContext) resetPending() {
	r.pending = make(map[pendingKey]PendingMutation)
}

// reset drops all reconciliation state, used when the collection subscription
// changes.
func (r *ReconContext) reset() {
	r.seen = make(map[dedupKey]struct{})
	r.pending = make(map[pendingKey]PendingMutation)
}
