package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrTrackNotFound indicates the referenced catalog track does not exist.
	ErrTrackNotFound = errors.New("catalog: track not found")
	// ErrPlaylistNotFound indicates the referenced playlist does not exist.
	ErrPlaylistNotFound = errors.New("catalog: playlist not found")
	// ErrItemNotFound indicates the referenced membership does not exist,
	// typically because another session already removed it.
	ErrItemNotFound = errors.New("catalog: playlist item not found")
	// ErrDuplicateItem indicates the (playlist, track) pair already has a
	// membership.
	ErrDuplicateItem = errors.New("catalog: track already in playlist")
	// ErrInvalidDirection indicates an unrecognized vote direction.
	ErrInvalidDirection = errors.New(`catalog: vote direction must be "up" or "down"`)
	// ErrInvalidName indicates an empty or malformed name field.
	ErrInvalidName = errors.New("catalog: name is required")
)

// StoreError wraps a store failure with a machine-readable operation.reason
// code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IsConflict reports whether the error represents a duplicate-membership
// rejection.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateItem)
}

// IsNotFound reports whether the error references a stale or already-deleted
// entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTrackNotFound) ||
		errors.Is(err, ErrPlaylistNotFound) ||
		errors.Is(err, ErrItemNotFound)
}

// IsValidation reports whether the error represents malformed input rejected
// before any state change.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidDirection) || errors.Is(err, ErrInvalidName)
}
