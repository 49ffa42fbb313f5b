// Package position implements fractional ordering keys for playlist entries.
// New entries can be placed between any two neighbors without renumbering the
// rest of the list.
package position

// Start is the canonical position of the first entry in an empty list.
const Start = 1.0

// Epsilon is the nudge applied when both neighbors carry the same position.
// That state violates the ordering invariant and callers are expected to log
// it; the nudge only keeps the allocator from returning a non-distinct key.
const Epsilon = 1e-9

// Allocate computes an ordering key strictly between the two neighbor keys.
// A nil neighbor means the slot is open on that side.
func Allocate(prev, next *float64) float64 {
	switch {
	case prev == nil && next == nil:
		return Start
	case prev == nil:
		return *next - 1
	case next == nil:
		return *prev + 1
	case *prev == *next:
		return *prev + Epsilon
	default:
		return (*prev + *next) / 2
	}
}

// Renormalized returns n integer-spaced positions starting at Start. A
// renormalization pass assigns these to a playlist's entries in their current
// order, restoring the full floating-point gap budget without changing the
// observed order.
func Renormalized(n int) []float64 {
	positions := make([]float64, n)
	for i := range positions {
		positions[i] = Start + float64(i)
	}
	return positions
}
