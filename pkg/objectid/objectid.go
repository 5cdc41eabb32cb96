// Package objectid defines the 64-bit object identifier and the bounded
// allocation window described in spec.md §3: IDs are monotonically
// assigned and never reused, even across a crash that loses the last few
// allocations.
package objectid

// ID is a 64-bit positive object identifier, unique within an account.
// Object ID 1 is always the root directory.
type ID uint64

// Root is the object ID of the account's root directory.
const Root ID = 1

// Valid reports whether id could name a real object (nonzero).
func (id ID) Valid() bool { return id != 0 }

// AllocWindow is how far the allocator pre-commits the "last used" counter
// ahead of actually-handed-out IDs, so that a crash between incrementing
// the in-memory counter and flushing it to disk never causes an ID to be
// reused: on restart the checker (pkg/checker) recomputes the true high
// water mark from the objects that actually exist on disk, and the live
// allocator continues from max(windowed-counter, true high water mark).
const AllocWindow = 32

// Allocator hands out monotonically increasing object IDs for one account.
// It is not safe for concurrent use; spec.md §5 guarantees at most one
// writer session per account via the advisory lock, so callers serialize
// access to the allocator themselves.
type Allocator struct {
	last ID
}

// NewAllocator resumes an allocator from the last-known-used ID (read from
// account state, pkg/account).
func NewAllocator(lastUsed ID) *Allocator {
	return &Allocator{last: lastUsed}
}

// Next returns the next unused ID. The Design Notes call out a bug in the
// original where the counter was incremented *after* an early return,
// which meant the in-memory "dirty" flag was never set when the very first
// allocation of a session happened to be the one that failed; Next always
// advances last before returning so the caller can unconditionally mark
// its backing AS dirty.
func (a *Allocator) Next() ID {
	a.last++
	return a.last
}

// Last returns the highest ID handed out so far.
func (a *Allocator) Last() ID { return a.last }
