package allocator

// Allocator hands out 1-based slot numbers backed by an on-disk bitmap. Bit i of the bitmap is
// set iff slot i+1 is allocated.
type Allocator interface {
	// Allocate marks the lowest free slot used and returns it.
	Allocate() (uint32, error)
	Free(slot uint32) error
	CountUsed() (uint32, error)
	// PeekNextAvailable reports the slot the next Allocate would return without mutating.
	PeekNextAvailable() (uint32, error)
	IsAllocated(slot uint32) (bool, error)
	Slots() uint32
}

// Strategy selects how the bitmap is scanned for a free slot.
type Strategy int

const (
	// FirstZero returns the lowest clear bit.
	FirstZero Strategy = iota
	// Ladder accumulates fully used bytes and stops at the first byte whose set bits are not a
	// contiguous low run. Only bitmap allocation order is reproduced; directories whose last
	// entry doubles as the end marker are still rejected as corrupt.
	Ladder
)

func (s Strategy) String() string {
	switch s {
	case Ladder:
		return "ladder"
	default:
		return "first-zero"
	}
}
