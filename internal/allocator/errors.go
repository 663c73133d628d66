package allocator

import "errors"

var (
	// Exhaustion
	ErrExhausted   = errors.New("allocator exhausted")
	ErrOutOfBlocks = errors.New("out of data blocks")
	ErrOutOfInodes = errors.New("out of inodes")

	// Caller errors
	ErrSlotOutOfRange = errors.New("slot number out of range")
	ErrNotAllocated   = errors.New("slot is not allocated")
	ErrInvalidBitmap  = errors.New("bitmap does not fit in one block")

	// Consistency
	ErrFragmented = errors.New("bitmap byte is not a contiguous low run")
)
