package allocator

import (
	"fmt"
	"math/bits"

	"golang.org/x/exp/constraints"
)

// locate returns the byte index and bit mask for a 1-based slot.
func locate[T constraints.Unsigned](slot T) (int, byte) {
	idx := slot - 1
	return int(idx / 8), byte(1) << (idx % 8)
}

// ladderRun maps a byte whose set bits are a contiguous low run to the run length.
var ladderRun = map[byte]uint32{
	0x00: 0, 0x01: 1, 0x03: 2, 0x07: 3, 0x0F: 4,
	0x1F: 5, 0x3F: 6, 0x7F: 7, 0xFF: 8,
}

func bitmapBytes(slots uint32) int {
	return int((slots + 7) / 8)
}

// scanFirstZero returns the lowest clear slot, or 0 when every slot is set.
func scanFirstZero(bitmap []byte, slots uint32) uint32 {
	for i := 0; i < bitmapBytes(slots); i++ {
		b := bitmap[i]
		if b == 0xFF {
			continue
		}
		slot := uint32(i*8+bits.TrailingZeros8(^b)) + 1
		if slot > slots {
			return 0
		}
		return slot
	}
	return 0
}

// scanLadder walks whole bytes. 0xFF adds eight used slots and continues; any other canonical
// run stops the walk with its length added; zero stops it immediately. A byte with holes below
// its highest set bit cannot be interpreted and yields ErrFragmented. Returns 0 when full.
func scanLadder(bitmap []byte, slots uint32) (uint32, error) {
	var lastUsed uint32
	for i := 0; i < bitmapBytes(slots); i++ {
		b := bitmap[i]
		run, ok := ladderRun[b]
		if !ok {
			return 0, fmt.Errorf("%w: byte %d holds %#08b", ErrFragmented, i, b)
		}
		lastUsed += run
		if run < 8 {
			break
		}
	}

	next := lastUsed + 1
	if next > slots {
		return 0, nil
	}
	return next, nil
}

func countSet(bitmap []byte, slots uint32) uint32 {
	var n uint32
	full := int(slots / 8)
	for i := 0; i < full; i++ {
		n += uint32(bits.OnesCount8(bitmap[i]))
	}
	if rem := slots % 8; rem != 0 {
		mask := byte(1)<<rem - 1
		n += uint32(bits.OnesCount8(bitmap[full] & mask))
	}
	return n
}
