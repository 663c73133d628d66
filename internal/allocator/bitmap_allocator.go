package allocator

import (
	"fmt"
	"sync"

	bd "github.com/AnishMulay/simplefs/internal/block_device"
	"github.com/AnishMulay/simplefs/internal/log_service"
)

// BitmapAllocator keeps no bitmap cache: every call reads the bitmap block, changes at most one
// bit and writes the whole block back, all under mu.
type BitmapAllocator struct {
	name        string
	dev         bd.BlockDevice
	bitmapBlock uint32
	slots       uint32
	strategy    Strategy
	exhausted   error
	ls          log_service.LogService

	mu sync.Mutex
}

// NewBlockAllocator builds the data-block allocator. Exhaustion is reported as ErrOutOfBlocks.
func NewBlockAllocator(dev bd.BlockDevice, bitmapBlock, slots uint32, strategy Strategy, ls log_service.LogService) (*BitmapAllocator, error) {
	return newBitmapAllocator("blocks", ErrOutOfBlocks, dev, bitmapBlock, slots, strategy, ls)
}

// NewInodeAllocator builds the inode-slot allocator. Exhaustion is reported as ErrOutOfInodes.
func NewInodeAllocator(dev bd.BlockDevice, bitmapBlock, slots uint32, strategy Strategy, ls log_service.LogService) (*BitmapAllocator, error) {
	return newBitmapAllocator("inodes", ErrOutOfInodes, dev, bitmapBlock, slots, strategy, ls)
}

func newBitmapAllocator(name string, exhausted error, dev bd.BlockDevice, bitmapBlock, slots uint32, strategy Strategy, ls log_service.LogService) (*BitmapAllocator, error) {
	if slots == 0 || int(slots) > dev.BlockSize()*8 {
		return nil, fmt.Errorf("%w: %d slots in a %d-byte block", ErrInvalidBitmap, slots, dev.BlockSize())
	}
	return &BitmapAllocator{
		name:        name,
		dev:         dev,
		bitmapBlock: bitmapBlock,
		slots:       slots,
		strategy:    strategy,
		exhausted:   exhausted,
		ls:          ls,
	}, nil
}

func (a *BitmapAllocator) Slots() uint32 { return a.slots }

func (a *BitmapAllocator) readBitmap() ([]byte, error) {
	buf := make([]byte, a.dev.BlockSize())
	if err := a.dev.ReadBlock(a.bitmapBlock, buf); err != nil {
		a.ls.Error(log_service.LogEvent{
			Message:  "Failed to read bitmap",
			Metadata: map[string]any{"bitmap": a.name, "block": a.bitmapBlock, "error": err.Error()},
		})
		return nil, err
	}
	return buf, nil
}

func (a *BitmapAllocator) writeBitmap(buf []byte) error {
	if err := a.dev.WriteBlock(a.bitmapBlock, buf); err != nil {
		a.ls.Error(log_service.LogEvent{
			Message:  "Failed to write bitmap",
			Metadata: map[string]any{"bitmap": a.name, "block": a.bitmapBlock, "error": err.Error()},
		})
		return err
	}
	return nil
}

func (a *BitmapAllocator) next(bitmap []byte) (uint32, error) {
	if a.strategy == Ladder {
		return scanLadder(bitmap, a.slots)
	}
	return scanFirstZero(bitmap, a.slots), nil
}

func (a *BitmapAllocator) Allocate() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bitmap, err := a.readBitmap()
	if err != nil {
		return 0, err
	}

	slot, err := a.next(bitmap)
	if err != nil {
		a.ls.Error(log_service.LogEvent{
			Message:  "Bitmap scan failed",
			Metadata: map[string]any{"bitmap": a.name, "strategy": a.strategy.String(), "error": err.Error()},
		})
		return 0, err
	}
	if slot == 0 {
		a.ls.Warn(log_service.LogEvent{
			Message:  "Allocator exhausted",
			Metadata: map[string]any{"bitmap": a.name, "slots": a.slots},
		})
		return 0, fmt.Errorf("%w: %w", a.exhausted, ErrExhausted)
	}

	idx, mask := locate(slot)
	bitmap[idx] |= mask
	if err := a.writeBitmap(bitmap); err != nil {
		return 0, err
	}

	a.ls.Debug(log_service.LogEvent{
		Message:  "Slot allocated",
		Metadata: map[string]any{"bitmap": a.name, "slot": slot},
	})
	return slot, nil
}

func (a *BitmapAllocator) Free(slot uint32) error {
	if slot == 0 || slot > a.slots {
		return fmt.Errorf("%w: %s slot %d", ErrSlotOutOfRange, a.name, slot)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	bitmap, err := a.readBitmap()
	if err != nil {
		return err
	}

	idx, mask := locate(slot)
	if bitmap[idx]&mask == 0 {
		a.ls.Error(log_service.LogEvent{
			Message:  "Free of unallocated slot",
			Metadata: map[string]any{"bitmap": a.name, "slot": slot},
		})
		return fmt.Errorf("%w: %s slot %d", ErrNotAllocated, a.name, slot)
	}
	bitmap[idx] &^= mask

	if err := a.writeBitmap(bitmap); err != nil {
		return err
	}

	a.ls.Debug(log_service.LogEvent{
		Message:  "Slot freed",
		Metadata: map[string]any{"bitmap": a.name, "slot": slot},
	})
	return nil
}

func (a *BitmapAllocator) CountUsed() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bitmap, err := a.readBitmap()
	if err != nil {
		return 0, err
	}
	return countSet(bitmap, a.slots), nil
}

// PeekNextAvailable returns 0 when the bitmap is full.
func (a *BitmapAllocator) PeekNextAvailable() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bitmap, err := a.readBitmap()
	if err != nil {
		return 0, err
	}
	return a.next(bitmap)
}

func (a *BitmapAllocator) IsAllocated(slot uint32) (bool, error) {
	if slot == 0 || slot > a.slots {
		return false, fmt.Errorf("%w: %s slot %d", ErrSlotOutOfRange, a.name, slot)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	bitmap, err := a.readBitmap()
	if err != nil {
		return false, err
	}
	idx, mask := locate(slot)
	return bitmap[idx]&mask != 0, nil
}

var _ Allocator = (*BitmapAllocator)(nil)
