package inmemory

import (
	"fmt"
	"sync"

	bd "github.com/AnishMulay/simplefs/internal/block_device"
)

type InMemoryBlockDevice struct {
	mu         sync.RWMutex
	blockSize  int
	blockCount uint32
	data       []byte

	reads  int
	writes int
}

func NewInMemoryBlockDevice(blockSize int, blockCount uint32) *InMemoryBlockDevice {
	return &InMemoryBlockDevice{
		blockSize:  blockSize,
		blockCount: blockCount,
		data:       make([]byte, blockSize*int(blockCount)),
	}
}

func (d *InMemoryBlockDevice) BlockSize() int     { return d.blockSize }
func (d *InMemoryBlockDevice) BlockCount() uint32 { return d.blockCount }

func (d *InMemoryBlockDevice) span(blockNumber uint32, buf []byte) ([]byte, error) {
	if blockNumber >= d.blockCount {
		return nil, fmt.Errorf("%w: %d >= %d", bd.ErrBlockOutOfRange, blockNumber, d.blockCount)
	}
	if len(buf) != d.blockSize {
		return nil, fmt.Errorf("%w: got %d bytes", bd.ErrShortBuffer, len(buf))
	}
	off := int(blockNumber) * d.blockSize
	return d.data[off : off+d.blockSize], nil
}

func (d *InMemoryBlockDevice) ReadBlock(blockNumber uint32, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	src, err := d.span(blockNumber, dst)
	if err != nil {
		return err
	}
	copy(dst, src)
	d.reads++
	return nil
}

func (d *InMemoryBlockDevice) WriteBlock(blockNumber uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dst, err := d.span(blockNumber, src)
	if err != nil {
		return err
	}
	copy(dst, src)
	d.writes++
	return nil
}

// Counters reports how many block reads and writes have been served.
func (d *InMemoryBlockDevice) Counters() (reads, writes int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reads, d.writes
}

func (d *InMemoryBlockDevice) Close() error { return nil }

var _ bd.BlockDevice = (*InMemoryBlockDevice)(nil)
