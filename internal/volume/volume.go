package volume

import (
	"encoding/binary"
	"fmt"
	"sync"

	bd "github.com/AnishMulay/simplefs/internal/block_device"
	"github.com/AnishMulay/simplefs/internal/log_service"
	"github.com/google/uuid"
)

type FormatOptions struct {
	Name     string
	VolumeID uuid.UUID
}

// Volume is the mounted superblock and group descriptor of one device. Both are read once at
// mount time. The superblock counters are only rewritten through SyncCounters.
type Volume struct {
	dev bd.BlockDevice
	ls  log_service.LogService

	mu sync.Mutex
	sb Superblock
	gd GroupDescriptor
}

// Format writes an empty file system onto dev: superblock, descriptor, clear bitmaps, a zeroed
// inode table and a root directory holding only the end marker.
func Format(dev bd.BlockDevice, opts FormatOptions, ls log_service.LogService) (*Superblock, error) {
	if dev.BlockSize() != BlockSize {
		return nil, fmt.Errorf("%w: device block size %d, want %d", ErrGeometry, dev.BlockSize(), BlockSize)
	}
	total := dev.BlockCount()
	if total < MinTotalBlocks {
		return nil, fmt.Errorf("%w: %d blocks is below the minimum of %d", ErrGeometry, total, MinTotalBlocks)
	}
	if total-FirstDataBlock > MaxDataBlocks {
		total = FirstDataBlock + MaxDataBlocks
	}

	id := opts.VolumeID
	if id == uuid.Nil {
		id = uuid.New()
	}

	ls.Info(log_service.LogEvent{
		Message:  "Formatting volume",
		Metadata: map[string]any{"blocks": total, "name": opts.Name, "volumeID": id.String()},
	})

	zero := make([]byte, BlockSize)
	for b := uint32(0); b < FirstDataBlock; b++ {
		if err := dev.WriteBlock(b, zero); err != nil {
			ls.Error(log_service.LogEvent{
				Message:  "Failed to clear metadata block",
				Metadata: map[string]any{"block": b, "error": err.Error()},
			})
			return nil, fmt.Errorf("%w: %v", ErrFormatFailed, err)
		}
	}

	sb := &Superblock{
		TotalInodes:       MaxFilesPerDirectory,
		TotalBlocks:       total,
		UnallocatedBlocks: total - FirstDataBlock,
		UnallocatedInodes: MaxFilesPerDirectory,
		BlockSize:         BlockSize,
		Magic:             Magic,
		VolumeID:          id,
		Name:              opts.Name,
	}
	gd := GroupDescriptor{
		BlockBitmap: BlockBitmapBlock,
		InodeBitmap: InodeBitmapBlock,
		InodeTable:  InodeTableStart,
	}

	buf := make([]byte, BlockSize)
	if err := sb.Encode(buf); err != nil {
		return nil, err
	}
	if err := dev.WriteBlock(SuperblockBlock, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormatFailed, err)
	}

	if err := gd.Encode(buf); err != nil {
		return nil, err
	}
	if err := dev.WriteBlock(GroupDescriptorBlock, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormatFailed, err)
	}

	// Root directory: a lone end marker at offset 0.
	clear(buf)
	binary.LittleEndian.PutUint16(buf[4:], EndMarkerRecLen)
	if err := dev.WriteBlock(RootDirBlock, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormatFailed, err)
	}

	ls.Info(log_service.LogEvent{
		Message:  "Volume formatted",
		Metadata: map[string]any{"volumeID": id.String(), "dataBlocks": sb.DataBlocks()},
	})
	return sb, nil
}

// Mount reads the superblock and group descriptor from dev.
func Mount(dev bd.BlockDevice, ls log_service.LogService) (*Volume, error) {
	ls.Info(log_service.LogEvent{Message: "Mounting volume"})

	if dev.BlockSize() != BlockSize {
		return nil, fmt.Errorf("%w: device block size %d, want %d", ErrGeometry, dev.BlockSize(), BlockSize)
	}

	buf := make([]byte, BlockSize)
	if err := dev.ReadBlock(SuperblockBlock, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMountFailed, err)
	}
	sb, err := DecodeSuperblock(buf)
	if err != nil {
		ls.Error(log_service.LogEvent{
			Message:  "Invalid superblock",
			Metadata: map[string]any{"error": err.Error()},
		})
		return nil, err
	}
	if sb.BlockSize != BlockSize || sb.TotalBlocks > dev.BlockCount() || sb.TotalBlocks < MinTotalBlocks {
		return nil, fmt.Errorf("%w: superblock reports %d blocks of %d bytes on a %d-block device",
			ErrGeometry, sb.TotalBlocks, sb.BlockSize, dev.BlockCount())
	}

	if err := dev.ReadBlock(GroupDescriptorBlock, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMountFailed, err)
	}
	gd, err := DecodeGroupDescriptor(buf)
	if err != nil {
		return nil, err
	}
	for _, b := range []uint32{gd.BlockBitmap, gd.InodeBitmap, gd.InodeTable} {
		if b == 0 || b >= FirstDataBlock {
			return nil, fmt.Errorf("%w: descriptor pointer %d outside metadata region", ErrGeometry, b)
		}
	}

	ls.Info(log_service.LogEvent{
		Message: "Volume mounted",
		Metadata: map[string]any{
			"volumeID":    sb.VolumeID.String(),
			"name":        sb.Name,
			"totalBlocks": sb.TotalBlocks,
			"totalInodes": sb.TotalInodes,
		},
	})

	return &Volume{dev: dev, ls: ls, sb: sb, gd: gd}, nil
}

func (v *Volume) Device() bd.BlockDevice { return v.dev }

func (v *Volume) Superblock() Superblock {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sb
}

func (v *Volume) Descriptor() GroupDescriptor {
	return v.gd
}

// DataBlocks is the number of slots in the block bitmap.
func (v *Volume) DataBlocks() uint32 {
	return v.sb.DataBlocks()
}

// BlockForSlot converts a 1-based block-bitmap slot to an absolute block number.
func (v *Volume) BlockForSlot(slot uint32) uint32 {
	return FirstDataBlock + slot - 1
}

// SlotForBlock is the inverse of BlockForSlot.
func (v *Volume) SlotForBlock(block uint32) (uint32, error) {
	if block < FirstDataBlock || block >= v.sb.TotalBlocks {
		return 0, fmt.Errorf("%w: %d", ErrBlockNotData, block)
	}
	return block - FirstDataBlock + 1, nil
}

// SyncCounters rewrites the unallocated counters in the on-disk superblock.
func (v *Volume) SyncCounters(freeBlocks, freeInodes uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.sb.UnallocatedBlocks = freeBlocks
	v.sb.UnallocatedInodes = freeInodes

	buf := make([]byte, BlockSize)
	if err := v.sb.Encode(buf); err != nil {
		return err
	}
	if err := v.dev.WriteBlock(SuperblockBlock, buf); err != nil {
		v.ls.Error(log_service.LogEvent{
			Message:  "Failed to sync superblock counters",
			Metadata: map[string]any{"error": err.Error()},
		})
		return err
	}

	v.ls.Debug(log_service.LogEvent{
		Message:  "Superblock counters synced",
		Metadata: map[string]any{"freeBlocks": freeBlocks, "freeInodes": freeInodes},
	})
	return nil
}
