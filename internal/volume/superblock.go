package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Superblock offsets.
const (
	sbTotalInodes       = 0
	sbTotalBlocks       = 4
	sbUnallocatedBlocks = 12
	sbUnallocatedInodes = 16
	sbLogBlockSize      = 24
	sbMagic             = 56
	sbUUID              = 104
	sbName              = 120
	sbNameLen           = 16
)

type Superblock struct {
	TotalInodes       uint32
	TotalBlocks       uint32
	UnallocatedBlocks uint32
	UnallocatedInodes uint32
	BlockSize         uint32
	Magic             uint16
	VolumeID          uuid.UUID
	Name              string
}

func (sb *Superblock) Encode(buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("%w: superblock needs %d bytes, got %d", ErrBadBuffer, BlockSize, len(buf))
	}
	clear(buf)

	le := binary.LittleEndian
	le.PutUint32(buf[sbTotalInodes:], sb.TotalInodes)
	le.PutUint32(buf[sbTotalBlocks:], sb.TotalBlocks)
	le.PutUint32(buf[sbUnallocatedBlocks:], sb.UnallocatedBlocks)
	le.PutUint32(buf[sbUnallocatedInodes:], sb.UnallocatedInodes)
	le.PutUint32(buf[sbLogBlockSize:], logBlockSize(sb.BlockSize))
	le.PutUint16(buf[sbMagic:], sb.Magic)
	copy(buf[sbUUID:sbUUID+16], sb.VolumeID[:])

	name := []byte(sb.Name)
	if len(name) > sbNameLen {
		name = name[:sbNameLen]
	}
	copy(buf[sbName:sbName+sbNameLen], name)
	return nil
}

func DecodeSuperblock(buf []byte) (Superblock, error) {
	if len(buf) != BlockSize {
		return Superblock{}, fmt.Errorf("%w: superblock needs %d bytes, got %d", ErrBadBuffer, BlockSize, len(buf))
	}

	le := binary.LittleEndian
	sb := Superblock{
		TotalInodes:       le.Uint32(buf[sbTotalInodes:]),
		TotalBlocks:       le.Uint32(buf[sbTotalBlocks:]),
		UnallocatedBlocks: le.Uint32(buf[sbUnallocatedBlocks:]),
		UnallocatedInodes: le.Uint32(buf[sbUnallocatedInodes:]),
		BlockSize:         1024 << le.Uint32(buf[sbLogBlockSize:]),
		Magic:             le.Uint16(buf[sbMagic:]),
		Name:              string(bytes.TrimRight(buf[sbName:sbName+sbNameLen], "\x00")),
	}
	copy(sb.VolumeID[:], buf[sbUUID:sbUUID+16])

	if sb.Magic != Magic {
		return Superblock{}, fmt.Errorf("%w: got %#x", ErrBadMagic, sb.Magic)
	}
	return sb, nil
}

// DataBlocks is the number of allocatable data blocks.
func (sb *Superblock) DataBlocks() uint32 {
	return sb.TotalBlocks - FirstDataBlock
}

func logBlockSize(size uint32) uint32 {
	var n uint32
	for s := uint32(1024); s < size; s <<= 1 {
		n++
	}
	return n
}

// GroupDescriptor points at the bitmaps and the inode table of the single block group.
type GroupDescriptor struct {
	BlockBitmap uint32
	InodeBitmap uint32
	InodeTable  uint32
}

func (gd *GroupDescriptor) Encode(buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("%w: descriptor block needs %d bytes, got %d", ErrBadBuffer, BlockSize, len(buf))
	}
	clear(buf)
	binary.LittleEndian.PutUint32(buf[0:], gd.BlockBitmap)
	binary.LittleEndian.PutUint32(buf[4:], gd.InodeBitmap)
	binary.LittleEndian.PutUint32(buf[8:], gd.InodeTable)
	return nil
}

func DecodeGroupDescriptor(buf []byte) (GroupDescriptor, error) {
	if len(buf) != BlockSize {
		return GroupDescriptor{}, fmt.Errorf("%w: descriptor block needs %d bytes, got %d", ErrBadBuffer, BlockSize, len(buf))
	}
	return GroupDescriptor{
		BlockBitmap: binary.LittleEndian.Uint32(buf[0:]),
		InodeBitmap: binary.LittleEndian.Uint32(buf[4:]),
		InodeTable:  binary.LittleEndian.Uint32(buf[8:]),
	}, nil
}
