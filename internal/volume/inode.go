package volume

import (
	"encoding/binary"
	"fmt"
)

// Inode field offsets within a 128-byte slot.
const (
	inMode    = 0
	inUID     = 2
	inSize    = 4
	inATime   = 8
	inCTime   = 12
	inMTime   = 16
	inDTime   = 20
	inGID     = 24
	inLinks   = 26
	inSectors = 28
	inFlags   = 32
	inBlock   = 40
)

type Inode struct {
	Mode    uint16
	UID     uint16
	Size    uint32
	ATime   uint32
	CTime   uint32
	MTime   uint32
	DTime   uint32
	GID     uint16
	Links   uint16
	Sectors uint32
	Flags   uint32
	Block   [PointerSlots]uint32
}

func (in *Inode) Encode(buf []byte) error {
	if len(buf) != InodeSize {
		return fmt.Errorf("%w: inode needs %d bytes, got %d", ErrBadBuffer, InodeSize, len(buf))
	}
	clear(buf)

	le := binary.LittleEndian
	le.PutUint16(buf[inMode:], in.Mode)
	le.PutUint16(buf[inUID:], in.UID)
	le.PutUint32(buf[inSize:], in.Size)
	le.PutUint32(buf[inATime:], in.ATime)
	le.PutUint32(buf[inCTime:], in.CTime)
	le.PutUint32(buf[inMTime:], in.MTime)
	le.PutUint32(buf[inDTime:], in.DTime)
	le.PutUint16(buf[inGID:], in.GID)
	le.PutUint16(buf[inLinks:], in.Links)
	le.PutUint32(buf[inSectors:], in.Sectors)
	le.PutUint32(buf[inFlags:], in.Flags)
	for i, b := range in.Block {
		le.PutUint32(buf[inBlock+4*i:], b)
	}
	return nil
}

func DecodeInode(buf []byte) (Inode, error) {
	if len(buf) != InodeSize {
		return Inode{}, fmt.Errorf("%w: inode needs %d bytes, got %d", ErrBadBuffer, InodeSize, len(buf))
	}

	le := binary.LittleEndian
	in := Inode{
		Mode:    le.Uint16(buf[inMode:]),
		UID:     le.Uint16(buf[inUID:]),
		Size:    le.Uint32(buf[inSize:]),
		ATime:   le.Uint32(buf[inATime:]),
		CTime:   le.Uint32(buf[inCTime:]),
		MTime:   le.Uint32(buf[inMTime:]),
		DTime:   le.Uint32(buf[inDTime:]),
		GID:     le.Uint16(buf[inGID:]),
		Links:   le.Uint16(buf[inLinks:]),
		Sectors: le.Uint32(buf[inSectors:]),
		Flags:   le.Uint32(buf[inFlags:]),
	}
	for i := range in.Block {
		in.Block[i] = le.Uint32(buf[inBlock+4*i:])
	}
	return in, nil
}

// BlockCount is the number of data blocks the inode's size implies.
func (in *Inode) BlockCount() uint32 {
	return CeilDiv(in.Size, uint32(BlockSize))
}

func (in *Inode) IsZero() bool {
	return *in == Inode{}
}

// TypeBits returns the file-type nibble of the mode.
func (in *Inode) TypeBits() uint16 {
	return (in.Mode & ModeTypeMask) >> 12
}

// Permissions returns the user, group and other rwx triplets.
func (in *Inode) Permissions() (user, group, other uint8) {
	return uint8((in.Mode >> 6) & 0x7), uint8((in.Mode >> 3) & 0x7), uint8(in.Mode & 0x7)
}

// InodeLocation returns the inode-table block and byte offset that hold inode ino.
func InodeLocation(inodeTable, ino uint32) (block uint32, offset int, err error) {
	if ino == 0 || ino > MaxFilesPerDirectory {
		return 0, 0, fmt.Errorf("%w: %d", ErrInodeOutOfRange, ino)
	}
	idx := ino - 1
	return inodeTable + idx/InodesPerBlock, int(idx%InodesPerBlock) * InodeSize, nil
}
