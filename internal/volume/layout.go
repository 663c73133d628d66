package volume

import "golang.org/x/exp/constraints"

// On-disk geometry. Block numbers are absolute device block numbers unless noted.
const (
	BlockSize  = 1024
	SectorSize = 512
	PageSize   = 4096

	BootBlock            = 0
	SuperblockBlock      = 1
	GroupDescriptorBlock = 2
	BlockBitmapBlock     = 3
	InodeBitmapBlock     = 4
	InodeTableStart      = 5

	InodeSize            = 128
	InodesPerBlock       = BlockSize / InodeSize
	MaxFilesPerDirectory = 128
	InodeTableBlocks     = MaxFilesPerDirectory / InodesPerBlock

	RootDirBlock  = InodeTableStart + InodeTableBlocks
	RootDirBlocks = 4
	RootDirSize   = RootDirBlocks * BlockSize

	FirstDataBlock = RootDirBlock + RootDirBlocks

	DirectBlocks     = 12
	IndirectSlot     = 12
	PointerSlots     = 15
	PointersPerBlock = BlockSize / 4
	MaxFileBlocks    = DirectBlocks + PointersPerBlock
	MaxFileSize      = MaxFileBlocks * BlockSize

	// One bitmap block addresses this many data blocks.
	MaxDataBlocks      = BlockSize * 8
	DefaultTotalBlocks = 2048
	MinTotalBlocks     = FirstDataBlock + 32

	Magic = 0xEF53

	// EndMarkerRecLen is the record length carried by the directory end marker. Real records
	// never reach it.
	EndMarkerRecLen = 0x100
	MaxNameLen      = 243
)

// Inode mode bits.
const (
	ModeTypeMask    = 0xF000
	ModeRegular     = 0x8000
	ModeDirectory   = 0x4000
	RegularFileMode = 0x81B6

	FileTypeRegular   = 1
	FileTypeDirectory = 2
)

// CeilDiv returns x/y rounded up.
func CeilDiv[T constraints.Integer](x, y T) T {
	if x == 0 {
		return 0
	}
	return (x + y - 1) / y
}

// RoundUp rounds x up to a multiple of align.
func RoundUp[T constraints.Integer](x, align T) T {
	return CeilDiv(x, align) * align
}
