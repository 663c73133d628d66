package file_service

import (
	"context"
	"fmt"
	"time"
)

// Mode is the access mode requested at open time.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "RW"
	}
	return "RO"
}

type DirEntryInfo struct {
	Inode    uint32
	Name     string
	Size     uint32
	ModTime  time.Time
	FileType uint8
	Mode     uint16
	User     uint8
	Group    uint8
	Other    uint8
}

// PermissionString renders the triplets as rwxrwxrwx.
func (e DirEntryInfo) PermissionString() string {
	return triplet(e.User) + triplet(e.Group) + triplet(e.Other)
}

func triplet(bits uint8) string {
	out := []byte("---")
	if bits&4 != 0 {
		out[0] = 'r'
	}
	if bits&2 != 0 {
		out[1] = 'w'
	}
	if bits&1 != 0 {
		out[2] = 'x'
	}
	return string(out)
}

type VolumeStats struct {
	VolumeID    string
	Name        string
	BlockSize   uint32
	TotalBlocks uint32
	UsedBlocks  uint32
	FreeBlocks  uint32
	TotalBytes  uint64
	UsedBytes   uint64
	FreeBytes   uint64
	TotalInodes uint32
	FreeInodes  uint32
	// NextBlock and NextInode are what the next allocation would return, 0 when exhausted.
	NextBlock uint32
	NextInode uint32
	OpenFiles int
}

func (s VolumeStats) String() string {
	return fmt.Sprintf("blocks %d/%d used, inodes %d/%d free, next block %d, next inode %d",
		s.UsedBlocks, s.TotalBlocks, s.FreeInodes, s.TotalInodes, s.NextBlock, s.NextInode)
}

type OpenFileInfo struct {
	FD    int
	Name  string
	Inode uint32
	Mode  Mode
	Pages uint32
}

// FileService is the system-call surface of the file store. Every call is made on behalf of
// a process id; descriptors are per process.
type FileService interface {
	// --- Lifecycle ---
	Start() error
	Stop() error

	// --- 1. OPEN ---
	// Resolves name, loads the file into a fresh buffer and binds it to a new descriptor.
	// ReadWrite takes the inode's write lock; contention returns ErrFileLocked and changes
	// nothing.
	Open(ctx context.Context, pid uint32, name string, mode Mode) (int, error)

	// --- 2. CREATE EMPTY ---
	// Creates a zero-filled file of sizeInPages pages.
	CreateEmpty(ctx context.Context, pid uint32, name string, sizeInPages uint32) error

	// --- 3. DELETE ---
	// Refuses files that are open anywhere with ErrFileBusy.
	Delete(ctx context.Context, pid uint32, name string) error

	// --- 4. CLOSE / EXIT ---
	Close(ctx context.Context, pid uint32, fd int) error
	Exit(ctx context.Context, pid uint32) error

	// --- 5. DIRECTORY AND VOLUME INFO ---
	ListDirectory(ctx context.Context) ([]DirEntryInfo, error)
	Stats(ctx context.Context) (VolumeStats, error)

	// --- 6. BUFFER ACCESS ---
	Read(ctx context.Context, pid uint32, fd int) ([]byte, error)
	Write(ctx context.Context, pid uint32, fd int, offset uint32, data []byte) error
	// Save writes a write-locked buffer back to the file's inode.
	Save(ctx context.Context, pid uint32, fd int) error

	// --- 7. DIAGNOSTICS ---
	ShowOpenFiles(ctx context.Context, pid uint32) ([]OpenFileInfo, error)
	OpenFileCount(ctx context.Context) int
}
