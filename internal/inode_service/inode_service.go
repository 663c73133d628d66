package inode_service

import "github.com/AnishMulay/simplefs/internal/volume"

// InodeService owns the inode table and the mapping of file bytes onto direct and singly
// indirect data blocks.
type InodeService interface {
	// --- Inode table ---
	ReadInode(ino uint32) (volume.Inode, error)
	WriteInode(ino uint32, inode volume.Inode) error
	ZeroInode(ino uint32) error

	// --- Data layout ---

	// Materialize copies pageCount pages of buf onto freshly allocated blocks and records them
	// in inode ino. The inode must not own any blocks yet.
	Materialize(ino uint32, buf []byte, pageCount uint32) (volume.Inode, error)
	// Rewrite replaces the contents of a file that may already own blocks. On error the
	// inode and its blocks are unchanged.
	Rewrite(ino uint32, buf []byte, pageCount uint32) (volume.Inode, error)
	// Load copies the file's blocks into dst and returns the number of bytes written.
	Load(ino uint32, dst []byte) (int, error)
	// FreeAllBlocks releases every data block the inode references, including the indirect
	// block, and clears the pointers and size in inode.
	FreeAllBlocks(inode *volume.Inode) error
}
