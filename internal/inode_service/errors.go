package inode_service

import "errors"

var (
	// Capacity errors
	ErrFileTooLarge = errors.New("file exceeds direct plus indirect capacity")

	// Caller errors
	ErrShortBuffer   = errors.New("buffer smaller than requested pages")
	ErrInodeHasBlock = errors.New("inode still owns data blocks")

	// Consistency errors
	ErrCorruptInode = errors.New("inode block pointers are inconsistent")
)
