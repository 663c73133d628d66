package volume

import "errors"

var (
	// Buffer and layout errors
	ErrBadBuffer = errors.New("buffer does not match on-disk structure size")
	ErrBadMagic  = errors.New("superblock magic mismatch")
	ErrGeometry  = errors.New("volume geometry does not fit the device")

	// Addressing errors
	ErrInodeOutOfRange = errors.New("inode number out of range")
	ErrBlockNotData    = errors.New("block is outside the data region")

	// Lifecycle errors
	ErrFormatFailed = errors.New("failed to format volume")
	ErrMountFailed  = errors.New("failed to mount volume")
)
