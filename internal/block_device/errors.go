package block_device

import "errors"

var (
	// Addressing errors
	ErrBlockOutOfRange = errors.New("block number out of range")
	ErrShortBuffer     = errors.New("buffer is not exactly one block")

	// Device errors
	ErrDeviceOpenFailed = errors.New("failed to open block device")
	ErrBlockReadFailed  = errors.New("failed to read block")
	ErrBlockWriteFailed = errors.New("failed to write block")
	ErrDeviceClosed     = errors.New("block device closed")
	ErrInvalidGeometry  = errors.New("invalid device geometry")
)
