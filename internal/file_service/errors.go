package file_service

import "errors"

var (
	// Lookup errors
	ErrFileNotFound  = errors.New("file not found")
	ErrFileExists    = errors.New("file already exists")
	ErrBadDescriptor = errors.New("bad file descriptor")

	// Validation errors
	ErrInvalidName  = errors.New("invalid file name")
	ErrReadOnly     = errors.New("descriptor is not open for writing")
	ErrOutOfRange   = errors.New("write past end of buffer")
	ErrFileTooLarge = errors.New("file too large")

	// Contention errors
	ErrFileLocked = errors.New("file is locked by another writer")
	ErrFileBusy   = errors.New("file is open")

	// Exhaustion errors
	ErrNoSpace          = errors.New("no space left on volume")
	ErrDirectoryFull    = errors.New("directory is full")
	ErrTooManyOpenFiles = errors.New("too many open files")
	ErrOutOfMemory      = errors.New("out of memory pages")

	// Internal errors
	ErrCorrupt = errors.New("file system is inconsistent")
)
