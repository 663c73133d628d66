package directory_service

import "errors"

var (
	// Lookup errors
	ErrNotFound      = errors.New("name not found in directory")
	ErrAlreadyExists = errors.New("name already exists in directory")

	// Name validation errors
	ErrInvalidName = errors.New("invalid file name")
	ErrNameTooLong = errors.New("file name too long")

	// Capacity errors
	ErrDirectoryFull = errors.New("directory is full")

	// Consistency errors
	ErrCorrupt = errors.New("directory records are corrupt")
)
