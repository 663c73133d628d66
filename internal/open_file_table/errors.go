package open_file_table

import "errors"

var (
	// Capacity
	ErrTableFull = errors.New("too many open files")

	// Lock contention
	ErrLocked = errors.New("file is locked for writing by another entry")

	// Lookup
	ErrEntryNotFound = errors.New("no matching open file entry")
	ErrBadHandle     = errors.New("invalid open file handle")

	// Caller errors
	ErrReservedPid = errors.New("pid is reserved")
	ErrOutOfRange  = errors.New("write past the end of the entry's buffer")
)
