package open_file_table

const (
	// FreePid marks an unused slot.
	FreePid uint32 = 0
	// KernelOwned marks the stdio slots created with the table.
	KernelOwned uint32 = 0xFFFFFFFF
	// PlaceholderInode marks an entry whose file does not exist on disk yet.
	PlaceholderInode uint32 = 0xFFFF

	StdioSlots = 3
)

// Handle identifies a slot in the table.
type Handle int

// Entry is a snapshot of one slot. Buffer aliases the process buffer backing the open file;
// callers touching its bytes while the entry is open go through ReadBuffer and WriteBuffer.
type Entry struct {
	Handle    Handle
	OwnerPid  uint32
	Inode     uint32
	Buffer    []byte
	PageCount uint32
	FileName  string
	Offset    uint32
	Locked    bool
}

type OpenRequest struct {
	Inode     uint32
	Pid       uint32
	Buffer    []byte
	PageCount uint32
	FileName  string
	Offset    uint32
	// Write asks for the inode's write lock. The check and the lock happen under the same
	// table lock as the slot insert; if another entry holds the lock nothing is inserted.
	Write bool
}

// OpenFileTable is the system-wide table of open files shared by all processes.
type OpenFileTable interface {
	Open(req OpenRequest) (Handle, error)
	// IsLockable is advisory: the answer can be stale by the time the caller acts on it.
	IsLockable(inode uint32) bool
	// Lock sets the write lock on pid's entry for inode after confirming no entry holds it.
	Lock(pid, inode uint32) error
	Unlock(handle Handle) error
	Get(handle Handle) (Entry, error)
	SetOffset(handle Handle, offset uint32) error
	// ReadBuffer returns a copy of the entry's buffer.
	ReadBuffer(handle Handle) ([]byte, error)
	// WriteBuffer copies data into the buffer at offset, moves the entry's offset past it and
	// returns the new offset.
	WriteBuffer(handle Handle, offset uint32, data []byte) (uint32, error)
	Close(handle Handle) error
	CloseAll(pid uint32)
	Count() int
	Capacity() int
	Entries() []Entry
}
