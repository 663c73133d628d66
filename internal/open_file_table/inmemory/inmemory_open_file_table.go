package inmemory

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/AnishMulay/simplefs/internal/log_service"
	oft "github.com/AnishMulay/simplefs/internal/open_file_table"
)

type slot struct {
	ownerPid  uint32
	inode     uint32
	buffer    []byte
	pageCount uint32
	fileName  string
	offset    uint32
	locked    bool
}

func (s *slot) free() bool { return s.ownerPid == oft.FreePid }

// InMemoryOpenFileTable is a fixed-size array of slots guarded by a single mutex.
type InMemoryOpenFileTable struct {
	mu    sync.Mutex
	slots []slot
	ls    log_service.LogService
}

// NewInMemoryOpenFileTable creates a table of capacity slots with stdin, stdout and stderr
// already occupied by KernelOwned entries.
func NewInMemoryOpenFileTable(capacity int, ls log_service.LogService) *InMemoryOpenFileTable {
	if capacity < oft.StdioSlots {
		capacity = oft.StdioSlots
	}
	t := &InMemoryOpenFileTable{
		slots: make([]slot, capacity),
		ls:    ls,
	}
	for i, name := range []string{"stdin", "stdout", "stderr"} {
		t.slots[i] = slot{ownerPid: oft.KernelOwned, fileName: name}
	}
	return t
}

func (t *InMemoryOpenFileTable) Capacity() int {
	return len(t.slots)
}

// lockedByOther reports whether any slot holds the write lock for inode. Caller holds mu.
func (t *InMemoryOpenFileTable) lockedByOther(inode uint32) bool {
	for i := range t.slots {
		s := &t.slots[i]
		if !s.free() && s.inode == inode && s.locked {
			return true
		}
	}
	return false
}

func (t *InMemoryOpenFileTable) Open(req oft.OpenRequest) (oft.Handle, error) {
	if req.Pid == oft.FreePid || req.Pid == oft.KernelOwned {
		return -1, fmt.Errorf("%w: %d", oft.ErrReservedPid, req.Pid)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if req.Write && t.lockedByOther(req.Inode) {
		t.ls.Warn(log_service.LogEvent{
			Message:  "Open rejected, file locked",
			Metadata: map[string]any{"pid": req.Pid, "inode": req.Inode, "name": req.FileName},
		})
		return -1, fmt.Errorf("%w: inode %d", oft.ErrLocked, req.Inode)
	}

	for i := range t.slots {
		if !t.slots[i].free() {
			continue
		}
		t.slots[i] = slot{
			ownerPid:  req.Pid,
			inode:     req.Inode,
			buffer:    req.Buffer,
			pageCount: req.PageCount,
			fileName:  req.FileName,
			offset:    req.Offset,
			locked:    req.Write,
		}

		t.ls.Debug(log_service.LogEvent{
			Message:  "Open file entry inserted",
			Metadata: map[string]any{"slot": i, "pid": req.Pid, "inode": req.Inode, "locked": req.Write},
		})
		return oft.Handle(i), nil
	}

	t.ls.Error(log_service.LogEvent{
		Message:  "Open file table full",
		Metadata: map[string]any{"capacity": len(t.slots), "pid": req.Pid},
	})
	return -1, fmt.Errorf("%w: capacity %d", oft.ErrTableFull, len(t.slots))
}

func (t *InMemoryOpenFileTable) IsLockable(inode uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.lockedByOther(inode)
}

func (t *InMemoryOpenFileTable) Lock(pid, inode uint32) error {
	if pid == oft.FreePid || pid == oft.KernelOwned {
		return fmt.Errorf("%w: %d", oft.ErrReservedPid, pid)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lockedByOther(inode) {
		return fmt.Errorf("%w: inode %d", oft.ErrLocked, inode)
	}

	for i := range t.slots {
		s := &t.slots[i]
		if s.ownerPid == pid && s.inode == inode {
			s.locked = true
			return nil
		}
	}
	return fmt.Errorf("%w: pid %d inode %d", oft.ErrEntryNotFound, pid, inode)
}

func (t *InMemoryOpenFileTable) slotFor(handle oft.Handle) (*slot, error) {
	if handle < 0 || int(handle) >= len(t.slots) || t.slots[handle].free() {
		return nil, fmt.Errorf("%w: %d", oft.ErrBadHandle, handle)
	}
	return &t.slots[handle], nil
}

func (t *InMemoryOpenFileTable) Unlock(handle oft.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.slotFor(handle)
	if err != nil {
		return err
	}
	s.locked = false
	return nil
}

func (t *InMemoryOpenFileTable) Get(handle oft.Handle) (oft.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.slotFor(handle)
	if err != nil {
		return oft.Entry{}, err
	}
	return snapshot(handle, s), nil
}

func (t *InMemoryOpenFileTable) SetOffset(handle oft.Handle, offset uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.slotFor(handle)
	if err != nil {
		return err
	}
	s.offset = offset
	return nil
}

func (t *InMemoryOpenFileTable) ReadBuffer(handle oft.Handle) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.slotFor(handle)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(s.buffer), nil
}

func (t *InMemoryOpenFileTable) WriteBuffer(handle oft.Handle, offset uint32, data []byte) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.slotFor(handle)
	if err != nil {
		return 0, err
	}
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(s.buffer)) {
		return 0, fmt.Errorf("%w: %d bytes at %d, buffer holds %d", oft.ErrOutOfRange, len(data), offset, len(s.buffer))
	}
	copy(s.buffer[offset:], data)
	s.offset = uint32(end)
	return s.offset, nil
}

func (t *InMemoryOpenFileTable) Close(handle oft.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.slotFor(handle)
	if err != nil {
		return err
	}
	if s.ownerPid == oft.KernelOwned {
		return fmt.Errorf("%w: stdio slot %d", oft.ErrReservedPid, handle)
	}
	*s = slot{}
	return nil
}

// CloseAll clears every slot owned by pid. Kernel-owned slots are never touched.
func (t *InMemoryOpenFileTable) CloseAll(pid uint32) {
	if pid == oft.FreePid || pid == oft.KernelOwned {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	closed := 0
	for i := range t.slots {
		if t.slots[i].ownerPid == pid {
			t.slots[i] = slot{}
			closed++
		}
	}

	if closed > 0 {
		t.ls.Info(log_service.LogEvent{
			Message:  "Closed all files for process",
			Metadata: map[string]any{"pid": pid, "closed": closed},
		})
	}
}

func (t *InMemoryOpenFileTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.slots {
		if !t.slots[i].free() {
			n++
		}
	}
	return n
}

func (t *InMemoryOpenFileTable) Entries() []oft.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []oft.Entry
	for i := range t.slots {
		if !t.slots[i].free() {
			out = append(out, snapshot(oft.Handle(i), &t.slots[i]))
		}
	}
	return out
}

func snapshot(handle oft.Handle, s *slot) oft.Entry {
	return oft.Entry{
		Handle:    handle,
		OwnerPid:  s.ownerPid,
		Inode:     s.inode,
		Buffer:    s.buffer,
		PageCount: s.pageCount,
		FileName:  s.fileName,
		Offset:    s.offset,
		Locked:    s.locked,
	}
}

var _ oft.OpenFileTable = (*InMemoryOpenFileTable)(nil)
