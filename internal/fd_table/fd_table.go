package fd_table

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	oft "github.com/AnishMulay/simplefs/internal/open_file_table"
)

const (
	MaxFileDescriptors = 16
	// FirstUserFD is the lowest descriptor handed out to callers; 0..2 belong to stdio.
	FirstUserFD = 3
)

var (
	ErrTooManyDescriptors = errors.New("too many file descriptors")
	ErrBadDescriptor      = errors.New("bad file descriptor")
)

// Descriptor binds a per-process fd to an open file table entry.
type Descriptor struct {
	FD       int
	Handle   oft.Handle
	Writable bool
}

// Table holds one fixed array of descriptors per process.
type Table struct {
	mu    sync.Mutex
	max   int
	procs map[uint32][]*Descriptor
}

func NewTable(maxDescriptors int) *Table {
	if maxDescriptors <= FirstUserFD {
		maxDescriptors = MaxFileDescriptors
	}
	return &Table{
		max:   maxDescriptors,
		procs: make(map[uint32][]*Descriptor),
	}
}

// Allocate binds the lowest free user fd of pid to handle.
func (t *Table) Allocate(pid uint32, handle oft.Handle, writable bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slots, ok := t.procs[pid]
	if !ok {
		slots = make([]*Descriptor, t.max)
		t.procs[pid] = slots
	}
	for fd := FirstUserFD; fd < t.max; fd++ {
		if slots[fd] == nil {
			slots[fd] = &Descriptor{FD: fd, Handle: handle, Writable: writable}
			return fd, nil
		}
	}
	return -1, fmt.Errorf("%w: pid %d has %d open", ErrTooManyDescriptors, pid, t.max-FirstUserFD)
}

func (t *Table) Lookup(pid uint32, fd int) (Descriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.find(pid, fd)
	if d == nil {
		return Descriptor{}, fmt.Errorf("%w: pid %d fd %d", ErrBadDescriptor, pid, fd)
	}
	return *d, nil
}

func (t *Table) find(pid uint32, fd int) *Descriptor {
	slots, ok := t.procs[pid]
	if !ok || fd < FirstUserFD || fd >= len(slots) {
		return nil
	}
	return slots[fd]
}

func (t *Table) Release(pid uint32, fd int) (Descriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.find(pid, fd)
	if d == nil {
		return Descriptor{}, fmt.Errorf("%w: pid %d fd %d", ErrBadDescriptor, pid, fd)
	}
	t.procs[pid][fd] = nil
	return *d, nil
}

// ReleaseAll drops every descriptor of pid and returns them in fd order.
func (t *Table) ReleaseAll(pid uint32) []Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.list(pid)
	delete(t.procs, pid)
	return out
}

// Descriptors lists the open descriptors of pid in fd order.
func (t *Table) Descriptors(pid uint32) []Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.list(pid)
}

func (t *Table) list(pid uint32) []Descriptor {
	var out []Descriptor
	for _, d := range t.procs[pid] {
		if d != nil {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FD < out[j].FD })
	return out
}
