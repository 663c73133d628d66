package simple

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AnishMulay/simplefs/internal/allocator"
	ds "github.com/AnishMulay/simplefs/internal/directory_service"
	"github.com/AnishMulay/simplefs/internal/fd_table"
	fs "github.com/AnishMulay/simplefs/internal/file_service"
	is "github.com/AnishMulay/simplefs/internal/inode_service"
	"github.com/AnishMulay/simplefs/internal/log_service"
	oft "github.com/AnishMulay/simplefs/internal/open_file_table"
	ps "github.com/AnishMulay/simplefs/internal/page_service"
	"github.com/AnishMulay/simplefs/internal/volume"
	"go.uber.org/multierr"
)

type SimpleFileService struct {
	vol    *volume.Volume
	blocks allocator.Allocator
	inodes allocator.Allocator
	is     is.InodeService
	dir    ds.DirectoryService
	table  oft.OpenFileTable
	fds    *fd_table.Table
	pages  ps.PageService
	ls     log_service.LogService

	// nsMu orders namespace and data changes against opens: create, delete and save hold it
	// exclusively, open holds it shared from resolve until its table entry exists.
	nsMu sync.RWMutex
}

type Deps struct {
	Volume      *volume.Volume
	Blocks      allocator.Allocator
	Inodes      allocator.Allocator
	InodeSvc    is.InodeService
	Directory   ds.DirectoryService
	Table       oft.OpenFileTable
	Descriptors *fd_table.Table
	Pages       ps.PageService
	Log         log_service.LogService
}

func NewSimpleFileService(d Deps) *SimpleFileService {
	return &SimpleFileService{
		vol:    d.Volume,
		blocks: d.Blocks,
		inodes: d.Inodes,
		is:     d.InodeSvc,
		dir:    d.Directory,
		table:  d.Table,
		fds:    d.Descriptors,
		pages:  d.Pages,
		ls:     d.Log,
	}
}

// classify attaches the file service sentinel matching a lower-level failure. The original
// error stays in the chain.
func classify(err error) error {
	var sentinel error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ds.ErrNotFound):
		sentinel = fs.ErrFileNotFound
	case errors.Is(err, ds.ErrAlreadyExists):
		sentinel = fs.ErrFileExists
	case errors.Is(err, ds.ErrInvalidName), errors.Is(err, ds.ErrNameTooLong):
		sentinel = fs.ErrInvalidName
	case errors.Is(err, ds.ErrDirectoryFull):
		sentinel = fs.ErrDirectoryFull
	case errors.Is(err, allocator.ErrExhausted):
		sentinel = fs.ErrNoSpace
	case errors.Is(err, is.ErrFileTooLarge):
		sentinel = fs.ErrFileTooLarge
	case errors.Is(err, oft.ErrLocked):
		sentinel = fs.ErrFileLocked
	case errors.Is(err, oft.ErrOutOfRange):
		sentinel = fs.ErrOutOfRange
	case errors.Is(err, oft.ErrTableFull), errors.Is(err, fd_table.ErrTooManyDescriptors):
		sentinel = fs.ErrTooManyOpenFiles
	case errors.Is(err, ps.ErrOutOfPages):
		sentinel = fs.ErrOutOfMemory
	case errors.Is(err, fd_table.ErrBadDescriptor), errors.Is(err, oft.ErrBadHandle):
		sentinel = fs.ErrBadDescriptor
	case errors.Is(err, ds.ErrCorrupt), errors.Is(err, is.ErrCorruptInode), errors.Is(err, allocator.ErrFragmented):
		sentinel = fs.ErrCorrupt
	default:
		return err
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// --- Lifecycle ---

func (s *SimpleFileService) Start() error {
	sb := s.vol.Superblock()
	s.ls.Info(log_service.LogEvent{
		Message: "Starting Simple File Service",
		Metadata: map[string]any{
			"volumeID":    sb.VolumeID.String(),
			"totalBlocks": sb.TotalBlocks,
			"totalInodes": sb.TotalInodes,
		},
	})
	return s.syncCounters()
}

func (s *SimpleFileService) Stop() error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping Simple File Service"})
	return s.syncCounters()
}

// syncCounters refreshes the free block and inode counts in the superblock.
func (s *SimpleFileService) syncCounters() error {
	usedBlocks, err := s.blocks.CountUsed()
	if err != nil {
		return err
	}
	usedInodes, err := s.inodes.CountUsed()
	if err != nil {
		return err
	}
	return s.vol.SyncCounters(s.blocks.Slots()-usedBlocks, s.inodes.Slots()-usedInodes)
}

// --- 1. OPEN ---

func (s *SimpleFileService) Open(ctx context.Context, pid uint32, name string, mode fs.Mode) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	s.ls.Info(log_service.LogEvent{
		Message:  "Open request",
		Metadata: map[string]any{"pid": pid, "name": name, "mode": mode.String()},
	})

	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	ino, err := s.dir.Resolve(name)
	if err != nil {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Open failed to resolve name",
			Metadata: map[string]any{"pid": pid, "name": name, "error": err.Error()},
		})
		return -1, classify(err)
	}

	// Advisory check to skip the load when a writer already holds the file. The table
	// insert below repeats it atomically.
	if mode == fs.ReadWrite && !s.table.IsLockable(ino) {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Open refused, file locked",
			Metadata: map[string]any{"pid": pid, "name": name, "inode": ino},
		})
		return -1, fmt.Errorf("%w: %s", fs.ErrFileLocked, name)
	}

	inode, err := s.is.ReadInode(ino)
	if err != nil {
		return -1, classify(err)
	}

	pageCount := volume.CeilDiv(inode.Size, uint32(volume.PageSize))
	var buf []byte
	if pageCount > 0 {
		buf, err = s.pages.AcquireContiguousPages(pid, pageCount, ps.ProtReadWrite)
		if err != nil {
			return -1, classify(err)
		}
		if _, err := s.is.Load(ino, buf); err != nil {
			s.ls.Error(log_service.LogEvent{
				Message:  "Failed to load file",
				Metadata: map[string]any{"pid": pid, "name": name, "inode": ino, "error": err.Error()},
			})
			return -1, classify(multierr.Append(err, s.pages.ReleasePage(pid, buf)))
		}
	}

	handle, err := s.table.Open(oft.OpenRequest{
		Inode:     ino,
		Pid:       pid,
		Buffer:    buf,
		PageCount: pageCount,
		FileName:  name,
		Write:     mode == fs.ReadWrite,
	})
	if err != nil {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Open file table refused entry",
			Metadata: map[string]any{"pid": pid, "name": name, "inode": ino, "error": err.Error()},
		})
		return -1, classify(multierr.Append(err, s.releaseBuffer(pid, buf)))
	}

	fd, err := s.fds.Allocate(pid, handle, mode == fs.ReadWrite)
	if err != nil {
		err = multierr.Combine(err, s.table.Close(handle), s.releaseBuffer(pid, buf))
		return -1, classify(err)
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "File opened",
		Metadata: map[string]any{"pid": pid, "name": name, "inode": ino, "fd": fd, "pages": pageCount},
	})
	return fd, nil
}

func (s *SimpleFileService) releaseBuffer(pid uint32, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return s.pages.ReleasePage(pid, buf)
}

// --- 2. CREATE EMPTY ---

func (s *SimpleFileService) CreateEmpty(ctx context.Context, pid uint32, name string, sizeInPages uint32) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.ls.Info(log_service.LogEvent{
		Message:  "Create request",
		Metadata: map[string]any{"pid": pid, "name": name, "pages": sizeInPages},
	})

	if err := ds.ValidateName(name); err != nil {
		return classify(err)
	}
	if uint64(sizeInPages)*volume.PageSize > volume.MaxFileSize {
		return fmt.Errorf("%w: %d pages exceeds %d bytes", fs.ErrFileTooLarge, sizeInPages, volume.MaxFileSize)
	}

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	if _, err := s.dir.Resolve(name); err == nil {
		return fmt.Errorf("%w: %s", fs.ErrFileExists, name)
	} else if !errors.Is(err, ds.ErrNotFound) {
		return classify(err)
	}

	// 1. Zeroed buffer bound to a placeholder descriptor
	var buf []byte
	if sizeInPages > 0 {
		buf, err = s.pages.AcquireContiguousPages(pid, sizeInPages, ps.ProtReadWrite)
		if err != nil {
			return classify(err)
		}
	}
	handle, err := s.table.Open(oft.OpenRequest{
		Inode:     oft.PlaceholderInode,
		Pid:       pid,
		Buffer:    buf,
		PageCount: sizeInPages,
		FileName:  name,
	})
	if err != nil {
		return classify(multierr.Append(err, s.releaseBuffer(pid, buf)))
	}
	fd, err := s.fds.Allocate(pid, handle, false)
	if err != nil {
		return classify(multierr.Combine(err, s.table.Close(handle), s.releaseBuffer(pid, buf)))
	}
	defer func() {
		err = multierr.Append(err, s.closeDescriptor(pid, fd))
	}()

	// 2. Inode, directory record, data
	ino, err := s.inodes.Allocate()
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to allocate inode",
			Metadata: map[string]any{"name": name, "error": err.Error()},
		})
		return classify(err)
	}

	undo := []func() error{func() error { return s.inodes.Free(ino) }}
	rollback := func(cause error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			cause = multierr.Append(cause, undo[i]())
		}
		s.ls.Error(log_service.LogEvent{
			Message:  "Create failed, rolled back",
			Metadata: map[string]any{"name": name, "inode": ino, "error": cause.Error()},
		})
		return classify(cause)
	}

	if err := s.is.WriteInode(ino, volume.Inode{Mode: volume.RegularFileMode, Links: 1}); err != nil {
		return rollback(err)
	}
	undo = append(undo, func() error { return s.is.ZeroInode(ino) })

	if err := s.dir.Insert(name, ino, volume.FileTypeRegular); err != nil {
		return rollback(err)
	}
	undo = append(undo, func() error {
		_, err := s.dir.Remove(name)
		return err
	})

	inode, err := s.is.Materialize(ino, buf, sizeInPages)
	if err != nil {
		return rollback(err)
	}

	if err := s.syncCounters(); err != nil {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Failed to sync counters after create",
			Metadata: map[string]any{"error": err.Error()},
		})
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "File created",
		Metadata: map[string]any{"name": name, "inode": ino, "size": inode.Size},
	})
	return nil
}

// --- 3. DELETE ---

func (s *SimpleFileService) Delete(ctx context.Context, pid uint32, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.ls.Info(log_service.LogEvent{
		Message:  "Delete request",
		Metadata: map[string]any{"pid": pid, "name": name},
	})

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	ino, err := s.dir.Resolve(name)
	if err != nil {
		return classify(err)
	}

	for _, e := range s.table.Entries() {
		if e.Inode == ino && e.OwnerPid != oft.KernelOwned {
			s.ls.Warn(log_service.LogEvent{
				Message:  "Delete refused, file open",
				Metadata: map[string]any{"name": name, "inode": ino, "owner": e.OwnerPid},
			})
			return fmt.Errorf("%w: %s is open by pid %d", fs.ErrFileBusy, name, e.OwnerPid)
		}
	}

	inode, err := s.is.ReadInode(ino)
	if err != nil {
		return classify(err)
	}

	// 1. Directory record; once it is gone a later failure can only leak space
	if _, err := s.dir.Remove(name); err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to remove directory record",
			Metadata: map[string]any{"name": name, "inode": ino, "error": err.Error()},
		})
		return classify(err)
	}

	// 2. Data blocks, inode slot and bit
	if err := multierr.Combine(
		s.is.FreeAllBlocks(&inode),
		s.is.ZeroInode(ino),
		s.inodes.Free(ino),
	); err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "File unlinked but its inode was not fully released",
			Metadata: map[string]any{"name": name, "inode": ino, "error": err.Error()},
		})
	}

	if err := s.syncCounters(); err != nil {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Failed to sync counters after delete",
			Metadata: map[string]any{"error": err.Error()},
		})
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "File deleted",
		Metadata: map[string]any{"name": name, "inode": ino},
	})
	return nil
}

// --- 4. CLOSE / EXIT ---

func (s *SimpleFileService) closeDescriptor(pid uint32, fd int) error {
	d, err := s.fds.Release(pid, fd)
	if err != nil {
		return err
	}
	entry, err := s.table.Get(d.Handle)
	if err != nil {
		return err
	}
	return multierr.Append(s.table.Close(d.Handle), s.releaseBuffer(pid, entry.Buffer))
}

func (s *SimpleFileService) Close(ctx context.Context, pid uint32, fd int) error {
	s.ls.Info(log_service.LogEvent{
		Message:  "Close request",
		Metadata: map[string]any{"pid": pid, "fd": fd},
	})

	if err := s.closeDescriptor(pid, fd); err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Close failed",
			Metadata: map[string]any{"pid": pid, "fd": fd, "error": err.Error()},
		})
		return classify(err)
	}
	return nil
}

func (s *SimpleFileService) Exit(ctx context.Context, pid uint32) error {
	released := s.fds.ReleaseAll(pid)
	s.table.CloseAll(pid)
	pages := s.pages.ReleaseAll(pid)

	s.ls.Info(log_service.LogEvent{
		Message:  "Process exited",
		Metadata: map[string]any{"pid": pid, "descriptors": len(released), "pages": pages},
	})
	return nil
}

// --- 5. DIRECTORY AND VOLUME INFO ---

func (s *SimpleFileService) ListDirectory(ctx context.Context) ([]fs.DirEntryInfo, error) {
	records, err := s.dir.List()
	if err != nil {
		return nil, classify(err)
	}

	out := make([]fs.DirEntryInfo, 0, len(records))
	for _, rec := range records {
		inode, err := s.is.ReadInode(rec.Inode)
		if err != nil {
			s.ls.Error(log_service.LogEvent{
				Message:  "Failed to read inode for listing",
				Metadata: map[string]any{"name": rec.Name, "inode": rec.Inode, "error": err.Error()},
			})
			return nil, classify(err)
		}
		user, group, other := inode.Permissions()
		out = append(out, fs.DirEntryInfo{
			Inode:    rec.Inode,
			Name:     rec.Name,
			Size:     inode.Size,
			ModTime:  time.Unix(int64(inode.MTime), 0).UTC(),
			FileType: rec.FileType,
			Mode:     inode.Mode,
			User:     user,
			Group:    group,
			Other:    other,
		})
	}
	return out, nil
}

func (s *SimpleFileService) Stats(ctx context.Context) (fs.VolumeStats, error) {
	sb := s.vol.Superblock()

	usedBlocks, err := s.blocks.CountUsed()
	if err != nil {
		return fs.VolumeStats{}, classify(err)
	}
	usedInodes, err := s.inodes.CountUsed()
	if err != nil {
		return fs.VolumeStats{}, classify(err)
	}
	nextBlock, err := s.blocks.PeekNextAvailable()
	if err != nil {
		return fs.VolumeStats{}, classify(err)
	}
	nextInode, err := s.inodes.PeekNextAvailable()
	if err != nil {
		return fs.VolumeStats{}, classify(err)
	}

	total := s.blocks.Slots()
	return fs.VolumeStats{
		VolumeID:    sb.VolumeID.String(),
		Name:        sb.Name,
		BlockSize:   sb.BlockSize,
		TotalBlocks: total,
		UsedBlocks:  usedBlocks,
		FreeBlocks:  total - usedBlocks,
		TotalBytes:  uint64(total) * volume.BlockSize,
		UsedBytes:   uint64(usedBlocks) * volume.BlockSize,
		FreeBytes:   uint64(total-usedBlocks) * volume.BlockSize,
		TotalInodes: s.inodes.Slots(),
		FreeInodes:  s.inodes.Slots() - usedInodes,
		NextBlock:   nextBlock,
		NextInode:   nextInode,
		OpenFiles:   s.table.Count(),
	}, nil
}

// --- 6. BUFFER ACCESS ---

func (s *SimpleFileService) entry(pid uint32, fd int) (fd_table.Descriptor, oft.Entry, error) {
	d, err := s.fds.Lookup(pid, fd)
	if err != nil {
		return fd_table.Descriptor{}, oft.Entry{}, classify(err)
	}
	e, err := s.table.Get(d.Handle)
	if err != nil {
		return fd_table.Descriptor{}, oft.Entry{}, classify(err)
	}
	return d, e, nil
}

func (s *SimpleFileService) Read(ctx context.Context, pid uint32, fd int) ([]byte, error) {
	d, _, err := s.entry(pid, fd)
	if err != nil {
		return nil, err
	}
	out, err := s.table.ReadBuffer(d.Handle)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *SimpleFileService) Write(ctx context.Context, pid uint32, fd int, offset uint32, data []byte) error {
	d, e, err := s.entry(pid, fd)
	if err != nil {
		return err
	}
	if !d.Writable || !e.Locked {
		return fmt.Errorf("%w: fd %d", fs.ErrReadOnly, fd)
	}

	if _, err := s.table.WriteBuffer(d.Handle, offset, data); err != nil {
		return classify(err)
	}

	s.ls.Debug(log_service.LogEvent{
		Message:  "Buffer written",
		Metadata: map[string]any{"pid": pid, "fd": fd, "offset": offset, "length": len(data)},
	})
	return nil
}

func (s *SimpleFileService) Save(ctx context.Context, pid uint32, fd int) error {
	d, e, err := s.entry(pid, fd)
	if err != nil {
		return err
	}
	if !d.Writable || !e.Locked {
		return fmt.Errorf("%w: fd %d", fs.ErrReadOnly, fd)
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "Save request",
		Metadata: map[string]any{"pid": pid, "fd": fd, "name": e.FileName, "inode": e.Inode},
	})

	buf, err := s.table.ReadBuffer(d.Handle)
	if err != nil {
		return classify(err)
	}

	// readers load from the same blocks
	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	inode, err := s.is.Rewrite(e.Inode, buf, e.PageCount)
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to save buffer",
			Metadata: map[string]any{"name": e.FileName, "inode": e.Inode, "error": err.Error()},
		})
		return classify(err)
	}

	if err := s.syncCounters(); err != nil {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Failed to sync counters after save",
			Metadata: map[string]any{"error": err.Error()},
		})
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "Buffer saved",
		Metadata: map[string]any{"name": e.FileName, "inode": e.Inode, "size": inode.Size},
	})
	return nil
}

// --- 7. DIAGNOSTICS ---

func (s *SimpleFileService) ShowOpenFiles(ctx context.Context, pid uint32) ([]fs.OpenFileInfo, error) {
	var out []fs.OpenFileInfo
	for _, d := range s.fds.Descriptors(pid) {
		e, err := s.table.Get(d.Handle)
		if err != nil {
			return nil, classify(err)
		}
		mode := fs.ReadOnly
		if d.Writable {
			mode = fs.ReadWrite
		}
		out = append(out, fs.OpenFileInfo{
			FD:    d.FD,
			Name:  e.FileName,
			Inode: e.Inode,
			Mode:  mode,
			Pages: e.PageCount,
		})
	}
	return out, nil
}

func (s *SimpleFileService) OpenFileCount(ctx context.Context) int {
	return s.table.Count()
}

var _ fs.FileService = (*SimpleFileService)(nil)
