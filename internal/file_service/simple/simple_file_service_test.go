package simple

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AnishMulay/simplefs/internal/allocator"
	"github.com/AnishMulay/simplefs/internal/block_device/inmemory"
	ds "github.com/AnishMulay/simplefs/internal/directory_service"
	"github.com/AnishMulay/simplefs/internal/directory_service/rootdir"
	"github.com/AnishMulay/simplefs/internal/fd_table"
	fs "github.com/AnishMulay/simplefs/internal/file_service"
	"github.com/AnishMulay/simplefs/internal/inode_service/ondisk"
	"github.com/AnishMulay/simplefs/internal/log_service/memory"
	oftmem "github.com/AnishMulay/simplefs/internal/open_file_table/inmemory"
	psmem "github.com/AnishMulay/simplefs/internal/page_service/inmemory"
	"github.com/AnishMulay/simplefs/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

var errInjected = errors.New("injected failure")

// faultyDevice fails writes to data blocks while failData is set.
type faultyDevice struct {
	*inmemory.InMemoryBlockDevice
	failData atomic.Bool
}

func (d *faultyDevice) WriteBlock(n uint32, src []byte) error {
	if d.failData.Load() && n >= volume.FirstDataBlock {
		return errInjected
	}
	return d.InMemoryBlockDevice.WriteBlock(n, src)
}

// flakyDirectory fails Remove while failRemove is set.
type flakyDirectory struct {
	ds.DirectoryService
	failRemove atomic.Bool
}

func (d *flakyDirectory) Remove(name string) (uint32, error) {
	if d.failRemove.Load() {
		return 0, errInjected
	}
	return d.DirectoryService.Remove(name)
}

type harness struct {
	svc    *SimpleFileService
	dev    *inmemory.InMemoryBlockDevice
	faults *faultyDevice
	dir    *flakyDirectory
	pages  *psmem.InMemoryPageService
}

type harnessOpts struct {
	blocks        uint32
	tableCapacity int
	maxPages      int
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	if opts.blocks == 0 {
		opts.blocks = volume.DefaultTotalBlocks
	}
	if opts.tableCapacity == 0 {
		opts.tableCapacity = 64
	}
	if opts.maxPages == 0 {
		opts.maxPages = 1024
	}

	ls := memory.NewMemoryLogService()
	dev := inmemory.NewInMemoryBlockDevice(volume.BlockSize, opts.blocks)
	faults := &faultyDevice{InMemoryBlockDevice: dev}
	_, err := volume.Format(faults, volume.FormatOptions{Name: "test"}, ls)
	require.NoError(t, err)
	vol, err := volume.Mount(faults, ls)
	require.NoError(t, err)

	gd := vol.Descriptor()
	blocks, err := allocator.NewBlockAllocator(faults, gd.BlockBitmap, vol.DataBlocks(), allocator.FirstZero, ls)
	require.NoError(t, err)
	inodes, err := allocator.NewInodeAllocator(faults, gd.InodeBitmap, vol.Superblock().TotalInodes, allocator.FirstZero, ls)
	require.NoError(t, err)

	inodeSvc := ondisk.NewOnDiskInodeService(vol, blocks, ls)
	inodeSvc.SetClock(func() time.Time { return fixedNow })
	pages := psmem.NewInMemoryPageService(volume.PageSize, opts.maxPages, ls)
	dir := &flakyDirectory{DirectoryService: rootdir.NewVolumeRootDirectory(vol, ls)}

	svc := NewSimpleFileService(Deps{
		Volume:      vol,
		Blocks:      blocks,
		Inodes:      inodes,
		InodeSvc:    inodeSvc,
		Directory:   dir,
		Table:       oftmem.NewInMemoryOpenFileTable(opts.tableCapacity, ls),
		Descriptors: fd_table.NewTable(fd_table.MaxFileDescriptors),
		Pages:       pages,
		Log:         ls,
	})
	require.NoError(t, svc.Start())
	return &harness{svc: svc, dev: dev, faults: faults, dir: dir, pages: pages}
}

func TestCreateEmpty_ListAndStats(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "a", 2))

	entries, err := h.svc.ListDirectory(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "a", e.Name)
	assert.Equal(t, uint32(1), e.Inode)
	assert.Equal(t, uint32(2*volume.PageSize), e.Size)
	assert.Equal(t, fixedNow, e.ModTime)
	assert.Equal(t, uint8(volume.FileTypeRegular), e.FileType)
	assert.Equal(t, uint16(volume.RegularFileMode), e.Mode)
	assert.Equal(t, "rw-rw-rw-", e.PermissionString())

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), stats.UsedBlocks)
	assert.Equal(t, stats.TotalBlocks-8, stats.FreeBlocks)
	assert.Equal(t, uint32(9), stats.NextBlock)
	assert.Equal(t, uint32(volume.MaxFilesPerDirectory), stats.TotalInodes)
	assert.Equal(t, uint32(volume.MaxFilesPerDirectory-1), stats.FreeInodes)
	assert.Equal(t, uint32(2), stats.NextInode)
	assert.Equal(t, uint64(8*volume.BlockSize), stats.UsedBytes)

	// placeholder descriptor and its buffer are gone
	assert.Equal(t, 3, h.svc.OpenFileCount(ctx))
	assert.Equal(t, 0, h.pages.InUse())
}

func TestCreateEmpty_SyncsSuperblockCounters(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "a", 1))

	vol, err := volume.Mount(h.dev, memory.NewMemoryLogService())
	require.NoError(t, err)
	sb := vol.Superblock()
	assert.Equal(t, uint32(volume.MaxFilesPerDirectory-1), sb.UnallocatedInodes)
	assert.Equal(t, vol.DataBlocks()-4, sb.UnallocatedBlocks)
}

func TestCreateEmpty_Errors(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, svc *SimpleFileService)
		file      string
		pages     uint32
		expectErr error
	}{
		{
			name: "duplicate name",
			setup: func(t *testing.T, svc *SimpleFileService) {
				require.NoError(t, svc.CreateEmpty(context.Background(), 1, "dup", 1))
			},
			file:      "dup",
			pages:     1,
			expectErr: fs.ErrFileExists,
		},
		{name: "empty name", file: "", pages: 1, expectErr: fs.ErrInvalidName},
		{name: "too large", file: "big", pages: volume.MaxFileBlocks/4 + 1, expectErr: fs.ErrFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOpts{})
			if tt.setup != nil {
				tt.setup(t, h.svc)
			}
			err := h.svc.CreateEmpty(context.Background(), 1, tt.file, tt.pages)
			require.ErrorIs(t, err, tt.expectErr)
		})
	}
}

func TestCreateEmpty_LargestFile(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "max", volume.MaxFileBlocks/4))

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	// data blocks plus the indirect block
	assert.Equal(t, uint32(volume.MaxFileBlocks+1), stats.UsedBlocks)
}

func TestCreateEmpty_RollsBackWhenVolumeFull(t *testing.T) {
	h := newHarness(t, harnessOpts{blocks: volume.MinTotalBlocks})
	ctx := context.Background()

	err := h.svc.CreateEmpty(ctx, 1, "huge", 9)
	require.ErrorIs(t, err, fs.ErrNoSpace)

	entries, err := h.svc.ListDirectory(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.UsedBlocks)
	assert.Equal(t, stats.TotalInodes, stats.FreeInodes)
	assert.Equal(t, 3, h.svc.OpenFileCount(ctx))
	assert.Equal(t, 0, h.pages.InUse())

	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "fits", 7))
}

func TestOpen_ReadWriteSaveRoundTrip(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "notes", 1))

	fd, err := h.svc.Open(ctx, 1, "notes", fs.ReadWrite)
	require.NoError(t, err)
	assert.Equal(t, fd_table.FirstUserFD, fd)

	require.NoError(t, h.svc.Write(ctx, 1, fd, 10, []byte("hello")))
	require.NoError(t, h.svc.Save(ctx, 1, fd))
	require.NoError(t, h.svc.Close(ctx, 1, fd))

	fd, err = h.svc.Open(ctx, 2, "notes", fs.ReadOnly)
	require.NoError(t, err)
	data, err := h.svc.Read(ctx, 2, fd)
	require.NoError(t, err)
	require.Len(t, data, volume.PageSize)
	assert.Equal(t, []byte("hello"), data[10:15])
	assert.Equal(t, make([]byte, 10), data[:10])

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), stats.UsedBlocks)
}

func TestOpen_Errors(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "f", 1))

	_, err := h.svc.Open(ctx, 1, "missing", fs.ReadOnly)
	require.ErrorIs(t, err, fs.ErrFileNotFound)

	fd, err := h.svc.Open(ctx, 1, "f", fs.ReadOnly)
	require.NoError(t, err)

	tests := []struct {
		name      string
		call      func() error
		expectErr error
	}{
		{"write on read-only fd", func() error { return h.svc.Write(ctx, 1, fd, 0, []byte("x")) }, fs.ErrReadOnly},
		{"save on read-only fd", func() error { return h.svc.Save(ctx, 1, fd) }, fs.ErrReadOnly},
		{"read unknown fd", func() error { _, err := h.svc.Read(ctx, 1, fd+1); return err }, fs.ErrBadDescriptor},
		{"close other pid's fd", func() error { return h.svc.Close(ctx, 2, fd) }, fs.ErrBadDescriptor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.call(), tt.expectErr)
		})
	}
}

func TestWrite_OutOfRange(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "f", 1))

	fd, err := h.svc.Open(ctx, 1, "f", fs.ReadWrite)
	require.NoError(t, err)

	require.NoError(t, h.svc.Write(ctx, 1, fd, volume.PageSize-1, []byte("x")))
	require.ErrorIs(t, h.svc.Write(ctx, 1, fd, volume.PageSize-1, []byte("xy")), fs.ErrOutOfRange)
}

func TestWriteSave_Concurrent(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "busy", 1))

	fd, err := h.svc.Open(ctx, 1, "busy", fs.ReadWrite)
	require.NoError(t, err)

	const rounds = 50
	var wg sync.WaitGroup
	errs := make(chan error, 3*rounds)
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			errs <- h.svc.Write(ctx, 1, fd, 0, []byte("hello world"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			errs <- h.svc.Save(ctx, 1, fd)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := h.svc.Read(ctx, 1, fd)
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, h.svc.Save(ctx, 1, fd))
	require.NoError(t, h.svc.Close(ctx, 1, fd))

	fd, err = h.svc.Open(ctx, 2, "busy", fs.ReadOnly)
	require.NoError(t, err)
	data, err := h.svc.Read(ctx, 2, fd)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data[:11])

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), stats.UsedBlocks)
}

func TestRead_ReturnsDetachedCopy(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "f", 1))

	fd, err := h.svc.Open(ctx, 1, "f", fs.ReadWrite)
	require.NoError(t, err)
	data, err := h.svc.Read(ctx, 1, fd)
	require.NoError(t, err)
	copy(data, "scribble")

	again, err := h.svc.Read(ctx, 1, fd)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, volume.PageSize), again)
}

func TestSave_FailureKeepsLastSavedContents(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "ledger", 1))

	fd, err := h.svc.Open(ctx, 1, "ledger", fs.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.svc.Write(ctx, 1, fd, 0, []byte("precious")))
	require.NoError(t, h.svc.Save(ctx, 1, fd))

	before, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	listed, err := h.svc.ListDirectory(ctx)
	require.NoError(t, err)

	require.NoError(t, h.svc.Write(ctx, 1, fd, 0, []byte("PRECIOUS")))
	h.faults.failData.Store(true)
	require.ErrorIs(t, h.svc.Save(ctx, 1, fd), errInjected)
	h.faults.failData.Store(false)
	require.NoError(t, h.svc.Close(ctx, 1, fd))

	fd, err = h.svc.Open(ctx, 2, "ledger", fs.ReadOnly)
	require.NoError(t, err)
	data, err := h.svc.Read(ctx, 2, fd)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("precious")))

	after, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.UsedBlocks, after.UsedBlocks)
	relisted, err := h.svc.ListDirectory(ctx)
	require.NoError(t, err)
	assert.Equal(t, listed, relisted)
}

func TestOpen_WriteLockContention(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "shared", 1))

	_, err := h.svc.Open(ctx, 1, "shared", fs.ReadWrite)
	require.NoError(t, err)
	before := h.svc.OpenFileCount(ctx)
	inUse := h.pages.InUse()

	_, err = h.svc.Open(ctx, 2, "shared", fs.ReadWrite)
	require.ErrorIs(t, err, fs.ErrFileLocked)
	assert.Equal(t, before, h.svc.OpenFileCount(ctx))
	assert.Equal(t, inUse, h.pages.InUse())

	_, err = h.svc.Open(ctx, 2, "shared", fs.ReadOnly)
	require.NoError(t, err)

	require.NoError(t, h.svc.Exit(ctx, 1))
	_, err = h.svc.Open(ctx, 2, "shared", fs.ReadWrite)
	require.NoError(t, err)
}

func TestOpen_ConcurrentWritersSingleWinner(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "race", 1))

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(pid uint32) {
			defer wg.Done()
			_, err := h.svc.Open(ctx, pid, "race", fs.ReadWrite)
			errs <- err
		}(uint32(100 + i))
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, fs.ErrFileLocked)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 4, h.svc.OpenFileCount(ctx))
	assert.Equal(t, 1, h.pages.InUse())
}

func TestDelete(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "keep", 1))
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "gone", 20))

	fd, err := h.svc.Open(ctx, 2, "gone", fs.ReadOnly)
	require.NoError(t, err)
	require.ErrorIs(t, h.svc.Delete(ctx, 1, "gone"), fs.ErrFileBusy)

	require.NoError(t, h.svc.Close(ctx, 2, fd))
	require.NoError(t, h.svc.Delete(ctx, 1, "gone"))
	require.ErrorIs(t, h.svc.Delete(ctx, 1, "gone"), fs.ErrFileNotFound)

	entries, err := h.svc.ListDirectory(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].Name)

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), stats.UsedBlocks)
	assert.Equal(t, uint32(5), stats.NextBlock)
	assert.Equal(t, uint32(2), stats.NextInode)

	_, err = h.svc.Open(ctx, 1, "gone", fs.ReadOnly)
	require.ErrorIs(t, err, fs.ErrFileNotFound)
}

func TestDelete_DirectoryFailureKeepsFile(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "stays", 2))

	fd, err := h.svc.Open(ctx, 1, "stays", fs.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.svc.Write(ctx, 1, fd, 0, []byte("intact")))
	require.NoError(t, h.svc.Save(ctx, 1, fd))
	require.NoError(t, h.svc.Close(ctx, 1, fd))

	before, err := h.svc.Stats(ctx)
	require.NoError(t, err)

	h.dir.failRemove.Store(true)
	require.ErrorIs(t, h.svc.Delete(ctx, 1, "stays"), errInjected)
	h.dir.failRemove.Store(false)

	after, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.UsedBlocks, after.UsedBlocks)
	assert.Equal(t, before.FreeInodes, after.FreeInodes)

	fd, err = h.svc.Open(ctx, 1, "stays", fs.ReadOnly)
	require.NoError(t, err)
	data, err := h.svc.Read(ctx, 1, fd)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("intact")))
	require.NoError(t, h.svc.Close(ctx, 1, fd))

	// a retry still succeeds and releases everything
	require.NoError(t, h.svc.Delete(ctx, 1, "stays"))
	after, err = h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), after.UsedBlocks)
}

func TestExit_ReleasesEverything(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "a", 1))
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "b", 2))

	_, err := h.svc.Open(ctx, 7, "a", fs.ReadWrite)
	require.NoError(t, err)
	_, err = h.svc.Open(ctx, 7, "b", fs.ReadOnly)
	require.NoError(t, err)
	_, err = h.svc.Open(ctx, 8, "b", fs.ReadOnly)
	require.NoError(t, err)

	open, err := h.svc.ShowOpenFiles(ctx, 7)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, fs.OpenFileInfo{FD: 3, Name: "a", Inode: 1, Mode: fs.ReadWrite, Pages: 1}, open[0])
	assert.Equal(t, fs.OpenFileInfo{FD: 4, Name: "b", Inode: 2, Mode: fs.ReadOnly, Pages: 2}, open[1])

	require.NoError(t, h.svc.Exit(ctx, 7))
	require.NoError(t, h.svc.Exit(ctx, 7))

	assert.Equal(t, 4, h.svc.OpenFileCount(ctx))
	assert.Equal(t, 2, h.pages.InUse())
	open, err = h.svc.ShowOpenFiles(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestOpen_TableFull(t *testing.T) {
	h := newHarness(t, harnessOpts{tableCapacity: 4})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "a", 1))

	_, err := h.svc.Open(ctx, 1, "a", fs.ReadOnly)
	require.NoError(t, err)

	_, err = h.svc.Open(ctx, 2, "a", fs.ReadOnly)
	require.ErrorIs(t, err, fs.ErrTooManyOpenFiles)
	require.ErrorIs(t, h.svc.CreateEmpty(ctx, 1, "b", 1), fs.ErrTooManyOpenFiles)
	assert.Equal(t, 1, h.pages.InUse())
}

func TestOpen_EmptyFile(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.svc.CreateEmpty(ctx, 1, "empty", 0))

	fd, err := h.svc.Open(ctx, 1, "empty", fs.ReadOnly)
	require.NoError(t, err)
	data, err := h.svc.Read(ctx, 1, fd)
	require.NoError(t, err)
	assert.Empty(t, data)
	require.NoError(t, h.svc.Close(ctx, 1, fd))
}
