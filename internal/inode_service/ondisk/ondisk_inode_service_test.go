package ondisk

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AnishMulay/simplefs/internal/allocator"
	"github.com/AnishMulay/simplefs/internal/block_device/inmemory"
	is "github.com/AnishMulay/simplefs/internal/inode_service"
	"github.com/AnishMulay/simplefs/internal/log_service/memory"
	"github.com/AnishMulay/simplefs/internal/volume"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected I/O error")

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

type fixture struct {
	svc    *OnDiskInodeService
	blocks *allocator.BitmapAllocator
	dev    *inmemory.InMemoryBlockDevice
	faults *faultyDevice
}

func newFixture(t *testing.T, totalBlocks uint32) *fixture {
	t.Helper()
	ls := memory.NewMemoryLogService()
	dev := inmemory.NewInMemoryBlockDevice(volume.BlockSize, totalBlocks)
	faults := &faultyDevice{InMemoryBlockDevice: dev}
	_, err := volume.Format(faults, volume.FormatOptions{Name: "test"}, ls)
	require.NoError(t, err)
	vol, err := volume.Mount(faults, ls)
	require.NoError(t, err)

	blocks, err := allocator.NewBlockAllocator(faults, vol.Descriptor().BlockBitmap, vol.DataBlocks(), allocator.FirstZero, ls)
	require.NoError(t, err)

	svc := NewOnDiskInodeService(vol, blocks, ls)
	svc.SetClock(func() time.Time { return time.Unix(1700000000, 0) })
	return &fixture{svc: svc, blocks: blocks, dev: dev, faults: faults}
}

func patterned(pages uint32) []byte {
	buf := make([]byte, pages*volume.PageSize)
	for i := range buf {
		buf[i] = byte(i*7 + i/volume.BlockSize)
	}
	return buf
}

func TestMaterializeLoad_RoundTrip(t *testing.T) {
	tests := []struct {
		name         string
		pages        uint32
		wantBlocks   uint32
		wantIndirect bool
	}{
		{name: "empty file", pages: 0, wantBlocks: 0},
		{name: "one page", pages: 1, wantBlocks: 4},
		{name: "exactly direct capacity", pages: 3, wantBlocks: 12},
		{name: "spills into indirect", pages: 4, wantBlocks: 16, wantIndirect: true},
		{name: "maximum size", pages: volume.MaxFileBlocks / 4, wantBlocks: volume.MaxFileBlocks, wantIndirect: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, volume.DefaultTotalBlocks)
			require.NoError(t, f.svc.WriteInode(1, volume.Inode{Mode: volume.RegularFileMode, Links: 1}))

			src := patterned(tt.pages)
			inode, err := f.svc.Materialize(1, src, tt.pages)
			require.NoError(t, err)

			require.Equal(t, tt.wantBlocks*volume.BlockSize, inode.Size)
			require.Equal(t, uint16(volume.RegularFileMode), inode.Mode)
			require.Equal(t, uint32(1700000000), inode.MTime)
			require.Equal(t, tt.wantIndirect, inode.Block[volume.IndirectSlot] != 0)

			used, err := f.blocks.CountUsed()
			require.NoError(t, err)
			wantUsed := tt.wantBlocks
			if tt.wantIndirect {
				wantUsed++
			}
			require.Equal(t, wantUsed, used)

			dst := make([]byte, len(src))
			n, err := f.svc.Load(1, dst)
			require.NoError(t, err)
			require.Equal(t, len(src), n)
			require.Equal(t, src, dst)
		})
	}
}

func TestMaterialize_TooLarge(t *testing.T) {
	f := newFixture(t, volume.DefaultTotalBlocks)
	pages := uint32(volume.MaxFileBlocks/4 + 1)

	_, err := f.svc.Materialize(1, patterned(pages), pages)
	require.ErrorIs(t, err, is.ErrFileTooLarge)

	used, err := f.blocks.CountUsed()
	require.NoError(t, err)
	require.Zero(t, used)
}

func TestMaterialize_ExhaustionRollsBack(t *testing.T) {
	f := newFixture(t, volume.MinTotalBlocks)
	pages := uint32(9)

	_, err := f.svc.Materialize(2, patterned(pages), pages)
	require.ErrorIs(t, err, allocator.ErrOutOfBlocks)

	used, err := f.blocks.CountUsed()
	require.NoError(t, err)
	require.Zero(t, used, "blocks allocated before exhaustion must be released")

	inode, err := f.svc.ReadInode(2)
	require.NoError(t, err)
	require.True(t, inode.IsZero())
}

func TestMaterialize_RejectsInodeWithBlocks(t *testing.T) {
	f := newFixture(t, volume.DefaultTotalBlocks)
	_, err := f.svc.Materialize(3, patterned(1), 1)
	require.NoError(t, err)

	_, err = f.svc.Materialize(3, patterned(1), 1)
	require.ErrorIs(t, err, is.ErrInodeHasBlock)
}

func TestMaterialize_ShortBuffer(t *testing.T) {
	f := newFixture(t, volume.DefaultTotalBlocks)
	_, err := f.svc.Materialize(1, make([]byte, 100), 1)
	require.ErrorIs(t, err, is.ErrShortBuffer)
}

func filled(pages uint32, b byte) []byte {
	buf := make([]byte, pages*volume.PageSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestRewrite(t *testing.T) {
	tests := []struct {
		name     string
		oldPages uint32
		newPages uint32
		wantUsed uint32
	}{
		{name: "same size", oldPages: 1, newPages: 1, wantUsed: 4},
		{name: "grows into indirect", oldPages: 1, newPages: 4, wantUsed: 17},
		{name: "shrinks out of indirect", oldPages: 5, newPages: 2, wantUsed: 8},
		{name: "truncates to empty", oldPages: 2, newPages: 0, wantUsed: 0},
		{name: "fills an empty file", oldPages: 0, newPages: 1, wantUsed: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, volume.DefaultTotalBlocks)
			require.NoError(t, f.svc.WriteInode(1, volume.Inode{Mode: volume.RegularFileMode, Links: 1}))
			_, err := f.svc.Materialize(1, filled(tt.oldPages, 'o'), tt.oldPages)
			require.NoError(t, err)

			src := filled(tt.newPages, 'n')
			inode, err := f.svc.Rewrite(1, src, tt.newPages)
			require.NoError(t, err)
			require.Equal(t, tt.newPages*volume.PageSize, inode.Size)
			require.Equal(t, uint16(volume.RegularFileMode), inode.Mode)

			used, err := f.blocks.CountUsed()
			require.NoError(t, err)
			require.Equal(t, tt.wantUsed, used, "replaced blocks must be freed")

			dst := make([]byte, len(src))
			_, err = f.svc.Load(1, dst)
			require.NoError(t, err)
			require.Equal(t, src, dst)
		})
	}
}

func TestRewrite_FailureKeepsPreviousContents(t *testing.T) {
	tests := []struct {
		name  string
		total uint32
		pages uint32
		fault bool
		want  error
	}{
		{name: "device write fails", total: volume.DefaultTotalBlocks, pages: 4, fault: true, want: errInjected},
		// 29 blocks in use, the new copy needs 4 more of the 32
		{name: "no room for the new copy", total: volume.MinTotalBlocks, pages: 1, want: allocator.ErrOutOfBlocks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.total)
			require.NoError(t, f.svc.WriteInode(1, volume.Inode{Mode: volume.RegularFileMode, Links: 1}))
			oldPages := uint32(2)
			if !tt.fault {
				oldPages = 7
			}
			original := filled(oldPages, 'o')
			before, err := f.svc.Materialize(1, original, oldPages)
			require.NoError(t, err)
			usedBefore, err := f.blocks.CountUsed()
			require.NoError(t, err)

			f.faults.failData.Store(tt.fault)
			_, err = f.svc.Rewrite(1, filled(tt.pages, 'n'), tt.pages)
			require.ErrorIs(t, err, tt.want)
			f.faults.failData.Store(false)

			after, err := f.svc.ReadInode(1)
			require.NoError(t, err)
			require.Equal(t, before, after)

			used, err := f.blocks.CountUsed()
			require.NoError(t, err)
			require.Equal(t, usedBefore, used, "blocks of the failed copy must be released")

			dst := make([]byte, len(original))
			_, err = f.svc.Load(1, dst)
			require.NoError(t, err)
			require.Equal(t, original, dst)
		})
	}
}

func TestRewrite_RefusesCorruptInode(t *testing.T) {
	f := newFixture(t, volume.DefaultTotalBlocks)
	require.NoError(t, f.svc.WriteInode(1, volume.Inode{Size: 2 * volume.BlockSize}))

	_, err := f.svc.Rewrite(1, filled(1, 'n'), 1)
	require.ErrorIs(t, err, is.ErrCorruptInode)

	used, err := f.blocks.CountUsed()
	require.NoError(t, err)
	require.Zero(t, used)
}

func TestFreeAllBlocks(t *testing.T) {
	tests := []struct {
		name  string
		pages uint32
	}{
		{name: "direct only", pages: 2},
		{name: "with indirect", pages: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, volume.DefaultTotalBlocks)
			inode, err := f.svc.Materialize(5, patterned(tt.pages), tt.pages)
			require.NoError(t, err)

			require.NoError(t, f.svc.FreeAllBlocks(&inode))
			require.Equal(t, [volume.PointerSlots]uint32{}, inode.Block)
			require.Zero(t, inode.Size)

			used, err := f.blocks.CountUsed()
			require.NoError(t, err)
			require.Zero(t, used)

			// The inode can be reused once its pointers are cleared.
			require.NoError(t, f.svc.WriteInode(5, inode))
			_, err = f.svc.Materialize(5, patterned(1), 1)
			require.NoError(t, err)
		})
	}
}

func TestLoad_CorruptInode(t *testing.T) {
	tests := []struct {
		name  string
		inode volume.Inode
	}{
		{
			name:  "dangling indirect pointer",
			inode: volume.Inode{Size: 2 * volume.BlockSize, Block: [volume.PointerSlots]uint32{30, 31, 12: 40}},
		},
		{
			name:  "hole below size",
			inode: volume.Inode{Size: 3 * volume.BlockSize, Block: [volume.PointerSlots]uint32{30, 0, 32}},
		},
		{
			name:  "pointer past size",
			inode: volume.Inode{Size: 1 * volume.BlockSize, Block: [volume.PointerSlots]uint32{30, 31}},
		},
		{
			name:  "missing indirect block",
			inode: volume.Inode{Size: 13 * volume.BlockSize, Block: [volume.PointerSlots]uint32{30, 31, 32, 33, 34, 35, 36, 37, 38, 39, 40, 41}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, volume.DefaultTotalBlocks)
			require.NoError(t, f.svc.WriteInode(7, tt.inode))

			_, err := f.svc.Load(7, make([]byte, volume.MaxFileSize))
			require.ErrorIs(t, err, is.ErrCorruptInode)
		})
	}
}

func TestLoad_IndirectHole(t *testing.T) {
	f := newFixture(t, volume.DefaultTotalBlocks)
	inode, err := f.svc.Materialize(1, patterned(4), 4)
	require.NoError(t, err)

	// Knock out the second indirect entry.
	buf := make([]byte, volume.BlockSize)
	require.NoError(t, f.dev.ReadBlock(inode.Block[volume.IndirectSlot], buf))
	binary.LittleEndian.PutUint32(buf[4:], 0)
	require.NoError(t, f.dev.WriteBlock(inode.Block[volume.IndirectSlot], buf))

	_, err = f.svc.Load(1, make([]byte, 4*volume.PageSize))
	require.ErrorIs(t, err, is.ErrCorruptInode)
}

func TestInodeTable_NeighboursUntouched(t *testing.T) {
	f := newFixture(t, volume.DefaultTotalBlocks)
	a := volume.Inode{Mode: volume.RegularFileMode, Size: 0, MTime: 1}
	b := volume.Inode{Mode: volume.RegularFileMode, Size: 0, MTime: 2}

	require.NoError(t, f.svc.WriteInode(1, a))
	require.NoError(t, f.svc.WriteInode(2, b))
	require.NoError(t, f.svc.ZeroInode(1))

	got, err := f.svc.ReadInode(2)
	require.NoError(t, err)
	require.Equal(t, b, got)

	got, err = f.svc.ReadInode(1)
	require.NoError(t, err)
	require.True(t, got.IsZero())

	_, err = f.svc.ReadInode(0)
	require.ErrorIs(t, err, volume.ErrInodeOutOfRange)
}
