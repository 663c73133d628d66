package ondisk

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/AnishMulay/simplefs/internal/allocator"
	bd "github.com/AnishMulay/simplefs/internal/block_device"
	is "github.com/AnishMulay/simplefs/internal/inode_service"
	"github.com/AnishMulay/simplefs/internal/log_service"
	"github.com/AnishMulay/simplefs/internal/volume"
)

type OnDiskInodeService struct {
	vol    *volume.Volume
	dev    bd.BlockDevice
	blocks allocator.Allocator
	ls     log_service.LogService
	now    func() time.Time

	// tableMu serializes read-modify-write of inode table blocks.
	tableMu sync.Mutex
}

func NewOnDiskInodeService(vol *volume.Volume, blocks allocator.Allocator, ls log_service.LogService) *OnDiskInodeService {
	return &OnDiskInodeService{
		vol:    vol,
		dev:    vol.Device(),
		blocks: blocks,
		ls:     ls,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for modify times.
func (s *OnDiskInodeService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *OnDiskInodeService) ReadInode(ino uint32) (volume.Inode, error) {
	block, off, err := volume.InodeLocation(s.vol.Descriptor().InodeTable, ino)
	if err != nil {
		return volume.Inode{}, err
	}

	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	buf := make([]byte, volume.BlockSize)
	if err := s.dev.ReadBlock(block, buf); err != nil {
		return volume.Inode{}, err
	}
	return volume.DecodeInode(buf[off : off+volume.InodeSize])
}

func (s *OnDiskInodeService) WriteInode(ino uint32, inode volume.Inode) error {
	block, off, err := volume.InodeLocation(s.vol.Descriptor().InodeTable, ino)
	if err != nil {
		return err
	}

	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	buf := make([]byte, volume.BlockSize)
	if err := s.dev.ReadBlock(block, buf); err != nil {
		return err
	}
	if err := inode.Encode(buf[off : off+volume.InodeSize]); err != nil {
		return err
	}
	if err := s.dev.WriteBlock(block, buf); err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to write inode",
			Metadata: map[string]any{"inode": ino, "error": err.Error()},
		})
		return err
	}
	return nil
}

func (s *OnDiskInodeService) ZeroInode(ino uint32) error {
	s.ls.Debug(log_service.LogEvent{
		Message:  "Zeroing inode",
		Metadata: map[string]any{"inode": ino},
	})
	return s.WriteInode(ino, volume.Inode{})
}

func (s *OnDiskInodeService) allocateBlock() (uint32, error) {
	slot, err := s.blocks.Allocate()
	if err != nil {
		return 0, err
	}
	return s.vol.BlockForSlot(slot), nil
}

func (s *OnDiskInodeService) releaseBlocks(blocks []uint32) {
	for _, b := range blocks {
		slot, err := s.vol.SlotForBlock(b)
		if err == nil {
			err = s.blocks.Free(slot)
		}
		if err != nil {
			s.ls.Error(log_service.LogEvent{
				Message:  "Failed to release block during rollback",
				Metadata: map[string]any{"block": b, "error": err.Error()},
			})
		}
	}
}

func (s *OnDiskInodeService) Materialize(ino uint32, buf []byte, pageCount uint32) (volume.Inode, error) {
	s.ls.Info(log_service.LogEvent{
		Message:  "Materializing buffer",
		Metadata: map[string]any{"inode": ino, "pages": pageCount},
	})

	inode, err := s.ReadInode(ino)
	if err != nil {
		return volume.Inode{}, err
	}
	for _, b := range inode.Block {
		if b != 0 {
			return volume.Inode{}, fmt.Errorf("%w: inode %d", is.ErrInodeHasBlock, ino)
		}
	}

	inode, written, err := s.layout(ino, inode, buf, pageCount)
	if err != nil {
		return volume.Inode{}, err
	}
	if err := s.WriteInode(ino, inode); err != nil {
		s.releaseBlocks(written)
		return volume.Inode{}, err
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "Buffer materialized",
		Metadata: map[string]any{"inode": ino, "blocks": len(written), "size": inode.Size},
	})
	return inode, nil
}

// Rewrite replaces the file's contents with buf. The new blocks are written and the inode
// switched over to them before the old blocks are freed, so a failure leaves the previous
// contents in place.
func (s *OnDiskInodeService) Rewrite(ino uint32, buf []byte, pageCount uint32) (volume.Inode, error) {
	s.ls.Info(log_service.LogEvent{
		Message:  "Rewriting file",
		Metadata: map[string]any{"inode": ino, "pages": pageCount},
	})

	old, err := s.ReadInode(ino)
	if err != nil {
		return volume.Inode{}, err
	}
	if _, err := s.pointers(ino, old); err != nil {
		return volume.Inode{}, err
	}

	fresh := old
	fresh.Block = [volume.PointerSlots]uint32{}
	fresh, written, err := s.layout(ino, fresh, buf, pageCount)
	if err != nil {
		return volume.Inode{}, err
	}
	if err := s.WriteInode(ino, fresh); err != nil {
		s.releaseBlocks(written)
		return volume.Inode{}, err
	}

	// the inode no longer references these; a failure here only leaks them
	if err := s.FreeAllBlocks(&old); err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to free replaced blocks",
			Metadata: map[string]any{"inode": ino, "error": err.Error()},
		})
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "File rewritten",
		Metadata: map[string]any{"inode": ino, "blocks": len(written), "size": fresh.Size},
	})
	return fresh, nil
}

// layout writes pageCount pages of buf onto freshly allocated blocks and records them in
// inode, which must carry no block pointers. It returns every block it allocated; on error
// they have already been released and nothing references them.
func (s *OnDiskInodeService) layout(ino uint32, inode volume.Inode, buf []byte, pageCount uint32) (volume.Inode, []uint32, error) {
	if uint64(len(buf)) < uint64(pageCount)*volume.PageSize {
		return volume.Inode{}, nil, fmt.Errorf("%w: %d bytes for %d pages", is.ErrShortBuffer, len(buf), pageCount)
	}
	totalBlocks := volume.CeilDiv(pageCount*volume.PageSize, uint32(volume.BlockSize))
	if totalBlocks > volume.MaxFileBlocks {
		return volume.Inode{}, nil, fmt.Errorf("%w: %d blocks requested, limit %d", is.ErrFileTooLarge, totalBlocks, volume.MaxFileBlocks)
	}

	var written []uint32
	fail := func(err error) (volume.Inode, []uint32, error) {
		s.ls.Error(log_service.LogEvent{
			Message:  "Layout failed, releasing blocks",
			Metadata: map[string]any{"inode": ino, "allocated": len(written), "error": err.Error()},
		})
		s.releaseBlocks(written)
		return volume.Inode{}, nil, err
	}

	writeData := func(index uint32) (uint32, error) {
		block, err := s.allocateBlock()
		if err != nil {
			return 0, err
		}
		written = append(written, block)
		off := index * volume.BlockSize
		if err := s.dev.WriteBlock(block, buf[off:off+volume.BlockSize]); err != nil {
			return 0, err
		}
		return block, nil
	}

	// 1. Direct blocks
	var index uint32
	for ; index < totalBlocks && index < volume.DirectBlocks; index++ {
		block, err := writeData(index)
		if err != nil {
			return fail(err)
		}
		inode.Block[index] = block
	}

	// 2. Indirect block, then the blocks it points to
	if totalBlocks > volume.DirectBlocks {
		indirect, err := s.allocateBlock()
		if err != nil {
			return fail(err)
		}
		written = append(written, indirect)
		inode.Block[volume.IndirectSlot] = indirect

		pointers := make([]byte, volume.BlockSize)
		for ; index < totalBlocks; index++ {
			block, err := writeData(index)
			if err != nil {
				return fail(err)
			}
			binary.LittleEndian.PutUint32(pointers[4*(index-volume.DirectBlocks):], block)
		}

		if err := s.dev.WriteBlock(indirect, pointers); err != nil {
			return fail(err)
		}
	}

	// 3. Size in whole blocks
	inode.Size = index * volume.BlockSize
	inode.Sectors = index * (volume.BlockSize / volume.SectorSize)
	inode.MTime = uint32(s.now().Unix())
	if inode.CTime == 0 {
		inode.CTime = inode.MTime
	}
	return inode, written, nil
}

// pointers returns the file's data blocks in order, checking that exactly BlockCount slots are
// populated.
func (s *OnDiskInodeService) pointers(ino uint32, inode volume.Inode) ([]uint32, error) {
	count := inode.BlockCount()
	if count > volume.MaxFileBlocks {
		return nil, fmt.Errorf("%w: inode %d size %d exceeds capacity", is.ErrCorruptInode, ino, inode.Size)
	}

	out := make([]uint32, 0, count)
	for i := uint32(0); i < volume.DirectBlocks; i++ {
		b := inode.Block[i]
		switch {
		case i < count && b == 0:
			return nil, fmt.Errorf("%w: inode %d direct slot %d empty below size", is.ErrCorruptInode, ino, i)
		case i >= count && b != 0:
			return nil, fmt.Errorf("%w: inode %d direct slot %d set past size", is.ErrCorruptInode, ino, i)
		case i < count:
			out = append(out, b)
		}
	}

	indirect := inode.Block[volume.IndirectSlot]
	if count <= volume.DirectBlocks {
		if indirect != 0 {
			return nil, fmt.Errorf("%w: inode %d has a dangling indirect pointer", is.ErrCorruptInode, ino)
		}
		return out, nil
	}
	if indirect == 0 {
		return nil, fmt.Errorf("%w: inode %d needs an indirect block", is.ErrCorruptInode, ino)
	}

	buf := make([]byte, volume.BlockSize)
	if err := s.dev.ReadBlock(indirect, buf); err != nil {
		return nil, err
	}
	for i := uint32(0); i < count-volume.DirectBlocks; i++ {
		b := binary.LittleEndian.Uint32(buf[4*i:])
		if b == 0 {
			return nil, fmt.Errorf("%w: inode %d indirect entry %d empty below size", is.ErrCorruptInode, ino, i)
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *OnDiskInodeService) Load(ino uint32, dst []byte) (int, error) {
	inode, err := s.ReadInode(ino)
	if err != nil {
		return 0, err
	}

	blocks, err := s.pointers(ino, inode)
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Refusing to load inconsistent inode",
			Metadata: map[string]any{"inode": ino, "error": err.Error()},
		})
		return 0, err
	}

	need := len(blocks) * volume.BlockSize
	if len(dst) < need {
		return 0, fmt.Errorf("%w: %d bytes for %d blocks", is.ErrShortBuffer, len(dst), len(blocks))
	}

	for i, b := range blocks {
		if err := s.dev.ReadBlock(b, dst[i*volume.BlockSize:(i+1)*volume.BlockSize]); err != nil {
			return 0, err
		}
	}

	s.ls.Debug(log_service.LogEvent{
		Message:  "Inode loaded",
		Metadata: map[string]any{"inode": ino, "blocks": len(blocks)},
	})
	return need, nil
}

func (s *OnDiskInodeService) free(block uint32) error {
	slot, err := s.vol.SlotForBlock(block)
	if err != nil {
		return fmt.Errorf("%w: %v", is.ErrCorruptInode, err)
	}
	return s.blocks.Free(slot)
}

func (s *OnDiskInodeService) FreeAllBlocks(inode *volume.Inode) error {
	var freed int
	for i := 0; i < volume.DirectBlocks; i++ {
		if inode.Block[i] == 0 {
			continue
		}
		if err := s.free(inode.Block[i]); err != nil {
			return err
		}
		inode.Block[i] = 0
		freed++
	}

	if indirect := inode.Block[volume.IndirectSlot]; indirect != 0 {
		buf := make([]byte, volume.BlockSize)
		if err := s.dev.ReadBlock(indirect, buf); err != nil {
			return err
		}
		for i := 0; i < volume.PointersPerBlock; i++ {
			b := binary.LittleEndian.Uint32(buf[4*i:])
			if b == 0 {
				continue
			}
			if err := s.free(b); err != nil {
				return err
			}
			freed++
		}
		if err := s.free(indirect); err != nil {
			return err
		}
		inode.Block[volume.IndirectSlot] = 0
		freed++
	}

	inode.Size = 0
	inode.Sectors = 0

	s.ls.Debug(log_service.LogEvent{
		Message:  "Inode blocks freed",
		Metadata: map[string]any{"blocks": freed},
	})
	return nil
}

var _ is.InodeService = (*OnDiskInodeService)(nil)
