package rootdir

import (
	"fmt"
	"sync"

	bd "github.com/AnishMulay/simplefs/internal/block_device"
	ds "github.com/AnishMulay/simplefs/internal/directory_service"
	"github.com/AnishMulay/simplefs/internal/log_service"
	"github.com/AnishMulay/simplefs/internal/volume"
)

// RootDirectory keeps its records in a fixed run of blocks. Every call reads the run, works on
// it in memory and writes it back before releasing mu.
type RootDirectory struct {
	dev        bd.BlockDevice
	start      uint32
	blocks     uint32
	maxEntries int
	ls         log_service.LogService

	mu sync.Mutex
}

func NewRootDirectory(dev bd.BlockDevice, start, blocks uint32, maxEntries int, ls log_service.LogService) *RootDirectory {
	return &RootDirectory{
		dev:        dev,
		start:      start,
		blocks:     blocks,
		maxEntries: maxEntries,
		ls:         ls,
	}
}

// NewVolumeRootDirectory uses the standard root directory location of a mounted volume.
func NewVolumeRootDirectory(vol *volume.Volume, ls log_service.LogService) *RootDirectory {
	return NewRootDirectory(vol.Device(), volume.RootDirBlock, volume.RootDirBlocks, volume.MaxFilesPerDirectory, ls)
}

func (d *RootDirectory) load() ([]byte, error) {
	size := d.dev.BlockSize()
	region := make([]byte, int(d.blocks)*size)
	for i := uint32(0); i < d.blocks; i++ {
		off := int(i) * size
		if err := d.dev.ReadBlock(d.start+i, region[off:off+size]); err != nil {
			d.ls.Error(log_service.LogEvent{
				Message:  "Failed to read directory block",
				Metadata: map[string]any{"block": d.start + i, "error": err.Error()},
			})
			return nil, err
		}
	}
	return region, nil
}

func (d *RootDirectory) store(region []byte) error {
	size := d.dev.BlockSize()
	for i := uint32(0); i < d.blocks; i++ {
		off := int(i) * size
		if err := d.dev.WriteBlock(d.start+i, region[off:off+size]); err != nil {
			d.ls.Error(log_service.LogEvent{
				Message:  "Failed to write directory block",
				Metadata: map[string]any{"block": d.start + i, "error": err.Error()},
			})
			return err
		}
	}
	return nil
}

func (d *RootDirectory) find(region []byte, name string) (ds.Record, bool, error) {
	var found ds.Record
	var ok bool
	_, err := ds.Walk(region, func(rec ds.Record) bool {
		if rec.Name == name {
			found, ok = rec, true
			return false
		}
		return true
	})
	return found, ok, err
}

func (d *RootDirectory) Resolve(name string) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	region, err := d.load()
	if err != nil {
		return 0, err
	}

	rec, ok, err := d.find(region, name)
	if err != nil {
		d.ls.Error(log_service.LogEvent{
			Message:  "Directory scan failed",
			Metadata: map[string]any{"name": name, "error": err.Error()},
		})
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %q", ds.ErrNotFound, name)
	}
	return rec.Inode, nil
}

func (d *RootDirectory) Insert(name string, inode uint32, fileType uint8) error {
	if err := ds.ValidateName(name); err != nil {
		return err
	}
	if inode == 0 {
		return fmt.Errorf("%w: inode 0 is reserved", ds.ErrInvalidName)
	}

	d.ls.Info(log_service.LogEvent{
		Message:  "Inserting directory entry",
		Metadata: map[string]any{"name": name, "inode": inode},
	})

	d.mu.Lock()
	defer d.mu.Unlock()

	region, err := d.load()
	if err != nil {
		return err
	}

	entries := 0
	duplicate := false
	end, err := ds.Walk(region, func(rec ds.Record) bool {
		entries++
		if rec.Name == name {
			duplicate = true
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if duplicate {
		return fmt.Errorf("%w: %q", ds.ErrAlreadyExists, name)
	}

	recLen := int(ds.RecordLength(len(name)))
	if entries >= d.maxEntries || end.Offset+recLen+ds.EndRecordSize > len(region) {
		d.ls.Warn(log_service.LogEvent{
			Message:  "Directory full",
			Metadata: map[string]any{"entries": entries, "endOffset": end.Offset},
		})
		return fmt.Errorf("%w: %d entries, end marker at byte %d", ds.ErrDirectoryFull, entries, end.Offset)
	}

	// The end marker's slot becomes the new entry, then a fresh end marker follows it.
	written := ds.EncodeEntry(region, end.Offset, inode, fileType, name)
	ds.EncodeEnd(region, end.Offset+int(written))

	if err := d.store(region); err != nil {
		return err
	}

	d.ls.Info(log_service.LogEvent{
		Message:  "Directory entry inserted",
		Metadata: map[string]any{"name": name, "inode": inode, "offset": end.Offset},
	})
	return nil
}

func (d *RootDirectory) Remove(name string) (uint32, error) {
	d.ls.Info(log_service.LogEvent{
		Message:  "Removing directory entry",
		Metadata: map[string]any{"name": name},
	})

	d.mu.Lock()
	defer d.mu.Unlock()

	region, err := d.load()
	if err != nil {
		return 0, err
	}

	rec, ok, err := d.find(region, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %q", ds.ErrNotFound, name)
	}

	// Shift everything after the record, end marker included, down over it.
	span := int(rec.RecLen)
	copy(region[rec.Offset:], region[rec.Offset+span:])
	clear(region[len(region)-span:])

	if _, err := ds.Walk(region, nil); err != nil {
		return 0, err
	}
	if err := d.store(region); err != nil {
		return 0, err
	}

	d.ls.Info(log_service.LogEvent{
		Message:  "Directory entry removed",
		Metadata: map[string]any{"name": name, "inode": rec.Inode},
	})
	return rec.Inode, nil
}

func (d *RootDirectory) List() ([]ds.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	region, err := d.load()
	if err != nil {
		return nil, err
	}

	var out []ds.Record
	_, err = ds.Walk(region, func(rec ds.Record) bool {
		out = append(out, rec)
		return true
	})
	return out, err
}

func (d *RootDirectory) Count() (int, error) {
	recs, err := d.List()
	return len(recs), err
}

var _ ds.DirectoryService = (*RootDirectory)(nil)
