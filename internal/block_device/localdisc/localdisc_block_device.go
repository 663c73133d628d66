package localdisc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	bd "github.com/AnishMulay/simplefs/internal/block_device"
	"github.com/AnishMulay/simplefs/internal/log_service"
)

// LocalDiscBlockDevice stores the volume in a single image file. Block n lives at byte
// offset n*blockSize.
type LocalDiscBlockDevice struct {
	path       string
	blockSize  int
	blockCount uint32
	ls         log_service.LogService

	mu     sync.RWMutex
	file   *os.File
	closed bool
}

// OpenLocalDiscBlockDevice opens (creating if needed) the image at path and sizes it to
// blockCount blocks. Growing the file leaves the new region sparse and zero-filled.
func OpenLocalDiscBlockDevice(path string, blockSize int, blockCount uint32, ls log_service.LogService) (*LocalDiscBlockDevice, error) {
	if blockSize <= 0 || blockCount == 0 {
		return nil, bd.ErrInvalidGeometry
	}

	ls.Info(log_service.LogEvent{
		Message:  "Opening block device",
		Metadata: map[string]any{"path": path, "blockSize": blockSize, "blockCount": blockCount},
	})

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", bd.ErrDeviceOpenFailed, err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		ls.Error(log_service.LogEvent{
			Message:  "Failed to open image file",
			Metadata: map[string]any{"path": path, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", bd.ErrDeviceOpenFailed, err)
	}

	want := int64(blockSize) * int64(blockCount)
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", bd.ErrDeviceOpenFailed, err)
	}
	if info.Size() < want {
		if err := file.Truncate(want); err != nil {
			file.Close()
			return nil, fmt.Errorf("%w: %v", bd.ErrDeviceOpenFailed, err)
		}
	}

	return &LocalDiscBlockDevice{
		path:       path,
		blockSize:  blockSize,
		blockCount: blockCount,
		ls:         ls,
		file:       file,
	}, nil
}

func (d *LocalDiscBlockDevice) BlockSize() int     { return d.blockSize }
func (d *LocalDiscBlockDevice) BlockCount() uint32 { return d.blockCount }
func (d *LocalDiscBlockDevice) Path() string       { return d.path }

func (d *LocalDiscBlockDevice) check(blockNumber uint32, buf []byte) error {
	if d.closed {
		return bd.ErrDeviceClosed
	}
	if blockNumber >= d.blockCount {
		return fmt.Errorf("%w: %d >= %d", bd.ErrBlockOutOfRange, blockNumber, d.blockCount)
	}
	if len(buf) != d.blockSize {
		return fmt.Errorf("%w: got %d bytes", bd.ErrShortBuffer, len(buf))
	}
	return nil
}

func (d *LocalDiscBlockDevice) ReadBlock(blockNumber uint32, dst []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.check(blockNumber, dst); err != nil {
		return err
	}

	if _, err := d.file.ReadAt(dst, int64(blockNumber)*int64(d.blockSize)); err != nil {
		d.ls.Error(log_service.LogEvent{
			Message:  "Failed to read block",
			Metadata: map[string]any{"block": blockNumber, "error": err.Error()},
		})
		return fmt.Errorf("%w: block %d: %v", bd.ErrBlockReadFailed, blockNumber, err)
	}
	return nil
}

func (d *LocalDiscBlockDevice) WriteBlock(blockNumber uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(blockNumber, src); err != nil {
		return err
	}

	if _, err := d.file.WriteAt(src, int64(blockNumber)*int64(d.blockSize)); err != nil {
		d.ls.Error(log_service.LogEvent{
			Message:  "Failed to write block",
			Metadata: map[string]any{"block": blockNumber, "error": err.Error()},
		})
		return fmt.Errorf("%w: block %d: %v", bd.ErrBlockWriteFailed, blockNumber, err)
	}
	return nil
}

// Close syncs and closes the image. Calling it twice is a no-op.
func (d *LocalDiscBlockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	d.ls.Info(log_service.LogEvent{
		Message:  "Closing block device",
		Metadata: map[string]any{"path": d.path},
	})

	if err := d.file.Sync(); err != nil {
		d.file.Close()
		return err
	}
	return d.file.Close()
}

var _ bd.BlockDevice = (*LocalDiscBlockDevice)(nil)
