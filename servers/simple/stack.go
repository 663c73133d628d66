package simple

import (
	"errors"
	"fmt"

	"github.com/AnishMulay/simplefs/internal/allocator"
	bdlocal "github.com/AnishMulay/simplefs/internal/block_device/localdisc"
	"github.com/AnishMulay/simplefs/internal/config"
	"github.com/AnishMulay/simplefs/internal/directory_service/rootdir"
	"github.com/AnishMulay/simplefs/internal/fd_table"
	fssimple "github.com/AnishMulay/simplefs/internal/file_service/simple"
	"github.com/AnishMulay/simplefs/internal/inode_service/ondisk"
	"github.com/AnishMulay/simplefs/internal/log_service"
	lslocal "github.com/AnishMulay/simplefs/internal/log_service/localdisc"
	"github.com/AnishMulay/simplefs/internal/log_service/zaplog"
	oftmem "github.com/AnishMulay/simplefs/internal/open_file_table/inmemory"
	psmem "github.com/AnishMulay/simplefs/internal/page_service/inmemory"
	"github.com/AnishMulay/simplefs/internal/volume"
	"go.uber.org/multierr"
)

// NewLogService builds the backend named by cfg.Log.Backend. The returned func flushes and
// releases it.
func NewLogService(cfg *config.Config) (log_service.LogService, func() error, error) {
	switch cfg.Log.Backend {
	case "zap":
		z, err := zaplog.NewZapLogService(cfg.Node.ID, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, nil, err
		}
		return z, func() error {
			// stderr cannot be fsynced on most platforms
			_ = z.Sync()
			return nil
		}, nil
	default:
		l, err := lslocal.NewLocalDiscLogService(cfg.Log.Dir, cfg.Node.ID, cfg.Log.Level)
		if err != nil {
			return nil, nil, err
		}
		l.SetMaxBytes(int64(cfg.Log.MaxSizeKB) * 1024)
		return l, l.Close, nil
	}
}

// Stack is one mounted volume with every service wired on top of it.
type Stack struct {
	Log    log_service.LogService
	Device *bdlocal.LocalDiscBlockDevice
	Volume *volume.Volume
	Files  *fssimple.SimpleFileService
}

// Close releases the device. The file service must be stopped first.
func (s *Stack) Close() error {
	return s.Device.Close()
}

// FormatImage writes an empty file system onto the configured image.
func FormatImage(cfg *config.Config, ls log_service.LogService) (*volume.Superblock, error) {
	dev, err := bdlocal.OpenLocalDiscBlockDevice(cfg.Volume.ImagePath, volume.BlockSize, cfg.Volume.TotalBlocks, ls)
	if err != nil {
		return nil, err
	}
	sb, err := volume.Format(dev, volume.FormatOptions{Name: cfg.Volume.Name}, ls)
	return sb, multierr.Append(err, dev.Close())
}

// OpenStack mounts the configured image, formatting it first when it carries no file system.
func OpenStack(cfg *config.Config, ls log_service.LogService) (*Stack, error) {
	dev, err := bdlocal.OpenLocalDiscBlockDevice(cfg.Volume.ImagePath, volume.BlockSize, cfg.Volume.TotalBlocks, ls)
	if err != nil {
		return nil, err
	}

	vol, err := volume.Mount(dev, ls)
	if errors.Is(err, volume.ErrBadMagic) {
		ls.Warn(log_service.LogEvent{
			Message:  "Image has no file system, formatting",
			Metadata: map[string]any{"path": cfg.Volume.ImagePath},
		})
		if _, err = volume.Format(dev, volume.FormatOptions{Name: cfg.Volume.Name}, ls); err == nil {
			vol, err = volume.Mount(dev, ls)
		}
	}
	if err != nil {
		return nil, multierr.Append(err, dev.Close())
	}

	strategy := allocator.FirstZero
	if cfg.Volume.LadderScan {
		strategy = allocator.Ladder
	}

	gd := vol.Descriptor()
	blocks, err := allocator.NewBlockAllocator(dev, gd.BlockBitmap, vol.DataBlocks(), strategy, ls)
	if err != nil {
		return nil, multierr.Append(err, dev.Close())
	}
	inodes, err := allocator.NewInodeAllocator(dev, gd.InodeBitmap, vol.Superblock().TotalInodes, strategy, ls)
	if err != nil {
		return nil, multierr.Append(err, dev.Close())
	}

	files := fssimple.NewSimpleFileService(fssimple.Deps{
		Volume:      vol,
		Blocks:      blocks,
		Inodes:      inodes,
		InodeSvc:    ondisk.NewOnDiskInodeService(vol, blocks, ls),
		Directory:   rootdir.NewVolumeRootDirectory(vol, ls),
		Table:       oftmem.NewInMemoryOpenFileTable(cfg.OpenFiles.Capacity, ls),
		Descriptors: fd_table.NewTable(cfg.OpenFiles.MaxDescriptors),
		Pages:       psmem.NewInMemoryPageService(volume.PageSize, cfg.Memory.MaxPages, ls),
		Log:         ls,
	})

	ls.Info(log_service.LogEvent{
		Message:  "Stack ready",
		Metadata: map[string]any{"image": cfg.Volume.ImagePath, "strategy": strategy.String()},
	})
	return &Stack{Log: ls, Device: dev, Volume: vol, Files: files}, nil
}

func describe(cfg *config.Config) string {
	return fmt.Sprintf("%s (%s, %d blocks)", cfg.Node.ID, cfg.Volume.ImagePath, cfg.Volume.TotalBlocks)
}
