// Package fuse_frontend exposes the root directory as a read-only FUSE mount. Every host open
// becomes a read-only open of the file store on behalf of one mount process, and the host
// release closes that descriptor again.
package fuse_frontend

import (
	"context"
	"errors"
	"syscall"
	"time"

	fs "github.com/AnishMulay/simplefs/internal/file_service"
	"github.com/AnishMulay/simplefs/internal/log_service"
	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// DefaultMountPid is the process id the mount opens files as.
const DefaultMountPid uint32 = 1

type Options struct {
	Pid   uint32
	Debug bool
	// Name shows up as the file system name in the host mount table.
	Name string
}

// Mount serves files at dir until the returned server is unmounted.
func Mount(dir string, files fs.FileService, ls log_service.LogService, opts Options) (*fuse.Server, error) {
	if opts.Pid == 0 {
		opts.Pid = DefaultMountPid
	}
	if opts.Name == "" {
		opts.Name = "simplefs"
	}

	root := NewRoot(files, opts.Pid, ls)
	server, err := gofs.Mount(dir, root, &gofs.Options{
		MountOptions: fuse.MountOptions{
			FsName: opts.Name,
			Name:   "simplefs",
			Debug:  opts.Debug,
		},
	})
	if err != nil {
		ls.Error(log_service.LogEvent{
			Message:  "Failed to mount",
			Metadata: map[string]any{"dir": dir, "error": err.Error()},
		})
		return nil, err
	}

	ls.Info(log_service.LogEvent{
		Message:  "Mounted volume",
		Metadata: map[string]any{"dir": dir, "pid": opts.Pid},
	})
	return server, nil
}

type Root struct {
	gofs.Inode

	files fs.FileService
	pid   uint32
	ls    log_service.LogService
}

func NewRoot(files fs.FileService, pid uint32, ls log_service.LogService) *Root {
	return &Root{files: files, pid: pid, ls: ls}
}

var (
	_ gofs.NodeReaddirer = (*Root)(nil)
	_ gofs.NodeLookuper  = (*Root)(nil)
	_ gofs.NodeGetattrer = (*Root)(nil)
)

func (r *Root) Readdir(ctx context.Context) (gofs.DirStream, syscall.Errno) {
	entries, err := r.files.ListDirectory(ctx)
	if err != nil {
		return nil, toErrno(err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fuse.DirEntry{
			Name: e.Name,
			Ino:  uint64(e.Inode),
			Mode: fuse.S_IFREG,
		})
	}
	return gofs.NewListDirStream(out), gofs.OK
}

func (r *Root) Getattr(ctx context.Context, f gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0o555
	out.Nlink = 2
	return gofs.OK
}

func (r *Root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	info, errno := r.find(ctx, name)
	if errno != gofs.OK {
		return nil, errno
	}

	fillAttr(&out.Attr, info)
	child := &File{root: r, name: name}
	return r.NewInode(ctx, child, gofs.StableAttr{Mode: fuse.S_IFREG, Ino: uint64(info.Inode)}), gofs.OK
}

func (r *Root) find(ctx context.Context, name string) (fs.DirEntryInfo, syscall.Errno) {
	entries, err := r.files.ListDirectory(ctx)
	if err != nil {
		return fs.DirEntryInfo{}, toErrno(err)
	}
	for _, e := range entries {
		if e.Name == name {
			return e, gofs.OK
		}
	}
	return fs.DirEntryInfo{}, syscall.ENOENT
}

// File is one regular file in the root directory.
type File struct {
	gofs.Inode

	root *Root
	name string
}

var (
	_ gofs.NodeGetattrer = (*File)(nil)
	_ gofs.NodeOpener    = (*File)(nil)
)

func (f *File) Getattr(ctx context.Context, fh gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, errno := f.root.find(ctx, f.name)
	if errno != gofs.OK {
		return errno
	}
	fillAttr(&out.Attr, info)
	return gofs.OK
}

func (f *File) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	return f.root.open(ctx, f.name, flags)
}

func (r *Root) open(ctx context.Context, name string, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		return nil, 0, syscall.EROFS
	}

	info, errno := r.find(ctx, name)
	if errno != gofs.OK {
		return nil, 0, errno
	}

	fd, err := r.files.Open(ctx, r.pid, name, fs.ReadOnly)
	if err != nil {
		r.ls.Warn(log_service.LogEvent{
			Message:  "Mount open failed",
			Metadata: map[string]any{"name": name, "error": err.Error()},
		})
		return nil, 0, toErrno(err)
	}
	return &handle{root: r, fd: fd, size: info.Size}, fuse.FOPEN_KEEP_CACHE, gofs.OK
}

// handle holds one read-only descriptor for the life of a host open.
type handle struct {
	root *Root
	fd   int
	size uint32
}

var (
	_ gofs.FileReader   = (*handle)(nil)
	_ gofs.FileReleaser = (*handle)(nil)
)

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := h.root.files.Read(ctx, h.root.pid, h.fd)
	if err != nil {
		return nil, toErrno(err)
	}
	if uint64(len(data)) > uint64(h.size) {
		data = data[:h.size]
	}
	if off >= int64(len(data)) {
		return fuse.ReadResultData(nil), gofs.OK
	}
	end := off + int64(len(dest))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return fuse.ReadResultData(data[off:end]), gofs.OK
}

func (h *handle) Release(ctx context.Context) syscall.Errno {
	if err := h.root.files.Close(ctx, h.root.pid, h.fd); err != nil {
		return toErrno(err)
	}
	return gofs.OK
}

func fillAttr(out *fuse.Attr, info fs.DirEntryInfo) {
	out.Ino = uint64(info.Inode)
	out.Mode = fuse.S_IFREG | uint32(info.User&4)<<6 | uint32(info.Group&4)<<3 | uint32(info.Other&4)
	out.Size = uint64(info.Size)
	out.Nlink = 1
	mtime := info.ModTime
	if mtime.IsZero() {
		mtime = time.Unix(0, 0)
	}
	out.SetTimes(nil, &mtime, &mtime)
}

func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return gofs.OK
	case errors.Is(err, fs.ErrFileNotFound):
		return syscall.ENOENT
	case errors.Is(err, fs.ErrInvalidName):
		return syscall.EINVAL
	case errors.Is(err, fs.ErrBadDescriptor):
		return syscall.EBADF
	case errors.Is(err, fs.ErrTooManyOpenFiles):
		return syscall.EMFILE
	case errors.Is(err, fs.ErrOutOfMemory):
		return syscall.ENOMEM
	case errors.Is(err, fs.ErrFileLocked), errors.Is(err, fs.ErrFileBusy):
		return syscall.EBUSY
	case errors.Is(err, fs.ErrReadOnly):
		return syscall.EROFS
	default:
		return syscall.EIO
	}
}
