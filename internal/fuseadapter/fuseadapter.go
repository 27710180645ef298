// Package fuseadapter mounts a blockvfs.FS as a real FUSE filesystem using
// github.com/jacobsa/fuse, so the virtual namespace inside one backing file
// can be browsed and edited with ordinary host tools.
//
// blockvfs.FS is not safe for concurrent use (its single shared region
// cursor serializes all traffic), but jacobsa/fuse dispatches each op on its
// own goroutine. adapter therefore holds one mutex around every call into
// the wrapped FS.
package fuseadapter

import (
	"os"
	"sync"
	"time"

	"golang.org/x/net/context"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"blockvfs"
)

const dirMode = os.ModeDir | 0o755
const fileMode os.FileMode = 0o644

// adapter implements fuseutil.FileSystem over a blockvfs.FS.
type adapter struct {
	fuseutil.NotImplementedFileSystem

	mu sync.Mutex
	fs *blockvfs.FS

	uid, gid uint32

	nextInode fuseops.InodeID
	paths     map[fuseops.InodeID]string
	ids       map[string]fuseops.InodeID

	nextHandle  fuseops.HandleID
	fileHandles map[fuseops.HandleID]int // -> blockvfs descriptor id
	dirHandles  map[fuseops.HandleID][]blockvfs.DirEntry
}

// Mount mounts the virtual filesystem held by fs at dir and blocks until it
// is unmounted or ctx is cancelled.
func Mount(ctx context.Context, fs *blockvfs.FS, dir string, readOnly bool) error {
	a := &adapter{
		fs:          fs,
		uid:         uint32(os.Getuid()),
		gid:         uint32(os.Getgid()),
		nextInode:   fuseops.RootInodeID + 1,
		paths:       map[fuseops.InodeID]string{fuseops.RootInodeID: ""},
		ids:         map[string]fuseops.InodeID{"": fuseops.RootInodeID},
		fileHandles: map[fuseops.HandleID]int{},
		dirHandles:  map[fuseops.HandleID][]blockvfs.DirEntry{},
	}

	server := fuseutil.NewFileSystemServer(a)
	cfg := &fuse.MountConfig{ReadOnly: readOnly}
	mfs, err := fuse.Mount(dir, server, cfg)
	if err != nil {
		return err
	}
	return mfs.Join(ctx)
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// internIno returns the stable inode id for path, minting a fresh one on
// first sight.
func (a *adapter) internIno(path string) fuseops.InodeID {
	if id, ok := a.ids[path]; ok {
		return id
	}
	id := a.nextInode
	a.nextInode++
	a.ids[path] = id
	a.paths[id] = path
	return id
}

func (a *adapter) attrsFor(info blockvfs.Info) fuseops.InodeAttributes {
	now := time.Unix(0, 0)
	if info.IsDir {
		return fuseops.InodeAttributes{
			Size:  0,
			Nlink: 1,
			Mode:  dirMode,
			Mtime: now,
			Uid:   a.uid,
			Gid:   a.gid,
		}
	}
	return fuseops.InodeAttributes{
		Size:  info.Length,
		Nlink: 1,
		Mode:  fileMode,
		Mtime: now,
		Uid:   a.uid,
		Gid:   a.gid,
	}
}

func (a *adapter) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (a *adapter) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	parentPath, ok := a.paths[op.Parent]
	if !ok {
		return fuse.ENOENT
	}
	childPath := joinPath(parentPath, op.Name)
	info, err := a.fs.Stat(childPath)
	if err == blockvfs.ErrNotFound {
		return fuse.ENOENT
	}
	if err != nil {
		return fuse.EIO
	}

	op.Entry.Child = a.internIno(childPath)
	op.Entry.Attributes = a.attrsFor(info)
	return nil
}

func (a *adapter) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	path, ok := a.paths[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	info, err := a.fs.Stat(path)
	if err == blockvfs.ErrNotFound {
		return fuse.ENOENT
	}
	if err != nil {
		return fuse.EIO
	}
	op.Attributes = a.attrsFor(info)
	return nil
}

// SetInodeAttributes handles truncate(2)/ftruncate(2) to size 0 by reopening
// the file with TRUNC; blockvfs has no path to resize a file without a
// descriptor. A requested non-zero size leaves the file unchanged.
func (a *adapter) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	path, ok := a.paths[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	if op.Size != nil && *op.Size == 0 {
		fd := a.fs.OpenFile(path, blockvfs.Trunc)
		if fd < 0 {
			return fuse.EIO
		}
		a.fs.CloseFile(fd)
	}
	info, err := a.fs.Stat(path)
	if err != nil {
		return fuse.EIO
	}
	op.Attributes = a.attrsFor(info)
	return nil
}

func (a *adapter) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	parentPath, ok := a.paths[op.Parent]
	if !ok {
		return fuse.ENOENT
	}
	path := joinPath(parentPath, op.Name)
	if a.fs.Mkdir(path) != 0 {
		return fuse.EIO
	}
	info, err := a.fs.Stat(path)
	if err != nil {
		return fuse.EIO
	}
	op.Entry.Child = a.internIno(path)
	op.Entry.Attributes = a.attrsFor(info)
	return nil
}

func (a *adapter) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	parentPath, ok := a.paths[op.Parent]
	if !ok {
		return fuse.ENOENT
	}
	path := joinPath(parentPath, op.Name)
	fd := a.fs.OpenFile(path, blockvfs.Create|blockvfs.Excl)
	if fd < 0 {
		return fuse.EEXIST
	}
	info, err := a.fs.Stat(path)
	if err != nil {
		a.fs.CloseFile(fd)
		return fuse.EIO
	}
	op.Entry.Child = a.internIno(path)
	op.Entry.Attributes = a.attrsFor(info)

	a.nextHandle++
	op.Handle = a.nextHandle
	a.fileHandles[op.Handle] = fd
	return nil
}

func (a *adapter) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	parentPath, ok := a.paths[op.Parent]
	if !ok {
		return fuse.ENOENT
	}
	if a.fs.Rmdir(joinPath(parentPath, op.Name)) != 0 {
		return fuse.ENOTEMPTY
	}
	return nil
}

func (a *adapter) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	parentPath, ok := a.paths[op.Parent]
	if !ok {
		return fuse.ENOENT
	}
	if a.fs.Unlink(joinPath(parentPath, op.Name)) != 0 {
		return fuse.ENOENT
	}
	return nil
}

func (a *adapter) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	path, ok := a.paths[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	entries, err := a.fs.Readdir(path)
	if err != nil {
		return fuse.EIO
	}
	a.nextHandle++
	op.Handle = a.nextHandle
	a.dirHandles[op.Handle] = entries
	return nil
}

func (a *adapter) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, ok := a.dirHandles[op.Handle]
	if !ok {
		return fuse.EIO
	}
	dirPath, ok := a.paths[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	if op.Offset > fuseops.DirOffset(len(entries)) {
		return nil
	}
	remaining := entries[op.Offset:]
	for i, e := range remaining {
		dt := fuseutil.DT_File
		if e.IsDir {
			dt = fuseutil.DT_Directory
		}
		dirent := fuseutil.Dirent{
			Offset: op.Offset + fuseops.DirOffset(i) + 1,
			Inode:  a.internIno(joinPath(dirPath, e.Name)),
			Name:   e.Name,
			Type:   dt,
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dirent)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (a *adapter) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.dirHandles, op.Handle)
	return nil
}

func (a *adapter) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	path, ok := a.paths[op.Inode]
	if !ok {
		return fuse.ENOENT
	}
	fd := a.fs.OpenFile(path, 0)
	if fd < 0 {
		return fuse.ENOENT
	}
	a.nextHandle++
	op.Handle = a.nextHandle
	a.fileHandles[op.Handle] = fd
	return nil
}

func (a *adapter) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	fd, ok := a.fileHandles[op.Handle]
	if !ok {
		return fuse.EIO
	}
	a.fs.Seek(fd, op.Offset, blockvfs.SeekSet)
	n := a.fs.Read(fd, op.Dst, len(op.Dst))
	op.BytesRead = n
	return nil
}

func (a *adapter) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	fd, ok := a.fileHandles[op.Handle]
	if !ok {
		return fuse.EIO
	}
	a.fs.Seek(fd, op.Offset, blockvfs.SeekSet)
	n := a.fs.Write(fd, op.Data, len(op.Data))
	if n != len(op.Data) {
		return fuse.ENOSPC
	}
	return nil
}

func (a *adapter) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (a *adapter) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fd, ok := a.fileHandles[op.Handle]; ok {
		a.fs.CloseFile(fd)
		delete(a.fileHandles, op.Handle)
	}
	return nil
}

func (a *adapter) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if op.ID == fuseops.RootInodeID {
		return nil
	}
	if path, ok := a.paths[op.ID]; ok {
		delete(a.paths, op.ID)
		delete(a.ids, path)
	}
	return nil
}
