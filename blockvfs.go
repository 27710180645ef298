// Package blockvfs is the public API of a self-contained
// virtual filesystem persisted inside one ordinary host file: create/delete
// files and directories, open/close by path, sequential read/write with an
// explicit cursor, and seek. Every virtual file's content lives inside the
// single backing file FS wraps — no host-level file exists per virtual
// file.
//
// FS is not safe for concurrent use: the single shared region cursor
// (package region) fundamentally serializes all region traffic through the
// file layer (package handle) it drives.
package blockvfs

import (
	"strings"

	"blockvfs/internal/blockio"
	"blockvfs/internal/handle"
	"blockvfs/internal/region"
	"blockvfs/internal/vfsdir"
	"blockvfs/internal/version"
)

// Open-flag bits, re-exported from package handle so callers never need to
// import it directly.
const (
	Create = handle.Create
	Excl   = handle.Excl
	Trunc  = handle.Trunc
	Append = handle.Append
)

// Whence values for Seek.
const (
	SeekSet = handle.SeekSet
	SeekCur = handle.SeekCur
	SeekEnd = handle.SeekEnd
)

// Default backing-file parameters.
const (
	DefaultBlockSize  uint16 = 10
	DefaultBlockCount uint16 = 128
)

// FS is an open virtual filesystem backed by one host file.
type FS struct {
	engine *blockio.Engine
	cursor *region.Cursor
	files  *handle.Table
}

// Create creates a fresh backing file at path with the given block size and
// count and opens it as an FS. Block 0 becomes the root directory's content
// region.
func Create(path string, blockSize, blockCount uint16) (*FS, error) {
	b, err := blockio.Create(path, blockSize, blockCount)
	if err != nil {
		return nil, err
	}
	return wrap(b), nil
}

// Open opens an existing backing file at path as an FS, reading its block
// size and count from the file's own header.
func Open(path string) (*FS, error) {
	b, err := blockio.Open(path)
	if err != nil {
		return nil, err
	}
	return wrap(b), nil
}

func wrap(b *blockio.Backing) *FS {
	e := blockio.New(b)
	c := region.New(e)
	return &FS{engine: e, cursor: c, files: handle.New(e, c)}
}

// Close releases the backing file handle. The directory tree and all file
// contents remain on disk; there is no separate flush step since writes
// already go straight to the backing file.
func (fs *FS) Close() error {
	return fs.engine.Close()
}

// OpenFile opens or creates the file at path according to flags and
// returns a descriptor id, or -1 on failure.
func (fs *FS) OpenFile(path string, flags handle.Flags) int {
	return fs.files.Open(path, flags)
}

// CloseFile releases fd. Invalid descriptors are silently ignored.
func (fs *FS) CloseFile(fd int) {
	fs.files.Close(fd)
}

// Read reads up to n bytes from fd into buf, returning the count actually
// read (0 for an invalid descriptor or end of file).
func (fs *FS) Read(fd int, buf []byte, n int) int {
	return fs.files.Read(fd, buf, n)
}

// Write writes n bytes from buf through fd, returning the count actually
// written (0 for an invalid descriptor; short on storage exhaustion).
func (fs *FS) Write(fd int, buf []byte, n int) int {
	return fs.files.Write(fd, buf, n)
}

// Seek repositions fd's cursor relative to whence, clamped to [0, length],
// and returns the new cursor (-1 for an invalid descriptor).
func (fs *FS) Seek(fd int, offset int64, whence handle.Whence) int64 {
	return fs.files.Seek(fd, offset, whence)
}

// Length returns fd's currently stored length.
func (fs *FS) Length(fd int) uint64 {
	return fs.files.Length(fd)
}

// Tell returns fd's current cursor.
func (fs *FS) Tell(fd int) int64 {
	return fs.files.Cursor(fd)
}

// Unlink removes the file named by path. It returns 0 on success, -1 on
// parent-not-found or name-not-found-as-file.
//
// Open descriptors referencing the unlinked file's regions are not
// invalidated — reads/writes through them continue to see the (now
// unreachable-by-path) regions until those regions are overwritten by a
// later allocation.
func (fs *FS) Unlink(path string) int {
	parentRegion, residual, err := fs.navigate(path)
	if err != nil || residual == "" {
		return -1
	}
	err = vfsdir.Unlink(fs.engine, fs.cursor, parentRegion, []byte(residual))
	fs.files.Invalidate()
	if err != nil {
		return -1
	}
	return 0
}

// Mkdir creates the directory named by path. A single trailing '/' names
// the directory being created rather than a child within it (so
// "Documents/" behaves the same as "Documents"), matching directory-naming
// convention elsewhere in the namespace. It returns 0 on success, -1 on
// parent-not-found, name-collision, or allocation failure.
func (fs *FS) Mkdir(path string) int {
	parentRegion, residual, err := fs.navigate(stripTrailingSlash(path))
	if err != nil || residual == "" {
		return -1
	}
	_, found, err := vfsdir.Lookup(fs.cursor, parentRegion, []byte(residual))
	fs.files.Invalidate()
	if err != nil || found {
		return -1
	}
	_, _, err = vfsdir.AllocateDir(fs.engine, fs.cursor, parentRegion, []byte(residual))
	fs.files.Invalidate()
	if err != nil {
		return -1
	}
	return 0
}

// Rmdir removes the directory named by path. A single trailing '/' is
// stripped first, for the same reason as in Mkdir. It returns 0 on success,
// -1 on parent-not-found, name-not-found-as-dir, or a non-empty directory.
func (fs *FS) Rmdir(path string) int {
	parentRegion, residual, err := fs.navigate(stripTrailingSlash(path))
	if err != nil || residual == "" {
		return -1
	}
	err = vfsdir.Rmdir(fs.engine, fs.cursor, parentRegion, []byte(residual))
	fs.files.Invalidate()
	if err != nil {
		return -1
	}
	return 0
}

// stripTrailingSlash removes a single trailing '/' from path, so that a
// caller naming a directory the way they would list its parent (e.g.
// "Documents/") still resolves to that directory itself rather than an
// empty child name within it.
func stripTrailingSlash(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return path[:len(path)-1]
	}
	return path
}

// navigate is Unlink/Mkdir/Rmdir's shared path-resolution step. Directory
// navigation drives the same shared cursor the file layer multiplexes, so
// every caller here invalidates the last-used-descriptor cache afterward.
func (fs *FS) navigate(path string) (parentRegion uint16, residual string, err error) {
	parentRegion, residual, err = vfsdir.Navigate(fs.cursor, path)
	fs.files.Invalidate()
	return parentRegion, residual, err
}

// Info is the result of Stat, which exists because both the FUSE adapter
// and the CLI need a non-mutating path lookup that does not consume a
// descriptor slot.
type Info struct {
	IsDir          bool
	Length         uint64
	ContentRegion  uint16
	MetadataRegion uint16
}

// Stat resolves path to its kind, length (for files), and region ids
// without opening a descriptor.
func (fs *FS) Stat(path string) (Info, error) {
	if path == "" {
		return Info{IsDir: true, ContentRegion: vfsdir.RootRegion}, nil
	}
	parentRegion, residual, err := fs.navigate(path)
	if err != nil {
		return Info{}, err
	}
	if residual == "" {
		return Info{IsDir: true, ContentRegion: parentRegion}, nil
	}
	entry, found, err := vfsdir.Lookup(fs.cursor, parentRegion, []byte(residual))
	fs.files.Invalidate()
	if err != nil {
		return Info{}, err
	}
	if !found {
		return Info{}, vfsdir.ErrNotFound
	}
	if entry.Kind == vfsdir.KindDir {
		return Info{IsDir: true, ContentRegion: entry.ContentRegion, MetadataRegion: entry.MetadataRegion}, nil
	}
	meta, err := vfsdir.ReadFileMetadata(fs.cursor, entry.MetadataRegion)
	fs.files.Invalidate()
	if err != nil {
		return Info{}, err
	}
	return Info{IsDir: false, Length: meta.Length, ContentRegion: entry.ContentRegion, MetadataRegion: entry.MetadataRegion}, nil
}

// DirEntry is one result row of Readdir.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Readdir lists the live (non-tombstoned) entries of the directory named
// by path ("" means the root).
func (fs *FS) Readdir(path string) ([]DirEntry, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir {
		return nil, vfsdir.ErrNotADirectory
	}
	raw, err := vfsdir.ListEntries(fs.cursor, info.ContentRegion, func(k vfsdir.EntryKind, r uint16) ([]byte, error) {
		return vfsdir.ReadName(fs.cursor, k, r)
	})
	fs.files.Invalidate()
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, len(raw))
	for i, e := range raw {
		out[i] = DirEntry{Name: e.Name, IsDir: e.Entry.Kind == vfsdir.KindDir}
	}
	return out, nil
}

// BlockState is one row of DebugBlocks.
type BlockState struct {
	Index uint16
	InUse bool
	Prev  uint16
	Next  uint16
}

// DebugBlocks returns the in-use/free state of every block in the backing
// file, for tests and the CLI's "debug-blocks" subcommand; it
// exercises the testable invariants over in-use block counts.
func (fs *FS) DebugBlocks() ([]BlockState, error) {
	count := fs.engine.BlockCount()
	out := make([]BlockState, count)
	for i := uint16(0); i < count; i++ {
		h, err := fs.engine.PeekHeader(i)
		if err != nil {
			return nil, err
		}
		out[i] = BlockState{Index: i, InUse: h.InUse, Prev: h.Prev, Next: h.Next}
	}
	return out, nil
}

// ErrNotFound is returned by Stat when path does not resolve. Unlink,
// Mkdir and Rmdir instead surface failures as plain -1/0 sentinel
// integers, with no separate errno-style channel.
var ErrNotFound = vfsdir.ErrNotFound

// FormatVersion reports the on-disk layout version this build writes and
// expects: the backing-file header, block headers, and the directory-entry
// and metadata-record encodings in internal/vfsdir. It has no bearing on
// any individual backing file (there is no stored format byte to check
// against) but lets the CLI and callers report which layout a given build
// understands.
func FormatVersion() int {
	return version.FormatVersion
}
