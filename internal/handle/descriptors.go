// Package handle implements the file layer: the descriptor
// table, open flags, per-file length and cursor, and the single-cursor
// multiplexing protocol that lets many open files share the one region
// cursor package region provides.
package handle

import (
	"blockvfs/internal/blockio"
	"blockvfs/internal/region"
	"blockvfs/internal/vfsdir"
)

// Capacity is the fixed size of the descriptor table.
const Capacity = 256

// Flags is a bitset of the open() modifiers.
type Flags uint8

const (
	Create Flags = 1 << iota
	Excl
	Trunc
	Append
)

// Whence selects what a Seek offset is relative to.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// descriptor is one slot of the descriptor table: an open file's regions,
// cached length, and independent in-memory cursor.
type descriptor struct {
	inUse          bool
	contentRegion  uint16
	metadataRegion uint16
	parentRegion   uint16
	slotPos        int64 // offset of this file's entry within parentRegion
	length         uint64
	cursor         int64
}

// Table is the file layer: the descriptor table plus the single shared
// region cursor it multiplexes across open files.
//
// Cursor multiplexing protocol: before any read/write on
// descriptor fd, if lastUsed != fd the region cursor is re-seated at fd's
// content region and walked forward to fd's saved cursor, then lastUsed is
// set to fd. Any directory-layer operation that moves the cursor elsewhere
// (mkdir, rmdir, unlink, metadata rewrites) invalidates lastUsed so the next
// read/write is forced to re-seat.
type Table struct {
	engine *blockio.Engine
	cursor *region.Cursor
	slots  [Capacity]descriptor
	lastFD int // -1 means "no descriptor currently seated"
}

// New creates an empty descriptor table driving the given block engine and
// shared region cursor.
func New(e *blockio.Engine, c *region.Cursor) *Table {
	return &Table{engine: e, cursor: c, lastFD: -1}
}

// Invalidate forces the next read/write to re-seat the region cursor. Any
// caller that moves the cursor out from under the file layer (directory
// operations, metadata rewrites) must call this.
func (t *Table) Invalidate() { t.lastFD = -1 }

func (t *Table) lowestFreeSlot() int {
	for i := 0; i < Capacity; i++ {
		if !t.slots[i].inUse {
			return i
		}
	}
	return -1
}

func validFD(fd int) bool { return fd >= 0 && fd < Capacity }

func (t *Table) valid(fd int) (*descriptor, bool) {
	if !validFD(fd) || !t.slots[fd].inUse {
		return nil, false
	}
	return &t.slots[fd], true
}

// ensureSeated implements the last-used-descriptor re-seat protocol: it
// jumps the shared region cursor to fd's content region and walks it
// forward to fd's own cursor, but only when some other descriptor (or no
// descriptor) was last seated.
func (t *Table) ensureSeated(fd int, d *descriptor) error {
	if t.lastFD == fd {
		return nil
	}
	if err := t.cursor.JumpToRegion(d.contentRegion); err != nil {
		return err
	}
	if d.cursor > 0 {
		if err := t.cursor.Seek(d.cursor); err != nil {
			return err
		}
	}
	t.lastFD = fd
	return nil
}

// Open resolves path through the directory layer and returns a descriptor
// id, applying CREATE/EXCL/TRUNC/APPEND. It returns -1 on any failure:
// descriptor-table-full, parent-not-found, not-found without CREATE,
// exists-with-EXCL, or allocation failure.
func (t *Table) Open(path string, flags Flags) int {
	fd := t.lowestFreeSlot()
	if fd < 0 {
		return -1
	}

	parentRegion, residual, err := vfsdir.Navigate(t.cursor, path)
	t.Invalidate()
	if err != nil || residual == "" {
		return -1
	}

	existing, found, err := vfsdir.Lookup(t.cursor, parentRegion, []byte(residual))
	t.Invalidate()
	if err != nil {
		return -1
	}

	var contentRegion, metadataRegion uint16
	var slotPos int64
	var length uint64

	switch {
	case found && existing.Kind != vfsdir.KindFile:
		return -1 // residual names a directory, not a file.
	case found && flags&Excl != 0:
		return -1 // EXCL requires the path not to already exist.
	case found:
		fe, pos, ok, ferr := vfsdir.FindNamedEntry(t.cursor, parentRegion, vfsdir.KindFile, []byte(residual),
			func(k vfsdir.EntryKind, r uint16) ([]byte, error) { return vfsdir.ReadName(t.cursor, k, r) })
		t.Invalidate()
		if ferr != nil || !ok {
			return -1
		}
		contentRegion, metadataRegion, slotPos = fe.ContentRegion, fe.MetadataRegion, pos
		meta, merr := vfsdir.ReadFileMetadata(t.cursor, metadataRegion)
		t.Invalidate()
		if merr != nil {
			return -1
		}
		length = meta.Length
	case flags&Create != 0:
		cr, mr, pos, aerr := vfsdir.AllocateFile(t.engine, t.cursor, parentRegion, []byte(residual))
		t.Invalidate()
		if aerr != nil {
			return -1
		}
		contentRegion, metadataRegion, slotPos, length = cr, mr, pos, 0
	default:
		return -1 // not found, and CREATE was not requested.
	}

	if flags&Trunc != 0 {
		newContentRegion, err := t.truncate(contentRegion, metadataRegion, parentRegion, slotPos)
		if err != nil {
			return -1
		}
		contentRegion = newContentRegion
		length = 0
	}

	cursor := int64(0)
	if flags&Append != 0 {
		cursor = int64(length)
	}

	t.slots[fd] = descriptor{
		inUse:          true,
		contentRegion:  contentRegion,
		metadataRegion: metadataRegion,
		parentRegion:   parentRegion,
		slotPos:        slotPos,
		length:         length,
		cursor:         cursor,
	}
	return fd
}

// truncate frees a file's existing content region, allocates a fresh empty
// one, and rewrites the directory entry's content_region field in place so
// the file stays reachable by path afterward (see DESIGN.md).
func (t *Table) truncate(oldContentRegion, metadataRegion, parentRegion uint16, slotPos int64) (newContentRegion uint16, err error) {
	newContentRegion, err = t.engine.AllocateBlock(blockio.Invalid)
	if err != nil {
		return 0, err
	}
	if err := t.engine.FreeRegion(oldContentRegion); err != nil {
		return 0, err
	}
	if err := vfsdir.RewriteContentRegion(t.cursor, parentRegion, slotPos, newContentRegion); err != nil {
		return 0, err
	}
	if err := vfsdir.UpdateFileLength(t.cursor, metadataRegion, 0); err != nil {
		return 0, err
	}
	t.Invalidate()
	return newContentRegion, nil
}

// Close releases fd's descriptor slot. No flush is required since writes
// already go through to the backing file; the directory entry and regions
// persist.
func (t *Table) Close(fd int) {
	if !validFD(fd) {
		return
	}
	t.slots[fd].inUse = false
	if t.lastFD == fd {
		t.lastFD = -1
	}
}

// Read streams up to n bytes from fd into buf starting at its cursor,
// clamped to the file's stored length, and advances the cursor by the
// number of bytes actually transferred.
func (t *Table) Read(fd int, buf []byte, n int) int {
	d, ok := t.valid(fd)
	if !ok {
		return 0
	}
	if err := t.ensureSeated(fd, d); err != nil {
		return 0
	}
	remaining := int64(d.length) - d.cursor
	if remaining <= 0 {
		return 0
	}
	if int64(n) > remaining {
		n = int(remaining)
	}
	if n > len(buf) {
		n = len(buf)
	}
	got, err := t.cursor.Read(buf[:n])
	if err != nil {
		return 0
	}
	d.cursor += int64(got)
	return got
}

// Write streams n bytes from buf through fd starting at its cursor,
// advances the cursor, and grows the stored length to cover any bytes
// written past the previous length, using `length = max(length, cursor)`
// rather than naively setting length to cursor+1 (see DESIGN.md).
func (t *Table) Write(fd int, buf []byte, n int) int {
	d, ok := t.valid(fd)
	if !ok {
		return 0
	}
	if err := t.ensureSeated(fd, d); err != nil {
		return 0
	}
	if n > len(buf) {
		n = len(buf)
	}
	wrote, err := t.cursor.Write(buf[:n])
	if err != nil {
		return 0
	}
	d.cursor += int64(wrote)
	if uint64(d.cursor) > d.length {
		d.length = uint64(d.cursor)
		if err := vfsdir.UpdateFileLength(t.cursor, d.metadataRegion, d.length); err != nil {
			return wrote
		}
		t.Invalidate()
	}
	return wrote
}

// Seek computes fd's new cursor relative to whence, clamps it to
// [0, length], stores it, and returns it. Unknown whence values leave the
// cursor unchanged and return its current value.
func (t *Table) Seek(fd int, offset int64, whence Whence) int64 {
	d, ok := t.valid(fd)
	if !ok {
		return -1
	}
	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = d.cursor
	case SeekEnd:
		base = int64(d.length)
	default:
		return d.cursor
	}
	target := base + offset
	if target < 0 {
		target = 0
	}
	if target > int64(d.length) {
		target = int64(d.length)
	}
	if t.lastFD == fd {
		t.lastFD = -1 // the next read/write re-seats at the new cursor.
	}
	d.cursor = target
	return d.cursor
}

// Length returns fd's currently stored length, or 0 for an invalid
// descriptor.
func (t *Table) Length(fd int) uint64 {
	d, ok := t.valid(fd)
	if !ok {
		return 0
	}
	return d.length
}

// Cursor returns fd's current cursor, or -1 for an invalid descriptor.
func (t *Table) Cursor(fd int) int64 {
	d, ok := t.valid(fd)
	if !ok {
		return -1
	}
	return d.cursor
}

// ContentRegion returns fd's content region id, or false for an invalid
// descriptor.
func (t *Table) ContentRegion(fd int) (uint16, bool) {
	d, ok := t.valid(fd)
	if !ok {
		return 0, false
	}
	return d.contentRegion, true
}
