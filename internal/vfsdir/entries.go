// Package vfsdir implements the directory/metadata layer: the
// on-region encoding of directory entries and file/directory metadata
// records, and path navigation across them.
//
// Every function here drives a single shared *region.Cursor. Several
// operations (child-directory lookup during Navigate, in particular) must
// detour the cursor away from the directory it is scanning — to read a
// candidate child's name out of its metadata region — and then re-seat it
// at the exact byte offset the scan was at. This mirrors, at a smaller
// scale, the same cursor-multiplexing discipline the file layer (package
// handle) applies across open files: the region cursor is one resource,
// and anything that borrows it must put it back.
package vfsdir

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"blockvfs/internal/blockio"
	"blockvfs/internal/region"
)

// EntryKind is the type tag of a directory entry.
type EntryKind byte

const (
	KindNull   EntryKind = 0
	KindUnused EntryKind = 1
	KindFile   EntryKind = 2
	KindDir    EntryKind = 3
)

// EntrySize is the on-disk size of one directory entry.
const EntrySize = 5

// MaxNameLen is the largest name storable in a metadata record's u8
// name_len field.
const MaxNameLen = 255

// Entry is a 5-byte directory record: kind plus the metadata and content
// region heads of the file or directory it names.
type Entry struct {
	Kind           EntryKind
	MetadataRegion uint16
	ContentRegion  uint16
}

// FileMetadata is the record stored at the start of a file's metadata
// region: length, then the file's own name. Length is stored as a fixed
// u64 LE (see blockio.LengthFieldSize) rather than a host-native word
// width, so a backing file is portable across platforms.
type FileMetadata struct {
	Length uint64
	Name   []byte
}

// DirMetadata is the record stored at the start of a directory's metadata
// region: just its name.
type DirMetadata struct {
	Name []byte
}

var (
	// ErrNotFound is returned when a path segment cannot be resolved.
	ErrNotFound = errors.New("vfsdir: not found")
	// ErrNotADirectory is returned when a directory is expected but the
	// path names a file (blockvfs.FS.Readdir on a file path).
	ErrNotADirectory = errors.New("vfsdir: not a directory")
	// ErrDirectoryNotEmpty is returned by Rmdir's precondition check.
	ErrDirectoryNotEmpty = errors.New("vfsdir: directory not empty")
	// ErrNameTooLong is returned when a name exceeds MaxNameLen bytes.
	ErrNameTooLong = errors.New("vfsdir: name too long")
)

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

func putLE16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }

// seekToInsertionSlot positions cur at the kind byte of the first NULL or
// UNUSED entry in the directory region it is currently jumped to. It reads
// one kind byte at a time, skipping FILE and DIR entries by stepping over
// their two region fields, and backs the cursor up by one byte once it
// finds a free slot.
func seekToInsertionSlot(cur *region.Cursor) error {
	for {
		kindBuf := make([]byte, 1)
		n, err := cur.Read(kindBuf)
		if err != nil {
			return err
		}
		if n < 1 {
			// A zero-initialized region reads as NULL past its written
			// extent; treat a short read the same as finding NULL.
			return nil
		}
		kind := EntryKind(kindBuf[0])
		if kind == KindNull || kind == KindUnused {
			return cur.Seek(-1)
		}
		if err := cur.Seek(4); err != nil {
			return err
		}
	}
}

func writeEntryAt(cur *region.Cursor, e Entry) error {
	buf := make([]byte, EntrySize)
	buf[0] = byte(e.Kind)
	putLE16(buf[1:3], e.MetadataRegion)
	putLE16(buf[3:5], e.ContentRegion)
	_, err := cur.Write(buf)
	return err
}

// InsertEntry scans dirRegion for the first free slot and writes e into it.
// It returns the byte offset of the slot within dirRegion, for callers
// (TRUNC handling, in package handle) that later need to patch the entry
// in place.
func InsertEntry(cur *region.Cursor, dirRegion uint16, e Entry) (slotPos int64, err error) {
	if err := cur.JumpToRegion(dirRegion); err != nil {
		return 0, err
	}
	if err := seekToInsertionSlot(cur); err != nil {
		return 0, err
	}
	slotPos = cur.PositionInRegion()
	if err := writeEntryAt(cur, e); err != nil {
		return 0, err
	}
	return slotPos, nil
}

// IsEmpty reports whether dirRegion contains no FILE or DIR entry, the
// precondition Rmdir checks before tombstoning a directory's entry.
func IsEmpty(cur *region.Cursor, dirRegion uint16) (bool, error) {
	if err := cur.JumpToRegion(dirRegion); err != nil {
		return false, err
	}
	for {
		kindBuf := make([]byte, 1)
		n, err := cur.Read(kindBuf)
		if err != nil {
			return false, err
		}
		if n < 1 {
			return true, nil
		}
		switch EntryKind(kindBuf[0]) {
		case KindNull:
			return true, nil
		case KindUnused:
			if err := cur.Seek(4); err != nil {
				return false, err
			}
		default:
			return false, nil
		}
	}
}

// FindChildDir scans dirRegion for a DIR entry named name, resolving each
// candidate's name via readDirName. It re-seats the cursor at dirRegion
// after every detour into a child's metadata region.
func FindChildDir(cur *region.Cursor, dirRegion uint16, name []byte, readDirName func(uint16) ([]byte, error)) (Entry, bool, error) {
	if err := cur.JumpToRegion(dirRegion); err != nil {
		return Entry{}, false, err
	}
	for {
		kindBuf := make([]byte, 1)
		n, err := cur.Read(kindBuf)
		if err != nil {
			return Entry{}, false, err
		}
		if n < 1 {
			return Entry{}, false, nil
		}
		kind := EntryKind(kindBuf[0])
		if kind == KindNull {
			return Entry{}, false, nil
		}
		if kind == KindUnused {
			if err := cur.Seek(4); err != nil {
				return Entry{}, false, err
			}
			continue
		}

		regionBuf := make([]byte, 4)
		if _, err := cur.Read(regionBuf); err != nil {
			return Entry{}, false, err
		}
		e := Entry{Kind: kind, MetadataRegion: le16(regionBuf[0:2]), ContentRegion: le16(regionBuf[2:4])}
		afterEntryPos := cur.PositionInRegion()

		if kind == KindDir {
			nm, err := readDirName(e.MetadataRegion)
			if err != nil {
				return Entry{}, false, err
			}
			if err := cur.JumpToRegion(dirRegion); err != nil {
				return Entry{}, false, err
			}
			if err := cur.Seek(afterEntryPos); err != nil {
				return Entry{}, false, err
			}
			if bytes.Equal(nm, name) {
				return e, true, nil
			}
		}
	}
}

// FindNamedEntry scans dirRegion for a FILE or DIR entry of the given kind
// matching name, and returns it along with the byte offset of its kind
// field (for RemoveEntry). Unlike FindChildDir it does not descend; it is
// used to locate the residual target of unlink/rmdir/open within its
// parent.
func FindNamedEntry(cur *region.Cursor, dirRegion uint16, wantKind EntryKind, name []byte, readName func(EntryKind, uint16) ([]byte, error)) (e Entry, slotPos int64, found bool, err error) {
	if err = cur.JumpToRegion(dirRegion); err != nil {
		return Entry{}, 0, false, err
	}
	for {
		slot := cur.PositionInRegion()
		kindBuf := make([]byte, 1)
		var n int
		n, err = cur.Read(kindBuf)
		if err != nil {
			return Entry{}, 0, false, err
		}
		if n < 1 {
			return Entry{}, 0, false, nil
		}
		kind := EntryKind(kindBuf[0])
		if kind == KindNull {
			return Entry{}, 0, false, nil
		}
		if kind == KindUnused {
			if err = cur.Seek(4); err != nil {
				return Entry{}, 0, false, err
			}
			continue
		}

		regionBuf := make([]byte, 4)
		if _, err = cur.Read(regionBuf); err != nil {
			return Entry{}, 0, false, err
		}
		cand := Entry{Kind: kind, MetadataRegion: le16(regionBuf[0:2]), ContentRegion: le16(regionBuf[2:4])}
		afterEntryPos := cur.PositionInRegion()

		if kind == wantKind {
			nm, rerr := readName(kind, cand.MetadataRegion)
			if rerr != nil {
				return Entry{}, 0, false, rerr
			}
			if bytes.Equal(nm, name) {
				return cand, slot, true, nil
			}
		}

		if err = cur.JumpToRegion(dirRegion); err != nil {
			return Entry{}, 0, false, err
		}
		if err = cur.Seek(afterEntryPos); err != nil {
			return Entry{}, 0, false, err
		}
	}
}

// ListEntries returns every live (FILE or DIR) entry in dirRegion together
// with its resolved name, skipping UNUSED slots. It supplements the
// API table with the directory-listing primitive needed by the FUSE
// adapter and the CLI.
func ListEntries(cur *region.Cursor, dirRegion uint16, readName func(EntryKind, uint16) ([]byte, error)) ([]struct {
	Name  string
	Entry Entry
}, error) {
	var out []struct {
		Name  string
		Entry Entry
	}
	if err := cur.JumpToRegion(dirRegion); err != nil {
		return nil, err
	}
	for {
		kindBuf := make([]byte, 1)
		n, err := cur.Read(kindBuf)
		if err != nil {
			return nil, err
		}
		if n < 1 {
			break
		}
		kind := EntryKind(kindBuf[0])
		if kind == KindNull {
			break
		}
		if kind == KindUnused {
			if err := cur.Seek(4); err != nil {
				return nil, err
			}
			continue
		}
		regionBuf := make([]byte, 4)
		if _, err := cur.Read(regionBuf); err != nil {
			return nil, err
		}
		e := Entry{Kind: kind, MetadataRegion: le16(regionBuf[0:2]), ContentRegion: le16(regionBuf[2:4])}
		afterEntryPos := cur.PositionInRegion()

		nm, err := readName(kind, e.MetadataRegion)
		if err != nil {
			return nil, err
		}
		out = append(out, struct {
			Name  string
			Entry Entry
		}{Name: string(nm), Entry: e})

		if err := cur.JumpToRegion(dirRegion); err != nil {
			return nil, err
		}
		if err := cur.Seek(afterEntryPos); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RemoveEntry tombstones the entry whose kind byte lives at slotPos within
// dirRegion: it is never physically removed, preserving in-place slot
// positions for remaining entries.
func RemoveEntry(cur *region.Cursor, dirRegion uint16, slotPos int64) error {
	if err := cur.JumpToRegion(dirRegion); err != nil {
		return err
	}
	if err := cur.Seek(slotPos); err != nil {
		return err
	}
	_, err := cur.Write([]byte{byte(KindUnused)})
	return err
}

// RewriteContentRegion patches the content_region field (byte offset 3..4)
// of the entry at slotPos, leaving its kind and metadata_region untouched.
// This is used by the file layer's TRUNC handling, which always rewrites
// the field so the directory entry never points at a freed region after a
// truncate (see DESIGN.md).
func RewriteContentRegion(cur *region.Cursor, dirRegion uint16, slotPos int64, newContentRegion uint16) error {
	if err := cur.JumpToRegion(dirRegion); err != nil {
		return err
	}
	if err := cur.Seek(slotPos + 3); err != nil {
		return err
	}
	buf := make([]byte, 2)
	putLE16(buf, newContentRegion)
	_, err := cur.Write(buf)
	return err
}

// ReadFileMetadata reads the length and name from a file's metadata region.
func ReadFileMetadata(cur *region.Cursor, metadataRegion uint16) (FileMetadata, error) {
	if err := cur.JumpToRegion(metadataRegion); err != nil {
		return FileMetadata{}, err
	}
	lenBuf := make([]byte, blockio.LengthFieldSize)
	if _, err := cur.Read(lenBuf); err != nil {
		return FileMetadata{}, err
	}
	nlBuf := make([]byte, 1)
	if _, err := cur.Read(nlBuf); err != nil {
		return FileMetadata{}, err
	}
	name := make([]byte, nlBuf[0])
	if len(name) > 0 {
		if _, err := cur.Read(name); err != nil {
			return FileMetadata{}, err
		}
	}
	return FileMetadata{Length: binary.LittleEndian.Uint64(lenBuf), Name: name}, nil
}

// WriteFileMetadata writes a file's length+name record at the start of its
// metadata region. Used once at creation.
func WriteFileMetadata(cur *region.Cursor, metadataRegion uint16, m FileMetadata) error {
	if len(m.Name) > MaxNameLen {
		return ErrNameTooLong
	}
	if err := cur.JumpToRegion(metadataRegion); err != nil {
		return err
	}
	buf := make([]byte, blockio.LengthFieldSize+1+len(m.Name))
	binary.LittleEndian.PutUint64(buf[:blockio.LengthFieldSize], m.Length)
	buf[blockio.LengthFieldSize] = byte(len(m.Name))
	copy(buf[blockio.LengthFieldSize+1:], m.Name)
	_, err := cur.Write(buf)
	return err
}

// UpdateFileLength rewrites only the length field of a file's metadata
// record, leaving its name untouched.
func UpdateFileLength(cur *region.Cursor, metadataRegion uint16, length uint64) error {
	if err := cur.JumpToRegion(metadataRegion); err != nil {
		return err
	}
	buf := make([]byte, blockio.LengthFieldSize)
	binary.LittleEndian.PutUint64(buf, length)
	_, err := cur.Write(buf)
	return err
}

// ReadDirMetadata reads a directory's name from its metadata region.
func ReadDirMetadata(cur *region.Cursor, metadataRegion uint16) (DirMetadata, error) {
	if err := cur.JumpToRegion(metadataRegion); err != nil {
		return DirMetadata{}, err
	}
	nlBuf := make([]byte, 1)
	if _, err := cur.Read(nlBuf); err != nil {
		return DirMetadata{}, err
	}
	name := make([]byte, nlBuf[0])
	if len(name) > 0 {
		if _, err := cur.Read(name); err != nil {
			return DirMetadata{}, err
		}
	}
	return DirMetadata{Name: name}, nil
}

// WriteDirMetadata writes a directory's name record. Written once at
// creation; directories have no other metadata.
func WriteDirMetadata(cur *region.Cursor, metadataRegion uint16, m DirMetadata) error {
	if len(m.Name) > MaxNameLen {
		return ErrNameTooLong
	}
	if err := cur.JumpToRegion(metadataRegion); err != nil {
		return err
	}
	buf := make([]byte, 1+len(m.Name))
	buf[0] = byte(len(m.Name))
	copy(buf[1:], m.Name)
	_, err := cur.Write(buf)
	return err
}

// ReadName reads whichever of FileMetadata/DirMetadata applies to kind,
// returning just the name. It is the readName callback shape used by
// FindNamedEntry/ListEntries.
func ReadName(cur *region.Cursor, kind EntryKind, metadataRegion uint16) ([]byte, error) {
	switch kind {
	case KindFile:
		m, err := ReadFileMetadata(cur, metadataRegion)
		if err != nil {
			return nil, err
		}
		return m.Name, nil
	case KindDir:
		m, err := ReadDirMetadata(cur, metadataRegion)
		if err != nil {
			return nil, err
		}
		return m.Name, nil
	default:
		return nil, fmt.Errorf("vfsdir: ReadName: unexpected kind %d", kind)
	}
}
