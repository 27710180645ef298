package vfsdir

import (
	"strings"

	"blockvfs/internal/blockio"
	"blockvfs/internal/region"
)

// RootRegion is the fixed block index of the root directory's content
// region.
const RootRegion uint16 = 0

// SplitPath splits a path into the ordered directory names to descend
// through and the residual name following the final '/'. A path with no
// '/' has no directory names and the whole path is the residual — the
// root is its parent.
func SplitPath(path string) (dirNames []string, residual string) {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return nil, path
	}
	residual = path[idx+1:]
	if idx == 0 {
		return nil, residual
	}
	dirPart := path[:idx]
	dirNames = strings.Split(dirPart, "/")
	return dirNames, residual
}

func dirNameReader(cur *region.Cursor) func(uint16) ([]byte, error) {
	return func(metadataRegion uint16) ([]byte, error) {
		m, err := ReadDirMetadata(cur, metadataRegion)
		if err != nil {
			return nil, err
		}
		return m.Name, nil
	}
}

// Navigate walks path from the root directory and returns the region id of
// path's parent directory plus the residual name within it. It fails with
// ErrNotFound if any directory segment along the way does not resolve to
// an existing DIR entry; a segment that names a FILE is reported as
// ErrNotFound too, since only DIR entries are matched.
func Navigate(cur *region.Cursor, path string) (parentRegion uint16, residual string, err error) {
	dirNames, residual := SplitPath(path)
	current := RootRegion
	readName := dirNameReader(cur)
	for _, name := range dirNames {
		if name == "" {
			// An empty segment (e.g. a leading or doubled '/') can never
			// match a real directory name; treat it as not-found rather
			// than silently matching everything.
			return 0, "", ErrNotFound
		}
		entry, found, err := FindChildDir(cur, current, []byte(name), readName)
		if err != nil {
			return 0, "", err
		}
		if !found {
			return 0, "", ErrNotFound
		}
		current = entry.ContentRegion
	}
	return current, residual, nil
}

// AllocateFile allocates a fresh metadata region and content region for a
// new file named name, writes its initial (length=0) metadata record, and
// inserts a FILE entry into parentRegion. On any failure partway through it
// frees whatever it already allocated (the recommended
// allocation-failure unwind).
func AllocateFile(e *blockio.Engine, cur *region.Cursor, parentRegion uint16, name []byte) (contentRegion, metadataRegion uint16, slotPos int64, err error) {
	if len(name) > MaxNameLen {
		return 0, 0, 0, ErrNameTooLong
	}
	contentRegion, err = e.AllocateBlock(blockio.Invalid)
	if err != nil {
		return 0, 0, 0, err
	}
	metadataRegion, err = e.AllocateBlock(blockio.Invalid)
	if err != nil {
		_ = e.FreeRegion(contentRegion)
		return 0, 0, 0, err
	}
	if err = WriteFileMetadata(cur, metadataRegion, FileMetadata{Length: 0, Name: name}); err != nil {
		_ = e.FreeRegion(contentRegion)
		_ = e.FreeRegion(metadataRegion)
		return 0, 0, 0, err
	}
	slotPos, err = InsertEntry(cur, parentRegion, Entry{Kind: KindFile, MetadataRegion: metadataRegion, ContentRegion: contentRegion})
	if err != nil {
		_ = e.FreeRegion(contentRegion)
		_ = e.FreeRegion(metadataRegion)
		return 0, 0, 0, err
	}
	return contentRegion, metadataRegion, slotPos, nil
}

// AllocateDir allocates metadata+content regions for a new directory named
// name and inserts a DIR entry into parentRegion, with the same
// allocation-failure unwind as AllocateFile.
func AllocateDir(e *blockio.Engine, cur *region.Cursor, parentRegion uint16, name []byte) (contentRegion, metadataRegion uint16, err error) {
	if len(name) > MaxNameLen {
		return 0, 0, ErrNameTooLong
	}
	contentRegion, err = e.AllocateBlock(blockio.Invalid)
	if err != nil {
		return 0, 0, err
	}
	metadataRegion, err = e.AllocateBlock(blockio.Invalid)
	if err != nil {
		_ = e.FreeRegion(contentRegion)
		return 0, 0, err
	}
	if err = WriteDirMetadata(cur, metadataRegion, DirMetadata{Name: name}); err != nil {
		_ = e.FreeRegion(contentRegion)
		_ = e.FreeRegion(metadataRegion)
		return 0, 0, err
	}
	if _, err = InsertEntry(cur, parentRegion, Entry{Kind: KindDir, MetadataRegion: metadataRegion, ContentRegion: contentRegion}); err != nil {
		_ = e.FreeRegion(contentRegion)
		_ = e.FreeRegion(metadataRegion)
		return 0, 0, err
	}
	return contentRegion, metadataRegion, nil
}

// Unlink locates the FILE entry named name in parentRegion, tombstones its
// slot, and frees both of its regions.
func Unlink(e *blockio.Engine, cur *region.Cursor, parentRegion uint16, name []byte) error {
	entry, slot, found, err := FindNamedEntry(cur, parentRegion, KindFile, name, func(k EntryKind, r uint16) ([]byte, error) {
		return ReadName(cur, k, r)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if err := RemoveEntry(cur, parentRegion, slot); err != nil {
		return err
	}
	if err := e.FreeRegion(entry.MetadataRegion); err != nil {
		return err
	}
	return e.FreeRegion(entry.ContentRegion)
}

// Rmdir locates the DIR entry named name in parentRegion, verifies its
// content region is empty, then
// tombstones its slot and frees both of its regions.
func Rmdir(e *blockio.Engine, cur *region.Cursor, parentRegion uint16, name []byte) error {
	entry, slot, found, err := FindNamedEntry(cur, parentRegion, KindDir, name, func(k EntryKind, r uint16) ([]byte, error) {
		return ReadName(cur, k, r)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	empty, err := IsEmpty(cur, entry.ContentRegion)
	if err != nil {
		return err
	}
	if !empty {
		return ErrDirectoryNotEmpty
	}
	if err := RemoveEntry(cur, parentRegion, slot); err != nil {
		return err
	}
	if err := e.FreeRegion(entry.MetadataRegion); err != nil {
		return err
	}
	return e.FreeRegion(entry.ContentRegion)
}

// Lookup finds either a FILE or DIR entry named name directly inside
// parentRegion, without descending further. It is the shared primitive
// behind open()'s existence check.
func Lookup(cur *region.Cursor, parentRegion uint16, name []byte) (Entry, bool, error) {
	if fe, _, found, err := FindNamedEntry(cur, parentRegion, KindFile, name, func(k EntryKind, r uint16) ([]byte, error) {
		return ReadName(cur, k, r)
	}); err != nil {
		return Entry{}, false, err
	} else if found {
		return fe, true, nil
	}
	if de, _, found, err := FindNamedEntry(cur, parentRegion, KindDir, name, func(k EntryKind, r uint16) ([]byte, error) {
		return ReadName(cur, k, r)
	}); err != nil {
		return Entry{}, false, err
	} else if found {
		return de, true, nil
	}
	return Entry{}, false, nil
}
