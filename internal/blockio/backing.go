// Package blockio implements the backing-file driver and block engine: the
// two lowest layers of the virtual filesystem. It owns the single host file
// that holds the entire namespace, and presents it as a fixed-size array of
// doubly-linked blocks.
package blockio

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Invalid is the "no such block" sentinel used for prev/next links.
const Invalid uint16 = 0xFFFF

// headerSize is the size in bytes of the backing-file header
// (block_size u16 LE, block_count u16 LE).
const headerSize = 4

// blockHeaderSize is the size in bytes of a single block's header
// (in_use u8, prev u16 LE, next u16 LE).
const blockHeaderSize = 5

// LengthFieldSize is the width of the file-length field stored in a
// file's metadata region. Fixed at u64 LE rather than a host-native word
// width, so a backing file written on one platform reads correctly on
// another.
const LengthFieldSize = 8

// Backing is the raw, positioned-I/O view of the single host file that
// holds the whole virtual filesystem. It knows nothing about chains,
// regions, or directories — only about where block N's header and payload
// live in the file.
type Backing struct {
	f          *os.File
	blockSize  uint16
	blockCount uint16
}

// recordSize is the on-disk size of one block (header + payload).
func (b *Backing) recordSize() int64 {
	return int64(blockHeaderSize) + int64(b.blockSize)
}

// blockOffset returns the absolute file offset of block i's header.
func (b *Backing) blockOffset(i uint16) int64 {
	return headerSize + int64(i)*b.recordSize()
}

// BlockSize returns the payload size of every block, in bytes.
func (b *Backing) BlockSize() uint16 { return b.blockSize }

// BlockCount returns the total number of blocks in the backing file.
func (b *Backing) BlockCount() uint16 { return b.blockCount }

// Open opens an existing backing file at path, reading block_size and
// block_count from its header.
func Open(path string) (*Backing, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	hdr := make([]byte, headerSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockio: read header: %w", err)
	}
	b := &Backing{
		f:          f,
		blockSize:  binary.LittleEndian.Uint16(hdr[0:2]),
		blockCount: binary.LittleEndian.Uint16(hdr[2:4]),
	}
	return b, nil
}

// Create creates a fresh backing file at path with the given block size and
// count. Block 0 is initialized in-use with no neighbours (it becomes the
// root directory's content region); every other block is initialized free
// with a zero-filled payload.
func Create(path string, blockSize, blockCount uint16) (*Backing, error) {
	if blockCount == 0 {
		return nil, fmt.Errorf("blockio: block_count must be > 0")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(hdr[0:2], blockSize)
	binary.LittleEndian.PutUint16(hdr[2:4], blockCount)
	if _, err := f.WriteAt(hdr, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockio: write header: %w", err)
	}

	b := &Backing{f: f, blockSize: blockSize, blockCount: blockCount}

	zeroRecord := make([]byte, b.recordSize())
	for i := uint16(0); i < blockCount; i++ {
		rec := zeroRecord
		if i == 0 {
			rec = make([]byte, b.recordSize())
			rec[0] = 1 // in_use
			binary.LittleEndian.PutUint16(rec[1:3], Invalid)
			binary.LittleEndian.PutUint16(rec[3:5], Invalid)
		}
		if _, err := f.WriteAt(rec, b.blockOffset(i)); err != nil {
			f.Close()
			return nil, fmt.Errorf("blockio: init block %d: %w", i, err)
		}
	}
	return b, nil
}

// Close releases the backing file handle.
func (b *Backing) Close() error {
	return b.f.Close()
}

// readAt and writeAt are thin wrappers over the backing os.File. A valid
// backing file is a precondition; structural corruption of the host file
// itself is out of scope.
func (b *Backing) readAt(p []byte, off int64) (int, error) {
	return b.f.ReadAt(p, off)
}

func (b *Backing) writeAt(p []byte, off int64) (int, error) {
	return b.f.WriteAt(p, off)
}
