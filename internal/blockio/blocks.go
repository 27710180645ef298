package blockio

import (
	"encoding/binary"
	"fmt"
)

// Header is a block's 5-byte on-disk header: in-use marker and doubly-linked
// chain neighbours. Invalid (0xFFFF) marks "no neighbour".
type Header struct {
	InUse bool
	Prev  uint16
	Next  uint16
}

func decodeHeader(raw []byte) Header {
	return Header{
		InUse: raw[0] != 0,
		Prev:  binary.LittleEndian.Uint16(raw[1:3]),
		Next:  binary.LittleEndian.Uint16(raw[3:5]),
	}
}

func encodeHeader(h Header) []byte {
	raw := make([]byte, blockHeaderSize)
	if h.InUse {
		raw[0] = 1
	}
	binary.LittleEndian.PutUint16(raw[1:3], h.Prev)
	binary.LittleEndian.PutUint16(raw[3:5], h.Next)
	return raw
}

// Engine is the block engine: it owns the backing file and a
// small in-memory cache describing the block the cursor is currently
// positioned in. Region cursors (package region) drive it through
// JumpToBlock/ReadPayload/WritePayload; nothing above this layer ever reads
// or writes a block header directly.
type Engine struct {
	backing *Backing

	currentIndex  uint16
	currentHeader Header
	posInBlock    int
}

// New wraps an already-open Backing in a block engine.
func New(b *Backing) *Engine {
	return &Engine{backing: b}
}

func (e *Engine) BlockSize() uint16  { return e.backing.BlockSize() }
func (e *Engine) BlockCount() uint16 { return e.backing.BlockCount() }
func (e *Engine) Close() error       { return e.backing.Close() }

// CurrentIndex, CurrentHeader and PositionInBlock expose the engine's
// current-block cache for the region cursor above it to read.
func (e *Engine) CurrentIndex() uint16     { return e.currentIndex }
func (e *Engine) CurrentHeader() Header    { return e.currentHeader }
func (e *Engine) PositionInBlock() int     { return e.posInBlock }
func (e *Engine) SetPositionInBlock(p int) { e.posInBlock = p }

// JumpToBlock absolute-seeks to block i's payload (skipping its header,
// which is read into the current-block cache) and resets the in-block
// position to 0.
func (e *Engine) JumpToBlock(i uint16) error {
	raw := make([]byte, blockHeaderSize)
	if _, err := e.backing.readAt(raw, e.backing.blockOffset(i)); err != nil {
		return fmt.Errorf("blockio: jump to block %d: %w", i, err)
	}
	e.currentIndex = i
	e.currentHeader = decodeHeader(raw)
	e.posInBlock = 0
	return nil
}

// payloadOffset returns the absolute file offset of the current block's
// payload at posInBlock.
func (e *Engine) payloadOffset() int64 {
	return e.backing.blockOffset(e.currentIndex) + blockHeaderSize + int64(e.posInBlock)
}

// ReadPayload copies into buf up to len(buf) bytes from the current block,
// starting at the current in-block position, without crossing into the next
// block. It returns the number of bytes actually copied, which is less than
// len(buf) when the block's remaining payload is smaller. It advances the
// in-block position by the amount read.
func (e *Engine) ReadPayload(buf []byte) (int, error) {
	remaining := int(e.BlockSize()) - e.posInBlock
	n := len(buf)
	if n > remaining {
		n = remaining
	}
	if n <= 0 {
		return 0, nil
	}
	if _, err := e.backing.readAt(buf[:n], e.payloadOffset()); err != nil {
		return 0, fmt.Errorf("blockio: read payload: %w", err)
	}
	e.posInBlock += n
	return n, nil
}

// WritePayload writes up to len(buf) bytes into the current block starting
// at the current in-block position, without crossing into the next block.
// It returns the number of bytes actually written and advances the in-block
// position.
func (e *Engine) WritePayload(buf []byte) (int, error) {
	remaining := int(e.BlockSize()) - e.posInBlock
	n := len(buf)
	if n > remaining {
		n = remaining
	}
	if n <= 0 {
		return 0, nil
	}
	if _, err := e.backing.writeAt(buf[:n], e.payloadOffset()); err != nil {
		return 0, fmt.Errorf("blockio: write payload: %w", err)
	}
	e.posInBlock += n
	return n, nil
}

// rewriteHeader overwrites block i's on-disk header in place, via a direct
// positioned write to the block's known header offset.
func (e *Engine) rewriteHeader(i uint16, h Header) error {
	raw := encodeHeader(h)
	if _, err := e.backing.writeAt(raw, e.backing.blockOffset(i)); err != nil {
		return fmt.Errorf("blockio: rewrite header %d: %w", i, err)
	}
	if i == e.currentIndex {
		e.currentHeader = h
	}
	return nil
}

// SetNext patches the current block's next link (used by the region cursor
// when it extends a chain on write overflow) and keeps the current-block
// cache consistent.
func (e *Engine) SetNext(next uint16) error {
	h := e.currentHeader
	h.Next = next
	return e.rewriteHeader(e.currentIndex, h)
}

// AllocateBlock scans blocks 0..count-1 for the first free block (in_use=0),
// marks it in-use with the given prev and no next, zero-fills its payload (so
// a fresh directory region reads as NULL entries), and returns its index.
// This is an unoptimized O(n) first-fit allocator; a free-list cache would
// speed it up but would also obscure the deterministic reuse order callers
// rely on to observe freed blocks getting recycled.
func (e *Engine) AllocateBlock(prev uint16) (uint16, error) {
	for i := uint16(0); i < e.BlockCount(); i++ {
		raw := make([]byte, blockHeaderSize)
		if _, err := e.backing.readAt(raw, e.backing.blockOffset(i)); err != nil {
			return 0, fmt.Errorf("blockio: scan block %d: %w", i, err)
		}
		if decodeHeader(raw).InUse {
			continue
		}
		h := Header{InUse: true, Prev: prev, Next: Invalid}
		if err := e.rewriteHeader(i, h); err != nil {
			return 0, err
		}
		zero := make([]byte, e.BlockSize())
		if _, err := e.backing.writeAt(zero, e.backing.blockOffset(i)+blockHeaderSize); err != nil {
			return 0, fmt.Errorf("blockio: zero block %d: %w", i, err)
		}
		return i, nil
	}
	return 0, ErrStorageExhausted
}

// FreeRegion walks the chain starting at head via next links and rewrites
// every block's header back to the free state (in_use=0, prev=next=Invalid).
// Payload bytes are left untouched: deleted data remains readable at the
// byte level until a later allocation overwrites it.
func (e *Engine) FreeRegion(head uint16) error {
	cur := head
	seen := make(map[uint16]bool)
	for cur != Invalid {
		if seen[cur] {
			return fmt.Errorf("blockio: cycle detected freeing region at block %d", cur)
		}
		seen[cur] = true

		raw := make([]byte, blockHeaderSize)
		if _, err := e.backing.readAt(raw, e.backing.blockOffset(cur)); err != nil {
			return fmt.Errorf("blockio: read block %d during free: %w", cur, err)
		}
		h := decodeHeader(raw)
		next := h.Next

		if err := e.rewriteHeader(cur, Header{InUse: false, Prev: Invalid, Next: Invalid}); err != nil {
			return err
		}
		cur = next
	}
	return nil
}

// ErrStorageExhausted is returned by AllocateBlock when every block is
// in-use.
var ErrStorageExhausted = fmt.Errorf("blockio: no free block")

// PeekHeader reads block i's header directly, without disturbing the
// engine's current-block cache. It exists for diagnostics (the
// testable invariants over in-use/free block counts) rather than for
// anything on the read/write hot path.
func (e *Engine) PeekHeader(i uint16) (Header, error) {
	raw := make([]byte, blockHeaderSize)
	if _, err := e.backing.readAt(raw, e.backing.blockOffset(i)); err != nil {
		return Header{}, fmt.Errorf("blockio: peek block %d: %w", i, err)
	}
	return decodeHeader(raw), nil
}
