// Package region implements the region cursor: it presents a
// block chain managed by package blockio as one contiguous, seekable byte
// stream, transparently spanning blocks on read/write and extending the
// chain on write overflow.
//
// Exactly one region is "active" through a given Cursor at a time; it is a
// single shared resource, and callers that multiplex several logical files
// over it are responsible for re-seating it via JumpToRegion before every
// operation that might have moved it elsewhere.
package region

import (
	"blockvfs/internal/blockio"
)

// Cursor is the region cursor. It owns no state of its own beyond the
// region-relative byte position; the current-block cache lives in the
// underlying blockio.Engine.
type Cursor struct {
	engine           *blockio.Engine
	positionInRegion int64
}

// New wraps a block engine in a region cursor.
func New(e *blockio.Engine) *Cursor {
	return &Cursor{engine: e}
}

// PositionInRegion returns the cursor's current offset within the active
// region.
func (c *Cursor) PositionInRegion() int64 { return c.positionInRegion }

// JumpToRegion re-seats the cursor at the head block of the region
// identified by id, with position 0.
func (c *Cursor) JumpToRegion(id uint16) error {
	if err := c.engine.JumpToBlock(id); err != nil {
		return err
	}
	c.positionInRegion = 0
	return nil
}

// Read copies up to len(buf) bytes from the region into buf, spanning
// blocks as needed. If the chain's tail is reached before buf is filled, it
// returns the count actually read (a short read) rather than an error.
func (c *Cursor) Read(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.engine.ReadPayload(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
		c.positionInRegion += int64(n)
		if total == len(buf) {
			break
		}
		next := c.engine.CurrentHeader().Next
		if next == blockio.Invalid {
			break // short read: chain tail reached mid-request.
		}
		if err := c.engine.JumpToBlock(next); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Write copies up to len(buf) bytes into the region, spanning blocks as
// needed and extending the chain when the tail is reached mid-request. If
// block allocation fails (storage exhausted), it returns the count actually
// written (a short write) rather than an error.
func (c *Cursor) Write(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.engine.WritePayload(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
		c.positionInRegion += int64(n)
		if total == len(buf) {
			break
		}

		next := c.engine.CurrentHeader().Next
		if next == blockio.Invalid {
			newBlock, err := c.engine.AllocateBlock(c.engine.CurrentIndex())
			if err != nil {
				// Storage exhausted: short write, not an error.
				return total, nil
			}
			if err := c.engine.SetNext(newBlock); err != nil {
				return total, err
			}
			next = newBlock
		}
		if err := c.engine.JumpToBlock(next); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Seek moves the cursor by a relative (signed) offset within the chain:
// positive offsets walk forward via next links, negative offsets walk
// backward via prev links landing on the last byte of each block crossed.
// It clamps at the chain boundary it reaches rather than erroring, leaving
// the legality of the resulting position to the file layer above.
func (c *Cursor) Seek(relative int64) error {
	switch {
	case relative > 0:
		remaining := relative
		for remaining > 0 {
			space := int64(c.engine.BlockSize()) - int64(c.engine.PositionInBlock())
			if remaining < space {
				c.engine.SetPositionInBlock(c.engine.PositionInBlock() + int(remaining))
				remaining = 0
				break
			}
			remaining -= space
			next := c.engine.CurrentHeader().Next
			if next == blockio.Invalid {
				c.engine.SetPositionInBlock(int(c.engine.BlockSize()))
				relative -= remaining
				break
			}
			if err := c.engine.JumpToBlock(next); err != nil {
				return err
			}
		}
	case relative < 0:
		remaining := -relative
		for remaining > 0 {
			pos := int64(c.engine.PositionInBlock())
			if remaining <= pos {
				c.engine.SetPositionInBlock(int(pos - remaining))
				remaining = 0
				break
			}
			remaining -= pos + 1
			prev := c.engine.CurrentHeader().Prev
			if prev == blockio.Invalid {
				c.engine.SetPositionInBlock(0)
				relative += remaining + 1
				break
			}
			if err := c.engine.JumpToBlock(prev); err != nil {
				return err
			}
			c.engine.SetPositionInBlock(int(c.engine.BlockSize()) - 1)
		}
	}
	c.positionInRegion += relative
	return nil
}
