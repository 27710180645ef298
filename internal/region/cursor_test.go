package region

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"blockvfs/internal/blockio"
)

func newCursor(t *testing.T, blockSize, blockCount uint16) (*Cursor, *blockio.Engine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backing.img")
	b, err := blockio.Create(path, blockSize, blockCount)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	e := blockio.New(b)
	return New(e), e
}

func TestWriteSpansMultipleBlocksByExtendingTheChain(t *testing.T) {
	c, e := newCursor(t, 4, 8)
	require.NoError(t, c.JumpToRegion(0))

	payload := []byte("0123456789")
	n, err := c.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	require.NoError(t, c.JumpToRegion(0))
	out := make([]byte, len(payload))
	n, err = c.Read(out)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, out)
	_ = e
}

func TestWriteStopsShortWhenStorageExhausted(t *testing.T) {
	c, _ := newCursor(t, 4, 2) // one block (0) plus one free block to extend into.
	require.NoError(t, c.JumpToRegion(0))

	n, err := c.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.Equal(t, 8, n, "two four-byte blocks, then storage is exhausted")
}

func TestReadReturnsShortReadAtChainTail(t *testing.T) {
	c, _ := newCursor(t, 4, 8)
	require.NoError(t, c.JumpToRegion(0))
	_, err := c.Write([]byte("ab"))
	require.NoError(t, err)

	require.NoError(t, c.JumpToRegion(0))
	buf := make([]byte, 10)
	n, err := c.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 4, n, "regions store no length: the read stops at the end of the one four-byte block")
}

func TestSeekForwardAndBackwardCrossesBlockBoundaries(t *testing.T) {
	c, _ := newCursor(t, 4, 8)
	require.NoError(t, c.JumpToRegion(0))
	_, err := c.Write([]byte("01234567"))
	require.NoError(t, err)

	require.NoError(t, c.JumpToRegion(0))
	require.NoError(t, c.Seek(5))
	require.Equal(t, int64(5), c.PositionInRegion())

	buf := make([]byte, 3)
	n, err := c.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte("567"), buf)

	require.NoError(t, c.Seek(-3))
	buf = make([]byte, 3)
	n, err = c.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte("567"), buf)
}
