package blockio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newBacking(t *testing.T, blockSize, blockCount uint16) *Backing {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backing.img")
	b, err := Create(path, blockSize, blockCount)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestCreateInitializesBlockZeroInUse(t *testing.T) {
	e := New(newBacking(t, 16, 8))

	h, err := e.PeekHeader(0)
	require.NoError(t, err)
	require.True(t, h.InUse)
	require.Equal(t, Invalid, h.Prev)
	require.Equal(t, Invalid, h.Next)
}

func TestCreateInitializesRemainingBlocksFree(t *testing.T) {
	e := New(newBacking(t, 16, 8))

	for i := uint16(1); i < 8; i++ {
		h, err := e.PeekHeader(i)
		require.NoError(t, err)
		require.Falsef(t, h.InUse, "block %d should start free", i)
	}
}

func TestOpenRecoversBlockSizeAndCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backing.img")
	created, err := Create(path, 32, 4)
	require.NoError(t, err)
	require.NoError(t, created.Close())

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	require.Equal(t, uint16(32), b.BlockSize())
	require.Equal(t, uint16(4), b.BlockCount())
}

func TestAllocateBlockPicksFirstFreeBlock(t *testing.T) {
	e := New(newBacking(t, 16, 4))

	i, err := e.AllocateBlock(Invalid)
	require.NoError(t, err)
	require.Equal(t, uint16(1), i)

	h, err := e.PeekHeader(1)
	require.NoError(t, err)
	require.True(t, h.InUse)
}

func TestAllocateBlockExhaustion(t *testing.T) {
	e := New(newBacking(t, 16, 2))

	_, err := e.AllocateBlock(Invalid) // takes block 1, the only free one.
	require.NoError(t, err)

	_, err = e.AllocateBlock(Invalid)
	require.ErrorIs(t, err, ErrStorageExhausted)
}

func TestFreeRegionWalksChainAndMarksBlocksFree(t *testing.T) {
	e := New(newBacking(t, 16, 4))

	a, err := e.AllocateBlock(Invalid)
	require.NoError(t, err)
	b, err := e.AllocateBlock(a)
	require.NoError(t, err)
	require.NoError(t, e.JumpToBlock(a))
	require.NoError(t, e.SetNext(b))

	require.NoError(t, e.FreeRegion(a))

	ha, err := e.PeekHeader(a)
	require.NoError(t, err)
	require.False(t, ha.InUse)
	hb, err := e.PeekHeader(b)
	require.NoError(t, err)
	require.False(t, hb.InUse)
}

func TestFreeRegionDetectsCycle(t *testing.T) {
	e := New(newBacking(t, 16, 4))

	a, err := e.AllocateBlock(Invalid)
	require.NoError(t, err)
	require.NoError(t, e.JumpToBlock(a))
	require.NoError(t, e.SetNext(a)) // a chain pointing at itself.

	err = e.FreeRegion(a)
	require.Error(t, err)
}

func TestReadWritePayloadStaysWithinOneBlock(t *testing.T) {
	e := New(newBacking(t, 4, 2))
	require.NoError(t, e.JumpToBlock(0))

	n, err := e.WritePayload([]byte("abcdef"))
	require.NoError(t, err)
	require.Equal(t, 4, n, "write should clamp to the block's payload size")

	require.NoError(t, e.JumpToBlock(0))
	buf := make([]byte, 6)
	n, err = e.ReadPayload(buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("abcd"), buf[:4])
}
