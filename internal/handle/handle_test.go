package handle

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"blockvfs/internal/blockio"
	"blockvfs/internal/region"
)

func newTable(t *testing.T, blockSize, blockCount uint16) *Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backing.img")
	b, err := blockio.Create(path, blockSize, blockCount)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	e := blockio.New(b)
	return New(e, region.New(e))
}

func TestOpenCreateThenWriteReadRoundTrips(t *testing.T) {
	tb := newTable(t, 24, 16)

	fd := tb.Open("f.txt", Create)
	require.GreaterOrEqual(t, fd, 0)

	n := tb.Write(fd, []byte("hello world"), 11)
	require.Equal(t, 11, n)
	require.Equal(t, uint64(11), tb.Length(fd))

	tb.Seek(fd, 0, SeekSet)
	buf := make([]byte, 11)
	n = tb.Read(fd, buf, 11)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(buf))
}

func TestOpenWithoutCreateFailsWhenMissing(t *testing.T) {
	tb := newTable(t, 24, 16)
	require.Equal(t, -1, tb.Open("missing.txt", 0))
}

func TestOpenWithExclFailsWhenAlreadyExists(t *testing.T) {
	tb := newTable(t, 24, 16)
	fd := tb.Open("f.txt", Create)
	require.GreaterOrEqual(t, fd, 0)
	tb.Close(fd)

	require.Equal(t, -1, tb.Open("f.txt", Create|Excl))
}

func TestOpenWithTruncResetsLengthAndContent(t *testing.T) {
	tb := newTable(t, 24, 16)
	fd := tb.Open("f.txt", Create)
	tb.Write(fd, []byte("0123456789"), 10)
	tb.Close(fd)

	fd = tb.Open("f.txt", Trunc)
	require.GreaterOrEqual(t, fd, 0)
	require.Equal(t, uint64(0), tb.Length(fd))
	require.Equal(t, 0, tb.Read(fd, make([]byte, 10), 10), "no old content is readable after TRUNC")
}

func TestOpenWithAppendSeeksCursorToEnd(t *testing.T) {
	tb := newTable(t, 24, 16)
	fd := tb.Open("f.txt", Create)
	tb.Write(fd, []byte("abc"), 3)
	tb.Close(fd)

	fd = tb.Open("f.txt", Append)
	require.Equal(t, int64(3), tb.Cursor(fd))

	n := tb.Write(fd, []byte("def"), 3)
	require.Equal(t, 3, n)
	require.Equal(t, uint64(6), tb.Length(fd))
}

func TestSeekClampsToStoredLength(t *testing.T) {
	tb := newTable(t, 24, 16)
	fd := tb.Open("f.txt", Create)
	tb.Write(fd, []byte("abcde"), 5)

	got := tb.Seek(fd, 100, SeekSet)
	require.Equal(t, int64(5), got)

	got = tb.Seek(fd, -100, SeekSet)
	require.Equal(t, int64(0), got)
}

func TestLengthGrowsWithHighWaterMarkNotCursorPlusOne(t *testing.T) {
	tb := newTable(t, 24, 16)
	fd := tb.Open("f.txt", Create)
	tb.Write(fd, []byte("0123456789"), 10)
	tb.Seek(fd, 3, SeekSet)
	tb.Write(fd, []byte("X"), 1)

	require.Equal(t, uint64(10), tb.Length(fd), "overwriting inside the file must not shrink its length")
}

func TestMultiplexingTwoDescriptorsOverSharedCursor(t *testing.T) {
	tb := newTable(t, 24, 16)
	fdA := tb.Open("a.txt", Create)
	tb.Write(fdA, []byte("AAAA"), 4)

	fdB := tb.Open("b.txt", Create)
	tb.Write(fdB, []byte("BBBB"), 4)

	tb.Seek(fdA, 0, SeekSet)
	bufA := make([]byte, 4)
	n := tb.Read(fdA, bufA, 4)
	require.Equal(t, 4, n)
	require.Equal(t, "AAAA", string(bufA))

	tb.Seek(fdB, 0, SeekSet)
	bufB := make([]byte, 4)
	n = tb.Read(fdB, bufB, 4)
	require.Equal(t, 4, n)
	require.Equal(t, "BBBB", string(bufB))
}

func TestCloseThenOperateOnStaleFDIsNoOp(t *testing.T) {
	tb := newTable(t, 24, 16)
	fd := tb.Open("f.txt", Create)
	tb.Close(fd)

	require.Equal(t, 0, tb.Read(fd, make([]byte, 4), 4))
	require.Equal(t, 0, tb.Write(fd, []byte("x"), 1))
	require.Equal(t, int64(-1), tb.Seek(fd, 0, SeekSet))
}
