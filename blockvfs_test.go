package blockvfs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFS(t *testing.T, blockSize, blockCount uint16) *FS {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vfs.img")
	fs, err := Create(path, blockSize, blockCount)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func TestMkdirAndReaddir(t *testing.T) {
	fs := newFS(t, 24, 64)

	require.Equal(t, 0, fs.Mkdir("docs"))
	require.Equal(t, 0, fs.Mkdir("docs/notes"))

	entries, err := fs.Readdir("docs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "notes", entries[0].Name)
	require.True(t, entries[0].IsDir)
}

func TestMkdirFailsOnNameCollision(t *testing.T) {
	fs := newFS(t, 24, 64)
	require.Equal(t, 0, fs.Mkdir("docs"))
	require.Equal(t, -1, fs.Mkdir("docs"))
}

func TestMkdirAndRmdirAcceptATrailingSlash(t *testing.T) {
	fs := newFS(t, 24, 64)

	require.Equal(t, 0, fs.Mkdir("Documents/"))
	info, err := fs.Stat("Documents")
	require.NoError(t, err)
	require.True(t, info.IsDir)

	require.Equal(t, 0, fs.Rmdir("Documents/"))
	_, err = fs.Stat("Documents")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEndToEndScenarioOneDocumentsDirectoryWithFile(t *testing.T) {
	fs := newFS(t, 24, 64)

	require.Equal(t, 0, fs.Mkdir("Documents/"))
	fd := fs.OpenFile("Documents/a.txt", Create)
	require.GreaterOrEqual(t, fd, 0)
	require.Equal(t, 5, fs.Write(fd, []byte("hello"), 5))
	fs.CloseFile(fd)

	fd = fs.OpenFile("Documents/a.txt", 0)
	require.GreaterOrEqual(t, fd, 0)
	buf := make([]byte, 5)
	n := fs.Read(fd, buf, 5)
	require.Equal(t, "hello", string(buf[:n]))
	fs.CloseFile(fd)
}

func TestEndToEndScenarioTwoUnlinkThenRmdirRestoresBlockCount(t *testing.T) {
	fs := newFS(t, 10, 128)

	before, err := fs.DebugBlocks()
	require.NoError(t, err)
	inUseBefore := 0
	for _, b := range before {
		if b.InUse {
			inUseBefore++
		}
	}
	require.Equal(t, 1, inUseBefore, "only block 0, the root directory, starts in use")

	require.Equal(t, 0, fs.Mkdir("D/"))
	fd := fs.OpenFile("D/x", Create)
	require.GreaterOrEqual(t, fd, 0)
	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = 'x'
	}
	fs.Write(fd, payload, len(payload))
	fs.CloseFile(fd)

	require.Equal(t, 0, fs.Unlink("D/x"))
	require.Equal(t, 0, fs.Rmdir("D/"))

	after, err := fs.DebugBlocks()
	require.NoError(t, err)
	inUseAfter := 0
	for _, b := range after {
		if b.InUse {
			inUseAfter++
		}
	}
	require.Equal(t, inUseBefore, inUseAfter)
}

func TestEndToEndScenarioThreeRmdirFailsOnNonEmptyDirectory(t *testing.T) {
	fs := newFS(t, 24, 64)

	require.Equal(t, 0, fs.Mkdir("A/"))
	fd := fs.OpenFile("A/f", Create)
	require.GreaterOrEqual(t, fd, 0)
	fs.CloseFile(fd)

	require.Equal(t, -1, fs.Rmdir("A/"))
}

func TestFileLifecycleCreateWriteReadUnlink(t *testing.T) {
	fs := newFS(t, 24, 64)

	fd := fs.OpenFile("greeting.txt", Create)
	require.GreaterOrEqual(t, fd, 0)
	require.Equal(t, 13, fs.Write(fd, []byte("hello, world!"), 13))
	fs.CloseFile(fd)

	fd = fs.OpenFile("greeting.txt", 0)
	require.GreaterOrEqual(t, fd, 0)
	buf := make([]byte, 32)
	n := fs.Read(fd, buf, len(buf))
	require.Equal(t, "hello, world!", string(buf[:n]))
	fs.CloseFile(fd)

	require.Equal(t, 0, fs.Unlink("greeting.txt"))
	_, err := fs.Stat("greeting.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRmdirFailsWhenNotEmpty(t *testing.T) {
	fs := newFS(t, 24, 64)
	require.Equal(t, 0, fs.Mkdir("docs"))
	fd := fs.OpenFile("docs/a.txt", Create)
	require.GreaterOrEqual(t, fd, 0)
	fs.CloseFile(fd)

	require.Equal(t, -1, fs.Rmdir("docs"))
}

func TestStatReportsFileLengthAndKind(t *testing.T) {
	fs := newFS(t, 24, 64)
	fd := fs.OpenFile("f.txt", Create)
	fs.Write(fd, []byte("0123456789"), 10)
	fs.CloseFile(fd)

	info, err := fs.Stat("f.txt")
	require.NoError(t, err)
	require.False(t, info.IsDir)
	require.Equal(t, uint64(10), info.Length)

	require.Equal(t, 0, fs.Mkdir("d"))
	info, err = fs.Stat("d")
	require.NoError(t, err)
	require.True(t, info.IsDir)
}

func TestSeekAndAppendAcrossReopen(t *testing.T) {
	fs := newFS(t, 8, 64) // small blocks, forces the write to span a chain.
	fd := fs.OpenFile("f.txt", Create)
	fs.Write(fd, []byte("0123456789"), 10)
	fs.CloseFile(fd)

	fd = fs.OpenFile("f.txt", Append)
	fs.Write(fd, []byte("ABCDE"), 5)
	fs.CloseFile(fd)

	fd = fs.OpenFile("f.txt", 0)
	buf := make([]byte, 32)
	n := fs.Read(fd, buf, len(buf))
	require.Equal(t, "0123456789ABCDE", string(buf[:n]))
	fs.CloseFile(fd)
}

func TestNestedDirectoriesNavigateCorrectly(t *testing.T) {
	fs := newFS(t, 24, 64)
	require.Equal(t, 0, fs.Mkdir("a"))
	require.Equal(t, 0, fs.Mkdir("a/b"))
	require.Equal(t, 0, fs.Mkdir("a/b/c"))

	fd := fs.OpenFile("a/b/c/leaf.txt", Create)
	require.GreaterOrEqual(t, fd, 0)
	fs.Write(fd, []byte("deep"), 4)
	fs.CloseFile(fd)

	fd = fs.OpenFile("a/b/c/leaf.txt", 0)
	buf := make([]byte, 4)
	n := fs.Read(fd, buf, 4)
	require.Equal(t, "deep", string(buf[:n]))
}

func TestDebugBlocksReflectsAllocationCount(t *testing.T) {
	fs := newFS(t, 24, 8)

	before, err := fs.DebugBlocks()
	require.NoError(t, err)
	freeBefore := 0
	for _, b := range before {
		if !b.InUse {
			freeBefore++
		}
	}

	fd := fs.OpenFile("f.txt", Create)
	fs.CloseFile(fd)

	after, err := fs.DebugBlocks()
	require.NoError(t, err)
	freeAfter := 0
	for _, b := range after {
		if !b.InUse {
			freeAfter++
		}
	}
	require.Equal(t, freeBefore-2, freeAfter, "creating a file allocates one content block and one metadata block")
}

func TestOpenRecoversExistingNamespaceAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vfs.img")
	fs, err := Create(path, 24, 64)
	require.NoError(t, err)
	require.Equal(t, 0, fs.Mkdir("docs"))
	fd := fs.OpenFile("docs/note.txt", Create)
	fs.Write(fd, []byte("saved"), 5)
	fs.CloseFile(fd)
	require.NoError(t, fs.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	fd = reopened.OpenFile("docs/note.txt", 0)
	require.GreaterOrEqual(t, fd, 0)
	buf := make([]byte, 5)
	n := reopened.Read(fd, buf, 5)
	require.Equal(t, "saved", string(buf[:n]))
}
