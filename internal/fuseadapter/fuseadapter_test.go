package fuseadapter

import (
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/require"

	"blockvfs"
)

func TestJoinPath(t *testing.T) {
	require.Equal(t, "a", joinPath("", "a"))
	require.Equal(t, "a/b", joinPath("a", "b"))
}

func TestInternInoMintsOnceAndReusesAfter(t *testing.T) {
	a := &adapter{
		nextInode: fuseops.RootInodeID + 1,
		paths:     map[fuseops.InodeID]string{fuseops.RootInodeID: ""},
		ids:       map[string]fuseops.InodeID{"": fuseops.RootInodeID},
	}

	first := a.internIno("docs")
	second := a.internIno("docs")
	require.Equal(t, first, second)
	require.NotEqual(t, fuseops.RootInodeID, first)

	other := a.internIno("docs/note.txt")
	require.NotEqual(t, first, other)
}

func TestAttrsForDistinguishesFilesAndDirectories(t *testing.T) {
	a := &adapter{uid: 1000, gid: 1000}

	fileAttrs := a.attrsFor(blockvfs.Info{IsDir: false, Length: 42})
	require.Equal(t, uint64(42), fileAttrs.Size)
	require.Equal(t, fileMode, fileAttrs.Mode)

	dirAttrs := a.attrsFor(blockvfs.Info{IsDir: true})
	require.Equal(t, dirMode, dirAttrs.Mode)
}
