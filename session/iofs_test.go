package session_test

import (
	"io/fs"
	"testing"
	"testing/fstest"

	ft "github.com/dargueta/flashfs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSConformance(t *testing.T) {
	s, _, _ := ft.NewSession(t)
	require.NoError(t, s.Mkdir("/config"))
	require.NoError(t, s.Mkdir("/config/empty"))
	ft.WriteFile(t, s, "/README", []byte("read me\n"))
	ft.WriteFile(t, s, "/config/net.yaml", []byte("ssid: home\npsk: hunter2\n"))
	ft.WriteFile(t, s, "/config/big.bin", make([]byte, 3*ft.BlockSize+17))

	err := fstest.TestFS(s.FS(), "README", "config/net.yaml", "config/big.bin", "config/empty")
	require.NoError(t, err)
	assert.Zero(t, s.OpenHandles(), "io/fs adapter left handles open")
}

func TestFSWalkAndRead(t *testing.T) {
	s, _, _ := ft.NewSession(t)
	require.NoError(t, s.Mkdir("/a"))
	require.NoError(t, s.Mkdir("/a/b"))
	ft.WriteFile(t, s, "/a/b/c.txt", []byte("deep"))

	fsys := s.FS()
	var walked []string
	err := fs.WalkDir(fsys, ".", func(path string, _ fs.DirEntry, err error) error {
		walked = append(walked, path)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".", "a", "a/b", "a/b/c.txt"}, walked)

	data, err := fs.ReadFile(fsys, "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("deep"), data)

	info, err := fs.Stat(fsys, "a/b")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "b", info.Name())
}

func TestFSErrors(t *testing.T) {
	s, _, _ := ft.NewSession(t)
	fsys := s.FS()

	_, err := fsys.Open("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = fsys.Open("/absolute")
	assert.ErrorIs(t, err, fs.ErrInvalid)

	_, err = fs.ReadDir(fsys, "missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	var pathErr *fs.PathError
	_, err = fsys.Stat("nope")
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "stat", pathErr.Op)
	assert.Equal(t, "nope", pathErr.Path)
}
