package session_test

import (
	"io"
	"testing"

	"github.com/dargueta/flashfs"
	"github.com/dargueta/flashfs/engine"
	ft "github.com/dargueta/flashfs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyDirectoryEndsImmediately(t *testing.T) {
	s, driver, _ := ft.NewSession(t)
	dir, err := s.OpenDir("/")
	require.NoError(t, err)
	_, err = dir.Read()
	assert.Equal(t, io.EOF, err, "freshly formatted root isn't empty")
	require.NoError(t, dir.Close())

	require.NoError(t, s.Mkdir("/empty"))
	for _, path := range []string{"/empty", "/empty/."} {
		dir, err := s.OpenDir(path)
		require.NoError(t, err)

		entry, err := dir.Read()
		assert.Equal(t, io.EOF, err, "first read of %s", path)
		assert.Equal(t, flashfs.DirEntry{}, entry)
		require.NoError(t, dir.Close())
	}
	assert.Zero(t, driver.Ledger().Live(engine.KindInfo), "info records leaked")
}

func TestDirectoryIteration(t *testing.T) {
	s, _, _ := ft.NewSession(t)
	require.NoError(t, s.Mkdir("/d"))
	require.NoError(t, s.Mkdir("/d/sub"))
	ft.WriteFile(t, s, "/d/one", []byte("1"))
	ft.WriteFile(t, s, "/d/two", []byte("22"))

	dir, err := s.OpenDir("/d")
	require.NoError(t, err)
	defer dir.Close()

	var names []string
	sizes := map[string]int64{}
	for entry, err := range dir.All() {
		require.NoError(t, err)
		names = append(names, entry.Name())
		sizes[entry.Name()] = entry.Size()
	}
	assert.Equal(t, []string{"sub", "one", "two"}, names)
	assert.EqualValues(t, 2, sizes["two"])

	_, err = dir.Read()
	assert.Equal(t, io.EOF, err, "exhausted directory should stay at the end")

	require.NoError(t, dir.Rewind())
	entry, err := dir.Read()
	require.NoError(t, err)
	assert.True(t, entry.IsDir())
	assert.Equal(t, "sub", entry.Name())

	position, err := dir.Tell()
	require.NoError(t, err)
	entry, err = dir.Read()
	require.NoError(t, err)
	assert.Equal(t, "one", entry.Name())

	require.NoError(t, dir.Seek(position))
	entry, err = dir.Read()
	require.NoError(t, err)
	assert.Equal(t, "one", entry.Name(), "seek didn't return to the saved position")
}

func TestReadDirChunks(t *testing.T) {
	s, _, _ := ft.NewSession(t)
	for _, name := range []string{"/a", "/b", "/c"} {
		ft.WriteFile(t, s, name, nil)
	}

	dir, err := s.OpenDir("/")
	require.NoError(t, err)
	defer dir.Close()

	entries, err := dir.ReadDir(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = dir.ReadDir(2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c", entries[0].Name())

	entries, err = dir.ReadDir(2)
	assert.Equal(t, io.EOF, err)
	assert.Empty(t, entries)

	entries, err = dir.ReadDir(-1)
	assert.NoError(t, err, "reading everything at the end isn't an error")
	assert.Empty(t, entries)

	require.NoError(t, dir.Rewind())
	entries, err = dir.ReadDir(0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestAllStopsEarly(t *testing.T) {
	s, _, _ := ft.NewSession(t)
	for _, name := range []string{"/a", "/b", "/c"} {
		require.NoError(t, s.Mkdir(name))
	}

	dir, err := s.OpenDir("/")
	require.NoError(t, err)
	defer dir.Close()

	for entry := range dir.All() {
		assert.Equal(t, "a", entry.Name())
		break
	}

	entry, err := dir.Read()
	require.NoError(t, err)
	assert.Equal(t, "b", entry.Name())
}

func TestDirUseAfterClose(t *testing.T) {
	s, driver, _ := ft.NewSession(t)

	dir, err := s.OpenDir("/")
	require.NoError(t, err)
	require.NoError(t, dir.Close())
	assert.Zero(t, driver.Ledger().Live(engine.KindDir))

	_, err = dir.Read()
	assert.ErrorIs(t, err, flashfs.ErrInvalidFileDescriptor)
	assert.ErrorIs(t, dir.Rewind(), flashfs.ErrInvalidFileDescriptor)
	assert.ErrorIs(t, dir.Close(), flashfs.ErrInvalidFileDescriptor)
}
