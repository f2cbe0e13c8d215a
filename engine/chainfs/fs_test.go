package chainfs

import (
	"bytes"
	"testing"

	"github.com/dargueta/flashfs"
	"github.com/dargueta/flashfs/blockdevice"
	"github.com/dargueta/flashfs/engine"
	"github.com/dargueta/flashfs/errors"
	"github.com/dargueta/flashfs/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 64 blocks of 512 bytes: the superblock, one table block, the root directory,
// and 61 free blocks.
const (
	testBlockSize  = 512
	testBlockCount = 64
	testFreeBlocks = testBlockCount - 3
)

func newTestConfig(device blockdevice.Device) *engine.Config {
	return engine.NewConfig(
		device, geometry.Negotiate(device.Info(), geometry.Hints{}))
}

func newMountedEngine(t *testing.T, options ...Option) (*Engine, *blockdevice.Memory) {
	device := blockdevice.NewMemory(16, 16, testBlockSize, testBlockSize*testBlockCount)
	driver := New(options...)
	e := driver.NewEngine(newTestConfig(device)).(*Engine)

	require.EqualValues(t, engine.OK, e.Format(), "format failed")
	require.EqualValues(t, engine.OK, e.Mount(), "mount failed")
	return e, device
}

func unmountAndRelease(t *testing.T, e *Engine) {
	assert.EqualValues(t, engine.OK, e.Unmount(), "unmount failed")
	e.Release()
	assert.Zero(t, e.driver.Ledger().LiveTotal(), "leaked native objects")
}

func openFile(t *testing.T, e *Engine, path string, flags flashfs.OpenFlag) *File {
	file := e.NewFile().(*File)
	status := file.Open(path, flags)
	require.EqualValuesf(t, engine.OK, status, "failed to open %q", path)
	return file
}

func closeFile(t *testing.T, file *File) {
	assert.EqualValues(t, engine.OK, file.Close(), "close failed")
	file.Release()
}

func writeFile(t *testing.T, e *Engine, path string, data []byte) {
	file := openFile(t, e, path, flashfs.O_WRONLY|flashfs.O_CREAT|flashfs.O_TRUNC)
	require.EqualValues(t, len(data), file.Write(data))
	closeFile(t, file)
}

func readFile(t *testing.T, e *Engine, path string) []byte {
	file := openFile(t, e, path, flashfs.O_RDONLY)
	defer closeFile(t, file)

	data := make([]byte, file.Size())
	require.EqualValues(t, len(data), file.Read(data))
	return data
}

func listDir(t *testing.T, e *Engine, path string) []string {
	dir := e.NewDir()
	defer dir.Release()
	require.EqualValues(t, engine.OK, dir.Open(path))
	defer dir.Close()

	var info engine.Info
	var names []string
	for {
		status := dir.Read(&info)
		require.GreaterOrEqual(t, int(status), 0, "directory read failed")
		if status == 0 {
			return names
		}
		names = append(names, info.Name())
	}
}

func countBlocks(t *testing.T, e *Engine) int {
	total := 0
	status := e.Traverse(func(uint32) engine.Status {
		total++
		return engine.OK
	})
	require.EqualValues(t, engine.OK, status, "traversal failed")
	return total
}

func TestFormatMount(t *testing.T) {
	e, device := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	assert.Equal(t, 3, countBlocks(t, e))
	assert.Empty(t, listDir(t, e, "/"))
	assert.True(t, device.Materialized(0), "superblock wasn't written")
}

func TestMountUnformatted(t *testing.T) {
	device := blockdevice.NewMemory(16, 16, testBlockSize, testBlockSize*testBlockCount)
	driver := New()
	e := driver.NewEngine(newTestConfig(device))
	defer e.Release()

	assert.EqualValues(t, errors.ECORRUPT, e.Mount())
}

func TestMountGeometryMismatch(t *testing.T) {
	device := blockdevice.NewMemory(16, 16, testBlockSize, testBlockSize*testBlockCount)
	driver := New()

	e := driver.NewEngine(newTestConfig(device))
	require.EqualValues(t, engine.OK, e.Format())
	e.Release()

	cfg := newTestConfig(device)
	cfg.BlockCount = testBlockCount / 2
	e = driver.NewEngine(cfg)
	defer e.Release()
	assert.EqualValues(t, errors.ECORRUPT, e.Mount())
}

func TestFormatRejectsBadGeometry(t *testing.T) {
	device := blockdevice.NewMemory(0, 0, 0, 0)
	driver := New()
	e := driver.NewEngine(newTestConfig(device))
	defer e.Release()

	assert.EqualValues(t, errors.EINVAL, e.Format(), "zero block count accepted")
}

func TestFormatWhileMounted(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	assert.EqualValues(t, errors.EBUSY, e.Format())
}

func TestMountTwice(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	assert.EqualValues(t, errors.EINVAL, e.Mount())
}

func TestWriteReadRoundTrip(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	data := bytes.Repeat([]byte("0123456789abcdef"), 100)
	file := openFile(t, e, "/data.bin", flashfs.O_RDWR|flashfs.O_CREAT)
	require.EqualValues(t, len(data), file.Write(data))
	assert.EqualValues(t, len(data), file.Tell())
	assert.EqualValues(t, len(data), file.Size())

	require.EqualValues(t, 0, file.Seek(0, flashfs.SeekSet))
	readBack := make([]byte, len(data)+10)
	require.EqualValues(t, len(data), file.Read(readBack))
	assert.Equal(t, data, readBack[:len(data)])
	assert.EqualValues(t, 0, file.Read(readBack), "read past end should return 0")
	closeFile(t, file)

	// 1600 bytes needs four blocks.
	assert.Equal(t, 3+4, countBlocks(t, e))
}

func TestDataSurvivesRemount(t *testing.T) {
	e, device := newMountedEngine(t)
	data := bytes.Repeat([]byte{0xa5}, 700)
	require.EqualValues(t, engine.OK, e.Mkdir("/logs"))
	writeFile(t, e, "/logs/boot.log", data)

	driver := e.driver
	unmountAndRelease(t, e)

	e = driver.NewEngine(newTestConfig(device)).(*Engine)
	require.EqualValues(t, engine.OK, e.Mount())
	defer unmountAndRelease(t, e)

	assert.Equal(t, []string{"logs"}, listDir(t, e, "/"))
	assert.Equal(t, []string{"boot.log"}, listDir(t, e, "/logs"))
	assert.Equal(t, data, readFile(t, e, "/logs/boot.log"))
}

func TestOpenErrors(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	writeFile(t, e, "/existing", []byte("hi"))
	require.EqualValues(t, engine.OK, e.Mkdir("/dir"))

	testCases := []struct {
		name     string
		path     string
		flags    flashfs.OpenFlag
		expected errors.Errno
	}{
		{"missing", "/nope", flashfs.O_RDONLY, errors.ENOENT},
		{"missing parent", "/nope/file", flashfs.O_WRONLY | flashfs.O_CREAT, errors.ENOENT},
		{"exclusive", "/existing", flashfs.O_WRONLY | flashfs.O_CREAT | flashfs.O_EXCL, errors.EEXIST},
		{"directory", "/dir", flashfs.O_RDONLY, errors.EISDIR},
		{"parent is a file", "/existing/x", flashfs.O_RDONLY | flashfs.O_CREAT, errors.ENOTDIR},
		{"no access mode", "/existing", flashfs.O_CREAT, errors.EINVAL},
		{"root", "/", flashfs.O_RDONLY, errors.EINVAL},
		{"long name", "/" + string(bytes.Repeat([]byte("n"), recordNameMax+1)), flashfs.O_WRONLY | flashfs.O_CREAT, errors.ENAMETOOLONG},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			file := e.NewFile()
			defer file.Release()
			assert.EqualValues(t, tc.expected, file.Open(tc.path, tc.flags))
		})
	}
}

func TestAccessModeEnforced(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	writeFile(t, e, "/f", []byte("abc"))

	file := openFile(t, e, "/f", flashfs.O_RDONLY)
	assert.EqualValues(t, errors.EBADF, file.Write([]byte("x")))
	assert.EqualValues(t, errors.EBADF, file.Truncate(0))
	closeFile(t, file)

	file = openFile(t, e, "/f", flashfs.O_WRONLY)
	assert.EqualValues(t, errors.EBADF, file.Read(make([]byte, 1)))
	closeFile(t, file)

	assert.EqualValues(t, errors.EBADF, file.Close(), "closing twice should fail")
}

func TestMaxOpenFiles(t *testing.T) {
	e, _ := newMountedEngine(t, WithMaxOpenFiles(2))
	defer unmountAndRelease(t, e)

	first := openFile(t, e, "/a", flashfs.O_WRONLY|flashfs.O_CREAT)
	second := openFile(t, e, "/b", flashfs.O_WRONLY|flashfs.O_CREAT)

	third := e.NewFile()
	assert.EqualValues(t, errors.EMFILE, third.Open("/c", flashfs.O_WRONLY|flashfs.O_CREAT))
	third.Release()

	closeFile(t, first)
	closeFile(t, second)
}

func TestAppend(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	writeFile(t, e, "/log", []byte("one "))

	file := openFile(t, e, "/log", flashfs.O_WRONLY|flashfs.O_APPEND)
	require.EqualValues(t, 0, file.Seek(0, flashfs.SeekSet))
	require.EqualValues(t, 4, file.Write([]byte("two ")))
	closeFile(t, file)

	assert.Equal(t, []byte("one two "), readFile(t, e, "/log"))
}

func TestWritePastEndZeroFills(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	file := openFile(t, e, "/sparse", flashfs.O_RDWR|flashfs.O_CREAT)
	require.EqualValues(t, 1000, file.Seek(1000, flashfs.SeekSet))
	require.EqualValues(t, 1, file.Write([]byte{0x7f}))
	closeFile(t, file)

	data := readFile(t, e, "/sparse")
	require.Len(t, data, 1001)
	assert.Equal(t, make([]byte, 1000), data[:1000])
	assert.Equal(t, byte(0x7f), data[1000])
}

func TestSeek(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	writeFile(t, e, "/f", []byte("0123456789"))
	file := openFile(t, e, "/f", flashfs.O_RDONLY)
	defer closeFile(t, file)

	assert.EqualValues(t, 7, file.Seek(-3, flashfs.SeekEnd))
	assert.EqualValues(t, 9, file.Seek(2, flashfs.SeekCur))
	assert.EqualValues(t, errors.EINVAL, file.Seek(-100, flashfs.SeekCur))
	assert.EqualValues(t, errors.EINVAL, file.Seek(0, flashfs.Whence(9)))
	assert.EqualValues(t, 9, file.Tell(), "failed seek moved the position")

	assert.EqualValues(t, engine.OK, file.Rewind())
	buffer := make([]byte, 4)
	require.EqualValues(t, 4, file.Read(buffer))
	assert.Equal(t, []byte("0123"), buffer)
}

func TestTruncate(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	writeFile(t, e, "/f", bytes.Repeat([]byte{0xee}, 1200))
	require.Equal(t, 3+3, countBlocks(t, e))

	file := openFile(t, e, "/f", flashfs.O_RDWR)
	require.EqualValues(t, 600, file.Seek(600, flashfs.SeekSet))

	require.EqualValues(t, engine.OK, file.Truncate(100))
	assert.EqualValues(t, 100, file.Size())
	assert.EqualValues(t, 600, file.Tell(), "truncate moved the position")
	assert.Equal(t, 3+1, countBlocks(t, e), "shrinking didn't free blocks")

	require.EqualValues(t, engine.OK, file.Truncate(300))
	closeFile(t, file)

	data := readFile(t, e, "/f")
	require.Len(t, data, 300)
	assert.Equal(t, bytes.Repeat([]byte{0xee}, 100), data[:100])
	assert.Equal(t, make([]byte, 200), data[100:], "extended region isn't zeroed")
}

func TestOpenTruncate(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	writeFile(t, e, "/f", bytes.Repeat([]byte{1}, 2000))
	writeFile(t, e, "/f", []byte("short"))

	assert.Equal(t, []byte("short"), readFile(t, e, "/f"))
	assert.Equal(t, 3+1, countBlocks(t, e))
}

func TestStat(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	require.EqualValues(t, engine.OK, e.Mkdir("/etc"))
	writeFile(t, e, "/etc/hosts", []byte("127.0.0.1 localhost\n"))

	var info engine.Info
	require.EqualValues(t, engine.OK, e.Stat("/etc/hosts", &info))
	assert.EqualValues(t, flashfs.TypeRegular, info.Type())
	assert.EqualValues(t, 20, info.Size())
	assert.Equal(t, "hosts", info.Name())

	require.EqualValues(t, engine.OK, e.Stat("/etc/../etc/./", &info))
	assert.EqualValues(t, flashfs.TypeDir, info.Type())
	assert.Equal(t, "etc", info.Name())

	require.EqualValues(t, engine.OK, e.Stat("/", &info))
	assert.Equal(t, "/", info.Name())

	assert.EqualValues(t, errors.ENOENT, e.Stat("/etc/passwd", &info))
}

func TestStatSeesUnsyncedSize(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	file := openFile(t, e, "/f", flashfs.O_WRONLY|flashfs.O_CREAT)
	require.EqualValues(t, 3, file.Write([]byte("abc")))

	var info engine.Info
	require.EqualValues(t, engine.OK, e.Stat("/f", &info))
	assert.EqualValues(t, 3, info.Size())
	closeFile(t, file)
}

func TestMkdir(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	require.EqualValues(t, engine.OK, e.Mkdir("/a"))
	require.EqualValues(t, engine.OK, e.Mkdir("/a/b"))
	assert.EqualValues(t, errors.EEXIST, e.Mkdir("/a"))
	assert.EqualValues(t, errors.ENOENT, e.Mkdir("/x/y"))
	assert.EqualValues(t, errors.EINVAL, e.Mkdir("/"))

	assert.Equal(t, []string{"a"}, listDir(t, e, "/"))
	assert.Equal(t, []string{"b"}, listDir(t, e, "/a"))
	assert.Empty(t, listDir(t, e, "/a/b"))
}

func TestDirectoryGrows(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	// A 512-byte block holds 8 records, so 20 entries need three blocks.
	var expected []string
	for i := 0; i < 20; i++ {
		name := string(rune('a'+i)) + ".txt"
		writeFile(t, e, "/"+name, nil)
		expected = append(expected, name)
	}

	assert.Equal(t, expected, listDir(t, e, "/"))
	assert.Equal(t, 3+2, countBlocks(t, e))
}

func TestDirSeekTell(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	for _, name := range []string{"/a", "/b", "/c"} {
		require.EqualValues(t, engine.OK, e.Mkdir(name))
	}

	dir := e.NewDir()
	defer dir.Release()
	require.EqualValues(t, engine.OK, dir.Open("/"))

	var info engine.Info
	require.EqualValues(t, 1, dir.Read(&info))
	position := dir.Tell()
	require.EqualValues(t, 1, dir.Read(&info))
	assert.Equal(t, "b", info.Name())

	require.EqualValues(t, engine.OK, dir.Seek(int64(position)))
	require.EqualValues(t, 1, dir.Read(&info))
	assert.Equal(t, "b", info.Name())

	require.EqualValues(t, engine.OK, dir.Rewind())
	require.EqualValues(t, 1, dir.Read(&info))
	assert.Equal(t, "a", info.Name())

	assert.EqualValues(t, errors.EINVAL, dir.Seek(-1))
	assert.EqualValues(t, engine.OK, dir.Close())
}

func TestOpenDirErrors(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	writeFile(t, e, "/f", nil)

	dir := e.NewDir()
	defer dir.Release()
	assert.EqualValues(t, errors.ENOTDIR, dir.Open("/f"))
	assert.EqualValues(t, errors.ENOENT, dir.Open("/missing"))
	assert.EqualValues(t, errors.EBADF, dir.Read(new(engine.Info)))
}

func TestRemove(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	require.EqualValues(t, engine.OK, e.Mkdir("/d"))
	writeFile(t, e, "/d/f", make([]byte, 1500))
	require.Equal(t, 3+1+3, countBlocks(t, e))

	assert.EqualValues(t, errors.ENOTEMPTY, e.Remove("/d"))
	assert.EqualValues(t, errors.ENOENT, e.Remove("/d/g"))
	assert.EqualValues(t, errors.EINVAL, e.Remove("/"))

	require.EqualValues(t, engine.OK, e.Remove("/d/f"))
	require.EqualValues(t, engine.OK, e.Remove("/d"))
	assert.Equal(t, 3, countBlocks(t, e))
	assert.Empty(t, listDir(t, e, "/"))
}

func TestRemoveOpenFile(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	writeFile(t, e, "/f", []byte("still here"))
	file := openFile(t, e, "/f", flashfs.O_RDONLY)

	require.EqualValues(t, engine.OK, e.Remove("/f"))
	assert.Empty(t, listDir(t, e, "/"))
	assert.Equal(t, 3+1, countBlocks(t, e), "orphaned file's blocks were freed early")

	buffer := make([]byte, 10)
	require.EqualValues(t, 10, file.Read(buffer))
	assert.Equal(t, []byte("still here"), buffer)

	closeFile(t, file)
	assert.Equal(t, 3, countBlocks(t, e), "orphaned file's blocks weren't freed on close")
}

func TestRename(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	require.EqualValues(t, engine.OK, e.Mkdir("/src"))
	require.EqualValues(t, engine.OK, e.Mkdir("/dst"))
	writeFile(t, e, "/src/f", []byte("payload"))
	writeFile(t, e, "/dst/g", []byte("old"))

	require.EqualValues(t, engine.OK, e.Rename("/src/f", "/dst/g"))
	assert.Empty(t, listDir(t, e, "/src"))
	assert.Equal(t, []string{"g"}, listDir(t, e, "/dst"))
	assert.Equal(t, []byte("payload"), readFile(t, e, "/dst/g"))

	require.EqualValues(t, engine.OK, e.Rename("/dst/g", "/dst/g"), "self-rename failed")
	assert.EqualValues(t, errors.EINVAL, e.Rename("/src", "/src/inner"))
	assert.EqualValues(t, errors.EISDIR, e.Rename("/dst/g", "/src"))
	assert.EqualValues(t, errors.ENOTDIR, e.Rename("/src", "/dst/g"))
	assert.EqualValues(t, errors.ENOENT, e.Rename("/nope", "/x"))
	assert.EqualValues(t, errors.EINVAL, e.Rename("/", "/x"))

	require.EqualValues(t, engine.OK, e.Rename("/src", "/moved"))
	assert.ElementsMatch(t, []string{"dst", "moved"}, listDir(t, e, "/"))
}

func TestRenameOpenFile(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	file := openFile(t, e, "/before", flashfs.O_WRONLY|flashfs.O_CREAT)
	require.EqualValues(t, engine.OK, e.Rename("/before", "/after"))
	require.EqualValues(t, 5, file.Write([]byte("hello")))
	closeFile(t, file)

	assert.Equal(t, []byte("hello"), readFile(t, e, "/after"))
}

func TestTraverseStops(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	calls := 0
	status := e.Traverse(func(block uint32) engine.Status {
		calls++
		if block == 1 {
			return engine.Status(errors.EIO)
		}
		return engine.OK
	})
	assert.EqualValues(t, errors.EIO, status)
	assert.Equal(t, 2, calls)
}

func TestDeorphan(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	writeFile(t, e, "/keep", make([]byte, 100))

	// Simulate an interrupted write: a block that's allocated but that nothing
	// refers to.
	leaked, err := e.alloc.allocate()
	require.NoError(t, err)
	require.NoError(t, e.commit())

	require.EqualValues(t, engine.OK, e.Deorphan())

	value, err := e.table.get(leaked)
	require.NoError(t, err)
	assert.Equal(t, entryFree, value, "orphaned block wasn't freed")
	assert.Equal(t, make([]byte, 100), readFile(t, e, "/keep"))
}

func TestNoSpace(t *testing.T) {
	e, _ := newMountedEngine(t)
	defer unmountAndRelease(t, e)

	file := openFile(t, e, "/big", flashfs.O_WRONLY|flashfs.O_CREAT)
	require.EqualValues(t, testFreeBlocks*testBlockSize, file.Write(make([]byte, testFreeBlocks*testBlockSize)))
	assert.EqualValues(t, errors.ENOSPC, file.Write([]byte{1}))
	closeFile(t, file)

	require.EqualValues(t, engine.OK, e.Remove("/big"))
	writeFile(t, e, "/again", make([]byte, 1000))
}

func TestLedger(t *testing.T) {
	e, _ := newMountedEngine(t)
	ledger := e.driver.Ledger()

	assert.Equal(t, 1, ledger.Live(engine.KindEngine))

	info := e.NewInfo()
	file := e.NewFile()
	dir := e.NewDir()
	assert.Equal(t, 4, ledger.LiveTotal())

	e.ReleaseInfo(info)
	file.Release()
	dir.Release()
	assert.Panics(t, func() { file.Release() })

	unmountAndRelease(t, e)
	assert.Equal(t, 1, ledger.Allocated(engine.KindFile))
}
