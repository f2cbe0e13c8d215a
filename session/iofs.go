package session

import (
	"errors"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/dargueta/flashfs"
)

// FS exposes a mounted session as a read-only [fs.FS], so it can be used with
// [fs.WalkDir], [fs.ReadFile], [testing/fstest] and friends. Every file opened
// through it is a real session handle and must be closed.
type FS struct {
	session *Session
}

var (
	_ fs.FS         = FS{}
	_ fs.StatFS     = FS{}
	_ fs.ReadDirFS  = FS{}
	_ fs.ReadFileFS = FS{}
)

// FS returns an [fs.FS] view of the session.
func (s *Session) FS() FS {
	return FS{session: s}
}

// enginePath converts a slash-separated [fs.FS] name into an absolute engine
// path.
func enginePath(op, name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return "/", nil
	}
	return "/" + name, nil
}

// pathError wraps an engine error for the io/fs world, translating the codes
// that have an io/fs equivalent.
func pathError(op, name string, err error) error {
	switch {
	case errors.Is(err, flashfs.ErrNotFound):
		err = fs.ErrNotExist
	case errors.Is(err, flashfs.ErrExists):
		err = fs.ErrExist
	case errors.Is(err, flashfs.ErrInvalidArgument):
		err = fs.ErrInvalid
	case errors.Is(err, flashfs.ErrInvalidFileDescriptor):
		err = fs.ErrClosed
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}

// fileInfo is a [flashfs.DirEntry] renamed to match the name it was looked up
// by, which matters for the root directory.
func fileInfo(name string, entry flashfs.DirEntry) flashfs.DirEntry {
	entry.EntryName = path.Base(name)
	return entry
}

// Open implements [fs.FS].
func (fsys FS) Open(name string) (fs.File, error) {
	fullPath, err := enginePath("open", name)
	if err != nil {
		return nil, err
	}

	entry, err := fsys.session.Stat(fullPath)
	if err != nil {
		return nil, pathError("open", name, err)
	}

	if entry.IsDir() {
		dir, err := fsys.session.OpenDir(fullPath)
		if err != nil {
			return nil, pathError("open", name, err)
		}
		return &fsDir{Dir: dir, name: name}, nil
	}

	file, err := fsys.session.OpenFile(fullPath, flashfs.O_RDONLY)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	return &fsFile{File: file, name: name}, nil
}

// Stat implements [fs.StatFS].
func (fsys FS) Stat(name string) (fs.FileInfo, error) {
	fullPath, err := enginePath("stat", name)
	if err != nil {
		return nil, err
	}

	entry, err := fsys.session.Stat(fullPath)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	return fileInfo(name, entry), nil
}

// ReadDir implements [fs.ReadDirFS]. Entries are sorted by name.
func (fsys FS) ReadDir(name string) ([]fs.DirEntry, error) {
	fullPath, err := enginePath("readdir", name)
	if err != nil {
		return nil, err
	}

	dir, err := fsys.session.OpenDir(fullPath)
	if err != nil {
		return nil, pathError("readdir", name, err)
	}
	defer dir.Close()

	entries, err := dir.ReadDir(-1)
	if err != nil {
		return nil, pathError("readdir", name, err)
	}

	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}

// ReadFile implements [fs.ReadFileFS].
func (fsys FS) ReadFile(name string) ([]byte, error) {
	fullPath, err := enginePath("read", name)
	if err != nil {
		return nil, err
	}

	file, err := fsys.session.OpenFile(fullPath, flashfs.O_RDONLY)
	if err != nil {
		return nil, pathError("read", name, err)
	}
	defer file.Close()

	data, err := file.ReadAll()
	if err != nil {
		return nil, pathError("read", name, err)
	}
	return data, nil
}

type fsFile struct {
	*File
	name string
}

func (f *fsFile) Stat() (fs.FileInfo, error) {
	entry, err := f.File.Stat()
	if err != nil {
		return nil, pathError("stat", f.name, err)
	}
	return fileInfo(f.name, entry), nil
}

type fsDir struct {
	*Dir
	name string
}

func (d *fsDir) Stat() (fs.FileInfo, error) {
	if d.closed {
		return nil, pathError("stat", d.name, flashfs.ErrInvalidFileDescriptor)
	}
	entry, err := d.session.Stat(d.path)
	if err != nil {
		return nil, pathError("stat", d.name, err)
	}
	return fileInfo(d.name, entry), nil
}

func (d *fsDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: errors.New("is a directory")}
}
