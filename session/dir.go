package session

import (
	"io"
	"io/fs"
	"iter"

	"github.com/dargueta/flashfs"
	"github.com/dargueta/flashfs/engine"
	"go.uber.org/zap"
)

// Dir is an open directory.
type Dir struct {
	session *Session
	path    string
	handle  engine.Dir
	closed  bool
}

// OpenDir opens a directory for reading. If the engine refuses, the native
// directory object is released before returning.
func (s *Session) OpenDir(path string) (dir *Dir, err error) {
	eng, err := s.engine()
	if err != nil {
		return nil, err
	}

	handle := eng.NewDir()
	defer func() {
		if dir == nil {
			handle.Release()
		}
	}()

	err = handle.Open(path).Err()
	if err != nil {
		s.logger.Debug("opendir failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	dir = &Dir{
		session: s,
		path:    path,
		handle:  handle,
	}
	s.dirs[dir] = struct{}{}
	return dir, nil
}

func (d *Dir) native() (engine.Dir, error) {
	if d.closed {
		return nil, flashfs.ErrInvalidFileDescriptor.WithMessage(d.path + " is closed")
	}
	return d.handle, nil
}

// Name returns the path the directory was opened with.
func (d *Dir) Name() string {
	return d.path
}

// Close closes the directory. The native object is released even if the
// engine fails to close it.
func (d *Dir) Close() error {
	handle, err := d.native()
	if err != nil {
		return err
	}

	d.closed = true
	delete(d.session.dirs, d)
	defer handle.Release()
	return handle.Close().Err()
}

// Read returns the next entry, or [io.EOF] when there are no more. An empty
// directory returns io.EOF on the first call.
func (d *Dir) Read() (flashfs.DirEntry, error) {
	handle, err := d.native()
	if err != nil {
		return flashfs.DirEntry{}, err
	}

	eng, err := d.session.engine()
	if err != nil {
		return flashfs.DirEntry{}, err
	}

	info := eng.NewInfo()
	defer eng.ReleaseInfo(info)

	status := handle.Read(info)
	switch {
	case status < 0:
		return flashfs.DirEntry{}, status.Err()
	case status == 0:
		return flashfs.DirEntry{}, io.EOF
	default:
		return decodeInfo(info), nil
	}
}

// ReadDir reads directory entries with the semantics of [fs.ReadDirFile]: if
// `n` > 0 it returns at most `n` entries, and io.EOF if there are none left;
// otherwise it returns everything that's left and a nil error.
func (d *Dir) ReadDir(n int) ([]fs.DirEntry, error) {
	var entries []fs.DirEntry
	for n <= 0 || len(entries) < n {
		entry, err := d.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}

	if n > 0 && len(entries) == 0 {
		return nil, io.EOF
	}
	return entries, nil
}

// All iterates over the remaining entries. Iteration stops after the first
// error, which is yielded with a zero entry.
func (d *Dir) All() iter.Seq2[flashfs.DirEntry, error] {
	return func(yield func(flashfs.DirEntry, error) bool) {
		for {
			entry, err := d.Read()
			if err == io.EOF {
				return
			}
			if !yield(entry, err) || err != nil {
				return
			}
		}
	}
}

// Seek moves to a position previously returned by Tell.
func (d *Dir) Seek(position int64) error {
	handle, err := d.native()
	if err != nil {
		return err
	}
	return handle.Seek(position).Err()
}

// Tell returns the current position in the directory.
func (d *Dir) Tell() (int64, error) {
	handle, err := d.native()
	if err != nil {
		return 0, err
	}

	status := handle.Tell()
	if status < 0 {
		return 0, status.Err()
	}
	return int64(status), nil
}

// Rewind moves back to the first entry.
func (d *Dir) Rewind() error {
	handle, err := d.native()
	if err != nil {
		return err
	}
	return handle.Rewind().Err()
}
