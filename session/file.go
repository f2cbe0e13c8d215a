package session

import (
	"io"

	"github.com/dargueta/flashfs"
	"github.com/dargueta/flashfs/engine"
	"go.uber.org/zap"
)

// File is an open file. It implements [io.Reader], [io.Writer], [io.Seeker]
// and [io.Closer].
type File struct {
	session *Session
	path    string
	flags   flashfs.OpenFlag
	handle  engine.File
	closed  bool
}

// Open opens a file with flags given by name, e.g. `Open("/log", "wronly",
// "creat", "append")`. See [flashfs.ParseOpenFlags] for the names. An unknown
// name fails with [flashfs.ErrInvalidArgument] before the engine is touched.
func (s *Session) Open(path string, flagNames ...string) (*File, error) {
	flags, err := flashfs.ParseOpenFlags(flagNames...)
	if err != nil {
		return nil, err
	}
	return s.OpenFile(path, flags)
}

// OpenFile opens a file with a flag mask. If the engine refuses, the native
// file object is released before returning and no *File is created.
func (s *Session) OpenFile(path string, flags flashfs.OpenFlag) (file *File, err error) {
	eng, err := s.engine()
	if err != nil {
		return nil, err
	}

	handle := eng.NewFile()
	defer func() {
		if file == nil {
			handle.Release()
		}
	}()

	err = handle.Open(path, flags).Err()
	if err != nil {
		s.logger.Debug(
			"open failed",
			zap.String("path", path),
			zap.Stringer("flags", flags),
			zap.Error(err),
		)
		return nil, err
	}

	file = &File{
		session: s,
		path:    path,
		flags:   flags,
		handle:  handle,
	}
	s.files[file] = struct{}{}
	return file, nil
}

func (f *File) native() (engine.File, error) {
	if f.closed {
		return nil, flashfs.ErrInvalidFileDescriptor.WithMessage(f.path + " is closed")
	}
	return f.handle, nil
}

// Name returns the path the file was opened with.
func (f *File) Name() string {
	return f.path
}

// Flags returns the mask the file was opened with.
func (f *File) Flags() flashfs.OpenFlag {
	return f.flags
}

// Close closes the file. The native file object is released even if the
// engine fails to close it.
func (f *File) Close() error {
	handle, err := f.native()
	if err != nil {
		return err
	}

	f.closed = true
	delete(f.session.files, f)
	defer handle.Release()

	err = handle.Close().Err()
	if err != nil {
		f.session.logger.Debug("close failed", zap.String("path", f.path), zap.Error(err))
	}
	return err
}

// Read implements [io.Reader]. It returns [io.EOF] once the position is at or
// past the end of the file.
func (f *File) Read(buffer []byte) (int, error) {
	handle, err := f.native()
	if err != nil {
		return 0, err
	}
	if len(buffer) == 0 {
		return 0, nil
	}

	status := handle.Read(buffer)
	if status < 0 {
		return 0, status.Err()
	}
	if status == 0 {
		return 0, io.EOF
	}
	return int(status), nil
}

// ReadN reads up to `n` bytes from the current position. The result is
// shorter than `n` only if the end of the file was reached.
func (f *File) ReadN(n int) ([]byte, error) {
	handle, err := f.native()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, flashfs.ErrInvalidArgument.WithMessage("negative read size")
	}

	buffer := make([]byte, n)
	status := handle.Read(buffer)
	if status < 0 {
		return nil, status.Err()
	}
	return buffer[:status], nil
}

// ReadAll reads as many bytes as the file's size from the current position.
// Starting anywhere but the beginning gives a short result.
func (f *File) ReadAll() ([]byte, error) {
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	return f.ReadN(int(size))
}

// Write implements [io.Writer]. If the engine accepts fewer bytes than given,
// the error is [io.ErrShortWrite].
func (f *File) Write(data []byte) (int, error) {
	handle, err := f.native()
	if err != nil {
		return 0, err
	}

	status := handle.Write(data)
	if status < 0 {
		return 0, status.Err()
	}
	if int(status) < len(data) {
		return int(status), io.ErrShortWrite
	}
	return int(status), nil
}

// WriteString implements [io.StringWriter].
func (f *File) WriteString(data string) (int, error) {
	return f.Write([]byte(data))
}

// Seek implements [io.Seeker].
func (f *File) Seek(offset int64, whence int) (int64, error) {
	handle, err := f.native()
	if err != nil {
		return 0, err
	}

	status := handle.Seek(offset, flashfs.Whence(whence))
	if status < 0 {
		return 0, status.Err()
	}
	return int64(status), nil
}

// SeekTo is Seek with the origin given by name: "set", "cur", or "end". An
// empty name means "set".
func (f *File) SeekTo(offset int64, whenceName string) (int64, error) {
	whence, err := flashfs.ParseWhence(whenceName)
	if err != nil {
		return 0, err
	}
	return f.Seek(offset, int(whence))
}

// Truncate sets the size of the file. The position doesn't move.
func (f *File) Truncate(size int64) error {
	handle, err := f.native()
	if err != nil {
		return err
	}
	return handle.Truncate(size).Err()
}

// Tell returns the current position.
func (f *File) Tell() (int64, error) {
	handle, err := f.native()
	if err != nil {
		return 0, err
	}

	status := handle.Tell()
	if status < 0 {
		return 0, status.Err()
	}
	return int64(status), nil
}

// Rewind moves the position back to the beginning of the file.
func (f *File) Rewind() error {
	handle, err := f.native()
	if err != nil {
		return err
	}
	return handle.Rewind().Err()
}

// Size returns the size of the file, including anything written but not yet
// synced.
func (f *File) Size() (int64, error) {
	handle, err := f.native()
	if err != nil {
		return 0, err
	}

	status := handle.Size()
	if status < 0 {
		return 0, status.Err()
	}
	return int64(status), nil
}

// Sync writes out any changes the engine is holding for this file.
func (f *File) Sync() error {
	handle, err := f.native()
	if err != nil {
		return err
	}
	return handle.Sync().Err()
}

// Stat describes the file.
func (f *File) Stat() (flashfs.DirEntry, error) {
	if f.closed {
		return flashfs.DirEntry{}, flashfs.ErrInvalidFileDescriptor.WithMessage(f.path + " is closed")
	}
	return f.session.Stat(f.path)
}
