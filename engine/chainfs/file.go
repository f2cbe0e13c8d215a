package chainfs

import (
	"fmt"
	"math"

	"github.com/dargueta/flashfs"
	"github.com/dargueta/flashfs/engine"
	"github.com/dargueta/flashfs/errors"
)

// maxFileSize is the largest size a file can have, or a position can be.
const maxFileSize = math.MaxInt32

// File is an open file in a chainfs filesystem. Data is written through to
// the device as it comes in, but the file's directory record (its size and
// first block) is only updated on Sync or Close.
type File struct {
	engine   *Engine
	opened   bool
	released bool

	flags    flashfs.OpenFlag
	loc      location
	name     string
	orphaned bool
	dirty    bool

	size   uint32
	pos    int64
	blocks []uint32
}

func (f *File) checkOpen() error {
	if !f.opened || f.released {
		return errors.NewWithMessage(errors.EBADF, "file isn't open")
	}
	return f.engine.checkMounted()
}

func (f *File) head() uint32 {
	if len(f.blocks) == 0 {
		return entryEnd
	}
	return f.blocks[0]
}

// Open implements [engine.File].
func (f *File) Open(path string, flags flashfs.OpenFlag) engine.Status {
	return engine.StatusOf(f.open(path, flags))
}

func (f *File) open(path string, flags flashfs.OpenFlag) error {
	e := f.engine
	if f.released || f.opened {
		return errors.NewWithMessage(errors.EINVAL, "file object is already in use")
	}

	err := e.checkMounted()
	if err != nil {
		return err
	}
	if flags&flashfs.O_RDWR == 0 {
		return errors.NewWithMessage(
			errors.EINVAL,
			fmt.Sprintf("open flags %s have no access mode", flags),
		)
	}
	if e.driver.maxOpenFiles > 0 && len(e.openFiles) >= e.driver.maxOpenFiles {
		return errors.NewWithMessage(
			errors.EMFILE,
			fmt.Sprintf("limit of %d open files reached", e.driver.maxOpenFiles),
		)
	}

	parent, name, err := e.resolveParent(path)
	if err != nil {
		return err
	}

	existing, found, err := e.lookup(parent.record, name)
	if err != nil {
		return err
	}

	f.flags = flags
	f.name = name
	f.pos = 0
	f.orphaned = false
	f.dirty = false

	if found {
		if flags.Create() && flags.Exclusive() {
			return errors.NewWithMessage(errors.EEXIST, path)
		}
		if existing.isDir() {
			return errors.NewWithMessage(errors.EISDIR, path)
		}

		f.loc = existing.loc
		f.size = existing.Size
		f.blocks, err = e.table.chain(existing.Head)
		if err != nil {
			return err
		}
		if int64(len(f.blocks))*int64(e.cfg.BlockSize) < int64(f.size) {
			return errors.NewWithMessage(
				errors.ECORRUPT,
				fmt.Sprintf("%s is %d bytes but only has %d blocks", path, f.size, len(f.blocks)),
			)
		}

		if flags.Truncate() && (f.size > 0 || len(f.blocks) > 0) {
			err = e.alloc.releaseChain(existing.Head)
			if err != nil {
				return err
			}
			f.blocks = nil
			f.size = 0
			f.dirty = true
		}
	} else {
		if !flags.Create() {
			return errors.NewWithMessage(errors.ENOENT, path)
		}

		f.loc, err = e.addRecord(
			parent.record,
			record{Type: flashfs.TypeRegular, Head: entryEnd, Name: name},
		)
		if err != nil {
			return err
		}
		f.size = 0
		f.blocks = nil
	}

	f.opened = true
	e.openFiles[f] = struct{}{}
	err = f.sync()
	if err != nil {
		f.forget()
	}
	return err
}

// Close implements [engine.File]. The file is closed even if writing out
// pending changes fails.
func (f *File) Close() engine.Status {
	return engine.StatusOf(f.close())
}

func (f *File) close() error {
	if !f.opened || f.released {
		return errors.NewWithMessage(errors.EBADF, "file isn't open")
	}
	defer f.forget()

	err := f.engine.checkMounted()
	if err != nil {
		return err
	}

	err = f.sync()
	if err != nil || !f.orphaned || len(f.blocks) == 0 {
		return err
	}

	err = f.engine.alloc.releaseChain(f.head())
	if err != nil {
		return err
	}
	return f.engine.commit()
}

func (f *File) forget() {
	f.opened = false
	f.blocks = nil
	delete(f.engine.openFiles, f)
}

// Sync implements [engine.File].
func (f *File) Sync() engine.Status {
	err := f.checkOpen()
	if err != nil {
		return engine.StatusOf(err)
	}
	return engine.StatusOf(f.sync())
}

func (f *File) sync() error {
	if f.dirty && !f.orphaned {
		err := f.engine.writeRecord(
			f.loc,
			record{Type: flashfs.TypeRegular, Size: f.size, Head: f.head(), Name: f.name},
		)
		if err != nil {
			return err
		}
	}
	f.dirty = false
	return f.engine.commit()
}

// Read implements [engine.File]. It returns the number of bytes read, which
// is only less than len(buffer) at the end of the file.
func (f *File) Read(buffer []byte) engine.Status {
	n, err := f.read(buffer)
	if err != nil {
		return engine.StatusOf(err)
	}
	return engine.Status(n)
}

func (f *File) read(buffer []byte) (int, error) {
	err := f.checkOpen()
	if err != nil {
		return 0, err
	}
	if !f.flags.Read() {
		return 0, errors.NewWithMessage(errors.EBADF, "file isn't open for reading")
	}

	if f.pos >= int64(f.size) {
		return 0, nil
	}

	n := int64(len(buffer))
	if remaining := int64(f.size) - f.pos; n > remaining {
		n = remaining
	}

	blockSize := int64(f.engine.cfg.BlockSize)
	for done := int64(0); done < n; {
		offset := f.pos + done
		blockOffset := offset % blockSize
		chunk := min(blockSize-blockOffset, n-done)

		status := f.engine.cfg.Read(
			f.blocks[offset/blockSize],
			uint32(blockOffset),
			buffer[done:done+chunk],
		)
		if status < 0 {
			return 0, status.Err()
		}
		done += chunk
	}

	f.pos += n
	return int(n), nil
}

// Write implements [engine.File]. Writing past the end of the file fills the
// gap with zeros.
func (f *File) Write(buffer []byte) engine.Status {
	n, err := f.write(buffer)
	if err != nil {
		return engine.StatusOf(err)
	}
	return engine.Status(n)
}

func (f *File) write(buffer []byte) (int, error) {
	err := f.checkOpen()
	if err != nil {
		return 0, err
	}
	if !f.flags.Write() {
		return 0, errors.NewWithMessage(errors.EBADF, "file isn't open for writing")
	}

	if f.flags.Append() {
		f.pos = int64(f.size)
	}

	end := f.pos + int64(len(buffer))
	if end > maxFileSize {
		return 0, errors.NewWithMessage(
			errors.EFBIG,
			fmt.Sprintf("writing %d bytes at %d exceeds the max file size", len(buffer), f.pos),
		)
	}

	if f.pos > int64(f.size) {
		err = f.zeroFill(int64(f.size), f.pos)
		if err != nil {
			return 0, err
		}
	}

	err = f.writeAt(f.pos, buffer)
	if err != nil {
		return 0, err
	}

	f.pos = end
	if end > int64(f.size) {
		f.size = uint32(end)
	}
	f.dirty = true
	return len(buffer), nil
}

// reserve grows the file's chain until it can hold `size` bytes.
func (f *File) reserve(size int64) error {
	blockSize := int64(f.engine.cfg.BlockSize)
	needed := int((size + blockSize - 1) / blockSize)

	for len(f.blocks) < needed {
		block, err := f.engine.alloc.allocate()
		if err != nil {
			return err
		}

		if len(f.blocks) > 0 {
			err = f.engine.table.set(f.blocks[len(f.blocks)-1], block)
			if err != nil {
				return err
			}
		}
		f.blocks = append(f.blocks, block)
		f.dirty = true
	}
	return nil
}

// writeAt copies `data` into the file at `offset`, allocating blocks as
// needed. Blocks only partly covered by `data` are read back first so that
// their other contents survive.
func (f *File) writeAt(offset int64, data []byte) error {
	err := f.reserve(offset + int64(len(data)))
	if err != nil {
		return err
	}

	e := f.engine
	blockSize := int64(e.cfg.BlockSize)
	buffer := make([]byte, blockSize)

	for done := int64(0); done < int64(len(data)); {
		current := offset + done
		block := f.blocks[current/blockSize]
		blockOffset := current % blockSize
		chunk := min(blockSize-blockOffset, int64(len(data))-done)

		if chunk < blockSize {
			err = e.readBlock(block, buffer)
			if err != nil {
				return err
			}
		}

		copy(buffer[blockOffset:], data[done:done+chunk])
		err = e.writeBlock(block, buffer)
		if err != nil {
			return err
		}
		done += chunk
	}
	return nil
}

// zeroFill writes zeros over the range [from, to).
func (f *File) zeroFill(from, to int64) error {
	blockSize := int64(f.engine.cfg.BlockSize)
	zeros := make([]byte, blockSize)

	for from < to {
		chunk := min(blockSize-from%blockSize, to-from)
		err := f.writeAt(from, zeros[:chunk])
		if err != nil {
			return err
		}
		from += chunk
	}
	return nil
}

// Seek implements [engine.File] and returns the new position.
func (f *File) Seek(offset int64, whence flashfs.Whence) engine.Status {
	err := f.checkOpen()
	if err != nil {
		return engine.StatusOf(err)
	}

	var base int64
	switch whence {
	case flashfs.SeekSet:
		base = 0
	case flashfs.SeekCur:
		base = f.pos
	case flashfs.SeekEnd:
		base = int64(f.size)
	default:
		return engine.StatusOf(
			errors.NewWithMessage(errors.EINVAL, fmt.Sprintf("invalid whence %d", whence)))
	}

	position := base + offset
	if position < 0 {
		return engine.StatusOf(
			errors.NewWithMessage(
				errors.EINVAL, fmt.Sprintf("can't seek to negative position %d", position)))
	}
	if position > maxFileSize {
		return engine.StatusOf(errors.New(errors.EFBIG))
	}

	f.pos = position
	return engine.Status(position)
}

// Truncate implements [engine.File]. It sets the size of the file, dropping
// data past `size` or padding with zeros up to it. The position is unchanged.
func (f *File) Truncate(size int64) engine.Status {
	return engine.StatusOf(f.truncate(size))
}

func (f *File) truncate(size int64) error {
	err := f.checkOpen()
	if err != nil {
		return err
	}
	if !f.flags.Write() {
		return errors.NewWithMessage(errors.EBADF, "file isn't open for writing")
	}
	if size < 0 {
		return errors.NewWithMessage(errors.EINVAL, fmt.Sprintf("negative size %d", size))
	}
	if size > maxFileSize {
		return errors.New(errors.EFBIG)
	}

	current := int64(f.size)
	if size > current {
		err = f.zeroFill(current, size)
		if err != nil {
			return err
		}
	} else if size < current {
		blockSize := int64(f.engine.cfg.BlockSize)
		keep := int((size + blockSize - 1) / blockSize)

		for _, block := range f.blocks[keep:] {
			err = f.engine.alloc.release(block)
			if err != nil {
				return err
			}
		}
		if keep > 0 {
			err = f.engine.table.set(f.blocks[keep-1], entryEnd)
			if err != nil {
				return err
			}
		}
		f.blocks = f.blocks[:keep]
	}

	f.size = uint32(size)
	f.dirty = true
	return nil
}

// Tell implements [engine.File].
func (f *File) Tell() engine.Status {
	err := f.checkOpen()
	if err != nil {
		return engine.StatusOf(err)
	}
	return engine.Status(f.pos)
}

// Rewind implements [engine.File].
func (f *File) Rewind() engine.Status {
	err := f.checkOpen()
	if err != nil {
		return engine.StatusOf(err)
	}
	f.pos = 0
	return engine.OK
}

// Size implements [engine.File].
func (f *File) Size() engine.Status {
	err := f.checkOpen()
	if err != nil {
		return engine.StatusOf(err)
	}
	return engine.Status(f.size)
}

// Release implements [engine.File]. Releasing a file that's still open or
// was already released panics.
func (f *File) Release() {
	if f.released {
		panic("chainfs: file released twice")
	}
	if f.opened {
		panic("chainfs: released a file that's still open")
	}
	f.released = true
	f.engine.driver.ledger.Release(engine.KindFile)
}
