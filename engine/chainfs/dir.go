package chainfs

import (
	"fmt"

	"github.com/dargueta/flashfs/engine"
	"github.com/dargueta/flashfs/errors"
)

// Dir is an open directory. Its position is the index of a record slot,
// counting across every block in the directory's chain; free slots are
// skipped when reading.
type Dir struct {
	engine   *Engine
	opened   bool
	released bool
	removed  bool

	head uint32
	pos  int64
}

func (d *Dir) checkOpen() error {
	if !d.opened || d.released {
		return errors.NewWithMessage(errors.EBADF, "directory isn't open")
	}
	return d.engine.checkMounted()
}

// Open implements [engine.Dir].
func (d *Dir) Open(path string) engine.Status {
	return engine.StatusOf(d.open(path))
}

func (d *Dir) open(path string) error {
	e := d.engine
	if d.released || d.opened {
		return errors.NewWithMessage(errors.EINVAL, "directory object is already in use")
	}

	err := e.checkMounted()
	if err != nil {
		return err
	}

	target, err := e.resolve(path)
	if err != nil {
		return err
	}
	if !target.isDir() {
		return errors.NewWithMessage(errors.ENOTDIR, path)
	}

	d.head = target.Head
	d.pos = 0
	d.removed = false
	d.opened = true
	e.openDirs[d] = struct{}{}
	return nil
}

// Close implements [engine.Dir].
func (d *Dir) Close() engine.Status {
	if !d.opened || d.released {
		return engine.StatusOf(errors.NewWithMessage(errors.EBADF, "directory isn't open"))
	}
	d.opened = false
	delete(d.engine.openDirs, d)
	return engine.OK
}

// Read implements [engine.Dir]. It returns 1 if it filled `info` with an
// entry, or 0 if there are no more entries.
func (d *Dir) Read(info *engine.Info) engine.Status {
	err := d.checkOpen()
	if err != nil {
		return engine.StatusOf(err)
	}
	if d.removed {
		return engine.OK
	}

	e := d.engine
	blocks, err := e.table.chain(d.head)
	if err != nil {
		return engine.StatusOf(err)
	}

	perBlock := int64(e.recordsPerBlock())
	buffer := make([]byte, e.cfg.BlockSize)
	for d.pos < int64(len(blocks))*perBlock {
		block := blocks[d.pos/perBlock]
		err = e.readBlock(block, buffer)
		if err != nil {
			return engine.StatusOf(err)
		}

		for index := d.pos % perBlock; index < perBlock; index++ {
			d.pos++
			rec, ok := decodeRecord(buffer[index*recordSize:])
			if !ok {
				continue
			}

			err = e.describe(
				entry{record: rec, loc: location{block, uint32(index)}},
				info,
			)
			if err != nil {
				return engine.StatusOf(err)
			}
			return 1
		}
	}
	return engine.OK
}

// Seek implements [engine.Dir]. `position` must be a value returned by Tell.
func (d *Dir) Seek(position int64) engine.Status {
	err := d.checkOpen()
	if err != nil {
		return engine.StatusOf(err)
	}
	if position < 0 {
		return engine.StatusOf(
			errors.NewWithMessage(
				errors.EINVAL, fmt.Sprintf("invalid directory position %d", position)))
	}
	d.pos = position
	return engine.OK
}

// Tell implements [engine.Dir].
func (d *Dir) Tell() engine.Status {
	err := d.checkOpen()
	if err != nil {
		return engine.StatusOf(err)
	}
	return engine.Status(d.pos)
}

// Rewind implements [engine.Dir].
func (d *Dir) Rewind() engine.Status {
	err := d.checkOpen()
	if err != nil {
		return engine.StatusOf(err)
	}
	d.pos = 0
	return engine.OK
}

// Release implements [engine.Dir].
func (d *Dir) Release() {
	if d.released {
		panic("chainfs: directory released twice")
	}
	if d.opened {
		d.opened = false
		delete(d.engine.openDirs, d)
	}
	d.released = true
	d.engine.driver.ledger.Release(engine.KindDir)
}
