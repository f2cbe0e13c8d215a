package chainfs

import (
	"fmt"
	"slices"

	"github.com/dargueta/flashfs"
	"github.com/dargueta/flashfs/engine"
	"github.com/dargueta/flashfs/errors"
	"go.uber.org/zap"
)

const (
	minBlockSize  = 128
	minBlockCount = 3
)

// Engine is one chainfs instance bound to a configuration. Every exported
// method is an [engine.Engine] entry point and reports its result as a
// status; the unexported helpers work with ordinary errors.
type Engine struct {
	driver   *Driver
	cfg      *engine.Config
	logger   *zap.Logger
	mounted  bool
	released bool

	sb    superblock
	table *table
	alloc *allocator

	openFiles map[*File]struct{}
	openDirs  map[*Dir]struct{}
}

func (e *Engine) checkConfig() error {
	cfg := e.cfg
	if cfg.BlockSize < minBlockSize || cfg.BlockSize%recordSize != 0 {
		return errors.NewWithMessage(
			errors.EINVAL,
			fmt.Sprintf(
				"block size must be a multiple of %d and at least %d, got %d",
				recordSize,
				minBlockSize,
				cfg.BlockSize,
			),
		)
	}
	if cfg.ReadSize == 0 || cfg.ProgSize == 0 ||
		cfg.BlockSize%cfg.ReadSize != 0 || cfg.BlockSize%cfg.ProgSize != 0 {
		return errors.NewWithMessage(
			errors.EINVAL,
			fmt.Sprintf(
				"block size %d isn't a multiple of the read size (%d) and prog size (%d)",
				cfg.BlockSize,
				cfg.ReadSize,
				cfg.ProgSize,
			),
		)
	}
	if cfg.BlockCount < minBlockCount {
		return errors.NewWithMessage(
			errors.EINVAL,
			fmt.Sprintf("need at least %d blocks, got %d", minBlockCount, cfg.BlockCount),
		)
	}

	deviceInfo := cfg.Device.Info()
	if deviceInfo.EraseSize != 0 && deviceInfo.EraseSize != cfg.BlockSize {
		return errors.NewWithMessage(
			errors.EINVAL,
			fmt.Sprintf(
				"block size %d doesn't match the device's erase size %d",
				cfg.BlockSize,
				deviceInfo.EraseSize,
			),
		)
	}
	return nil
}

func (e *Engine) checkMounted() error {
	if !e.mounted {
		return errors.NewWithMessage(errors.EINVAL, "filesystem isn't mounted")
	}
	return nil
}

// commit writes out the allocation table and syncs the device.
func (e *Engine) commit() error {
	err := e.table.flush()
	if err != nil {
		return err
	}
	return e.cfg.Sync().Err()
}

// Format implements [engine.Engine]. It writes an empty filesystem over
// whatever is on the device. The instance must not be mounted.
func (e *Engine) Format() engine.Status {
	return engine.StatusOf(e.format())
}

func (e *Engine) format() error {
	if e.mounted {
		return errors.NewWithMessage(errors.EBUSY, "can't format a mounted filesystem")
	}

	err := e.checkConfig()
	if err != nil {
		return err
	}

	sb := newSuperblock(e.cfg.BlockSize, e.cfg.BlockCount)
	if sb.RootBlock >= sb.BlockCount {
		return errors.NewWithMessage(
			errors.ENOSPC,
			fmt.Sprintf(
				"allocation table needs %d blocks, leaving no room for the root directory",
				sb.TableBlocks,
			),
		)
	}

	t := e.newTable(sb)
	t.cache.Fill(0xff)
	for block := uint32(0); block < sb.RootBlock; block++ {
		err = t.set(block, entryReserved)
		if err != nil {
			return err
		}
	}
	err = t.set(sb.RootBlock, entryEnd)
	if err != nil {
		return err
	}
	err = t.flush()
	if err != nil {
		return err
	}

	buffer := make([]byte, e.cfg.BlockSize)
	err = e.writeBlock(sb.RootBlock, buffer)
	if err != nil {
		return err
	}

	err = sb.encode(buffer)
	if err != nil {
		return errors.NewFromError(errors.EIO, err)
	}
	err = e.writeBlock(0, buffer)
	if err != nil {
		return err
	}

	e.logger.Debug(
		"formatted",
		zap.Uint32("block_count", sb.BlockCount),
		zap.Uint32("table_blocks", sb.TableBlocks),
	)
	return e.cfg.Sync().Err()
}

// Mount implements [engine.Engine].
func (e *Engine) Mount() engine.Status {
	return engine.StatusOf(e.mount())
}

func (e *Engine) mount() error {
	if e.mounted {
		return errors.NewWithMessage(errors.EINVAL, "already mounted")
	}

	err := e.checkConfig()
	if err != nil {
		return err
	}

	buffer := make([]byte, e.cfg.BlockSize)
	err = e.readBlock(0, buffer)
	if err != nil {
		return err
	}

	sb, err := decodeSuperblock(buffer)
	if err != nil {
		return err
	}
	if sb.BlockSize != e.cfg.BlockSize || sb.BlockCount != e.cfg.BlockCount {
		return errors.NewWithMessage(
			errors.ECORRUPT,
			fmt.Sprintf(
				"filesystem was formatted with %d blocks of %d bytes, configured for %d of %d",
				sb.BlockCount,
				sb.BlockSize,
				e.cfg.BlockCount,
				e.cfg.BlockSize,
			),
		)
	}

	e.sb = sb
	e.table = e.newTable(sb)
	e.alloc, err = newAllocator(e.table, e.cfg.Lookahead)
	if err != nil {
		e.table = nil
		return err
	}

	e.mounted = true
	e.logger.Debug("mounted", zap.Uint32("block_count", sb.BlockCount))
	return nil
}

// Unmount implements [engine.Engine]. The instance is unmounted even if
// writing out pending changes fails.
func (e *Engine) Unmount() engine.Status {
	return engine.StatusOf(e.unmount())
}

func (e *Engine) unmount() error {
	err := e.checkMounted()
	if err != nil {
		return err
	}

	err = e.commit()
	e.mounted = false
	e.table = nil
	e.alloc = nil
	e.logger.Debug("unmounted", zap.Error(err))
	return err
}

// Remove implements [engine.Engine]. Removing a file that's still open
// orphans it: its blocks stay allocated until the last handle is closed.
func (e *Engine) Remove(path string) engine.Status {
	return engine.StatusOf(e.remove(path))
}

func (e *Engine) remove(path string) error {
	err := e.checkMounted()
	if err != nil {
		return err
	}

	parent, name, err := e.resolveParent(path)
	if err != nil {
		return err
	}

	target, found, err := e.lookup(parent.record, name)
	if err != nil {
		return err
	}
	if !found {
		return errors.NewWithMessage(errors.ENOENT, path)
	}

	err = e.removeEntry(target)
	if err != nil {
		return err
	}
	return e.commit()
}

// removeEntry deletes the record for `target` and frees its blocks.
func (e *Engine) removeEntry(target entry) error {
	if target.isDir() {
		empty, err := e.isEmptyDir(target.record)
		if err != nil {
			return err
		}
		if !empty {
			return errors.NewWithMessage(errors.ENOTEMPTY, target.Name)
		}

		for dir := range e.openDirs {
			if dir.head == target.Head {
				dir.removed = true
			}
		}
	}

	orphaned := false
	for file := range e.openFiles {
		if file.loc == target.loc {
			file.orphaned = true
			orphaned = true
		}
	}

	err := e.clearRecord(target.loc)
	if err != nil {
		return err
	}
	if orphaned || target.Head == entryEnd {
		return nil
	}
	return e.alloc.releaseChain(target.Head)
}

// Rename implements [engine.Engine]. An existing entry at `newPath` is
// replaced if it's a file, or an empty directory and the source is also a
// directory.
func (e *Engine) Rename(oldPath, newPath string) engine.Status {
	return engine.StatusOf(e.rename(oldPath, newPath))
}

func (e *Engine) rename(oldPath, newPath string) error {
	err := e.checkMounted()
	if err != nil {
		return err
	}

	source, err := e.resolve(oldPath)
	if err != nil {
		return err
	}
	if source.isRoot {
		return errors.NewWithMessage(errors.EINVAL, "can't rename the root directory")
	}

	oldParts := splitPath(oldPath)
	newParts := splitPath(newPath)
	if slices.Equal(oldParts, newParts) {
		return nil
	}
	if source.isDir() && len(newParts) > len(oldParts) &&
		slices.Equal(oldParts, newParts[:len(oldParts)]) {
		return errors.NewWithMessage(
			errors.EINVAL,
			fmt.Sprintf("can't move %q into itself", oldPath),
		)
	}

	parent, name, err := e.resolveParent(newPath)
	if err != nil {
		return err
	}

	existing, found, err := e.lookup(parent.record, name)
	if err != nil {
		return err
	}
	if found {
		if existing.isDir() && !source.isDir() {
			return errors.NewWithMessage(errors.EISDIR, newPath)
		}
		if !existing.isDir() && source.isDir() {
			return errors.NewWithMessage(errors.ENOTDIR, newPath)
		}
		err = e.removeEntry(existing)
		if err != nil {
			return err
		}
	}

	moved := source.record
	moved.Name = name
	newLoc, err := e.addRecord(parent.record, moved)
	if err != nil {
		return err
	}

	err = e.clearRecord(source.loc)
	if err != nil {
		return err
	}

	for file := range e.openFiles {
		if file.loc == source.loc && !file.orphaned {
			file.loc = newLoc
			file.name = name
		}
	}
	return e.commit()
}

// Stat implements [engine.Engine].
func (e *Engine) Stat(path string, info *engine.Info) engine.Status {
	return engine.StatusOf(e.stat(path, info))
}

func (e *Engine) stat(path string, info *engine.Info) error {
	err := e.checkMounted()
	if err != nil {
		return err
	}

	target, err := e.resolve(path)
	if err != nil {
		return err
	}
	return e.describe(target, info)
}

// describe fills `info` for `target`. Files that are open may have a size
// newer than what's on disk, so that takes precedence.
func (e *Engine) describe(target entry, info *engine.Info) error {
	size := target.Size
	if target.isDir() {
		size = 0
	} else {
		for file := range e.openFiles {
			if file.loc == target.loc && !file.orphaned {
				size = file.size
			}
		}
	}
	return info.Set(uint8(target.Type), size, target.Name)
}

// Mkdir implements [engine.Engine].
func (e *Engine) Mkdir(path string) engine.Status {
	return engine.StatusOf(e.mkdir(path))
}

func (e *Engine) mkdir(path string) error {
	err := e.checkMounted()
	if err != nil {
		return err
	}

	parent, name, err := e.resolveParent(path)
	if err != nil {
		return err
	}

	_, found, err := e.lookup(parent.record, name)
	if err != nil {
		return err
	}
	if found {
		return errors.NewWithMessage(errors.EEXIST, path)
	}

	head, err := e.newDirBlock()
	if err != nil {
		return err
	}

	_, err = e.addRecord(
		parent.record,
		record{Type: flashfs.TypeDir, Head: head, Name: name},
	)
	if err != nil {
		// Don't care if this fails, we're already returning an error.
		_ = e.alloc.release(head)
		return err
	}
	return e.commit()
}

// NewFile implements [engine.Engine].
func (e *Engine) NewFile() engine.File {
	e.driver.ledger.Acquire(engine.KindFile)
	return &File{engine: e}
}

// NewDir implements [engine.Engine].
func (e *Engine) NewDir() engine.Dir {
	e.driver.ledger.Acquire(engine.KindDir)
	return &Dir{engine: e}
}

// NewInfo implements [engine.Engine].
func (e *Engine) NewInfo() *engine.Info {
	e.driver.ledger.Acquire(engine.KindInfo)
	return new(engine.Info)
}

// ReleaseInfo implements [engine.Engine].
func (e *Engine) ReleaseInfo(info *engine.Info) {
	info.Reset()
	e.driver.ledger.Release(engine.KindInfo)
}

// Release implements [engine.Engine]. Releasing an instance twice panics.
func (e *Engine) Release() {
	if e.released {
		panic("chainfs: engine released twice")
	}
	e.released = true
	e.mounted = false
	e.table = nil
	e.alloc = nil
	e.driver.ledger.Release(engine.KindEngine)
}
