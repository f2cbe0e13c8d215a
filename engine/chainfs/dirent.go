package chainfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dargueta/flashfs"
	"github.com/dargueta/flashfs/errors"
)

// Directory records are fixed-size. A directory is a chain of blocks, each
// holding BlockSize/recordSize records; a record whose type byte is 0 (zeroed)
// or 0xff (erased) is a free slot.
const (
	recordSize       = 64
	recordTypeOffset = 0
	recordSizeOffset = 4
	recordHeadOffset = 8
	recordNameOffset = 12
	recordNameMax    = recordSize - recordNameOffset
)

type record struct {
	Type flashfs.EntryType
	Size uint32
	// Head is the first block of the entry's chain, or entryEnd if it's empty.
	Head uint32
	Name string
}

func (r record) isDir() bool {
	return r.Type == flashfs.TypeDir
}

func decodeRecord(raw []byte) (record, bool) {
	entryType := raw[recordTypeOffset]
	if entryType == 0 || entryType == 0xff {
		return record{}, false
	}

	name := raw[recordNameOffset:recordSize]
	end := bytes.IndexByte(name, 0)
	if end < 0 {
		end = len(name)
	}

	return record{
		Type: flashfs.EntryType(entryType),
		Size: binary.LittleEndian.Uint32(raw[recordSizeOffset:]),
		Head: binary.LittleEndian.Uint32(raw[recordHeadOffset:]),
		Name: string(name[:end]),
	}, true
}

func (r record) encode(raw []byte) {
	clear(raw[:recordSize])
	raw[recordTypeOffset] = uint8(r.Type)
	binary.LittleEndian.PutUint32(raw[recordSizeOffset:], r.Size)
	binary.LittleEndian.PutUint32(raw[recordHeadOffset:], r.Head)
	copy(raw[recordNameOffset:recordSize], r.Name)
}

// location is the address of a record: the directory block it's in and its
// slot within that block.
type location struct {
	block uint32
	index uint32
}

// entry is a resolved path. The root directory has no record on disk, so it
// gets a synthetic one and isRoot is set.
type entry struct {
	record
	loc    location
	isRoot bool
}

func (e *Engine) rootEntry() entry {
	return entry{
		record: record{Type: flashfs.TypeDir, Head: e.sb.RootBlock, Name: "/"},
		isRoot: true,
	}
}

func (e *Engine) recordsPerBlock() uint32 {
	return e.cfg.BlockSize / recordSize
}

func (e *Engine) readBlock(block uint32, buffer []byte) error {
	return e.cfg.Read(block, 0, buffer).Err()
}

// writeBlock erases `block` and programs all of `buffer` into it.
func (e *Engine) writeBlock(block uint32, buffer []byte) error {
	err := e.cfg.Erase(block).Err()
	if err != nil {
		return err
	}
	return e.cfg.Prog(block, 0, buffer).Err()
}

// walkDir calls `fn` for every live record in the directory whose chain starts
// at `head`, in on-disk order. Iteration stops early if `fn` returns true.
func (e *Engine) walkDir(
	head uint32, fn func(loc location, rec record) bool,
) error {
	blocks, err := e.table.chain(head)
	if err != nil {
		return err
	}

	buffer := make([]byte, e.cfg.BlockSize)
	for _, block := range blocks {
		err = e.readBlock(block, buffer)
		if err != nil {
			return err
		}

		for i := uint32(0); i < e.recordsPerBlock(); i++ {
			rec, ok := decodeRecord(buffer[i*recordSize:])
			if ok && fn(location{block, i}, rec) {
				return nil
			}
		}
	}
	return nil
}

func (e *Engine) lookup(dir record, name string) (entry, bool, error) {
	var found entry
	ok := false
	err := e.walkDir(dir.Head, func(loc location, rec record) bool {
		if rec.Name == name {
			found = entry{record: rec, loc: loc}
			ok = true
		}
		return ok
	})
	return found, ok, err
}

func (e *Engine) isEmptyDir(dir record) (bool, error) {
	empty := true
	err := e.walkDir(dir.Head, func(location, record) bool {
		empty = false
		return true
	})
	return empty, err
}

func (e *Engine) writeRecord(loc location, rec record) error {
	buffer := make([]byte, e.cfg.BlockSize)
	err := e.readBlock(loc.block, buffer)
	if err != nil {
		return err
	}
	rec.encode(buffer[loc.index*recordSize:])
	return e.writeBlock(loc.block, buffer)
}

func (e *Engine) clearRecord(loc location) error {
	buffer := make([]byte, e.cfg.BlockSize)
	err := e.readBlock(loc.block, buffer)
	if err != nil {
		return err
	}
	clear(buffer[loc.index*recordSize : (loc.index+1)*recordSize])
	return e.writeBlock(loc.block, buffer)
}

// newDirBlock allocates a block and fills it with free records.
func (e *Engine) newDirBlock() (uint32, error) {
	block, err := e.alloc.allocate()
	if err != nil {
		return 0, err
	}

	err = e.writeBlock(block, make([]byte, e.cfg.BlockSize))
	if err != nil {
		return 0, err
	}
	return block, nil
}

// addRecord stores `rec` in the first free slot of `dir`, extending the
// directory's chain by a block if it's full.
func (e *Engine) addRecord(dir record, rec record) (location, error) {
	blocks, err := e.table.chain(dir.Head)
	if err != nil {
		return location{}, err
	}

	buffer := make([]byte, e.cfg.BlockSize)
	for _, block := range blocks {
		err = e.readBlock(block, buffer)
		if err != nil {
			return location{}, err
		}

		for i := uint32(0); i < e.recordsPerBlock(); i++ {
			if _, used := decodeRecord(buffer[i*recordSize:]); used {
				continue
			}
			rec.encode(buffer[i*recordSize:])
			return location{block, i}, e.writeBlock(block, buffer)
		}
	}

	newBlock, err := e.newDirBlock()
	if err != nil {
		return location{}, err
	}
	err = e.table.set(blocks[len(blocks)-1], newBlock)
	if err != nil {
		return location{}, err
	}

	loc := location{newBlock, 0}
	return loc, e.writeRecord(loc, rec)
}

// splitPath breaks a path into its components, resolving "." and "..". Going
// above the root stays at the root.
func splitPath(path string) []string {
	var parts []string
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, part)
		}
	}
	return parts
}

func checkName(name string) error {
	if len(name) > recordNameMax {
		return errors.NewWithMessage(
			errors.ENAMETOOLONG,
			fmt.Sprintf("%q is %d bytes, max is %d", name, len(name), recordNameMax),
		)
	}
	return nil
}

func (e *Engine) walk(parts []string) (entry, error) {
	current := e.rootEntry()
	for i, part := range parts {
		if !current.isDir() {
			return entry{}, errors.NewWithMessage(
				errors.ENOTDIR, "/"+strings.Join(parts[:i], "/"))
		}

		err := checkName(part)
		if err != nil {
			return entry{}, err
		}

		next, found, err := e.lookup(current.record, part)
		if err != nil {
			return entry{}, err
		}
		if !found {
			return entry{}, errors.NewWithMessage(
				errors.ENOENT, "/"+strings.Join(parts[:i+1], "/"))
		}
		current = next
	}
	return current, nil
}

// resolve finds the entry for `path`.
func (e *Engine) resolve(path string) (entry, error) {
	return e.walk(splitPath(path))
}

// resolveParent finds the directory that contains (or would contain) `path`,
// and returns it along with the last component of the path.
func (e *Engine) resolveParent(path string) (entry, string, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return entry{}, "", errors.NewWithMessage(
			errors.EINVAL, "the root directory has no parent")
	}

	name := parts[len(parts)-1]
	err := checkName(name)
	if err != nil {
		return entry{}, "", err
	}

	parent, err := e.walk(parts[:len(parts)-1])
	if err != nil {
		return entry{}, "", err
	}
	if !parent.isDir() {
		return entry{}, "", errors.NewWithMessage(errors.ENOTDIR, path)
	}
	return parent, name, nil
}
