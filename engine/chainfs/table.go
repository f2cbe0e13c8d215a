package chainfs

import (
	"encoding/binary"
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/flashfs/errors"
	"github.com/dargueta/flashfs/internal/blockcache"
)

// Allocation table markers. Everything below entryReserved is the index of
// the next block in a chain. Erased flash reads back as entryFree, so a freshly
// erased table needs no further initialization.
const (
	entryFree     uint32 = 0xffffffff
	entryEnd      uint32 = 0xfffffffe
	entryReserved uint32 = 0xfffffffd
)

// table is the in-memory view of the allocation table.
type table struct {
	cache      *blockcache.BlockCache
	blockCount uint32
}

func (e *Engine) newTable(sb superblock) *table {
	fetch := func(blockIndex uint32, buffer []byte) error {
		return e.readBlock(sb.TableStart+blockIndex, buffer)
	}
	flush := func(blockIndex uint32, buffer []byte) error {
		return e.writeBlock(sb.TableStart+blockIndex, buffer)
	}

	return &table{
		cache: blockcache.New(
			uint(sb.BlockSize), uint(sb.TableBlocks), fetch, flush),
		blockCount: sb.BlockCount,
	}
}

func (t *table) checkBlock(block uint32) error {
	if block >= t.blockCount {
		return errors.NewWithMessage(
			errors.ECORRUPT,
			fmt.Sprintf("block %d not in range [0, %d)", block, t.blockCount),
		)
	}
	return nil
}

func (t *table) get(block uint32) (uint32, error) {
	err := t.checkBlock(block)
	if err != nil {
		return 0, err
	}

	var raw [4]byte
	_, err = t.cache.ReadAt(raw[:], int64(block)*4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw[:]), nil
}

func (t *table) set(block, value uint32) error {
	err := t.checkBlock(block)
	if err != nil {
		return err
	}

	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], value)
	_, err = t.cache.WriteAt(raw[:], int64(block)*4)
	return err
}

func (t *table) flush() error {
	return t.cache.Flush()
}

// next returns the block following `block` in its chain, or entryEnd.
func (t *table) next(block uint32) (uint32, error) {
	value, err := t.get(block)
	if err != nil {
		return 0, err
	}
	if value == entryEnd || value < t.blockCount {
		return value, nil
	}
	return 0, errors.NewWithMessage(
		errors.ECORRUPT,
		fmt.Sprintf("block %d is in a chain but its table entry is %#08x", block, value),
	)
}

// chain returns every block in the chain beginning at `head`. An empty chain
// has a head of entryEnd.
func (t *table) chain(head uint32) ([]uint32, error) {
	var blocks []uint32
	for current := head; current != entryEnd; {
		if uint32(len(blocks)) >= t.blockCount {
			return nil, errors.NewWithMessage(
				errors.ECORRUPT,
				fmt.Sprintf("chain starting at block %d has a cycle", head),
			)
		}

		err := t.checkBlock(current)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, current)

		current, err = t.next(current)
		if err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

// allocator hands out free blocks from a sliding lookahead window. The window
// is a bitmap of `size` blocks starting at `start`; a set bit means the block
// is in use.
type allocator struct {
	table   *table
	window  bitmap.Bitmap
	size    uint32
	start   uint32
	next    uint32
	scanned uint32
}

func newAllocator(t *table, lookahead uint32) (*allocator, error) {
	size := lookahead
	if size > t.blockCount || size == 0 {
		size = t.blockCount
	}

	alloc := &allocator{
		table:  t,
		window: bitmap.New(int(size)),
		size:   size,
	}
	return alloc, alloc.fill()
}

// fill rebuilds the window from the table.
func (a *allocator) fill() error {
	for i := uint32(0); i < a.size; i++ {
		value, err := a.table.get((a.start + i) % a.table.blockCount)
		if err != nil {
			return err
		}
		a.window.Set(int(i), value != entryFree)
	}
	a.next = 0
	return nil
}

// allocate finds a free block, marks it as the end of a (new) chain, and
// returns it.
func (a *allocator) allocate() (uint32, error) {
	for {
		for a.next < a.size {
			offset := a.next
			a.next++
			if a.window.Get(int(offset)) {
				continue
			}

			block := (a.start + offset) % a.table.blockCount
			a.window.Set(int(offset), true)
			a.scanned = 0
			return block, a.table.set(block, entryEnd)
		}

		// Window exhausted. Once we've looked at every block plus one full
		// window (to pick up blocks freed inside the current one) without
		// finding anything, the device is full.
		a.scanned += a.size
		if a.scanned >= a.table.blockCount+a.size {
			a.scanned = 0
			return 0, errors.New(errors.ENOSPC)
		}

		a.start = (a.start + a.size) % a.table.blockCount
		err := a.fill()
		if err != nil {
			return 0, err
		}
	}
}

// release marks `block` free in the table and, if it falls inside the
// current window, in the window too.
func (a *allocator) release(block uint32) error {
	err := a.table.set(block, entryFree)
	if err != nil {
		return err
	}

	offset := (block + a.table.blockCount - a.start) % a.table.blockCount
	if offset < a.size {
		a.window.Set(int(offset), false)
	}
	return nil
}

// releaseChain frees every block in the chain beginning at `head`.
func (a *allocator) releaseChain(head uint32) error {
	blocks, err := a.table.chain(head)
	if err != nil {
		return err
	}
	for _, block := range blocks {
		err = a.release(block)
		if err != nil {
			return err
		}
	}
	return nil
}
