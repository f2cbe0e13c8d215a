// Package blockcache provides a write-back cache over a fixed run of blocks,
// presenting them as one linear byte range. Blocks are fetched on first access
// and written back only if modified.
//
// All block indices begin at 0 and are relative to the start of the cached
// run, not the device.
package blockcache

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/flashfs/errors"
)

// FetchBlockCallback is a pointer to a function that writes the contents of a
// single block from the backing storage into `buffer`. The following guarantees
// apply:
//
// - `blockIndex` is in the range [0, TotalBlocks).
// - `buffer` is always BytesPerBlock bytes.
type FetchBlockCallback func(blockIndex uint32, buffer []byte) error

// FlushBlockCallback is a pointer to a function that writes the contents of the
// given buffer to a block in the backing storage. All restrictions and
// guarantees in [FetchBlockCallback] apply here too.
type FlushBlockCallback func(blockIndex uint32, buffer []byte) error

type BlockCache struct {
	loadedBlocks  bitmap.Bitmap
	dirtyBlocks   bitmap.Bitmap
	fetch         FetchBlockCallback
	flush         FlushBlockCallback
	bytesPerBlock uint
	totalBlocks   uint
	data          []byte
}

// New creates a new BlockCache. `fetchCb` reads a single block from the
// backing storage and `flushCb` writes one back.
func New(
	bytesPerBlock uint,
	totalBlocks uint,
	fetchCb FetchBlockCallback,
	flushCb FlushBlockCallback,
) *BlockCache {
	return &BlockCache{
		loadedBlocks:  bitmap.New(int(totalBlocks)),
		dirtyBlocks:   bitmap.New(int(totalBlocks)),
		data:          make([]byte, int(bytesPerBlock*totalBlocks)),
		fetch:         fetchCb,
		flush:         flushCb,
		bytesPerBlock: bytesPerBlock,
		totalBlocks:   totalBlocks,
	}
}

// BytesPerBlock returns the size of a single block, in bytes.
func (cache *BlockCache) BytesPerBlock() uint {
	return cache.bytesPerBlock
}

// TotalBlocks returns the size of the cache, in blocks.
func (cache *BlockCache) TotalBlocks() uint {
	return cache.totalBlocks
}

// Size gives the size of the cache, in bytes (not blocks!).
func (cache *BlockCache) Size() int64 {
	return int64(cache.bytesPerBlock) * int64(cache.totalBlocks)
}

// checkRange verifies that `length` bytes can be accessed starting at byte
// `offset`.
func (cache *BlockCache) checkRange(offset int64, length int) error {
	if offset < 0 || offset+int64(length) > cache.Size() {
		return errors.NewWithMessage(
			errors.EINVAL,
			fmt.Sprintf(
				"can't access %d bytes at offset %d; range not in [0, %d)",
				length,
				offset,
				cache.Size(),
			),
		)
	}
	return nil
}

// blockSpan gives the first block and number of blocks touched by `length`
// bytes at `offset`.
func (cache *BlockCache) blockSpan(offset int64, length int) (uint, uint) {
	if length == 0 {
		return uint(offset) / cache.bytesPerBlock, 0
	}
	first := uint(offset) / cache.bytesPerBlock
	last := (uint(offset) + uint(length) - 1) / cache.bytesPerBlock
	return first, last - first + 1
}

// loadBlockRange ensures that all blocks in the range [start, start + count) are
// present in the cache, and loads any missing ones from storage.
func (cache *BlockCache) loadBlockRange(start, count uint) error {
	for blockIndex := start; blockIndex < start+count; blockIndex++ {
		// Skip if the block is in the cache. Since dirty blocks are present by
		// definition, we don't need to check `dirtyBlocks`.
		if cache.loadedBlocks.Get(int(blockIndex)) {
			continue
		}

		offset := blockIndex * cache.bytesPerBlock
		buffer := cache.data[offset : offset+cache.bytesPerBlock]

		err := cache.fetch(uint32(blockIndex), buffer)
		if err != nil {
			return fmt.Errorf("failed to load block %d from source: %w", blockIndex, err)
		}

		// Mark the block as present and clean.
		cache.loadedBlocks.Set(int(blockIndex), true)
		cache.dirtyBlocks.Set(int(blockIndex), false)
	}
	return nil
}

// ReadAt copies bytes out of the cache starting at byte `offset`, loading any
// blocks not yet present. It implements [io.ReaderAt] except that reading
// past the end is an error rather than a short read.
func (cache *BlockCache) ReadAt(buffer []byte, offset int64) (int, error) {
	err := cache.checkRange(offset, len(buffer))
	if err != nil {
		return 0, err
	}

	first, count := cache.blockSpan(offset, len(buffer))
	err = cache.loadBlockRange(first, count)
	if err != nil {
		return 0, err
	}
	return copy(buffer, cache.data[offset:]), nil
}

// WriteAt copies bytes into the cache starting at byte `offset`. Blocks that
// are only partly overwritten are loaded first. Every touched block is marked
// dirty.
func (cache *BlockCache) WriteAt(buffer []byte, offset int64) (int, error) {
	err := cache.checkRange(offset, len(buffer))
	if err != nil {
		return 0, err
	}

	first, count := cache.blockSpan(offset, len(buffer))
	err = cache.loadBlockRange(first, count)
	if err != nil {
		return 0, err
	}

	n := copy(cache.data[offset:], buffer)
	for i := first; i < first+count; i++ {
		cache.dirtyBlocks.Set(int(i), true)
	}
	return n, nil
}

// Fill marks every block loaded and dirty with `value` in every byte, without
// fetching anything from storage. This is used to initialize fresh storage.
func (cache *BlockCache) Fill(value byte) {
	for i := range cache.data {
		cache.data[i] = value
	}
	for i := uint(0); i < cache.totalBlocks; i++ {
		cache.loadedBlocks.Set(int(i), true)
		cache.dirtyBlocks.Set(int(i), true)
	}
}

// Dirty reports whether any block has changes not yet flushed.
func (cache *BlockCache) Dirty() bool {
	for i := uint(0); i < cache.totalBlocks; i++ {
		if cache.dirtyBlocks.Get(int(i)) {
			return true
		}
	}
	return false
}

// Flush writes out all dirty blocks (and only dirty blocks) to the underlying
// storage and marks them as clean.
func (cache *BlockCache) Flush() error {
	for blockIndex := uint(0); blockIndex < cache.totalBlocks; blockIndex++ {
		// Skip if the block is clean. This also skips over blocks that aren't
		// loaded, since missing blocks are considered clean.
		if !cache.dirtyBlocks.Get(int(blockIndex)) {
			continue
		}

		offset := blockIndex * cache.bytesPerBlock
		err := cache.flush(uint32(blockIndex), cache.data[offset:offset+cache.bytesPerBlock])
		if err != nil {
			return fmt.Errorf("failed to flush block %d to storage: %w", blockIndex, err)
		}

		// Mark the flushed block as clean.
		cache.dirtyBlocks.Set(int(blockIndex), false)
	}
	return nil
}

// Invalidate drops every cached block, dirty or not. The next access fetches
// from storage again.
func (cache *BlockCache) Invalidate() {
	for i := uint(0); i < cache.totalBlocks; i++ {
		cache.loadedBlocks.Set(int(i), false)
		cache.dirtyBlocks.Set(int(i), false)
	}
}
