// Package blockdevice defines the low-level I/O contract a storage engine
// drives, along with two backends: an in-memory simulator for tests and a
// device backed by an image file.
//
// Devices are addressed in blocks. Reads and programs take a block index, a
// byte offset within the block, and a buffer; `offset + len(buffer)` must not
// exceed the block size. Erasing resets a whole block to the erased state.
package blockdevice

import (
	"fmt"

	"github.com/dargueta/flashfs/errors"
)

// Info describes the minimum access sizes a device supports. Any field may be
// zero, meaning the device imposes no minimum.
type Info struct {
	// ReadSize is the smallest number of bytes that can be read at once.
	ReadSize uint32 `yaml:"read_size" csv:"read_size"`
	// ProgSize is the smallest number of bytes that can be programmed at once.
	ProgSize uint32 `yaml:"prog_size" csv:"prog_size"`
	// EraseSize is the size of an erase block, in bytes.
	EraseSize uint32 `yaml:"erase_size" csv:"erase_size"`
	// TotalSize is the capacity of the device in bytes.
	TotalSize uint64 `yaml:"total_size" csv:"total_size"`
}

// BlockCount gives the number of erase blocks on the device, or 0 if either the
// erase size or total size is unknown.
func (info Info) BlockCount() uint32 {
	if info.EraseSize == 0 {
		return 0
	}
	return uint32(info.TotalSize / uint64(info.EraseSize))
}

// Device is the minimal contract every backend implements.
type Device interface {
	Info() Info
	// Read fills `buffer` with data from `block`, starting at `offset`.
	Read(block, offset uint32, buffer []byte) error
	// Prog writes `buffer` into `block`, starting at `offset`.
	Prog(block, offset uint32, buffer []byte) error
}

// Eraser is implemented by devices with erase semantics. Devices without it
// are treated as if erasing were a no-op.
type Eraser interface {
	Erase(block uint32) error
}

// Syncer is implemented by devices that buffer writes.
type Syncer interface {
	Sync() error
}

// Erase erases a block on `device` if the device supports it, and does nothing
// otherwise.
func Erase(device Device, block uint32) error {
	eraser, ok := device.(Eraser)
	if !ok {
		return nil
	}
	return eraser.Erase(block)
}

// Sync flushes `device` if it buffers writes, and does nothing otherwise.
func Sync(device Device) error {
	syncer, ok := device.(Syncer)
	if !ok {
		return nil
	}
	return syncer.Sync()
}

// checkIOBounds verifies an access of `length` bytes at `offset` in `block`
// fits on a device with the given geometry. A zero block size or block count
// disables the corresponding check.
func checkIOBounds(
	block, offset uint32, length int, blockSize, blockCount uint32,
) error {
	if blockCount != 0 && block >= blockCount {
		return errors.NewWithMessage(
			errors.EINVAL,
			fmt.Sprintf("invalid block ID %d: not in range [0, %d)", block, blockCount),
		)
	}

	if blockSize != 0 && uint64(offset)+uint64(length) > uint64(blockSize) {
		return errors.NewWithMessage(
			errors.EINVAL,
			fmt.Sprintf(
				"access of %d bytes at offset %d extends past the end of block %d (%d B)",
				length,
				offset,
				block,
				blockSize,
			),
		)
	}
	return nil
}

func fill(buffer []byte, value byte) {
	for i := range buffer {
		buffer[i] = value
	}
}
