package testing

import (
	"crypto/rand"
	"testing"

	"github.com/dargueta/flashfs/blockdevice"
	"github.com/stretchr/testify/require"
)

// Geometry of the devices created by [NewMemoryDevice].
const (
	ReadSize  = 16
	ProgSize  = 16
	BlockSize = 512
)

// NewMemoryDevice creates an empty in-memory device with `blockCount` blocks
// of [BlockSize] bytes.
func NewMemoryDevice(t *testing.T, blockCount uint32, options ...blockdevice.MemoryOption) *blockdevice.Memory {
	device := blockdevice.NewMemory(
		ReadSize, ProgSize, BlockSize, uint64(blockCount)*BlockSize, options...)
	require.EqualValues(t, blockCount, device.Info().BlockCount(), "wrong block count")
	return device
}

// CreateRandomImage creates an image with the given number of blocks and
// bytes per block, filled with random data. It is guaranteed to either return
// a valid slice or fail the test and abort.
func CreateRandomImage(bytesPerBlock, totalBlocks uint, t *testing.T) []byte {
	backingData := make([]byte, bytesPerBlock*totalBlocks)

	_, err := rand.Read(backingData)
	require.NoErrorf(
		t,
		err,
		"failed to initialize %d blocks of size %d with random bytes",
		totalBlocks,
		bytesPerBlock,
	)
	return backingData
}
