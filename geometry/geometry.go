// Package geometry works out the read, program and block sizes an engine uses
// on a particular device.
//
// Both the device and the caller can ask for minimums. The device's minimums
// come from its hardware; the caller's are tuning knobs (bigger reads mean
// fewer device calls but more RAM). The effective value of each is the larger
// of the two.
package geometry

import (
	"fmt"
	"math"

	"github.com/dargueta/flashfs/blockdevice"
)

// Defaults used for any hint left at zero.
const (
	DefaultReadSize  = 64
	DefaultProgSize  = 64
	DefaultBlockSize = 512
	DefaultLookahead = 512
)

// Hints are the caller's requested minimums. Zero fields take the defaults.
type Hints struct {
	ReadSize  uint32 `yaml:"read_size"`
	ProgSize  uint32 `yaml:"prog_size"`
	BlockSize uint32 `yaml:"block_size"`
	Lookahead uint32 `yaml:"lookahead"`
}

// Geometry is the negotiated layout an engine is configured with.
type Geometry struct {
	ReadSize   uint32
	ProgSize   uint32
	BlockSize  uint32
	BlockCount uint32
	// Lookahead is the number of blocks the engine's allocator tracks at once.
	// It's always a multiple of 32 big enough to cover the whole device, unless
	// the caller asked for more.
	Lookahead uint32
}

func (g Geometry) String() string {
	return fmt.Sprintf(
		"read=%d prog=%d block=%d count=%d lookahead=%d",
		g.ReadSize,
		g.ProgSize,
		g.BlockSize,
		g.BlockCount,
		g.Lookahead,
	)
}

// TotalSize is the usable capacity in bytes.
func (g Geometry) TotalSize() uint64 {
	return uint64(g.BlockSize) * uint64(g.BlockCount)
}

// Negotiate combines what the device reports with what the caller asked for.
// It never fails: a device reporting no capacity gets a block count of 0, and
// it's up to the engine to reject that when mounting.
func Negotiate(device blockdevice.Info, hints Hints) Geometry {
	g := Geometry{
		ReadSize:  maxOf(device.ReadSize, orDefault(hints.ReadSize, DefaultReadSize)),
		ProgSize:  maxOf(device.ProgSize, orDefault(hints.ProgSize, DefaultProgSize)),
		BlockSize: maxOf(device.EraseSize, orDefault(hints.BlockSize, DefaultBlockSize)),
	}

	g.BlockCount = uint32(device.TotalSize / uint64(g.BlockSize))
	g.Lookahead = maxOf(
		roundUpTo32(g.BlockCount),
		orDefault(hints.Lookahead, DefaultLookahead),
	)
	return g
}

// roundUpTo32 gives 32*ceil(n/32), saturating at the largest multiple of 32
// that fits in a uint32.
func roundUpTo32(n uint32) uint32 {
	rounded := 32 * ((uint64(n) + 31) / 32)
	if rounded > math.MaxUint32 {
		return math.MaxUint32 &^ 31
	}
	return uint32(rounded)
}

func orDefault(value, fallback uint32) uint32 {
	if value == 0 {
		return fallback
	}
	return value
}

func maxOf(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
