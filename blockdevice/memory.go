package blockdevice

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/dargueta/flashfs/errors"
)

// DefaultEraseValue is the value erased NOR and NAND flash reads back as.
const DefaultEraseValue = 0xff

// ReadHook is called before every read. Returning false suppresses the read:
// the device reports success without touching storage or the buffer.
type ReadHook func(block, offset uint32, size int) bool

// ProgHook is called before every program. Returning false suppresses the
// write, again reporting success.
type ProgHook func(block, offset uint32, size int) bool

// EraseHook is called before every erase. It can only observe.
type EraseHook func(block uint32)

// Memory is a simulated flash device held in memory. Storage is sparse: blocks
// that have never been programmed, or have been erased since, take up no space
// and read back as the erase value.
//
// Unlike real flash, programming doesn't require the target bytes to have been
// erased first.
type Memory struct {
	// OnRead, OnProg and OnErase let tests observe or blackhole device
	// traffic. Any of them may be nil.
	OnRead  ReadHook
	OnProg  ProgHook
	OnErase EraseHook

	info       Info
	blockCount uint32
	eraseValue byte
	blocks     map[uint32][]byte
}

// MemoryOption configures a [Memory] device.
type MemoryOption func(*Memory)

// WithEraseValue sets the byte value erased blocks read back as. The default is
// [DefaultEraseValue].
func WithEraseValue(value byte) MemoryOption {
	return func(m *Memory) {
		m.eraseValue = value
	}
}

// NewMemory creates an empty (fully erased) simulated device. `eraseSize` is
// also the size of a block as far as reads and programs are concerned.
func NewMemory(
	readSize, progSize, eraseSize uint32, totalSize uint64, options ...MemoryOption,
) *Memory {
	device := &Memory{
		info: Info{
			ReadSize:  readSize,
			ProgSize:  progSize,
			EraseSize: eraseSize,
			TotalSize: totalSize,
		},
		eraseValue: DefaultEraseValue,
		blocks:     make(map[uint32][]byte),
	}
	device.blockCount = device.info.BlockCount()

	for _, option := range options {
		option(device)
	}
	return device
}

func (m *Memory) Info() Info {
	return m.info
}

// EraseValue returns the byte value erased storage reads back as.
func (m *Memory) EraseValue() byte {
	return m.eraseValue
}

func (m *Memory) Read(block, offset uint32, buffer []byte) error {
	if m.OnRead != nil && !m.OnRead(block, offset, len(buffer)) {
		return nil
	}

	err := checkIOBounds(block, offset, len(buffer), m.info.EraseSize, m.blockCount)
	if err != nil {
		return err
	}

	data, present := m.blocks[block]
	if !present {
		fill(buffer, m.eraseValue)
		return nil
	}

	// Blocks on a device without a fixed erase size grow to fit whatever has
	// been programmed, so anything past the end is still erased.
	n := 0
	if int(offset) < len(data) {
		n = copy(buffer, data[offset:])
	}
	fill(buffer[n:], m.eraseValue)
	return nil
}

func (m *Memory) Prog(block, offset uint32, buffer []byte) error {
	if m.OnProg != nil && !m.OnProg(block, offset, len(buffer)) {
		return nil
	}

	err := checkIOBounds(block, offset, len(buffer), m.info.EraseSize, m.blockCount)
	if err != nil {
		return err
	}

	data := m.materialize(block, int(offset)+len(buffer))
	copy(data[offset:], buffer)
	return nil
}

func (m *Memory) Erase(block uint32) error {
	if m.OnErase != nil {
		m.OnErase(block)
	}

	err := checkIOBounds(block, 0, 0, m.info.EraseSize, m.blockCount)
	if err != nil {
		return err
	}

	delete(m.blocks, block)
	return nil
}

// Sync does nothing; memory is always in sync.
func (m *Memory) Sync() error {
	return nil
}

// materialize returns the backing buffer for `block`, creating it filled with
// the erase value if needed. `minLength` only matters for devices without an
// erase size.
func (m *Memory) materialize(block uint32, minLength int) []byte {
	data, present := m.blocks[block]
	length := int(m.info.EraseSize)
	if length == 0 {
		length = minLength
	}

	if !present {
		data = bytes.Repeat([]byte{m.eraseValue}, length)
		m.blocks[block] = data
	} else if len(data) < length {
		grown := bytes.Repeat([]byte{m.eraseValue}, length)
		copy(grown, data)
		data = grown
		m.blocks[block] = data
	}
	return data
}

// Materialized reports whether `block` currently occupies storage.
func (m *Memory) Materialized(block uint32) bool {
	_, present := m.blocks[block]
	return present
}

// MaterializedBlocks returns the sorted indices of every block that occupies
// storage.
func (m *Memory) MaterializedBlocks() []uint32 {
	indices := make([]uint32, 0, len(m.blocks))
	for index := range m.blocks {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// WriteTo writes a flat image of the whole device to `w`, with erased blocks
// filled in. The device must have a known erase size and total size.
func (m *Memory) WriteTo(w io.Writer) (int64, error) {
	if m.info.EraseSize == 0 || m.blockCount == 0 {
		return 0, errors.NewWithMessage(
			errors.EINVAL, "can't dump a device with no fixed geometry")
	}

	erased := bytes.Repeat([]byte{m.eraseValue}, int(m.info.EraseSize))
	total := int64(0)
	for block := uint32(0); block < m.blockCount; block++ {
		data, present := m.blocks[block]
		if !present {
			data = erased
		}

		n, err := w.Write(data)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadFrom replaces the device contents with a flat image read from `r`. Blocks
// consisting entirely of the erase value are left unmaterialized.
func (m *Memory) ReadFrom(r io.Reader) (int64, error) {
	if m.info.EraseSize == 0 || m.blockCount == 0 {
		return 0, errors.NewWithMessage(
			errors.EINVAL, "can't load a device with no fixed geometry")
	}

	erased := bytes.Repeat([]byte{m.eraseValue}, int(m.info.EraseSize))
	blocks := make(map[uint32][]byte)
	total := int64(0)

	for block := uint32(0); block < m.blockCount; block++ {
		data := make([]byte, m.info.EraseSize)
		n, err := io.ReadFull(r, data)
		total += int64(n)
		if err != nil {
			return total, errors.NewFromError(
				errors.EIO,
				fmt.Errorf("image truncated in block %d of %d: %w", block, m.blockCount, err),
			)
		}

		if !bytes.Equal(data, erased) {
			blocks[block] = data
		}
	}

	m.blocks = blocks
	return total, nil
}
