package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dargueta/flashfs/errors"
)

// NameMax is the longest name an info record can hold, not counting the
// terminating null byte.
const NameMax = 255

// InfoSize is the size of an info record in bytes.
const InfoSize = infoNameOffset + NameMax + 1

const (
	infoTypeOffset = 0
	infoSizeOffset = 4
	infoNameOffset = 8
)

// Info is the record an engine fills in to describe a directory entry. The
// layout is fixed so that records can be exchanged with native engines:
//
//	offset 0   entry type (1 byte)
//	offset 4   size, little-endian (4 bytes)
//	offset 8   name, null-terminated
type Info [InfoSize]byte

// Set fills in the record.
func (info *Info) Set(entryType uint8, size uint32, name string) error {
	if len(name) > NameMax {
		return errors.NewWithMessage(
			errors.ENAMETOOLONG,
			fmt.Sprintf("name is %d bytes, max is %d", len(name), NameMax),
		)
	}

	info.Reset()
	info[infoTypeOffset] = entryType
	binary.LittleEndian.PutUint32(info[infoSizeOffset:], size)
	copy(info[infoNameOffset:], name)
	return nil
}

// Reset zeroes the record.
func (info *Info) Reset() {
	*info = Info{}
}

func (info *Info) Type() uint8 {
	return info[infoTypeOffset]
}

func (info *Info) Size() uint32 {
	return binary.LittleEndian.Uint32(info[infoSizeOffset:])
}

// Name returns the name up to (not including) the first null byte.
func (info *Info) Name() string {
	raw := info[infoNameOffset:]
	end := bytes.IndexByte(raw, 0)
	if end < 0 {
		end = len(raw)
	}
	return string(raw[:end])
}
