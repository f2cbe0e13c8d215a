package chainfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/dargueta/flashfs/errors"
	"github.com/noxer/bytewriter"
)

const formatVersion = 1

var superblockMagic = [4]byte{'C', 'H', 'F', 'S'}

// superblock is stored at the beginning of block 0. The checksum covers every
// field before it.
type superblock struct {
	Magic       [4]byte
	Version     uint32
	BlockSize   uint32
	BlockCount  uint32
	TableStart  uint32
	TableBlocks uint32
	RootBlock   uint32
	Checksum    uint32
}

const superblockSize = 32
const superblockChecksumOffset = superblockSize - 4

// newSuperblock lays out a fresh filesystem for the given geometry.
func newSuperblock(blockSize, blockCount uint32) superblock {
	tableBlocks := uint32((uint64(blockCount)*4 + uint64(blockSize) - 1) / uint64(blockSize))
	return superblock{
		Magic:       superblockMagic,
		Version:     formatVersion,
		BlockSize:   blockSize,
		BlockCount:  blockCount,
		TableStart:  1,
		TableBlocks: tableBlocks,
		RootBlock:   1 + tableBlocks,
	}
}

// encode writes the superblock to the beginning of `block`, which must be at
// least superblockSize bytes.
func (sb superblock) encode(block []byte) error {
	sb.Checksum = 0
	writer := bytewriter.New(block[:superblockSize])
	err := binary.Write(writer, binary.LittleEndian, &sb)
	if err != nil {
		return err
	}

	checksum := crc32.ChecksumIEEE(block[:superblockChecksumOffset])
	binary.LittleEndian.PutUint32(block[superblockChecksumOffset:], checksum)
	return nil
}

func decodeSuperblock(block []byte) (superblock, error) {
	var sb superblock
	err := binary.Read(
		bytes.NewReader(block[:superblockSize]), binary.LittleEndian, &sb)
	if err != nil {
		return sb, errors.NewFromError(errors.ECORRUPT, err)
	}

	if sb.Magic != superblockMagic {
		return sb, errors.NewWithMessage(
			errors.ECORRUPT,
			fmt.Sprintf("bad superblock magic %q", sb.Magic[:]),
		)
	}

	checksum := crc32.ChecksumIEEE(block[:superblockChecksumOffset])
	if checksum != sb.Checksum {
		return sb, errors.NewWithMessage(
			errors.ECORRUPT,
			fmt.Sprintf("bad superblock checksum %#08x != %#08x", checksum, sb.Checksum),
		)
	}

	if sb.Version != formatVersion {
		return sb, errors.NewWithMessage(
			errors.ECORRUPT,
			fmt.Sprintf("unsupported format version %d", sb.Version),
		)
	}
	return sb, nil
}
