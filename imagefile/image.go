package imagefile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/dargueta/flashfs/blockdevice"
	"github.com/dargueta/flashfs/errors"
	"github.com/noxer/bytewriter"
)

const formatVersion = 1

var imageMagic = [4]byte{'F', 'F', 'I', 'M'}

// HeaderSize is the size of the header at the start of every image.
const HeaderSize = 32

// Header describes the image that follows it. Checksum is the CRC32 of the
// uncompressed device contents.
type Header struct {
	Magic      [4]byte
	Version    uint8
	Codec      Codec
	EraseValue uint8
	Reserved   uint8
	ReadSize   uint32
	ProgSize   uint32
	EraseSize  uint32
	TotalSize  uint64
	Checksum   uint32
}

// Info returns the device geometry recorded in the header.
func (h Header) Info() blockdevice.Info {
	return blockdevice.Info{
		ReadSize:  h.ReadSize,
		ProgSize:  h.ProgSize,
		EraseSize: h.EraseSize,
		TotalSize: h.TotalSize,
	}
}

func (h Header) encode() ([]byte, error) {
	buffer := make([]byte, HeaderSize)
	err := binary.Write(bytewriter.New(buffer), binary.LittleEndian, &h)
	return buffer, err
}

// ReadHeader reads and validates an image header from `r`.
func ReadHeader(r io.Reader) (Header, error) {
	var header Header

	raw := make([]byte, HeaderSize)
	_, err := io.ReadFull(r, raw)
	if err != nil {
		return header, errors.NewFromError(
			errors.ECORRUPT, fmt.Errorf("image header truncated: %w", err))
	}

	err = binary.Read(bytes.NewReader(raw), binary.LittleEndian, &header)
	if err != nil {
		return header, errors.NewFromError(errors.ECORRUPT, err)
	}

	if header.Magic != imageMagic {
		return header, errors.NewWithMessage(
			errors.ECORRUPT, fmt.Sprintf("bad image magic %q", header.Magic[:]))
	}
	if header.Version != formatVersion {
		return header, errors.NewWithMessage(
			errors.ECORRUPT,
			fmt.Sprintf("unsupported image version %d", header.Version),
		)
	}
	if header.EraseSize == 0 || header.TotalSize%uint64(header.EraseSize) != 0 {
		return header, errors.NewWithMessage(
			errors.ECORRUPT,
			fmt.Sprintf(
				"image size %d isn't a multiple of its erase size %d",
				header.TotalSize, header.EraseSize),
		)
	}
	if header.TotalSize > math.MaxInt32 {
		return header, errors.NewWithMessage(
			errors.EFBIG, fmt.Sprintf("image of %d bytes is too large", header.TotalSize))
	}
	return header, nil
}

// Save writes `device` to `w` as an image compressed with `codec`, and returns
// the number of bytes written. LZ4 falls back to storing the contents
// uncompressed if they don't compress.
func Save(w io.Writer, device *blockdevice.Memory, codec Codec) (int64, error) {
	info := device.Info()

	var contents bytes.Buffer
	contents.Grow(int(info.TotalSize))
	_, err := device.WriteTo(&contents)
	if err != nil {
		return 0, err
	}

	payload, used, err := compress(contents.Bytes(), codec)
	if err != nil {
		return 0, err
	}

	header := Header{
		Magic:      imageMagic,
		Version:    formatVersion,
		Codec:      used,
		EraseValue: device.EraseValue(),
		ReadSize:   info.ReadSize,
		ProgSize:   info.ProgSize,
		EraseSize:  info.EraseSize,
		TotalSize:  info.TotalSize,
		Checksum:   crc32.ChecksumIEEE(contents.Bytes()),
	}
	rawHeader, err := header.encode()
	if err != nil {
		return 0, err
	}

	total := int64(0)
	for _, chunk := range [][]byte{rawHeader, payload} {
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Load reads an image from `r` and returns a memory device holding its
// contents, along with the codec the image was stored with. `options` are
// applied after the erase value recorded in the image.
func Load(r io.Reader, options ...blockdevice.MemoryOption) (*blockdevice.Memory, Codec, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return nil, CodecNone, err
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, header.Codec, errors.NewFromError(errors.EIO, err)
	}

	contents, err := decompress(payload, header.Codec, int(header.TotalSize))
	if err != nil {
		return nil, header.Codec, err
	}

	checksum := crc32.ChecksumIEEE(contents)
	if checksum != header.Checksum {
		return nil, header.Codec, errors.NewWithMessage(
			errors.ECORRUPT,
			fmt.Sprintf(
				"image checksum mismatch: header says %08x, contents are %08x",
				header.Checksum, checksum),
		)
	}

	allOptions := append(
		[]blockdevice.MemoryOption{blockdevice.WithEraseValue(header.EraseValue)},
		options...)
	device := blockdevice.NewMemory(
		header.ReadSize, header.ProgSize, header.EraseSize, header.TotalSize, allOptions...)

	_, err = device.ReadFrom(bytes.NewReader(contents))
	if err != nil {
		return nil, header.Codec, err
	}
	return device, header.Codec, nil
}
