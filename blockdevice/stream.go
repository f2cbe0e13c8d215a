package blockdevice

import (
	"bytes"
	"errors"
	"io"
)

// ReadWriterAt is the random-access storage a [Stream] device sits on. An
// [os.File] is the typical implementation.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Stream is a device backed by a flat image, e.g. a file on the host. Block N
// lives at byte offset `StartOffset + N * EraseSize`.
//
// Reads past the end of the image (as with a freshly created, empty file) are
// treated as erased storage.
type Stream struct {
	// StartOffset is an offset from the beginning of the image, in bytes, that
	// will be considered the beginning of block 0 for the device. This is
	// useful for skipping over headers or other volumes stored on the same
	// image.
	StartOffset int64

	info       Info
	blockCount uint32
	eraseValue byte
	image      ReadWriterAt
}

// StreamOption configures a [Stream] device.
type StreamOption func(*Stream)

// WithStartOffset sets [Stream.StartOffset].
func WithStartOffset(offset int64) StreamOption {
	return func(s *Stream) {
		s.StartOffset = offset
	}
}

// WithStreamEraseValue sets the byte value erased blocks are filled with.
func WithStreamEraseValue(value byte) StreamOption {
	return func(s *Stream) {
		s.eraseValue = value
	}
}

// NewStream creates a device over `image`. `info.EraseSize` must be nonzero.
func NewStream(image ReadWriterAt, info Info, options ...StreamOption) *Stream {
	device := &Stream{
		info:       info,
		blockCount: info.BlockCount(),
		eraseValue: DefaultEraseValue,
		image:      image,
	}
	for _, option := range options {
		option(device)
	}
	return device
}

func (s *Stream) Info() Info {
	return s.info
}

func (s *Stream) blockOffset(block, offset uint32) int64 {
	return s.StartOffset + int64(block)*int64(s.info.EraseSize) + int64(offset)
}

func (s *Stream) Read(block, offset uint32, buffer []byte) error {
	err := checkIOBounds(block, offset, len(buffer), s.info.EraseSize, s.blockCount)
	if err != nil {
		return err
	}

	n, err := s.image.ReadAt(buffer, s.blockOffset(block, offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	fill(buffer[n:], s.eraseValue)
	return nil
}

func (s *Stream) Prog(block, offset uint32, buffer []byte) error {
	err := checkIOBounds(block, offset, len(buffer), s.info.EraseSize, s.blockCount)
	if err != nil {
		return err
	}

	_, err = s.image.WriteAt(buffer, s.blockOffset(block, offset))
	return err
}

func (s *Stream) Erase(block uint32) error {
	err := checkIOBounds(block, 0, 0, s.info.EraseSize, s.blockCount)
	if err != nil {
		return err
	}

	erased := bytes.Repeat([]byte{s.eraseValue}, int(s.info.EraseSize))
	_, err = s.image.WriteAt(erased, s.blockOffset(block, 0))
	return err
}

// Sync flushes the image if it supports syncing, like an [os.File].
func (s *Stream) Sync() error {
	syncer, ok := s.image.(Syncer)
	if !ok {
		return nil
	}
	return syncer.Sync()
}
