package imagefile

import (
	"bytes"
	"fmt"

	"github.com/dargueta/flashfs/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies how an image's payload is compressed. The values are
// stored in image headers and must not change.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecRLE8 Codec = 1
	CodecZstd Codec = 2
	CodecLZ4  Codec = 3
)

// Codecs lists every supported codec, in header order.
var Codecs = []Codec{CodecNone, CodecRLE8, CodecZstd, CodecLZ4}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecRLE8:
		return "rle8"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec returns the codec with the given name. An empty name means
// [CodecNone].
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return CodecNone, nil
	case "rle8":
		return CodecRLE8, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return 0, errors.NewWithMessage(
			errors.EINVAL, fmt.Sprintf("unknown image codec %q", name))
	}
}

// UnmarshalText lets codecs be read straight out of config files.
func (c *Codec) UnmarshalText(text []byte) error {
	parsed, err := ParseCodec(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Codec) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use with EncodeAll
// and DecodeAll, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		panic("imagefile: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("imagefile: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns the compressed form of `data` and the codec actually used.
// LZ4 falls back to [CodecNone] when the data doesn't compress.
func compress(data []byte, codec Codec) ([]byte, Codec, error) {
	switch codec {
	case CodecNone:
		return data, CodecNone, nil

	case CodecRLE8:
		var buffer bytes.Buffer
		// The images aren't huge, so the speed difference between the default
		// and best levels isn't noticeable.
		gzWriter, err := gzip.NewWriterLevel(&buffer, gzip.BestCompression)
		if err != nil {
			return nil, codec, err
		}

		_, err = encodeRLE8(data, gzWriter)
		if err != nil {
			gzWriter.Close()
			return nil, codec, fmt.Errorf("rle8 compress: %w", err)
		}
		if err = gzWriter.Close(); err != nil {
			return nil, codec, fmt.Errorf("rle8 compress: %w", err)
		}
		return buffer.Bytes(), codec, nil

	case CodecZstd:
		return zstdEncoder.EncodeAll(data, nil), codec, nil

	case CodecLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, codec, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input, and random data
		// can come out larger than it went in.
		if written == 0 || written >= len(data) {
			return data, CodecNone, nil
		}
		return destination[:written], codec, nil

	default:
		return nil, codec, errors.NewWithMessage(
			errors.EINVAL, fmt.Sprintf("unsupported image codec %s", codec))
	}
}

// decompress reverses [compress]. The result must be exactly `size` bytes.
func decompress(payload []byte, codec Codec, size int) ([]byte, error) {
	var result []byte

	switch codec {
	case CodecNone:
		result = payload

	case CodecRLE8:
		gzReader, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, errors.NewFromError(errors.ECORRUPT, err)
		}
		defer gzReader.Close()

		var buffer bytes.Buffer
		buffer.Grow(size)
		_, err = decodeRLE8(gzReader, &buffer)
		if err != nil {
			return nil, errors.NewFromError(errors.ECORRUPT, err)
		}
		result = buffer.Bytes()

	case CodecZstd:
		decoded, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, errors.NewFromError(errors.ECORRUPT, err)
		}
		result = decoded

	case CodecLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, errors.NewFromError(errors.ECORRUPT, err)
		}
		result = destination[:read]

	default:
		return nil, errors.NewWithMessage(
			errors.ECORRUPT, fmt.Sprintf("unsupported image codec %s", codec))
	}

	if len(result) != size {
		return nil, errors.NewWithMessage(
			errors.ECORRUPT,
			fmt.Sprintf(
				"%s payload decoded to %d bytes, expected %d", codec, len(result), size),
		)
	}
	return result, nil
}
