package imagefile_test

import (
	"bytes"
	"testing"

	"github.com/dargueta/flashfs/blockdevice"
	"github.com/dargueta/flashfs/errors"
	"github.com/dargueta/flashfs/imagefile"
	ft "github.com/dargueta/flashfs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dumpDevice(t *testing.T, device *blockdevice.Memory) []byte {
	var buffer bytes.Buffer
	_, err := device.WriteTo(&buffer)
	require.NoError(t, err)
	return buffer.Bytes()
}

// newPartialDevice returns a device with a few programmed blocks and the rest
// erased, which is what a freshly formatted filesystem looks like.
func newPartialDevice(t *testing.T) *blockdevice.Memory {
	device := ft.NewMemoryDevice(t, 32)
	random := ft.CreateRandomImage(ft.BlockSize, 3, t)
	for i := uint32(0); i < 3; i++ {
		block := random[i*ft.BlockSize : (i+1)*ft.BlockSize]
		require.NoError(t, device.Prog(i*7, 0, block))
	}
	require.NoError(t, device.Prog(30, 16, bytes.Repeat([]byte{0}, 64)))
	return device
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, codec := range imagefile.Codecs {
		t.Run(codec.String(), func(t *testing.T) {
			device := newPartialDevice(t)

			var image bytes.Buffer
			n, err := imagefile.Save(&image, device, codec)
			require.NoError(t, err)
			assert.EqualValues(t, image.Len(), n)
			t.Logf("%s image: %d -> %d bytes", codec, device.Info().TotalSize, n)

			loaded, loadedCodec, err := imagefile.Load(bytes.NewReader(image.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, codec, loadedCodec)
			assert.Equal(t, device.Info(), loaded.Info())
			assert.Equal(t, dumpDevice(t, device), dumpDevice(t, loaded))

			// Erased blocks stay sparse after loading.
			assert.Equal(t, device.MaterializedBlocks(), loaded.MaterializedBlocks())
		})
	}
}

func TestCompressionShrinksErasedImages(t *testing.T) {
	device := ft.NewMemoryDevice(t, 64)
	for _, codec := range []imagefile.Codec{imagefile.CodecRLE8, imagefile.CodecZstd, imagefile.CodecLZ4} {
		var image bytes.Buffer
		n, err := imagefile.Save(&image, device, codec)
		require.NoError(t, err)
		assert.Less(t, n, int64(device.Info().TotalSize/16), "%s didn't compress", codec)
	}
}

func TestLZ4FallsBackOnRandomData(t *testing.T) {
	device := ft.NewMemoryDevice(t, 4)
	random := ft.CreateRandomImage(ft.BlockSize, 4, t)
	for i := uint32(0); i < 4; i++ {
		require.NoError(t, device.Prog(i, 0, random[i*ft.BlockSize:(i+1)*ft.BlockSize]))
	}

	var image bytes.Buffer
	_, err := imagefile.Save(&image, device, imagefile.CodecLZ4)
	require.NoError(t, err)

	loaded, codec, err := imagefile.Load(&image)
	require.NoError(t, err)
	assert.Equal(t, imagefile.CodecNone, codec)
	assert.Equal(t, random, dumpDevice(t, loaded))
}

func TestLoadKeepsEraseValue(t *testing.T) {
	device := ft.NewMemoryDevice(t, 8, blockdevice.WithEraseValue(0))
	require.NoError(t, device.Prog(2, 0, []byte("data")))

	var image bytes.Buffer
	_, err := imagefile.Save(&image, device, imagefile.CodecRLE8)
	require.NoError(t, err)

	loaded, _, err := imagefile.Load(&image)
	require.NoError(t, err)
	assert.EqualValues(t, 0, loaded.EraseValue())
	assert.Equal(t, []uint32{2}, loaded.MaterializedBlocks())
}

func TestLoadRejectsDamagedImages(t *testing.T) {
	device := newPartialDevice(t)
	var image bytes.Buffer
	_, err := imagefile.Save(&image, device, imagefile.CodecNone)
	require.NoError(t, err)
	pristine := image.Bytes()

	damage := map[string]func([]byte) []byte{
		"bad magic": func(data []byte) []byte {
			data[0] = 'X'
			return data
		},
		"bad version": func(data []byte) []byte {
			data[4] = 99
			return data
		},
		"flipped payload bit": func(data []byte) []byte {
			data[imagefile.HeaderSize+5] ^= 0x10
			return data
		},
		"truncated header": func(data []byte) []byte {
			return data[:imagefile.HeaderSize-1]
		},
		"truncated payload": func(data []byte) []byte {
			return data[:len(data)-100]
		},
		"unknown codec": func(data []byte) []byte {
			data[5] = 200
			return data
		},
	}

	for name, corrupt := range damage {
		t.Run(name, func(t *testing.T) {
			data := corrupt(bytes.Clone(pristine))
			_, _, err := imagefile.Load(bytes.NewReader(data))
			require.Error(t, err)
			assert.Equal(t, errors.ECORRUPT, errors.ErrnoOf(err), "wrong error: %v", err)
		})
	}
}

func TestReadHeader(t *testing.T) {
	device := ft.NewMemoryDevice(t, 16)
	var image bytes.Buffer
	_, err := imagefile.Save(&image, device, imagefile.CodecZstd)
	require.NoError(t, err)

	header, err := imagefile.ReadHeader(&image)
	require.NoError(t, err)
	assert.Equal(t, imagefile.CodecZstd, header.Codec)
	assert.EqualValues(t, blockdevice.DefaultEraseValue, header.EraseValue)
	assert.Equal(t, device.Info(), header.Info())
}

func TestParseCodec(t *testing.T) {
	for _, codec := range imagefile.Codecs {
		parsed, err := imagefile.ParseCodec(codec.String())
		require.NoError(t, err)
		assert.Equal(t, codec, parsed)
	}

	parsed, err := imagefile.ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, imagefile.CodecNone, parsed)

	_, err = imagefile.ParseCodec("bzip2")
	assert.Equal(t, errors.EINVAL, errors.ErrnoOf(err))
	assert.Equal(t, "unknown(9)", imagefile.Codec(9).String())
}
