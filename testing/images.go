package testing

import (
	"bytes"
	"io"
	"testing"

	"github.com/dargueta/flashfs/blockdevice"
	"github.com/dargueta/flashfs/imagefile"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// SaveImage saves `device` as an image compressed with `codec` and returns a
// stream over the result, positioned at the start.
//
//   - The stream can be written to, but its size is fixed to that of the image.
//     Attempting to write past the end triggers an error.
func SaveImage(t *testing.T, device *blockdevice.Memory, codec imagefile.Codec) io.ReadWriteSeeker {
	var buffer bytes.Buffer
	n, err := imagefile.Save(&buffer, device, codec)
	require.NoErrorf(t, err, "failed to save %s image", codec)
	require.EqualValues(t, buffer.Len(), n, "image size is wrong")
	return bytesextra.NewReadWriteSeeker(buffer.Bytes())
}

// LoadImage loads an image from `image`, failing the test if it's damaged or
// wasn't stored with `codec`.
func LoadImage(t *testing.T, image io.Reader, codec imagefile.Codec) *blockdevice.Memory {
	device, storedCodec, err := imagefile.Load(image)
	require.NoError(t, err, "failed to load image")
	require.Equal(t, codec, storedCodec, "image was stored with the wrong codec")
	return device
}
