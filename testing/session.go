package testing

import (
	"testing"

	"github.com/dargueta/flashfs/blockdevice"
	"github.com/dargueta/flashfs/engine/chainfs"
	"github.com/dargueta/flashfs/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// DefaultBlockCount is the size of the device [NewSession] creates.
const DefaultBlockCount = 128

// NewSession creates a formatted and mounted session on a fresh in-memory
// device, using a chainfs driver wrapped in a [CountingDriver]. When the test
// finishes the session is closed, and the test fails if any native object
// was leaked.
func NewSession(
	t *testing.T, options ...session.Option,
) (*session.Session, *CountingDriver, *blockdevice.Memory) {
	device := NewMemoryDevice(t, DefaultBlockCount)
	driver := NewCountingDriver(chainfs.New(chainfs.WithLogger(zaptest.NewLogger(t))))

	options = append(
		[]session.Option{session.WithLogger(zaptest.NewLogger(t))}, options...)
	s := session.New(device, driver, options...)

	require.NoError(t, s.Format(), "format failed")
	require.NoError(t, s.Mount(), "mount failed")

	t.Cleanup(func() {
		assert.NoError(t, s.Close(), "closing the session failed")
		assert.Zero(t, driver.Ledger().LiveTotal(), "native objects leaked")
		assert.Zero(t, driver.LiveEngines(), "engine instances leaked")
	})
	return s, driver, device
}

// WriteFile creates or overwrites a file with `data`.
func WriteFile(t *testing.T, s *session.Session, path string, data []byte) {
	file, err := s.Open(path, "wronly", "creat", "trunc")
	require.NoErrorf(t, err, "failed to open %q for writing", path)

	_, err = file.Write(data)
	require.NoErrorf(t, err, "failed to write %q", path)
	require.NoErrorf(t, file.Close(), "failed to close %q", path)
}

// ReadFile returns the full contents of a file.
func ReadFile(t *testing.T, s *session.Session, path string) []byte {
	file, err := s.Open(path, "rdonly")
	require.NoErrorf(t, err, "failed to open %q for reading", path)
	defer file.Close()

	data, err := file.ReadAll()
	require.NoErrorf(t, err, "failed to read %q", path)
	return data
}
