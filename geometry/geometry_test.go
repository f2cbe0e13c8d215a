package geometry_test

import (
	"testing"

	"github.com/dargueta/flashfs/blockdevice"
	"github.com/dargueta/flashfs/geometry"
	"github.com/stretchr/testify/assert"
)

type negotiationTest struct {
	Name     string
	Device   blockdevice.Info
	Hints    geometry.Hints
	Expected geometry.Geometry
}

var negotiationTests = []negotiationTest{
	{
		Name:   "nothing reported, no hints",
		Device: blockdevice.Info{},
		Expected: geometry.Geometry{
			ReadSize: 64, ProgSize: 64, BlockSize: 512, BlockCount: 0, Lookahead: 512,
		},
	},
	{
		Name:   "device erase size wins over hint",
		Device: blockdevice.Info{EraseSize: 4096, TotalSize: 1048576},
		Hints:  geometry.Hints{BlockSize: 512},
		Expected: geometry.Geometry{
			ReadSize: 64, ProgSize: 64, BlockSize: 4096, BlockCount: 256, Lookahead: 512,
		},
	},
	{
		Name:   "hints win over small device minimums",
		Device: blockdevice.Info{ReadSize: 1, ProgSize: 4, EraseSize: 256, TotalSize: 65536},
		Hints:  geometry.Hints{ReadSize: 128, ProgSize: 128, BlockSize: 1024, Lookahead: 32},
		Expected: geometry.Geometry{
			ReadSize: 128, ProgSize: 128, BlockSize: 1024, BlockCount: 64, Lookahead: 64,
		},
	},
	{
		Name:   "device minimums win over defaults",
		Device: blockdevice.Info{ReadSize: 256, ProgSize: 512, EraseSize: 512, TotalSize: 512 * 10},
		Expected: geometry.Geometry{
			ReadSize: 256, ProgSize: 512, BlockSize: 512, BlockCount: 10, Lookahead: 512,
		},
	},
	{
		Name:   "lookahead rounds up to cover every block",
		Device: blockdevice.Info{EraseSize: 512, TotalSize: 512 * 1000},
		Expected: geometry.Geometry{
			ReadSize: 64, ProgSize: 64, BlockSize: 512, BlockCount: 1000, Lookahead: 1024,
		},
	},
	{
		Name:   "partial trailing block is dropped",
		Device: blockdevice.Info{EraseSize: 512, TotalSize: 512*3 + 100},
		Expected: geometry.Geometry{
			ReadSize: 64, ProgSize: 64, BlockSize: 512, BlockCount: 3, Lookahead: 512,
		},
	},
	{
		Name:   "lookahead saturates instead of wrapping",
		Device: blockdevice.Info{EraseSize: 512, TotalSize: 512 * 0xFFFFFFF0},
		Expected: geometry.Geometry{
			ReadSize: 64, ProgSize: 64, BlockSize: 512, BlockCount: 0xFFFFFFF0, Lookahead: 0xFFFFFFE0,
		},
	},
}

func TestNegotiate(t *testing.T) {
	for _, test := range negotiationTests {
		t.Run(
			test.Name,
			func(t *testing.T) {
				actual := geometry.Negotiate(test.Device, test.Hints)
				assert.Equal(t, test.Expected, actual)
			},
		)
	}
}

// Lookahead must always cover the whole device and be a multiple of 32.
func TestNegotiate__LookaheadInvariant(t *testing.T) {
	for count := uint64(0); count < 2000; count += 37 {
		g := geometry.Negotiate(
			blockdevice.Info{EraseSize: 512, TotalSize: count * 512},
			geometry.Hints{Lookahead: 32},
		)
		assert.EqualValues(t, count, g.BlockCount)
		assert.GreaterOrEqual(t, uint64(g.Lookahead), count)
		assert.Zero(t, g.Lookahead%32, "lookahead %d isn't a multiple of 32", g.Lookahead)
	}
}

func TestGeometry__TotalSize(t *testing.T) {
	g := geometry.Negotiate(blockdevice.Info{EraseSize: 4096, TotalSize: 1 << 20}, geometry.Hints{})
	assert.EqualValues(t, 1<<20, g.TotalSize())
	assert.Equal(t, "read=64 prog=64 block=4096 count=256 lookahead=512", g.String())
}
