package presets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "slug|name|vendor|kind|read_size|prog_size|erase_size|total_size|notes\n"

func TestParse(t *testing.T) {
	table, err := parse(header + "a|Part A|Acme|nor|1|256|4096|8192|\n")
	require.NoError(t, err)
	require.Contains(t, table, "a")
	assert.EqualValues(t, 8192, table["a"].TotalSize)
	assert.Equal(t, "a (Acme Part A)", table["a"].String())
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"duplicate slug":   "a|A|Acme|nor|1|256|4096|8192|\na|B|Acme|nor|1|256|4096|8192|\n",
		"partial block":    "a|A|Acme|nor|1|256|4096|8000|\n",
		"prog doesn't fit": "a|A|Acme|nor|1|384|4096|8192|\n",
		"zero erase size":  "a|A|Acme|nor|1|256|0|8192|\n",
		"not a number":     "a|A|Acme|nor|1|lots|4096|8192|\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parse(header + body)
			assert.Error(t, err)
		})
	}
}
