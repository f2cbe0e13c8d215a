// Package presets holds the geometries of common flash parts, so devices and
// images can be created by name instead of by listing every size.
package presets

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/dargueta/flashfs/blockdevice"
	"github.com/dargueta/flashfs/errors"
	"github.com/gocarina/gocsv"
)

// Preset describes one flash part.
type Preset struct {
	Slug   string `csv:"slug"`
	Name   string `csv:"name"`
	Vendor string `csv:"vendor"`
	// Kind is "nor", "nand", "eeprom", or "sim" for geometries that only exist
	// in simulation.
	Kind      string `csv:"kind"`
	ReadSize  uint32 `csv:"read_size"`
	ProgSize  uint32 `csv:"prog_size"`
	EraseSize uint32 `csv:"erase_size"`
	TotalSize uint64 `csv:"total_size"`
	Notes     string `csv:"notes"`
}

// Info returns the part's geometry.
func (p Preset) Info() blockdevice.Info {
	return blockdevice.Info{
		ReadSize:  p.ReadSize,
		ProgSize:  p.ProgSize,
		EraseSize: p.EraseSize,
		TotalSize: p.TotalSize,
	}
}

// NewMemory creates an erased in-memory device with the part's geometry.
func (p Preset) NewMemory(options ...blockdevice.MemoryOption) *blockdevice.Memory {
	return blockdevice.NewMemory(p.ReadSize, p.ProgSize, p.EraseSize, p.TotalSize, options...)
}

func (p Preset) String() string {
	return fmt.Sprintf("%s (%s %s)", p.Slug, p.Vendor, p.Name)
}

//go:embed flash-parts.csv
var flashPartsRawCSV string
var flashParts map[string]Preset

// Get returns the preset with the given slug.
func Get(slug string) (Preset, error) {
	preset, ok := flashParts[slug]
	if ok {
		return preset, nil
	}
	return Preset{}, errors.NewWithMessage(
		errors.ENOENT, fmt.Sprintf("no preset exists with slug %q", slug))
}

// All returns every preset, sorted by slug.
func All() []Preset {
	result := make([]Preset, 0, len(flashParts))
	for _, preset := range flashParts {
		result = append(result, preset)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Slug < result[j].Slug })
	return result
}

// parse decodes a preset table. Every row must have a unique slug and a
// geometry where each size evenly divides the next.
func parse(raw string) (map[string]Preset, error) {
	csvReader := csv.NewReader(strings.NewReader(raw))
	csvReader.Comma = '|'

	var rows []Preset
	err := gocsv.UnmarshalCSV(csvReader, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to decode preset table: %w", err)
	}

	table := make(map[string]Preset, len(rows))
	for i, row := range rows {
		_, exists := table[row.Slug]
		if exists {
			return nil, fmt.Errorf(
				"duplicate definition for preset %q found on row %d", row.Slug, i+1)
		}

		if row.ReadSize == 0 || row.ProgSize == 0 || row.EraseSize == 0 ||
			row.EraseSize%row.ReadSize != 0 || row.EraseSize%row.ProgSize != 0 ||
			row.TotalSize%uint64(row.EraseSize) != 0 {
			return nil, fmt.Errorf("preset %q on row %d has inconsistent geometry", row.Slug, i+1)
		}
		table[row.Slug] = row
	}
	return table, nil
}

func init() {
	var err error
	flashParts, err = parse(flashPartsRawCSV)
	if err != nil {
		panic(err)
	}
}
