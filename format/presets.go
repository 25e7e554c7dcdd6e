package format

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

// Preset is a named media geometry -- a richer catalog than spec.md §4.10's
// literal breakpoint table, matching what original_source/disk.c's `-g`
// media-name flag offered and the distilled spec dropped.
type Preset struct {
	Slug              string `csv:"slug"`
	Name              string `csv:"name"`
	SectorSize        uint   `csv:"sector_size"`
	SectorsPerCluster uint   `csv:"sectors_per_cluster"`
	TotalSectors      uint   `csv:"total_sectors"`
	Variant           int    `csv:"variant"`
	Notes             string `csv:"notes"`
}

//go:embed geometries.csv
var geometriesRawCSV string

var presetsBySlug map[string]Preset
var presetOrder []string

func init() {
	presetsBySlug = make(map[string]Preset)
	var rows []Preset
	if err := gocsv.UnmarshalString(geometriesRawCSV, &rows); err != nil {
		panic(fmt.Errorf("format: malformed embedded geometry presets: %w", err))
	}
	presetOrder = make([]string, 0, len(rows))
	for _, row := range rows {
		presetsBySlug[row.Slug] = row
		presetOrder = append(presetOrder, row.Slug)
	}
}

// GetPreset looks up a named geometry (e.g. "floppy1440", "usb8g") by slug,
// case-insensitively.
func GetPreset(slug string) (Preset, bool) {
	p, ok := presetsBySlug[strings.ToLower(slug)]
	return p, ok
}

// PresetNames lists every slug in the embedded catalog, in file order.
func PresetNames() []string {
	names := make([]string, len(presetOrder))
	copy(names, presetOrder)
	return names
}
