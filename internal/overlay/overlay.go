// Package overlay builds the map layers drawn over a search area.
package overlay

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
	"github.com/mohammed-shakir/granule-explorer/internal/mapper"
)

type Mode string

const (
	ModeStandard Mode = "standard"
	ModeHeatmap  Mode = "heatmap"
	ModeDensity  Mode = "density"
)

var ErrUnknownMode = errors.New("unknown overlay mode")

// ParseMode accepts the mode names case-insensitively; empty means standard.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeStandard, nil
	case ModeStandard, ModeHeatmap, ModeDensity:
		return m, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownMode, s)
	}
}

type Point struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Intensity float64 `json:"intensity"`
	Cell      string  `json:"cell,omitempty"`
	Count     int     `json:"count,omitempty"`
}

type Overlay struct {
	Mode     Mode         `json:"mode"`
	Boundary [][2]float64 `json:"boundary"`
	Points   []Point      `json:"points"`
}

type Options struct {
	Mapper mapper.Interface // required for density
	Res    int
}

func Build(granules []model.Granule, bbox model.BBox, mode Mode, opts Options) (Overlay, error) {
	ov := Overlay{Mode: mode, Boundary: bbox.Ring(), Points: []Point{}}
	switch mode {
	case ModeStandard:
	case ModeHeatmap:
		for _, g := range granules {
			ov.Points = append(ov.Points, Point{Lat: g.CenterLat, Lon: g.CenterLon, Intensity: g.Quality()})
		}
	case ModeDensity:
		pts, err := density(granules, opts)
		if err != nil {
			return Overlay{}, err
		}
		ov.Points = pts
	default:
		return Overlay{}, fmt.Errorf("%w %q", ErrUnknownMode, string(mode))
	}
	return ov, nil
}

func density(granules []model.Granule, opts Options) ([]Point, error) {
	if opts.Mapper == nil {
		return nil, errors.New("density overlay needs a cell mapper")
	}
	counts := make(map[string]int)
	for _, g := range granules {
		cell, err := opts.Mapper.CellForPoint(g.CenterLat, g.CenterLon, opts.Res)
		if err != nil {
			return nil, fmt.Errorf("bin granule %q: %w", g.Name, err)
		}
		counts[cell]++
	}

	maxCount := 0
	cells := make([]string, 0, len(counts))
	for c, n := range counts {
		cells = append(cells, c)
		maxCount = max(maxCount, n)
	}
	sort.Strings(cells)

	out := make([]Point, 0, len(cells))
	for _, c := range cells {
		lat, lon, err := opts.Mapper.CellCenter(c)
		if err != nil {
			return nil, fmt.Errorf("cell center %s: %w", c, err)
		}
		n := counts[c]
		out = append(out, Point{
			Lat:       lat,
			Lon:       lon,
			Intensity: float64(n) / float64(maxCount),
			Cell:      c,
			Count:     n,
		})
	}
	return out, nil
}
