package h3mapper

import (
	"fmt"
	"math"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
	"github.com/mohammed-shakir/granule-explorer/internal/mapper"
)

type Mapper struct{}

var _ mapper.Interface = (*Mapper)(nil)

func New() *Mapper { return &Mapper{} }

func (m *Mapper) CellForPoint(lat, lon float64, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", fmt.Errorf("point (%g,%g) out of range", lat, lon)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
	if err != nil {
		return "", fmt.Errorf("h3 latlng to cell: %w", err)
	}
	return c.String(), nil
}

func (m *Mapper) CellCenter(cell string) (float64, float64, error) {
	c, err := parseCell(cell)
	if err != nil {
		return 0, 0, err
	}
	ll, err := h3.CellToLatLng(c)
	if err != nil {
		return 0, 0, fmt.Errorf("h3 cell to latlng: %w", err)
	}
	return ll.Lat, ll.Lng, nil
}

// RegionForBBox names a searched area by the cell holding its centre.
func (m *Mapper) RegionForBBox(bb model.BBox, res int) (string, error) {
	lat, lon := bb.Normalized().Center()
	return m.CellForPoint(lat, lon, res)
}

// CellsForBBox returns the sorted cells whose centres fall inside bb, plus
// the cell holding the box centre so small boxes never come back empty.
func (m *Mapper) CellsForBBox(bb model.BBox, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	n := bb.Normalized()
	outer := h3.GeoLoop{
		{Lat: n.MinLat, Lng: n.MinLon},
		{Lat: n.MinLat, Lng: n.MaxLon},
		{Lat: n.MaxLat, Lng: n.MaxLon},
		{Lat: n.MaxLat, Lng: n.MinLon},
	}
	indexes, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	seen := make(map[string]struct{}, len(indexes)+1)
	out := make([]string, 0, len(indexes)+1)
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	center, err := m.RegionForBBox(n, res)
	if err != nil {
		return nil, err
	}
	if _, ok := seen[center]; !ok {
		out = append(out, center)
	}
	sort.Strings(out)
	return out, nil
}

// EstimateCells approximates how many cells CellsForBBox would return for
// bb, from the box's share of the sphere. It is cheap enough to run before
// deciding whether a polyfill is worth doing.
func (m *Mapper) EstimateCells(bb model.BBox, res int) (int, error) {
	if err := validateRes(res); err != nil {
		return 0, err
	}
	n := bb.Normalized()
	rad := math.Pi / 180
	share := (n.MaxLon - n.MinLon) * rad * (math.Sin(n.MaxLat*rad) - math.Sin(n.MinLat*rad)) / (4 * math.Pi)
	// 2 + 120*7^res cells cover the globe
	total := 2 + 120*math.Pow(7, float64(res))
	est := math.Ceil(math.Abs(share) * total)
	if est > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return max(1, int(est)), nil
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func parseCell(cell string) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return 0, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("invalid h3 cell %q", cell)
	}
	return c, nil
}
