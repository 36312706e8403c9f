package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
)

// acquisition hot spots for the synthetic pool
var hotCenters = [][2]float64{
	{-147.72, 64.84}, // Fairbanks
	{-149.90, 61.22}, // Anchorage
	{18.07, 59.33},   // Stockholm
	{-122.33, 47.61}, // Seattle
	{139.69, 35.69},  // Tokyo
}

// makeBBoxes builds a pool with a hot head around a few centres and a cold
// tail spread over the mid latitudes. The Zipf picker favours low indexes,
// so hot boxes come first.
func makeBBoxes(count int, r *rand.Rand) []model.BBox {
	if count <= 0 {
		return nil
	}
	out := make([]model.BBox, 0, count)
	hot := min(count, max(8, count/4))
	for i := range hot {
		c := hotCenters[i%len(hotCenters)]
		dx, dy := (r.Float64()-0.5)*0.5, (r.Float64()-0.5)*0.5
		w, h := 0.5+r.Float64()*0.5, 0.5+r.Float64()*0.5
		out = append(out, around(c[0]+dx, c[1]+dy, w/2, h/2))
	}
	for len(out) < count {
		lon := -170 + r.Float64()*340
		lat := -60 + r.Float64()*130
		w, h := 0.2+r.Float64()*1.0, 0.2+r.Float64()*1.0
		out = append(out, around(lon, lat, w/2, h/2))
	}
	return out
}

func around(lon, lat, hw, hh float64) model.BBox {
	return model.BBox{
		MinLon: math.Max(-180, lon-hw),
		MinLat: math.Max(-90, lat-hh),
		MaxLon: math.Min(180, lon+hw),
		MaxLat: math.Min(90, lat+hh),
	}
}

type centroid struct {
	ID       string
	Lon, Lat float64
}

// loadCentroidsCSV reads an id,lon,lat file with a header row.
func loadCentroidsCSV(path string) ([]centroid, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open centroids: %w", err)
	}
	defer func() { _ = f.Close() }()
	return readCentroids(f)
}

func readCentroids(rd io.Reader) ([]centroid, error) {
	r := csv.NewReader(rd)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idIdx, okID := col["id"]
	lonIdx, okLon := col["lon"]
	latIdx, okLat := col["lat"]
	if !okID || !okLon || !okLat {
		return nil, fmt.Errorf("centroid csv: expected columns id,lon,lat; got %v", header)
	}

	var out []centroid
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		id := strings.TrimSpace(rec[idIdx])
		lonStr, latStr := strings.TrimSpace(rec[lonIdx]), strings.TrimSpace(rec[latIdx])
		if id == "" || lonStr == "" || latStr == "" {
			continue
		}
		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lon %q: %w", lonStr, err)
		}
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lat %q: %w", latStr, err)
		}
		out = append(out, centroid{ID: id, Lon: lon, Lat: lat})
	}
	return out, nil
}

func bboxesFromCentroids(cs []centroid, count int, half float64) []model.BBox {
	if len(cs) == 0 || count <= 0 {
		return nil
	}
	count = min(count, len(cs))
	out := make([]model.BBox, 0, count)
	for _, c := range cs[:count] {
		out = append(out, around(c.Lon, c.Lat, half, half))
	}
	return out
}

// percentile interpolates linearly between closest ranks of sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	k := (p / 100.0) * float64(len(sorted)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	d := k - f
	return sorted[i]*(1-d) + sorted[i+1]*d
}
