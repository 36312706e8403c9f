// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrBBoxTokens = errors.New("bbox must have 4 comma-separated values: minLon,minLat,maxLon,maxLat")

// BBox is a lon/lat rectangle in EPSG:4326 degrees. Min/max ordering is not
// enforced; Area and Center are tolerant of swapped corners.
type BBox struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("%w (got %d in %q)", ErrBBoxTokens, len(parts), s)
	}
	var v [4]float64
	names := [4]string{"minLon", "minLat", "maxLon", "maxLat"}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("%s: parse float: %w", names[i], err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return BBox{}, fmt.Errorf("%s: not a finite number", names[i])
		}
		v[i] = f
	}
	return BBox{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}, nil
}

// String representation matching the search API bbox format
func (b BBox) String() string {
	return strconv.FormatFloat(b.MinLon, 'f', -1, 64) + "," +
		strconv.FormatFloat(b.MinLat, 'f', -1, 64) + "," +
		strconv.FormatFloat(b.MaxLon, 'f', -1, 64) + "," +
		strconv.FormatFloat(b.MaxLat, 'f', -1, 64)
}

// Area in square degrees.
func (b BBox) Area() float64 {
	return math.Abs(b.MaxLon-b.MinLon) * math.Abs(b.MaxLat-b.MinLat)
}

func (b BBox) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// Normalized returns the box with min <= max on both axes.
func (b BBox) Normalized() BBox {
	return BBox{
		MinLon: math.Min(b.MinLon, b.MaxLon),
		MinLat: math.Min(b.MinLat, b.MaxLat),
		MaxLon: math.Max(b.MinLon, b.MaxLon),
		MaxLat: math.Max(b.MinLat, b.MaxLat),
	}
}

// Ring returns the closed boundary as [lon,lat] pairs.
func (b BBox) Ring() [][2]float64 {
	n := b.Normalized()
	return [][2]float64{
		{n.MinLon, n.MinLat},
		{n.MaxLon, n.MinLat},
		{n.MaxLon, n.MaxLat},
		{n.MinLon, n.MaxLat},
		{n.MinLon, n.MinLat},
	}
}

type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Days returns the fractional number of days between Start and End.
func (w TimeWindow) Days() float64 {
	return w.End.Sub(w.Start).Hours() / 24
}

// Granule is a single search result (one scene/acquisition).
type Granule struct {
	Name            string    `json:"granuleName"`
	FileID          string    `json:"fileID,omitempty"`
	Platform        string    `json:"platform,omitempty"`
	ProcessingLevel string    `json:"processingLevel,omitempty"`
	BeamMode        string    `json:"beamMode,omitempty"`
	Path            int       `json:"path,omitempty"`
	Frame           int       `json:"frame,omitempty"`
	CenterLat       float64   `json:"centerLat"`
	CenterLon       float64   `json:"centerLon"`
	DownloadURL     string    `json:"downloadUrl,omitempty"`
	BrowseURL       string    `json:"browse,omitempty"`
	AcquiredAt      time.Time `json:"acquisitionDate"`
	QualityScore    *float64  `json:"qualityScore,omitempty"`
	CoverageArea    *float64  `json:"coverageArea,omitempty"`
}

// Quality returns the quality score, 1.0 when absent.
func (g Granule) Quality() float64 {
	if g.QualityScore == nil {
		return 1.0
	}
	return *g.QualityScore
}

// Area returns the covered area in square degrees, 0 when absent.
func (g Granule) Area() float64 {
	if g.CoverageArea == nil {
		return 0
	}
	return *g.CoverageArea
}

// SearchRequest is a validated granule search.
type SearchRequest struct {
	BBox            BBox
	Platform        string
	ProcessingLevel string
	BeamMode        string
	Window          TimeWindow
	Limit           int
}
