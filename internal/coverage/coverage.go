// Package coverage derives temporal, spatial and quality statistics from a
// granule search result set.
//
// Compute is pure: it performs no I/O, keeps no state and always iterates the
// input in order, so identical inputs give bit-identical reports.
package coverage

import (
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
)

var ErrInvertedWindow = errors.New("time window start is after end")

type Report struct {
	GranuleCount            int     `json:"granuleCount"`
	DistinctDaysWithData    int     `json:"distinctDaysWithData"`
	TotalDays               float64 `json:"totalDays"`
	TemporalCoveragePercent Metric  `json:"temporalCoveragePercent"`
	AverageQualityPercent   Metric  `json:"averageQualityPercent"`
	SpatialCoveragePercent  Metric  `json:"spatialCoveragePercent"`
	GranuleDensityPerDay    Metric  `json:"granuleDensityPerDay"`
}

type options struct {
	loc *time.Location
}

type Option func(*options)

// WithLocation sets the calendar used to bucket acquisitions into days.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// Compute parses bbox ("minLon,minLat,maxLon,maxLat") and calls ComputeBBox.
func Compute(granules []model.Granule, window model.TimeWindow, bbox string, opts ...Option) (*Report, error) {
	if len(granules) == 0 {
		return nil, nil
	}
	bb, err := model.ParseBBox(bbox)
	if err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}
	return ComputeBBox(granules, window, bb, opts...)
}

// ComputeBBox returns nil when there are no granules. Ratios that would divide
// by zero come back as invalid metrics.
func ComputeBBox(granules []model.Granule, window model.TimeWindow, bbox model.BBox, opts ...Option) (*Report, error) {
	if len(granules) == 0 {
		return nil, nil
	}
	if window.Start.After(window.End) {
		return nil, fmt.Errorf("coverage: %w (%s > %s)", ErrInvertedWindow,
			window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))
	}

	o := options{loc: time.UTC}
	for _, f := range opts {
		f(&o)
	}

	n := float64(len(granules))
	totalDays := window.Days()
	days := DistinctDays(granules, o.loc)

	var qualitySum, coveredArea float64
	for _, g := range granules {
		qualitySum += g.Quality()
		coveredArea += g.Area()
	}

	return &Report{
		GranuleCount:            len(granules),
		DistinctDaysWithData:    days,
		TotalDays:               totalDays,
		TemporalCoveragePercent: ratio(100*float64(days), totalDays),
		AverageQualityPercent:   ratio(100*qualitySum, n),
		SpatialCoveragePercent:  ratio(100*coveredArea, bbox.Area()),
		GranuleDensityPerDay:    ratio(n, totalDays),
	}, nil
}

// DistinctDays counts calendar dates in loc that have at least one acquisition.
func DistinctDays(granules []model.Granule, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	seen := make(map[civilDate]struct{}, len(granules))
	for _, g := range granules {
		seen[dateOf(g.AcquiredAt, loc)] = struct{}{}
	}
	return len(seen)
}

type civilDate struct {
	y int
	m time.Month
	d int
}

func dateOf(t time.Time, loc *time.Location) civilDate {
	y, m, d := t.In(loc).Date()
	return civilDate{y, m, d}
}

func ratio(num, den float64) Metric {
	if den == 0 {
		return NotComputable
	}
	return metricOf(num / den)
}
