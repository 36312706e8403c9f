// Package chart turns search results into a daily acquisition histogram.
package chart

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
)

var ErrNoData = errors.New("chart: no data points")

const dateLayout = "2006-01-02"

type Point struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// DailyCounts buckets acquisitions by calendar date in loc (UTC when nil).
// Days without acquisitions are omitted.
func DailyCounts(granules []model.Granule, loc *time.Location) []Point {
	if loc == nil {
		loc = time.UTC
	}
	counts := make(map[string]int)
	for _, g := range granules {
		counts[g.AcquiredAt.In(loc).Format(dateLayout)]++
	}
	out := make([]Point, 0, len(counts))
	for d, n := range counts {
		out = append(out, Point{Date: d, Count: n})
	}
	// zero-padded ISO dates sort lexically
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

var barColor = drawing.ColorFromHex("3b82f6")

// RenderPNG draws points as a bar chart.
func RenderPNG(w io.Writer, title string, points []Point) error {
	if len(points) == 0 {
		return ErrNoData
	}

	maxCount := 0
	bars := make([]gochart.Value, 0, len(points))
	for _, p := range points {
		maxCount = max(maxCount, p.Count)
		bars = append(bars, gochart.Value{
			Value: float64(p.Count),
			Label: p.Date,
			Style: gochart.Style{FillColor: barColor, StrokeColor: barColor, StrokeWidth: 1},
		})
	}

	n := len(points)
	width := max(640, n*28+120)
	bc := gochart.BarChart{
		Title:      title,
		Background: gochart.Style{Padding: gochart.Box{Top: 48, Left: 16, Right: 16, Bottom: 16}},
		Width:      width,
		Height:     420,
		BarWidth:   max(4, (width-120)/n*3/5),
		BarSpacing: max(2, (width-120)/n*2/5),
		XAxis:      gochart.Style{FontSize: 8},
		YAxis: gochart.YAxis{
			Name: "granules",
			// explicit range so a single-valued series still has a span
			Range: &gochart.ContinuousRange{Min: 0, Max: float64(maxCount) + 1},
		},
		Bars: bars,
	}
	if err := bc.Render(gochart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
