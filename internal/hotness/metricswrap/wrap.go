// Package metricswrap decorates a hotness tracker with the hot_regions gauge
// and a log line when a region crosses the hot threshold.
package metricswrap

import (
	"log/slog"

	"github.com/mohammed-shakir/granule-explorer/internal/core/observability"
	"github.com/mohammed-shakir/granule-explorer/internal/hotness"
)

type Sizer interface{ Size() int }

type WithMetrics struct {
	inner     hotness.Interface
	logger    *slog.Logger
	threshold float64
}

var _ hotness.Interface = (*WithMetrics)(nil)

func New(inner hotness.Interface, logger *slog.Logger, threshold float64) *WithMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &WithMetrics{inner: inner, logger: logger, threshold: threshold}
}

func (w *WithMetrics) Inc(region string) {
	before := w.inner.Score(region)
	w.inner.Inc(region)
	if w.threshold > 0 {
		after := w.inner.Score(region)
		if before < w.threshold && after >= w.threshold {
			w.logger.Info("region turned hot",
				"region", region,
				"score", after,
				"threshold", w.threshold)
		}
	}
	w.updateGauge()
}

func (w *WithMetrics) Score(region string) float64 {
	return w.inner.Score(region)
}

func (w *WithMetrics) Reset(regions ...string) {
	w.inner.Reset(regions...)
	w.updateGauge()
}

func (w *WithMetrics) updateGauge() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotRegions(s.Size())
	}
}
