package simple

import (
	"time"

	"github.com/mohammed-shakir/granule-explorer/pkg/adaptive"
)

type Config struct {
	Threshold  float64 // <= 0 never marks a region hot
	TTLDefault time.Duration
	TTLHot     time.Duration
}

type SimpleDecider struct {
	cfg Config
}

var _ adaptive.Decider = (*SimpleDecider)(nil)

func New(cfg Config) *SimpleDecider {
	if cfg.TTLHot <= 0 {
		cfg.TTLHot = cfg.TTLDefault
	}
	return &SimpleDecider{cfg: cfg}
}

func (d *SimpleDecider) Decide(region string, view adaptive.HotnessView) (adaptive.Decision, adaptive.Reason) {
	if region == "" || view == nil {
		return adaptive.Decision{TTL: d.cfg.TTLDefault}, adaptive.ReasonNoRegion
	}
	score := view.Score(region)
	if d.cfg.Threshold > 0 && score >= d.cfg.Threshold {
		return adaptive.Decision{TTL: d.cfg.TTLHot, Hot: true, Score: score}, adaptive.ReasonHot
	}
	return adaptive.Decision{TTL: d.cfg.TTLDefault, Score: score}, adaptive.ReasonCold
}
