// Package adaptive picks cache lifetimes for search results from how popular
// the searched region is.
package adaptive

import "time"

type HotnessView interface {
	Score(region string) float64
}

type Reason string

const (
	ReasonNoRegion Reason = "no_region"
	ReasonCold     Reason = "cold"
	ReasonHot      Reason = "hot"
)

type Decision struct {
	TTL   time.Duration
	Hot   bool
	Score float64
}

type Decider interface {
	Decide(region string, view HotnessView) (Decision, Reason)
}
