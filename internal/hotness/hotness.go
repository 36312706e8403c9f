// Package hotness tracks how popular searched regions are.
package hotness

type Interface interface {
	Inc(region string)
	Score(region string) float64
	Reset(regions ...string)
}

// RegionScore is a region with its decayed score at the time it was read.
type RegionScore struct {
	Region string  `json:"region"`
	Score  float64 `json:"score"`
}
