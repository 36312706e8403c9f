// Package invalidation describes the ingest notifications that expire cached
// searches for the area a new or changed granule covers.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
)

type Event struct {
	Version  int       `json:"version"`
	Op       string    `json:"op"`
	Platform string    `json:"platform,omitempty"`
	Granule  string    `json:"granule,omitempty"`
	Seq      uint64    `json:"seq,omitempty"`
	TS       time.Time `json:"ts"`
	BBox     *BBox     `json:"bbox"`
}

type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

func (b BBox) Model() model.BBox {
	return model.BBox{MinLon: b.MinLon, MinLat: b.MinLat, MaxLon: b.MaxLon, MaxLat: b.MaxLat}
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "ingest", "update", "delete":
	default:
		return fmt.Errorf("op must be ingest|update|delete")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.BBox == nil {
		return fmt.Errorf("bbox is required")
	}
	bb := *e.BBox
	if !(bb.MinLon >= -180 && bb.MinLon <= 180 && bb.MaxLon >= -180 && bb.MaxLon <= 180) {
		return fmt.Errorf("bbox longitude out of range")
	}
	if !(bb.MinLat >= -90 && bb.MinLat <= 90 && bb.MaxLat >= -90 && bb.MaxLat <= 90) {
		return fmt.Errorf("bbox latitude out of range")
	}
	if !(bb.MaxLon > bb.MinLon && bb.MaxLat > bb.MinLat) {
		return fmt.Errorf("bbox must satisfy max_lon>min_lon and max_lat>min_lat")
	}
	if e.Seq > 0 && strings.TrimSpace(e.Granule) == "" {
		return fmt.Errorf("seq requires granule")
	}
	return nil
}

// DedupeKey identifies the granule a sequenced event refers to; empty when
// the event carries no sequence.
func (e Event) DedupeKey() string {
	if e.Seq == 0 {
		return ""
	}
	return strings.ToUpper(e.Platform) + "/" + e.Granule
}
