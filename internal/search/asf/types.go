package asf

import (
	"encoding/json"
	"math"
)

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string     `json:"type"`
	Geometry   *geometry  `json:"geometry"`
	Properties properties `json:"properties"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type properties struct {
	SceneName       string          `json:"sceneName"`
	FileID          string          `json:"fileID"`
	Platform        string          `json:"platform"`
	ProcessingLevel string          `json:"processingLevel"`
	BeamMode        string          `json:"beamMode"`
	BeamModeType    string          `json:"beamModeType"`
	PathNumber      *int            `json:"pathNumber"`
	FrameNumber     *int            `json:"frameNumber"`
	CenterLat       *float64        `json:"centerLat"`
	CenterLon       *float64        `json:"centerLon"`
	URL             string          `json:"url"`
	Browse          json.RawMessage `json:"browse"` // string, []string or null
	StartTime       string          `json:"startTime"`
}

func (p properties) browse() string {
	if len(p.Browse) == 0 {
		return ""
	}
	var one string
	if err := json.Unmarshal(p.Browse, &one); err == nil {
		return one
	}
	var many []string
	if err := json.Unmarshal(p.Browse, &many); err == nil && len(many) > 0 {
		return many[0]
	}
	return ""
}

// footprintArea returns the planar area of a Polygon or MultiPolygon
// footprint in square degrees, outer rings minus holes.
func footprintArea(g *geometry) (float64, bool) {
	if g == nil || len(g.Coordinates) == 0 {
		return 0, false
	}
	switch g.Type {
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil || len(rings) == 0 {
			return 0, false
		}
		return polygonArea(rings), true
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &polys); err != nil || len(polys) == 0 {
			return 0, false
		}
		total := 0.0
		for _, rings := range polys {
			total += polygonArea(rings)
		}
		return total, true
	default:
		return 0, false
	}
}

func polygonArea(rings [][][]float64) float64 {
	if len(rings) == 0 {
		return 0
	}
	a := ringArea(rings[0])
	for _, h := range rings[1:] {
		a -= ringArea(h)
	}
	return math.Max(a, 0)
}

// shoelace over [lon,lat] pairs; closing vertex optional
func ringArea(ring [][]float64) float64 {
	n := len(ring)
	if n < 3 {
		return 0
	}
	sum := 0.0
	for i := range n {
		a, b := ring[i], ring[(i+1)%n]
		if len(a) < 2 || len(b) < 2 {
			return 0
		}
		sum += a[0]*b[1] - b[0]*a[1]
	}
	return math.Abs(sum) / 2
}
