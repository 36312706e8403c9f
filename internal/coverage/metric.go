package coverage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Metric is a derived value that may be "not computable" (degenerate input).
// It never carries NaN or Inf.
type Metric struct {
	Value float64
	Valid bool
}

var NotComputable = Metric{}

func metricOf(v float64) Metric {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NotComputable
	}
	return Metric{Value: v, Valid: true}
}

func (m Metric) String() string {
	if !m.Valid {
		return "n/a"
	}
	return strconv.FormatFloat(m.Value, 'f', 1, 64)
}

// MarshalJSON writes null for a metric that is not computable.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

func (m *Metric) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*m = NotComputable
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("metric: %w", err)
	}
	*m = metricOf(v)
	return nil
}
