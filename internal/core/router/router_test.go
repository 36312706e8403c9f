package router

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/granule-explorer/internal/core/config"
	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
)

var (
	defaults = Defaults{Platform: "SENTINEL-1", Lookback: 30 * 24 * time.Hour, MaxResults: 250}
	fixedNow = time.Date(2024, 6, 10, 14, 25, 0, 0, time.UTC)
)

func parse(t *testing.T, query string) (model.SearchRequest, string, error) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/api/granules?"+query, nil)
	return ParseSearchRequest(r, defaults, fixedNow)
}

func TestParseSearchRequest_Defaults(t *testing.T) {
	q, warn, err := parse(t, "bbox=10,50,12,51")
	if err != nil || warn != "" {
		t.Fatalf("err=%v warn=%q", err, warn)
	}
	if q.Platform != "SENTINEL-1" || q.Limit != 250 {
		t.Fatalf("defaults not applied: %+v", q)
	}
	wantEnd := time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)
	if !q.Window.End.Equal(wantEnd) || !q.Window.Start.Equal(wantEnd.Add(-30*24*time.Hour)) {
		t.Fatalf("window %v..%v", q.Window.Start, q.Window.End)
	}
	if q.BBox != (model.BBox{MinLon: 10, MinLat: 50, MaxLon: 12, MaxLat: 51}) {
		t.Fatalf("bbox %+v", q.BBox)
	}
}

func TestParseSearchRequest_DefaultWindowStableWithinHour(t *testing.T) {
	a, _, _ := ParseSearchRequest(httptest.NewRequest(http.MethodGet, "/?bbox=1,1,2,2", nil), defaults, fixedNow)
	b, _, _ := ParseSearchRequest(httptest.NewRequest(http.MethodGet, "/?bbox=1,1,2,2", nil), defaults, fixedNow.Add(20*time.Minute))
	if a.Window != b.Window {
		t.Fatalf("windows differ: %v vs %v", a.Window, b.Window)
	}
}

func TestParseSearchRequest_ExplicitValues(t *testing.T) {
	q, _, err := parse(t, "bbox=10,50,12,51&platform=ALOS&processingLevel=L1.5&beamMode=FBS&start=2024-06-01&end=2024-06-03&limit=20")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if q.Platform != "ALOS" || q.ProcessingLevel != "L1.5" || q.BeamMode != "FBS" || q.Limit != 20 {
		t.Fatalf("unexpected %+v", q)
	}
	if !q.Window.Start.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) ||
		!q.Window.End.Equal(time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("window %v..%v", q.Window.Start, q.Window.End)
	}
	if q.Window.Days() != 3 {
		t.Fatalf("days=%v want 3", q.Window.Days())
	}
}

func TestParseSearchRequest_RFC3339WithOffset(t *testing.T) {
	q, _, err := parse(t, "bbox=10,50,12,51&start=2024-06-01T02:00:00%2B02:00&end=2024-06-02T00:00:00Z")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !q.Window.Start.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) || q.Window.Start.Location() != time.UTC {
		t.Fatalf("start %v", q.Window.Start)
	}
}

func TestParseSearchRequest_UnencodedPlusOffset(t *testing.T) {
	q, _, err := parse(t, "bbox=10,50,12,51&start=2024-06-01T02:00:00+02:00&end=2024-06-02T05:30:00+05:30")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !q.Window.Start.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) ||
		!q.Window.End.Equal(time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("window %v..%v", q.Window.Start, q.Window.End)
	}
	if _, _, err := parse(t, "bbox=10,50,12,51&start=2024-06-01+02:00"); err == nil {
		t.Fatal("date with a stray offset should still be rejected")
	}
}

func TestParseSearchRequest_SwappedCornersWarn(t *testing.T) {
	q, warn, err := parse(t, "bbox=12,51,10,50")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if warn == "" || q.BBox.MinLon != 10 || q.BBox.MaxLat != 51 {
		t.Fatalf("warn=%q bbox=%+v", warn, q.BBox)
	}
}

func TestParseSearchRequest_Invalid(t *testing.T) {
	cases := map[string]string{
		"":                             "bbox",
		"bbox=1,2,3":                   "bbox",
		"bbox=a,2,3,4":                 "bbox",
		"bbox=-181,0,10,10":            "bbox",
		"bbox=0,-91,10,10":             "bbox",
		"bbox=0,0,1,1&start=yesterday": "start",
		"bbox=0,0,1,1&end=2024-13-01":  "end",
		"bbox=0,0,1,1&start=2024-06-05&end=2024-06-01": "start",
		"bbox=0,0,1,1&limit=0":                         "limit",
		"bbox=0,0,1,1&limit=251":                       "limit",
		"bbox=0,0,1,1&limit=ten":                       "limit",
	}
	for query, param := range cases {
		_, _, err := parse(t, query)
		var pe *ParamError
		if !errors.As(err, &pe) || pe.Param != param {
			t.Fatalf("%q: err=%v want ParamError on %s", query, err, param)
		}
	}
}

func TestParseSearchRequest_BBoxTokenError(t *testing.T) {
	_, _, err := parse(t, "bbox=1,2,3,4,5")
	if !errors.Is(err, model.ErrBBoxTokens) {
		t.Fatalf("err=%v want ErrBBoxTokens", err)
	}
	if !strings.HasPrefix(err.Error(), "bbox: ") {
		t.Fatalf("error should name the parameter: %v", err)
	}
}

func TestDefaultsFrom(t *testing.T) {
	t.Setenv("DEFAULT_PLATFORM", "ALOS")
	t.Setenv("MAX_RESULTS", "40")
	d := DefaultsFrom(config.FromEnv())
	if d.Platform != "ALOS" || d.MaxResults != 40 || d.Lookback != 30*24*time.Hour {
		t.Fatalf("unexpected defaults %+v", d)
	}
}
