package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/granule-explorer/internal/cache/searchcache"
	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
	"github.com/mohammed-shakir/granule-explorer/internal/core/router"
	"github.com/mohammed-shakir/granule-explorer/internal/events"
	"github.com/mohammed-shakir/granule-explorer/internal/hotness"
	h3mapper "github.com/mohammed-shakir/granule-explorer/internal/mapper/h3"
	"github.com/mohammed-shakir/granule-explorer/internal/preview"
)

type fakeSearcher struct {
	mu    sync.Mutex
	last  model.SearchRequest
	out   []model.Granule
	err   error
	calls int
}

func (f *fakeSearcher) Lookup(_ context.Context, q model.SearchRequest) (searchcache.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = q
	if f.err != nil {
		return searchcache.Result{}, f.err
	}
	return searchcache.Result{Granules: f.out, Outcome: searchcache.OutcomeMiss, Region: "851f1d4bfffffff"}, nil
}

type fakePublisher struct {
	mu  sync.Mutex
	evs []events.SearchEvent
}

func (f *fakePublisher) Publish(ev events.SearchEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evs = append(f.evs, ev)
}

type fakePreviewer struct {
	img  preview.Image
	err  error
	last *preview.Image
}

func (f *fakePreviewer) Render(context.Context, string) (preview.Image, error) {
	return f.img, f.err
}

func (f *fakePreviewer) Last(string) (preview.Image, bool) {
	if f.last == nil {
		return preview.Image{}, false
	}
	return *f.last, true
}

func ptr(f float64) *float64 { return &f }

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func sample() []model.Granule {
	day := func(d, h int) time.Time { return time.Date(2024, 6, d, h, 0, 0, 0, time.UTC) }
	return []model.Granule{
		{Name: "g1", CenterLat: 50.5, CenterLon: 11, AcquiredAt: day(1, 5), QualityScore: ptr(0.9), CoverageArea: ptr(1)},
		{Name: "g2", CenterLat: 50.5, CenterLon: 11, AcquiredAt: day(1, 17), QualityScore: ptr(0.7), CoverageArea: ptr(1)},
		{Name: "g3", CenterLat: 50.6, CenterLon: 11.5, AcquiredAt: day(2, 5), CoverageArea: ptr(0.5)},
		{Name: "g4", CenterLat: 50.6, CenterLon: 11.5, AcquiredAt: day(2, 6)},
		{Name: "g5", CenterLat: 50.7, CenterLon: 11.6, AcquiredAt: day(3, 5)},
		{Name: "g6", CenterLat: 50.8, CenterLon: 11.7, AcquiredAt: day(3, 9)},
	}
}

type harness struct {
	srv    *httptest.Server
	search *fakeSearcher
	pub    *fakePublisher
	prev   *fakePreviewer
}

type fakeHot struct{}

func (fakeHot) Top(n int) []hotness.RegionScore {
	cell, _ := h3mapper.New().CellForPoint(64.84, -147.72, 5)
	all := []hotness.RegionScore{{Region: cell, Score: 12.5}, {Region: "bogus", Score: 3}}
	return all[:min(n, len(all))]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		search: &fakeSearcher{out: sample()},
		pub:    &fakePublisher{},
		prev:   &fakePreviewer{},
	}
	api := New(Deps{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Searcher:  h.search,
		Previewer: h.prev,
		Mapper:    h3mapper.New(),
		Events:    h.pub,
		Hot:       fakeHot{},
		Defaults:  router.Defaults{Platform: "SENTINEL-1", Lookback: 30 * 24 * time.Hour, MaxResults: 250},
		H3Res:     5,
		Now:       func() time.Time { return now },
	})
	r := chi.NewRouter()
	api.Routes(r)
	h.srv = httptest.NewServer(r)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := h.srv.Client().Get(h.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

const window = "bbox=10,50,12,51&start=2024-06-01T00:00:00Z&end=2024-06-04T00:00:00Z"

func TestGranules(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, "/api/granules?"+window)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Cache"); got != "miss" {
		t.Fatalf("X-Cache=%q", got)
	}
	var body struct {
		Count    int             `json:"count"`
		Granules []model.Granule `json:"granules"`
		Cache    string          `json:"cache"`
	}
	decode(t, resp, &body)
	if body.Count != 6 || len(body.Granules) != 6 || body.Cache != "miss" {
		t.Fatalf("unexpected body %+v", body)
	}
	if h.search.last.Platform != "SENTINEL-1" {
		t.Fatalf("default platform not applied: %+v", h.search.last)
	}
	if len(h.pub.evs) != 1 || h.pub.evs[0].Granules != 6 || h.pub.evs[0].Region == "" || h.pub.evs[0].Cache != "miss" {
		t.Fatalf("events %+v", h.pub.evs)
	}
}

func TestCoverage_Report(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, "/api/coverage?"+window)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var body struct {
		Report map[string]any `json:"report"`
	}
	decode(t, resp, &body)
	r := body.Report
	if r["granuleCount"].(float64) != 6 || r["distinctDaysWithData"].(float64) != 3 || r["totalDays"].(float64) != 3 {
		t.Fatalf("report %v", r)
	}
	if r["temporalCoveragePercent"].(float64) != 100 || r["spatialCoveragePercent"].(float64) != 125 {
		t.Fatalf("report %v", r)
	}
	if r["granuleDensityPerDay"].(float64) != 2 {
		t.Fatalf("density %v", r["granuleDensityPerDay"])
	}
}

func TestCoverage_EmptyIsNull(t *testing.T) {
	h := newHarness(t)
	h.search.out = nil
	resp := h.get(t, "/api/coverage?"+window)
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "{\"report\":null}\n" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, b)
	}
}

func TestCoverage_DegenerateBBoxIsNA(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, "/api/coverage?bbox=10,50,10,51&start=2024-06-01&end=2024-06-03")
	var body struct {
		Report map[string]any `json:"report"`
	}
	decode(t, resp, &body)
	if v, ok := body.Report["spatialCoveragePercent"]; !ok || v != nil {
		t.Fatalf("spatial coverage should be null, got %v", v)
	}
}

func TestValidationIs400(t *testing.T) {
	h := newHarness(t)
	for _, q := range []string{"", "bbox=1,2,3", "bbox=0,0,1,1&limit=999", "bbox=0,0,1,1&start=nope"} {
		resp := h.get(t, "/api/coverage?"+q)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%q: status=%d want 400", q, resp.StatusCode)
		}
	}
	if h.search.calls != 0 {
		t.Fatalf("invalid requests reached the searcher")
	}
}

func TestUpstreamErrorIs502(t *testing.T) {
	h := newHarness(t)
	h.search.err = errors.New("asf down")
	resp := h.get(t, "/api/granules?"+window)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", resp.StatusCode)
	}
	if len(h.pub.evs) != 0 {
		t.Fatalf("failed search published an event")
	}
}

func TestChart(t *testing.T) {
	h := newHarness(t)
	var body struct {
		Points []struct {
			Date  string `json:"date"`
			Count int    `json:"count"`
		} `json:"points"`
	}
	decode(t, h.get(t, "/api/chart?"+window), &body)
	if len(body.Points) != 3 || body.Points[0].Date != "2024-06-01" || body.Points[0].Count != 2 {
		t.Fatalf("points %+v", body.Points)
	}

	resp := h.get(t, "/api/chart.png?"+window)
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" || string(b[:4]) != "\x89PNG" {
		t.Fatalf("png status=%d type=%s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	h.search.out = nil
	if resp := h.get(t, "/api/chart.png?"+window); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("empty chart status=%d want 404", resp.StatusCode)
	}
}

func TestOverlay(t *testing.T) {
	h := newHarness(t)
	var ov struct {
		Mode     string       `json:"mode"`
		Boundary [][2]float64 `json:"boundary"`
		Points   []struct {
			Intensity float64 `json:"intensity"`
			Count     int     `json:"count"`
		} `json:"points"`
	}
	decode(t, h.get(t, "/api/overlay?mode=heatmap&"+window), &ov)
	if ov.Mode != "heatmap" || len(ov.Boundary) != 5 || len(ov.Points) != 6 || ov.Points[0].Intensity != 0.9 {
		t.Fatalf("heatmap %+v", ov)
	}

	ov.Points = nil
	decode(t, h.get(t, "/api/overlay?mode=density&res=1&"+window), &ov)
	total, peak := 0, 0.0
	for _, p := range ov.Points {
		total += p.Count
		peak = max(peak, p.Intensity)
	}
	if ov.Mode != "density" || total != 6 || peak != 1 {
		t.Fatalf("density %+v", ov)
	}

	if resp := h.get(t, "/api/overlay?mode=contour&"+window); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown mode status=%d", resp.StatusCode)
	}
	if resp := h.get(t, "/api/overlay?res=16&"+window); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad res status=%d", resp.StatusCode)
	}
}

func TestDashboard(t *testing.T) {
	h := newHarness(t)
	var body struct {
		Count    int             `json:"count"`
		Granules []model.Granule `json:"granules"`
		Report   *struct {
			GranuleCount int `json:"granuleCount"`
		} `json:"report"`
		Points []any `json:"points"`
	}
	decode(t, h.get(t, "/api/dashboard?"+window), &body)
	if body.Count != 6 || len(body.Granules) != 5 || body.Report == nil || body.Report.GranuleCount != 6 || len(body.Points) != 3 {
		t.Fatalf("dashboard %+v", body)
	}
}

func TestPreview(t *testing.T) {
	h := newHarness(t)
	h.prev.img = preview.Image{PNG: []byte("\x89PNGdata"), Width: 4, Height: 2, Source: preview.Metadata{Width: 8, Height: 4, Format: "tiff"}}

	resp := h.get(t, "/api/preview?url=https://example.test/a.tif")
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "\x89PNGdata" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, b)
	}

	var meta struct {
		Source   preview.Metadata `json:"source"`
		Rendered map[string]int   `json:"rendered"`
	}
	decode(t, h.get(t, "/api/preview/metadata?url=https://example.test/a.tif"), &meta)
	if meta.Source.Width != 8 || meta.Source.Format != "tiff" || meta.Rendered["width"] != 4 {
		t.Fatalf("metadata %+v", meta)
	}
}

func TestPreview_FallsBackToLastGood(t *testing.T) {
	h := newHarness(t)
	h.prev.err = errors.New("timeout")
	if resp := h.get(t, "/api/preview?url=https://example.test/a.tif"); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("no previous preview: status=%d want 502", resp.StatusCode)
	}

	h.prev.last = &preview.Image{PNG: []byte("old")}
	resp := h.get(t, "/api/preview?url=https://example.test/a.tif")
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "old" || resp.Header.Get("X-Preview-Stale") != "true" {
		t.Fatalf("stale fallback: status=%d body=%q", resp.StatusCode, b)
	}
}

func TestPreview_BadRequests(t *testing.T) {
	h := newHarness(t)
	if resp := h.get(t, "/api/preview"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing url status=%d", resp.StatusCode)
	}
	h.prev.err = preview.ErrBadSource
	if resp := h.get(t, "/api/preview?url=file:///etc/passwd"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad source status=%d", resp.StatusCode)
	}
}

func TestPreview_HostOutsideAllowList(t *testing.T) {
	var hits atomic.Int32
	internal := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(internal.Close)

	prev, err := preview.New(internal.Client(), preview.Options{AllowedHosts: []string{"datapool.asf.alaska.edu"}})
	if err != nil {
		t.Fatalf("preview.New: %v", err)
	}
	r := chi.NewRouter()
	New(Deps{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Searcher:  &fakeSearcher{},
		Previewer: prev,
		Mapper:    h3mapper.New(),
		H3Res:     5,
	}).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	for _, src := range []string{
		internal.URL + "/a.tif",
		"http://169.254.169.254/latest/meta-data/",
		"http://localhost:6379/",
	} {
		for _, path := range []string{"/api/preview", "/api/preview/metadata"} {
			resp, err := srv.Client().Get(srv.URL + path + "?url=" + url.QueryEscape(src))
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("%s %s: status=%d want 400", path, src, resp.StatusCode)
			}
		}
	}
	if hits.Load() != 0 {
		t.Fatalf("server fetched a disallowed host %d times", hits.Load())
	}
}

func TestHotRegions(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, "/api/regions/hot?n=5")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var body struct {
		Regions []struct {
			Region string  `json:"region"`
			Score  float64 `json:"score"`
			Lat    float64 `json:"lat"`
			Lon    float64 `json:"lon"`
		} `json:"regions"`
	}
	decode(t, resp, &body)
	if len(body.Regions) != 2 || body.Regions[0].Score != 12.5 {
		t.Fatalf("regions=%+v", body.Regions)
	}
	if math.Abs(body.Regions[0].Lat-64.84) > 0.5 || math.Abs(body.Regions[0].Lon+147.72) > 0.5 {
		t.Fatalf("centre not resolved: %+v", body.Regions[0])
	}
	if body.Regions[1].Lat != 0 || body.Regions[1].Lon != 0 {
		t.Fatalf("unparseable cell should have zero centre: %+v", body.Regions[1])
	}

	for _, q := range []string{"n=0", "n=101", "n=x"} {
		if resp := h.get(t, "/api/regions/hot?"+q); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want 400", q, resp.StatusCode)
		}
	}
}
