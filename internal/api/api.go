// Package api serves the granule explorer HTTP endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/granule-explorer/internal/cache/searchcache"
	"github.com/mohammed-shakir/granule-explorer/internal/chart"
	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
	"github.com/mohammed-shakir/granule-explorer/internal/core/observability"
	"github.com/mohammed-shakir/granule-explorer/internal/core/router"
	"github.com/mohammed-shakir/granule-explorer/internal/coverage"
	"github.com/mohammed-shakir/granule-explorer/internal/events"
	"github.com/mohammed-shakir/granule-explorer/internal/hotness"
	"github.com/mohammed-shakir/granule-explorer/internal/logger"
	"github.com/mohammed-shakir/granule-explorer/internal/mapper"
	"github.com/mohammed-shakir/granule-explorer/internal/overlay"
	"github.com/mohammed-shakir/granule-explorer/internal/preview"
)

const dashboardSample = 5

type Searcher interface {
	Lookup(ctx context.Context, q model.SearchRequest) (searchcache.Result, error)
}

type Previewer interface {
	Render(ctx context.Context, src string) (preview.Image, error)
	Last(src string) (preview.Image, bool)
}

type Publisher interface {
	Publish(ev events.SearchEvent)
}

type HotRegions interface {
	Top(n int) []hotness.RegionScore
}

type Deps struct {
	Logger    *slog.Logger
	Searcher  Searcher
	Previewer Previewer // nil disables /api/preview
	Mapper    mapper.Interface
	Events    Publisher  // nil disables events
	Hot       HotRegions // nil disables /api/regions/hot
	Defaults  router.Defaults
	Location  *time.Location
	H3Res     int
	Now       func() time.Time
}

type Handler struct {
	d Deps
}

func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{d: d}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/granules", h.granules)
	r.Get("/api/coverage", h.coverage)
	r.Get("/api/chart", h.chartJSON)
	r.Get("/api/chart.png", h.chartPNG)
	r.Get("/api/overlay", h.overlay)
	r.Get("/api/dashboard", h.dashboard)
	r.Get("/api/preview", h.preview)
	r.Get("/api/preview/metadata", h.previewMetadata)
	if h.d.Hot != nil {
		r.Get("/api/regions/hot", h.hotRegions)
	}
}

type searchResult struct {
	q   model.SearchRequest
	res searchcache.Result
	ctx context.Context
}

// search parses and runs the request, writing the error response itself
// when it returns false.
func (h *Handler) search(w http.ResponseWriter, r *http.Request) (searchResult, bool) {
	ctx := logger.WithComponent(r.Context(), "api")
	q, warn, err := router.ParseSearchRequest(r, h.d.Defaults, h.d.Now())
	if warn != "" {
		h.d.Logger.WarnContext(ctx, warn, "bbox", r.URL.Query().Get("bbox"))
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return searchResult{}, false
	}

	res, err := h.d.Searcher.Lookup(ctx, q)
	if err != nil {
		h.d.Logger.ErrorContext(ctx, "granule search failed", "bbox", q.BBox.String(), "err", err)
		http.Error(w, "granule search failed", http.StatusBadGateway)
		return searchResult{}, false
	}
	w.Header().Set("X-Cache", string(res.Outcome))
	ctx = logger.WithRegion(ctx, res.Region)
	ctx = logger.WithCache(ctx, string(res.Outcome))
	h.d.Logger.InfoContext(ctx, "search served",
		"bbox", q.BBox.String(),
		"platform", q.Platform,
		"granules", len(res.Granules))

	if h.d.Events != nil {
		h.d.Events.Publish(events.SearchEvent{
			BBox:     q.BBox.String(),
			Platform: q.Platform,
			Start:    q.Window.Start,
			End:      q.Window.End,
			Granules: len(res.Granules),
			Cache:    string(res.Outcome),
			Region:   res.Region,
			TS:       h.d.Now().UTC(),
		})
	}
	return searchResult{q: q, res: res, ctx: ctx}, true
}

func (h *Handler) report(sr searchResult) (*coverage.Report, error) {
	rep, err := coverage.ComputeBBox(sr.res.Granules, sr.q.Window, sr.q.BBox, coverage.WithLocation(h.d.Location))
	switch {
	case err != nil:
		observability.IncCoverageReport("error")
	case rep == nil:
		observability.IncCoverageReport("empty")
	case !rep.SpatialCoveragePercent.Valid || !rep.TemporalCoveragePercent.Valid:
		observability.IncCoverageReport("degenerate")
	default:
		observability.IncCoverageReport("computed")
	}
	return rep, err
}

func (h *Handler) granules(w http.ResponseWriter, r *http.Request) {
	sr, ok := h.search(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(sr.res.Granules),
		"granules": nonNil(sr.res.Granules),
		"cache":    sr.res.Outcome,
	})
}

func (h *Handler) coverage(w http.ResponseWriter, r *http.Request) {
	sr, ok := h.search(w, r)
	if !ok {
		return
	}
	rep, err := h.report(sr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": rep})
}

func (h *Handler) chartJSON(w http.ResponseWriter, r *http.Request) {
	sr, ok := h.search(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"points": chart.DailyCounts(sr.res.Granules, h.d.Location),
	})
}

func (h *Handler) chartPNG(w http.ResponseWriter, r *http.Request) {
	sr, ok := h.search(w, r)
	if !ok {
		return
	}
	pts := chart.DailyCounts(sr.res.Granules, h.d.Location)
	title := "Acquisitions per day"
	if sr.q.Platform != "" {
		title += " (" + sr.q.Platform + ")"
	}
	// render to memory so a failure can still become an error response
	var buf bytes.Buffer
	if err := chart.RenderPNG(&buf, title, pts); err != nil {
		if errors.Is(err, chart.ErrNoData) {
			http.Error(w, "no acquisitions in window", http.StatusNotFound)
			return
		}
		h.d.Logger.ErrorContext(sr.ctx, "chart render failed", "err", err)
		http.Error(w, "chart render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) overlay(w http.ResponseWriter, r *http.Request) {
	mode, err := overlay.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res := h.d.H3Res
	if raw := strings.TrimSpace(r.URL.Query().Get("res")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 15 {
			http.Error(w, "res: must be an integer in [0,15]", http.StatusBadRequest)
			return
		}
		res = n
	}

	sr, ok := h.search(w, r)
	if !ok {
		return
	}
	ov, err := overlay.Build(sr.res.Granules, sr.q.BBox, mode, overlay.Options{Mapper: h.d.Mapper, Res: res})
	if err != nil {
		h.d.Logger.ErrorContext(sr.ctx, "overlay build failed", "mode", mode, "err", err)
		http.Error(w, "overlay build failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	sr, ok := h.search(w, r)
	if !ok {
		return
	}
	rep, err := h.report(sr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	gs := nonNil(sr.res.Granules)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(gs),
		"granules": gs[:min(len(gs), dashboardSample)],
		"report":   rep,
		"points":   chart.DailyCounts(gs, h.d.Location),
		"cache":    sr.res.Outcome,
	})
}

func (h *Handler) renderPreview(w http.ResponseWriter, r *http.Request) (preview.Image, bool) {
	if h.d.Previewer == nil {
		http.Error(w, "preview disabled", http.StatusNotFound)
		return preview.Image{}, false
	}
	src := strings.TrimSpace(r.URL.Query().Get("url"))
	if src == "" {
		http.Error(w, "url: missing required parameter", http.StatusBadRequest)
		return preview.Image{}, false
	}
	ctx := logger.WithComponent(r.Context(), "preview")
	img, err := h.d.Previewer.Render(ctx, src)
	if err == nil {
		return img, true
	}
	if errors.Is(err, preview.ErrBadSource) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return preview.Image{}, false
	}
	h.d.Logger.WarnContext(ctx, "preview render failed", "err", err)
	if last, ok := h.d.Previewer.Last(src); ok {
		w.Header().Set("X-Preview-Stale", "true")
		return last, true
	}
	status := http.StatusBadGateway
	if errors.Is(err, preview.ErrTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	http.Error(w, "preview unavailable", status)
	return preview.Image{}, false
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	img, ok := h.renderPreview(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img.PNG)))
	_, _ = w.Write(img.PNG)
}

func (h *Handler) previewMetadata(w http.ResponseWriter, r *http.Request) {
	img, ok := h.renderPreview(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":   img.Source,
		"rendered": map[string]int{"width": img.Width, "height": img.Height},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(gs []model.Granule) []model.Granule {
	if gs == nil {
		return []model.Granule{}
	}
	return gs
}

type hotRegion struct {
	hotness.RegionScore
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (h *Handler) hotRegions(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := strings.TrimSpace(r.URL.Query().Get("n")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 100 {
			http.Error(w, "n must be an integer in 1..100", http.StatusBadRequest)
			return
		}
		n = v
	}
	top := h.d.Hot.Top(n)
	out := make([]hotRegion, 0, len(top))
	for _, rs := range top {
		hr := hotRegion{RegionScore: rs}
		if h.d.Mapper != nil {
			if lat, lon, err := h.d.Mapper.CellCenter(rs.Region); err == nil {
				hr.Lat, hr.Lon = lat, lon
			}
		}
		out = append(out, hr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": out})
}
