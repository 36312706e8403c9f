// Package asf queries the ASF granule search API.
package asf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
	"github.com/mohammed-shakir/granule-explorer/internal/core/observability"
)

const upstreamName = "asf"

// StatusError is returned when the search API answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("asf search status %d: %s", e.Status, e.Body)
}

type Client struct {
	logger   *slog.Logger
	http     *http.Client
	endpoint *url.URL
	datapool *url.URL
	now      func() time.Time // for tests
}

func New(logger *slog.Logger, httpClient *http.Client, endpoint, datapool string) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("search url %q must be absolute", endpoint)
	}
	var dp *url.URL
	if strings.TrimSpace(datapool) != "" {
		if dp, err = url.Parse(datapool); err != nil {
			return nil, fmt.Errorf("parse datapool url: %w", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{logger: logger, http: httpClient, endpoint: u, datapool: dp, now: time.Now}, nil
}

// Params builds the query string for a search.
func Params(q model.SearchRequest) url.Values {
	v := url.Values{}
	v.Set("output", "geojson")
	v.Set("bbox", q.BBox.Normalized().String())
	if q.Platform != "" {
		v.Set("platform", q.Platform)
	}
	if q.ProcessingLevel != "" {
		v.Set("processingLevel", q.ProcessingLevel)
	}
	if q.BeamMode != "" {
		v.Set("beamMode", q.BeamMode)
	}
	if !q.Window.Start.IsZero() {
		v.Set("start", q.Window.Start.UTC().Format(time.RFC3339))
	}
	if !q.Window.End.IsZero() {
		v.Set("end", q.Window.End.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		v.Set("maxResults", strconv.Itoa(q.Limit))
	}
	return v
}

// Search runs the query and maps the GeoJSON features to granules, in the
// order the API returned them.
func (c *Client) Search(ctx context.Context, q model.SearchRequest) ([]model.Granule, error) {
	u := *c.endpoint
	u.RawQuery = Params(q).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.IncUpstreamError(upstreamName)
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency(upstreamName, time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.IncUpstreamError(upstreamName)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		observability.IncUpstreamError(upstreamName)
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]model.Granule, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		g, err := c.toGranule(f)
		if err != nil {
			skipped++
			c.logger.DebugContext(ctx, "skip feature", "scene", f.Properties.SceneName, "err", err)
			continue
		}
		out = append(out, g)
	}
	if skipped > 0 {
		c.logger.WarnContext(ctx, "search features skipped", "skipped", skipped, "kept", len(out))
	}
	observability.ObserveSearchGranules(len(out))
	c.logger.DebugContext(ctx, "asf search done",
		"granules", len(out),
		"bbox", q.BBox.String(),
		"duration", time.Since(start).String())
	return out, nil
}

var errNoStartTime = errors.New("missing startTime")

func (c *Client) toGranule(f feature) (model.Granule, error) {
	p := f.Properties
	if strings.TrimSpace(p.StartTime) == "" {
		return model.Granule{}, errNoStartTime
	}
	at, err := parseTime(p.StartTime)
	if err != nil {
		return model.Granule{}, err
	}
	g := model.Granule{
		Name:            firstNonEmpty(p.SceneName, p.FileID),
		FileID:          p.FileID,
		Platform:        p.Platform,
		ProcessingLevel: p.ProcessingLevel,
		BeamMode:        firstNonEmpty(p.BeamModeType, p.BeamMode),
		Path:            deref(p.PathNumber),
		Frame:           deref(p.FrameNumber),
		CenterLat:       deref(p.CenterLat),
		CenterLon:       deref(p.CenterLon),
		DownloadURL:     c.resolve(p.URL),
		BrowseURL:       c.resolve(p.browse()),
		AcquiredAt:      at,
	}
	if a, ok := footprintArea(f.Geometry); ok {
		g.CoverageArea = &a
	}
	return g, nil
}

// resolve makes datapool-relative links absolute.
func (c *Client) resolve(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || c.datapool == nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return raw
	}
	return c.datapool.ResolveReference(ref).String()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTime accepts the layouts the API has used; zone-less values are UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q", s)
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
