// Package router validates the query parameters of search requests.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/granule-explorer/internal/core/config"
	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
)

type Defaults struct {
	Platform   string
	Lookback   time.Duration
	MaxResults int
}

func DefaultsFrom(cfg config.Config) Defaults {
	return Defaults{
		Platform:   cfg.DefaultPlatform,
		Lookback:   cfg.DefaultLookback,
		MaxResults: cfg.MaxResults,
	}
}

// ParamError marks a request the client must fix.
type ParamError struct {
	Param string
	Err   error
}

func (e *ParamError) Error() string { return e.Param + ": " + e.Err.Error() }
func (e *ParamError) Unwrap() error { return e.Err }

func paramErr(p string, err error) error { return &ParamError{Param: p, Err: err} }

// ParseSearchRequest reads bbox, platform, processingLevel, beamMode, start,
// end and limit from r. Missing dates default to a Lookback window ending at
// the next full hour after now, so repeated requests share a cache key.
func ParseSearchRequest(r *http.Request, d Defaults, now time.Time) (model.SearchRequest, string, error) {
	var warn string
	qs := r.URL.Query()

	rawBBox := strings.TrimSpace(qs.Get("bbox"))
	if rawBBox == "" {
		return model.SearchRequest{}, "", paramErr("bbox", errors.New("missing required parameter"))
	}
	bb, err := parseBBOX(rawBBox)
	if err != nil {
		return model.SearchRequest{}, "", paramErr("bbox", err)
	}
	if bb.MinLon > bb.MaxLon || bb.MinLat > bb.MaxLat {
		warn = "bbox corners swapped; normalizing"
		bb = bb.Normalized()
	}

	platform := strings.TrimSpace(qs.Get("platform"))
	if platform == "" {
		platform = d.Platform
	}

	lookback := d.Lookback
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	end := now.UTC().Truncate(time.Hour).Add(time.Hour)
	if raw := strings.TrimSpace(qs.Get("end")); raw != "" {
		if end, err = parseDate(raw, true); err != nil {
			return model.SearchRequest{}, warn, paramErr("end", err)
		}
	}
	start := end.Add(-lookback)
	if raw := strings.TrimSpace(qs.Get("start")); raw != "" {
		if start, err = parseDate(raw, false); err != nil {
			return model.SearchRequest{}, warn, paramErr("start", err)
		}
	}
	if start.After(end) {
		return model.SearchRequest{}, warn, paramErr("start", errors.New("must not be after end"))
	}

	maxResults := d.MaxResults
	if maxResults <= 0 {
		maxResults = 250
	}
	limit := maxResults
	if raw := strings.TrimSpace(qs.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return model.SearchRequest{}, warn, paramErr("limit", fmt.Errorf("parse int: %w", err))
		}
		if n < 1 || n > maxResults {
			return model.SearchRequest{}, warn, paramErr("limit", fmt.Errorf("must be in [1,%d]", maxResults))
		}
		limit = n
	}

	return model.SearchRequest{
		BBox:            bb,
		Platform:        platform,
		ProcessingLevel: strings.TrimSpace(qs.Get("processingLevel")),
		BeamMode:        strings.TrimSpace(qs.Get("beamMode")),
		Window:          model.TimeWindow{Start: start, End: end},
		Limit:           limit,
	}, warn, nil
}

func parseBBOX(raw string) (model.BBox, error) {
	bb, err := model.ParseBBox(raw)
	if err != nil {
		return model.BBox{}, err
	}
	if !(bb.MinLon >= -180 && bb.MinLon <= 180 && bb.MaxLon >= -180 && bb.MaxLon <= 180) {
		return model.BBox{}, errors.New("longitude must be in [-180,180]")
	}
	if !(bb.MinLat >= -90 && bb.MinLat <= 90 && bb.MaxLat >= -90 && bb.MaxLat <= 90) {
		return model.BBox{}, errors.New("latitude must be in [-90,90]")
	}
	return bb, nil
}

// parseDate accepts RFC3339 or a bare YYYY-MM-DD (UTC). A bare end date
// covers the whole day. An unencoded '+' in an offset arrives as a space
// and is put back.
func parseDate(raw string, isEnd bool) (time.Time, error) {
	if strings.Contains(raw, "T") {
		raw = strings.ReplaceAll(raw, " ", "+")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC3339 or YYYY-MM-DD, got %q", raw)
	}
	if isEnd {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}
