// Command coverage computes a coverage report for a saved search result.
//
//	coverage -granules result.json -bbox 10,50,12,51 -start 2024-06-01 -end 2024-06-30 -tz Europe/Oslo
//
// The granules file holds a JSON array as returned in the "granules" field of
// /api/granules; "-" reads stdin.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
	"github.com/mohammed-shakir/granule-explorer/internal/coverage"
	"github.com/mohammed-shakir/granule-explorer/internal/logger"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("coverage", flag.ContinueOnError)
	fs.SetOutput(stderr)
	granulesPath := fs.String("granules", "-", "granules JSON file, - for stdin")
	bbox := fs.String("bbox", "", "search area minLon,minLat,maxLon,maxLat")
	start := fs.String("start", "", "window start, RFC3339 or YYYY-MM-DD")
	end := fs.String("end", "", "window end, RFC3339 or YYYY-MM-DD")
	tz := fs.String("tz", "UTC", "calendar time zone for counting days")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	zl := logger.Build(logger.Config{Level: "warn", Console: true, Component: "coverage"}, stderr)
	usage := func(msg string, err error) int {
		zl.Error().Err(err).Msg(msg)
		fs.Usage()
		return exitUsage
	}

	if strings.TrimSpace(*bbox) == "" || *start == "" || *end == "" {
		return usage("missing flags", errors.New("-bbox, -start and -end are required"))
	}
	window, err := parseWindow(*start, *end)
	if err != nil {
		return usage("invalid window", err)
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		return usage("invalid -tz", err)
	}

	granules, err := readGranules(*granulesPath, stdin)
	if err != nil {
		return fail(zl, "read granules", err)
	}

	rep, err := coverage.Compute(granules, window, *bbox, coverage.WithLocation(loc))
	if err != nil {
		if errors.Is(err, model.ErrBBoxTokens) {
			return usage("invalid -bbox", err)
		}
		return fail(zl, "compute coverage", err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fail(zl, "write report", err)
	}
	return exitOK
}

func fail(zl zerolog.Logger, msg string, err error) int {
	zl.Error().Err(err).Msg(msg)
	return exitFail
}

func parseWindow(start, end string) (model.TimeWindow, error) {
	s, err := parseTime(start, false)
	if err != nil {
		return model.TimeWindow{}, fmt.Errorf("start: %w", err)
	}
	e, err := parseTime(end, true)
	if err != nil {
		return model.TimeWindow{}, fmt.Errorf("end: %w", err)
	}
	return model.TimeWindow{Start: s, End: e}, nil
}

// a bare end date includes that whole day
func parseTime(raw string, isEnd bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
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

func readGranules(path string, stdin io.Reader) ([]model.Granule, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var gs []model.Granule
	if err := json.NewDecoder(r).Decode(&gs); err != nil {
		return nil, fmt.Errorf("decode granules: %w", err)
	}
	return gs, nil
}
