// Command loadgen drives /api/coverage with a Zipf-skewed pool of search
// boxes and writes per-request samples (CSV) and a run summary (JSON).
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
	"github.com/mohammed-shakir/granule-explorer/internal/logger"
)

type config struct {
	TargetURL      string
	Platform       string
	Start, End     string
	Concurrency    int
	Duration       time.Duration
	ZipfS, ZipfV   float64
	BBoxCount      int
	OutputPrefix   string
	RequestTimeout time.Duration
	TimestampFmt   string
	CentroidFile   string
	Seed           uint64
}

type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	Cache     string
	ErrorMsg  string
	BoxIndex  int
	BBox      string
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	CacheHits     int64     `json:"cache_hits"`
	HitRatio      float64   `json:"hit_ratio"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	ZipfS         float64   `json:"zipf_s"`
	ZipfV         float64   `json:"zipf_v"`
	BBoxes        int       `json:"bboxes"`
	TargetURL     string    `json:"target"`
	Platform      string    `json:"platform"`
}

type aggregate struct {
	total, success, errors, hits int64
	latMs                        []float64
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("loadgen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cfg config
	fs.StringVar(&cfg.TargetURL, "target", "http://localhost:8090/api/coverage", "explorer endpoint URL")
	fs.StringVar(&cfg.Platform, "platform", "", "platform filter, empty uses the server default")
	fs.StringVar(&cfg.Start, "start", "", "window start, empty uses the server default lookback")
	fs.StringVar(&cfg.End, "end", "", "window end")
	fs.IntVar(&cfg.Concurrency, "concurrency", 16, "concurrent workers")
	fs.DurationVar(&cfg.Duration, "duration", 60*time.Second, "test duration")
	fs.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	fs.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	fs.IntVar(&cfg.BBoxCount, "bboxes", 128, "distinct search boxes in the pool")
	fs.StringVar(&cfg.OutputPrefix, "out", "results/loadgen", "output file prefix")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", 30*time.Second, "per-request timeout")
	fs.StringVar(&cfg.TimestampFmt, "ts-format", "iso", "suffix for the output prefix: iso|unix|none")
	fs.StringVar(&cfg.CentroidFile, "centroids", "", "optional id,lon,lat CSV to drive the boxes")
	fs.Uint64Var(&cfg.Seed, "seed", 0, "workload seed, 0 picks one from the clock")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	zl := logger.Build(logger.Config{Level: "info", Console: true, Component: "loadgen"}, stderr)

	if cfg.Concurrency <= 0 || cfg.ZipfS <= 1 || cfg.ZipfV < 1 || cfg.BBoxCount <= 0 {
		zl.Error().Msg("need -concurrency>0, -zipf-s>1, -zipf-v>=1 and -bboxes>0")
		return 2
	}
	target, err := url.Parse(cfg.TargetURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		zl.Error().Str("target", cfg.TargetURL).Msg("target must be an absolute URL")
		return 2
	}

	sum, err := execute(context.Background(), cfg, target, &zl)
	if err != nil {
		zl.Error().Err(err).Msg("loadgen failed")
		return 1
	}
	zl.Info().
		Int64("total", sum.TotalRequests).
		Int64("errors", sum.ErrorCount).
		Float64("hit_ratio", sum.HitRatio).
		Float64("rps", sum.ThroughputRPS).
		Float64("p50_ms", sum.P50Ms).
		Float64("p95_ms", sum.P95Ms).
		Float64("p99_ms", sum.P99Ms).
		Msg("done")
	return 0
}

func execute(parent context.Context, cfg config, target *url.URL, zl *zerolog.Logger) (summary, error) {
	if dir := filepath.Dir(cfg.OutputPrefix); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return summary{}, fmt.Errorf("mkdir results: %w", err)
		}
	}
	prefix := cfg.OutputPrefix
	switch strings.ToLower(cfg.TimestampFmt) {
	case "none":
	case "unix":
		prefix = fmt.Sprintf("%s_%d", prefix, time.Now().Unix())
	default:
		prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	r := rand.New(rand.NewPCG(seed, 0))

	var bboxes []model.BBox
	if strings.TrimSpace(cfg.CentroidFile) != "" {
		cs, err := loadCentroidsCSV(cfg.CentroidFile)
		if err != nil {
			zl.Warn().Err(err).Str("file", cfg.CentroidFile).Msg("centroids unusable, falling back to synthetic boxes")
		} else {
			bboxes = bboxesFromCentroids(cs, cfg.BBoxCount, 0.25)
		}
	}
	if len(bboxes) == 0 {
		bboxes = makeBBoxes(cfg.BBoxCount, r)
	}
	imax := uint64(len(bboxes) - 1)

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		return summary{}, fmt.Errorf("open csv: %w", err)
	}
	defer func() { _ = csvFile.Close() }()

	ctx, cancel := context.WithTimeout(parent, cfg.Duration)
	defer cancel()

	samples := make(chan sample, 4096)
	results := make(chan aggregate, 1)
	go collect(csv.NewWriter(csvFile), samples, results, zl)

	zl.Info().
		Str("target", target.String()).
		Dur("duration", cfg.Duration).
		Int("concurrency", cfg.Concurrency).
		Int("bboxes", len(bboxes)).
		Uint64("seed", seed).
		Msg("loadgen start")
	startTime := time.Now()

	var wg sync.WaitGroup
	for id := range cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rw := rand.New(rand.NewPCG(seed, uint64(id)+1))
			zipf := rand.NewZipf(rw, cfg.ZipfS, cfg.ZipfV, imax)
			for ctx.Err() == nil {
				idx := int(zipf.Uint64())
				s := request(ctx, httpClient, target, cfg, idx, bboxes[idx])
				if ctx.Err() != nil {
					// cut off by the deadline, not a server error
					return
				}
				select {
				case samples <- s:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()
	close(samples)

	agg := <-results
	endTime := time.Now()
	elapsed := endTime.Sub(startTime).Seconds()

	sort.Float64s(agg.latMs)
	sum := summary{
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		DurationSec:   elapsed,
		TotalRequests: agg.total,
		SuccessCount:  agg.success,
		ErrorCount:    agg.errors,
		CacheHits:     agg.hits,
		ThroughputRPS: float64(agg.total) / elapsed,
		P50Ms:         nanToZero(percentile(agg.latMs, 50)),
		P95Ms:         nanToZero(percentile(agg.latMs, 95)),
		P99Ms:         nanToZero(percentile(agg.latMs, 99)),
		Concurrency:   cfg.Concurrency,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		BBoxes:        len(bboxes),
		TargetURL:     target.String(),
		Platform:      cfg.Platform,
	}
	if agg.success > 0 {
		sum.HitRatio = float64(agg.hits) / float64(agg.success)
	}

	jf, err := os.Create(filepath.Clean(jsonPath))
	if err != nil {
		return sum, fmt.Errorf("open summary: %w", err)
	}
	defer func() { _ = jf.Close() }()
	enc := json.NewEncoder(jf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return sum, fmt.Errorf("write summary: %w", err)
	}
	zl.Info().Str("summary", jsonPath).Str("samples", csvPath).Msg("wrote results")
	return sum, nil
}

func request(ctx context.Context, c *http.Client, target *url.URL, cfg config, idx int, bb model.BBox) sample {
	u := *target
	q := u.Query()
	q.Set("bbox", bb.String())
	if cfg.Platform != "" {
		q.Set("platform", cfg.Platform)
	}
	if cfg.Start != "" {
		q.Set("start", cfg.Start)
	}
	if cfg.End != "" {
		q.Set("end", cfg.End)
	}
	u.RawQuery = q.Encode()

	start := time.Now()
	s := sample{Timestamp: start, BoxIndex: idx, BBox: bb.String()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	s.Latency = time.Since(start)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	s.Status = resp.StatusCode
	s.Cache = resp.Header.Get("X-Cache")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.ErrorMsg = "status=" + strconv.Itoa(resp.StatusCode)
	}
	return s
}

func collect(w *csv.Writer, in <-chan sample, out chan<- aggregate, zl *zerolog.Logger) {
	_ = w.Write([]string{"timestamp", "latency_ms", "status", "cache", "error", "bbox_idx", "bbox"})
	var agg aggregate
	for s := range in {
		agg.total++
		ms := float64(s.Latency.Microseconds()) / 1000.0
		if s.ErrorMsg == "" {
			agg.success++
			agg.latMs = append(agg.latMs, ms)
			if s.Cache == "l1_hit" || s.Cache == "l2_hit" {
				agg.hits++
			}
		} else {
			agg.errors++
		}
		_ = w.Write([]string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(ms, 'f', 3, 64),
			strconv.Itoa(s.Status),
			s.Cache,
			s.ErrorMsg,
			strconv.Itoa(s.BoxIndex),
			s.BBox,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		zl.Warn().Err(err).Msg("csv flush")
	}
	out <- agg
}

func nanToZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
