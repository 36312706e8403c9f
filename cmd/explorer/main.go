package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/granule-explorer/internal/api"
	"github.com/mohammed-shakir/granule-explorer/internal/cache/redisstore"
	"github.com/mohammed-shakir/granule-explorer/internal/cache/searchcache"
	"github.com/mohammed-shakir/granule-explorer/internal/core/config"
	"github.com/mohammed-shakir/granule-explorer/internal/core/health"
	"github.com/mohammed-shakir/granule-explorer/internal/core/httpclient"
	"github.com/mohammed-shakir/granule-explorer/internal/core/observability"
	"github.com/mohammed-shakir/granule-explorer/internal/core/router"
	"github.com/mohammed-shakir/granule-explorer/internal/core/server"
	"github.com/mohammed-shakir/granule-explorer/internal/events"
	"github.com/mohammed-shakir/granule-explorer/internal/hotness/expdecay"
	"github.com/mohammed-shakir/granule-explorer/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/granule-explorer/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/granule-explorer/internal/logger"
	h3mapper "github.com/mohammed-shakir/granule-explorer/internal/mapper/h3"
	"github.com/mohammed-shakir/granule-explorer/internal/metrics"
	"github.com/mohammed-shakir/granule-explorer/internal/preview"
	"github.com/mohammed-shakir/granule-explorer/internal/search/asf"
	"github.com/mohammed-shakir/granule-explorer/pkg/adaptive/simple"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "granule-explorer",
		Component: "explorer",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting granule explorer",
		"addr", cfg.Addr,
		"version", Version,
		"asf", cfg.ASFSearchURL,
		"redis", cfg.RedisAddr != "",
		"events", cfg.Events.Enabled,
		"invalidation", cfg.Invalidation.Enabled)

	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("invalid CALENDAR_TZ", "tz", cfg.CalendarTZ, "err", err)
		return 1
	}

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := httpclient.NewOutbound(httpclient.Options{
		Timeout:   30 * time.Second,
		UserAgent: "granule-explorer/" + Version,
	})

	client, err := asf.New(appLog, httpClient, cfg.ASFSearchURL, cfg.ASFDatapoolURL)
	if err != nil {
		appLog.Error("failed to initialize search client", "err", err)
		return 1
	}

	ready := map[string]health.Pinger{}
	var store searchcache.Store
	if cfg.RedisAddr != "" {
		startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rs, err := redisstore.New(startCtx, cfg.RedisAddr)
		cancel()
		if err != nil {
			appLog.Error("redis unavailable", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rs.Close() }()
		store = rs
		ready["redis"] = rs
	}

	tracker := expdecay.New(cfg.HotHalfLife)
	hot := metricswrap.New(tracker, appLog, cfg.HotThreshold)
	go pruneLoop(ctx, tracker, cfg.HotHalfLife)

	mapper := h3mapper.New()
	cache := searchcache.New(client, searchcache.Options{
		Store:      store,
		L1Size:     cfg.CacheLRUSize,
		TTLDefault: cfg.CacheTTLDefault,
		IndexTTL:   max(cfg.CacheTTLDefault, cfg.CacheTTLHot),
		OpTimeout:  cfg.CacheOpTimeout,
		Regions:    mapper,
		Res:        cfg.H3Res,
		Hotness:    hot,
		Policy: simple.New(simple.Config{
			Threshold:  cfg.HotThreshold,
			TTLDefault: cfg.CacheTTLDefault,
			TTLHot:     cfg.CacheTTLHot,
		}),
		Logger: appLog,
	})

	prov.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "search_cache_l1_entries",
		Help: "Searches held in the in-process cache tier.",
	}, func() float64 { return float64(cache.L1Len()) }))

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers:             cfg.Events.BrokerList(),
			Topic:               cfg.Invalidation.Topic,
			GroupID:             cfg.Invalidation.GroupID,
			InitialOffsetOldest: cfg.Invalidation.Oldest,
			MaxCells:            cfg.Invalidation.MaxCells,
		}, cache, mapper, kafkaconsumer.Options{
			Logger:  appLog,
			Hotness: hot,
			Res:     cfg.H3Res,
		})
		if err := consumer.Start(ctx); err != nil {
			appLog.Error("failed to start ingest consumer", "brokers", cfg.Events.Brokers, "err", err)
			return 1
		}
		defer consumer.Stop()
		ready["kafka_ingest"] = consumer
	}

	previewer, err := preview.New(httpClient, preview.Options{
		MaxBytes:     cfg.PreviewMaxBytes,
		MaxPixels:    cfg.PreviewMaxPixels,
		MaxDim:       cfg.PreviewMaxDim,
		LRUSize:      cfg.PreviewLRUSize,
		AllowedHosts: cfg.PreviewAllowedHosts,
		Logger:       appLog,
	})
	if err != nil {
		appLog.Error("failed to initialize previewer", "err", err)
		return 1
	}

	var pub api.Publisher
	if cfg.Events.Enabled {
		p, err := events.NewPublisher(cfg.Events.BrokerList(), cfg.Events.Topic, cfg.Events.QueueSize, appLog)
		if err != nil {
			appLog.Error("failed to start event publisher", "brokers", cfg.Events.Brokers, "err", err)
			return 1
		}
		defer func() {
			if err := p.Close(); err != nil {
				appLog.Warn("event publisher close", "err", err)
			}
		}()
		pub = p
	}

	handler := api.New(api.Deps{
		Logger:    appLog,
		Searcher:  cache,
		Previewer: previewer,
		Mapper:    mapper,
		Events:    pub,
		Hot:       tracker,
		Defaults:  router.DefaultsFrom(cfg),
		Location:  loc,
		H3Res:     cfg.H3Res,
	})

	metricsHandler := prov.Handler()
	if !prov.Enabled() {
		metricsHandler = nil
	}
	mux := server.NewRouter(appLog, server.Options{
		API:     handler,
		Metrics: metricsHandler,
		Ready:   ready,
	})

	if err := server.Run(ctx, cfg, appLog, mux); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// pruneLoop drops regions whose score has decayed to noise.
func pruneLoop(ctx context.Context, t *expdecay.Tracker, halfLife time.Duration) {
	tick := time.NewTicker(max(halfLife, time.Minute))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.Prune(0.01)
			observability.SetHotRegions(t.Size())
		}
	}
}
