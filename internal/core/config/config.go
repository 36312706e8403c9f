package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type EventsCfg struct {
	Enabled   bool
	Brokers   string
	Topic     string
	QueueSize int
}

type InvalidationCfg struct {
	Enabled  bool
	Topic    string
	GroupID  string
	Oldest   bool
	MaxCells int
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	LogSampleN       int
	ASFSearchURL     string
	ASFDatapoolURL   string
	DefaultPlatform  string
	DefaultLookback  time.Duration
	MaxResults       int
	CalendarTZ       string
	RedisAddr        string
	H3Res            int
	HotThreshold     float64
	HotHalfLife      time.Duration
	CacheOpTimeout   time.Duration
	CacheTTLDefault  time.Duration
	CacheTTLHot      time.Duration
	CacheLRUSize     int
	PreviewMaxBytes  int64
	PreviewMaxPixels int64
	PreviewMaxDim    int
	PreviewLRUSize   int
	// hosts /api/preview may fetch from
	PreviewAllowedHosts []string
	Events              EventsCfg
	Invalidation        InvalidationCfg
	MetricsEnabled      bool
}

func FromEnv() Config {
	res := getint("H3_RES", 5)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	ttlDefault := getduration("CACHE_TTL_DEFAULT", 5*time.Minute)
	datapool := getenv("ASF_DATAPOOL_URL", "https://datapool.asf.alaska.edu/")
	previewHosts := splitList(os.Getenv("PREVIEW_ALLOWED_HOSTS"))
	if len(previewHosts) == 0 {
		if u, err := url.Parse(datapool); err == nil && u.Host != "" {
			previewHosts = []string{u.Host}
		}
	}

	return Config{
		Addr:            getenv("ADDR", ":8090"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogConsole:      getbool("LOG_CONSOLE", false),
		LogSampleN:      getint("LOG_SAMPLE_N", 0),
		ASFSearchURL:    getenv("ASF_SEARCH_URL", "https://api.daac.asf.alaska.edu/services/search/param"),
		ASFDatapoolURL:  datapool,
		DefaultPlatform: getenv("DEFAULT_PLATFORM", "SENTINEL-1"),
		DefaultLookback: getduration("DEFAULT_LOOKBACK", 30*24*time.Hour),
		MaxResults:      getint("MAX_RESULTS", 250),
		CalendarTZ:      getenv("CALENDAR_TZ", "UTC"),
		// empty disables the redis tier
		RedisAddr:           strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		H3Res:               res,
		HotThreshold:        getfloat("HOT_THRESHOLD", 10.0),
		HotHalfLife:         getduration("HOT_HALF_LIFE", 10*time.Minute),
		CacheOpTimeout:      getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheTTLDefault:     ttlDefault,
		CacheTTLHot:         getduration("CACHE_TTL_HOT", 4*ttlDefault),
		CacheLRUSize:        getint("CACHE_LRU_SIZE", 256),
		PreviewMaxBytes:     getint64("PREVIEW_MAX_BYTES", 64<<20),
		PreviewMaxPixels:    getint64("PREVIEW_MAX_PIXELS", 64<<20),
		PreviewMaxDim:       getint("PREVIEW_MAX_DIM", 1024),
		PreviewLRUSize:      getint("PREVIEW_LRU_SIZE", 32),
		PreviewAllowedHosts: previewHosts,
		Events: EventsCfg{
			Enabled:   getbool("EVENTS_ENABLED", false),
			Brokers:   getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:     getenv("EVENTS_TOPIC", "granule-searches"),
			QueueSize: getint("EVENTS_QUEUE", 1024),
		},
		Invalidation: InvalidationCfg{
			Enabled:  getbool("INVALIDATION_ENABLED", false),
			Topic:    getenv("INVALIDATION_TOPIC", "granule-ingest"),
			GroupID:  getenv("KAFKA_GROUP_ID", "granule-explorer"),
			Oldest:   getbool("INVALIDATION_FROM_OLDEST", false),
			MaxCells: getint("INVALIDATION_MAX_CELLS", 2048),
		},
		MetricsEnabled: getbool("METRICS_ENABLED", true),
	}
}

// Location resolves CalendarTZ, falling back to UTC.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.CalendarTZ)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// BrokerList splits the comma separated broker list.
func (e EventsCfg) BrokerList() []string {
	return splitList(e.Brokers)
}

func splitList(s string) []string {
	var out []string
	for v := range strings.SplitSeq(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
