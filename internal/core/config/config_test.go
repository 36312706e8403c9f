package config

import (
	"reflect"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("H3_RES", "")
	c := FromEnv()
	if c.Addr != ":8090" {
		t.Fatalf("Addr=%q", c.Addr)
	}
	if c.DefaultPlatform != "SENTINEL-1" {
		t.Fatalf("DefaultPlatform=%q", c.DefaultPlatform)
	}
	if c.DefaultLookback != 30*24*time.Hour {
		t.Fatalf("DefaultLookback=%v", c.DefaultLookback)
	}
	if c.RedisAddr != "" {
		t.Fatalf("RedisAddr=%q want empty", c.RedisAddr)
	}
	if c.CacheTTLHot != 4*c.CacheTTLDefault {
		t.Fatalf("CacheTTLHot=%v want 4x default", c.CacheTTLHot)
	}
	if c.Invalidation.Enabled || c.Invalidation.Topic != "granule-ingest" {
		t.Fatalf("Invalidation=%+v", c.Invalidation)
	}
	if c.PreviewMaxPixels != 64<<20 {
		t.Fatalf("PreviewMaxPixels=%d", c.PreviewMaxPixels)
	}
}

func TestFromEnv_PreviewHosts(t *testing.T) {
	t.Setenv("PREVIEW_ALLOWED_HOSTS", "")
	t.Setenv("ASF_DATAPOOL_URL", "https://mirror.example.test:8443/pool/")
	if got := FromEnv().PreviewAllowedHosts; !reflect.DeepEqual(got, []string{"mirror.example.test:8443"}) {
		t.Fatalf("default hosts=%v want datapool host", got)
	}

	t.Setenv("PREVIEW_ALLOWED_HOSTS", "datapool.asf.alaska.edu, ,sentinel1.asf.alaska.edu")
	want := []string{"datapool.asf.alaska.edu", "sentinel1.asf.alaska.edu"}
	if got := FromEnv().PreviewAllowedHosts; !reflect.DeepEqual(got, want) {
		t.Fatalf("hosts=%v want %v", got, want)
	}
}

func TestFromEnv_OverridesAndClamp(t *testing.T) {
	t.Setenv("H3_RES", "22")
	t.Setenv("EVENTS_ENABLED", "yes")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("CACHE_TTL_DEFAULT", "30s")
	t.Setenv("CACHE_TTL_HOT", "")
	t.Setenv("MAX_RESULTS", "nope")
	t.Setenv("INVALIDATION_ENABLED", "1")
	t.Setenv("KAFKA_GROUP_ID", "explorer-a")

	c := FromEnv()
	if c.H3Res != 15 {
		t.Fatalf("H3Res=%d want clamp to 15", c.H3Res)
	}
	if !c.Events.Enabled {
		t.Fatal("events should be enabled")
	}
	if got := c.Events.BrokerList(); !reflect.DeepEqual(got, []string{"a:9092", "b:9092"}) {
		t.Fatalf("BrokerList=%v", got)
	}
	if c.CacheTTLHot != 2*time.Minute {
		t.Fatalf("CacheTTLHot=%v want 2m", c.CacheTTLHot)
	}
	if !c.Invalidation.Enabled || c.Invalidation.GroupID != "explorer-a" {
		t.Fatalf("Invalidation=%+v", c.Invalidation)
	}
	if c.MaxResults != 250 {
		t.Fatalf("MaxResults=%d want default on parse error", c.MaxResults)
	}
}

func TestLocation(t *testing.T) {
	c := Config{CalendarTZ: "utc"}
	loc, err := c.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("loc=%v err=%v", loc, err)
	}
	c.CalendarTZ = "Not/AZone"
	if _, err := c.Location(); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}
