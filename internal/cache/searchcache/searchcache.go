// Package searchcache puts a two tier cache (in-process LRU, then Redis) in
// front of a granule searcher.
package searchcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/granule-explorer/internal/cache/keys"
	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
	"github.com/mohammed-shakir/granule-explorer/internal/core/observability"
	"github.com/mohammed-shakir/granule-explorer/pkg/adaptive"
)

type Outcome string

const (
	OutcomeL1Hit Outcome = "l1_hit"
	OutcomeL2Hit Outcome = "l2_hit"
	OutcomeMiss  Outcome = "miss"
)

// Hit reports whether the granules came from a cache tier.
func (o Outcome) Hit() bool { return o == OutcomeL1Hit || o == OutcomeL2Hit }

type Searcher interface {
	Search(ctx context.Context, q model.SearchRequest) ([]model.Granule, error)
}

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type Regioner interface {
	RegionForBBox(bb model.BBox, res int) (string, error)
}

type Hotness interface {
	Inc(region string)
	Score(region string) float64
}

// RegionIndex is implemented by stores that can track which keys were cached
// for a region, so they can be dropped together.
type RegionIndex interface {
	AddToSet(ctx context.Context, set, member string, ttl time.Duration) error
	Members(ctx context.Context, set string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
}

// Purger is implemented by stores that can drop keys by pattern.
type Purger interface {
	DelMatching(ctx context.Context, pattern string) (int, error)
}

type Options struct {
	Store      Store // nil disables the redis tier
	L1Size     int   // <= 0 disables the in-process tier
	TTLDefault time.Duration
	IndexTTL   time.Duration // lifetime of region index sets, >= the longest entry TTL
	OpTimeout  time.Duration
	Regions    Regioner
	Res        int
	Hotness    Hotness
	Policy     adaptive.Decider // nil caches everything for TTLDefault
	Logger     *slog.Logger
}

type Result struct {
	Granules []model.Granule
	Outcome  Outcome
	Region   string
	Key      string
	Hot      bool
}

type Cache struct {
	next Searcher
	opts Options
	l1   *expirable.LRU[string, []model.Granule]
	log  *slog.Logger
}

var _ Searcher = (*Cache)(nil)

func New(next Searcher, opts Options) *Cache {
	if opts.TTLDefault <= 0 {
		opts.TTLDefault = 5 * time.Minute
	}
	if opts.IndexTTL <= 0 {
		opts.IndexTTL = 4 * opts.TTLDefault
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 250 * time.Millisecond
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	c := &Cache{next: next, opts: opts, log: lg}
	if opts.L1Size > 0 {
		c.l1 = expirable.NewLRU[string, []model.Granule](opts.L1Size, nil, opts.TTLDefault)
	}
	return c
}

func (c *Cache) Search(ctx context.Context, q model.SearchRequest) ([]model.Granule, error) {
	r, err := c.Lookup(ctx, q)
	if err != nil {
		return nil, err
	}
	return r.Granules, nil
}

// Lookup serves q from the first tier that has it, falling back to the
// wrapped searcher. Cache errors are logged and treated as misses.
func (c *Cache) Lookup(ctx context.Context, q model.SearchRequest) (Result, error) {
	key := keys.SearchKey(q)
	res := Result{Key: key, Region: c.region(ctx, q.BBox)}
	if res.Region != "" && c.opts.Hotness != nil {
		c.opts.Hotness.Inc(res.Region)
	}

	if c.l1 != nil {
		if gs, ok := c.l1.Get(key); ok {
			observability.IncCacheHit("l1")
			res.Granules, res.Outcome = slices.Clone(gs), OutcomeL1Hit
			return res, nil
		}
		observability.IncCacheMiss("l1")
	}

	if gs, ok := c.getL2(ctx, key); ok {
		observability.IncCacheHit("l2")
		if c.l1 != nil {
			c.l1.Add(key, gs)
		}
		res.Granules, res.Outcome = slices.Clone(gs), OutcomeL2Hit
		return res, nil
	}
	if c.opts.Store != nil {
		observability.IncCacheMiss("l2")
	}

	gs, err := c.next.Search(ctx, q)
	if err != nil {
		return Result{}, err
	}
	if c.l1 != nil {
		c.l1.Add(key, gs)
	}
	dec := c.decide(ctx, res.Region)
	res.Hot = dec.Hot
	if c.setL2(ctx, key, gs, dec.TTL) {
		c.index(ctx, res.Region, key)
	}
	res.Granules, res.Outcome = slices.Clone(gs), OutcomeMiss
	return res, nil
}

// InvalidateRegions drops every cached search indexed under regions and
// clears the in-process tier. It returns the number of redis entries removed.
func (c *Cache) InvalidateRegions(ctx context.Context, regions ...string) (int, error) {
	if c.l1 != nil {
		c.l1.Purge()
	}
	idx, ok := c.opts.Store.(RegionIndex)
	if !ok || len(regions) == 0 {
		return 0, nil
	}
	dropped := 0
	for _, region := range regions {
		set := keys.RegionIndexKey(region)
		cctx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
		members, err := idx.Members(cctx, set)
		if err == nil {
			err = idx.Del(cctx, append(members, set)...)
		}
		cancel()
		if err != nil {
			return dropped, fmt.Errorf("invalidate region %s: %w", region, err)
		}
		dropped += len(members)
	}
	return dropped, nil
}

// PurgeAll drops every cached search from both tiers. It is the fallback
// when an invalidation covers too many regions to drop one by one.
func (c *Cache) PurgeAll(ctx context.Context) (int, error) {
	if c.l1 != nil {
		c.l1.Purge()
	}
	p, ok := c.opts.Store.(Purger)
	if !ok {
		return 0, nil
	}
	n, err := p.DelMatching(ctx, keys.Pattern())
	if err != nil {
		return n, fmt.Errorf("purge search cache: %w", err)
	}
	c.log.InfoContext(ctx, "search cache purged", "keys", n)
	return n, nil
}

// L1Len is the number of entries held in process.
func (c *Cache) L1Len() int {
	if c.l1 == nil {
		return 0
	}
	return c.l1.Len()
}

func (c *Cache) decide(ctx context.Context, region string) adaptive.Decision {
	if c.opts.Policy == nil || c.opts.Hotness == nil {
		return adaptive.Decision{TTL: c.opts.TTLDefault}
	}
	dec, reason := c.opts.Policy.Decide(region, c.opts.Hotness)
	if dec.TTL <= 0 {
		dec.TTL = c.opts.TTLDefault
	}
	c.log.DebugContext(ctx, "cache ttl decided", "region", region, "reason", reason, "ttl", dec.TTL)
	return dec
}

func (c *Cache) index(ctx context.Context, region, key string) {
	idx, ok := c.opts.Store.(RegionIndex)
	if !ok || region == "" {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	if err := idx.AddToSet(cctx, keys.RegionIndexKey(region), key, c.opts.IndexTTL); err != nil {
		c.log.WarnContext(ctx, "search cache index failed", "region", region, "err", err)
	}
}

func (c *Cache) region(ctx context.Context, bb model.BBox) string {
	if c.opts.Regions == nil {
		return ""
	}
	r, err := c.opts.Regions.RegionForBBox(bb, c.opts.Res)
	if err != nil {
		c.log.DebugContext(ctx, "no region for bbox", "bbox", bb.String(), "err", err)
		return ""
	}
	return r
}

func (c *Cache) getL2(ctx context.Context, key string) ([]model.Granule, bool) {
	if c.opts.Store == nil {
		return nil, false
	}
	cctx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	b, ok, err := c.opts.Store.Get(cctx, key)
	if err != nil {
		c.log.WarnContext(ctx, "search cache get failed", "key", key, "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var gs []model.Granule
	if err := json.Unmarshal(b, &gs); err != nil {
		c.log.WarnContext(ctx, "search cache entry corrupt", "key", key, "err", err)
		return nil, false
	}
	return gs, true
}

func (c *Cache) setL2(ctx context.Context, key string, gs []model.Granule, ttl time.Duration) bool {
	if c.opts.Store == nil {
		return false
	}
	b, err := encode(gs)
	if err != nil {
		c.log.WarnContext(ctx, "search cache encode failed", "key", key, "err", err)
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	if err := c.opts.Store.Set(cctx, key, b, ttl); err != nil {
		c.log.WarnContext(ctx, "search cache set failed", "key", key, "err", err)
		return false
	}
	return true
}

func encode(gs []model.Granule) ([]byte, error) {
	if gs == nil {
		gs = []model.Granule{}
	}
	b, err := json.Marshal(gs)
	if err != nil {
		return nil, fmt.Errorf("marshal granules: %w", err)
	}
	return b, nil
}
