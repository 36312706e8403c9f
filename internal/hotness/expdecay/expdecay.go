// Package expdecay implements an exponentially decaying popularity score per
// region. A score gains 1 per search and halves every HalfLife.
package expdecay

import (
	"cmp"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/granule-explorer/internal/hotness"
)

const numShards = 64

type Tracker struct {
	HalfLife time.Duration

	now func() time.Time

	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*counter
}

type counter struct {
	score float64
	last  time.Time
}

var _ hotness.Interface = (*Tracker)(nil)

func New(halfLife time.Duration) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	t := &Tracker{HalfLife: halfLife, now: time.Now}
	for i := range t.shards {
		t.shards[i].m = make(map[string]*counter)
	}
	return t
}

func (t *Tracker) Inc(region string) {
	if region == "" {
		return
	}
	s := t.pick(region)
	n := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m[region]
	if c == nil {
		s.m[region] = &counter{score: 1, last: n}
		return
	}
	dt := n.Sub(c.last).Seconds()
	// apply exponential decay to the existing score before incrementing
	c.score = decay(c.score, dt, t.HalfLife.Seconds()) + 1.0
	c.last = n
}

func (t *Tracker) Score(region string) float64 {
	if region == "" {
		return 0
	}
	s := t.pick(region)
	n := t.now()

	s.mu.RLock()
	c := s.m[region]
	if c == nil {
		s.mu.RUnlock()
		return 0
	}
	score, last := c.score, c.last
	s.mu.RUnlock()

	// apply exponential decay to the existing score
	dt := n.Sub(last).Seconds()
	return decay(score, dt, t.HalfLife.Seconds())
}

func (t *Tracker) Reset(regions ...string) {
	for _, region := range regions {
		if region == "" {
			continue
		}
		s := t.pick(region)
		s.mu.Lock()
		delete(s.m, region)
		s.mu.Unlock()
	}
}

func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	lambda := math.Ln2 / halfLife
	// apply exponential decay (e^(-λt))
	return score * math.Exp(-lambda*dt)
}

func (t *Tracker) pick(region string) *shard {
	h := xxhash.Sum64String(region)
	idx := h & (uint64(len(t.shards)) - 1)
	return &t.shards[idx]
}

// Prune drops regions whose decayed score fell below minScore and returns
// how many were removed. It keeps the map bounded for long-running servers.
func (t *Tracker) Prune(minScore float64) int {
	n := t.now()
	hl := t.HalfLife.Seconds()
	removed := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for k, c := range s.m {
			if decay(c.score, n.Sub(c.last).Seconds(), hl) < minScore {
				delete(s.m, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.RLock()
		total += len(t.shards[i].m)
		t.shards[i].mu.RUnlock()
	}
	return total
}

// Top returns the n highest scoring regions, highest first; ties are broken
// by region id so the order is stable.
func (t *Tracker) Top(n int) []hotness.RegionScore {
	if n <= 0 {
		return nil
	}
	now := t.now()
	hl := t.HalfLife.Seconds()
	var out []hotness.RegionScore
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		for k, c := range s.m {
			out = append(out, hotness.RegionScore{Region: k, Score: decay(c.score, now.Sub(c.last).Seconds(), hl)})
		}
		s.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b hotness.RegionScore) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Region, b.Region)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
