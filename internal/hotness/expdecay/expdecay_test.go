package expdecay

import (
	"math"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTrackerForTest(hl time.Duration, fc *fakeClock) *Tracker {
	if fc == nil {
		fc = &fakeClock{}
		fc.Set(time.Unix(0, 0).UTC())
	}
	tr := New(hl)
	tr.now = fc.Now
	return tr
}

func almostEq(t *testing.T, got, want, eps float64) {
	t.Helper()
	if math.Abs(got-want) > eps {
		t.Fatalf("got=%g want=%g (eps=%g)", got, want, eps)
	}
}

func TestIncAndScore_AccumulatesImmediately(t *testing.T) {
	fc := &fakeClock{}
	fc.Set(time.Unix(0, 0).UTC())
	tr := newTrackerForTest(time.Minute, fc)

	region := "852a1073fffffff"

	tr.Inc(region)
	almostEq(t, tr.Score(region), 1.0, 1e-9)

	tr.Inc(region)
	almostEq(t, tr.Score(region), 2.0, 1e-9)

	tr.Inc(region)
	almostEq(t, tr.Score(region), 3.0, 1e-9)
}

func TestHalfLife_DecaysByHalf(t *testing.T) {
	hl := 2 * time.Second
	fc := &fakeClock{}
	fc.Set(time.Unix(0, 0).UTC())
	tr := newTrackerForTest(hl, fc)

	region := "852a1073fffffff"

	tr.Inc(region)
	almostEq(t, tr.Score(region), 1.0, 1e-9)

	fc.Add(hl)
	got := tr.Score(region)
	// after one half-life, score should be halved
	almostEq(t, got, 0.5, 1e-6)

	fc.Add(hl)
	got = tr.Score(region)
	almostEq(t, got, 0.25, 1e-6)
}

func TestConcurrency_ManyIncSameCell(t *testing.T) {
	fc := &fakeClock{}
	fc.Set(time.Unix(0, 0).UTC())
	tr := newTrackerForTest(1*time.Minute, fc)

	region := "hot-region"
	const N = 256

	var wg sync.WaitGroup
	wg.Add(N)
	for range N {
		go func() {
			tr.Inc(region)
			wg.Done()
		}()
	}
	wg.Wait()

	// ensure thread safety, total score should be N
	got := tr.Score(region)
	almostEq(t, got, N, 1e-9)
}

func TestReset_OnlySelectedRegions(t *testing.T) {
	fc := &fakeClock{}
	fc.Set(time.Unix(0, 0).UTC())
	tr := newTrackerForTest(30*time.Second, fc)

	a := "region-A"
	b := "region-B"

	tr.Inc(a)
	tr.Inc(b)
	if tr.Score(a) <= 0 || tr.Score(b) <= 0 {
		t.Fatalf("precondition failed: scores must be > 0")
	}

	tr.Reset(a)

	if got := tr.Score(a); got != 0 {
		t.Fatalf("reset failed for %s: got %g want 0", a, got)
	}
	if got := tr.Score(b); got <= 0 {
		t.Fatalf("unexpected reset of %s: got %g want >0", b, got)
	}
}

func TestDecayHelper_Edges(t *testing.T) {
	if got := decay(0, 10, 60); got != 0 {
		t.Fatalf("expected 0, got %g", got)
	}
	if got := decay(5, 0, 60); got != 5 {
		t.Fatalf("expected 5, got %g", got)
	}
	if got := decay(5, 10, 0); got != 5 {
		t.Fatalf("expected 5, got %g", got)
	}
}

func TestPrune_DropsColdRegions(t *testing.T) {
	fc := &fakeClock{}
	fc.Set(time.Unix(0, 0).UTC())
	tr := newTrackerForTest(time.Second, fc)

	tr.Inc("old")
	fc.Add(10 * time.Second)
	tr.Inc("fresh")

	if removed := tr.Prune(0.01); removed != 1 {
		t.Fatalf("removed=%d want 1", removed)
	}
	if tr.Size() != 1 || tr.Score("fresh") == 0 {
		t.Fatalf("fresh region must survive, size=%d", tr.Size())
	}
}

func TestTop_OrdersByDecayedScore(t *testing.T) {
	fc := &fakeClock{}
	fc.Set(time.Unix(1000, 0).UTC())
	tr := newTrackerForTest(time.Minute, fc)

	// "old" gets 4 hits, then waits two half-lives (score 1)
	for range 4 {
		tr.Inc("old")
	}
	fc.Add(2 * time.Minute)
	tr.Inc("b")
	tr.Inc("b")
	tr.Inc("a")
	tr.Inc("a")

	top := tr.Top(2)
	if len(top) != 2 || top[0].Region != "a" || top[1].Region != "b" {
		t.Fatalf("Top(2)=%+v want a,b (tie broken by id)", top)
	}
	all := tr.Top(10)
	if len(all) != 3 || all[2].Region != "old" || math.Abs(all[2].Score-1) > 1e-9 {
		t.Fatalf("Top(10)=%+v", all)
	}
	if tr.Top(0) != nil {
		t.Fatal("Top(0) should be nil")
	}
}
