package rehearsal

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
}

// TimeKeeper accumulates the time spent on each slide while a timer runs.
type TimeKeeper struct {
	mu    sync.Mutex
	clock Clock

	running bool
	slide   int
	since   time.Time
	dwell   map[int]time.Duration
}

// NewTimeKeeper creates an idle keeper
func NewTimeKeeper(clock Clock) *TimeKeeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TimeKeeper{clock: clock, dwell: make(map[int]time.Duration)}
}

// Start resets the keeper and begins timing slide. A zero slide means the
// current slide is not known yet.
func (k *TimeKeeper) Start(slide int) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.running = true
	k.slide = slide
	k.since = k.clock.Now()
	k.dwell = make(map[int]time.Duration)
}

// SlideChanged closes the interval on the previous slide.
func (k *TimeKeeper) SlideChanged(slide int) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.running || slide == k.slide {
		return
	}
	k.accumulateLocked()
	k.slide = slide
}

// Stop ends timing and returns the dwell per slide.
func (k *TimeKeeper) Stop() map[int]time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.running {
		k.accumulateLocked()
		k.running = false
	}
	return k.snapshotLocked(false)
}

// Running reports whether the keeper is timing
func (k *TimeKeeper) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

// Dwell returns the dwell per slide including the interval in progress.
func (k *TimeKeeper) Dwell() map[int]time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.snapshotLocked(k.running)
}

func (k *TimeKeeper) accumulateLocked() {
	now := k.clock.Now()
	if k.slide > 0 {
		k.dwell[k.slide] += now.Sub(k.since)
	}
	k.since = now
}

func (k *TimeKeeper) snapshotLocked(includeCurrent bool) map[int]time.Duration {
	out := make(map[int]time.Duration, len(k.dwell)+1)
	for slide, d := range k.dwell {
		out[slide] = d
	}
	if includeCurrent && k.slide > 0 {
		out[k.slide] += k.clock.Now().Sub(k.since)
	}
	return out
}

// Slides returns the slide numbers of a dwell map in ascending order.
func Slides(dwell map[int]time.Duration) []int {
	out := make([]int, 0, len(dwell))
	for slide := range dwell {
		out = append(out, slide)
	}
	sort.Ints(out)
	return out
}
