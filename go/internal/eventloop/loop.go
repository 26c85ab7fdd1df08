package eventloop

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Cancel stops a scheduled callback. Calling it more than once is harmless.
type Cancel func()

type scheduled struct {
	id        uint64
	due       time.Time
	interval  time.Duration // zero for one-shot
	fn        func()
	cancelled bool
}

// Loop runs posted tasks and timer callbacks on a single goroutine so the
// state they touch never needs its own locking.
type Loop struct {
	clock Clock

	mu     sync.Mutex
	queue  []func()
	timers map[uint64]*scheduled
	nextID uint64

	wakeCh chan struct{}
}

// New creates a loop driven by clock
func New(clock Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock:  clock,
		timers: make(map[uint64]*scheduled),
		wakeCh: make(chan struct{}, 1),
	}
}

// Clock returns the loop's clock
func (l *Loop) Clock() Clock {
	return l.clock
}

// Post enqueues fn. Safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.wake()
}

// ScheduleOnce runs fn once after d.
func (l *Loop) ScheduleOnce(d time.Duration, fn func()) Cancel {
	return l.schedule(d, 0, fn)
}

// ScheduleRepeating runs fn every d until cancelled.
func (l *Loop) ScheduleRepeating(d time.Duration, fn func()) Cancel {
	if d <= 0 {
		panic("eventloop: non-positive repeat interval")
	}
	return l.schedule(d, d, fn)
}

func (l *Loop) schedule(d, interval time.Duration, fn func()) Cancel {
	l.mu.Lock()
	l.nextID++
	s := &scheduled{
		id:       l.nextID,
		due:      l.clock.Now().Add(d),
		interval: interval,
		fn:       fn,
	}
	l.timers[s.id] = s
	l.mu.Unlock()
	l.wake()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		s.cancelled = true
		delete(l.timers, s.id)
	}
}

// Drain runs queued tasks, including ones they post, until the queue is
// empty. Returns the number of tasks run.
func (l *Loop) Drain() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
			n++
		}
	}
}

// RunDue runs every timer callback due at the clock's current time, then
// drains the task queue. Returns the number of callbacks and tasks run.
func (l *Loop) RunDue() int {
	now := l.clock.Now()

	l.mu.Lock()
	var due []*scheduled
	for _, s := range l.timers {
		if !s.due.After(now) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].id < due[j].id
		}
		return due[i].due.Before(due[j].due)
	})
	for _, s := range due {
		if s.interval == 0 {
			delete(l.timers, s.id)
			continue
		}
		s.due = s.due.Add(s.interval)
		if !s.due.After(now) {
			// Missed ticks collapse into one.
			s.due = now.Add(s.interval)
		}
	}
	l.mu.Unlock()

	n := 0
	for _, s := range due {
		l.mu.Lock()
		cancelled := s.cancelled
		l.mu.Unlock()
		if cancelled {
			continue
		}
		s.fn()
		n++
	}
	return n + l.Drain()
}

// Pending reports the number of queued tasks and active timers
func (l *Loop) Pending() (tasks, timers int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue), len(l.timers)
}

// Run processes tasks and timers until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	log.Debug().Msg("event loop started")
	defer log.Debug().Msg("event loop stopped")

	for {
		l.RunDue()

		var timer clockwork.Timer
		var timerCh <-chan time.Time
		if wait, ok := l.nextWait(); ok {
			timer = l.clock.NewTimer(wait)
			timerCh = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				stopAndDrainTimer(timer)
			}
			return ctx.Err()
		case <-l.wakeCh:
		case <-timerCh:
		}

		if timer != nil {
			stopAndDrainTimer(timer)
		}
	}
}

func (l *Loop) nextWait() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) > 0 {
		return 0, true
	}
	var next time.Time
	for _, s := range l.timers {
		if next.IsZero() || s.due.Before(next) {
			next = s.due
		}
	}
	if next.IsZero() {
		return 0, false
	}
	wait := next.Sub(l.clock.Now())
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (l *Loop) wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// stopAndDrainTimer stops a timer and drains its channel so a stale tick
// never wakes the next iteration.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
