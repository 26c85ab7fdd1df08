package eventloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestDrain_runsNestedPosts(t *testing.T) {
	l := New(clockwork.NewFakeClock())
	var order []int
	l.Post(func() {
		order = append(order, 1)
		l.Post(func() { order = append(order, 3) })
	})
	l.Post(func() { order = append(order, 2) })

	if n := l.Drain(); n != 3 {
		t.Errorf("Drain ran %d tasks, want 3", n)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v", order)
	}
}

func TestScheduleOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock)
	fired := 0
	l.ScheduleOnce(5*time.Second, func() { fired++ })

	clock.Advance(4 * time.Second)
	l.RunDue()
	if fired != 0 {
		t.Fatalf("fired early")
	}

	clock.Advance(time.Second)
	l.RunDue()
	clock.Advance(10 * time.Second)
	l.RunDue()
	if fired != 1 {
		t.Errorf("fired %d times, want 1", fired)
	}
	if _, timers := l.Pending(); timers != 0 {
		t.Errorf("%d timers left", timers)
	}
}

func TestScheduleOnce_cancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock)
	fired := false
	cancel := l.ScheduleOnce(time.Second, func() { fired = true })
	cancel()
	cancel()

	clock.Advance(2 * time.Second)
	l.RunDue()
	if fired {
		t.Error("cancelled timer fired")
	}
}

func TestCancelAndReschedule(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock)
	expired := 0

	var cancel Cancel
	reset := func() {
		if cancel != nil {
			cancel()
		}
		cancel = l.ScheduleOnce(5*time.Second, func() { expired++ })
	}

	reset()
	for i := 0; i < 4; i++ {
		clock.Advance(3 * time.Second)
		l.RunDue()
		reset()
	}
	if expired != 0 {
		t.Fatalf("timeout expired %d times while being reset", expired)
	}

	clock.Advance(5 * time.Second)
	l.RunDue()
	if expired != 1 {
		t.Errorf("expired = %d, want 1", expired)
	}
}

func TestScheduleRepeating(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock)
	ticks := 0
	cancel := l.ScheduleRepeating(time.Second, func() { ticks++ })

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		l.RunDue()
	}
	if ticks != 3 {
		t.Fatalf("ticks = %d, want 3", ticks)
	}

	// A long gap produces a single catch-up tick.
	clock.Advance(10 * time.Second)
	l.RunDue()
	if ticks != 4 {
		t.Fatalf("ticks = %d after gap, want 4", ticks)
	}

	cancel()
	clock.Advance(time.Second)
	l.RunDue()
	if ticks != 4 {
		t.Errorf("ticks = %d after cancel, want 4", ticks)
	}
}

func TestRunDue_cancelledBySiblingCallback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock)
	secondFired := false

	var cancelSecond Cancel
	l.ScheduleOnce(time.Second, func() { cancelSecond() })
	cancelSecond = l.ScheduleOnce(time.Second, func() { secondFired = true })

	clock.Advance(time.Second)
	l.RunDue()
	if secondFired {
		t.Error("callback cancelled earlier in the same batch still ran")
	}
}

func TestRun_realClock(t *testing.T) {
	l := New(clockwork.NewRealClock())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	fired := make(chan struct{})
	l.ScheduleOnce(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled callback never ran")
	}

	posted := make(chan struct{})
	l.Post(func() { close(posted) })
	select {
	case <-posted:
	case <-time.After(2 * time.Second):
		t.Fatal("posted task never ran")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
