package pacing

import (
	"errors"
	"testing"
	"time"

	"github.com/mcdev12/deckpace/go/internal/slides"
	"github.com/mcdev12/deckpace/go/internal/timer"
)

var start = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func near(a, b time.Duration) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < time.Millisecond
}

func fullDeck(t *testing.T) (*slides.Selector, timer.Anchor) {
	t.Helper()
	sel, err := slides.NewUniformSelector(10)
	if err != nil {
		t.Fatalf("NewUniformSelector: %v", err)
	}
	anchor := timer.Anchor{
		StartedAt:     start,
		EndsAt:        start.Add(1000 * time.Second),
		Subset:        slides.Subset{Begin: 1, End: 10},
		SubsetRatio:   1,
		TotalDuration: 1000 * time.Second,
	}
	return sel, anchor
}

func TestCalculate_windowBoundaries(t *testing.T) {
	sel, anchor := fullDeck(t)

	// Slide 3 is budgeted 100s and ideally begins at 200s.
	for _, elapsed := range []time.Duration{200 * time.Second, 250 * time.Second, 300 * time.Second} {
		st, err := Calculate(anchor, sel, 3, start.Add(elapsed))
		if err != nil {
			t.Fatalf("Calculate: %v", err)
		}
		if !near(st.SpeedError, 0) {
			t.Errorf("elapsed %v: SpeedError = %v, want 0", elapsed, st.SpeedError)
		}
		if st.Pace != PaceCaughtUp {
			t.Errorf("elapsed %v: Pace = %v, want caught_up", elapsed, st.Pace)
		}
	}
}

func TestCalculate_fields(t *testing.T) {
	sel, anchor := fullDeck(t)

	st, err := Calculate(anchor, sel, 3, start.Add(250*time.Second))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !near(st.Elapsed, 250*time.Second) {
		t.Errorf("Elapsed = %v", st.Elapsed)
	}
	if !near(st.Remaining, 750*time.Second) {
		t.Errorf("Remaining = %v", st.Remaining)
	}
	if !near(st.SlideNominal, 100*time.Second) {
		t.Errorf("SlideNominal = %v", st.SlideNominal)
	}
	if st.Completion < 0.1999 || st.Completion > 0.2001 {
		t.Errorf("Completion = %v", st.Completion)
	}
	if !near(st.IdealElapsed, 200*time.Second) {
		t.Errorf("IdealElapsed = %v", st.IdealElapsed)
	}
	if !near(st.ScheduleDelta, 50*time.Second) {
		t.Errorf("ScheduleDelta = %v", st.ScheduleDelta)
	}
	if !near(st.SlideUsed, 50*time.Second) || !near(st.SlideRemaining, 50*time.Second) {
		t.Errorf("SlideUsed/Remaining = %v/%v", st.SlideUsed, st.SlideRemaining)
	}
}

func TestCalculate_paceBuckets(t *testing.T) {
	sel, anchor := fullDeck(t)

	tests := []struct {
		elapsed   time.Duration
		wantError time.Duration
		wantPace  Pace
	}{
		{50 * time.Second, 150 * time.Second, PaceLargelyAhead},
		{150 * time.Second, 50 * time.Second, PaceSlightlyAhead},
		{305 * time.Second, -5 * time.Second, PaceCaughtUp},
		{350 * time.Second, -50 * time.Second, PaceSlightlyBehind},
		{450 * time.Second, -150 * time.Second, PaceLargelyBehind},
	}
	for _, tt := range tests {
		st, err := Calculate(anchor, sel, 3, start.Add(tt.elapsed))
		if err != nil {
			t.Fatalf("Calculate: %v", err)
		}
		if !near(st.SpeedError, tt.wantError) {
			t.Errorf("elapsed %v: SpeedError = %v, want %v", tt.elapsed, st.SpeedError, tt.wantError)
		}
		if st.Pace != tt.wantPace {
			t.Errorf("elapsed %v: Pace = %v, want %v", tt.elapsed, st.Pace, tt.wantPace)
		}
	}
}

func TestCalculate_subset(t *testing.T) {
	sel, err := slides.NewUniformSelector(10)
	if err != nil {
		t.Fatalf("NewUniformSelector: %v", err)
	}
	subset := slides.Subset{Begin: 6, End: 10}
	anchor := timer.Anchor{
		StartedAt:     start,
		EndsAt:        start.Add(1000 * time.Second),
		Subset:        subset,
		SubsetRatio:   sel.RatioOfSubset(subset),
		TotalDuration: 1000 * time.Second,
	}

	st, err := Calculate(anchor, sel, 8, start.Add(400*time.Second))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !near(st.SlideNominal, 200*time.Second) {
		t.Errorf("SlideNominal = %v, want 200s", st.SlideNominal)
	}
	if !near(st.IdealElapsed, 400*time.Second) {
		t.Errorf("IdealElapsed = %v, want 400s", st.IdealElapsed)
	}
	if !near(st.ScheduleDelta, 200*time.Second) {
		t.Errorf("ScheduleDelta = %v, want 200s", st.ScheduleDelta)
	}
}

func TestCalculate_cannotCompute(t *testing.T) {
	sel, anchor := fullDeck(t)

	if _, err := Calculate(anchor, nil, 3, start); !errors.Is(err, ErrCannotCompute) {
		t.Errorf("nil selector error = %v", err)
	}
	if _, err := Calculate(anchor, sel, 0, start); !errors.Is(err, ErrCannotCompute) {
		t.Errorf("slide 0 error = %v", err)
	}
	if _, err := Calculate(anchor, sel, 11, start); !errors.Is(err, ErrCannotCompute) {
		t.Errorf("slide 11 error = %v", err)
	}
	anchor.SubsetRatio = 0
	if _, err := Calculate(anchor, sel, 3, start); !errors.Is(err, ErrCannotCompute) {
		t.Errorf("zero subset ratio error = %v", err)
	}
}
