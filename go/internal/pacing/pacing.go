package pacing

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/deckpace/go/internal/slides"
	"github.com/mcdev12/deckpace/go/internal/timer"
)

// ErrCannotCompute is returned when inputs are missing or degenerate. The
// display falls back to "cannot compute yet".
var ErrCannotCompute = errors.New("cannot compute pacing yet")

// Pace classifies how far the speaker is from the ideal schedule
type Pace string

const (
	PaceLargelyBehind  Pace = "largely_behind"
	PaceSlightlyBehind Pace = "slightly_behind"
	PaceCaughtUp       Pace = "caught_up"
	PaceSlightlyAhead  Pace = "slightly_ahead"
	PaceLargelyAhead   Pace = "largely_ahead"
)

// Status is the derived pacing snapshot for one instant. Durations may be
// negative.
type Status struct {
	Elapsed   time.Duration
	Remaining time.Duration

	// SlideNominal is the time budgeted for the current slide
	SlideNominal time.Duration
	// Completion is the share of the subset covered before the current slide
	Completion   float64
	IdealElapsed time.Duration

	// ScheduleDelta > 0 means ahead of schedule
	ScheduleDelta time.Duration
	// SpeedError is zero while the speaker is within the current slide's
	// window, otherwise the signed distance outside it
	SpeedError time.Duration

	SlideUsed      time.Duration
	SlideRemaining time.Duration

	Pace Pace
}

// Calculate derives the pacing status for currentSlide at now.
func Calculate(anchor timer.Anchor, selector *slides.Selector, currentSlide int, now time.Time) (Status, error) {
	if selector == nil {
		return Status{}, fmt.Errorf("%w: no slide schedule", ErrCannotCompute)
	}
	if currentSlide < 1 || currentSlide > selector.Count() {
		return Status{}, fmt.Errorf("%w: slide %d unknown", ErrCannotCompute, currentSlide)
	}
	if anchor.SubsetRatio <= 0 || anchor.TotalDuration <= 0 {
		return Status{}, fmt.Errorf("%w: empty subset or duration", ErrCannotCompute)
	}

	total := anchor.TotalDuration.Seconds()
	elapsed := now.Sub(anchor.StartedAt).Seconds()

	slideNominal := selector.RatioOf(currentSlide) / anchor.SubsetRatio * total
	completion := (selector.CumulativeRatioBefore(currentSlide) - selector.CumulativeRatioBefore(anchor.Subset.Begin)) / anchor.SubsetRatio
	ideal := completion * total
	delta := ideal - elapsed + slideNominal

	var speedError float64
	switch {
	case delta < 0:
		speedError = delta
	case delta > slideNominal:
		speedError = delta - slideNominal
	}

	return Status{
		Elapsed:        now.Sub(anchor.StartedAt),
		Remaining:      anchor.EndsAt.Sub(now),
		SlideNominal:   seconds(slideNominal),
		Completion:     completion,
		IdealElapsed:   seconds(ideal),
		ScheduleDelta:  seconds(delta),
		SpeedError:     seconds(speedError),
		SlideUsed:      seconds(slideNominal - delta),
		SlideRemaining: seconds(delta),
		Pace:           classify(speedError, total),
	}, nil
}

// classify buckets the speed error using thresholds of 1/60 (slight) and
// 1/10 (large) of the total duration.
func classify(speedError, total float64) Pace {
	slight := total / 60
	large := total / 10
	switch {
	case speedError < -large:
		return PaceLargelyBehind
	case speedError < -slight:
		return PaceSlightlyBehind
	case speedError > large:
		return PaceLargelyAhead
	case speedError > slight:
		return PaceSlightlyAhead
	default:
		return PaceCaughtUp
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
