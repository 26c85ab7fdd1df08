package presenter

import (
	"time"

	"github.com/mcdev12/deckpace/go/internal/timetools"
)

// BreakState classifies the time left in a break
type BreakState string

const (
	BreakPlenty BreakState = "plenty"
	BreakLittle BreakState = "little"
	BreakNone   BreakState = "none"
)

// plentyThreshold is the remaining time above which a break is relaxed
const plentyThreshold = 3 * time.Minute

// BreakStatus is a snapshot of a running break countdown
type BreakStatus struct {
	Duration  time.Duration
	Until     time.Time
	Remaining time.Duration
	State     BreakState
	Expired   bool
}

// String renders the remaining time as m:ss
func (s BreakStatus) String() string {
	return timetools.FormatMS(s.Remaining.Seconds())
}

type breakCountdown struct {
	duration time.Duration
	until    time.Time
	expired  bool
	cancel   func()
	onExpire func()
}

func (b *breakCountdown) status(now time.Time) BreakStatus {
	remaining := b.until.Sub(now)
	return BreakStatus{
		Duration:  b.duration,
		Until:     b.until,
		Remaining: remaining,
		State:     classifyBreak(remaining),
		Expired:   b.expired,
	}
}

func classifyBreak(remaining time.Duration) BreakState {
	switch {
	case remaining >= plentyThreshold:
		return BreakPlenty
	case remaining >= 0:
		return BreakLittle
	default:
		return BreakNone
	}
}
