package monitor

import (
	"time"

	"github.com/mcdev12/deckpace/go/internal/pacing"
	"github.com/mcdev12/deckpace/go/internal/slides"
	"github.com/mcdev12/deckpace/go/internal/timer"
)

// Display is everything a monitor view shows. It is rebuilt on every
// refresh tick and after every state change.
type Display struct {
	Now time.Time

	// Connected is false until the presenter is heard from and again after
	// the liveness timeout expires
	Connected bool
	SessionID string
	Title     string

	SlideCount   int
	CurrentSlide int

	Mode   timer.Mode
	Ready  bool
	Subset *slides.Subset
	EndsAt time.Time

	// EndTime is the end-time expression in effect, typed or prefilled
	EndTime string
	// CandidateEndsAt and CandidateDuration preview the anchor a start
	// would produce now. Zero once started or when the end time is unset.
	CandidateEndsAt   time.Time
	CandidateDuration time.Duration

	// EndTimeError and SubsetError flag inputs that did not parse
	EndTimeError string
	SubsetError  string

	// BreakUntil is set while the presenter announced a break
	BreakUntil time.Time

	// Status is nil when pacing cannot be computed yet; Reason says why
	Status *pacing.Status
	Reason string
}

// View renders monitor displays
type View interface {
	Render(d Display)
}

// ViewFunc adapts a function to View
type ViewFunc func(d Display)

func (f ViewFunc) Render(d Display) { f(d) }
