package timer

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/deckpace/go/internal/slides"
	"github.com/mcdev12/deckpace/go/internal/timetools"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotReady is returned when arming or starting without a valid end
	// time and subset
	ErrNotReady = errors.New("timer not ready: end time and subset required")
	// ErrEndNotInFuture is returned when the resolved end time is not after
	// the start time
	ErrEndNotInFuture = errors.New("end time is not in the future")
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
}

var _ Clock = clockwork.NewRealClock()

// Mode is the timer state
type Mode int

const (
	ModeStopped Mode = iota
	ModeArmed
	ModeStarted
)

func (m Mode) String() string {
	switch m {
	case ModeStopped:
		return "stopped"
	case ModeArmed:
		return "armed"
	case ModeStarted:
		return "started"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of Mode.String
func ParseMode(s string) (Mode, error) {
	switch s {
	case "stopped":
		return ModeStopped, nil
	case "armed":
		return ModeArmed, nil
	case "started":
		return ModeStarted, nil
	default:
		return ModeStopped, fmt.Errorf("unknown timer mode %q", s)
	}
}

// Anchor is the immutable snapshot taken when the timer starts. All pacing
// math is relative to it.
type Anchor struct {
	StartedAt     time.Time     `json:"started_at"`
	EndsAt        time.Time     `json:"ends_at"`
	Subset        slides.Subset `json:"subset"`
	SubsetRatio   float64       `json:"subset_ratio"`
	TotalDuration time.Duration `json:"total_duration"`
}

// Machine is the STOPPED/ARMED/STARTED timer state machine. Transitions are
// synchronous; the owner recomputes its display after every mutating call.
// A Machine is not safe for concurrent use: it belongs to one event loop.
type Machine struct {
	clock Clock

	mode   Mode
	anchor *Anchor

	endTime  *timetools.TimestampSpec
	subset   *slides.Subset
	selector *slides.Selector
	nominal  time.Duration

	// currentSlide is the slide used for pacing, 0 if unknown. Stop clears it.
	currentSlide int
	// reported is the presenter's last reported slide. It survives Stop so
	// that an armed timer still sees the next transition.
	reported int
}

// NewMachine creates a stopped machine
func NewMachine(clock Clock) *Machine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Machine{clock: clock}
}

// SetEndTime sets or clears (nil) the end-time expression.
func (m *Machine) SetEndTime(spec *timetools.TimestampSpec) {
	m.endTime = spec
}

// SetSubset sets or clears (nil) the selected slide subset.
func (m *Machine) SetSubset(subset *slides.Subset) {
	m.subset = subset
}

// SetSchedule provides the per-slide weights and nominal duration.
func (m *Machine) SetSchedule(selector *slides.Selector, nominal time.Duration) {
	m.selector = selector
	m.nominal = nominal
}

// Ready reports whether the timer has a valid end time and subset.
func (m *Machine) Ready() bool {
	return m.endTime != nil && m.subset != nil
}

// Mode returns the current state
func (m *Machine) Mode() Mode {
	return m.mode
}

// Anchor returns the active anchor, or false when not started.
func (m *Machine) Anchor() (Anchor, bool) {
	if m.anchor == nil {
		return Anchor{}, false
	}
	return *m.anchor, true
}

// CurrentSlide returns the pacing slide, 0 if unknown or since Stop.
func (m *Machine) CurrentSlide() int {
	return m.currentSlide
}

// Arm toggles between STOPPED and ARMED. A STARTED timer is unaffected.
func (m *Machine) Arm() error {
	switch m.mode {
	case ModeStopped:
		if !m.Ready() {
			return ErrNotReady
		}
		m.mode = ModeArmed
		log.Debug().Msg("timer armed")
	case ModeArmed:
		m.mode = ModeStopped
		log.Debug().Msg("timer disarmed")
	}
	return nil
}

// ResolveEnd resolves the end-time expression against the current time, the
// candidate EndsAt of a timer started now.
func (m *Machine) ResolveEnd() (time.Time, error) {
	if m.endTime == nil {
		return time.Time{}, ErrNotReady
	}
	return m.resolveEnd(m.clock.Now())
}

func (m *Machine) resolveEnd(now time.Time) (time.Time, error) {
	endsAt, err := m.endTime.Resolve(m.nominal, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve end time: %w", err)
	}
	return endsAt, nil
}

// Start begins timing now. Starting a running timer keeps its anchor.
func (m *Machine) Start() error {
	if m.mode == ModeStarted {
		return nil
	}
	if !m.Ready() {
		return ErrNotReady
	}

	now := m.clock.Now()
	endsAt, err := m.resolveEnd(now)
	if err != nil {
		return err
	}
	if !endsAt.After(now) {
		return fmt.Errorf("%w: ends at %s", ErrEndNotInFuture, endsAt.Format(time.RFC3339))
	}

	subsetRatio := 1.0
	if m.selector != nil {
		subsetRatio = m.selector.RatioOfSubset(*m.subset)
	}

	m.anchor = &Anchor{
		StartedAt:     now,
		EndsAt:        endsAt,
		Subset:        *m.subset,
		SubsetRatio:   subsetRatio,
		TotalDuration: endsAt.Sub(now),
	}
	m.mode = ModeStarted

	log.Info().
		Time("started_at", now).
		Time("ends_at", endsAt).
		Str("subset", m.subset.String()).
		Msg("timer started")
	return nil
}

// Adopt takes over an anchor started by a peer window. It is a no-op when
// already started. Reports whether the anchor was adopted.
func (m *Machine) Adopt(anchor Anchor) bool {
	if m.mode == ModeStarted {
		return false
	}
	a := anchor
	m.anchor = &a
	m.mode = ModeStarted
	log.Info().Time("started_at", anchor.StartedAt).Msg("timer adopted from peer")
	return true
}

// Stop returns to STOPPED from any state and forgets the pacing slide.
func (m *Machine) Stop() {
	if m.mode != ModeStopped {
		log.Info().Str("from", m.mode.String()).Msg("timer stopped")
	}
	m.mode = ModeStopped
	m.anchor = nil
	m.currentSlide = 0
}

// SlideChanged records the presenter's slide. When the reported slide
// changes while ARMED the timer starts; the first report only seeds it.
// Reports whether the pacing slide differed.
func (m *Machine) SlideChanged(slide int) bool {
	transition := m.reported != 0 && slide != m.reported
	m.reported = slide

	if slide == m.currentSlide {
		return false
	}
	m.currentSlide = slide

	if transition && m.mode == ModeArmed {
		if err := m.Start(); err != nil {
			log.Warn().Err(err).Int("slide", slide).Msg("auto-start on slide change failed")
		}
	}
	return true
}

// PresentationStarted starts the timer if it is ARMED.
func (m *Machine) PresentationStarted() error {
	if m.mode != ModeArmed {
		return nil
	}
	return m.Start()
}
