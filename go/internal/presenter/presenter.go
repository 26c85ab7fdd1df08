package presenter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/deckpace/go/internal/bus"
	"github.com/mcdev12/deckpace/go/internal/config"
	"github.com/mcdev12/deckpace/go/internal/eventloop"
	"github.com/mcdev12/deckpace/go/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidBreak is returned for a non-positive break duration
	ErrInvalidBreak = errors.New("break duration must be positive")
	// ErrBreakActive is returned when a break is already counting down
	ErrBreakActive = errors.New("a break is already running")
)

// Config tunes the presenter's broadcast cadence
type Config struct {
	// SlideInfoInterval is the slide_info heartbeat that keeps monitors
	// connected
	SlideInfoInterval time.Duration
	// BreakTickInterval is the break countdown refresh rate
	BreakTickInterval time.Duration
	// OnBreakTick is called on the loop after every countdown tick
	OnBreakTick func(BreakStatus)
}

// DefaultConfig returns the standard cadence
func DefaultConfig() Config {
	return Config{
		SlideInfoInterval: 3 * time.Second,
		BreakTickInterval: time.Second,
	}
}

// NewConfigFromEnv overlays PRESENTER_* variables on the defaults
func NewConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.SlideInfoInterval = config.GetEnvDuration("PRESENTER_SLIDE_INFO_INTERVAL", cfg.SlideInfoInterval)
	cfg.BreakTickInterval = config.GetEnvDuration("PRESENTER_BREAK_TICK_INTERVAL", cfg.BreakTickInterval)
	return cfg
}

// Presenter announces the slide position of a Surface on the presentation
// channel and answers monitor queries. All methods except Start and Close
// must run on the loop goroutine.
type Presenter struct {
	cfg       Config
	loop      *eventloop.Loop
	bus       bus.Bus
	surface   Surface
	meta      protocol.PresentationMetaPayload
	sessionID string

	ctx          context.Context
	unsubscribe  func()
	cancelTicker eventloop.Cancel
	pause        *breakCountdown
}

// New creates a presenter with a fresh session id
func New(cfg Config, loop *eventloop.Loop, b bus.Bus, surface Surface, meta protocol.PresentationMetaPayload) *Presenter {
	def := DefaultConfig()
	if cfg.SlideInfoInterval <= 0 {
		cfg.SlideInfoInterval = def.SlideInfoInterval
	}
	if cfg.BreakTickInterval <= 0 {
		cfg.BreakTickInterval = def.BreakTickInterval
	}
	return &Presenter{
		cfg:       cfg,
		loop:      loop,
		bus:       b,
		surface:   surface,
		meta:      meta,
		sessionID: uuid.NewString(),
		ctx:       context.Background(),
	}
}

// SessionID identifies this presenter instance on the channel
func (p *Presenter) SessionID() string {
	return p.sessionID
}

// Start subscribes to the channel and begins the periodic slide_info
// broadcast. Publishing uses ctx for the presenter's lifetime.
func (p *Presenter) Start(ctx context.Context) error {
	unsubscribe, err := p.bus.Subscribe(func(env protocol.Envelope) {
		p.loop.Post(func() { p.handle(env) })
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe presenter: %w", err)
	}
	p.ctx = ctx
	p.unsubscribe = unsubscribe
	p.cancelTicker = p.loop.ScheduleRepeating(p.cfg.SlideInfoInterval, p.sendSlideInfo)

	log.Info().
		Str("session_id", p.sessionID).
		Int("slide_count", p.surface.SlideCount()).
		Msg("presenter started")
	return nil
}

// Close stops broadcasting and detaches from the channel
func (p *Presenter) Close() {
	if p.cancelTicker != nil {
		p.cancelTicker()
	}
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	p.EndBreak()
}

func (p *Presenter) handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeQuerySlideInfo:
		p.sendSlideInfo()
	case protocol.TypeQueryPresentationMeta:
		p.sendMeta()
	}
}

// StartPresentation enters full-screen. When already full-screen it first
// announces start_presentation, which starts an armed monitor timer.
func (p *Presenter) StartPresentation() {
	if p.surface.Fullscreen() {
		log.Info().Msg("start presentation requested while full-screen")
		p.publish(protocol.TypeStartPresentation, nil)
	}
	p.surface.SetFullscreen(true)
	p.sendSlideInfo()
}

// ExitFullscreen leaves full-screen. Slide changes are then only reported by
// the heartbeat.
func (p *Presenter) ExitFullscreen() {
	p.surface.SetFullscreen(false)
}

// Goto moves to slide. Out-of-range or unchanged targets are ignored.
func (p *Presenter) Goto(slide int) bool {
	if slide < 1 || slide > p.surface.SlideCount() || slide == p.surface.CurrentSlide() {
		return false
	}
	if !p.surface.Goto(slide) {
		return false
	}
	log.Debug().Int("slide", slide).Msg("slide changed")
	if p.surface.Fullscreen() {
		p.sendSlideInfo()
	}
	return true
}

func (p *Presenter) Next() bool  { return p.Goto(p.surface.CurrentSlide() + 1) }
func (p *Presenter) Prev() bool  { return p.Goto(p.surface.CurrentSlide() - 1) }
func (p *Presenter) First() bool { return p.Goto(1) }
func (p *Presenter) Last() bool  { return p.Goto(p.surface.SlideCount()) }

// Pause starts a break countdown of d and announces it. onExpire runs once
// on the loop when the break is over; it may be nil.
func (p *Presenter) Pause(d time.Duration, onExpire func()) error {
	if d <= 0 {
		return ErrInvalidBreak
	}
	if p.pause != nil {
		return ErrBreakActive
	}

	now := p.loop.Clock().Now()
	b := &breakCountdown{
		duration: d,
		until:    now.Add(d),
		onExpire: onExpire,
	}
	p.pause = b
	p.publish(protocol.TypePause, protocol.PausePayload{
		DurationSec: d.Seconds(),
		Until:       b.until,
	})
	log.Info().Dur("duration", d).Time("until", b.until).Msg("break started")

	p.tickBreak()
	b.cancel = p.loop.ScheduleRepeating(p.cfg.BreakTickInterval, p.tickBreak)
	return nil
}

// Break returns the running countdown, false when there is none
func (p *Presenter) Break() (BreakStatus, bool) {
	if p.pause == nil {
		return BreakStatus{}, false
	}
	return p.pause.status(p.loop.Clock().Now()), true
}

// EndBreak dismisses the countdown
func (p *Presenter) EndBreak() {
	if p.pause == nil {
		return
	}
	if p.pause.cancel != nil {
		p.pause.cancel()
	}
	p.pause = nil
	log.Info().Msg("break ended")
}

func (p *Presenter) tickBreak() {
	b := p.pause
	if b == nil {
		return
	}
	status := b.status(p.loop.Clock().Now())
	if !b.expired && status.Remaining < 0 {
		b.expired = true
		status.Expired = true
		log.Info().Msg("break is over")
		if b.onExpire != nil {
			b.onExpire()
		}
	}
	if p.cfg.OnBreakTick != nil {
		p.cfg.OnBreakTick(status)
	}
}

func (p *Presenter) sendSlideInfo() {
	slide := p.surface.CurrentSlide()
	if slide < 1 {
		return
	}
	p.publish(protocol.TypeSlideInfo, protocol.SlideInfoPayload{CurrentSlide: slide})
}

func (p *Presenter) sendMeta() {
	p.publish(protocol.TypePresentationMeta, p.meta)
}

func (p *Presenter) publish(t protocol.MessageType, payload any) {
	env, err := protocol.NewEnvelope(t, p.sessionID, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to build message")
		return
	}
	if err := p.bus.Publish(p.ctx, env); err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to publish message")
	}
}
