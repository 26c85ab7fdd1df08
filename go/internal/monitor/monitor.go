package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/deckpace/go/internal/bus"
	"github.com/mcdev12/deckpace/go/internal/config"
	"github.com/mcdev12/deckpace/go/internal/eventloop"
	"github.com/mcdev12/deckpace/go/internal/metrics"
	"github.com/mcdev12/deckpace/go/internal/pacing"
	"github.com/mcdev12/deckpace/go/internal/protocol"
	"github.com/mcdev12/deckpace/go/internal/rehearsal"
	"github.com/mcdev12/deckpace/go/internal/slides"
	"github.com/mcdev12/deckpace/go/internal/timer"
	"github.com/mcdev12/deckpace/go/internal/timetools"
	"github.com/rs/zerolog/log"
)

// Config tunes the monitor's timers
type Config struct {
	// LivenessTimeout is how long the presenter may stay silent before the
	// monitor reports the connection as lost
	LivenessTimeout time.Duration
	// RefreshInterval is the display refresh rate
	RefreshInterval time.Duration
	// DefaultSubset is used until the user selects one
	DefaultSubset string
}

// DefaultConfig returns the standard timings
func DefaultConfig() Config {
	return Config{
		LivenessTimeout: 5 * time.Second,
		RefreshInterval: time.Second,
		DefaultSubset:   "all",
	}
}

// NewConfigFromEnv overlays MONITOR_* variables on the defaults
func NewConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.LivenessTimeout = config.GetEnvDuration("MONITOR_LIVENESS_TIMEOUT", cfg.LivenessTimeout)
	cfg.RefreshInterval = config.GetEnvDuration("MONITOR_REFRESH_INTERVAL", cfg.RefreshInterval)
	cfg.DefaultSubset = config.GetEnv("MONITOR_DEFAULT_SUBSET", cfg.DefaultSubset)
	return cfg
}

// Option configures optional monitor collaborators
type Option func(*Monitor)

// WithMetrics counts messages, drops and transitions
func WithMetrics(m *metrics.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// WithStore saves every finished timed run
func WithStore(s rehearsal.Store) Option {
	return func(mon *Monitor) { mon.store = s }
}

// Monitor follows a presenter over the bus and drives the pacing timer. All
// methods except Start and Close must run on the loop goroutine.
type Monitor struct {
	cfg     Config
	loop    *eventloop.Loop
	bus     bus.Bus
	view    View
	machine *timer.Machine
	keeper  *rehearsal.TimeKeeper
	metrics *metrics.Metrics
	store   rehearsal.Store

	// origin identifies this monitor in timer_state messages
	origin string

	ctx            context.Context
	unsubscribe    func()
	cancelLiveness eventloop.Cancel
	cancelRefresh  eventloop.Cancel

	sessionID     string
	meta          *protocol.PresentationMetaPayload
	selector      *slides.Selector
	connected     bool
	everConnected bool
	breakUntil    time.Time

	subsetText   string
	endTimeText  string
	endTimeSet   bool
	endTimeError string
	subsetError  string

	lastMode       timer.Mode
	anchor         timer.Anchor
	lastSpeedError time.Duration
	display        Display
}

// New creates a monitor. view may be nil.
func New(cfg Config, loop *eventloop.Loop, b bus.Bus, view View, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = def.LivenessTimeout
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.DefaultSubset == "" {
		cfg.DefaultSubset = def.DefaultSubset
	}

	m := &Monitor{
		cfg:        cfg,
		loop:       loop,
		bus:        b,
		view:       view,
		machine:    timer.NewMachine(loop.Clock()),
		keeper:     rehearsal.NewTimeKeeper(loop.Clock()),
		origin:     uuid.NewString(),
		ctx:        context.Background(),
		subsetText: cfg.DefaultSubset,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Origin identifies this monitor instance
func (m *Monitor) Origin() string {
	return m.origin
}

// Machine exposes the timer state machine
func (m *Monitor) Machine() *timer.Machine {
	return m.machine
}

// Display returns the most recently rendered display
func (m *Monitor) Display() Display {
	return m.display
}

// Start subscribes to the channel, asks peers for their state and begins the
// liveness and refresh timers.
func (m *Monitor) Start(ctx context.Context) error {
	unsubscribe, err := m.bus.Subscribe(func(env protocol.Envelope) {
		m.loop.Post(func() { m.handle(env) })
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe monitor: %w", err)
	}
	m.ctx = ctx
	m.unsubscribe = unsubscribe

	for _, t := range []protocol.MessageType{
		protocol.TypeQuerySlideInfo,
		protocol.TypeQueryPresentationMeta,
		protocol.TypeQueryTimerState,
	} {
		if err := m.bus.Publish(ctx, protocol.Query(t)); err != nil {
			log.Error().Err(err).Str("type", string(t)).Msg("failed to send query")
		}
	}

	m.resetLiveness()
	m.cancelRefresh = m.loop.ScheduleRepeating(m.cfg.RefreshInterval, m.refresh)

	log.Info().Str("origin", m.origin).Msg("monitor started")
	m.loop.Post(m.refresh)
	return nil
}

// Close stops the timers and detaches from the channel
func (m *Monitor) Close() {
	if m.cancelLiveness != nil {
		m.cancelLiveness()
	}
	if m.cancelRefresh != nil {
		m.cancelRefresh()
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// SetEndTime parses and applies the end-time expression. An empty string
// clears it. On error the end time is cleared and flagged.
func (m *Monitor) SetEndTime(text string) error {
	defer m.refresh()
	m.endTimeSet = true
	return m.applyEndTime(text)
}

func (m *Monitor) applyEndTime(text string) error {
	m.endTimeText = strings.TrimSpace(text)
	m.endTimeError = ""
	if strings.TrimSpace(text) == "" {
		m.machine.SetEndTime(nil)
		return nil
	}
	spec, err := timetools.ParseTimestamp(text)
	if err != nil {
		m.machine.SetEndTime(nil)
		m.endTimeError = err.Error()
		return err
	}
	m.machine.SetEndTime(&spec)
	return nil
}

// SetSubset selects the slides to time. The expression is re-evaluated when
// presentation metadata arrives.
func (m *Monitor) SetSubset(text string) error {
	defer m.refresh()
	m.subsetText = text
	return m.applySubset()
}

func (m *Monitor) applySubset() error {
	m.subsetError = ""
	if m.selector == nil {
		m.machine.SetSubset(nil)
		return nil
	}
	subset, err := m.selector.Parse(m.subsetText)
	if err != nil {
		m.machine.SetSubset(nil)
		m.subsetError = err.Error()
		return err
	}
	m.machine.SetSubset(&subset)
	return nil
}

// Arm toggles between stopped and armed. Arming an unready timer is a no-op.
func (m *Monitor) Arm() error {
	err := m.machine.Arm()
	m.afterTransition()
	if errors.Is(err, timer.ErrNotReady) {
		log.Debug().Msg("arm ignored, timer not ready")
		return nil
	}
	return err
}

// StartTimer starts timing now
func (m *Monitor) StartTimer() error {
	err := m.machine.Start()
	m.afterTransition()
	return err
}

// StopTimer stops timing and records the run
func (m *Monitor) StopTimer() {
	m.machine.Stop()
	m.afterTransition()
}

func (m *Monitor) handle(env protocol.Envelope) {
	if m.metrics != nil {
		m.metrics.IncMessages(string(env.Type))
	}

	if env.Type.IsQuery() {
		if env.Type == protocol.TypeQueryTimerState {
			m.broadcastTimerState()
		}
		return
	}

	payload, err := protocol.ParsePayload(env)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrUnknownMessageType) {
			reason = "unknown_type"
		}
		m.drop(reason, err)
		return
	}

	if ts, ok := payload.(protocol.TimerStatePayload); ok && ts.Origin == m.origin {
		return
	}
	if env.SessionID == "" {
		m.drop("no_session", fmt.Errorf("%w: %s without session id", protocol.ErrMalformed, env.Type))
		return
	}
	if m.sessionID == "" {
		m.sessionID = env.SessionID
		log.Info().Str("session_id", m.sessionID).Msg("bound to presentation session")
	} else if env.SessionID != m.sessionID {
		if m.metrics != nil {
			m.metrics.IncForeignSession()
		}
		m.drop("foreign_session", fmt.Errorf("%w: %s", protocol.ErrForeignSession, env.SessionID))
		return
	}

	if env.Type.FromPresenter() {
		m.presenterAlive()
	}

	switch p := payload.(type) {
	case protocol.SlideInfoPayload:
		m.slideInfo(p.CurrentSlide)
	case protocol.PresentationMetaPayload:
		m.presentationMeta(p)
	case protocol.PausePayload:
		m.breakUntil = p.Until
		log.Info().Time("until", p.Until).Msg("presenter is on a break")
		m.refresh()
	case protocol.TimerStatePayload:
		m.peerTimerState(p)
	default:
		if env.Type == protocol.TypeStartPresentation {
			if err := m.machine.PresentationStarted(); err != nil {
				log.Warn().Err(err).Msg("auto-start on start_presentation failed")
			}
			m.afterTransition()
		}
	}
}

func (m *Monitor) drop(reason string, err error) {
	if m.metrics != nil {
		m.metrics.IncDropped(reason)
	}
	if reason == "foreign_session" {
		log.Debug().Err(err).Msg("ignoring message")
		return
	}
	log.Warn().Err(err).Str("reason", reason).Msg("dropping message")
}

func (m *Monitor) presenterAlive() {
	m.resetLiveness()
	if m.connected {
		return
	}
	m.connected = true
	if m.everConnected {
		log.Info().Str("session_id", m.sessionID).Msg("reconnected to presenter")
	} else {
		log.Info().Str("session_id", m.sessionID).Msg("connected to presenter")
	}
	m.everConnected = true
	m.refresh()
}

func (m *Monitor) resetLiveness() {
	if m.cancelLiveness != nil {
		m.cancelLiveness()
	}
	m.cancelLiveness = m.loop.ScheduleOnce(m.cfg.LivenessTimeout, m.connectionLost)
}

func (m *Monitor) connectionLost() {
	m.cancelLiveness = nil
	if m.connected && m.metrics != nil {
		m.metrics.IncConnectionLosses()
	}
	m.connected = false
	log.Warn().Dur("timeout", m.cfg.LivenessTimeout).Msg("connection to presentation lost")
	m.refresh()
}

func (m *Monitor) slideInfo(slide int) {
	if !m.machine.SlideChanged(slide) {
		return
	}
	if m.keeper.Running() {
		m.keeper.SlideChanged(slide)
	}
	m.afterTransition()
}

func (m *Monitor) presentationMeta(p protocol.PresentationMetaPayload) {
	if m.meta != nil {
		return
	}
	selector, err := p.Selector()
	if err != nil {
		m.drop("malformed", err)
		return
	}
	m.meta = &p
	m.selector = selector
	m.machine.SetSchedule(selector, p.NominalDuration())
	if err := m.applySubset(); err != nil {
		log.Warn().Err(err).Str("subset", m.subsetText).Msg("subset does not match the deck")
	}
	if !m.endTimeSet {
		m.prefillEndTime(p)
	}
	log.Info().
		Str("title", p.Title).
		Int("slide_count", p.SlideCount).
		Dur("nominal", p.NominalDuration()).
		Msg("presentation metadata received")
	m.refresh()
}

// prefillEndTime proposes "+<presentation time>" as the end time until the
// user enters one.
func (m *Monitor) prefillEndTime(p protocol.PresentationMetaPayload) {
	var text string
	if _, err := timetools.ParseDurationHHMM(p.PresentationTime); err == nil {
		text = "+" + strings.TrimSpace(p.PresentationTime)
	} else if nominal := p.NominalDuration(); nominal >= time.Minute {
		text = "+" + timetools.FormatHM(nominal.Seconds())
	} else {
		return
	}
	if err := m.applyEndTime(text); err != nil {
		log.Warn().Err(err).Str("end_time", text).Msg("could not prefill end time")
		return
	}
	log.Info().Str("end_time", text).Msg("end time prefilled from presentation metadata")
}

func (m *Monitor) peerTimerState(p protocol.TimerStatePayload) {
	mode, err := timer.ParseMode(p.Mode)
	if err != nil {
		m.drop("malformed", err)
		return
	}

	switch mode {
	case timer.ModeStarted:
		if p.Anchor == nil {
			m.drop("malformed", fmt.Errorf("%w: started timer_state without anchor", protocol.ErrMalformed))
			return
		}
		m.machine.Adopt(p.Anchor.Anchor())
	case timer.ModeStopped:
		if m.machine.Mode() != timer.ModeStopped {
			m.machine.Stop()
		}
	case timer.ModeArmed:
		if m.machine.Mode() == timer.ModeStopped && m.machine.Ready() {
			if err := m.machine.Arm(); err != nil {
				log.Debug().Err(err).Msg("could not follow peer arm")
			}
		}
	}
	m.afterTransition()
}

// afterTransition broadcasts mode changes, tracks the rehearsal and
// refreshes the display.
func (m *Monitor) afterTransition() {
	mode := m.machine.Mode()
	if anchor, ok := m.machine.Anchor(); ok {
		m.anchor = anchor
	}

	if mode != m.lastMode {
		previous := m.lastMode
		m.lastMode = mode
		if m.metrics != nil {
			m.metrics.IncTimerTransition(mode.String())
		}
		if mode == timer.ModeStarted {
			m.keeper.Start(m.machine.CurrentSlide())
		}
		m.refresh()
		if previous == timer.ModeStarted {
			m.recordRun()
		}
		m.broadcastTimerState()
		return
	}
	m.refresh()
}

func (m *Monitor) recordRun() {
	dwell := m.keeper.Stop()
	anchor := m.anchor
	m.anchor = timer.Anchor{}
	if m.store == nil {
		return
	}

	run := rehearsal.Run{
		ID:              uuid.New(),
		SessionID:       m.sessionID,
		StartedAt:       anchor.StartedAt,
		StoppedAt:       m.loop.Clock().Now(),
		EndsAt:          anchor.EndsAt,
		Subset:          anchor.Subset,
		SlideDwell:      dwell,
		FinalSpeedError: m.lastSpeedError,
	}
	if err := m.store.Save(m.ctx, run); err != nil {
		log.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to save rehearsal run")
		return
	}
	if m.metrics != nil {
		m.metrics.IncRehearsals()
	}
	log.Info().
		Str("run_id", run.ID.String()).
		Dur("duration", run.Duration()).
		Dur("speed_error", run.FinalSpeedError).
		Msg("rehearsal run recorded")
}

func (m *Monitor) broadcastTimerState() {
	if m.sessionID == "" {
		return
	}
	payload := protocol.TimerStatePayload{
		Origin: m.origin,
		Mode:   m.machine.Mode().String(),
	}
	if anchor, ok := m.machine.Anchor(); ok {
		payload.Anchor = protocol.NewAnchorPayload(anchor)
	}
	env, err := protocol.NewEnvelope(protocol.TypeTimerState, m.sessionID, payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build timer_state")
		return
	}
	if err := m.bus.Publish(m.ctx, env); err != nil {
		log.Error().Err(err).Msg("failed to publish timer_state")
	}
}

// refresh recomputes pacing and renders the display
func (m *Monitor) refresh() {
	now := m.loop.Clock().Now()
	d := Display{
		Now:          now,
		Connected:    m.connected,
		SessionID:    m.sessionID,
		Mode:         m.machine.Mode(),
		Ready:        m.machine.Ready(),
		CurrentSlide: m.machine.CurrentSlide(),
		EndTime:      m.endTimeText,
		EndTimeError: m.endTimeError,
		SubsetError:  m.subsetError,
	}
	if m.meta != nil {
		d.Title = m.meta.Title
		d.SlideCount = m.meta.SlideCount
	}
	if m.breakUntil.After(now) {
		d.BreakUntil = m.breakUntil
	}
	if m.selector != nil && m.subsetError == "" {
		if subset, err := m.selector.Parse(m.subsetText); err == nil {
			d.Subset = &subset
		}
	}

	anchor, started := m.machine.Anchor()
	switch {
	case !started:
		d.Reason = "timer not started"
		if endsAt, err := m.machine.ResolveEnd(); err == nil {
			d.CandidateEndsAt = endsAt
			d.CandidateDuration = endsAt.Sub(now)
		}
	case m.selector == nil:
		d.Reason = "waiting for presentation metadata"
		d.EndsAt = anchor.EndsAt
	default:
		d.EndsAt = anchor.EndsAt
		status, err := pacing.Calculate(anchor, m.selector, d.CurrentSlide, now)
		if err != nil {
			d.Reason = err.Error()
			break
		}
		d.Status = &status
		m.lastSpeedError = status.SpeedError
		if m.metrics != nil {
			m.metrics.SetSpeedError(status.SpeedError.Seconds())
		}
	}

	m.display = d
	if m.view != nil {
		m.view.Render(d)
	}
}
