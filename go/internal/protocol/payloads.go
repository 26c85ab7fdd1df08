package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/deckpace/go/internal/slides"
	"github.com/mcdev12/deckpace/go/internal/timer"
)

// Payload types carried in Envelope.Data

// SlideInfoPayload reports the presenter's current slide
type SlideInfoPayload struct {
	CurrentSlide int `json:"current_slide"`
}

// PresentationMetaPayload describes the deck being presented
type PresentationMetaPayload struct {
	SlideCount         int       `json:"slide_count"`
	SlideRatios        []float64 `json:"slide_ratios"`
	PresentationTime   string    `json:"presentation_time,omitempty"`
	NominalDurationSec float64   `json:"nominal_duration_sec,omitempty"`
	Title              string    `json:"title,omitempty"`
}

// NominalDuration returns the nominal presentation duration, 0 if unknown
func (p PresentationMetaPayload) NominalDuration() time.Duration {
	return time.Duration(p.NominalDurationSec * float64(time.Second))
}

// Validate checks that the metadata can back a slide selector
func (p PresentationMetaPayload) Validate() error {
	if p.SlideCount < 1 {
		return fmt.Errorf("%w: slide_count %d", ErrMalformed, p.SlideCount)
	}
	if len(p.SlideRatios) != 0 && len(p.SlideRatios) != p.SlideCount {
		return fmt.Errorf("%w: %d ratios for %d slides", ErrMalformed, len(p.SlideRatios), p.SlideCount)
	}
	return nil
}

// Selector builds the slide selector for this deck. Missing ratios mean
// uniform weights.
func (p PresentationMetaPayload) Selector() (*slides.Selector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(p.SlideRatios) == 0 {
		return slides.NewUniformSelector(p.SlideCount)
	}
	return slides.NewSelector(p.SlideRatios)
}

// PausePayload announces a break
type PausePayload struct {
	DurationSec float64   `json:"duration_sec"`
	Until       time.Time `json:"until"`
}

// AnchorPayload is the wire form of timer.Anchor
type AnchorPayload struct {
	StartedAt        time.Time `json:"started_at"`
	EndsAt           time.Time `json:"ends_at"`
	BeginSlide       int       `json:"begin_slide"`
	EndSlide         int       `json:"end_slide"`
	SubsetRatio      float64   `json:"subset_ratio"`
	TotalDurationSec float64   `json:"total_duration_sec"`
}

// NewAnchorPayload converts a timer anchor for the wire
func NewAnchorPayload(a timer.Anchor) *AnchorPayload {
	return &AnchorPayload{
		StartedAt:        a.StartedAt,
		EndsAt:           a.EndsAt,
		BeginSlide:       a.Subset.Begin,
		EndSlide:         a.Subset.End,
		SubsetRatio:      a.SubsetRatio,
		TotalDurationSec: a.TotalDuration.Seconds(),
	}
}

// Anchor converts back to a timer anchor
func (p AnchorPayload) Anchor() timer.Anchor {
	return timer.Anchor{
		StartedAt:     p.StartedAt,
		EndsAt:        p.EndsAt,
		Subset:        slides.Subset{Begin: p.BeginSlide, End: p.EndSlide},
		SubsetRatio:   p.SubsetRatio,
		TotalDuration: time.Duration(p.TotalDurationSec * float64(time.Second)),
	}
}

// TimerStatePayload is broadcast by a monitor whenever its timer mode changes
type TimerStatePayload struct {
	Origin string         `json:"origin"`
	Mode   string         `json:"mode"`
	Anchor *AnchorPayload `json:"anchor,omitempty"`
}

// ParsePayload decodes env.Data into the payload struct for env.Type. Query
// and start messages carry no payload and return nil.
func ParsePayload(env Envelope) (any, error) {
	switch env.Type {
	case TypeQuerySlideInfo, TypeQueryPresentationMeta, TypeQueryTimerState, TypeStartPresentation:
		return nil, nil

	case TypeSlideInfo:
		var payload SlideInfoPayload
		if err := unmarshalData(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypePresentationMeta:
		var payload PresentationMetaPayload
		if err := unmarshalData(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypePause:
		var payload PausePayload
		if err := unmarshalData(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeTimerState:
		var payload TimerStatePayload
		if err := unmarshalData(env, &payload); err != nil {
			return nil, err
		}
		if _, err := timer.ParseMode(payload.Mode); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

func unmarshalData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, env.Type, err)
	}
	return nil
}
