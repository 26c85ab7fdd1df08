package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ChannelName is the broadcast channel shared by presenter and monitor windows
const ChannelName = "presentation"

var (
	// ErrUnknownMessageType is returned for a type tag outside the closed set
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrForeignSession marks a message from a presentation session other
	// than the one a monitor is bound to
	ErrForeignSession = errors.New("message from foreign session")
	// ErrMalformed is returned when an envelope or payload cannot be decoded
	ErrMalformed = errors.New("malformed message")
)

// MessageType is the envelope's type tag
type MessageType string

const (
	TypeQuerySlideInfo        MessageType = "query_slide_info"
	TypeSlideInfo             MessageType = "slide_info"
	TypeQueryPresentationMeta MessageType = "query_presentation_meta"
	TypePresentationMeta      MessageType = "presentation_meta"
	TypeStartPresentation     MessageType = "start_presentation"
	TypePause                 MessageType = "pause"
	TypeQueryTimerState       MessageType = "query_timer_state"
	TypeTimerState            MessageType = "timer_state"
)

// Known reports whether t is part of the protocol
func (t MessageType) Known() bool {
	switch t {
	case TypeQuerySlideInfo, TypeSlideInfo, TypeQueryPresentationMeta, TypePresentationMeta,
		TypeStartPresentation, TypePause, TypeQueryTimerState, TypeTimerState:
		return true
	}
	return false
}

// IsQuery reports whether t asks peers for state rather than carrying it
func (t MessageType) IsQuery() bool {
	return t == TypeQuerySlideInfo || t == TypeQueryPresentationMeta || t == TypeQueryTimerState
}

// FromPresenter reports whether t is sent by a presenter window
func (t MessageType) FromPresenter() bool {
	switch t {
	case TypeSlideInfo, TypePresentationMeta, TypeStartPresentation, TypePause:
		return true
	}
	return false
}

// Envelope is the wire frame for every message on the channel
type Envelope struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope builds an envelope, marshalling payload into Data. A nil
// payload produces a data-less message.
func NewEnvelope(t MessageType, sessionID string, payload any) (Envelope, error) {
	env := Envelope{Type: t, SessionID: sessionID}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	env.Data = data
	return env, nil
}

// Query builds a data-less query envelope
func Query(t MessageType) Envelope {
	return Envelope{Type: t}
}

// Encode serializes the envelope to JSON
func Encode(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return b, nil
}

// Decode parses a JSON frame. Frames without a type tag are malformed;
// unknown tags decode successfully and are rejected by ParsePayload.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}
