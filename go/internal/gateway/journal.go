package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/deckpace/go/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JournalConfig configures the JetStream stream relayed frames are recorded to
type JournalConfig struct {
	StreamName      string
	SubjectPrefix   string
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int
	DuplicateWindow time.Duration
}

// DefaultJournalConfig returns default journal configuration
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		StreamName:      "PRESENTATION_EVENTS",
		SubjectPrefix:   "presentation.events",
		MaxAge:          7 * 24 * time.Hour, // 7 days
		MaxMsgs:         -1,                 // No limit
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
	}
}

// JournalEntry is the record stored for one relayed envelope
type JournalEntry struct {
	EventID   string          `json:"eventId"`
	Channel   string          `json:"channel"`
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Envelope  json.RawMessage `json:"envelope"`
}

// Journal records relayed envelopes to JetStream for later replay of a
// rehearsal.
type Journal struct {
	js     jetstream.JetStream
	config JournalConfig
}

// NewJournal creates the JetStream context on nc and ensures the stream
func NewJournal(ctx context.Context, nc *nats.Conn, cfg JournalConfig) (*Journal, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	j := &Journal{js: js, config: cfg}
	if err := j.ensureStream(ctx); err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return j, nil
}

func (j *Journal) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        j.config.StreamName,
		Description: "Presentation channel journal",
		Subjects:    []string{fmt.Sprintf("%s.>", j.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      j.config.MaxAge,
		MaxMsgs:     j.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    j.config.Replicas,
		Duplicates:  j.config.DuplicateWindow,
	}
}

func (j *Journal) ensureStream(ctx context.Context) error {
	sc := j.streamConfig()

	stream, err := j.js.Stream(ctx, j.config.StreamName)
	if err != nil {
		if _, err = j.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().
			Str("stream", j.config.StreamName).
			Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = j.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().
			Str("stream", j.config.StreamName).
			Msg("updated JetStream stream")
	}
	return nil
}

// Subject returns the journal subject for a message type on channel
func (j *Journal) Subject(channel string, t protocol.MessageType) string {
	return fmt.Sprintf("%s.%s.%s", j.config.SubjectPrefix, channel, t)
}

// Record appends one relayed envelope. Queries are not journaled.
func (j *Journal) Record(ctx context.Context, channel string, env protocol.Envelope, data []byte) error {
	if env.Type.IsQuery() {
		return nil
	}

	entry := JournalEntry{
		EventID:   uuid.NewString(),
		Channel:   channel,
		Type:      string(env.Type),
		SessionID: env.SessionID,
		Timestamp: time.Now().UTC(),
		Envelope:  json.RawMessage(data),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	subject := j.Subject(channel, env.Type)
	ack, err := j.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    payload,
		Header: nats.Header{
			"Event-Type": []string{entry.Type},
			"Session-ID": []string{entry.SessionID},
			"Event-ID":   []string{entry.EventID},
		},
	},
		jetstream.WithMsgID(entry.EventID),
		jetstream.WithExpectStream(j.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", entry.EventID).
		Uint64("sequence", ack.Sequence).
		Msg("journaled envelope")
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
