package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/deckpace/go/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the NATS transport
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Channel       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS transport configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "deckpace.channel",
		Channel:       protocol.ChannelName,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Subject returns the NATS subject carrying the configured channel
func (c NATSConfig) Subject() string {
	return fmt.Sprintf("%s.%s", c.SubjectPrefix, c.Channel)
}

// NATS is a bus over a core NATS subject
type NATS struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	reg     *registry
}

var _ Bus = (*NATS)(nil)

// NewNATS connects to NATS and subscribes to the channel subject
func NewNATS(cfg NATSConfig) (*NATS, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	b, err := newNATSWithConn(nc, cfg.Subject())
	if err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func newNATSWithConn(nc *nats.Conn, subject string) (*NATS, error) {
	b := &NATS{nc: nc, subject: subject, reg: newRegistry()}

	sub, err := nc.Subscribe(subject, b.handleMsg)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	b.sub = sub

	log.Info().Str("subject", subject).Msg("NATS bus subscribed")
	return b, nil
}

func (b *NATS) handleMsg(msg *nats.Msg) {
	env, err := protocol.Decode(msg.Data)
	if err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed NATS message")
		return
	}
	b.reg.dispatch(env)
}

// Publish sends env on the channel subject
func (b *NATS) Publish(ctx context.Context, env protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.reg.isClosed() {
		return ErrClosed
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}
	b.reg.published.Add(1)
	return nil
}

// Subscribe registers h for every envelope on the subject
func (b *NATS) Subscribe(h Handler) (func(), error) {
	return b.reg.add(h)
}

// Stats returns the bus counters
func (b *NATS) Stats() Stats {
	return b.reg.stats()
}

// Close unsubscribes and closes the connection
func (b *NATS) Close() error {
	if !b.reg.close() {
		return nil
	}
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe NATS bus")
		}
	}
	if b.nc != nil {
		b.nc.Close()
	}
	return nil
}
