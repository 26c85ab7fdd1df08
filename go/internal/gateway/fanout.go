package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const gatewayIDHeader = "Gateway-ID"

// NATSConfig holds the connection settings shared by fan-out and the journal
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS connection configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// ConnectNATS dials NATS with reconnect handlers that log through zerolog
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("deckpace-gateway"),
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
	return nc, nil
}

// Fanout mirrors relayed frames between gateway instances over core NATS so
// windows attached to different gateways share a channel.
type Fanout struct {
	nc        *nats.Conn
	sub       *nats.Subscription
	prefix    string
	gatewayID string
	cm        *ConnectionManager
}

// NewFanout subscribes to every channel under prefix and delivers frames
// from other gateways to the local connections.
func NewFanout(nc *nats.Conn, prefix, gatewayID string, cm *ConnectionManager) (*Fanout, error) {
	f := &Fanout{nc: nc, prefix: prefix, gatewayID: gatewayID, cm: cm}

	sub, err := nc.Subscribe(prefix+".>", f.handleMsg)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s.>: %w", prefix, err)
	}
	f.sub = sub

	log.Info().
		Str("subject", prefix+".>").
		Str("gateway_id", gatewayID).
		Msg("gateway fan-out subscribed")
	return f, nil
}

// Subject returns the NATS subject for channel
func (f *Fanout) Subject(channel string) string {
	return fmt.Sprintf("%s.%s", f.prefix, channel)
}

// Publish forwards a frame received locally to the other gateways
func (f *Fanout) Publish(channel string, data []byte) error {
	msg := &nats.Msg{
		Subject: f.Subject(channel),
		Data:    data,
		Header:  nats.Header{gatewayIDHeader: []string{f.gatewayID}},
	}
	if err := f.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}
	return nil
}

func (f *Fanout) handleMsg(msg *nats.Msg) {
	if msg.Header.Get(gatewayIDHeader) == f.gatewayID {
		return
	}
	channel := strings.TrimPrefix(msg.Subject, f.prefix+".")
	if channel == msg.Subject || !validChannel(channel) {
		log.Warn().Str("subject", msg.Subject).Msg("dropping fan-out frame for invalid channel")
		return
	}
	f.cm.Broadcast(channel, msg.Data, nil)
}

// Close unsubscribes. The connection is owned by the caller.
func (f *Fanout) Close() error {
	if f.sub == nil {
		return nil
	}
	if err := f.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe fan-out: %w", err)
	}
	return nil
}
