package bus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/deckpace/go/internal/protocol"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned by Publish while the relay connection is down
var ErrNotConnected = errors.New("not connected to relay")

// WebSocketConfig holds configuration for the relay client
type WebSocketConfig struct {
	// URL is the gateway base URL, e.g. ws://localhost:8080
	URL           string
	Channel       string
	ReconnectWait time.Duration
	WriteTimeout  time.Duration
	Dialer        *websocket.Dialer
}

// DefaultWebSocketConfig returns default relay client configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		URL:           "ws://localhost:8080",
		Channel:       protocol.ChannelName,
		ReconnectWait: 2 * time.Second,
		WriteTimeout:  10 * time.Second,
		Dialer:        websocket.DefaultDialer,
	}
}

// Endpoint returns the relay URL for the configured channel
func (c WebSocketConfig) Endpoint() (string, error) {
	base, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("parse relay URL: %w", err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/ws/channel"
	q := base.Query()
	q.Set("name", c.Channel)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// WebSocket is a bus backed by the relay gateway. It reconnects until
// closed; messages published while disconnected fail with ErrNotConnected.
type WebSocket struct {
	cfg      WebSocketConfig
	endpoint string
	reg      *registry

	mu   sync.Mutex
	conn *websocket.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Bus = (*WebSocket)(nil)

// DialWebSocket connects to the relay. The first dial must succeed.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocket, error) {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Channel == "" {
		cfg.Channel = protocol.ChannelName
	}
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}

	conn, _, err := cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", endpoint, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b := &WebSocket{
		cfg:      cfg,
		endpoint: endpoint,
		reg:      newRegistry(),
		conn:     conn,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go b.run(runCtx, conn)

	log.Info().Str("endpoint", endpoint).Msg("connected to relay")
	return b, nil
}

// run reads from the current connection and redials when it drops
func (b *WebSocket) run(ctx context.Context, conn *websocket.Conn) {
	defer close(b.done)

	for {
		b.readLoop(conn)

		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()

		conn = b.redial(ctx)
		if conn == nil {
			return
		}
	}
}

func (b *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !b.reg.isClosed() {
				log.Error().Err(err).Str("endpoint", b.endpoint).Msg("relay connection lost")
			}
			return
		}

		env, err := protocol.Decode(message)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed relay message")
			continue
		}
		b.reg.dispatch(env)
	}
}

func (b *WebSocket) redial(ctx context.Context) *websocket.Conn {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.cfg.ReconnectWait):
		}

		conn, _, err := b.cfg.Dialer.DialContext(ctx, b.endpoint, nil)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("relay reconnect failed")
			continue
		}

		b.mu.Lock()
		if b.reg.isClosed() {
			b.mu.Unlock()
			conn.Close()
			return nil
		}
		b.conn = conn
		b.mu.Unlock()

		log.Info().Str("endpoint", b.endpoint).Int("attempt", attempt).Msg("reconnected to relay")
		return conn
	}
}

// Connected reports whether the relay connection is currently up
func (b *WebSocket) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Publish sends env to the relay, which forwards it to the other windows
// on the channel. The relay does not echo, so local subscribers receive the
// envelope directly.
func (b *WebSocket) Publish(ctx context.Context, env protocol.Envelope) error {
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

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return ErrNotConnected
	}
	deadline := time.Now().Add(b.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	err = conn.WriteMessage(websocket.TextMessage, data)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write to relay: %w", err)
	}

	b.reg.published.Add(1)
	b.reg.dispatch(env)
	return nil
}

// Subscribe registers h for every envelope on the channel
func (b *WebSocket) Subscribe(h Handler) (func(), error) {
	return b.reg.add(h)
}

// Stats returns the bus counters
func (b *WebSocket) Stats() Stats {
	return b.reg.stats()
}

// Close stops reconnecting and closes the relay connection
func (b *WebSocket) Close() error {
	if !b.reg.close() {
		return nil
	}
	b.cancel()

	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	<-b.done
	return nil
}
