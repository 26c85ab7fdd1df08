package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/deckpace/go/internal/metrics"
	"github.com/mcdev12/deckpace/go/internal/protocol"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages WebSocket connections grouped by channel name
type ConnectionManager struct {
	// Connection pools organized by channel
	channels map[string]map[*Connection]bool
	mu       sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	metrics  *metrics.Metrics

	broadcastCh chan BroadcastMessage

	// onMessage sees every valid envelope a client sends
	onMessage func(channel string, env protocol.Envelope, data []byte)
}

// Connection is one relay client
type Connection struct {
	ID      string
	Channel string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a frame to deliver to a channel. Sender, when set, is
// skipped.
type BroadcastMessage struct {
	Channel string
	Data    []byte
	Sender  *Connection
}

// ConnectionStats is the JSON body of /api/channels
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveChannels   int            `json:"active_channels"`
	Channels         map[string]int `json:"channels"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // presentation_meta carries one ratio per slide
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Presenter windows are opened from file:// and arbitrary hosts
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager. m may be
// nil.
func NewConnectionManager(config ConnectionConfig, m *metrics.Metrics) *ConnectionManager {
	return &ConnectionManager{
		channels: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		metrics:     m,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// OnMessage registers the callback for inbound client envelopes. Must be
// called before Start.
func (cm *ConnectionManager) OnMessage(fn func(channel string, env protocol.Envelope, data []byte)) {
	cm.onMessage = fn
}

// Start processes broadcasts until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection and joins it to channel
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, channel string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:          uuid.New().String(),
		Channel:     channel,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: now,
		LastPing:    now,
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("channel", channel).
		Str("remote", r.RemoteAddr).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.channels[conn.Channel] == nil {
		cm.channels[conn.Channel] = make(map[*Connection]bool)
	}
	cm.channels[conn.Channel][conn] = true
	cm.updateGaugeLocked()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("channel", conn.Channel).
		Int("total_connections", len(cm.channels[conn.Channel])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.channels[conn.Channel]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	close(conn.Send)
	if len(connections) == 0 {
		delete(cm.channels, conn.Channel)
	}
	cm.updateGaugeLocked()

	log.Info().
		Str("connection_id", conn.ID).
		Str("channel", conn.Channel).
		Dur("connected_for", time.Since(conn.ConnectedAt)).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) updateGaugeLocked() {
	if cm.metrics == nil {
		return
	}
	total := 0
	for _, connections := range cm.channels {
		total += len(connections)
	}
	cm.metrics.SetConnections(total)
}

// Broadcast queues data for every connection on channel except sender
func (cm *ConnectionManager) Broadcast(channel string, data []byte, sender *Connection) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Channel: channel, Data: data, Sender: sender}:
	default:
		if cm.metrics != nil {
			cm.metrics.IncDropped("broadcast_full")
		}
		log.Warn().Str("channel", channel).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.channels[message.Channel]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	var targets []*Connection
	for conn := range connections {
		if conn != message.Sender {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		if !conn.trySend(message.Data) {
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("channel", message.Channel).
		Int("connections", len(targets)).
		Msg("frame relayed")
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{Channels: make(map[string]int, len(cm.channels))}
	for channel, connections := range cm.channels {
		stats.TotalConnections += len(connections)
		stats.Channels[channel] = len(connections)
	}
	stats.ActiveChannels = len(cm.channels)
	return stats
}

// ChannelNames returns the channels with at least one connection, sorted
func (cm *ConnectionManager) ChannelNames() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	names := make([]string, 0, len(cm.channels))
	for name := range cm.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.channels {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// trySend queues data without blocking. Reports false when the buffer is
// full or the connection is already gone.
func (c *Connection) trySend(data []byte) (ok bool) {
	c.Manager.mu.RLock()
	defer c.Manager.mu.RUnlock()
	if !c.Manager.channels[c.Channel][c] {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage relays a valid envelope to the rest of the channel.
// Frames that are not protocol envelopes are dropped.
func (c *Connection) handleClientMessage(message []byte) {
	m := c.Manager.metrics

	env, err := protocol.Decode(message)
	if err == nil && !env.Type.Known() {
		err = fmt.Errorf("%w: %q", protocol.ErrUnknownMessageType, env.Type)
	}
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrUnknownMessageType) {
			reason = "unknown_type"
		}
		if m != nil {
			m.IncDropped(reason)
		}
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("dropping client frame")
		return
	}

	if m != nil {
		m.IncMessages(string(env.Type))
	}
	log.Debug().
		Str("connection_id", c.ID).
		Str("type", string(env.Type)).
		Str("session_id", env.SessionID).
		Msg("received client message")

	c.Manager.Broadcast(c.Channel, message, c)
	if c.Manager.onMessage != nil {
		c.Manager.onMessage(c.Channel, env, message)
	}
}
