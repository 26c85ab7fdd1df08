package gateway

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/rs/zerolog/log"
)

var channelPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// validChannel also keeps names safe as a single NATS subject token
func validChannel(name string) bool {
	return channelPattern.MatchString(name)
}

// WebSocketHandler handles WebSocket upgrade requests for channel connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleChannelConnection joins the caller to the channel named by ?name=
func (h *WebSocketHandler) HandleChannelConnection(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("name")
	if channel == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if !validChannel(channel) {
		http.Error(w, "invalid channel name", http.StatusBadRequest)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, channel); err != nil {
		// Upgrade has already written the error response
		log.Error().
			Err(err).
			Str("channel", channel).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}
