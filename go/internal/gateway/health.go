package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// HealthStatus is the JSON body of /health/ready
type HealthStatus struct {
	Healthy        bool     `json:"healthy"`
	GatewayID      string   `json:"gateway_id"`
	Connections    int      `json:"connections"`
	ActiveChannels int      `json:"active_channels"`
	FanoutEnabled  bool     `json:"fanout_enabled"`
	JournalEnabled bool     `json:"journal_enabled"`
	NATSConnected  bool     `json:"nats_connected"`
	Errors         []string `json:"errors"`
}

// Check reports readiness. The gateway is unhealthy only when a configured
// NATS connection is down.
func (s *Service) Check() HealthStatus {
	stats := s.connectionManager.GetConnectionStats()
	status := HealthStatus{
		Healthy:        true,
		GatewayID:      s.id,
		Connections:    stats.TotalConnections,
		ActiveChannels: stats.ActiveChannels,
		FanoutEnabled:  s.fanout != nil,
		JournalEnabled: s.journal != nil,
		Errors:         []string{},
	}

	if s.nc != nil {
		status.NATSConnected = s.nc.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}
	return status
}

// HandleReady serves Check as JSON, with 503 when unhealthy
func (s *Service) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := s.Check()

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode health status")
	}
}
