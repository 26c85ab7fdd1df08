package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mcdev12/deckpace/go/internal/config"
	"github.com/mcdev12/deckpace/go/internal/metrics"
	"github.com/mcdev12/deckpace/go/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// ErrJournalWithoutNATS is returned when the journal is enabled without a
// NATS URL
var ErrJournalWithoutNATS = errors.New("journal requires a NATS URL")

// Config holds configuration for the relay gateway
type Config struct {
	ConnectionConfig ConnectionConfig

	// NATSURL enables fan-out between gateways when set
	NATSURL      string
	NATSConfig   NATSConfig
	FanoutPrefix string

	// JournalEnabled records relayed envelopes to JetStream; requires NATSURL
	JournalEnabled bool
	JournalConfig  JournalConfig
	JournalTimeout time.Duration
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		NATSConfig:       DefaultNATSConfig(),
		FanoutPrefix:     "deckpace.relay",
		JournalConfig:    DefaultJournalConfig(),
		JournalTimeout:   5 * time.Second,
	}
}

// NewConfigFromEnv overlays GATEWAY_*, NATS_URL and JOURNAL_* variables on
// the defaults
func NewConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.NATSURL = config.GetEnv("NATS_URL", "")
	cfg.FanoutPrefix = config.GetEnv("GATEWAY_FANOUT_PREFIX", cfg.FanoutPrefix)
	cfg.ConnectionConfig.PingInterval = config.GetEnvDuration("GATEWAY_PING_INTERVAL", cfg.ConnectionConfig.PingInterval)
	cfg.ConnectionConfig.ReadTimeout = config.GetEnvDuration("GATEWAY_READ_TIMEOUT", cfg.ConnectionConfig.ReadTimeout)
	cfg.JournalEnabled = config.GetEnvBool("JOURNAL_ENABLED", false)
	cfg.JournalConfig.StreamName = config.GetEnv("JOURNAL_STREAM", cfg.JournalConfig.StreamName)
	cfg.JournalConfig.MaxAge = config.GetEnvDuration("JOURNAL_MAX_AGE", cfg.JournalConfig.MaxAge)
	return cfg
}

// Service relays presentation channel frames between browser windows and,
// optionally, between gateway instances.
type Service struct {
	id                string
	config            Config
	metrics           *metrics.Metrics
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler

	nc      *nats.Conn
	fanout  *Fanout
	journal *Journal
}

// NewService creates the gateway. m may be nil.
func NewService(ctx context.Context, config Config, m *metrics.Metrics) (*Service, error) {
	cm := NewConnectionManager(config.ConnectionConfig, m)
	s := &Service{
		id:                uuid.NewString(),
		config:            config,
		metrics:           m,
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
	}

	if config.NATSURL == "" {
		if config.JournalEnabled {
			return nil, ErrJournalWithoutNATS
		}
	} else {
		natsCfg := config.NATSConfig
		natsCfg.URL = config.NATSURL
		nc, err := ConnectNATS(natsCfg)
		if err != nil {
			return nil, err
		}
		s.nc = nc

		s.fanout, err = NewFanout(nc, config.FanoutPrefix, s.id, cm)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create fan-out: %w", err)
		}

		if config.JournalEnabled {
			s.journal, err = NewJournal(ctx, nc, config.JournalConfig)
			if err != nil {
				nc.Close()
				return nil, fmt.Errorf("failed to create journal: %w", err)
			}
		}
	}

	cm.OnMessage(s.forward)
	return s, nil
}

// ID identifies this gateway instance in fan-out headers
func (s *Service) ID() string {
	return s.id
}

// ConnectionManager returns the manager owning the client connections
func (s *Service) ConnectionManager() *ConnectionManager {
	return s.connectionManager
}

func (s *Service) forward(channel string, env protocol.Envelope, data []byte) {
	if s.fanout != nil {
		if err := s.fanout.Publish(channel, data); err != nil {
			log.Error().Err(err).Str("channel", channel).Msg("failed to fan out frame")
		}
	}
	if s.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.JournalTimeout)
		defer cancel()
		if err := s.journal.Record(ctx, channel, env, data); err != nil {
			if s.metrics != nil {
				s.metrics.IncErrors()
			}
			log.Error().Err(err).Str("channel", channel).Msg("failed to journal frame")
		}
	}
}

// Start runs the connection manager until ctx is cancelled, then stops the
// service.
func (s *Service) Start(ctx context.Context) error {
	log.Info().
		Str("gateway_id", s.id).
		Bool("fanout", s.fanout != nil).
		Bool("journal", s.journal != nil).
		Msg("starting relay gateway")

	s.connectionManager.Start(ctx)

	log.Info().Msg("relay gateway shutting down")
	return s.Stop()
}

// Stop releases the NATS resources
func (s *Service) Stop() error {
	if s.fanout != nil {
		if err := s.fanout.Close(); err != nil {
			log.Error().Err(err).Msg("failed to stop fan-out")
		}
	}
	if s.nc != nil {
		s.nc.Close()
	}
	log.Info().Msg("relay gateway stopped")
	return nil
}

// Router returns the chi router with every gateway route
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestLogger(log.Logger))
	if s.metrics != nil {
		r.Use(metrics.RequestMiddleware(s.metrics))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/health/ready", s.HandleReady)
	r.Get("/api/channels", s.wsHandler.HandleConnectionStats)
	r.Get("/ws/channel", s.wsHandler.HandleChannelConnection)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler(func() {
			s.metrics.SetConnections(s.connectionManager.GetConnectionStats().TotalConnections)
		}))
	}

	log.Info().Msg("relay gateway routes registered")
	return r
}

// Handler wraps the router with CORS and h2c support
func (s *Service) Handler() http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodOptions,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	handler := corsHandler.Handler(s.Router())
	return h2c.NewHandler(handler, &http2.Server{})
}
