package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTransport is returned by Open for an unsupported transport name
var ErrUnknownTransport = errors.New("unknown bus transport")

// Options selects and configures a transport for Open
type Options struct {
	// Transport is "websocket", "nats" or "local"
	Transport string
	// URL is the relay base URL or the NATS server URL; empty keeps the
	// transport default
	URL     string
	Channel string
}

// Open creates the transport named by opts.Transport
func Open(ctx context.Context, opts Options) (Bus, error) {
	switch strings.ToLower(opts.Transport) {
	case "", "websocket", "ws":
		cfg := DefaultWebSocketConfig()
		if opts.URL != "" {
			cfg.URL = opts.URL
		}
		if opts.Channel != "" {
			cfg.Channel = opts.Channel
		}
		return DialWebSocket(ctx, cfg)

	case "nats":
		cfg := DefaultNATSConfig()
		if opts.URL != "" {
			cfg.URL = opts.URL
		}
		if opts.Channel != "" {
			cfg.Channel = opts.Channel
		}
		return NewNATS(cfg)

	case "local":
		return NewLocal(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, opts.Transport)
	}
}
