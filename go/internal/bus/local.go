package bus

import (
	"context"

	"github.com/mcdev12/deckpace/go/internal/protocol"
)

// Local is an in-process bus. Publish delivers synchronously to every
// subscriber before returning.
type Local struct {
	reg *registry
}

var _ Bus = (*Local)(nil)

// NewLocal creates an in-process bus
func NewLocal() *Local {
	return &Local{reg: newRegistry()}
}

// Publish delivers env to all subscribers
func (l *Local) Publish(ctx context.Context, env protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.reg.isClosed() {
		return ErrClosed
	}
	l.reg.published.Add(1)
	l.reg.dispatch(env)
	return nil
}

// Subscribe registers h for every published envelope
func (l *Local) Subscribe(h Handler) (func(), error) {
	return l.reg.add(h)
}

// Stats returns the bus counters
func (l *Local) Stats() Stats {
	return l.reg.stats()
}

// Close drops all subscribers. Further calls return ErrClosed.
func (l *Local) Close() error {
	l.reg.close()
	return nil
}
