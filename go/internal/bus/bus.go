// Package bus carries protocol envelopes between presenter and monitor
// windows.
//
// Three transports are provided. Local delivers in-process, NATS uses a core
// NATS subject per channel and WebSocket talks to the relay gateway. All of
// them deliver a published envelope to every subscriber, including ones
// registered by the publisher itself; handlers are expected to ignore their
// own messages.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/mcdev12/deckpace/go/internal/protocol"
)

// ErrClosed is returned when operations are attempted on a closed bus
var ErrClosed = errors.New("bus is closed")

// Handler receives envelopes. Handlers run on the transport's goroutine and
// should hand work off quickly (e.g. eventloop.Loop.Post).
type Handler func(env protocol.Envelope)

// Bus is a broadcast channel for protocol envelopes
type Bus interface {
	Publish(ctx context.Context, env protocol.Envelope) error
	Subscribe(h Handler) (unsubscribe func(), err error)
	Close() error
}

// Stats is a snapshot of bus counters
type Stats struct {
	Published   uint64
	Delivered   uint64
	Subscribers int
}

// registry is the subscriber set shared by the transports
type registry struct {
	mu       sync.RWMutex
	handlers map[uint64]Handler
	nextID   uint64
	closed   bool

	published atomic.Uint64
	delivered atomic.Uint64
}

func newRegistry() *registry {
	return &registry{handlers: make(map[uint64]Handler)}
}

func (r *registry) add(h Handler) (func(), error) {
	if h == nil {
		return nil, errors.New("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	r.nextID++
	id := r.nextID
	r.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.handlers, id)
			r.mu.Unlock()
		})
	}, nil
}

// dispatch calls every handler outside the lock so handlers may
// subscribe, unsubscribe or publish.
func (r *registry) dispatch(env protocol.Envelope) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	targets := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		targets = append(targets, h)
	}
	r.mu.RUnlock()

	for _, h := range targets {
		h(env)
		r.delivered.Add(1)
	}
}

func (r *registry) close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	r.handlers = make(map[uint64]Handler)
	return true
}

func (r *registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *registry) stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Published:   r.published.Load(),
		Delivered:   r.delivered.Load(),
		Subscribers: len(r.handlers),
	}
}
