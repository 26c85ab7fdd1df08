package rehearsal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/deckpace/go/internal/slides"
)

// ErrInvalidRun is returned when saving a run without an ID or start time
var ErrInvalidRun = errors.New("invalid rehearsal run")

// Run is one timed pass through a presentation subset
type Run struct {
	ID              uuid.UUID
	SessionID       string
	StartedAt       time.Time
	StoppedAt       time.Time
	EndsAt          time.Time
	Subset          slides.Subset
	SlideDwell      map[int]time.Duration
	FinalSpeedError time.Duration
}

// Duration is the wall time the run lasted
func (r Run) Duration() time.Duration {
	return r.StoppedAt.Sub(r.StartedAt)
}

func (r Run) validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidRun)
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidRun)
	}
	return nil
}

// Store persists rehearsal runs
type Store interface {
	Save(ctx context.Context, run Run) error
	Recent(ctx context.Context, limit int) ([]Run, error)
}

// MemoryStore keeps runs in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]Run
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[uuid.UUID]Run)}
}

// Save inserts or replaces run
func (s *MemoryStore) Save(ctx context.Context, run Run) error {
	if err := run.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// Recent returns up to limit runs, newest first
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
