package rehearsal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS rehearsal_runs (
  id                   UUID PRIMARY KEY,
  session_id           TEXT        NOT NULL,
  started_at           TIMESTAMPTZ NOT NULL,
  stopped_at           TIMESTAMPTZ NOT NULL,
  ends_at              TIMESTAMPTZ NOT NULL,
  begin_slide          INT         NOT NULL,
  end_slide            INT         NOT NULL,
  slide_dwell          JSONB       NOT NULL,
  final_speed_error_ms BIGINT      NOT NULL,
  created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS rehearsal_runs_started_at_idx ON rehearsal_runs (started_at DESC);
`

// DB defines what the store needs from the connection pool
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// PostgresStore persists runs in the rehearsal_runs table
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open pool
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConnectPostgres opens a pool for dsn and ensures the schema exists
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool, nil
}

// EnsureSchema creates the runs table if needed
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create rehearsal schema: %w", err)
	}
	return nil
}

// Save inserts or replaces run
func (s *PostgresStore) Save(ctx context.Context, run Run) error {
	if err := run.validate(); err != nil {
		return err
	}
	dwell, err := encodeDwell(run.SlideDwell)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
        INSERT INTO rehearsal_runs (
          id, session_id, started_at, stopped_at, ends_at,
          begin_slide, end_slide, slide_dwell, final_speed_error_ms
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (id) DO UPDATE SET
          stopped_at = EXCLUDED.stopped_at,
          slide_dwell = EXCLUDED.slide_dwell,
          final_speed_error_ms = EXCLUDED.final_speed_error_ms
    `,
		run.ID, run.SessionID, run.StartedAt, run.StoppedAt, run.EndsAt,
		run.Subset.Begin, run.Subset.End, dwell, run.FinalSpeedError.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save rehearsal run: %w", err)
	}

	log.Debug().
		Str("run_id", run.ID.String()).
		Int64("rows", tag.RowsAffected()).
		Msg("rehearsal run saved")
	return nil
}

// Recent returns up to limit runs, newest first
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
        SELECT id, session_id, started_at, stopped_at, ends_at,
               begin_slide, end_slide, slide_dwell, final_speed_error_ms
        FROM rehearsal_runs
        ORDER BY started_at DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rehearsal runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run          Run
			id           uuid.UUID
			dwell        []byte
			speedErrorMs int64
		)
		if err := rows.Scan(
			&id, &run.SessionID, &run.StartedAt, &run.StoppedAt, &run.EndsAt,
			&run.Subset.Begin, &run.Subset.End, &dwell, &speedErrorMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rehearsal run: %w", err)
		}
		run.ID = id
		run.FinalSpeedError = time.Duration(speedErrorMs) * time.Millisecond
		if run.SlideDwell, err = decodeDwell(dwell); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rehearsal runs: %w", err)
	}
	return runs, nil
}

// dwell is stored as {"<slide>": seconds}
func encodeDwell(dwell map[int]time.Duration) ([]byte, error) {
	secs := make(map[int]float64, len(dwell))
	for slide, d := range dwell {
		secs[slide] = d.Seconds()
	}
	b, err := json.Marshal(secs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode slide dwell: %w", err)
	}
	return b, nil
}

func decodeDwell(b []byte) (map[int]time.Duration, error) {
	var secs map[int]float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return nil, fmt.Errorf("failed to decode slide dwell: %w", err)
	}
	out := make(map[int]time.Duration, len(secs))
	for slide, s := range secs {
		out[slide] = time.Duration(s * float64(time.Second))
	}
	return out, nil
}
