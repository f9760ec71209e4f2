package summary

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlCallSummaries = `
CREATE TABLE IF NOT EXISTS call_summaries (
    id               UUID         PRIMARY KEY,
    finalized_at     TIMESTAMPTZ  NOT NULL,
    call_id          TEXT         NOT NULL,
    callee_name      TEXT         NOT NULL DEFAULT '',
    callee_phone     TEXT         NOT NULL DEFAULT '',
    user_transcript  TEXT         NOT NULL DEFAULT '',
    agent_transcript TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_call_summaries_call_id
    ON call_summaries (call_id);

CREATE INDEX IF NOT EXISTS idx_call_summaries_finalized_at
    ON call_summaries (finalized_at);
`

// PostgresStore persists call summaries in a call_summaries table. Operators
// who prefer querying over spreadsheets run this store instead of (or behind
// the same interface as) the sheets one.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore establishes a connection pool to the database at dsn and
// ensures the call_summaries table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("summary: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("summary: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlCallSummaries); err != nil {
		pool.Close()
		return nil, fmt.Errorf("summary: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Append implements [Store].
func (s *PostgresStore) Append(ctx context.Context, row Row) error {
	const q = `
		INSERT INTO call_summaries
		    (id, finalized_at, call_id, callee_name, callee_phone, user_transcript, agent_transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		uuid.New(),
		row.Timestamp,
		row.CallID,
		row.Name,
		row.Phone,
		row.UserTranscript,
		row.AgentTranscript,
	)
	if err != nil {
		return fmt.Errorf("summary: append: %w", err)
	}
	return nil
}

// Ping verifies database connectivity. It backs the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("summary: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
