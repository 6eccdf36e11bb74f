package transcript

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

const transcriptsSchema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id         BIGSERIAL PRIMARY KEY,
	source_id  TEXT        NOT NULL,
	text       TEXT        NOT NULL,
	emitted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transcripts_source_idx ON transcripts (source_id, emitted_at);
`

// PostgresStore is a PostgreSQL-backed Store. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore establishes a connection pool to the database at dsn and
// ensures the transcripts table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, transcriptsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	const q = `INSERT INTO transcripts (source_id, text, emitted_at) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, e.SourceID, e.Text, e.EmittedAt); err != nil {
		return fmt.Errorf("transcript: insert: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store and closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
