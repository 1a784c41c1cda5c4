package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresCache stores entries in the research_cache table created by
// migrations/0001_research_cache.up.sql.
type PostgresCache struct {
	DB   *sql.DB
	opts Options
}

// NewPostgres connects using dsn and verifies the connection.
func NewPostgres(ctx context.Context, dsn string, opts Options) (*PostgresCache, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresWithDB(db, opts), nil
}

// NewPostgresWithDB wraps an existing handle.
func NewPostgresWithDB(db *sql.DB, opts Options) *PostgresCache {
	return &PostgresCache{DB: db, opts: opts.withDefaults()}
}

// EnsureSchema creates the table when migrations have not been applied.
func (c *PostgresCache) EnsureSchema(ctx context.Context) error {
	_, err := c.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS research_cache (
  query_hash TEXT PRIMARY KEY,
  response TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  model_used TEXT NOT NULL DEFAULT ''
);`)
	return err
}

func (c *PostgresCache) Get(ctx context.Context, query string) (Entry, bool, error) {
	e := Entry{QueryHash: Key(query)}
	var payload string
	err := c.DB.QueryRowContext(ctx,
		`SELECT response, created_at, model_used FROM research_cache WHERE query_hash=$1`,
		e.QueryHash,
	).Scan(&payload, &e.CreatedAt, &e.ModelUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("postgres cache get: %w", err)
	}
	if !c.opts.fresh(e.CreatedAt) {
		return Entry{}, false, nil
	}
	e.Payload = []byte(payload)
	return e, true, nil
}

func (c *PostgresCache) Put(ctx context.Context, query string, payload []byte, model string) error {
	_, err := c.DB.ExecContext(ctx, `
INSERT INTO research_cache (query_hash, response, created_at, model_used)
VALUES ($1,$2,$3,$4)
ON CONFLICT (query_hash) DO UPDATE SET
  response = EXCLUDED.response,
  created_at = EXCLUDED.created_at,
  model_used = EXCLUDED.model_used;
`, Key(query), string(payload), c.opts.Now().UTC(), model)
	if err != nil {
		return fmt.Errorf("postgres cache put: %w", err)
	}
	return nil
}

func (c *PostgresCache) Clear(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, `DELETE FROM research_cache`); err != nil {
		return fmt.Errorf("postgres cache clear: %w", err)
	}
	return nil
}

func (c *PostgresCache) Close() error {
	return c.DB.Close()
}
