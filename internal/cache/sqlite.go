package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCache stores entries in a local SQLite file.
type SQLiteCache struct {
	db   *sql.DB
	opts Options
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string, opts Options) (*SQLiteCache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer avoids SQLITE_BUSY under concurrent runs
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	c := &SQLiteCache{db: db, opts: opts.withDefaults()}
	if err := c.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return c, nil
}

func (c *SQLiteCache) init() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS research_cache (
			query_hash  TEXT PRIMARY KEY,
			response    TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			model_used  TEXT NOT NULL DEFAULT ''
		);
	`)
	return err
}

func (c *SQLiteCache) Get(ctx context.Context, query string) (Entry, bool, error) {
	e := Entry{QueryHash: Key(query)}
	var payload, created string
	err := c.db.QueryRowContext(ctx,
		`SELECT response, created_at, model_used FROM research_cache WHERE query_hash = ?`,
		e.QueryHash,
	).Scan(&payload, &created, &e.ModelUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("sqlite cache get: %w", err)
	}
	e.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Entry{}, false, fmt.Errorf("sqlite cache get: bad created_at %q: %w", created, err)
	}
	if !c.opts.fresh(e.CreatedAt) {
		return Entry{}, false, nil
	}
	e.Payload = []byte(payload)
	return e, true, nil
}

func (c *SQLiteCache) Put(ctx context.Context, query string, payload []byte, model string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO research_cache (query_hash, response, created_at, model_used)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(query_hash) DO UPDATE SET
			response = excluded.response,
			created_at = excluded.created_at,
			model_used = excluded.model_used
	`, Key(query), string(payload), c.opts.Now().UTC().Format(time.RFC3339Nano), model)
	if err != nil {
		return fmt.Errorf("sqlite cache put: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM research_cache`); err != nil {
		return fmt.Errorf("sqlite cache clear: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
