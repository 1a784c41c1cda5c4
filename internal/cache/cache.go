// Package cache persists serialized research reports keyed by a digest of
// the query. Expiry is lazy: stale rows stay on disk until overwritten but
// are reported as misses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// DefaultTTL applies when Options.TTL is zero.
const DefaultTTL = 24 * time.Hour

// ErrUnknownDriver is returned by Open for an unsupported cache.driver.
var ErrUnknownDriver = errors.New("cache: unknown driver")

// Entry is one cached report.
type Entry struct {
	QueryHash string
	Payload   []byte
	CreatedAt time.Time
	ModelUsed string
}

// Cache is implemented by every driver.
type Cache interface {
	// Get returns ok=false when no row exists or the row has expired.
	Get(ctx context.Context, query string) (Entry, bool, error)
	// Put upserts the row for query with created_at = now.
	Put(ctx context.Context, query string, payload []byte, model string) error
	Clear(ctx context.Context) error
	Close() error
}

// Options are shared by all drivers.
type Options struct {
	TTL time.Duration
	// Now defaults to time.Now; tests inject a fake clock.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// fresh reports whether an entry created at createdAt is still live.
func (o Options) fresh(createdAt time.Time) bool {
	return o.Now().Sub(createdAt) < o.TTL
}

// Key returns the hex SHA-256 digest of the normalised query. Surrounding
// whitespace is trimmed and inner runs collapse to one space.
func Key(query string) string {
	norm := strings.Join(strings.Fields(query), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }
func (Noop) Put(context.Context, string, []byte, string) error { return nil }
func (Noop) Clear(context.Context) error { return nil }
func (Noop) Close() error { return nil }
