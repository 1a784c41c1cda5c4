package search

import (
	"context"

	"github.com/mohammad-safakhou/pmmresearch/internal/telemetry"
	"go.uber.org/zap"
)

// Guard wraps a Provider so failures never reach the caller: an error
// becomes an empty result plus a warning. It also enforces MaxResults.
type Guard struct {
	inner  Provider
	logger *zap.Logger
	tele   *telemetry.Telemetry
}

// NewGuard returns nil when inner is nil so "search disabled" stays a nil check.
func NewGuard(inner Provider, logger *zap.Logger, tele *telemetry.Telemetry) *Guard {
	if inner == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{inner: inner, logger: logger.With(zap.String("provider", inner.Name())), tele: tele}
}

func (g *Guard) Name() string { return g.inner.Name() }

// Search never returns an error.
func (g *Guard) Search(ctx context.Context, query string, opts Options) ([]Snippet, error) {
	results, err := g.inner.Search(ctx, query, opts)
	if err != nil {
		g.logger.Warn("web search failed, continuing without sources", zap.String("query", query), zap.Error(err))
		g.tele.RecordSearch(g.inner.Name(), "error")
		return []Snippet{}, nil
	}
	g.tele.RecordSearch(g.inner.Name(), "ok")
	if opts.MaxResults > 0 && len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	return results, nil
}
