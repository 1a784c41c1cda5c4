// Package search fetches web snippets used to ground research prompts.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/pmmresearch/config"
)

// ErrUnsupportedProvider is returned by New for an unknown provider name.
var ErrUnsupportedProvider = errors.New("search: unsupported provider")

// Snippet is one web result.
type Snippet struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Content       string `json:"content"`
	PublishedDate string `json:"published_date,omitempty"`
}

// Options narrow a search.
type Options struct {
	// Depth is "basic" or "advanced"; providers without depth ignore it.
	Depth      string
	MaxResults int
	// Domains restricts results to these hosts when non-empty.
	Domains []string
}

// Provider runs web searches.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Snippet, error)
}

// New returns the provider named by cfg.Provider, or nil when no API key is
// configured (web augmentation disabled).
func New(cfg config.SearchConfig) (Provider, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	httpc := NewHTTPClient(cfg.Timeout, 1, 0)
	switch strings.ToLower(cfg.Provider) {
	case "tavily", "":
		return &Tavily{APIKey: cfg.APIKey, http: httpc}, nil
	case "serper":
		return &Serper{APIKey: cfg.APIKey, http: httpc}, nil
	case "brave":
		return &Brave{APIKey: cfg.APIKey, http: httpc}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// siteQuery appends site: operators for providers without a native domain filter.
func siteQuery(query string, domains []string) string {
	if len(domains) == 0 {
		return query
	}
	parts := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			parts = append(parts, "site:"+d)
		}
	}
	if len(parts) == 0 {
		return query
	}
	return query + " (" + strings.Join(parts, " OR ") + ")"
}

func maxOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
