package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const (
	tavilyEndpoint = "https://api.tavily.com/search"
	serperEndpoint = "https://google.serper.dev/search"
	braveEndpoint  = "https://api.search.brave.com/res/v1/web/search"
)

// Tavily implements Provider using api.tavily.com. Domain allowlists and
// search depth are passed natively.
type Tavily struct {
	APIKey   string
	Endpoint string
	http     *HTTPClient
}

func (t *Tavily) Name() string { return "tavily" }

func (t *Tavily) Search(ctx context.Context, query string, opts Options) ([]Snippet, error) {
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = tavilyEndpoint
	}
	depth := opts.Depth
	if depth == "" {
		depth = "advanced"
	}
	body := map[string]any{
		"query":        query,
		"search_depth": depth,
		"max_results":  maxOr(opts.MaxResults, 5),
	}
	if len(opts.Domains) > 0 {
		body["include_domains"] = opts.Domains
	}
	var resp struct {
		Results []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			Content       string `json:"content"`
			PublishedDate string `json:"published_date"`
		} `json:"results"`
	}
	headers := map[string]string{"Authorization": "Bearer " + t.APIKey}
	if err := clientOr(t.http).DoJSON(ctx, "POST", endpoint, headers, body, &resp); err != nil {
		return nil, fmt.Errorf("tavily search: %w", err)
	}
	out := make([]Snippet, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, Snippet{Title: r.Title, URL: r.URL, Content: strings.TrimSpace(r.Content), PublishedDate: r.PublishedDate})
	}
	return out, nil
}

// Serper implements Provider using serper.dev.
type Serper struct {
	APIKey   string
	Endpoint string
	http     *HTTPClient
}

func (s *Serper) Name() string { return "serper" }

func (s *Serper) Search(ctx context.Context, query string, opts Options) ([]Snippet, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = serperEndpoint
	}
	var resp struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.APIKey}
	body := map[string]any{"q": siteQuery(query, opts.Domains), "num": maxOr(opts.MaxResults, 10)}
	if err := clientOr(s.http).DoJSON(ctx, "POST", endpoint, headers, body, &resp); err != nil {
		return nil, fmt.Errorf("serper search: %w", err)
	}
	out := make([]Snippet, 0, len(resp.Organic))
	for _, r := range resp.Organic {
		out = append(out, Snippet{Title: r.Title, URL: r.Link, Content: r.Snippet, PublishedDate: r.Date})
	}
	return out, nil
}

// Brave implements Provider using the Brave Search API.
type Brave struct {
	APIKey   string
	Endpoint string
	http     *HTTPClient
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Snippet, error) {
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = braveEndpoint
	}
	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				Age         string `json:"age"`
			} `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{"X-Subscription-Token": b.APIKey}
	q := url.Values{}
	q.Set("q", siteQuery(query, opts.Domains))
	q.Set("count", fmt.Sprint(maxOr(opts.MaxResults, 10)))
	if err := clientOr(b.http).DoJSON(ctx, "GET", endpoint+"?"+q.Encode(), headers, nil, &resp); err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	out := make([]Snippet, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		out = append(out, Snippet{Title: r.Title, URL: r.URL, Content: r.Description, PublishedDate: r.Age})
	}
	return out, nil
}

var defaultHTTP = NewHTTPClient(0, 1, 0)

func clientOr(c *HTTPClient) *HTTPClient {
	if c == nil {
		return defaultHTTP
	}
	return c
}
