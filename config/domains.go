package config

import (
	"net/url"
	"strings"
)

// DefaultDomains is the review-site and tech-press allowlist used for web augmentation.
var DefaultDomains = []string{
	"g2.com",
	"capterra.com",
	"trustradius.com",
	"producthunt.com",
	"techcrunch.com",
	"venturebeat.com",
	"linkedin.com",
	"medium.com",
	"forbes.com",
}

// ExtendedDomains adds financial press for data-driven reports.
var ExtendedDomains = append(append([]string{}, DefaultDomains...),
	"bloomberg.com",
	"reuters.com",
	"wsj.com",
)

// Normalize cleans domain entries and removes duplicates.
func (s SearchConfig) Normalize() SearchConfig {
	norm := s
	norm.Provider = strings.ToLower(strings.TrimSpace(norm.Provider))
	norm.Depth = strings.ToLower(strings.TrimSpace(norm.Depth))
	norm.Domains = sanitizeDomainList(norm.Domains)
	norm.ExtendedDomains = sanitizeDomainList(norm.ExtendedDomains)
	return norm
}

// sanitizeDomainList keeps first-seen order so callers can rank domains.
func sanitizeDomainList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, raw := range values {
		host := normalizeHost(raw)
		if host == "" {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		}
	}
	value = strings.TrimPrefix(value, "www.")
	return strings.TrimSuffix(value, "/")
}
