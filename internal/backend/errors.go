package backend

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Kind classifies a backend failure.
type Kind int

const (
	Permanent Kind = iota
	// Transient failures are rate limits; they are retried with backoff.
	Transient
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// ErrNotConfigured marks a backend without credentials.
var ErrNotConfigured = errors.New("backend not configured")

// Error is returned by Submit once a call has definitively failed.
type Error struct {
	Backend  string
	Kind     Kind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s failure after %d attempt(s): %v", e.Backend, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a rate-limit failure.
func IsTransient(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == Transient
	}
	return classify(err) == Transient
}

// classify inspects provider errors. Typed go-openai errors are checked
// first; message matching is the last resort for proxies that strip them.
func classify(err error) Kind {
	if err == nil {
		return Permanent
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return Transient
		}
		if code, ok := apiErr.Code.(string); ok && strings.Contains(strings.ToLower(code), "rate_limit") {
			return Transient
		}
		if strings.Contains(strings.ToLower(apiErr.Type), "rate_limit") {
			return Transient
		}
		return Permanent
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return Transient
		}
		return Permanent
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate_limit") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") || statusTooManyRe.MatchString(msg) {
		return Transient
	}
	return Permanent
}

// statusTooManyRe matches a 429 reported as a status, not any number containing it.
var statusTooManyRe = regexp.MustCompile(`\b(?:status|code|http)[\s:=]*429\b`)
