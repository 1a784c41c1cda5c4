package search

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

func strictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// Excerpt turns provider content into prompt-safe plain text of at most n
// runes, appending "..." when it had to cut. n <= 0 disables truncation.
func Excerpt(text string, n int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	plain := html.UnescapeString(strictHTMLPolicy().Sanitize(text))
	plain = strings.Join(strings.Fields(plain), " ")
	if n <= 0 {
		return plain
	}
	runes := []rune(plain)
	if len(runes) <= n {
		return plain
	}
	return string(runes[:n]) + "..."
}
