package research

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/pmmresearch/internal/search"
)

const (
	placeholderQuery       = "<user query>"
	placeholderSubQuestion = "<sub-question>"
	placeholderSources     = "<source_summaries>"
	placeholderResearch    = "<research_data>"

	noSourcesText = "No web sources available. Use your knowledge to provide insights."
)

func singleShotUserPrompt(query string, summaries []string) string {
	var b strings.Builder
	b.WriteString("Please research and analyze: ")
	b.WriteString(query)
	b.WriteString("\nProvide a comprehensive PMM-focused analysis with the exact structure specified above.")
	if len(summaries) > 0 {
		b.WriteString("\n\nRecent web sources:\n")
		b.WriteString(strings.Join(summaries, "\n"))
	}
	return b.String()
}

// sourceSummary renders one snippet the way stage prompts embed it.
func sourceSummary(s search.Snippet, excerptChars int) string {
	return fmt.Sprintf("Source: %s\nURL: %s\nContent: %s\n", s.Title, s.URL, search.Excerpt(s.Content, excerptChars))
}

func summarize(snippets []search.Snippet, excerptChars int) []string {
	out := make([]string, 0, len(snippets))
	for _, s := range snippets {
		out = append(out, sourceSummary(s, excerptChars))
	}
	return out
}

func sourcesBlock(summaries []string) string {
	if len(summaries) == 0 {
		return noSourcesText
	}
	return "Sources found:\n" + strings.Join(summaries, "\n")
}

// numbered matches the manual numbering the planner is told not to emit.
func numbered(line string) bool {
	for i := 1; i <= 10; i++ {
		if strings.HasPrefix(line, fmt.Sprintf("%d.", i)) {
			return true
		}
	}
	return false
}

// parseSubQuestions keeps one question per non-blank line.
func parseSubQuestions(text string, limit int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || numbered(line) {
			continue
		}
		out = append(out, line)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func fallbackSubQuestions(query string) []string {
	return []string{
		"Research the competitive landscape for " + query,
		"Analyze market trends in " + query,
		"Identify key players in " + query,
		"Examine pricing strategies for " + query,
		"Investigate customer segments for " + query,
	}
}

func researchData(query string, results []SubQuestionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original Query: %s\n\n", query)
	b.WriteString("Research Results:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "Question %d: %s\n", i+1, r.Question)
		fmt.Fprintf(&b, "Summary: %s\n", r.Summary)
		if len(r.Sources) > 0 {
			fmt.Fprintf(&b, "Sources: %d found\n", r.SourceCount)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type dataDrivenResult struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Snippet    string `json:"snippet"`
	Date       string `json:"date"`
	Annotation string `json:"annotation"`
}

type dataDrivenPayload struct {
	Query      string             `json:"query"`
	NumResults int                `json:"num_results"`
	Results    []dataDrivenResult `json:"results"`
}

const dataDrivenSnippetChars = 300

func newDataDrivenPayload(query string, snippets []search.Snippet) dataDrivenPayload {
	p := dataDrivenPayload{Query: query, Results: make([]dataDrivenResult, 0, len(snippets))}
	for _, s := range snippets {
		p.Results = append(p.Results, dataDrivenResult{
			Title:      valueOr(s.Title, "Unknown"),
			URL:        valueOr(s.URL, "N/A"),
			Snippet:    search.Excerpt(s.Content, dataDrivenSnippetChars),
			Date:       valueOr(s.PublishedDate, "Unknown"),
			Annotation: "Web search result",
		})
	}
	p.NumResults = len(p.Results)
	return p
}

// dataDrivenPrompt appends the payload to the document as fenced JSON.
func dataDrivenPrompt(doc string, payload dataDrivenPayload) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return "", fmt.Errorf("encode data-driven payload: %w", err)
	}
	body := strings.TrimRight(buf.String(), "\n")
	return doc + "\n\n**Input JSON Schema:**\n```json\n" + body + "\n```", nil
}

func valueOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
