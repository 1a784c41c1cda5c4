package research

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/pmmresearch/internal/backend"
	"github.com/mohammad-safakhou/pmmresearch/internal/cache"
	"github.com/mohammad-safakhou/pmmresearch/internal/prompts"
	"github.com/mohammad-safakhou/pmmresearch/internal/search"
	"github.com/mohammad-safakhou/pmmresearch/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const stagedPrompt = `# ===== STAGE 1: RESEARCH PLANNER =====
### System Prompt
PLANNER
### User Prompt
Plan research for <user query>.
---

# ===== STAGE 2: EXECUTION AGENT =====
### System Prompt
EXECUTOR
### User Prompt
Investigate <sub-question>.
<source_summaries>

# ===== STAGE 3: RESEARCH PUBLISHER =====
### System Prompt
PUBLISHER
### User Prompt
Synthesize:
<research_data>
`

type call struct {
	system, user string
	opts         backend.Options
}

type fakeClient struct {
	name, model string
	reply       func(system, user string) (string, error)

	mu    sync.Mutex
	calls []call
}

func (f *fakeClient) Name() string  { return f.name }
func (f *fakeClient) Model() string { return f.model }

func (f *fakeClient) Submit(_ context.Context, system, user string, opts backend.Options) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{system: system, user: user, opts: opts})
	f.mu.Unlock()
	return f.reply(system, user)
}

func (f *fakeClient) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func fixed(text string) func(string, string) (string, error) {
	return func(string, string) (string, error) { return text, nil }
}

func failing(msg string) func(string, string) (string, error) {
	return func(string, string) (string, error) { return "", errors.New(msg) }
}

type fakeSearch struct {
	results []search.Snippet
	err     error

	mu   sync.Mutex
	seen []search.Options
}

func (f *fakeSearch) Name() string { return "fake" }

func (f *fakeSearch) Search(_ context.Context, _ string, opts search.Options) ([]search.Snippet, error) {
	f.mu.Lock()
	f.seen = append(f.seen, opts)
	f.mu.Unlock()
	return f.results, f.err
}

func newPromptStore(t *testing.T) *prompts.Store {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"testprompt2": "You are a PMM analyst.",
		"testprompt3": stagedPrompt,
		"testprompt4": "Write a data-driven executive report.",
		"discovery":   "You are a PMM analyst.\n\n## STAGE 1: Discovery\nList the competitors first.",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return prompts.NewStore(prompts.Options{
		Dir:     dir,
		Names:   []string{"testprompt2", "testprompt3", "testprompt4", "discovery"},
		Default: "testprompt2",
	}, nil, nil)
}

func TestSingleShotServedFromCacheOnRepeat(t *testing.T) {
	store, err := cache.NewSQLite(filepath.Join(t.TempDir(), "cache.db"), cache.Options{})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer store.Close()

	primary := &fakeClient{name: "deepseek", model: "deepseek-reasoner", reply: fixed("fixed analysis")}
	secondary := &fakeClient{name: "groq", model: "compound-beta", reply: fixed("fixed analysis")}
	p := New(Deps{Primary: primary, Secondary: secondary, Prompts: newPromptStore(t), Cache: store}, Settings{})

	req := Request{Query: "Compare ClickUp and Asana pricing", Mode: ModeSingleShot}
	first, ok := p.Run(context.Background(), req).(*SingleShotReport)
	if !ok {
		t.Fatalf("expected single-shot report")
	}
	if first.Content != "fixed analysis" || first.Cached || first.Backend != "deepseek" {
		t.Fatalf("unexpected first report %+v", first)
	}

	second, ok := p.Run(context.Background(), req).(*SingleShotReport)
	if !ok {
		t.Fatalf("expected single-shot report on repeat")
	}
	if second.Content != first.Content || !second.Cached {
		t.Fatalf("expected cached copy, got %+v", second)
	}
	if n := len(primary.Calls()); n != 1 {
		t.Fatalf("expected one backend call, got %d", n)
	}
	if got := primary.Calls()[0]; got.system != "You are a PMM analyst." ||
		!strings.HasPrefix(got.user, "Please research and analyze: Compare ClickUp and Asana pricing\n") {
		t.Fatalf("unexpected prompts %+v", got)
	}
}

func TestSingleShotSkipCacheRefreshes(t *testing.T) {
	store, err := cache.NewSQLite(filepath.Join(t.TempDir(), "cache.db"), cache.Options{})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer store.Close()

	primary := &fakeClient{name: "deepseek", model: "m", reply: fixed("answer")}
	p := New(Deps{Primary: primary, Cache: store}, Settings{})
	req := Request{Query: "crm market", Mode: ModeSingleShot}
	p.Run(context.Background(), req)
	req.SkipCache = true
	if r := p.Run(context.Background(), req); r.Metadata().Cached {
		t.Fatalf("skip_cache must not serve a cached copy")
	}
	if n := len(primary.Calls()); n != 2 {
		t.Fatalf("expected two backend calls, got %d", n)
	}
}

func TestSingleShotFallsBackToSecondary(t *testing.T) {
	secondary := &fakeClient{name: "groq", model: "compound-beta", reply: fixed("from groq")}

	p := New(Deps{Secondary: secondary}, Settings{})
	r, ok := p.Run(context.Background(), Request{Query: "q", Mode: ModeSingleShot}).(*SingleShotReport)
	if !ok || r.Backend != "groq" || r.Model != "compound-beta" || r.Content != "from groq" {
		t.Fatalf("expected secondary to answer with primary disabled, got %#v", r)
	}

	primary := &fakeClient{name: "deepseek", reply: failing("boom")}
	p = New(Deps{Primary: primary, Secondary: secondary}, Settings{})
	r, ok = p.Run(context.Background(), Request{Query: "q", Mode: ModeSingleShot}).(*SingleShotReport)
	if !ok || r.Backend != "groq" {
		t.Fatalf("expected fallback after primary error, got %#v", r)
	}
}

func TestSingleShotPromptIncludesSearchTitles(t *testing.T) {
	fs := &fakeSearch{results: []search.Snippet{
		{Title: "ClickUp pricing 2025", URL: "https://g2.com/1", Content: "Plans start at $7"},
		{Title: "Asana pricing explained", URL: "https://capterra.com/2", Content: "<b>Starter</b> tier"},
		{Title: "PM tools compared", URL: "https://forbes.com/3", Content: "Roundup"},
	}}
	primary := &fakeClient{name: "deepseek", reply: fixed("ok")}
	p := New(Deps{Primary: primary, Search: fs}, Settings{})

	r, ok := p.Run(context.Background(), Request{Query: "pm tools", Mode: ModeSingleShot}).(*SingleShotReport)
	if !ok || r.SourcesUsed != 3 {
		t.Fatalf("expected 3 sources, got %#v", r)
	}
	user := primary.Calls()[0].user
	for _, s := range fs.results {
		if !strings.Contains(user, s.Title) {
			t.Fatalf("prompt missing title %q:\n%s", s.Title, user)
		}
	}
	if !strings.Contains(user, "Content: Starter tier") {
		t.Fatalf("expected sanitised excerpt in prompt:\n%s", user)
	}
	if opts := fs.seen[0]; opts.MaxResults != 5 || len(opts.Domains) != 9 || opts.Depth != "advanced" {
		t.Fatalf("unexpected search options %+v", opts)
	}
}

func TestThreeStageDegradesSingleSubQuestion(t *testing.T) {
	primary := &fakeClient{name: "deepseek", model: "deepseek-reasoner"}
	primary.reply = func(system, user string) (string, error) {
		switch system {
		case "PLANNER":
			return "1. ignored numbering\nQ1\n\nQ2\nQ3\n  Q4  \nQ5\n", nil
		case "EXECUTOR":
			if strings.Contains(user, "Investigate Q3.") {
				return "", errors.New("upstream exploded")
			}
			return "summary of " + strings.Fields(user)[1], nil
		case "PUBLISHER":
			return "final report", nil
		}
		return "", errors.New("unexpected system prompt " + system)
	}
	fs := &fakeSearch{results: []search.Snippet{{Title: "T", URL: "https://g2.com/x", Content: "C"}}}
	p := New(Deps{Primary: primary, Search: fs, Prompts: newPromptStore(t)}, Settings{})

	r, ok := p.Run(context.Background(), Request{Query: "crm tools", Mode: ModeThreeStage}).(*StagedReport)
	if !ok {
		t.Fatalf("expected staged report")
	}
	if len(r.SubQuestions) != 5 || r.SubQuestionsResearched != 5 {
		t.Fatalf("expected 5 sub-questions, got %d", len(r.SubQuestions))
	}
	degraded := 0
	for i, sq := range r.SubQuestions {
		if want := "Q" + string(rune('1'+i)); sq.Question != want {
			t.Fatalf("result %d out of order: %q", i, sq.Question)
		}
		if sq.Degraded {
			degraded++
			if !strings.HasPrefix(sq.Summary, "Research failed: ") || sq.SourceCount != 0 {
				t.Fatalf("unexpected degraded entry %+v", sq)
			}
		}
	}
	if degraded != 1 || !r.SubQuestions[2].Degraded {
		t.Fatalf("expected only Q3 degraded, got %d", degraded)
	}
	if r.TotalSources != 4 || r.Content != "final report" {
		t.Fatalf("unexpected totals %+v", r)
	}

	var publisher call
	for _, c := range primary.Calls() {
		if c.system == "PUBLISHER" {
			publisher = c
		}
	}
	if publisher.opts.MaxTokens != 4000 {
		t.Fatalf("publisher must request 4000 tokens, got %d", publisher.opts.MaxTokens)
	}
	for _, want := range []string{"Original Query: crm tools", "Question 1: Q1\nSummary: summary of Q1.\nSources: 1 found\n", "Question 3: Q3\nSummary: Research failed:"} {
		if !strings.Contains(publisher.user, want) {
			t.Fatalf("publisher prompt missing %q:\n%s", want, publisher.user)
		}
	}
}

func TestThreeStageKeepsPlanOrderWhenCompletionReorders(t *testing.T) {
	q5done := make(chan struct{})
	var mu sync.Mutex
	var finished []string
	primary := &fakeClient{name: "deepseek"}
	primary.reply = func(system, user string) (string, error) {
		switch system {
		case "PLANNER":
			return "Q1\nQ2\nQ3\nQ4\nQ5", nil
		case "EXECUTOR":
			q := strings.TrimSuffix(strings.Fields(user)[1], ".")
			if q == "Q1" {
				select {
				case <-q5done:
				case <-time.After(5 * time.Second):
					return "", errors.New("Q5 never finished")
				}
			}
			mu.Lock()
			finished = append(finished, q)
			mu.Unlock()
			if q == "Q5" {
				close(q5done)
			}
			return "summary of " + q, nil
		}
		return "report", nil
	}
	p := New(Deps{Primary: primary, Prompts: newPromptStore(t)}, Settings{Concurrency: 5})

	r, ok := p.Run(context.Background(), Request{Query: "crm tools", Mode: ModeThreeStage}).(*StagedReport)
	if !ok {
		t.Fatalf("expected staged report")
	}
	mu.Lock()
	order := append([]string(nil), finished...)
	mu.Unlock()
	pos := map[string]int{}
	for i, q := range order {
		pos[q] = i
	}
	if len(order) != 5 || pos["Q1"] < pos["Q5"] {
		t.Fatalf("expected Q1 to finish after Q5, completion order %v", order)
	}
	for i, sq := range r.SubQuestions {
		want := "Q" + string(rune('1'+i))
		if sq.Question != want || sq.Summary != "summary of "+want || sq.Degraded {
			t.Fatalf("result %d = %+v, want %s", i, sq, want)
		}
	}
}

func TestThreeStagePlannerFallback(t *testing.T) {
	primary := &fakeClient{name: "deepseek"}
	primary.reply = func(system, user string) (string, error) {
		if system == "PLANNER" {
			return "", errors.New("planner down")
		}
		return "ok", nil
	}
	p := New(Deps{Primary: primary, Prompts: newPromptStore(t)}, Settings{})
	r, ok := p.Run(context.Background(), Request{Query: "note apps", PromptName: "testprompt3"}).(*StagedReport)
	if !ok {
		t.Fatalf("auto mode should pick the staged pipeline for a staged prompt")
	}
	want := fallbackSubQuestions("note apps")
	if len(r.SubQuestions) != len(want) {
		t.Fatalf("expected %d fallback questions, got %d", len(want), len(r.SubQuestions))
	}
	for i := range want {
		if r.SubQuestions[i].Question != want[i] {
			t.Fatalf("fallback %d = %q", i, r.SubQuestions[i].Question)
		}
	}
	for _, c := range primary.Calls() {
		if c.system == "EXECUTOR" && !strings.Contains(c.user, noSourcesText) {
			t.Fatalf("execution prompt without search should note missing sources:\n%s", c.user)
		}
	}
}

func TestDataDrivenPayload(t *testing.T) {
	fs := &fakeSearch{results: []search.Snippet{
		{Title: "Market sizing", URL: "https://reuters.com/a", Content: strings.Repeat("x", 350), PublishedDate: "2025-03-01"},
		{Title: "", URL: "https://bloomberg.com/b", Content: "short & sweet"},
	}}
	primary := &fakeClient{name: "deepseek", model: "deepseek-reasoner", reply: fixed("exec report")}
	p := New(Deps{Primary: primary, Search: fs, Prompts: newPromptStore(t)}, Settings{})

	r, ok := p.Run(context.Background(), Request{Query: "AI note takers", PromptName: "testprompt4"}).(*DataDrivenReport)
	if !ok {
		t.Fatalf("expected data-driven report")
	}
	if r.TotalSources != 2 || r.ResearchType != "data_driven" || r.PromptUsed != "testprompt4" {
		t.Fatalf("unexpected report %+v", r)
	}
	c := primary.Calls()[0]
	if c.system != "" || c.opts.MaxTokens != 4000 {
		t.Fatalf("expected user-only message with 4000 tokens, got %+v", c)
	}
	wantParts := []string{
		"Write a data-driven executive report.\n\n**Input JSON Schema:**\n```json\n{\n  \"query\": \"AI note takers\",\n  \"num_results\": 2,",
		"\"snippet\": \"" + strings.Repeat("x", 300) + "...\"",
		"\"title\": \"Unknown\"",
		"\"date\": \"Unknown\"",
		"\"snippet\": \"short & sweet\"",
		"\"annotation\": \"Web search result\"",
	}
	for _, want := range wantParts {
		if !strings.Contains(c.user, want) {
			t.Fatalf("prompt missing %q:\n%s", want, c.user)
		}
	}
	if !strings.HasSuffix(c.user, "\n```") {
		t.Fatalf("payload should close the fence")
	}
	if opts := fs.seen[0]; opts.MaxResults != 10 || len(opts.Domains) != 12 {
		t.Fatalf("expected extended allowlist and 10 results, got %+v", opts)
	}
}

func TestNoBackendYieldsErrorReport(t *testing.T) {
	p := New(Deps{Prompts: newPromptStore(t)}, Settings{})
	for _, mode := range []Mode{ModeSingleShot, ModeThreeStage, ModeDataDriven} {
		r, ok := p.Run(context.Background(), Request{Query: "q", Mode: mode}).(*ErrorReport)
		if !ok || r.Error != ErrNoBackend.Error() || r.Query != "q" || r.Timestamp.IsZero() {
			t.Fatalf("%s: expected no-backend error report, got %#v", mode, r)
		}
	}
}

func TestBothBackendsFailingYieldsErrorReport(t *testing.T) {
	p := New(Deps{
		Primary:   &fakeClient{name: "deepseek", reply: failing("primary down")},
		Secondary: &fakeClient{name: "groq", reply: failing("secondary down")},
	}, Settings{})
	r, ok := p.Run(context.Background(), Request{Query: "q", Mode: ModeSingleShot}).(*ErrorReport)
	if !ok || !strings.Contains(r.Error, "primary down") || !strings.Contains(r.Error, "secondary down") {
		t.Fatalf("expected joined failure, got %#v", r)
	}
}

func TestBlankQueryYieldsErrorReport(t *testing.T) {
	primary := &fakeClient{name: "deepseek", reply: fixed("x")}
	p := New(Deps{Primary: primary}, Settings{})
	if _, ok := p.Run(context.Background(), Request{Query: "   "}).(*ErrorReport); !ok {
		t.Fatalf("blank query must produce an error report")
	}
	if len(primary.Calls()) != 0 {
		t.Fatalf("blank query must not reach a backend")
	}
}

func TestRunRecordsTelemetryAndStableIdentity(t *testing.T) {
	reg := prometheus.NewRegistry()
	tele, err := telemetry.New(reg, true)
	if err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	id := uuid.MustParse("6f1c1a2e-6a55-4c1e-9b9e-3f4c1d2a7b10")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := New(Deps{
		Primary:   &fakeClient{name: "deepseek", reply: fixed("x")},
		Telemetry: tele,
		Now:       func() time.Time { return now },
		NewID:     func() uuid.UUID { return id },
	}, Settings{})

	r := p.Run(context.Background(), Request{Query: "q", Mode: ModeSingleShot})
	if r.Metadata().ID != id || !r.Metadata().Timestamp.Equal(now) {
		t.Fatalf("unexpected meta %+v", r.Metadata())
	}
	want := `
# HELP pmmresearch_runs_total Research runs by mode and outcome.
# TYPE pmmresearch_runs_total counter
pmmresearch_runs_total{mode="single_shot",outcome="ok"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "pmmresearch_runs_total"); err != nil {
		t.Fatalf("runs metric: %v", err)
	}
}

func TestParseSubQuestions(t *testing.T) {
	text := "10. numbered\n\nWhat is the TAM?\n   \n2. skip\nWho are the incumbents?\n11. kept because only 1-10 are filtered\n"
	got := parseSubQuestions(text, 2)
	if len(got) != 2 || got[0] != "What is the TAM?" || got[1] != "Who are the incumbents?" {
		t.Fatalf("unexpected sub-questions %q", got)
	}
	if got := parseSubQuestions("1. a\n2. b", 10); len(got) != 0 {
		t.Fatalf("numbered-only output should parse to nothing, got %q", got)
	}
}

func TestResolveMode(t *testing.T) {
	p := New(Deps{Prompts: newPromptStore(t)}, Settings{})
	snap := p.prompts.Snapshot()
	cases := []struct {
		req  Request
		want Mode
	}{
		{Request{}, ModeSingleShot},
		{Request{PromptName: "testprompt2"}, ModeSingleShot},
		{Request{PromptName: "testprompt3"}, ModeThreeStage},
		{Request{PromptName: "testprompt4"}, ModeDataDriven},
		{Request{PromptName: "missing"}, ModeSingleShot},
		{Request{PromptName: "discovery"}, ModeSingleShot},
		{Request{Mode: ModeDataDriven, PromptName: "testprompt3"}, ModeDataDriven},
	}
	for _, tc := range cases {
		if got := p.resolveMode(snap, tc.req); got != tc.want {
			t.Fatalf("%+v: got %s want %s", tc.req, got, tc.want)
		}
	}
}
