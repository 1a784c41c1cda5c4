// Package research runs PMM research queries in one of three modes:
// a single prompt, a plan/execute/publish pipeline, or a data-driven report
// built from web results.
package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/pmmresearch/config"
	"github.com/mohammad-safakhou/pmmresearch/internal/backend"
	"github.com/mohammad-safakhou/pmmresearch/internal/cache"
	"github.com/mohammad-safakhou/pmmresearch/internal/logging"
	"github.com/mohammad-safakhou/pmmresearch/internal/prompts"
	"github.com/mohammad-safakhou/pmmresearch/internal/search"
	"github.com/mohammad-safakhou/pmmresearch/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Settings tune a Pipeline. Zero values take the defaults below.
type Settings struct {
	// SingleShotPrompt is used by single-shot runs without a prompt name.
	SingleShotPrompt string
	// StagedPrompt is used by three-stage runs without a prompt name.
	StagedPrompt string
	// DataDrivenPrompt names the standalone document for data-driven runs.
	DataDrivenPrompt string

	Domains         []string
	ExtendedDomains []string
	SearchDepth     string
	ExcerptChars    int
	// SourceResults caps snippets per single-shot run and per sub-question.
	SourceResults int
	// DataDrivenResults caps snippets for data-driven runs.
	DataDrivenResults int

	MaxSubQuestions int
	Concurrency     int
	// PublisherMaxTokens also applies to data-driven runs.
	PublisherMaxTokens int
}

func (s Settings) withDefaults() Settings {
	if s.SingleShotPrompt == "" {
		s.SingleShotPrompt = prompts.DefaultName
	}
	if s.StagedPrompt == "" {
		s.StagedPrompt = "testprompt3"
	}
	if s.DataDrivenPrompt == "" {
		s.DataDrivenPrompt = "testprompt4"
	}
	if s.Domains == nil {
		s.Domains = config.DefaultDomains
	}
	if s.ExtendedDomains == nil {
		s.ExtendedDomains = config.ExtendedDomains
	}
	if s.SearchDepth == "" {
		s.SearchDepth = "advanced"
	}
	if s.ExcerptChars <= 0 {
		s.ExcerptChars = 200
	}
	if s.SourceResults <= 0 {
		s.SourceResults = 5
	}
	if s.DataDrivenResults <= 0 {
		s.DataDrivenResults = 10
	}
	if s.MaxSubQuestions <= 0 {
		s.MaxSubQuestions = 10
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 5
	}
	if s.PublisherMaxTokens <= 0 {
		s.PublisherMaxTokens = 4000
	}
	return s
}

// SettingsFromConfig maps loaded configuration onto pipeline settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		SingleShotPrompt:  prompts.DefaultName,
		StagedPrompt:      cfg.Prompts.Staged,
		DataDrivenPrompt:  cfg.Prompts.DataDriven,
		Domains:           cfg.Search.Domains,
		ExtendedDomains:   cfg.Search.ExtendedDomains,
		SearchDepth:       cfg.Search.Depth,
		ExcerptChars:      cfg.Search.ExcerptChars,
		DataDrivenResults: cfg.Search.MaxResults,
		MaxSubQuestions:   cfg.Research.MaxSubQuestions,
		Concurrency:       cfg.Research.Concurrency,
	}
}

// Deps are the collaborators of a Pipeline. Primary, Secondary and Search
// may be nil; Prompts and Cache default to built-ins when nil.
type Deps struct {
	Primary   backend.Client
	Secondary backend.Client
	Search    search.Provider
	Prompts   *prompts.Store
	Cache     cache.Cache
	Logger    *zap.Logger
	Telemetry *telemetry.Telemetry

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() uuid.UUID
}

// Pipeline executes research requests. It is safe for concurrent use.
type Pipeline struct {
	backends []backend.Client
	search   *search.Guard
	prompts  *prompts.Store
	cache    cache.Cache
	logger   *zap.Logger
	tele     *telemetry.Telemetry
	now      func() time.Time
	newID    func() uuid.UUID
	settings Settings
}

// New builds a Pipeline.
func New(deps Deps, settings Settings) *Pipeline {
	logger := logging.OrNop(deps.Logger).Named("research")
	p := &Pipeline{
		search:   search.NewGuard(deps.Search, logger, deps.Telemetry),
		prompts:  deps.Prompts,
		cache:    deps.Cache,
		logger:   logger,
		tele:     deps.Telemetry,
		now:      deps.Now,
		newID:    deps.NewID,
		settings: settings.withDefaults(),
	}
	for _, c := range []backend.Client{deps.Primary, deps.Secondary} {
		if c != nil {
			p.backends = append(p.backends, c)
		}
	}
	if p.prompts == nil {
		p.prompts = prompts.NewStore(prompts.Options{}, logger, deps.Telemetry)
	}
	if p.cache == nil {
		p.cache = cache.Noop{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.New
	}
	return p
}

// Prompts exposes the prompt store for administrative reloads.
func (p *Pipeline) Prompts() *prompts.Store { return p.prompts }

// ClearCache drops every cached report.
func (p *Pipeline) ClearCache(ctx context.Context) error {
	return p.cache.Clear(ctx)
}

// Run executes req and always returns a Report. Failures are reported as
// *ErrorReport rather than as errors.
func (p *Pipeline) Run(ctx context.Context, req Request) Report {
	start := p.now()
	req.Query = strings.TrimSpace(req.Query)
	snap := p.prompts.Snapshot()
	mode := p.resolveMode(snap, req)
	logger := p.logger.With(zap.String("mode", string(mode)), zap.String("query_hash", cache.Key(req.Query)))

	var report Report
	switch {
	case req.Query == "":
		report = p.errorReport(req.Query, mode, errors.New("query is empty"))
	case len(p.backends) == 0:
		report = p.errorReport(req.Query, mode, ErrNoBackend)
	case mode == ModeThreeStage:
		report = p.runStaged(ctx, logger, snap, req)
	case mode == ModeDataDriven:
		report = p.runDataDriven(ctx, logger, snap, req)
	default:
		report = p.runSingleShot(ctx, logger, snap, req)
	}

	outcome := "ok"
	switch r := report.(type) {
	case *ErrorReport:
		outcome = "error"
		logger.Warn("research failed", zap.String("error", r.Error))
	default:
		if report.Metadata().Cached {
			outcome = "cached"
		}
	}
	elapsed := p.now().Sub(start)
	p.tele.RecordRun(string(mode), outcome, elapsed)
	logger.Info("research finished", zap.String("outcome", outcome), zap.Duration("elapsed", elapsed))
	return report
}

func (p *Pipeline) resolveMode(snap *prompts.Snapshot, req Request) Mode {
	switch req.Mode {
	case ModeSingleShot, ModeThreeStage, ModeDataDriven:
		return req.Mode
	}
	switch {
	case req.PromptName == "":
		return ModeSingleShot
	case req.PromptName == p.settings.DataDrivenPrompt:
		return ModeDataDriven
	case snap.Document(req.PromptName).Complete():
		return ModeThreeStage
	}
	return ModeSingleShot
}

func (p *Pipeline) meta(query string) Meta {
	return Meta{ID: p.newID(), Query: query, Timestamp: p.now()}
}

func (p *Pipeline) errorReport(query string, mode Mode, err error) *ErrorReport {
	return &ErrorReport{Meta: p.meta(query), Mode: mode, Error: err.Error()}
}

// submit tries each configured backend in order and returns the first answer
// together with the backend that produced it.
func (p *Pipeline) submit(ctx context.Context, logger *zap.Logger, system, user string, opts backend.Options) (string, backend.Client, error) {
	if len(p.backends) == 0 {
		return "", nil, ErrNoBackend
	}
	var errs []error
	for i, c := range p.backends {
		text, err := c.Submit(ctx, system, user, opts)
		if err == nil {
			return text, c, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		if ctx.Err() != nil {
			break
		}
		if i < len(p.backends)-1 {
			logger.Warn("backend failed, falling back", zap.String("backend", c.Name()), zap.Error(err))
		}
	}
	return "", nil, errors.Join(errs...)
}

func (p *Pipeline) searchOptions(domains []string, limit int) search.Options {
	return search.Options{Depth: p.settings.SearchDepth, MaxResults: limit, Domains: domains}
}

// sources returns nil when search is disabled.
func (p *Pipeline) sources(ctx context.Context, query string, opts search.Options) []search.Snippet {
	if p.search == nil {
		return nil
	}
	results, _ := p.search.Search(ctx, query, opts)
	return results
}

func (p *Pipeline) runSingleShot(ctx context.Context, logger *zap.Logger, snap *prompts.Snapshot, req Request) Report {
	if !req.SkipCache {
		if cached, ok := p.lookup(ctx, logger, req.Query); ok {
			return cached
		}
	}

	name := req.PromptName
	if name == "" {
		name = p.settings.SingleShotPrompt
	}
	snippets := p.sources(ctx, req.Query, p.searchOptions(p.settings.Domains, p.settings.SourceResults))
	user := singleShotUserPrompt(req.Query, summarize(snippets, p.settings.ExcerptChars))

	text, c, err := p.submit(ctx, logger.With(zap.String("prompt", name)), snap.Raw(name), user, backend.Options{})
	if err != nil {
		return p.errorReport(req.Query, ModeSingleShot, fmt.Errorf("failed to generate research report: %w", err))
	}
	report := &SingleShotReport{
		Meta:        p.meta(req.Query),
		Content:     text,
		Model:       c.Model(),
		Backend:     c.Name(),
		SourcesUsed: len(snippets),
	}
	p.store(ctx, logger, report)
	return report
}

func (p *Pipeline) lookup(ctx context.Context, logger *zap.Logger, query string) (Report, bool) {
	entry, ok, err := p.cache.Get(ctx, query)
	if err != nil {
		p.tele.RecordCacheLookup("error")
		logger.Warn("cache lookup failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		p.tele.RecordCacheLookup("miss")
		return nil, false
	}
	report, err := DecodeReport(entry.Payload)
	if err != nil {
		p.tele.RecordCacheLookup("error")
		logger.Warn("discarding undecodable cache entry", zap.Error(err))
		return nil, false
	}
	if _, isErr := report.(*ErrorReport); isErr {
		p.tele.RecordCacheLookup("miss")
		return nil, false
	}
	p.tele.RecordCacheLookup("hit")
	report.Metadata().Cached = true
	return report, true
}

func (p *Pipeline) store(ctx context.Context, logger *zap.Logger, report *SingleShotReport) {
	payload, err := EncodeReport(report)
	if err != nil {
		logger.Warn("cache encode failed", zap.Error(err))
		return
	}
	if err := p.cache.Put(ctx, report.Query, payload, report.Model); err != nil {
		logger.Warn("cache store failed", zap.Error(err))
	}
}

func (p *Pipeline) runStaged(ctx context.Context, logger *zap.Logger, snap *prompts.Snapshot, req Request) Report {
	name := req.PromptName
	if name == "" {
		name = p.settings.StagedPrompt
	}
	logger = logger.With(zap.String("prompt", name))

	questions := p.plan(ctx, logger, snap, name, req.Query)
	results := p.execute(ctx, logger, snap, name, questions)

	total := 0
	for _, r := range results {
		total += r.SourceCount
	}
	user := strings.ReplaceAll(snap.User(name, prompts.StagePublisher), placeholderResearch, researchData(req.Query, results))
	text, c, err := p.submit(ctx, logger.With(zap.String("stage", string(prompts.StagePublisher))),
		snap.System(name, prompts.StagePublisher), user, backend.Options{MaxTokens: p.settings.PublisherMaxTokens})
	if err != nil {
		return p.errorReport(req.Query, ModeThreeStage, fmt.Errorf("research synthesis failed: %w", err))
	}
	return &StagedReport{
		Meta:                   p.meta(req.Query),
		Content:                text,
		Model:                  c.Model(),
		Backend:                c.Name(),
		SubQuestions:           results,
		SubQuestionsResearched: len(results),
		TotalSources:           total,
	}
}

// plan always returns at least one sub-question.
func (p *Pipeline) plan(ctx context.Context, logger *zap.Logger, snap *prompts.Snapshot, name, query string) []string {
	logger = logger.With(zap.String("stage", string(prompts.StagePlanner)))
	user := strings.ReplaceAll(snap.User(name, prompts.StagePlanner), placeholderQuery, query)
	text, _, err := p.submit(ctx, logger, snap.System(name, prompts.StagePlanner), user, backend.Options{})
	if err != nil {
		logger.Warn("planner failed, using generic sub-questions", zap.Error(err))
		return fallbackSubQuestions(query)
	}
	questions := parseSubQuestions(text, p.settings.MaxSubQuestions)
	if len(questions) == 0 {
		logger.Warn("planner returned no sub-questions, using generic ones")
		return fallbackSubQuestions(query)
	}
	return questions
}

// execute researches every question concurrently. Results keep input order
// and a failed question never cancels its siblings.
func (p *Pipeline) execute(ctx context.Context, logger *zap.Logger, snap *prompts.Snapshot, name string, questions []string) []SubQuestionResult {
	logger = logger.With(zap.String("stage", string(prompts.StageExecution)))
	system := snap.System(name, prompts.StageExecution)
	template := snap.User(name, prompts.StageExecution)

	results := make([]SubQuestionResult, len(questions))
	var g errgroup.Group
	g.SetLimit(p.settings.Concurrency)
	for i, q := range questions {
		g.Go(func() error {
			results[i] = p.researchOne(ctx, logger.With(zap.String("sub_question", q)), system, template, q)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) researchOne(ctx context.Context, logger *zap.Logger, system, template, question string) SubQuestionResult {
	snippets := p.sources(ctx, question, p.searchOptions(p.settings.Domains, p.settings.SourceResults))
	user := strings.ReplaceAll(template, placeholderSubQuestion, question)
	user = strings.ReplaceAll(user, placeholderSources, sourcesBlock(summarize(snippets, p.settings.ExcerptChars)))

	text, _, err := p.submit(ctx, logger, system, user, backend.Options{})
	if err != nil {
		logger.Warn("sub-question failed", zap.Error(err))
		return SubQuestionResult{
			Question: question,
			Summary:  "Research failed: " + err.Error(),
			Sources:  []search.Snippet{},
			Degraded: true,
		}
	}
	if snippets == nil {
		snippets = []search.Snippet{}
	}
	return SubQuestionResult{Question: question, Summary: text, Sources: snippets, SourceCount: len(snippets)}
}

func (p *Pipeline) runDataDriven(ctx context.Context, logger *zap.Logger, snap *prompts.Snapshot, req Request) Report {
	name := p.settings.DataDrivenPrompt
	logger = logger.With(zap.String("prompt", name))

	snippets := p.sources(ctx, req.Query, p.searchOptions(p.settings.ExtendedDomains, p.settings.DataDrivenResults))
	full, err := dataDrivenPrompt(snap.Raw(name), newDataDrivenPayload(req.Query, snippets))
	if err != nil {
		return p.errorReport(req.Query, ModeDataDriven, err)
	}
	text, c, err := p.submit(ctx, logger, "", full, backend.Options{MaxTokens: p.settings.PublisherMaxTokens})
	if err != nil {
		return p.errorReport(req.Query, ModeDataDriven, fmt.Errorf("data-driven research failed: %w", err))
	}
	return &DataDrivenReport{
		Meta:         p.meta(req.Query),
		Content:      text,
		Model:        c.Model(),
		Backend:      c.Name(),
		TotalSources: len(snippets),
		ResearchType: string(ModeDataDriven),
		PromptUsed:   name,
	}
}
