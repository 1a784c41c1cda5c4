package research

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/pmmresearch/internal/search"
)

// Mode selects the research algorithm for a run.
type Mode string

const (
	ModeAuto       Mode = "auto"
	ModeSingleShot Mode = "single_shot"
	ModeThreeStage Mode = "three_stage"
	ModeDataDriven Mode = "data_driven"
)

var (
	// ErrNoBackend is reported when neither backend is configured.
	ErrNoBackend = errors.New("no AI backend configured")
	// ErrUnknownMode is returned by ParseMode.
	ErrUnknownMode = errors.New("unknown research mode")
	// ErrUnknownKind is returned by DecodeReport for an unrecognised envelope.
	ErrUnknownKind = errors.New("unknown report kind")
)

// ParseMode accepts the canonical names plus hyphenated spellings.
// An empty string means auto.
func ParseMode(s string) (Mode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "auto":
		return ModeAuto, nil
	case "single_shot", "single", "basic":
		return ModeSingleShot, nil
	case "three_stage", "staged", "advanced":
		return ModeThreeStage, nil
	case "data_driven", "data":
		return ModeDataDriven, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Request is one research invocation.
type Request struct {
	Query string
	Mode  Mode
	// PromptName selects the prompt document; empty uses the mode's default.
	PromptName string
	// SkipCache bypasses the cache lookup; a fresh result is still stored.
	SkipCache bool
}

// Kind tags a Report variant.
type Kind string

const (
	KindSingleShot Kind = "single_shot"
	KindStaged     Kind = "three_stage"
	KindDataDriven Kind = "data_driven"
	KindError      Kind = "error"
)

// Meta is shared by all report variants.
type Meta struct {
	ID        uuid.UUID `json:"id"`
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
	Cached    bool      `json:"cached"`
}

// Report is the result of a run. Use a type switch on the concrete variant.
type Report interface {
	Kind() Kind
	Metadata() *Meta
}

// SingleShotReport is produced by a single prompt submission.
type SingleShotReport struct {
	Meta
	Content     string `json:"content"`
	Model       string `json:"model"`
	Backend     string `json:"backend"`
	SourcesUsed int    `json:"sources_used"`
}

func (r *SingleShotReport) Kind() Kind      { return KindSingleShot }
func (r *SingleShotReport) Metadata() *Meta { return &r.Meta }

// SubQuestionResult is the execution-stage outcome for one sub-question.
type SubQuestionResult struct {
	Question    string           `json:"question"`
	Summary     string           `json:"summary"`
	Sources     []search.Snippet `json:"sources"`
	SourceCount int              `json:"source_count"`
	// Degraded is set when the summary is an error message.
	Degraded bool `json:"degraded,omitempty"`
}

// StagedReport is produced by the plan, execute and publish pipeline.
type StagedReport struct {
	Meta
	Content                string              `json:"content"`
	Model                  string              `json:"model"`
	Backend                string              `json:"backend"`
	SubQuestions           []SubQuestionResult `json:"sub_questions"`
	SubQuestionsResearched int                 `json:"sub_questions_researched"`
	TotalSources           int                 `json:"total_sources"`
}

func (r *StagedReport) Kind() Kind      { return KindStaged }
func (r *StagedReport) Metadata() *Meta { return &r.Meta }

// DataDrivenReport is produced from a JSON payload of web results.
type DataDrivenReport struct {
	Meta
	Content      string `json:"content"`
	Model        string `json:"model"`
	Backend      string `json:"backend"`
	TotalSources int    `json:"total_sources"`
	ResearchType string `json:"research_type"`
	PromptUsed   string `json:"prompt_used"`
}

func (r *DataDrivenReport) Kind() Kind      { return KindDataDriven }
func (r *DataDrivenReport) Metadata() *Meta { return &r.Meta }

// ErrorReport is returned when no productive output could be produced.
type ErrorReport struct {
	Meta
	Mode  Mode   `json:"mode,omitempty"`
	Error string `json:"error"`
}

func (r *ErrorReport) Kind() Kind      { return KindError }
func (r *ErrorReport) Metadata() *Meta { return &r.Meta }

type envelope struct {
	Kind   Kind            `json:"kind"`
	Report json.RawMessage `json:"report"`
}

// EncodeReport serialises r as {"kind": ..., "report": ...}.
func EncodeReport(r Report) ([]byte, error) {
	if r == nil {
		return nil, errors.New("encode report: nil report")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return json.Marshal(envelope{Kind: r.Kind(), Report: body})
}

// DecodeReport is the inverse of EncodeReport.
func DecodeReport(data []byte) (Report, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	var r Report
	switch env.Kind {
	case KindSingleShot:
		r = &SingleShotReport{}
	case KindStaged:
		r = &StagedReport{}
	case KindDataDriven:
		r = &DataDrivenReport{}
	case KindError:
		r = &ErrorReport{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if err := json.Unmarshal(env.Report, r); err != nil {
		return nil, fmt.Errorf("decode %s report: %w", env.Kind, err)
	}
	return r, nil
}
