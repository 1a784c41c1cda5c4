package prompts

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stage names one phase of the three-stage pipeline.
type Stage string

const (
	StageNone      Stage = ""
	StagePlanner   Stage = "planner"
	StageExecution Stage = "execution"
	StagePublisher Stage = "publisher"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StagePlanner, StageExecution, StagePublisher}

// Fallbacks returned when a stage or role is absent.
const (
	FallbackSystem = "You are an AI assistant."
	FallbackUser   = ""
)

// Sections holds the system and user prompt text of one stage.
type Sections struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Document is a prompt parsed once at load time.
type Document struct {
	Name        string
	Raw         string
	Description string
	Stages      map[Stage]Sections
}

// Staged reports whether the document declares any pipeline stage.
func (d Document) Staged() bool {
	return len(d.Stages) > 0
}

// Complete reports whether every pipeline stage is declared.
func (d Document) Complete() bool {
	for _, s := range Stages {
		if _, ok := d.Stages[s]; !ok {
			return false
		}
	}
	return true
}

// System returns the system prompt for stage. Without a stage, or for a
// document that declares no stages, the raw text is returned.
func (d Document) System(stage Stage) string {
	if stage == StageNone || !d.Staged() {
		return d.Raw
	}
	sec, ok := d.Stages[stage]
	if !ok || sec.System == "" {
		return FallbackSystem
	}
	return sec.System
}

// User mirrors System for the user role.
func (d Document) User(stage Stage) string {
	if stage == StageNone || !d.Staged() {
		return d.Raw
	}
	sec, ok := d.Stages[stage]
	if !ok {
		return FallbackUser
	}
	return sec.User
}

var (
	stageHeaderRe = regexp.MustCompile(`(?m)^#+\s*=*\s*STAGE\s+([1-3])\s*:[^\n]*$`)
	systemMarker  = regexp.MustCompile(`(?m)^#{2,}\s*System Prompt\b[^\n]*$`)
	userMarker    = regexp.MustCompile(`(?m)^#{2,}\s*User Prompt\b[^\n]*$`)
	ruleRe        = regexp.MustCompile(`(?m)^\s*---+\s*$`)
)

var stageByNumber = map[string]Stage{
	"1": StagePlanner,
	"2": StageExecution,
	"3": StagePublisher,
}

// ParseText parses a plain-text document. Stage sections are introduced by
// headers such as "# ===== STAGE 1: RESEARCH PLANNER =====" and each holds a
// "### System Prompt" marker followed by a "### User Prompt" marker. Text
// after a marker on the same line, such as a colon, is ignored.
func ParseText(name, text string) Document {
	doc := Document{Name: name, Raw: strings.TrimSpace(text)}
	headers := stageHeaderRe.FindAllStringSubmatchIndex(doc.Raw, -1)
	if len(headers) == 0 {
		return doc
	}
	doc.Stages = make(map[Stage]Sections, len(headers))
	for i, h := range headers {
		stage := stageByNumber[doc.Raw[h[2]:h[3]]]
		if _, dup := doc.Stages[stage]; dup {
			continue
		}
		end := len(doc.Raw)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		doc.Stages[stage] = parseSection(doc.Raw[h[1]:end])
	}
	return doc
}

// parseSection slices one stage body. A missing or out-of-order marker
// leaves that role empty.
func parseSection(body string) Sections {
	var sec Sections
	sys := systemMarker.FindStringIndex(body)
	usr := userMarker.FindStringIndex(body)
	if sys != nil && usr != nil && sys[1] <= usr[0] {
		sec.System = strings.TrimSpace(body[sys[1]:usr[0]])
	}
	if usr != nil {
		rest := body[usr[1]:]
		if sys != nil && sys[0] > usr[1] {
			rest = body[usr[1]:sys[0]]
		}
		if rule := ruleRe.FindStringIndex(rest); rule != nil {
			rest = rest[:rule[0]]
		}
		sec.User = strings.TrimSpace(rest)
	}
	return sec
}

type yamlDocument struct {
	Description string              `yaml:"description"`
	System      string              `yaml:"system"`
	Stages      map[string]Sections `yaml:"stages"`
}

// ParseYAML parses a structured document with description, system and
// stages keys. Unknown stage names are rejected.
func ParseYAML(name string, data []byte) (Document, error) {
	var raw yamlDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	doc := Document{
		Name:        name,
		Raw:         strings.TrimSpace(raw.System),
		Description: strings.TrimSpace(raw.Description),
	}
	if len(raw.Stages) > 0 {
		doc.Stages = make(map[Stage]Sections, len(raw.Stages))
		for key, sec := range raw.Stages {
			stage := Stage(strings.ToLower(strings.TrimSpace(key)))
			switch stage {
			case StagePlanner, StageExecution, StagePublisher:
			default:
				return Document{}, fmt.Errorf("parse prompt %s: unknown stage %q", name, key)
			}
			doc.Stages[stage] = Sections{
				System: strings.TrimSpace(sec.System),
				User:   strings.TrimSpace(sec.User),
			}
		}
	}
	if doc.Raw == "" {
		if !doc.Staged() {
			return Document{}, fmt.Errorf("parse prompt %s: document is empty", name)
		}
		doc.Raw = strings.TrimSpace(string(data))
	}
	return doc, nil
}
