// Package prompts loads named prompt documents and resolves per-stage
// system and user prompts from them.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/mohammad-safakhou/pmmresearch/internal/logging"
	"github.com/mohammad-safakhou/pmmresearch/internal/telemetry"
	"go.uber.org/zap"
)

// DefaultName is the alias that unknown names resolve to.
const DefaultName = "default"

// DefaultPrompt is used when the designated default document is absent.
const DefaultPrompt = "You are a Principal PMM Strategist. Provide structured analysis with trends, competitors, insights, recommendations, and citations."

var builtinDescriptions = map[string]string{
	"testprompt1": "Basic research (fast, simple analysis)",
	"testprompt2": "Clean 5-section approach",
	"testprompt3": "Advanced 3-stage research (deep analysis)",
	"testprompt4": "Data-driven reports (web sources + insights)",
}

// Options configures which documents a Store loads.
type Options struct {
	Dir string
	// Names are loaded from <Dir>/<name>.yaml, <name>.yml or <name>, first found wins.
	Names []string
	// Default names the document aliased as "default".
	Default string
}

// Info describes an available prompt.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Staged      bool   `json:"staged"`
}

// Snapshot is an immutable view of the loaded documents.
type Snapshot struct {
	docs  map[string]Document
	order []string
}

// Document returns the named document, or the default one when name is unknown.
func (s *Snapshot) Document(name string) Document {
	if doc, ok := s.docs[name]; ok {
		return doc
	}
	return s.docs[DefaultName]
}

// Has reports whether name was loaded.
func (s *Snapshot) Has(name string) bool {
	_, ok := s.docs[name]
	return ok
}

func (s *Snapshot) Raw(name string) string { return s.Document(name).Raw }

func (s *Snapshot) System(name string, stage Stage) string { return s.Document(name).System(stage) }

func (s *Snapshot) User(name string, stage Stage) string { return s.Document(name).User(stage) }

// List returns loaded prompts in configured order, excluding the default alias.
func (s *Snapshot) List() []Info {
	out := make([]Info, 0, len(s.order))
	for _, name := range s.order {
		doc := s.docs[name]
		desc := doc.Description
		if desc == "" {
			desc = builtinDescriptions[name]
		}
		out = append(out, Info{Name: name, Description: desc, Staged: doc.Staged()})
	}
	return out
}

// Store holds the current snapshot and swaps it atomically on reload.
type Store struct {
	opts    Options
	logger  *zap.Logger
	tele    *telemetry.Telemetry
	current atomic.Pointer[Snapshot]
}

// NewStore loads the configured documents. Load problems are logged and the
// affected documents are skipped; the store is always usable.
func NewStore(opts Options, logger *zap.Logger, tele *telemetry.Telemetry) *Store {
	s := &Store{opts: opts, logger: logging.OrNop(logger).Named("prompts"), tele: tele}
	if err := s.Reload(); err != nil {
		s.logger.Warn("initial prompt load incomplete", zap.Error(err))
	}
	return s
}

// Snapshot returns the current document set. Callers keep it for the
// duration of a run.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

func (s *Store) Raw(name string) string { return s.Snapshot().Raw(name) }

func (s *Store) System(name string, stage Stage) string { return s.Snapshot().System(name, stage) }

func (s *Store) User(name string, stage Stage) string { return s.Snapshot().User(name, stage) }

func (s *Store) List() []Info { return s.Snapshot().List() }

// Reload rereads every document and publishes a new snapshot. Documents that
// fail to load are left out and reported in the returned error.
func (s *Store) Reload() error {
	snap, err := load(s.opts)
	s.current.Store(snap)
	if err != nil {
		s.tele.RecordPromptReload("partial")
	} else {
		s.tele.RecordPromptReload("ok")
	}
	s.logger.Info("prompts loaded", zap.Int("count", len(snap.order)), zap.Strings("names", snap.order))
	return err
}

func load(opts Options) (*Snapshot, error) {
	snap := &Snapshot{docs: make(map[string]Document, len(opts.Names)+1)}
	var errs []error
	for _, name := range opts.Names {
		doc, ok, err := loadOne(opts.Dir, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		snap.docs[name] = doc
		snap.order = append(snap.order, name)
	}
	if doc, ok := snap.docs[opts.Default]; ok && opts.Default != "" {
		alias := doc
		alias.Name = DefaultName
		snap.docs[DefaultName] = alias
	} else {
		snap.docs[DefaultName] = Document{Name: DefaultName, Raw: DefaultPrompt}
	}
	return snap, errors.Join(errs...)
}

// loadOne reports ok=false for a missing or empty document.
func loadOne(dir, name string) (Document, bool, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		data, err := os.ReadFile(filepath.Join(dir, name+ext))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Document{}, false, fmt.Errorf("read prompt %s: %w", name, err)
		}
		doc, err := ParseYAML(name, data)
		if err != nil {
			return Document{}, false, err
		}
		return doc, true, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("read prompt %s: %w", name, err)
	}
	doc := ParseText(name, string(data))
	if doc.Raw == "" {
		return Document{}, false, nil
	}
	return doc, true, nil
}
