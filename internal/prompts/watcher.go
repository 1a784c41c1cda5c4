package prompts

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloader is implemented by Store.
type Reloader interface {
	Reload() error
}

// Watcher reloads prompts when a tracked file in the prompt directory changes.
// Bursts of events (editors often write several times per save) collapse
// into one reload after the debounce interval.
type Watcher struct {
	dir      string
	names    map[string]struct{}
	target   Reloader
	logger   *zap.Logger
	debounce time.Duration

	fsw  *fsnotify.Watcher
	once sync.Once
	done chan struct{}
}

// NewWatcher watches opts.Dir for changes to the documents in opts.Names.
func NewWatcher(opts Options, target Reloader, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	names := make(map[string]struct{}, len(opts.Names))
	for _, n := range opts.Names {
		names[n] = struct{}{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:      dir,
		names:    names,
		target:   target,
		logger:   logger.Named("prompts.watcher"),
		debounce: 300 * time.Millisecond,
		fsw:      fsw,
		done:     make(chan struct{}),
	}, nil
}

// Run blocks until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.tracked(ev) {
				continue
			}
			w.logger.Debug("prompt file changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("prompt watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			if err := w.target.Reload(); err != nil {
				w.logger.Warn("prompt reload incomplete", zap.Error(err))
			} else {
				w.logger.Info("prompts reloaded after file change")
			}
		}
	}
}

// Close stops the underlying fsnotify watcher. Run returns afterwards.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.fsw.Close()
	})
	return err
}

// Done is closed when Run returns.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) tracked(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	for _, ext := range []string{".yaml", ".yml"} {
		base = strings.TrimSuffix(base, ext)
	}
	_, ok := w.names[base]
	return ok
}
