// Package watch re-runs a resolution when its input documents change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/mbedconf/mbedconf/pkg/telemetry"
)

// DefaultDebounce is the quiet period after the last event before a reload.
const DefaultDebounce = 300 * time.Millisecond

// ReloadFunc is called with the sorted paths that changed since the last
// call. Errors are logged and do not stop the watcher.
type ReloadFunc func(ctx context.Context, changed []string) error

// Watcher watches files and directory trees.
type Watcher struct {
	paths    []string
	debounce time.Duration
	match    func(path string) bool
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger.With().Str("component", "watch").Logger()
	}
}

// WithMetrics counts reloads.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(w *Watcher) {
		w.metrics = metrics
	}
}

// WithMatch replaces the filter deciding which files trigger a reload.
func WithMatch(match func(path string) bool) Option {
	return func(w *Watcher) {
		w.match = match
	}
}

// IsInput reports whether path looks like a resolution input: a JSON or
// YAML document or a bootloader image.
func IsInput(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml", ".hex", ".bin":
		return true
	}
	return false
}

// New creates a watcher for files and directories. Directories are watched
// recursively; hidden directories and BUILD are skipped.
func New(paths []string, opts ...Option) *Watcher {
	w := &Watcher{
		paths:    append([]string(nil), paths...),
		debounce: DefaultDebounce,
		match:    IsInput,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func skipDir(name string) bool {
	return (strings.HasPrefix(name, ".") && name != ".") || name == "BUILD"
}

// add registers path with the watcher. A file is watched through its
// parent directory so that editors replacing the file are noticed.
func (w *Watcher) add(fw *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fw.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}

// Run watches until ctx is done and calls fn after every burst of changes.
// It returns nil when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, fn ReloadFunc) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	for _, path := range w.paths {
		if err := w.add(fw, path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}
	w.logger.Info().Strs("paths", w.paths).Msg("Watching for changes")

	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skipDir(info.Name()) {
					if err := w.add(fw, event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !w.match(event.Name) {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Input changed")
			pending[event.Name] = true
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

		case <-fire:
			fire = nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			pending = make(map[string]bool)

			w.metrics.RecordReload()
			if err := fn(ctx, changed); err != nil {
				w.logger.Error().Err(err).Strs("changed", changed).Msg("Reload failed")
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
