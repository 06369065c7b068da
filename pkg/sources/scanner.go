// Package sources finds library documents in source trees.
//
// Directories named TARGET_<LABEL> are only entered when the target carries
// LABEL. Directories named FEATURE_<NAME> are not entered by Scan; they are
// recorded and their libraries are returned by LibrariesFor once the feature
// is active, which makes a Tree the FeatureSources of a resolver.Config.
package sources

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mbedconf/mbedconf/pkg/config"
	"github.com/mbedconf/mbedconf/pkg/engine"
)

// Directory prefixes with special meaning.
const (
	FeaturePrefix = "FEATURE_"
	TargetPrefix  = "TARGET_"
)

// Scanner walks source trees for the given target labels.
type Scanner struct {
	loader *config.Loader
	labels map[string]bool
	ignore map[string]bool
	logger zerolog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger.With().Str("component", "sources").Logger()
	}
}

// WithIgnore skips directories with the given names.
func WithIgnore(names ...string) Option {
	return func(s *Scanner) {
		for _, n := range names {
			s.ignore[n] = true
		}
	}
}

// NewScanner creates a scanner for a target with the given labels.
func NewScanner(loader *config.Loader, labels []string, opts ...Option) *Scanner {
	if loader == nil {
		loader = config.NewLoader()
	}
	s := &Scanner{
		loader: loader,
		labels: make(map[string]bool, len(labels)),
		ignore: map[string]bool{"BUILD": true},
		logger: zerolog.Nop(),
	}
	for _, l := range labels {
		s.labels[l] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tree is the result of a scan.
type Tree struct {
	scanner   *Scanner
	libraries []*engine.LibraryDoc
	features  map[string][]string

	mu     sync.Mutex
	loaded map[string][]*engine.LibraryDoc
}

// Scan walks roots and loads every library document outside feature
// directories.
func (s *Scanner) Scan(ctx context.Context, roots ...string) (*Tree, error) {
	t := &Tree{
		scanner:  s,
		features: make(map[string][]string),
		loaded:   make(map[string][]*engine.LibraryDoc),
	}
	for _, root := range roots {
		libs, err := s.walk(ctx, root, t.features)
		if err != nil {
			return nil, err
		}
		t.libraries = append(t.libraries, libs...)
	}
	s.logger.Debug().
		Int("libraries", len(t.libraries)).
		Strs("features", t.Features()).
		Msg("Source scan complete")
	return t, nil
}

// walk loads the libraries below root. Feature directories are recorded in
// features and skipped.
func (s *Scanner) walk(ctx context.Context, root string, features map[string][]string) ([]*engine.LibraryDoc, error) {
	var libs []*engine.LibraryDoc
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if strings.HasPrefix(name, ".") || s.ignore[name] {
				return filepath.SkipDir
			}
			if label, ok := strings.CutPrefix(name, TargetPrefix); ok && !s.labels[label] {
				return filepath.SkipDir
			}
			if feature, ok := strings.CutPrefix(name, FeaturePrefix); ok {
				features[feature] = append(features[feature], path)
				return filepath.SkipDir
			}
			return nil
		}
		if name != config.LibConfigName {
			return nil
		}
		lib, err := s.loader.LoadLibrary(ctx, path)
		if err != nil {
			return err
		}
		libs = append(libs, lib)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return libs, nil
}

// Libraries returns the libraries found outside feature directories.
func (t *Tree) Libraries() []*engine.LibraryDoc {
	return append([]*engine.LibraryDoc(nil), t.libraries...)
}

// Features returns the names of the feature directories found, sorted.
func (t *Tree) Features() []string {
	names := make([]string, 0, len(t.features))
	for name := range t.features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LibrariesFor implements engine.FeatureSources. The feature directories
// are scanned on first use; nested feature directories are recorded for
// later calls.
func (t *Tree) LibrariesFor(feature string) ([]*engine.LibraryDoc, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if libs, ok := t.loaded[feature]; ok {
		return libs, nil
	}
	var libs []*engine.LibraryDoc
	// Directories found below this feature are appended while iterating
	for i := 0; i < len(t.features[feature]); i++ {
		dir := t.features[feature][i]
		found, err := t.scanner.walk(context.Background(), dir, t.features)
		if err != nil {
			return nil, err
		}
		libs = append(libs, found...)
	}
	t.loaded[feature] = libs
	t.scanner.logger.Debug().Str("feature", feature).Int("libraries", len(libs)).Msg("Feature sources loaded")
	return libs, nil
}
