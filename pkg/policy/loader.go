package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Loader reads policies from .rego files, JSON policy definitions and JSON
// bundles. Parsed files are cached by path until they are forgotten.
type Loader struct {
	logger zerolog.Logger
	cache  map[string][]Policy
	mu     sync.RWMutex
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string][]Policy),
	}
}

// IsPolicyFile reports whether path can hold policies.
func IsPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, policies...)
	}

	l.logger.Debug().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

// loadFromPath loads policies from a single file or directory.
func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}
	return l.loadFromFile(ctx, path)
}

// loadFromDirectory loads every policy file below dirPath. Files that fail
// to load are logged and skipped.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsPolicyFile(path) {
			return nil
		}

		loaded, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			return nil
		}

		policies = append(policies, loaded...)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return policies, nil
}

// loadFromFile loads the policies of a single file. A .rego file holds one
// policy; a JSON file holds one definition or a bundle.
func (l *Loader) loadFromFile(_ context.Context, filePath string) ([]Policy, error) {
	key := filepath.Clean(filePath)
	l.mu.RLock()
	if cached, exists := l.cache[key]; exists {
		l.mu.RUnlock()
		return append([]Policy(nil), cached...), nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policies []Policy
	switch filepath.Ext(filePath) {
	case ".rego":
		policies = []Policy{l.parseRegoFile(filePath, data)}
	case ".json":
		policies, err = l.parseJSONFile(filePath, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}

	l.mu.Lock()
	l.cache[key] = policies
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", filePath).
		Int("policies", len(policies)).
		Msg("Policies loaded from file")

	return append([]Policy(nil), policies...), nil
}

// parseRegoFile builds a policy named after the file. The leading comment
// block becomes the description.
func (l *Loader) parseRegoFile(filePath string, data []byte) Policy {
	now := time.Now()
	return Policy{
		Name:        strings.TrimSuffix(filepath.Base(filePath), ".rego"),
		Description: l.extractDescription(string(data)),
		Rego:        string(data),
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{},
		Metadata: map[string]interface{}{
			"source": filePath,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// parseJSONFile parses a JSON policy definition, or a bundle when the
// document has a policies list.
func (l *Loader) parseJSONFile(filePath string, data []byte) ([]Policy, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if _, isBundle := fields["policies"]; isBundle {
		bundle, err := l.parseBundle(filePath, data)
		if err != nil {
			return nil, err
		}
		return bundle.Policies, nil
	}

	policy, err := parsePolicy(data)
	if err != nil {
		return nil, err
	}
	policy.setSource(filePath)
	return []Policy{policy}, nil
}

// bundleDocument is the file form of a Bundle.
type bundleDocument struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Policies    []json.RawMessage `json:"policies"`
	CreatedAt   time.Time         `json:"created_at"`
}

// parseBundle parses a bundle. Its policies get the defaults of JSON
// policy definitions and are tagged with the bundle name and version.
func (l *Loader) parseBundle(filePath string, data []byte) (*Bundle, error) {
	var doc bundleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("bundle %s has no name", filePath)
	}

	bundle := &Bundle{
		Name:        doc.Name,
		Version:     doc.Version,
		Description: doc.Description,
		CreatedAt:   doc.CreatedAt,
	}
	for i, raw := range doc.Policies {
		policy, err := parsePolicy(raw)
		if err != nil {
			return nil, fmt.Errorf("bundle %s policy %d: %w", doc.Name, i, err)
		}
		policy.setSource(filePath)
		policy.Metadata["bundle"] = doc.Name
		policy.Metadata["bundle_version"] = doc.Version
		bundle.Policies = append(bundle.Policies, policy)
	}

	l.logger.Info().
		Str("bundle", bundle.Name).
		Str("version", bundle.Version).
		Int("policies", len(bundle.Policies)).
		Msg("Policy bundle loaded")

	return bundle, nil
}

// parsePolicy parses one JSON policy definition. Policies are enabled
// unless the document says otherwise.
func parsePolicy(data []byte) (Policy, error) {
	policy := Policy{Enabled: true}
	if err := json.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if policy.Name == "" {
		return Policy{}, fmt.Errorf("JSON policy has no name")
	}

	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = time.Now()
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = policy.CreatedAt
	}

	return policy, nil
}

func (p *Policy) setSource(path string) {
	if p.Metadata == nil {
		p.Metadata = make(map[string]interface{})
	}
	p.Metadata["source"] = path
}

// extractDescription joins the first block of comment lines.
func (l *Loader) extractDescription(content string) string {
	var parts []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if comment, ok := strings.CutPrefix(trimmed, "#"); ok {
			comment = strings.TrimSpace(comment)
			if comment != "" && !strings.HasPrefix(comment, "package") {
				parts = append(parts, comment)
			}
			continue
		}
		if trimmed != "" && len(parts) > 0 {
			break
		}
	}
	return strings.Join(parts, " ")
}

// Forget drops cached files so the next load reads them again. Paths that
// were never loaded are ignored.
func (l *Loader) Forget(paths ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, path := range paths {
		delete(l.cache, filepath.Clean(path))
	}
}

// ClearCache clears the policy cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string][]Policy)
	l.logger.Debug().Msg("Policy cache cleared")
}
