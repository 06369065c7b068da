package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/mbedconf/mbedconf/pkg/telemetry"
)

// Engine evaluates Rego policies against resolved configurations.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	metrics         *telemetry.Metrics
	builtinPolicies []Policy
	loader          *Loader
	paths           []string
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records violation counts.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithoutBuiltins starts the engine with no policies.
func WithoutBuiltins() Option {
	return func(e *Engine) {
		e.builtinPolicies = nil
	}
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           inmem.New(),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
		loader:          NewLoader(logger),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Evaluate evaluates every enabled policy against input. Policies that fail
// to evaluate are reported as warnings and do not affect Allowed.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	value, err := ast.InterfaceToValue(input)
	if err != nil {
		return nil, fmt.Errorf("failed to convert policy input: %w", err)
	}

	result := &Result{Allowed: true}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, value)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("target", input.Target).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("Policy %s evaluation failed: %v", name, err))
			continue
		}
		e.record(name, violations)
		result.Violations = append(result.Violations, violations...)
	}

	for _, v := range result.Violations {
		if v.Severity.Blocking() {
			result.Allowed = false
			break
		}
	}
	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(startTime)

	e.logger.Debug().
		Str("target", input.Target).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// record counts violations per severity.
func (e *Engine) record(policy string, violations []Violation) {
	counts := make(map[Severity]int)
	for _, v := range violations {
		counts[v.Severity]++
	}
	for sev, n := range counts {
		e.metrics.RecordPolicyViolations(policy, string(sev), n)
	}
}

// LoadPolicies loads policy files, bundles and directories. The paths are
// kept for ReloadPolicies.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	if err := e.compileAll(ctx, policies); err != nil {
		return err
	}
	e.paths = append(e.paths, paths...)

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

func (e *Engine) compileAll(ctx context.Context, policies []Policy) error {
	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input ast.Value) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalParsedInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		if denySet, ok := result.Expressions[0].Value.([]interface{}); ok {
			for _, d := range denySet {
				violations = append(violations, createViolation(cp.policy, d))
			}
		}
	}
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Subject != violations[j].Subject {
			return violations[i].Subject < violations[j].Subject
		}
		return violations[i].Message < violations[j].Message
	})

	return violations, nil
}

// createViolation creates a Violation from one element of a deny set. The
// element is either a message or an object with message, severity and
// subject keys.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if subject, ok := v["subject"].(string); ok {
			violation.Subject = subject
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it, replacing any
// policy with the same name.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", module.Package.Path.String()).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		p := e.builtinPolicies[i]
		if err := e.compileAndStorePolicy(ctx, &p); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// ReloadPolicies recompiles the built-in policies and reloads every path
// passed to LoadPolicies. Only the changed files are read again; without
// changed files the whole cache is dropped. Enabled flags are reset.
func (e *Engine) ReloadPolicies(ctx context.Context, changed ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(changed) == 0 {
		e.loader.ClearCache()
	} else {
		e.loader.Forget(changed...)
	}

	e.policies = make(map[string]*compiledPolicy)
	if err := e.loadBuiltinPolicies(ctx); err != nil {
		return err
	}
	if len(e.paths) == 0 {
		return nil
	}
	policies, err := e.loader.LoadFromPaths(ctx, e.paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}
	if err := e.compileAll(ctx, policies); err != nil {
		return err
	}

	e.logger.Info().
		Int("count", len(e.policies)).
		Int("changed", len(changed)).
		Msg("Policies reloaded")

	return nil
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
