package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/stackmgr/pkg/bundle"
	"github.com/openfroyo/stackmgr/pkg/engine"
)

// Engine evaluates admission policies against bundle manifests. It
// implements bundle.Admitter.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

var _ bundle.Admitter = (*Engine)(nil)

// NewEngine creates an engine holding the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "admission").Logger(),
	}
	if err := e.install(context.Background(), BuiltinPolicies()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

// LoadPolicies compiles the policies found under paths and adds them to
// the engine.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.install(ctx, policies)
}

// Replace drops every non built-in policy and installs policies instead.
// Nothing changes when one of them fails to compile.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	compiled, err := compileAll(ctx, append(BuiltinPolicies(), policies...))
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = compiled
	e.logger.Info().Int("count", len(compiled)).Msg("Admission policies replaced")
	return nil
}

func (e *Engine) install(ctx context.Context, policies []Policy) error {
	compiled, err := compileAll(ctx, policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, cp := range compiled {
		e.policies[name] = cp
	}
	e.logger.Debug().Int("count", len(compiled)).Msg("Admission policies installed")
	return nil
}

func compileAll(ctx context.Context, policies []Policy) (map[string]*compiledPolicy, error) {
	out := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := compilePolicy(ctx, &policies[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		out[policies[i].Name] = cp
	}
	return out, nil
}

// compilePolicy parses the module and prepares a query for its deny set.
func compilePolicy(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}
	return &compiledPolicy{policy: p, query: query}, nil
}

// Evaluate runs every enabled policy against the manifest in name order.
func (e *Engine) Evaluate(ctx context.Context, m *bundle.Manifest) (*Result, error) {
	start := time.Now()
	input, err := manifestInput(m)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	names := make([]string, 0, len(e.policies))
	for name, cp := range e.policies {
		if cp.policy.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	policies := make([]*compiledPolicy, 0, len(names))
	for _, name := range names {
		policies = append(policies, e.policies[name])
	}
	e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedPolicies: names}
	for _, cp := range policies {
		violations, err := evaluate(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", cp.policy.Name).Str("bundle", m.Name).Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("Policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
			}
		}
		result.Violations = append(result.Violations, violations...)
	}
	result.Duration = time.Since(start)

	e.logger.Debug().
		Str("bundle", m.Name).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Admission evaluation completed")
	return result, nil
}

// Admit rejects the bundle with BUNDLE_POLICY_VIOLATION when a blocking
// violation is found. Other violations are logged.
func (e *Engine) Admit(ctx context.Context, m *bundle.Manifest) error {
	result, err := e.Evaluate(ctx, m)
	if err != nil {
		return err
	}

	var blocking []string
	for _, v := range result.Violations {
		if v.Severity.Blocking() {
			blocking = append(blocking, fmt.Sprintf("%s: %s", v.Policy, v.Message))
			continue
		}
		e.logger.Warn().Str("policy", v.Policy).Str("bundle", m.Name).Msg(v.Message)
	}
	if result.Allowed {
		return nil
	}
	return engine.Errorf(engine.ErrCodeBundlePolicy, "Bundle %q %s rejected by admission policies: %s",
		m.Name, m.Version, strings.Join(blocking, "; ")).WithArgs(blocking...)
}

func evaluate(ctx context.Context, cp *compiledPolicy, input map[string]interface{}) ([]Violation, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, r := range rs {
		for _, expr := range r.Expressions {
			set, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range set {
				violations = append(violations, toViolation(cp.policy, d))
			}
		}
	}
	sort.SliceStable(violations, func(i, j int) bool { return violations[i].Message < violations[j].Message })
	return violations, nil
}

func toViolation(p *Policy, value interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}
	switch d := value.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if proto, ok := d["prototype"].(string); ok {
			v.Prototype = proto
		}
	default:
		v.Message = fmt.Sprintf("%v", value)
	}
	return v
}

// manifestInput turns the manifest into the JSON document policies see.
func manifestInput(m *bundle.Manifest) (map[string]interface{}, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	var input map[string]interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return input, nil
}

// ListPolicies returns all policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
