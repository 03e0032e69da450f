package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/netops/pkg/engine"
)

// Engine evaluates Rego admission policies against operations. It
// implements operations.Admitter.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
	now      func() time.Time
}

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates an engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		now:      time.Now,
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

// Admit denies op with a configuration error when a blocking violation is
// found. Non-blocking violations are logged.
func (e *Engine) Admit(ctx context.Context, op *engine.Operation) error {
	decision, err := e.Evaluate(ctx, op)
	if err != nil {
		if ctx.Err() != nil {
			return engine.NewCancelledError(err).WithTarget(op.TargetID)
		}
		return engine.NewConfigurationError("policy evaluation failed", err).
			WithCode(engine.ErrCodePolicyDenied).
			WithTarget(op.TargetID)
	}

	logger := e.logger.With().
		Str("operation_id", op.ID).
		Str("target", op.TargetID).
		Logger()

	for _, w := range decision.Warnings {
		logger.Warn().Msg(w)
	}
	for _, v := range decision.Violations {
		if !v.Severity.Blocking() {
			logger.Warn().Str("policy", v.Policy).Str("severity", string(v.Severity)).Msg(v.Message)
		}
	}

	if decision.Allowed {
		return nil
	}

	blocking := decision.Blocking()
	msgs := make([]string, 0, len(blocking))
	names := make([]string, 0, len(blocking))
	for _, v := range blocking {
		msgs = append(msgs, v.Message)
		names = append(names, v.Policy)
	}
	return engine.NewConfigurationError("operation denied by policy: "+strings.Join(msgs, "; "), nil).
		WithCode(engine.ErrCodePolicyDenied).
		WithTarget(op.TargetID).
		WithDetail("policies", names)
}

// Evaluate runs every enabled policy against op.
func (e *Engine) Evaluate(ctx context.Context, op *engine.Operation) (*Decision, error) {
	if op == nil {
		return nil, fmt.Errorf("operation is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	startTime := e.now()
	input := NewInput(op)

	var violations []Violation
	var warnings []string

	for _, cp := range e.sorted() {
		if !cp.policy.Enabled {
			continue
		}

		found, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("operation_id", op.ID).
				Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("Policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		violations = append(violations, found...)
	}

	allowed := true
	for i := range violations {
		if violations[i].Severity.Blocking() {
			allowed = false
			break
		}
	}

	e.logger.Debug().
		Str("operation_id", op.ID).
		Int("violations", len(violations)).
		Dur("duration", e.now().Sub(startTime)).
		Msg("Operation policy evaluation completed")

	return &Decision{
		Allowed:     allowed,
		Violations:  violations,
		Warnings:    warnings,
		EvaluatedAt: e.now(),
	}, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// createViolation creates a Violation from one member of a deny set.
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
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compile parses a policy and prepares its deny query.
func (e *Engine) compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return nil, fmt.Errorf("policy %s is empty", policy.Name)
	}

	query := module.Package.Path.String() + ".deny"
	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(query),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityError
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("query", query).
		Msg("Policy compiled successfully")

	return &compiledPolicy{
		policy:   policy,
		query:    prepared,
		compiled: e.now(),
	}, nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := BuiltinPolicies()
	for i := range builtins {
		p := builtins[i]
		p.LoadedAt = e.now()
		cp, err := e.compile(ctx, &p)
		if err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
		e.policies[p.Name] = cp
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// Replace compiles policies and swaps them in for every non-builtin policy.
// Nothing changes when any of them fails to compile.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		if p.Name == "" {
			return fmt.Errorf("policy from %s has no name", p.Source)
		}
		if _, dup := compiled[p.Name]; dup {
			return fmt.Errorf("duplicate policy name %s", p.Name)
		}
		p.Builtin = false
		cp, err := e.compile(ctx, &p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		if existing, ok := e.policies[name]; ok && existing.policy.Builtin {
			e.logger.Warn().Str("policy", name).Msg("Policy overrides a built-in policy")
		}
		e.policies[name] = cp
	}

	e.logger.Info().
		Int("count", len(compiled)).
		Msg("Policies loaded successfully")

	return nil
}

// LoadPolicies reads policy files from paths and replaces the loaded set.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.Replace(ctx, policies)
}

// Watch reloads the policies under paths whenever they change, until ctx is
// done.
func (e *Engine) Watch(ctx context.Context, paths []string) (*Loader, error) {
	loader := NewLoader(e.logger)
	err := loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.Replace(ctx, policies)
	})
	if err != nil {
		return nil, err
	}
	return loader, nil
}

// SetDevices publishes the configured device IDs as data.netops.devices.
func (e *Engine) SetDevices(ctx context.Context, ids []string) error {
	devices := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, id)
	}

	txn, err := e.store.NewTransaction(ctx, storage.WriteParams)
	if err != nil {
		return fmt.Errorf("failed to open policy data transaction: %w", err)
	}
	value := map[string]interface{}{"devices": devices}
	if err := e.store.Write(ctx, txn, storage.AddOp, storage.MustParsePath("/netops"), value); err != nil {
		e.store.Abort(ctx, txn)
		return fmt.Errorf("failed to write policy data: %w", err)
	}
	if err := e.store.Commit(ctx, txn); err != nil {
		return fmt.Errorf("failed to commit policy data: %w", err)
	}

	e.logger.Debug().Int("devices", len(ids)).Msg("Policy device inventory updated")
	return nil
}

// sorted returns the compiled policies by name. Callers hold mu.
func (e *Engine) sorted() []*compiledPolicy {
	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].policy.Name < out[j].policy.Name })
	return out
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sorted := e.sorted()
	policies := make([]Policy, 0, len(sorted))
	for _, cp := range sorted {
		policies = append(policies, *cp.policy)
	}
	return policies
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

	if enabled {
		e.logger.Info().Str("policy", name).Msg("Policy enabled")
	} else {
		e.logger.Info().Str("policy", name).Msg("Policy disabled")
	}
	return nil
}
