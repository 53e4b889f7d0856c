// Package rules provides the CEL-Go based custom alert rule engine.
//
// Custom rules run after the built-in detectors. Each rule is a boolean CEL
// expression over the detector summary for one customer; a matching rule
// contributes an extra pattern result before aggregation.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates custom alert rules.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledRule
}

type compiledRule struct {
	config  *domain.RuleConfig
	program cel.Program
}

// NewEngine creates a rule engine with the detector summary environment.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		// Total risk points contributed by the built-in detectors.
		cel.Variable("risk_points", cel.DoubleType),
		// Names of the detectors that fired, in evaluation order.
		cel.Variable("detected", cel.ListType(cel.StringType)),
		// Per-detector details, keyed by pattern name.
		cel.Variable("details", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*compiledRule),
	}, nil
}

// ValidateRule compiles and validates a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return &domain.ValidationError{Field: "rule", Reason: "must not be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a single rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled[cfg.ID] = compiled
	return nil
}

// ReloadRules atomically replaces the loaded rule set with the enabled rules
// from configs. This enables hot-reloading from the database.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	next := make(map[string]*compiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = next
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the currently loaded rule configurations.
func (e *Engine) LoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.RuleConfig, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, c.config)
	}
	return out
}

// EvaluateAll runs every loaded rule against the detector summary and returns
// one pattern result per matching rule. A rule whose evaluation fails at
// runtime contributes a non-detected result carrying the error, so bad rules
// are visible in the audit trail without aborting the verdict.
func (e *Engine) EvaluateAll(detectorResults []domain.PatternResult) []domain.PatternResult {
	e.mu.RLock()
	loaded := make([]*compiledRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		loaded = append(loaded, c)
	}
	e.mu.RUnlock()

	if len(loaded) == 0 {
		return nil
	}

	totalPoints := 0.0
	var detected []string
	details := make(map[string]any, len(detectorResults))
	for _, r := range detectorResults {
		totalPoints += r.RiskPoints
		if r.Detected {
			detected = append(detected, r.Name)
		}
		details[r.Name] = r.Details
	}
	if detected == nil {
		detected = []string{}
	}

	activation := map[string]any{
		"risk_points": totalPoints,
		"detected":    detected,
		"details":     details,
	}

	var out []domain.PatternResult
	for _, rule := range loaded {
		val, _, err := rule.program.Eval(activation)
		if err != nil {
			out = append(out, domain.PatternResult{
				Name:        rule.config.Name,
				Detected:    false,
				Confidence:  0,
				Details:     map[string]any{"error": err.Error()},
				Description: rule.config.Description,
			})
			continue
		}
		if val != types.True {
			continue
		}
		out = append(out, domain.PatternResult{
			Name:       rule.config.Name,
			Detected:   true,
			RiskPoints: rule.config.RiskPoints,
			Confidence: rule.config.Confidence,
			Details: map[string]any{
				"rule_id":    rule.config.ID,
				"expression": rule.config.Expression,
			},
			Description: rule.config.Description,
		})
	}
	return out
}

// Close clears the loaded rule set.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*compiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*compiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &compiledRule{config: cfg, program: program}, nil
}
