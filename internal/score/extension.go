package score

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Extension is the CEL-based engine for operator-defined scoring rules.
// Rules add capped point contributions on top of the fixed heuristics;
// they can raise a score but never flip an explicit upstream verdict.
type Extension struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*compiledRule
}

type compiledRule struct {
	config  *domain.ScoreRule
	program cel.Program
}

// NewExtension creates an extension engine with the transaction event
// vocabulary bound into the CEL environment.
func NewExtension() (*Extension, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("category", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		// hour is -1 when the event carries no timestamp
		cel.Variable("hour", cel.IntType),
		// distance_km is -1.0 when coordinates are incomplete
		cel.Variable("distance_km", cel.DoubleType),
		cel.Variable("city_pop", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Extension{
		env:           env,
		compiledRules: make(map[string]*compiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Extension) ValidateRule(cfg *domain.ScoreRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Extension) LoadRule(cfg *domain.ScoreRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads all enabled rules.
func (e *Extension) LoadRules(configs []*domain.ScoreRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears existing rules and loads new ones. Enables
// hot-reloading from the repository.
func (e *Extension) ReloadRules(configs []*domain.ScoreRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*compiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Extension) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// LoadedRules returns the currently loaded rule configurations.
func (e *Extension) LoadedRules() []*domain.ScoreRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.ScoreRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.config)
	}
	return rules
}

// Points evaluates all loaded rules against a transaction and returns
// the total extra points. A rule that errors contributes nothing; the
// error is logged and the remaining rules still run.
func (e *Extension) Points(in Input, raw domain.RawEvent) int {
	e.mu.RLock()
	rules := make([]*compiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return 0
	}

	hour := int64(-1)
	if h, ok := in.hour(); ok {
		hour = int64(h)
	}
	distance := -1.0
	if in.DistanceKm != nil {
		distance = *in.DistanceKm
	}
	cityPop, _ := raw.Int("city_pop")
	merchant, _ := raw.Str("merchant")

	txMap := map[string]any(raw)
	if txMap == nil {
		txMap = map[string]any{}
	}

	activation := map[string]any{
		"tx":          txMap,
		"amount":      in.Amount,
		"category":    in.Category,
		"merchant":    merchant,
		"hour":        hour,
		"distance_km": distance,
		"city_pop":    cityPop,
	}

	total := 0
	for _, rule := range rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			slog.Warn("score rule evaluation failed",
				"rule_id", rule.config.ID,
				"error", err,
			)
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			points := rule.config.Points
			if points > domain.MaxRulePoints {
				points = domain.MaxRulePoints
			}
			if points > 0 {
				total += points
			}
		}
	}

	return total
}

// Close cleans up the engine.
func (e *Extension) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*compiledRule)
	return nil
}

func (e *Extension) compileRule(cfg *domain.ScoreRule) (*compiledRule, error) {
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

	return &compiledRule{
		config:  cfg,
		program: program,
	}, nil
}
