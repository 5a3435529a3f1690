// Package rules provides the CEL-Go based claim screening engine. Rules
// are admin-configured expressions over claim variables, evaluated
// alongside model scoring so reviewers get explicit reasons next to the
// probability.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine is the CEL-based screening rule engine.
type Engine struct {
	mu              sync.RWMutex
	env             *cel.Env
	compiledRules   map[string]*CompiledRule
	frequencyGetter FrequencyGetter
	maxWorkers      int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// FrequencyGetter returns the number of claims a claimant filed since the
// given time. Wired to the velocity service in production.
type FrequencyGetter func(ctx context.Context, tenantID, claimantID string, since time.Time) (int64, error)

// NewEngine creates a screening engine.
func NewEngine(frequencyGetter FrequencyGetter, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment with claim variables
	env, err := cel.NewEnv(
		cel.Variable("claim", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("premium_amount", cel.DoubleType),
		cel.Variable("claim_to_premium_ratio", cel.DoubleType),
		cel.Variable("category", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("claim_frequency", cel.IntType),
		cel.Variable("days_since_policy_start", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:             env,
		compiledRules:   make(map[string]*CompiledRule),
		frequencyGetter: frequencyGetter,
		maxWorkers:      maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput holds the claim data for rule evaluation.
type EvaluateInput struct {
	TenantID   string
	ClaimID    string
	ClaimantID string
	Category   string
	Amount     float64
	Premium    float64
	Location   string

	// DaysSincePolicyStart is -1 when either date is unknown.
	DaysSincePolicyStart int

	// FrequencyWindow bounds the claim-frequency lookup; zero disables it.
	FrequencyWindow time.Duration

	AdditionalData map[string]any
}

// DefaultFrequencyWindow is the lookback FromClaim applies for the
// claim_frequency variable.
const DefaultFrequencyWindow = 30 * 24 * time.Hour

// FromClaim builds an evaluation input from a claim.
func FromClaim(claim *domain.Claim) *EvaluateInput {
	days := -1
	if claim.PolicyStartDate != nil && claim.IncidentDate != nil {
		d := int(claim.IncidentDate.Sub(*claim.PolicyStartDate).Hours() / 24)
		if d >= 0 {
			days = d
		}
	}
	return &EvaluateInput{
		TenantID:             claim.TenantID,
		ClaimID:              claim.ID,
		ClaimantID:           claim.ClaimantID,
		Category:             string(claim.Category),
		Amount:               claim.ClaimAmount,
		Premium:              claim.PremiumAmount,
		Location:             claim.IncidentLocation,
		DaysSincePolicyStart: days,
		FrequencyWindow:      DefaultFrequencyWindow,
	}
}

// EvaluateAll evaluates all loaded rules in parallel.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.RuleResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	// Claim frequency from the velocity service if wired
	var frequency int64
	if e.frequencyGetter != nil && input.FrequencyWindow > 0 {
		since := time.Now().UTC().Add(-input.FrequencyWindow)
		count, err := e.frequencyGetter(ctx, input.TenantID, input.ClaimantID, since)
		if err == nil {
			frequency = count
		}
	}

	ratio := 5.0
	if input.Premium > 0 {
		ratio = input.Amount / input.Premium
		if ratio > 50 {
			ratio = 50
		}
	}

	activation := map[string]any{
		"claim": map[string]any{
			"id":          input.ClaimID,
			"claimant_id": input.ClaimantID,
			"category":    input.Category,
			"amount":      input.Amount,
			"premium":     input.Premium,
			"location":    input.Location,
		},
		"amount":                  input.Amount,
		"premium_amount":          input.Premium,
		"claim_to_premium_ratio":  ratio,
		"category":                input.Category,
		"location":                input.Location,
		"claim_frequency":         frequency,
		"days_since_policy_start": input.DaysSincePolicyStart,
	}

	// Merge additional data
	for k, v := range input.AdditionalData {
		activation[k] = v
	}

	// Parallel evaluation using worker pool pattern
	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(r, activation, input)
		}(i, rule)
	}

	wg.Wait()

	return results, nil
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any, input *EvaluateInput) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID:   rule.Config.ID,
		TenantID: input.TenantID,
		ClaimID:  input.ClaimID,
		Weight:   rule.Config.Weight,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.SubRuleRef = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	score := toScore(out)
	result.Score = score

	result.SubRuleRef, result.Reason = matchBand(score, rule.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the matching band for a score.
// Bands are evaluated in order. Use lower inclusive, upper exclusive,
// except when upper is nil (meaning infinity).
func matchBand(score float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		lower := 0.0
		hasUpper := band.UpperLimit != nil
		upper := float64(1e9) // effectively infinity

		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if hasUpper {
			upper = *band.UpperLimit
		}

		// Match: lower <= score < upper (or lower <= score if no upper bound)
		if score >= lower && (!hasUpper || score < upper) {
			return band.SubRuleRef, band.Reason
		}
	}

	// Default to pass if no band matches
	return domain.RuleOutcomePass, "no matching band"
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

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

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
