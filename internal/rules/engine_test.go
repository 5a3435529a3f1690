package rules

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(nil, 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "test-rule-001",
		Name:       "Test Rule",
		Expression: "amount > 100000.0",
		Bands:      []domain.RuleBand{},
		Weight:     1.0,
		Enabled:    true,
	}

	err := engine.LoadRule(rule)
	if err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "invalid-rule",
		Name:       "Invalid Rule",
		Expression: "this is not valid CEL !!!",
		Enabled:    true,
	}

	err := engine.LoadRule(rule)
	if err == nil {
		t.Error("expected error for invalid CEL expression")
	}
}

func TestValidateRuleDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "validate-only",
		Expression: "amount > 0.0",
		Enabled:    true,
	}
	if err := engine.ValidateRule(rule); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("validate loaded the rule, count = %d", engine.RulesCount())
	}
}

func TestEvaluateSimpleRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	zero := 0.0
	one := 1.0

	rule := &domain.RuleConfig{
		ID:         "amount-check",
		Name:       "Amount Check",
		Expression: "amount > 200000.0 ? 1.0 : 0.0",
		Bands: []domain.RuleBand{
			{LowerLimit: &zero, UpperLimit: &one, SubRuleRef: domain.RuleOutcomePass, Reason: "Low amount"},
			{LowerLimit: &one, UpperLimit: nil, SubRuleRef: domain.RuleOutcomeFail, Reason: "High amount"},
		},
		Weight:  1.0,
		Enabled: true,
	}

	engine.LoadRule(rule)

	ctx := context.Background()

	// Low amount passes
	input := &EvaluateInput{
		TenantID: "tenant-001",
		ClaimID:  "claim-001",
		Category: "vehicle",
		Amount:   50000.0,
	}

	results, err := engine.EvaluateAll(ctx, input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	if results[0].Score != 0.0 {
		t.Errorf("expected score 0.0 for low amount, got %.2f", results[0].Score)
	}
	if results[0].SubRuleRef != domain.RuleOutcomePass {
		t.Errorf("expected PASS, got %s", results[0].SubRuleRef)
	}
	if results[0].ClaimID != "claim-001" {
		t.Errorf("result claim id = %q", results[0].ClaimID)
	}

	// High amount fails
	input.Amount = 900000.0
	results, _ = engine.EvaluateAll(ctx, input)

	if results[0].Score != 1.0 {
		t.Errorf("expected score 1.0 for high amount, got %.2f", results[0].Score)
	}
	if results[0].SubRuleRef != domain.RuleOutcomeFail {
		t.Errorf("expected FAIL, got %s", results[0].SubRuleRef)
	}
}

func TestEvaluateRatioRule(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	ten := 10.0
	twentyFive := 25.0

	rule := &domain.RuleConfig{
		ID:         "ratio-check",
		Expression: "claim_to_premium_ratio",
		Bands: []domain.RuleBand{
			{UpperLimit: &ten, SubRuleRef: domain.RuleOutcomePass, Reason: "normal ratio"},
			{LowerLimit: &ten, UpperLimit: &twentyFive, SubRuleRef: domain.RuleOutcomeReview, Reason: "elevated ratio"},
			{LowerLimit: &twentyFive, SubRuleRef: domain.RuleOutcomeFail, Reason: "extreme ratio"},
		},
		Weight:  1.0,
		Enabled: true,
	}
	engine.LoadRule(rule)

	tests := []struct {
		name    string
		amount  float64
		premium float64
		want    string
	}{
		{"normal", 50000, 20000, domain.RuleOutcomePass},
		{"elevated", 300000, 20000, domain.RuleOutcomeReview},
		{"extreme", 900000, 20000, domain.RuleOutcomeFail},
		{"zero premium defaults to 5", 900000, 0, domain.RuleOutcomePass},
		{"capped at 50", 5000000, 10, domain.RuleOutcomeFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
				TenantID: "t1",
				ClaimID:  "c1",
				Amount:   tt.amount,
				Premium:  tt.premium,
			})
			if err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}
			if results[0].SubRuleRef != tt.want {
				t.Errorf("outcome = %s (score %.2f), want %s",
					results[0].SubRuleRef, results[0].Score, tt.want)
			}
		})
	}
}

func TestEvaluateWithClaimFrequency(t *testing.T) {
	var calls atomic.Int64
	getter := func(ctx context.Context, tenantID, claimantID string, since time.Time) (int64, error) {
		calls.Add(1)
		return 4, nil
	}

	engine, _ := NewEngine(getter, 5)
	defer engine.Close()

	three := 3.0
	rule := &domain.RuleConfig{
		ID:         "frequency-check",
		Expression: "claim_frequency",
		Bands: []domain.RuleBand{
			{UpperLimit: &three, SubRuleRef: domain.RuleOutcomePass, Reason: "normal"},
			{LowerLimit: &three, SubRuleRef: domain.RuleOutcomeReview, Reason: "frequent claimant"},
		},
		Enabled: true,
	}
	engine.LoadRule(rule)

	results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
		TenantID:        "t1",
		ClaimID:         "c1",
		ClaimantID:      "u1",
		FrequencyWindow: 30 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("frequency getter called %d times, want 1", calls.Load())
	}
	if results[0].Score != 4 || results[0].SubRuleRef != domain.RuleOutcomeReview {
		t.Errorf("result = %+v", results[0])
	}

	// No window disables the lookup.
	calls.Store(0)
	engine.EvaluateAll(context.Background(), &EvaluateInput{TenantID: "t1", ClaimID: "c2"})
	if calls.Load() != 0 {
		t.Errorf("getter called without a window")
	}
}

func TestFromClaimConsultsFrequencyGetter(t *testing.T) {
	var calls atomic.Int64
	getter := func(ctx context.Context, tenantID, claimantID string, since time.Time) (int64, error) {
		calls.Add(1)
		if claimantID != "claimant-9" {
			t.Errorf("claimant = %s, want claimant-9", claimantID)
		}
		if time.Since(since) < 29*24*time.Hour {
			t.Errorf("lookback since %v shorter than the default window", since)
		}
		return 6, nil
	}

	engine, _ := NewEngine(getter, 5)
	defer engine.Close()

	for _, rc := range BuiltinRules("t1") {
		if rc.ID == "frequent-claimant" {
			if err := engine.LoadRule(rc); err != nil {
				t.Fatalf("load: %v", err)
			}
		}
	}
	if engine.RulesCount() != 1 {
		t.Fatalf("rules loaded = %d, want 1", engine.RulesCount())
	}

	claim := &domain.Claim{
		ID:            "c9",
		TenantID:      "t1",
		ClaimantID:    "claimant-9",
		Category:      domain.CategoryVehicle,
		ClaimAmount:   9000,
		PremiumAmount: 3000,
	}

	input := FromClaim(claim)
	if input.FrequencyWindow != DefaultFrequencyWindow {
		t.Fatalf("window = %v, want %v", input.FrequencyWindow, DefaultFrequencyWindow)
	}

	results, err := engine.EvaluateAll(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("frequency getter called %d times, want 1", calls.Load())
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Score != 6 || results[0].SubRuleRef != domain.RuleOutcomeFail {
		t.Errorf("result = %+v, want score 6 and fail outcome", results[0])
	}
}

func TestEvaluateClaimMapVariable(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "map-access",
		Expression: `claim.category == "health"`,
		Bands:      []domain.RuleBand{},
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("load: %v", err)
	}

	results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
		TenantID: "t1",
		ClaimID:  "c1",
		Category: "health",
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if results[0].Score != 1.0 {
		t.Errorf("score = %v, want 1.0", results[0].Score)
	}
}

func TestEvaluateManyRulesParallel(t *testing.T) {
	engine, _ := NewEngine(nil, 4)
	defer engine.Close()

	for i := 0; i < 20; i++ {
		rule := &domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%03d", i),
			Expression: fmt.Sprintf("amount > %d.0", i*10000),
			Bands:      []domain.RuleBand{},
			Enabled:    true,
		}
		if err := engine.LoadRule(rule); err != nil {
			t.Fatalf("load rule %d: %v", i, err)
		}
	}

	results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
		TenantID: "t1",
		ClaimID:  "c1",
		Amount:   95000,
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 20 {
		t.Fatalf("got %d results, want 20", len(results))
	}
	for _, r := range results {
		if r.RuleID == "" {
			t.Error("result missing rule id")
		}
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "old", Expression: "amount > 0.0", Enabled: true})

	err := engine.ReloadRules([]*domain.RuleConfig{
		{ID: "new-1", Expression: "amount > 100.0", Enabled: true},
		{ID: "new-2", Expression: "amount > 200.0", Enabled: true},
		{ID: "disabled", Expression: "amount > 300.0", Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules after reload, got %d", engine.RulesCount())
	}
}

func TestBuiltinRulesCompile(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()

	if err := engine.LoadRules(BuiltinRules("tenant-001")); err != nil {
		t.Fatalf("builtin rules failed to load: %v", err)
	}
	if engine.RulesCount() != 5 {
		t.Errorf("loaded %d builtin rules, want 5", engine.RulesCount())
	}
}

func TestBuiltinRatioOutcomes(t *testing.T) {
	engine, _ := NewEngine(nil, 5)
	defer engine.Close()
	engine.LoadRules(BuiltinRules("tenant-001"))

	// A wildly disproportionate vehicle claim trips both the ratio and the
	// amount cap rules.
	results, err := engine.EvaluateAll(context.Background(), &EvaluateInput{
		TenantID:             "tenant-001",
		ClaimID:              "c1",
		Category:             "vehicle",
		Amount:               600000,
		Premium:              10000,
		DaysSincePolicyStart: 400,
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	outcomes := map[string]string{}
	for _, r := range results {
		outcomes[r.RuleID] = r.SubRuleRef
	}
	if outcomes["excessive-claim-ratio"] != domain.RuleOutcomeFail {
		t.Errorf("ratio rule = %s, want fail (ratio 60 capped at 50)", outcomes["excessive-claim-ratio"])
	}
	if outcomes["vehicle-amount-cap"] != domain.RuleOutcomeReview {
		t.Errorf("amount cap = %s, want review", outcomes["vehicle-amount-cap"])
	}
	if outcomes["fresh-policy-claim"] != domain.RuleOutcomePass {
		t.Errorf("fresh policy = %s, want pass", outcomes["fresh-policy-claim"])
	}
}
