package rules

import "github.com/opensource-finance/kestrel/internal/domain"

func f(v float64) *float64 { return &v }

// BuiltinRules returns the default screening rules seeded for a tenant.
// Admins can tune or disable them via the rules API; amounts are in the
// same currency units as claim amounts.
func BuiltinRules(tenantID string) []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "excessive-claim-ratio",
			TenantID:    tenantID,
			Name:        "Excessive claim-to-premium ratio",
			Description: "Claim amount far out of proportion to the premium paid",
			Version:     "1.0",
			Expression:  "claim_to_premium_ratio",
			Bands: []domain.RuleBand{
				{UpperLimit: f(10), SubRuleRef: domain.RuleOutcomePass, Reason: "ratio within normal range"},
				{LowerLimit: f(10), UpperLimit: f(25), SubRuleRef: domain.RuleOutcomeReview, Reason: "claim exceeds 10x premium"},
				{LowerLimit: f(25), SubRuleRef: domain.RuleOutcomeFail, Reason: "claim exceeds 25x premium"},
			},
			Weight:  1.5,
			Enabled: true,
		},
		{
			ID:          "vehicle-amount-cap",
			TenantID:    tenantID,
			Name:        "Vehicle claim amount cap",
			Description: "Vehicle claims above the suspicious amount threshold",
			Version:     "1.0",
			Expression:  `category == "vehicle" && amount > 500000.0`,
			Bands: []domain.RuleBand{
				{UpperLimit: f(1), SubRuleRef: domain.RuleOutcomePass, Reason: "amount below vehicle threshold"},
				{LowerLimit: f(1), SubRuleRef: domain.RuleOutcomeReview, Reason: "vehicle claim above 500000"},
			},
			Weight:  1.0,
			Enabled: true,
		},
		{
			ID:          "health-amount-cap",
			TenantID:    tenantID,
			Name:        "Health claim amount cap",
			Description: "Health claims above the suspicious amount threshold",
			Version:     "1.0",
			Expression:  `category == "health" && amount > 1000000.0`,
			Bands: []domain.RuleBand{
				{UpperLimit: f(1), SubRuleRef: domain.RuleOutcomePass, Reason: "amount below health threshold"},
				{LowerLimit: f(1), SubRuleRef: domain.RuleOutcomeReview, Reason: "health claim above 1000000"},
			},
			Weight:  1.0,
			Enabled: true,
		},
		{
			ID:          "fresh-policy-claim",
			TenantID:    tenantID,
			Name:        "Claim on a fresh policy",
			Description: "Incident within 30 days of policy purchase",
			Version:     "1.0",
			Expression:  "days_since_policy_start >= 0 && days_since_policy_start <= 30",
			Bands: []domain.RuleBand{
				{UpperLimit: f(1), SubRuleRef: domain.RuleOutcomePass, Reason: "policy age acceptable"},
				{LowerLimit: f(1), SubRuleRef: domain.RuleOutcomeReview, Reason: "claim filed within 30 days of policy start"},
			},
			Weight:  1.2,
			Enabled: true,
		},
		{
			ID:          "frequent-claimant",
			TenantID:    tenantID,
			Name:        "Frequent claimant",
			Description: "More than two prior claims in the lookback window",
			Version:     "1.0",
			Expression:  "claim_frequency",
			Bands: []domain.RuleBand{
				{UpperLimit: f(3), SubRuleRef: domain.RuleOutcomePass, Reason: "claim frequency normal"},
				{LowerLimit: f(3), UpperLimit: f(5), SubRuleRef: domain.RuleOutcomeReview, Reason: "claimant filed 3 or more recent claims"},
				{LowerLimit: f(5), SubRuleRef: domain.RuleOutcomeFail, Reason: "claimant filed 5 or more recent claims"},
			},
			Weight:  1.3,
			Enabled: true,
		},
	}
}
