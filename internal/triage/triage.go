// Package triage routes an assessed claim to its next step. It combines
// the model's risk category with screening-rule outcomes and the anomaly
// flag to produce a single verdict with the reasons behind it.
package triage

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Action is the recommended routing for an assessed claim.
type Action string

const (
	// ActionAutoClear means nothing flagged; the claim can proceed.
	ActionAutoClear Action = "auto_clear"

	// ActionReview means a human should look before any payout.
	ActionReview Action = "review"

	// ActionEscalate means strong fraud signals; raise an alert.
	ActionEscalate Action = "escalate"
)

// Verdict is the routing outcome for one assessment.
type Verdict struct {
	Action Action `json:"action"`

	// RulePressure is the weight share of triggered rules in [0,1].
	RulePressure float64 `json:"rulePressure"`

	// RulesTriggered counts fail and review outcomes.
	RulesTriggered int `json:"rulesTriggered"`

	// HardFail is set when any rule returned a fail outcome.
	HardFail bool `json:"hardFail"`

	Reasons []string `json:"reasons,omitempty"`
}

// Resolver turns assessments into verdicts.
type Resolver struct {
	// ReviewPressure is the rule pressure at which a claim is routed to
	// review even when every individual outcome is only a review band.
	ReviewPressure float64
}

// NewResolver creates a resolver with default settings.
func NewResolver() *Resolver {
	return &Resolver{ReviewPressure: 0.5}
}

// Resolve produces the verdict for an assessment. The model's category
// sets the floor; rule outcomes and the anomaly flag can only push the
// action up, never down.
func (r *Resolver) Resolve(assessment *domain.RiskAssessment) Verdict {
	v := Verdict{Action: ActionAutoClear}

	triggeredWeight := 0.0
	totalWeight := 0.0
	for _, res := range assessment.RuleResults {
		weight := res.Weight
		if weight <= 0 {
			weight = 1.0
		}
		totalWeight += weight

		switch res.SubRuleRef {
		case domain.RuleOutcomeFail:
			v.HardFail = true
			v.RulesTriggered++
			triggeredWeight += weight
		case domain.RuleOutcomeReview:
			v.RulesTriggered++
			triggeredWeight += weight
		}
		if res.SubRuleRef == domain.RuleOutcomeFail || res.SubRuleRef == domain.RuleOutcomeReview {
			if res.Reason != "" {
				v.Reasons = append(v.Reasons, res.Reason)
			}
		}
	}
	if totalWeight > 0 {
		v.RulePressure = triggeredWeight / totalWeight
	}

	switch {
	case v.HardFail || assessment.RiskCategory == domain.RiskHigh:
		v.Action = ActionEscalate
	case v.RulesTriggered > 0 || v.RulePressure >= r.ReviewPressure ||
		assessment.RiskCategory == domain.RiskMedium || assessment.AnomalyScore >= 1:
		v.Action = ActionReview
	}

	return v
}

// NeedsReview reports whether the verdict should hold the claim for a
// human before any payout.
func NeedsReview(v Verdict) bool {
	return v.Action != ActionAutoClear
}
