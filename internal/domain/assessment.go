package domain

import (
	"time"
)

// RiskAssessment is the complete scoring result for a single claim.
type RiskAssessment struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	ClaimID    string `json:"claimId"`

	// FraudProbability is the model-estimated likelihood in [0,1].
	FraudProbability float64 `json:"fraudProbability"`

	// RiskScore is the probability scaled to 0-100 for display.
	RiskScore float64 `json:"riskScore"`

	// RiskCategory is high/medium/low against the decision threshold.
	RiskCategory RiskCategory `json:"riskCategory"`

	// Factors that pushed the score up or down, top 5 each.
	PositiveFactors []Factor `json:"positiveFactors"`
	NegativeFactors []Factor `json:"negativeFactors"`

	// AnomalyScore is the unsupervised outlier signal: 0.0 normal, 1.0 anomalous.
	AnomalyScore float64 `json:"anomalyScore"`

	// Threshold applied for this call (caller-adjustable, not baked into the model).
	Threshold float64 `json:"threshold"`

	// Screening-rule results evaluated alongside the model, if any.
	RuleResults []RuleResult `json:"ruleResults,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Processing metadata
	Metadata AssessmentMetadata `json:"metadata"`
}

// Factor is one feature's contribution to the fraud score.
type Factor struct {
	Feature     string  `json:"feature"`
	Value       float64 `json:"value"`
	Importance  float64 `json:"importance"`
	// Contribution is the signed value*importance product.
	Contribution float64 `json:"contribution"`
	// Percent is |contribution| as a share of total absolute contribution.
	Percent     float64 `json:"percent"`
	Description string  `json:"description"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID       string `json:"traceId"`
	ExtractMs     int64  `json:"extractMs"`
	ScoreMs       int64  `json:"scoreMs"`
	TotalMs       int64  `json:"totalMs"`
	ModelName     string `json:"modelName"`
	EngineVersion string `json:"engineVersion"`
}

// AssessmentResponse is the API response for a claim assessment.
type AssessmentResponse struct {
	AssessmentID     string             `json:"assessmentId"`
	ClaimID          string             `json:"claimId"`
	TenantID         string             `json:"tenantId"`
	FraudProbability float64            `json:"fraudProbability"`
	RiskScore        float64            `json:"riskScore"`
	RiskCategory     RiskCategory       `json:"riskCategory"`
	PositiveFactors  []Factor           `json:"positiveFactors"`
	NegativeFactors  []Factor           `json:"negativeFactors"`
	AnomalyScore     float64            `json:"anomalyScore"`
	Reasons          []string           `json:"reasons,omitempty"`
	Metadata         AssessmentMetadata `json:"metadata"`
}

// ToResponse converts a RiskAssessment to an API response.
func (a *RiskAssessment) ToResponse() *AssessmentResponse {
	var reasons []string
	for _, r := range a.RuleResults {
		if r.SubRuleRef == RuleOutcomeFail || r.SubRuleRef == RuleOutcomeReview {
			reasons = append(reasons, r.Reason)
		}
	}

	return &AssessmentResponse{
		AssessmentID:     a.ID,
		ClaimID:          a.ClaimID,
		TenantID:         a.TenantID,
		FraudProbability: a.FraudProbability,
		RiskScore:        a.RiskScore,
		RiskCategory:     a.RiskCategory,
		PositiveFactors:  a.PositiveFactors,
		NegativeFactors:  a.NegativeFactors,
		AnomalyScore:     a.AnomalyScore,
		Reasons:          reasons,
		Metadata:         a.Metadata,
	}
}
