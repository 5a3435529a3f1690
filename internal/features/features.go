// Package features derives fraud-detection feature vectors from claims.
// Extraction never fails: malformed or missing inputs degrade to documented
// defaults so dirty data can never block scoring.
package features

import (
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Feature names in model input order. The scorer and the training pipeline
// both depend on this order; changing it invalidates persisted models.
const (
	FeatClaimAmount          = "claim_amount"
	FeatPremiumAmount        = "premium_amount"
	FeatClaimToPremiumRatio  = "claim_to_premium_ratio"
	FeatTimeSincePolicyStart = "time_since_policy_start"
	FeatClaimFrequency       = "claim_frequency"
	FeatSuspiciousAmount     = "suspicious_amount_flag"
	FeatIncidentSeverity     = "incident_severity"
	FeatLocationRisk         = "location_risk"
	FeatWeekendHoliday       = "weekend_holiday_flag"
	FeatLateReporting        = "late_reporting_flag"
	FeatRepairShopRepetition = "repair_shop_repetition"
	FeatIsVehicleClaim       = "is_vehicle_claim"
	FeatIsHealthClaim        = "is_health_claim"
	FeatIsPropertyClaim      = "is_property_claim"
	FeatHospitalStayDays     = "hospital_stay_days"
)

// Names returns the fixed feature schema in model input order.
func Names() []string {
	return []string{
		FeatClaimAmount, FeatPremiumAmount, FeatClaimToPremiumRatio,
		FeatTimeSincePolicyStart, FeatClaimFrequency,
		FeatSuspiciousAmount, FeatIncidentSeverity, FeatLocationRisk,
		FeatWeekendHoliday, FeatLateReporting,
		FeatRepairShopRepetition,
		FeatIsVehicleClaim, FeatIsHealthClaim, FeatIsPropertyClaim,
		FeatHospitalStayDays,
	}
}

// Count is the number of features in the schema.
func Count() int { return len(Names()) }

// Vector is a named feature mapping. Every name in the schema is present
// with a finite value after extraction.
type Vector map[string]float64

// Ordered returns the vector's values in schema order, coercing any
// missing or non-finite entry to 0.
func (v Vector) Ordered() []float64 {
	out := make([]float64, 0, Count())
	for _, name := range Names() {
		out = append(out, sanitize(v[name]))
	}
	return out
}

// Context carries the caller-supplied contextual aggregates.
type Context struct {
	// PriorClaims is the number of claims already filed by the claimant.
	PriorClaims int

	// ShopCounts maps normalized repair-shop names to prior-claim counts.
	ShopCounts map[string]int
}

// Thresholds for the suspicious amount flag, per category.
var suspiciousAmountThresholds = map[domain.InsuranceCategory]float64{
	domain.CategoryVehicle:  500000,
	domain.CategoryHealth:   1000000,
	domain.CategoryProperty: 2000000,
}

const defaultSuspiciousThreshold = 1000000

// Severity vocabularies, scanned case-insensitively as substrings.
// First matching tier wins, severe > moderate > minor.
var (
	severeWords = []string{"total loss", "fire", "flood", "theft", "stolen",
		"fatal", "critical", "icu", "surgery", "collapsed", "destroyed"}
	moderateWords = []string{"accident", "damage", "injury", "broken", "crack",
		"hospitalized", "fracture", "leak"}
	minorWords = []string{"scratch", "dent", "minor", "consultation", "checkup"}
)

// Metro areas with elevated observed fraud rates.
var highRiskLocations = []string{"mumbai", "delhi", "noida", "gurgaon",
	"bangalore", "hyderabad", "pune", "chennai", "kolkata"}

// Extract derives the full feature vector for a claim.
func Extract(claim *domain.Claim, fctx Context) Vector {
	v := Vector{
		FeatClaimAmount:          sanitize(claim.ClaimAmount),
		FeatPremiumAmount:        sanitize(claim.PremiumAmount),
		FeatClaimToPremiumRatio:  claimToPremiumRatio(claim.ClaimAmount, claim.PremiumAmount),
		FeatTimeSincePolicyStart: timeSincePolicyStart(claim.PolicyStartDate, claim.IncidentDate),
		FeatClaimFrequency:       float64(fctx.PriorClaims),
		FeatSuspiciousAmount:     suspiciousAmountFlag(claim.ClaimAmount, claim.Category),
		FeatIncidentSeverity:     incidentSeverity(claim.IncidentDescription),
		FeatLocationRisk:         locationRisk(claim.IncidentLocation),
		FeatWeekendHoliday:       weekendFlag(claim.IncidentDate),
		FeatLateReporting:        lateReportingFlag(claim.IncidentDate, claim.CreatedAt),
		FeatRepairShopRepetition: 0,
		FeatIsVehicleClaim:       0,
		FeatIsHealthClaim:        0,
		FeatIsPropertyClaim:      0,
		FeatHospitalStayDays:     0,
	}

	switch claim.Category {
	case domain.CategoryVehicle:
		v[FeatIsVehicleClaim] = 1
		v[FeatRepairShopRepetition] = shopRepetition(claim.RepairShopName(), fctx.ShopCounts)
	case domain.CategoryHealth:
		v[FeatIsHealthClaim] = 1
		if claim.Health != nil {
			v[FeatHospitalStayDays] = hospitalStayDays(claim.Health.AdmissionDate, claim.Health.DischargeDate)
		}
	case domain.CategoryProperty:
		v[FeatIsPropertyClaim] = 1
	}

	return v
}

// claimToPremiumRatio caps the ratio at 50; unknown or non-positive
// premiums default to a high 5.0.
func claimToPremiumRatio(claimAmount, premiumAmount float64) float64 {
	if premiumAmount <= 0 || math.IsNaN(premiumAmount) {
		return 5.0
	}
	return math.Min(sanitize(claimAmount)/premiumAmount, 50.0)
}

// timeSincePolicyStart returns days between policy start and incident,
// floored at 0. Missing dates default to 180 days.
func timeSincePolicyStart(policyStart, incident *time.Time) float64 {
	if policyStart == nil || incident == nil {
		return 180
	}
	days := incident.Sub(*policyStart).Hours() / 24
	return math.Max(math.Floor(days), 0)
}

func suspiciousAmountFlag(amount float64, category domain.InsuranceCategory) float64 {
	threshold, ok := suspiciousAmountThresholds[category]
	if !ok {
		threshold = defaultSuspiciousThreshold
	}
	if amount > threshold {
		return 1
	}
	return 0
}

// incidentSeverity encodes the description on a 0-1 scale from keyword hits.
func incidentSeverity(description string) float64 {
	desc := strings.ToLower(description)

	count := func(words []string) int {
		n := 0
		for _, w := range words {
			if strings.Contains(desc, w) {
				n++
			}
		}
		return n
	}

	if n := count(severeWords); n > 0 {
		return math.Min(0.7+float64(n)*0.1, 1.0)
	}
	if n := count(moderateWords); n > 0 {
		return math.Min(0.3+float64(n)*0.1, 0.7)
	}
	if n := count(minorWords); n > 0 {
		return math.Max(0.1, 0.3-float64(n)*0.05)
	}
	return 0.5
}

func locationRisk(location string) float64 {
	if location == "" {
		return 0.5
	}
	loc := strings.ToLower(location)
	for _, keyword := range highRiskLocations {
		if strings.Contains(loc, keyword) {
			return 0.7
		}
	}
	return 0.3
}

func weekendFlag(incident *time.Time) float64 {
	if incident == nil {
		return 0
	}
	switch incident.Weekday() {
	case time.Saturday, time.Sunday:
		return 1
	}
	return 0
}

// lateReportingFlag fires when the claim was filed more than 30 days after
// the incident.
func lateReportingFlag(incident *time.Time, createdAt time.Time) float64 {
	if incident == nil || createdAt.IsZero() {
		return 0
	}
	if createdAt.Sub(*incident).Hours()/24 > 30 {
		return 1
	}
	return 0
}

func shopRepetition(shopName string, shopCounts map[string]int) float64 {
	if shopName == "" || shopCounts == nil {
		return 0
	}
	return float64(shopCounts[domain.NormalizeEntity(shopName)])
}

func hospitalStayDays(admission, discharge *time.Time) float64 {
	if admission == nil || discharge == nil {
		return 0
	}
	days := discharge.Sub(*admission).Hours() / 24
	return math.Max(math.Floor(days), 0)
}

// sanitize collapses NaN and infinities to 0 so no non-finite value
// survives extraction.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Descriptions maps feature names to reviewer-facing explanations.
var Descriptions = map[string]string{
	FeatClaimAmount:          "Claim amount is unusually high",
	FeatPremiumAmount:        "Premium amount relative to claim",
	FeatClaimToPremiumRatio:  "Claim-to-premium ratio exceeds normal range",
	FeatTimeSincePolicyStart: "Policy is very new, claim filed shortly after purchase",
	FeatClaimFrequency:       "Multiple claims filed by the same policyholder",
	FeatSuspiciousAmount:     "Claim amount exceeds category threshold",
	FeatIncidentSeverity:     "Incident description indicates high severity",
	FeatLocationRisk:         "Location associated with higher fraud rates",
	FeatWeekendHoliday:       "Incident occurred on a weekend",
	FeatLateReporting:        "Claim filed significantly after incident",
	FeatRepairShopRepetition: "Same repair shop linked to multiple claims",
	FeatIsVehicleClaim:       "Vehicle insurance claim type",
	FeatIsHealthClaim:        "Health insurance claim type",
	FeatIsPropertyClaim:      "Property insurance claim type",
	FeatHospitalStayDays:     "Duration of hospital stay",
}

// Describe returns the reviewer-facing description of a feature, falling
// back to a title-cased version of the name.
func Describe(name string) string {
	if d, ok := Descriptions[name]; ok {
		return d
	}
	return strings.ReplaceAll(name, "_", " ")
}
