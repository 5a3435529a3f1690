// Package patterns implements the rule-based alert detectors that run over
// the whole claim population, independent of model scoring.
package patterns

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Detector defaults; Window and NewPolicyDays are configurable per engine.
const (
	defaultRapidWindowDays = 30
	defaultNewPolicyDays   = 30

	rapidClaimLimit       = 2
	rapidCriticalOver     = 4
	highValueMultiplier   = 3.0
	newPolicyHighRiskDays = 14

	phoneShareLimit    = 1
	phoneHighOver      = 3
	shopShareLimit     = 2
	shopHighOver       = 5
	hospitalShareLimit = 3
	hospitalHighOver   = 7
	locationShareLimit = 2
	locationHighOver   = 4
)

// Alert type tags.
const (
	TypeRapidClaims = "rapid_claims"
	TypeHighValue   = "high_value"
	TypeNewPolicy   = "new_policy_claim"
)

// Engine runs the four pattern detectors. Each call is a stateless
// computation over the supplied population, safe for concurrent use.
type Engine struct {
	RapidWindowDays int
	NewPolicyDays   int
}

// NewEngine returns an engine with the default windows.
func NewEngine() *Engine {
	return &Engine{
		RapidWindowDays: defaultRapidWindowDays,
		NewPolicyDays:   defaultNewPolicyDays,
	}
}

// RapidClaims flags claimants filing more than two claims inside the
// trailing window ending at now.
func (e *Engine) RapidClaims(claims []*domain.Claim, now time.Time) []domain.Alert {
	cutoff := now.AddDate(0, 0, -e.RapidWindowDays)

	type window struct {
		count  int
		amount float64
	}
	byClaimant := make(map[string]*window)
	for _, c := range claims {
		if c.ClaimantID == "" || c.CreatedAt.Before(cutoff) || c.CreatedAt.After(now) {
			continue
		}
		w := byClaimant[c.ClaimantID]
		if w == nil {
			w = &window{}
			byClaimant[c.ClaimantID] = w
		}
		w.count++
		w.amount += c.ClaimAmount
	}

	var alerts []domain.Alert
	for claimantID, w := range byClaimant {
		if w.count <= rapidClaimLimit {
			continue
		}
		severity := domain.SeverityHigh
		if w.count > rapidCriticalOver {
			severity = domain.SeverityCritical
		}
		alerts = append(alerts, domain.Alert{
			Type:     TypeRapidClaims,
			Severity: severity,
			Message: fmt.Sprintf("%d claims totaling %.2f filed within %d days",
				w.count, w.amount, e.RapidWindowDays),
			ClaimantID:  claimantID,
			ClaimCount:  w.count,
			TotalAmount: w.amount,
		})
	}
	sortAlerts(alerts)
	return alerts
}

// HighValue flags claims exceeding three times their category's mean
// amount.
func (e *Engine) HighValue(claims []*domain.Claim) []domain.Alert {
	sums := make(map[domain.InsuranceCategory]float64)
	counts := make(map[domain.InsuranceCategory]int)
	for _, c := range claims {
		sums[c.Category] += c.ClaimAmount
		counts[c.Category]++
	}

	var alerts []domain.Alert
	for _, c := range claims {
		mean := sums[c.Category] / float64(counts[c.Category])
		if mean <= 0 || c.ClaimAmount <= highValueMultiplier*mean {
			continue
		}
		multiplier := c.ClaimAmount / mean
		alerts = append(alerts, domain.Alert{
			Type:     TypeHighValue,
			Severity: domain.SeverityHigh,
			Message: fmt.Sprintf("claim amount is %.1fx the %s category average",
				multiplier, c.Category),
			ClaimID:     c.ID,
			ClaimNumber: c.ClaimNumber,
			Category:    string(c.Category),
			ClaimAmount: c.ClaimAmount,
			Multiplier:  multiplier,
		})
	}
	sortAlerts(alerts)
	return alerts
}

// NewPolicy flags claims whose incident falls within NewPolicyDays of the
// policy start. Claims missing either date are skipped.
func (e *Engine) NewPolicy(claims []*domain.Claim) []domain.Alert {
	var alerts []domain.Alert
	for _, c := range claims {
		if c.PolicyStartDate == nil || c.IncidentDate == nil {
			continue
		}
		days := int(c.IncidentDate.Sub(*c.PolicyStartDate).Hours() / 24)
		if days < 0 || days > e.NewPolicyDays {
			continue
		}
		severity := domain.SeverityMedium
		if days <= newPolicyHighRiskDays {
			severity = domain.SeverityHigh
		}
		alerts = append(alerts, domain.Alert{
			Type:        TypeNewPolicy,
			Severity:    severity,
			Message:     fmt.Sprintf("incident occurred %d days after policy start", days),
			ClaimID:     c.ID,
			ClaimNumber: c.ClaimNumber,
			ClaimantID:  c.ClaimantID,
			DaysSince:   days,
		})
	}
	sortAlerts(alerts)
	return alerts
}

// RepeatedEntities flags over-shared phones, shops, hospitals and
// locations across the population.
func (e *Engine) RepeatedEntities(claims []*domain.Claim, claimants []*domain.Claimant) *domain.EntityReport {
	phoneAccounts := make(map[string]map[string]bool)
	for _, cl := range claimants {
		phone := domain.NormalizeEntity(cl.Phone)
		if phone == "" {
			continue
		}
		if phoneAccounts[phone] == nil {
			phoneAccounts[phone] = make(map[string]bool)
		}
		phoneAccounts[phone][cl.ID] = true
	}

	shops := make(map[string]int)
	hospitals := make(map[string]int)
	locations := make(map[string]int)
	for _, c := range claims {
		if shop := domain.NormalizeEntity(c.RepairShopName()); shop != "" {
			shops[shop]++
		}
		if hospital := domain.NormalizeEntity(c.HospitalName()); hospital != "" {
			hospitals[hospital]++
		}
		if location := domain.NormalizeEntity(c.IncidentLocation); location != "" {
			locations[location]++
		}
	}

	phones := make(map[string]int, len(phoneAccounts))
	for phone, accounts := range phoneAccounts {
		phones[phone] = len(accounts)
	}

	report := &domain.EntityReport{
		RepeatedPhones:    collect(phones, phoneShareLimit, phoneHighOver),
		RepeatedShops:     collect(shops, shopShareLimit, shopHighOver),
		RepeatedHospitals: collect(hospitals, hospitalShareLimit, hospitalHighOver),
		RepeatedLocations: collect(locations, locationShareLimit, locationHighOver),
	}
	report.TotalSuspicious = len(report.RepeatedPhones) + len(report.RepeatedShops) +
		len(report.RepeatedHospitals) + len(report.RepeatedLocations)
	return report
}

// collect filters counts above limit into entities, high risk above
// highOver, sorted by count descending then value.
func collect(counts map[string]int, limit, highOver int) []domain.RepeatedEntity {
	entities := []domain.RepeatedEntity{}
	for value, count := range counts {
		if count <= limit {
			continue
		}
		risk := domain.SeverityMedium
		if count > highOver {
			risk = domain.SeverityHigh
		}
		entities = append(entities, domain.RepeatedEntity{Value: value, Count: count, Risk: risk})
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Count != entities[j].Count {
			return entities[i].Count > entities[j].Count
		}
		return entities[i].Value < entities[j].Value
	})
	return entities
}

// AllAlerts merges the per-claim detectors into one severity-sorted
// report. Repeated-entity findings stay separate because they describe
// entities, not claims.
func (e *Engine) AllAlerts(claims []*domain.Claim, now time.Time) *domain.AlertReport {
	merged := append(e.RapidClaims(claims, now), e.HighValue(claims)...)
	merged = append(merged, e.NewPolicy(claims)...)
	sortAlerts(merged)

	report := &domain.AlertReport{
		TotalAlerts: len(merged),
		Alerts:      merged,
	}
	for _, a := range merged {
		switch a.Severity {
		case domain.SeverityCritical:
			report.CriticalAlerts++
		case domain.SeverityHigh:
			report.HighAlerts++
		case domain.SeverityMedium:
			report.MediumAlerts++
		}
	}
	if report.Alerts == nil {
		report.Alerts = []domain.Alert{}
	}
	return report
}

// sortAlerts orders by severity rank, then by subject for stable output.
func sortAlerts(alerts []domain.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := domain.SeverityRank(alerts[i].Severity), domain.SeverityRank(alerts[j].Severity)
		if ri != rj {
			return ri < rj
		}
		if alerts[i].ClaimantID != alerts[j].ClaimantID {
			return alerts[i].ClaimantID < alerts[j].ClaimantID
		}
		return alerts[i].ClaimID < alerts[j].ClaimID
	})
}
