package domain

// Severity ranks pattern alerts. Critical sorts before high, high before medium.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SeverityRank returns the sort rank for a severity; lower sorts first.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	}
	return 3
}

// Alert is a single pattern-rule finding over the claim population.
type Alert struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`

	// Subject keys; which are set depends on the alert type.
	ClaimantID  string  `json:"claimantId,omitempty"`
	ClaimID     string  `json:"claimId,omitempty"`
	ClaimNumber string  `json:"claimNumber,omitempty"`
	Category    string  `json:"category,omitempty"`

	// Rule-specific figures.
	ClaimCount  int     `json:"claimCount,omitempty"`
	TotalAmount float64 `json:"totalAmount,omitempty"`
	ClaimAmount float64 `json:"claimAmount,omitempty"`
	Multiplier  float64 `json:"multiplier,omitempty"`
	DaysSince   int     `json:"daysSincePolicyStart,omitempty"`
}

// AlertReport is the merged, severity-sorted view of all per-claim alerts.
type AlertReport struct {
	TotalAlerts    int     `json:"totalAlerts"`
	CriticalAlerts int     `json:"criticalAlerts"`
	HighAlerts     int     `json:"highAlerts"`
	MediumAlerts   int     `json:"mediumAlerts"`
	Alerts         []Alert `json:"alerts"`
}

// RepeatedEntity is one over-shared entity (phone, shop, hospital, location).
type RepeatedEntity struct {
	Value string   `json:"value"`
	Count int      `json:"count"`
	Risk  Severity `json:"risk"`
}

// EntityReport aggregates population-level repeated entities. Reported apart
// from AlertReport because its subjects are entities, not individual claims.
type EntityReport struct {
	RepeatedPhones    []RepeatedEntity `json:"repeatedPhones"`
	RepeatedShops     []RepeatedEntity `json:"repeatedRepairShops"`
	RepeatedHospitals []RepeatedEntity `json:"repeatedHospitals"`
	RepeatedLocations []RepeatedEntity `json:"repeatedLocations"`
	TotalSuspicious   int              `json:"totalSuspiciousEntities"`
}

// FraudCluster is a connected component of the entity graph large enough to
// look like an organized ring.
type FraudCluster struct {
	Nodes     []string       `json:"nodes"`
	Size      int            `json:"size"`
	RiskLevel Severity       `json:"riskLevel"`
	NodeTypes map[string]int `json:"nodeTypes"`
}

// NetworkReport is the fraud network detection result.
type NetworkReport struct {
	TotalNodes       int            `json:"totalNodes"`
	TotalEdges       int            `json:"totalEdges"`
	Clusters         []FraudCluster `json:"fraudClusters"`
	TotalClusters    int            `json:"totalClusters"`
	CriticalClusters int            `json:"criticalClusters"`
}

// IntelligenceReport is the combined fraud intelligence view composed from
// the independent network, pattern and entity detectors.
type IntelligenceReport struct {
	Entities EntityReport  `json:"entities"`
	Networks NetworkReport `json:"networks"`
	Alerts   AlertReport   `json:"alerts"`
}
