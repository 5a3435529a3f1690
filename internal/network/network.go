// Package network finds fraud rings by graph connectivity over claims and
// the entities they share. Two entities are linked by co-occurrence only;
// there is no similarity weighting.
package network

import (
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Cluster qualification and risk thresholds.
const (
	minClusterSize   = 3
	criticalOverSize = 5
)

// Node key prefixes keep distinct entity types from colliding even with
// identical text.
const (
	prefixClaim    = "claim_"
	prefixUser     = "user_"
	prefixShop     = "shop_"
	prefixHospital = "hospital_"
	prefixLocation = "location_"
)

// Detector rebuilds the graph from scratch on every call. The claim
// population is assumed to fit in memory, so O(V+E) per detection keeps
// the consistency model trivial.
type Detector struct{}

// NewDetector creates a fraud network detector.
func NewDetector() *Detector { return &Detector{} }

// Detect builds the entity graph for the population and returns clusters
// of connected nodes, largest first. An empty population yields an empty
// report.
func (d *Detector) Detect(claims []*domain.Claim) *domain.NetworkReport {
	adjacency := buildGraph(claims)

	report := &domain.NetworkReport{
		TotalNodes: len(adjacency),
		TotalEdges: edgeCount(adjacency),
		Clusters:   []domain.FraudCluster{},
	}

	for _, component := range components(adjacency) {
		if len(component) < minClusterSize {
			continue
		}
		risk := domain.SeverityHigh
		if len(component) > criticalOverSize {
			risk = domain.SeverityCritical
		}
		report.Clusters = append(report.Clusters, domain.FraudCluster{
			Nodes:     component,
			Size:      len(component),
			RiskLevel: risk,
			NodeTypes: typeCounts(component),
		})
	}

	sort.SliceStable(report.Clusters, func(i, j int) bool {
		return report.Clusters[i].Size > report.Clusters[j].Size
	})
	report.TotalClusters = len(report.Clusters)
	for _, c := range report.Clusters {
		if c.RiskLevel == domain.SeverityCritical {
			report.CriticalClusters++
		}
	}
	return report
}

// buildGraph links each claim node to its claimant, shop, hospital and
// location nodes when present.
func buildGraph(claims []*domain.Claim) map[string][]string {
	adjacency := make(map[string][]string)
	addEdge := func(a, b string) {
		adjacency[a] = append(adjacency[a], b)
		adjacency[b] = append(adjacency[b], a)
	}

	for _, claim := range claims {
		if claim == nil || claim.ID == "" {
			continue
		}
		claimNode := prefixClaim + claim.ID
		if _, ok := adjacency[claimNode]; !ok {
			adjacency[claimNode] = nil
		}

		if claim.ClaimantID != "" {
			addEdge(claimNode, prefixUser+domain.NormalizeEntity(claim.ClaimantID))
		}
		if shop := domain.NormalizeEntity(claim.RepairShopName()); shop != "" {
			addEdge(claimNode, prefixShop+shop)
		}
		if hospital := domain.NormalizeEntity(claim.HospitalName()); hospital != "" {
			addEdge(claimNode, prefixHospital+hospital)
		}
		if location := domain.NormalizeEntity(claim.IncidentLocation); location != "" {
			addEdge(claimNode, prefixLocation+location)
		}
	}
	return adjacency
}

func edgeCount(adjacency map[string][]string) int {
	total := 0
	for _, neighbors := range adjacency {
		total += len(neighbors)
	}
	return total / 2
}

// components returns each connected component as a sorted node list.
// Iteration starts are sorted so output is stable across calls.
func components(adjacency map[string][]string) [][]string {
	nodes := make([]string, 0, len(adjacency))
	for node := range adjacency {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	visited := make(map[string]bool, len(nodes))
	var out [][]string
	for _, start := range nodes {
		if visited[start] {
			continue
		}
		component := dfs(start, adjacency, visited)
		sort.Strings(component)
		out = append(out, component)
	}
	return out
}

func dfs(start string, adjacency map[string][]string, visited map[string]bool) []string {
	stack := []string{start}
	var component []string
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[node] {
			continue
		}
		visited[node] = true
		component = append(component, node)
		stack = append(stack, adjacency[node]...)
	}
	return component
}

// typeCounts tallies a component's nodes by entity type prefix.
func typeCounts(component []string) map[string]int {
	counts := make(map[string]int)
	for _, node := range component {
		switch {
		case strings.HasPrefix(node, prefixClaim):
			counts["claims"]++
		case strings.HasPrefix(node, prefixUser):
			counts["claimants"]++
		case strings.HasPrefix(node, prefixShop):
			counts["repair_shops"]++
		case strings.HasPrefix(node, prefixHospital):
			counts["hospitals"]++
		case strings.HasPrefix(node, prefixLocation):
			counts["locations"]++
		}
	}
	return counts
}
