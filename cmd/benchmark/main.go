// Benchmark tool for testing Kestrel against labeled synthetic claims.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -claims 2000
//
// This tool:
//   1. Generates synthetic insurance claims with known fraud labels
//   2. Submits each claim and requests an assessment
//   3. Compares Kestrel's risk category with the actual labels
//   4. Calculates precision, recall, F1-score and the confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledClaim is one synthetic claim with its ground-truth fraud label.
type LabeledClaim struct {
	ClaimantID      string
	Category        string
	PolicyNumber    string
	PolicyStartDate time.Time
	PremiumAmount   float64
	ClaimAmount     float64
	IncidentDate    time.Time
	Description     string
	Location        string
	RepairShop      string
	IsFraud         bool
}

// ClaimRequest is the Kestrel claim submission format.
type ClaimRequest struct {
	ClaimantID          string         `json:"claimantId"`
	Category            string         `json:"category"`
	PolicyNumber        string         `json:"policyNumber"`
	PolicyStartDate     string         `json:"policyStartDate,omitempty"`
	PremiumAmount       float64        `json:"premiumAmount"`
	ClaimAmount         float64        `json:"claimAmount"`
	IncidentDate        string         `json:"incidentDate,omitempty"`
	IncidentDescription string         `json:"incidentDescription,omitempty"`
	IncidentLocation    string         `json:"incidentLocation,omitempty"`
	Vehicle             map[string]any `json:"vehicle,omitempty"`
}

// AssessResponse is the subset of the assessment Kestrel returns that the
// benchmark scores against.
type AssessResponse struct {
	AssessmentID     string  `json:"assessmentId"`
	FraudProbability float64 `json:"fraudProbability"`
	RiskScore        float64 `json:"riskScore"`
	RiskCategory     string  `json:"riskCategory"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Fraud assessed as high risk
	FalsePositives int64 // Non-fraud assessed as high risk
	TrueNegatives  int64 // Non-fraud assessed below high
	FalseNegatives int64 // Fraud assessed below high (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	claimCount := flag.Int("claims", 2000, "Number of synthetic claims to submit")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudRate := flag.Float64("fraud-rate", 0.15, "Share of fraudulent claims (0.0-1.0)")
	seed := flag.Int64("seed", 42, "Random seed for claim generation")
	verbose := flag.Bool("verbose", false, "Print each claim result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Synthetic Claim Screening          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Claims:      %d\n", *claimCount)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Fraud Rate:  %.2f\n", *fraudRate)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nGenerating %d labeled claims...\n", *claimCount)
	claims := generateClaims(*claimCount, *fraudRate, *seed)

	fraudCount := 0
	for _, c := range claims {
		if c.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("✓ Generated %d claims\n", len(claims))
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(claims)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(claims)-fraudCount, 100*float64(len(claims)-fraudCount)/float64(len(claims)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(claims, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
	measureIntelligence(*baseURL, *tenantID)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generateClaims builds labeled synthetic claims. Fraudulent claims carry
// the classic markers: inflated claim-to-premium ratios, filings right
// after policy start, suspiciously round amounts and recycled repair
// shops. Legitimate claims stay in unremarkable ranges.
func generateClaims(count int, fraudRate float64, seed int64) []LabeledClaim {
	rng := rand.New(rand.NewSource(seed))
	now := time.Now().UTC()
	shops := []string{"City Motors", "Highway Auto Care", "Prime Panel Works", "Metro Collision"}
	fraudShop := "Quick Fix Garage"
	locations := []string{"Mumbai", "Delhi", "Pune", "Chennai", "Hyderabad"}

	claims := make([]LabeledClaim, 0, count)
	for i := 0; i < count; i++ {
		isFraud := rng.Float64() < fraudRate

		premium := 5000 + rng.Float64()*20000
		var amount float64
		var policyAge, incidentLag int
		shop := shops[rng.Intn(len(shops))]

		if isFraud {
			// Inflated ratio, young policy, round amount, shared shop.
			amount = premium * (12 + rng.Float64()*30)
			amount = math.Round(amount/10000) * 10000
			if amount <= 0 {
				amount = 50000
			}
			policyAge = 5 + rng.Intn(25)
			incidentLag = 30 + rng.Intn(60)
			if rng.Float64() < 0.6 {
				shop = fraudShop
			}
		} else {
			amount = premium * (0.5 + rng.Float64()*5)
			amount += rng.Float64() * 999 // avoid round numbers
			policyAge = 120 + rng.Intn(900)
			incidentLag = rng.Intn(15)
		}

		incident := now.AddDate(0, 0, -1-rng.Intn(20))
		claims = append(claims, LabeledClaim{
			ClaimantID:      fmt.Sprintf("bench-claimant-%04d", i),
			Category:        "vehicle",
			PolicyNumber:    fmt.Sprintf("POL-BENCH-%05d", i),
			PolicyStartDate: incident.AddDate(0, 0, -policyAge),
			PremiumAmount:   premium,
			ClaimAmount:     amount,
			IncidentDate:    incident.AddDate(0, 0, -incidentLag/30),
			Description:     "collision damage reported by claimant",
			Location:        locations[rng.Intn(len(locations))],
			RepairShop:      shop,
			IsFraud:         isFraud,
		})
	}
	return claims
}

func runBenchmark(claims []LabeledClaim, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledClaim, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for claim := range work {
				start := time.Now()
				result, err := assessClaim(client, baseURL, tenantID, claim)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", claim.ClaimantID, err)
					}
					continue
				}

				if claim.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				predicted := result.RiskCategory == "high"
				actual := claim.IsFraud

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					fmt.Printf("%s %-20s | Amount: %12.2f | Ratio: %6.1f | Fraud: %-5v | Kestrel: %-6s (%.2f)\n",
						status,
						claim.ClaimantID,
						claim.ClaimAmount,
						claim.ClaimAmount/claim.PremiumAmount,
						claim.IsFraud,
						result.RiskCategory,
						result.FraudProbability,
					)
				}
			}
		}()
	}

	for _, claim := range claims {
		work <- claim
	}
	close(work)

	wg.Wait()

	return metrics
}

// assessClaim submits a claim and immediately requests its assessment.
func assessClaim(client *http.Client, baseURL, tenantID string, claim LabeledClaim) (*AssessResponse, error) {
	req := ClaimRequest{
		ClaimantID:          claim.ClaimantID,
		Category:            claim.Category,
		PolicyNumber:        claim.PolicyNumber,
		PolicyStartDate:     claim.PolicyStartDate.Format(time.RFC3339),
		PremiumAmount:       claim.PremiumAmount,
		ClaimAmount:         claim.ClaimAmount,
		IncidentDate:        claim.IncidentDate.Format(time.RFC3339),
		IncidentDescription: claim.Description,
		IncidentLocation:    claim.Location,
		Vehicle: map[string]any{
			"repairShopName": claim.RepairShop,
		},
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := postJSON(client, baseURL+"/claims", tenantID, req, &created); err != nil {
		return nil, fmt.Errorf("create claim: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("create claim: empty id in response")
	}

	var result AssessResponse
	if err := postJSON(client, baseURL+"/claims/"+created.ID+"/assess", tenantID, nil, &result); err != nil {
		return nil, fmt.Errorf("assess claim: %w", err)
	}
	return &result, nil
}

func postJSON(client *http.Client, url, tenantID string, payload, out any) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return err
		}
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// measureIntelligence times the cross-claim intelligence report once the
// portfolio is seeded.
func measureIntelligence(baseURL, tenantID string) {
	client := &http.Client{Timeout: 60 * time.Second}

	httpReq, err := http.NewRequest(http.MethodGet, baseURL+"/fraud-intelligence", nil)
	if err != nil {
		return
	}
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		fmt.Printf("\nIntelligence report failed: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var report struct {
		Networks []json.RawMessage `json:"networks"`
		Alerts   []json.RawMessage `json:"alerts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		fmt.Printf("\nIntelligence report decode failed: %v\n", err)
		return
	}

	fmt.Printf("\n🕸️  INTELLIGENCE REPORT\n")
	fmt.Printf("   Latency:    %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("   Networks:   %d\n", len(report.Networks))
	fmt.Printf("   Alerts:     %d\n", len(report.Alerts))
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    HIGH        OTHER")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of high-risk flags, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		cps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms  (submit + assess)\n", avgMs)
		fmt.Printf("   Throughput:       %.2f claims/sec\n", cps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - flags are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
