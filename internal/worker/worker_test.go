package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/ml"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// fixedClassifier always predicts the same fraud probability, so the
// worker pipeline can be driven to any risk category deterministically.
type fixedClassifier struct {
	Probability float64 `json:"probability"`
}

func (f *fixedClassifier) Fit(x [][]float64, y []int) error { return nil }
func (f *fixedClassifier) PredictProba(row []float64) float64 {
	return f.Probability
}
func (f *fixedClassifier) Importances(n int) []float64 {
	imp := make([]float64, n)
	for i := range imp {
		imp[i] = 1.0 / float64(n)
	}
	return imp
}
func (f *fixedClassifier) Name() string { return "fixed" }

func fixedBundle(probability float64) *ml.Bundle {
	n := features.Count()
	scaler := &ml.StandardScaler{
		Mean:  make([]float64, n),
		Scale: make([]float64, n),
	}
	for i := range scaler.Scale {
		scaler.Scale[i] = 1
	}
	importances := map[string]float64{}
	for _, name := range features.Names() {
		importances[name] = 1.0 / float64(n)
	}
	return &ml.Bundle{
		Classifier: &fixedClassifier{Probability: probability},
		Scaler:     scaler,
		Metadata: ml.Metadata{
			BestModel:        "fixed",
			Importances:      importances,
			OptimalThreshold: 0.5,
			TrainedAt:        time.Now().UTC(),
			Features:         features.Names(),
		},
	}
}

type harness struct {
	worker *Worker
	repo   domain.Repository
	bus    *bus.ChannelBus
}

// newHarness wires a worker against a temp SQLite database, a channel bus
// and a scorer with an installed fixed-probability bundle.
func newHarness(t *testing.T, probability float64) *harness {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: t.TempDir() + "/worker-test.db",
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	vel := velocity.NewService(repo, nil)

	engine, err := rules.NewEngine(vel.FrequencyGetter(), 5)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	high := 40.0
	engine.LoadRule(&domain.RuleConfig{
		ID:         "test-ratio",
		Name:       "Extreme Ratio",
		Expression: "claim_to_premium_ratio",
		Bands: []domain.RuleBand{
			{UpperLimit: &high, SubRuleRef: domain.RuleOutcomePass, Reason: "ratio in range"},
			{LowerLimit: &high, SubRuleRef: domain.RuleOutcomeFail, Reason: "extreme claim to premium ratio"},
		},
		Weight:  1.0,
		Enabled: true,
	})

	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create artifact store: %v", err)
	}
	scorer := scoring.NewEngine(store, domain.ScoringConfig{
		FalseNegativeCost: 10,
		FalsePositiveCost: 1,
		LowThreshold:      0.3,
		HighThreshold:     0.7,
		FraudThreshold:    0.5,
		TrainingSamples:   400,
	}, nil)
	scorer.SetBundle(fixedBundle(probability))

	return &harness{
		worker: NewWorker(eventBus, repo, engine, scorer, vel),
		repo:   repo,
		bus:    eventBus,
	}
}

func workerClaim(tenantID string) *domain.Claim {
	incident := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	start := incident.AddDate(-1, 0, 0)
	now := time.Now().UTC()
	return &domain.Claim{
		ID:                  "claim-worker-1",
		TenantID:            tenantID,
		ClaimantID:          "claimant-worker-1",
		ClaimNumber:         "CLM-W-001",
		Category:            domain.CategoryVehicle,
		PolicyNumber:        "POL-W-001",
		PolicyStartDate:     &start,
		PremiumAmount:       1500,
		ClaimAmount:         9000,
		IncidentDate:        &incident,
		IncidentDescription: "rear collision at traffic signal",
		IncidentLocation:    "Pune",
		Vehicle:             &domain.VehicleDetails{RepairShopName: "Apex Garage"},
		Status:              domain.StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestWorker(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-test"

	t.Run("StartAndStop", func(t *testing.T) {
		h := newHarness(t, 0.2)

		if err := h.worker.Start(Config{TenantIDs: []string{tenantID}}); err != nil {
			t.Fatalf("failed to start worker: %v", err)
		}
		if got := h.worker.GetStats().SubscriptionCount; got != 1 {
			t.Errorf("expected 1 subscription, got %d", got)
		}

		if err := h.worker.Stop(); err != nil {
			t.Fatalf("failed to stop worker: %v", err)
		}
		if got := h.worker.GetStats().SubscriptionCount; got != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", got)
		}
	})

	t.Run("GlobalFallback", func(t *testing.T) {
		h := newHarness(t, 0.2)

		if err := h.worker.Start(Config{}); err != nil {
			t.Fatalf("failed to start global worker: %v", err)
		}
		defer h.worker.Stop()

		if got := h.worker.GetStats().SubscriptionCount; got != 1 {
			t.Errorf("expected 1 global subscription, got %d", got)
		}
	})

	t.Run("ProcessClaim", func(t *testing.T) {
		h := newHarness(t, 0.2)

		claim := workerClaim(tenantID)
		if err := h.repo.SaveClaim(ctx, tenantID, claim); err != nil {
			t.Fatalf("failed to save claim: %v", err)
		}

		results := make(chan *domain.Message, 1)
		sub, err := h.bus.Subscribe(ctx, tenantID, domain.TopicAssessment, func(ctx context.Context, msg *domain.Message) error {
			results <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("failed to subscribe to assessments: %v", err)
		}
		defer sub.Unsubscribe()

		if err := h.worker.Start(Config{TenantIDs: []string{tenantID}}); err != nil {
			t.Fatalf("failed to start worker: %v", err)
		}
		defer h.worker.Stop()

		payload, _ := json.Marshal(claim)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicClaimIngested, payload); err != nil {
			t.Fatalf("failed to publish claim: %v", err)
		}

		select {
		case msg := <-results:
			var assessment domain.RiskAssessment
			if err := json.Unmarshal(msg.Payload, &assessment); err != nil {
				t.Fatalf("failed to parse assessment: %v", err)
			}
			if assessment.ClaimID != claim.ID {
				t.Errorf("expected claim ID %s, got %s", claim.ID, assessment.ClaimID)
			}
			if assessment.TenantID != tenantID {
				t.Errorf("expected tenant %s, got %s", tenantID, assessment.TenantID)
			}
			if assessment.FraudProbability != 0.2 {
				t.Errorf("expected probability 0.2, got %f", assessment.FraudProbability)
			}
			if assessment.RiskCategory != domain.RiskLow {
				t.Errorf("expected low risk, got %s", assessment.RiskCategory)
			}
			if len(assessment.RuleResults) != 1 {
				t.Errorf("expected 1 rule result, got %d", len(assessment.RuleResults))
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for assessment")
		}

		stored, err := h.repo.GetClaim(ctx, tenantID, claim.ID)
		if err != nil {
			t.Fatalf("failed to get claim: %v", err)
		}
		if stored.FraudProbability == nil {
			t.Fatal("expected claim to carry a fraud probability after scoring")
		}
		if *stored.FraudProbability != 0.2 {
			t.Errorf("expected stored probability 0.2, got %f", *stored.FraudProbability)
		}
		if stored.Status != domain.StatusPending {
			t.Errorf("expected low-risk claim to stay pending, got %s", stored.Status)
		}
	})

	t.Run("AlertOnHighRisk", func(t *testing.T) {
		h := newHarness(t, 0.95)

		claim := workerClaim(tenantID)
		if err := h.repo.SaveClaim(ctx, tenantID, claim); err != nil {
			t.Fatalf("failed to save claim: %v", err)
		}

		alerts := make(chan *domain.Message, 1)
		sub, err := h.bus.Subscribe(ctx, tenantID, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alerts <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("failed to subscribe to alerts: %v", err)
		}
		defer sub.Unsubscribe()

		if err := h.worker.Start(Config{TenantIDs: []string{tenantID}}); err != nil {
			t.Fatalf("failed to start worker: %v", err)
		}
		defer h.worker.Stop()

		payload, _ := json.Marshal(claim)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicClaimIngested, payload); err != nil {
			t.Fatalf("failed to publish claim: %v", err)
		}

		select {
		case msg := <-alerts:
			var assessment domain.RiskAssessment
			if err := json.Unmarshal(msg.Payload, &assessment); err != nil {
				t.Fatalf("failed to parse alert payload: %v", err)
			}
			if assessment.RiskCategory != domain.RiskHigh {
				t.Errorf("expected high risk, got %s", assessment.RiskCategory)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for alert")
		}

		stored, err := h.repo.GetClaim(ctx, tenantID, claim.ID)
		if err != nil {
			t.Fatalf("failed to get claim: %v", err)
		}
		if stored.Status != domain.StatusUnderReview {
			t.Errorf("expected high-risk claim moved to under_review, got %s", stored.Status)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		h := newHarness(t, 0.2)

		if err := h.worker.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}}); err != nil {
			t.Fatalf("failed to start workers: %v", err)
		}
		defer h.worker.Stop()

		if got := h.worker.GetStats().SubscriptionCount; got != 2 {
			t.Errorf("expected 2 subscriptions, got %d", got)
		}
	})
}
