package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"
	start := time.Now().UTC().AddDate(0, -6, 0)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetClaim", func(t *testing.T) {
		claim := &domain.Claim{
			ID:              "claim-001",
			ClaimNumber:     "KL-VEH-2026-AAAA1111",
			ClaimantID:      "claimant-001",
			Category:        domain.CategoryVehicle,
			PolicyNumber:    "POL-1001",
			PolicyStartDate: &start,
			PremiumAmount:   1200,
			ClaimAmount:     8500,
			Vehicle: &domain.VehicleDetails{
				VehicleNumber:  "KA-01-AB-1234",
				RepairShopName: " Apex Garage ",
			},
			Status:    domain.StatusPending,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
			Metadata:  map[string]any{"source": "api"},
		}

		if err := repo.SaveClaim(ctx, tenantID, claim); err != nil {
			t.Fatalf("SaveClaim failed: %v", err)
		}

		retrieved, err := repo.GetClaim(ctx, tenantID, claim.ID)
		if err != nil {
			t.Fatalf("GetClaim failed: %v", err)
		}

		if retrieved.ClaimNumber != claim.ClaimNumber {
			t.Errorf("expected claim number %s, got %s", claim.ClaimNumber, retrieved.ClaimNumber)
		}
		if retrieved.ClaimAmount != claim.ClaimAmount {
			t.Errorf("expected amount %.2f, got %.2f", claim.ClaimAmount, retrieved.ClaimAmount)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
		if retrieved.Vehicle == nil || retrieved.Vehicle.RepairShopName != " Apex Garage " {
			t.Errorf("vehicle details not round-tripped: %+v", retrieved.Vehicle)
		}
		if retrieved.PolicyStartDate == nil {
			t.Error("expected policy start date to round-trip")
		}
		if retrieved.FraudProbability != nil {
			t.Error("expected nil fraud probability before assessment")
		}
	})

	t.Run("UpdateClaim", func(t *testing.T) {
		claim, err := repo.GetClaim(ctx, tenantID, "claim-001")
		if err != nil {
			t.Fatalf("GetClaim failed: %v", err)
		}

		prob := 0.82
		score := 82.0
		claim.Status = domain.StatusUnderReview
		claim.FraudProbability = &prob
		claim.RiskScore = &score
		claim.RiskCategory = domain.RiskHigh
		claim.UpdatedAt = time.Now().UTC()

		if err := repo.UpdateClaim(ctx, tenantID, claim); err != nil {
			t.Fatalf("UpdateClaim failed: %v", err)
		}

		retrieved, err := repo.GetClaim(ctx, tenantID, claim.ID)
		if err != nil {
			t.Fatalf("GetClaim failed: %v", err)
		}
		if retrieved.Status != domain.StatusUnderReview {
			t.Errorf("expected status under_review, got %s", retrieved.Status)
		}
		if retrieved.FraudProbability == nil || *retrieved.FraudProbability != 0.82 {
			t.Errorf("fraud probability not persisted: %v", retrieved.FraudProbability)
		}
		if retrieved.RiskCategory != domain.RiskHigh {
			t.Errorf("expected risk category high, got %s", retrieved.RiskCategory)
		}
	})

	t.Run("UpdateMissingClaim", func(t *testing.T) {
		claim := &domain.Claim{ID: "nonexistent", Category: domain.CategoryVehicle}
		if err := repo.UpdateClaim(ctx, tenantID, claim); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		otherTenant := "tenant-002"

		_, err := repo.GetClaim(ctx, otherTenant, "claim-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		claim := &domain.Claim{ID: "claim-test"}

		err := repo.SaveClaim(ctx, "", claim)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = repo.GetClaim(ctx, "", "claim-001")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = repo.CountClaimsByClaimant(ctx, tenantID, "", time.Time{})
		if err == nil {
			t.Error("expected error for empty claimantID")
		}
	})

	t.Run("ListClaims", func(t *testing.T) {
		health := &domain.Claim{
			ID:           "claim-002",
			ClaimNumber:  "KL-HLT-2026-BBBB2222",
			ClaimantID:   "claimant-002",
			Category:     domain.CategoryHealth,
			PolicyNumber: "POL-2001",
			ClaimAmount:  42000,
			Health: &domain.HealthDetails{
				HospitalName: "City Care Hospital",
				Diagnosis:    "fracture",
			},
			Status:    domain.StatusPending,
			CreatedAt: time.Now().UTC().Add(time.Second),
			UpdatedAt: time.Now().UTC().Add(time.Second),
		}
		if err := repo.SaveClaim(ctx, tenantID, health); err != nil {
			t.Fatalf("SaveClaim failed: %v", err)
		}

		claims, total, err := repo.ListClaims(ctx, tenantID, domain.ClaimFilter{})
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if total != 2 {
			t.Errorf("expected total 2, got %d", total)
		}
		if len(claims) != 2 {
			t.Errorf("expected 2 claims, got %d", len(claims))
		}
		// Newest first
		if claims[0].ID != "claim-002" {
			t.Errorf("expected claim-002 first, got %s", claims[0].ID)
		}

		claims, total, err = repo.ListClaims(ctx, tenantID, domain.ClaimFilter{Category: domain.CategoryHealth})
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if total != 1 || len(claims) != 1 || claims[0].ID != "claim-002" {
			t.Errorf("category filter mismatch: total=%d claims=%d", total, len(claims))
		}
		if claims[0].Health == nil || claims[0].Health.HospitalName != "City Care Hospital" {
			t.Errorf("health details not round-tripped: %+v", claims[0].Health)
		}

		claims, total, err = repo.ListClaims(ctx, tenantID, domain.ClaimFilter{Search: "POL-2001"})
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if total != 1 || len(claims) != 1 {
			t.Errorf("search filter mismatch: total=%d claims=%d", total, len(claims))
		}

		claims, total, err = repo.ListClaims(ctx, tenantID, domain.ClaimFilter{Risk: domain.RiskHigh})
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if total != 1 || claims[0].ID != "claim-001" {
			t.Errorf("risk filter mismatch: total=%d", total)
		}

		_, total, err = repo.ListClaims(ctx, tenantID, domain.ClaimFilter{PageSize: 1, Page: 2})
		if err != nil {
			t.Fatalf("ListClaims failed: %v", err)
		}
		if total != 2 {
			t.Errorf("paging should not change total, got %d", total)
		}
	})

	t.Run("CountClaimsByClaimant", func(t *testing.T) {
		count, err := repo.CountClaimsByClaimant(ctx, tenantID, "claimant-001", time.Time{})
		if err != nil {
			t.Fatalf("CountClaimsByClaimant failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 claim, got %d", count)
		}

		count, err = repo.CountClaimsByClaimant(ctx, tenantID, "claimant-001", time.Now().UTC().Add(time.Hour))
		if err != nil {
			t.Fatalf("CountClaimsByClaimant failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0 claims in future window, got %d", count)
		}
	})

	t.Run("ShopOccurrenceCounts", func(t *testing.T) {
		counts, err := repo.ShopOccurrenceCounts(ctx, tenantID)
		if err != nil {
			t.Fatalf("ShopOccurrenceCounts failed: %v", err)
		}
		// Shop names are normalized on write
		if counts["apex garage"] != 1 {
			t.Errorf("expected normalized shop count 1, got %v", counts)
		}
		if len(counts) != 1 {
			t.Errorf("health claims should not contribute shops: %v", counts)
		}
	})

	t.Run("SaveAndGetClaimant", func(t *testing.T) {
		claimant := &domain.Claimant{
			ID:        "claimant-001",
			FullName:  "Asha Rao",
			Email:     "asha@example.com",
			Phone:     "+91-9000000001",
			CreatedAt: time.Now().UTC(),
		}

		if err := repo.SaveClaimant(ctx, tenantID, claimant); err != nil {
			t.Fatalf("SaveClaimant failed: %v", err)
		}

		// Upsert with a changed phone
		claimant.Phone = "+91-9000000002"
		if err := repo.SaveClaimant(ctx, tenantID, claimant); err != nil {
			t.Fatalf("SaveClaimant upsert failed: %v", err)
		}

		retrieved, err := repo.GetClaimant(ctx, tenantID, claimant.ID)
		if err != nil {
			t.Fatalf("GetClaimant failed: %v", err)
		}
		if retrieved.Phone != "+91-9000000002" {
			t.Errorf("expected upserted phone, got %s", retrieved.Phone)
		}

		all, err := repo.AllClaimants(ctx, tenantID)
		if err != nil {
			t.Fatalf("AllClaimants failed: %v", err)
		}
		if len(all) != 1 {
			t.Errorf("expected 1 claimant, got %d", len(all))
		}
	})

	t.Run("SaveAndGetAssessment", func(t *testing.T) {
		assessment := &domain.RiskAssessment{
			ID:               "assessment-001",
			ClaimID:          "claim-001",
			FraudProbability: 0.82,
			RiskScore:        82,
			RiskCategory:     domain.RiskHigh,
			PositiveFactors: []domain.Factor{
				{Feature: "claim_to_premium_ratio", Value: 7.1, Importance: 0.3, Contribution: 2.13, Percent: 40},
			},
			AnomalyScore: 1,
			Threshold:    0.5,
			RuleResults: []domain.RuleResult{
				{RuleID: "rule-001", ClaimID: "claim-001", Score: 7.1, SubRuleRef: domain.RuleOutcomeReview},
			},
			Timestamp: time.Now().UTC(),
			Metadata:  domain.AssessmentMetadata{TraceID: "trace-001", ModelName: "random_forest"},
		}

		if err := repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		retrieved, err := repo.GetAssessment(ctx, tenantID, assessment.ID)
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}

		if retrieved.FraudProbability != assessment.FraudProbability {
			t.Errorf("expected probability %.2f, got %.2f", assessment.FraudProbability, retrieved.FraudProbability)
		}
		if len(retrieved.PositiveFactors) != 1 || retrieved.PositiveFactors[0].Feature != "claim_to_premium_ratio" {
			t.Errorf("factors not round-tripped: %+v", retrieved.PositiveFactors)
		}
		if len(retrieved.RuleResults) != 1 || retrieved.RuleResults[0].SubRuleRef != domain.RuleOutcomeReview {
			t.Errorf("rule results not round-tripped: %+v", retrieved.RuleResults)
		}
		if retrieved.Metadata.ModelName != "random_forest" {
			t.Errorf("metadata not round-tripped: %+v", retrieved.Metadata)
		}
	})

	t.Run("AllClaims", func(t *testing.T) {
		claims, err := repo.AllClaims(ctx, tenantID)
		if err != nil {
			t.Fatalf("AllClaims failed: %v", err)
		}
		if len(claims) != 2 {
			t.Errorf("expected 2 claims, got %d", len(claims))
		}
		// Oldest first
		if claims[0].ID != "claim-001" {
			t.Errorf("expected claim-001 first, got %s", claims[0].ID)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetClaim(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetAssessment(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetClaimant(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestRuleConfigStorage(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "kestrel-rules-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	upper := 3.0
	rule := &domain.RuleConfig{
		ID:         "rule-frequency",
		Name:       "Claim Frequency",
		Version:    "1.0",
		Expression: "claim_frequency",
		Bands: []domain.RuleBand{
			{UpperLimit: &upper, SubRuleRef: domain.RuleOutcomePass, Reason: "normal frequency"},
			{LowerLimit: &upper, SubRuleRef: domain.RuleOutcomeFail, Reason: "excessive filings"},
		},
		Weight:  1.0,
		Enabled: true,
	}

	if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}

	retrieved, err := repo.GetRuleConfig(ctx, tenantID, rule.ID)
	if err != nil {
		t.Fatalf("GetRuleConfig failed: %v", err)
	}
	if retrieved.Expression != rule.Expression {
		t.Errorf("expected expression %q, got %q", rule.Expression, retrieved.Expression)
	}
	if len(retrieved.Bands) != 2 {
		t.Fatalf("expected 2 bands, got %d", len(retrieved.Bands))
	}
	if retrieved.Bands[0].UpperLimit == nil || *retrieved.Bands[0].UpperLimit != 3.0 {
		t.Errorf("band limits not round-tripped: %+v", retrieved.Bands[0])
	}

	// Upsert same version with new expression
	rule.Expression = "claim_frequency * weight"
	if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
		t.Fatalf("SaveRuleConfig upsert failed: %v", err)
	}
	retrieved, err = repo.GetRuleConfig(ctx, tenantID, rule.ID)
	if err != nil {
		t.Fatalf("GetRuleConfig failed: %v", err)
	}
	if retrieved.Expression != "claim_frequency * weight" {
		t.Errorf("upsert did not replace expression: %q", retrieved.Expression)
	}

	configs, err := repo.ListRuleConfigs(ctx, tenantID)
	if err != nil {
		t.Fatalf("ListRuleConfigs failed: %v", err)
	}
	if len(configs) != 1 {
		t.Errorf("expected 1 config, got %d", len(configs))
	}

	// Disabled rules are invisible
	rule.Enabled = false
	if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}
	if _, err := repo.GetRuleConfig(ctx, tenantID, rule.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for disabled rule, got: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
