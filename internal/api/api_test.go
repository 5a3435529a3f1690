package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/network"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// createTestServer wires a full server against a temp SQLite database and a
// temp model directory. Small training size keeps cold-start scoring fast.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: t.TempDir() + "/api-test.db",
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

	// One screening rule that only flags extreme ratios so ordinary test
	// claims pass clean.
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

	scoringCfg := domain.ScoringConfig{
		ModelDir:          t.TempDir(),
		FalseNegativeCost: 10,
		FalsePositiveCost: 1,
		LowThreshold:      0.3,
		HighThreshold:     0.7,
		FraudThreshold:    0.5,
		TrainingSamples:   400,
	}
	store, err := artifact.NewStore(scoringCfg.ModelDir)
	if err != nil {
		t.Fatalf("failed to create artifact store: %v", err)
	}
	scorer := scoring.NewEngine(store, scoringCfg, nil)

	return NewServer(cfg, Deps{
		Repo:     repo,
		Bus:      eventBus,
		Rules:    engine,
		Scorer:   scorer,
		Network:  network.NewDetector(),
		Patterns: patterns.NewEngine(),
		Velocity: vel,
		Version:  "test-v1",
		Scoring:  scoringCfg,
	})
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-001")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestClaimLifecycle(t *testing.T) {
	server := createTestServer(t)

	start := time.Now().UTC().AddDate(0, -8, 0)
	incident := time.Now().UTC().AddDate(0, 0, -3)

	var claimID string

	t.Run("CreateClaimant", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claimants", ClaimantRequest{
			ID:       "claimant-001",
			FullName: "Asha Rao",
			Phone:    "+91-9000000001",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateClaim", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claims", domain.ClaimRequest{
			ClaimantID:          "claimant-001",
			Category:            "vehicle",
			PolicyNumber:        "POL-1001",
			PolicyStartDate:     &start,
			PremiumAmount:       1200,
			ClaimAmount:         8500,
			IncidentDate:        &incident,
			IncidentDescription: "rear end collision",
			IncidentLocation:    "mumbai",
			Vehicle: &domain.VehicleDetails{
				VehicleNumber:  "MH-01-AB-1234",
				RepairShopName: "Apex Garage",
			},
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var claim domain.Claim
		if err := json.Unmarshal(rr.Body.Bytes(), &claim); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if claim.ID == "" || claim.ClaimNumber == "" {
			t.Errorf("expected generated id and claim number, got %+v", claim)
		}
		if claim.Status != domain.StatusPending {
			t.Errorf("expected pending status, got %s", claim.Status)
		}
		claimID = claim.ID
	})

	t.Run("CreateClaimValidation", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claims", domain.ClaimRequest{
			ClaimantID:  "claimant-001",
			Category:    "crypto",
			ClaimAmount: 100,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for bad category, got %d", rr.Code)
		}

		rr = doJSON(t, server, http.MethodPost, "/claims", domain.ClaimRequest{
			ClaimantID: "claimant-001",
			Category:   "vehicle",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for zero amount, got %d", rr.Code)
		}
	})

	t.Run("GetClaim", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/claims/"+claimID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		rr = doJSON(t, server, http.MethodGet, "/claims/nonexistent", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ListClaims", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/claims?category=vehicle", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Claims []*domain.Claim `json:"claims"`
			Total  int             `json:"total"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Total != 1 || len(resp.Claims) != 1 {
			t.Errorf("expected 1 vehicle claim, got total=%d len=%d", resp.Total, len(resp.Claims))
		}

		rr = doJSON(t, server, http.MethodGet, "/claims?category=health", nil)
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Total != 0 {
			t.Errorf("expected 0 health claims, got %d", resp.Total)
		}
	})

	t.Run("AssessClaim", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claims/"+claimID+"/assess", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.AssessmentResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.AssessmentID == "" {
			t.Error("expected assessmentId in response")
		}
		if resp.ClaimID != claimID {
			t.Errorf("expected claimId %s, got %s", claimID, resp.ClaimID)
		}
		if resp.FraudProbability < 0 || resp.FraudProbability > 1 {
			t.Errorf("probability out of range: %f", resp.FraudProbability)
		}
		if resp.RiskCategory == "" {
			t.Error("expected a risk category")
		}
		if resp.Metadata.EngineVersion != scoring.EngineVersion {
			t.Errorf("expected engine version %s, got %s", scoring.EngineVersion, resp.Metadata.EngineVersion)
		}

		// Risk written back onto the claim
		rr = doJSON(t, server, http.MethodGet, "/claims/"+claimID, nil)
		var claim domain.Claim
		json.Unmarshal(rr.Body.Bytes(), &claim)
		if claim.FraudProbability == nil {
			t.Error("expected fraud probability written back to claim")
		}

		// Assessment retrievable by ID
		rr = doJSON(t, server, http.MethodGet, "/assessments/"+resp.AssessmentID, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200 for saved assessment, got %d", rr.Code)
		}
	})

	t.Run("AssessMissingClaim", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claims/nonexistent/assess", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("DecideClaim", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/claims/"+claimID+"/decision", DecisionRequest{
			Status:    "approved",
			Notes:     "verified with repair shop",
			DecidedBy: "reviewer-1",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var claim domain.Claim
		json.Unmarshal(rr.Body.Bytes(), &claim)
		if claim.Status != domain.StatusApproved {
			t.Errorf("expected approved status, got %s", claim.Status)
		}
		if claim.DecidedAt == nil {
			t.Error("expected decidedAt to be set")
		}

		rr = doJSON(t, server, http.MethodPost, "/claims/"+claimID+"/decision", DecisionRequest{
			Status: "bogus",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for bad status, got %d", rr.Code)
		}
	})

	t.Run("Intelligence", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/fraud-intelligence", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var report domain.IntelligenceReport
		if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if report.Networks.TotalNodes == 0 {
			t.Error("expected graph nodes from the stored claim")
		}

		rr = doJSON(t, server, http.MethodGet, "/alerts", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200 for alerts, got %d", rr.Code)
		}
		rr = doJSON(t, server, http.MethodGet, "/networks", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200 for networks, got %d", rr.Code)
		}
	})

	t.Run("Analytics", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/analytics", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp AnalyticsResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.TotalClaims != 1 {
			t.Errorf("expected 1 claim, got %d", resp.TotalClaims)
		}
		if resp.ByCategory["vehicle"] != 1 {
			t.Errorf("expected vehicle count 1, got %v", resp.ByCategory)
		}
		if len(resp.RecentClaims) != 1 {
			t.Errorf("expected 1 recent claim, got %d", len(resp.RecentClaims))
		}
		if len(resp.FraudTrend) == 0 {
			t.Error("expected at least one trend point")
		}
	})

	t.Run("Thresholds", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/thresholds", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp ThresholdsResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.FraudThreshold != 0.5 {
			t.Errorf("expected fraud threshold 0.5, got %f", resp.FraudThreshold)
		}

		rr = doJSON(t, server, http.MethodPost, "/thresholds", ThresholdsResponse{FraudThreshold: 0.6})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.FraudThreshold != 0.6 {
			t.Errorf("expected updated threshold 0.6, got %f", resp.FraudThreshold)
		}
		if resp.HighThreshold != 0.7 {
			t.Errorf("zero fields must keep current values, got %f", resp.HighThreshold)
		}

		rr = doJSON(t, server, http.MethodPost, "/thresholds", ThresholdsResponse{FraudThreshold: 1.5})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for out of range threshold, got %d", rr.Code)
		}
	})

	t.Run("ModelInfo", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/model", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var meta struct {
			BestModel string `json:"bestModel"`
		}
		json.Unmarshal(rr.Body.Bytes(), &meta)
		if meta.BestModel == "" {
			t.Error("expected a best model name")
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/claims", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 without tenant header, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/claims", bytes.NewBufferString("not-json"))
		req.Header.Set("X-Tenant-ID", "tenant-001")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/claims", nil)
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("ListRules", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rules", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 loaded rule, got %d", resp.Count)
		}
	})

	t.Run("GetRule", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rules/test-ratio", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		rr = doJSON(t, server, http.MethodGet, "/rules/unknown", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("CreateRule", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules", CreateRuleRequest{
			ID:         "rule-amount",
			Name:       "Large Amount",
			Expression: "amount",
			Weight:     1.0,
			Enabled:    true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		// Invalid CEL rejected
		rr = doJSON(t, server, http.MethodPost, "/rules", CreateRuleRequest{
			ID:         "rule-bad",
			Name:       "Broken",
			Expression: "amount >>> 1",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for invalid CEL, got %d", rr.Code)
		}
	})

	t.Run("ReloadRules", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		// Only the persisted rule survives a reload
		if resp.Count != 1 {
			t.Errorf("expected 1 rule after reload, got %d", resp.Count)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
