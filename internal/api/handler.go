package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/network"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/triage"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// claimSummaryTTL bounds how long ingested claim summaries stay cached.
const claimSummaryTTL = time.Hour

// Intelligence reports are expensive full-portfolio scans; cache them
// briefly and invalidate on new filings.
const (
	intelligenceCacheKey = "intelligence-report"
	intelligenceCacheTTL = 5 * time.Minute
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *rules.Engine
	scorer   *scoring.Engine
	network  *network.Detector
	patterns *patterns.Engine
	velocity *velocity.Service
	triage   *triage.Resolver
	version  string

	// thresholdMu guards the runtime-adjustable scoring cutoffs.
	thresholdMu sync.RWMutex
	scoring     domain.ScoringConfig
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		engine:   deps.Rules,
		scorer:   deps.Scorer,
		network:  deps.Network,
		patterns: deps.Patterns,
		velocity: deps.Velocity,
		triage:   triage.NewResolver(),
		version:  deps.Version,
		scoring:  deps.Scoring,
	}
}

func (h *Handler) fraudThreshold() float64 {
	h.thresholdMu.RLock()
	defer h.thresholdMu.RUnlock()
	return h.scoring.FraudThreshold
}

// CreateClaim handles POST /claims: persists the claim and publishes a
// claim-ingested event for async scoring.
func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ClaimantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "claimantId is required",
		})
		return
	}
	if !domain.ValidCategory(req.Category) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "category must be vehicle, health or property",
		})
		return
	}
	if req.ClaimAmount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "claimAmount must be positive",
		})
		return
	}

	claim := req.ToClaim(tenantID)

	if err := h.repo.SaveClaim(ctx, tenantID, claim); err != nil {
		slog.Error("failed to save claim", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save claim",
		})
		return
	}

	if h.cache != nil {
		summary := &domain.ClaimSummary{
			ClaimantID:  claim.ClaimantID,
			Category:    string(claim.Category),
			ClaimAmount: claim.ClaimAmount,
			RepairShop:  claim.RepairShopName(),
			Hospital:    claim.HospitalName(),
			Location:    claim.IncidentLocation,
			CreatedAt:   claim.CreatedAt.Format(time.RFC3339),
		}
		if err := h.cache.SetClaimSummary(ctx, tenantID, claim.ID, summary, claimSummaryTTL); err != nil {
			slog.Warn("failed to cache claim summary", "claim_id", claim.ID, "error", err)
		}
		if err := h.cache.Delete(ctx, tenantID, intelligenceCacheKey); err != nil {
			slog.Warn("failed to invalidate intelligence report", "error", err)
		}
	}

	if h.velocity != nil {
		if _, err := h.velocity.RecordFiling(ctx, tenantID, claim.ClaimantID, 24*time.Hour); err != nil {
			slog.Warn("failed to record filing counter", "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(claim)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicClaimIngested, payload); err != nil {
			slog.Warn("failed to publish claim ingested event", "claim_id", claim.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, claim)
}

// GetClaim retrieves a claim by ID.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	claimID := chi.URLParam(r, "id")

	claim, err := h.repo.GetClaim(ctx, tenantID, claimID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "claim not found",
			})
			return
		}
		slog.Error("failed to get claim", "id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get claim",
		})
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

// ListClaims handles GET /claims with status/category/risk/search filters
// and pagination.
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	q := r.URL.Query()

	filter := domain.ClaimFilter{
		Status:   domain.ClaimStatus(q.Get("status")),
		Category: domain.InsuranceCategory(q.Get("category")),
		Risk:     domain.RiskCategory(q.Get("risk")),
		Search:   q.Get("search"),
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	claims, total, err := h.repo.ListClaims(ctx, tenantID, filter)
	if err != nil {
		slog.Error("failed to list claims", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list claims",
		})
		return
	}

	if claims == nil {
		claims = []*domain.Claim{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claims": claims,
		"total":  total,
	})
}

// AssessClaim handles POST /claims/{id}/assess: synchronous screening rules
// plus model scoring, persisted and published.
func (h *Handler) AssessClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	claimID := chi.URLParam(r, "id")

	claim, err := h.repo.GetClaim(ctx, tenantID, claimID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "claim not found",
			})
			return
		}
		slog.Error("failed to get claim", "id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get claim",
		})
		return
	}

	fctx, err := h.velocity.FeatureContext(ctx, tenantID, claim)
	if err != nil {
		slog.Error("failed to build feature context", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build feature context",
		})
		return
	}

	var ruleResults []domain.RuleResult
	if h.engine != nil && h.engine.RulesCount() > 0 {
		ruleResults, err = h.engine.EvaluateAll(ctx, rules.FromClaim(claim))
		if err != nil {
			slog.Error("rule evaluation failed", "claim_id", claimID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "rule evaluation failed",
			})
			return
		}
	}

	assessment, err := h.scorer.Score(ctx, scoring.ScoreInput{
		Claim:       claim,
		Context:     fctx,
		TraceID:     traceID,
		Threshold:   h.fraudThreshold(),
		RuleResults: ruleResults,
	})
	if err != nil {
		slog.Error("scoring failed", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "scoring unavailable",
		})
		return
	}

	if err := h.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
		slog.Error("failed to save assessment", "claim_id", claimID, "error", err)
	}

	verdict := h.triage.Resolve(assessment)

	// Write risk back onto the claim
	claim.FraudProbability = &assessment.FraudProbability
	claim.RiskScore = &assessment.RiskScore
	claim.RiskCategory = assessment.RiskCategory
	if triage.NeedsReview(verdict) && claim.Status == domain.StatusPending {
		claim.Status = domain.StatusUnderReview
	}
	claim.UpdatedAt = time.Now().UTC()
	if err := h.repo.UpdateClaim(ctx, tenantID, claim); err != nil {
		slog.Error("failed to update claim with risk", "claim_id", claimID, "error", err)
	}

	if h.bus != nil {
		payload, _ := json.Marshal(assessment)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicAssessment, payload); err != nil {
			slog.Warn("failed to publish assessment event", "error", err)
		}
		if verdict.Action == triage.ActionEscalate {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
				slog.Warn("failed to publish alert event", "error", err)
			}
		}
	}

	slog.Info("claim assessed",
		"claim_id", claimID,
		"risk_category", assessment.RiskCategory,
		"action", verdict.Action,
		"reasons", len(verdict.Reasons),
	)

	writeJSON(w, http.StatusOK, assessment.ToResponse())
}

// DecisionRequest is the request body for POST /claims/{id}/decision.
type DecisionRequest struct {
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
	DecidedBy string `json:"decidedBy,omitempty"`
}

// DecideClaim records a reviewer decision on a claim.
func (h *Handler) DecideClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	claimID := chi.URLParam(r, "id")

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	status := domain.ClaimStatus(req.Status)
	switch status {
	case domain.StatusApproved, domain.StatusRejected, domain.StatusEscalated, domain.StatusUnderReview:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status must be approved, rejected, escalated or under_review",
		})
		return
	}

	claim, err := h.repo.GetClaim(ctx, tenantID, claimID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "claim not found",
			})
			return
		}
		slog.Error("failed to get claim", "id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get claim",
		})
		return
	}

	now := time.Now().UTC()
	claim.Status = status
	claim.DecisionNotes = req.Notes
	claim.DecidedBy = req.DecidedBy
	claim.DecidedAt = &now
	claim.UpdatedAt = now

	if err := h.repo.UpdateClaim(ctx, tenantID, claim); err != nil {
		slog.Error("failed to update claim decision", "claim_id", claimID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update claim",
		})
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

// GetAssessment retrieves an assessment by ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	assessment, err := h.repo.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "assessment not found",
			})
			return
		}
		slog.Error("failed to get assessment", "id", assessmentID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get assessment",
		})
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// ClaimantRequest is the request body for POST /claimants.
type ClaimantRequest struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// CreateClaimant registers or updates a policyholder.
func (h *Handler) CreateClaimant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ClaimantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ID == "" || req.FullName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and fullName are required",
		})
		return
	}

	claimant := &domain.Claimant{
		ID:        req.ID,
		TenantID:  tenantID,
		FullName:  req.FullName,
		Email:     req.Email,
		Phone:     req.Phone,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.repo.SaveClaimant(ctx, tenantID, claimant); err != nil {
		slog.Error("failed to save claimant", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save claimant",
		})
		return
	}

	writeJSON(w, http.StatusCreated, claimant)
}

// GetClaimant retrieves a claimant by ID.
func (h *Handler) GetClaimant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	claimantID := chi.URLParam(r, "id")

	claimant, err := h.repo.GetClaimant(ctx, tenantID, claimantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "claimant not found",
			})
			return
		}
		slog.Error("failed to get claimant", "id", claimantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get claimant",
		})
		return
	}

	writeJSON(w, http.StatusOK, claimant)
}

// FraudIntelligence handles GET /fraud-intelligence: the combined network,
// pattern and entity view over the tenant's claim population.
func (h *Handler) FraudIntelligence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, tenantID, intelligenceCacheKey); err == nil && cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}
	}

	claims, err := h.repo.AllClaims(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load claims", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load claims",
		})
		return
	}
	claimants, err := h.repo.AllClaimants(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load claimants", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load claimants",
		})
		return
	}

	report := &domain.IntelligenceReport{
		Entities: *h.patterns.RepeatedEntities(claims, claimants),
		Networks: *h.network.Detect(claims),
		Alerts:   *h.patterns.AllAlerts(claims, time.Now().UTC()),
	}

	if h.cache != nil {
		if payload, err := json.Marshal(report); err == nil {
			if err := h.cache.Set(ctx, tenantID, intelligenceCacheKey, payload, intelligenceCacheTTL); err != nil {
				slog.Warn("failed to cache intelligence report", "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, report)
}

// Alerts handles GET /alerts: the per-claim pattern alert report.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	claims, err := h.repo.AllClaims(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load claims", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load claims",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.patterns.AllAlerts(claims, time.Now().UTC()))
}

// Networks handles GET /networks: entity-graph cluster detection.
func (h *Handler) Networks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	claims, err := h.repo.AllClaims(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load claims", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load claims",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.network.Detect(claims))
}

// AnalyticsResponse is the response for GET /analytics.
type AnalyticsResponse struct {
	TotalClaims    int             `json:"totalClaims"`
	ByStatus       map[string]int  `json:"byStatus"`
	ByCategory     map[string]int  `json:"byCategory"`
	ByRisk         map[string]int  `json:"byRisk"`
	AvgProbability float64         `json:"avgFraudProbability"`
	TotalAmount    float64         `json:"totalClaimAmount"`
	FraudTrend     []TrendPoint    `json:"fraudTrend"`
	RecentClaims   []*domain.Claim `json:"recentClaims"`
}

// TrendPoint is one day of the 30-day high-risk trend.
type TrendPoint struct {
	Date     string `json:"date"`
	Claims   int    `json:"claims"`
	HighRisk int    `json:"highRisk"`
}

// Analytics handles GET /analytics: population aggregates and a 30-day
// daily fraud trend.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	claims, err := h.repo.AllClaims(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load claims", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load claims",
		})
		return
	}

	resp := AnalyticsResponse{
		TotalClaims: len(claims),
		ByStatus:    make(map[string]int),
		ByCategory:  make(map[string]int),
		ByRisk:      make(map[string]int),
	}

	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -30)
	daily := make(map[string]*TrendPoint)

	probSum := 0.0
	probCount := 0
	for _, c := range claims {
		resp.ByStatus[string(c.Status)]++
		resp.ByCategory[string(c.Category)]++
		if c.RiskCategory != "" {
			resp.ByRisk[string(c.RiskCategory)]++
		}
		resp.TotalAmount += c.ClaimAmount
		if c.FraudProbability != nil {
			probSum += *c.FraudProbability
			probCount++
		}
		if c.CreatedAt.After(cutoff) {
			day := c.CreatedAt.Format("2006-01-02")
			point := daily[day]
			if point == nil {
				point = &TrendPoint{Date: day}
				daily[day] = point
			}
			point.Claims++
			if c.RiskCategory == domain.RiskHigh {
				point.HighRisk++
			}
		}
	}
	if probCount > 0 {
		resp.AvgProbability = probSum / float64(probCount)
	}

	for _, point := range daily {
		resp.FraudTrend = append(resp.FraudTrend, *point)
	}
	sort.Slice(resp.FraudTrend, func(i, j int) bool {
		return resp.FraudTrend[i].Date < resp.FraudTrend[j].Date
	})

	// Recent claims, newest first
	recent := make([]*domain.Claim, len(claims))
	copy(recent, claims)
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	if len(recent) > 5 {
		recent = recent[:5]
	}
	resp.RecentClaims = recent

	writeJSON(w, http.StatusOK, resp)
}

// ModelInfo handles GET /model: the active bundle's training metadata.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	meta, err := h.scorer.Metadata(r.Context())
	if err != nil {
		slog.Error("failed to load model metadata", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "model unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// Train handles POST /train: retrains the model and swaps it in atomically.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.scorer.Retrain(r.Context())
	if err != nil {
		slog.Error("training failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "training failed",
		})
		return
	}

	if h.bus != nil {
		tenantID := GetTenantID(r.Context())
		payload, _ := json.Marshal(bundle.Metadata)
		if err := h.bus.Publish(r.Context(), tenantID, domain.TopicModelTrained, payload); err != nil {
			slog.Warn("failed to publish model trained event", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "model trained",
		"metadata": bundle.Metadata,
	})
}

// ThresholdsResponse mirrors the adjustable scoring cutoffs.
type ThresholdsResponse struct {
	FraudThreshold float64 `json:"fraudThreshold"`
	LowThreshold   float64 `json:"lowThreshold"`
	HighThreshold  float64 `json:"highThreshold"`
}

// GetThresholds returns the current scoring cutoffs.
func (h *Handler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	h.thresholdMu.RLock()
	resp := ThresholdsResponse{
		FraudThreshold: h.scoring.FraudThreshold,
		LowThreshold:   h.scoring.LowThreshold,
		HighThreshold:  h.scoring.HighThreshold,
	}
	h.thresholdMu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

// SetThresholds adjusts scoring cutoffs at runtime. Fields left zero keep
// their current value.
func (h *Handler) SetThresholds(w http.ResponseWriter, r *http.Request) {
	var req ThresholdsResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.FraudThreshold < 0 || req.FraudThreshold > 1 ||
		req.LowThreshold < 0 || req.LowThreshold > 1 ||
		req.HighThreshold < 0 || req.HighThreshold > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "thresholds must be between 0 and 1",
		})
		return
	}

	h.thresholdMu.Lock()
	if req.FraudThreshold > 0 {
		h.scoring.FraudThreshold = req.FraudThreshold
	}
	if req.LowThreshold > 0 {
		h.scoring.LowThreshold = req.LowThreshold
	}
	if req.HighThreshold > 0 {
		h.scoring.HighThreshold = req.HighThreshold
	}
	resp := ThresholdsResponse{
		FraudThreshold: h.scoring.FraudThreshold,
		LowThreshold:   h.scoring.LowThreshold,
		HighThreshold:  h.scoring.HighThreshold,
	}
	h.thresholdMu.Unlock()

	slog.Info("thresholds updated",
		"fraud_threshold", resp.FraudThreshold,
		"low_threshold", resp.LowThreshold,
		"high_threshold", resp.HighThreshold,
	)
	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns all loaded screening rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a screening rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule creates a new screening rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression by attempting to load
	if err := h.engine.LoadRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
