// Package worker provides async claim scoring off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/triage"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Worker scores ingested claims asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	engine   *rules.Engine
	scorer   *scoring.Engine
	velocity *velocity.Service
	triage   *triage.Resolver

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *rules.Engine, scorer *scoring.Engine, vel *velocity.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		engine:   engine,
		scorer:   scorer,
		velocity: vel,
		triage:   triage.NewResolver(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing claim-ingested events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicClaimIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicClaimIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processClaim(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicClaimIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processClaim(ctx, msg.TenantID, msg)
}

// processClaim runs one ingested claim through rules and model scoring.
func (w *Worker) processClaim(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var claim domain.Claim
	if err := json.Unmarshal(msg.Payload, &claim); err != nil {
		slog.Error("failed to parse claim message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if claim.TenantID != "" {
		tenantID = claim.TenantID
	}

	traceID := msg.Metadata["traceId"]
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing claim",
		"claim_id", claim.ID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	fctx, err := w.velocity.FeatureContext(ctx, tenantID, &claim)
	if err != nil {
		slog.Error("failed to build feature context",
			"claim_id", claim.ID,
			"error", err,
		)
		return err
	}

	var ruleResults []domain.RuleResult
	if w.engine != nil && w.engine.RulesCount() > 0 {
		ruleResults, err = w.engine.EvaluateAll(ctx, rules.FromClaim(&claim))
		if err != nil {
			slog.Error("rule evaluation failed",
				"claim_id", claim.ID,
				"error", err,
			)
			return err
		}
	}

	assessment, err := w.scorer.Score(ctx, scoring.ScoreInput{
		Claim:       &claim,
		Context:     fctx,
		TraceID:     traceID,
		RuleResults: ruleResults,
	})
	if err != nil {
		slog.Error("scoring failed",
			"claim_id", claim.ID,
			"error", err,
		)
		return err
	}

	verdict := w.triage.Resolve(assessment)

	if w.repo != nil {
		if err := w.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
			slog.Error("failed to save assessment",
				"claim_id", claim.ID,
				"error", err,
			)
		}

		claim.FraudProbability = &assessment.FraudProbability
		claim.RiskScore = &assessment.RiskScore
		claim.RiskCategory = assessment.RiskCategory
		if triage.NeedsReview(verdict) && claim.Status == domain.StatusPending {
			claim.Status = domain.StatusUnderReview
		}
		claim.UpdatedAt = time.Now().UTC()
		if err := w.repo.UpdateClaim(ctx, tenantID, &claim); err != nil {
			slog.Error("failed to update claim with risk",
				"claim_id", claim.ID,
				"error", err,
			)
		}
	}

	resultPayload, _ := json.Marshal(assessment)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAssessment, resultPayload); err != nil {
		slog.Error("failed to publish assessment",
			"claim_id", claim.ID,
			"error", err,
		)
	}

	if verdict.Action == triage.ActionEscalate {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, resultPayload); err != nil {
			slog.Error("failed to publish alert",
				"claim_id", claim.ID,
				"error", err,
			)
		}
	}

	slog.Info("claim processed",
		"claim_id", claim.ID,
		"tenant_id", tenantID,
		"risk_category", assessment.RiskCategory,
		"action", verdict.Action,
		"probability", assessment.FraudProbability,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
