// Package scoring turns extracted claim features into risk assessments
// using the persisted model bundle. The bundle is owned by an explicit
// handle with a load-once-or-retrain lifecycle rather than hidden global
// state.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/ml"
)

// EngineVersion tags every assessment this build produces.
const EngineVersion = "kestrel-1.0"

// topFactors is how many factors each direction reports.
const topFactors = 5

// ErrTraining distinguishes a failed on-demand training run from a
// scoring failure.
var ErrTraining = errors.New("scoring: model training failed")

// Engine scores claims against the active model bundle.
type Engine struct {
	store  *artifact.Store
	config domain.ScoringConfig
	logger *slog.Logger

	mu     sync.RWMutex
	bundle *ml.Bundle

	// trainMu gates lazy training so concurrent cold starts converge on a
	// single run.
	trainMu sync.Mutex
}

// NewEngine creates a scoring engine backed by the given artifact store.
// No model is loaded until first use.
func NewEngine(store *artifact.Store, config domain.ScoringConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, config: config, logger: logger}
}

// Bundle returns the active model bundle, loading it from the store or
// training a fresh one on a cold start. This is the only path where
// scoring may block on training latency.
func (e *Engine) Bundle(ctx context.Context) (*ml.Bundle, error) {
	e.mu.RLock()
	b := e.bundle
	e.mu.RUnlock()
	if b != nil {
		return b, nil
	}

	e.trainMu.Lock()
	defer e.trainMu.Unlock()

	// Another caller may have finished while we waited.
	e.mu.RLock()
	b = e.bundle
	e.mu.RUnlock()
	if b != nil {
		return b, nil
	}

	b, err := e.store.Load()
	if err == nil {
		e.swap(b)
		e.logger.Info("model bundle loaded",
			"model", b.Metadata.BestModel,
			"threshold", b.Metadata.OptimalThreshold)
		return b, nil
	}
	if !errors.Is(err, artifact.ErrNoArtifact) {
		return nil, err
	}

	e.logger.Info("no model artifact found, training")
	return e.train(ctx)
}

// Retrain runs a full training pass and atomically swaps in the new
// bundle. In-flight scores keep the old bundle until the swap.
func (e *Engine) Retrain(ctx context.Context) (*ml.Bundle, error) {
	e.trainMu.Lock()
	defer e.trainMu.Unlock()
	return e.train(ctx)
}

func (e *Engine) train(ctx context.Context) (*ml.Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := ml.Train(ml.TrainOptions{
		Samples:           e.config.TrainingSamples,
		FalseNegativeCost: e.config.FalseNegativeCost,
		FalsePositiveCost: e.config.FalsePositiveCost,
		Oversample:        true,
		Seed:              time.Now().UnixNano(),
		Logger:            e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTraining, err)
	}
	if err := e.store.Save(b); err != nil {
		return nil, fmt.Errorf("%w: persist bundle: %v", ErrTraining, err)
	}
	e.swap(b)
	return b, nil
}

func (e *Engine) swap(b *ml.Bundle) {
	e.mu.Lock()
	e.bundle = b
	e.mu.Unlock()
}

// SetBundle installs a pre-built bundle, bypassing store and training.
// Used by tests and by callers that manage artifacts themselves.
func (e *Engine) SetBundle(b *ml.Bundle) { e.swap(b) }

// Metadata returns the active bundle's metadata, loading or training on a
// cold cache.
func (e *Engine) Metadata(ctx context.Context) (ml.Metadata, error) {
	b, err := e.Bundle(ctx)
	if err != nil {
		return ml.Metadata{}, err
	}
	return b.Metadata, nil
}

// ScoreInput carries one claim plus its contextual aggregates.
type ScoreInput struct {
	Claim   *domain.Claim
	Context features.Context
	TraceID string

	// Threshold overrides the configured fraud threshold when > 0.
	Threshold float64

	// RuleResults from the screening-rule engine, attached verbatim.
	RuleResults []domain.RuleResult
}

// Score produces a structurally complete assessment. It never fails on
// dirty claim data; only an unavailable model is an error.
func (e *Engine) Score(ctx context.Context, input ScoreInput) (*domain.RiskAssessment, error) {
	start := time.Now()
	bundle, err := e.Bundle(ctx)
	if err != nil {
		return nil, err
	}

	threshold := input.Threshold
	if threshold <= 0 {
		threshold = e.config.FraudThreshold
	}

	extractStart := time.Now()
	vector := features.Extract(input.Claim, input.Context)
	row := vector.Ordered()
	extractMs := time.Since(extractStart).Milliseconds()

	scoreStart := time.Now()
	scaled := bundle.Scaler.TransformRow(row)
	probability := clamp01(bundle.Classifier.PredictProba(scaled))

	anomaly := 0.0
	if bundle.Anomaly != nil && bundle.Anomaly.Predict(scaled) == 1 {
		anomaly = 1.0
	}
	scoreMs := time.Since(scoreStart).Milliseconds()

	positive, negative := attribution(vector, bundle.Metadata.Importances)

	return &domain.RiskAssessment{
		ID:               uuid.New().String(),
		TenantID:         input.Claim.TenantID,
		ClaimID:          input.Claim.ID,
		FraudProbability: probability,
		RiskScore:        math.Round(probability*10000) / 100,
		RiskCategory:     Categorize(probability, threshold),
		PositiveFactors:  positive,
		NegativeFactors:  negative,
		AnomalyScore:     anomaly,
		Threshold:        threshold,
		RuleResults:      input.RuleResults,
		Timestamp:        time.Now().UTC(),
		Metadata: domain.AssessmentMetadata{
			TraceID:       input.TraceID,
			ExtractMs:     extractMs,
			ScoreMs:       scoreMs,
			TotalMs:       time.Since(start).Milliseconds(),
			ModelName:     bundle.Metadata.BestModel,
			EngineVersion: EngineVersion,
		},
	}, nil
}

// Categorize maps a probability to the coarse risk bucket against a
// caller-supplied threshold.
func Categorize(probability, threshold float64) domain.RiskCategory {
	switch {
	case probability >= threshold:
		return domain.RiskHigh
	case probability >= threshold*0.5:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// attribution partitions signed value*importance contributions into
// risk-increasing and risk-decreasing factor lists, top 5 each, with
// magnitudes expressed as a share of total absolute contribution. A zero
// total yields two empty lists.
func attribution(vector features.Vector, importances map[string]float64) (positive, negative []domain.Factor) {
	total := 0.0
	factors := make([]domain.Factor, 0, len(vector))
	for _, name := range features.Names() {
		value := vector[name]
		importance := importances[name]
		contribution := value * importance
		total += math.Abs(contribution)
		factors = append(factors, domain.Factor{
			Feature:      name,
			Value:        value,
			Importance:   importance,
			Contribution: contribution,
			Description:  features.Describe(name),
		})
	}
	if total == 0 {
		return nil, nil
	}

	for i := range factors {
		factors[i].Percent = math.Abs(factors[i].Contribution) / total * 100
	}
	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Percent > factors[j].Percent
	})

	for _, f := range factors {
		if f.Contribution > 0 && len(positive) < topFactors {
			positive = append(positive, f)
		} else if f.Contribution < 0 && len(negative) < topFactors {
			negative = append(negative, f)
		}
	}
	return positive, negative
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
