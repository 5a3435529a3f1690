package ml

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/features"
)

// TrainOptions configures one training run.
type TrainOptions struct {
	// Samples used when synthesizing a dataset. Ignored when X/Y given.
	Samples int

	// X and Y supply a pre-labeled dataset in schema order; when nil a
	// synthetic one is drawn.
	X [][]float64
	Y []int

	// Misclassification unit costs driving the threshold search.
	FalseNegativeCost float64
	FalsePositiveCost float64

	// Oversample toggles minority-class resampling of the training split.
	Oversample bool

	Seed   int64
	Logger *slog.Logger
}

func (o *TrainOptions) defaults() {
	if o.Samples <= 0 {
		o.Samples = 5000
	}
	if o.FalseNegativeCost <= 0 {
		o.FalseNegativeCost = 10.0
	}
	if o.FalsePositiveCost <= 0 {
		o.FalsePositiveCost = 1.0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Metadata is the bundle's descriptive document, persisted alongside the
// models.
type Metadata struct {
	BestModel        string                  `json:"bestModel"`
	BestMetrics      ModelMetrics            `json:"bestMetrics"`
	AllMetrics       map[string]ModelMetrics `json:"allMetrics"`
	Importances      map[string]float64      `json:"featureImportances"`
	OptimalThreshold float64                 `json:"optimalThreshold"`
	TrainSamples     int                     `json:"trainSamples"`
	TestSamples      int                     `json:"testSamples"`
	TrainedAt        time.Time               `json:"trainedAt"`
	Features         []string                `json:"features"`
}

// Bundle is a complete trained artifact: everything inference needs.
type Bundle struct {
	Classifier Classifier
	Scaler     *StandardScaler
	Anomaly    *IsolationForest
	Metadata   Metadata
}

// Train runs the full pipeline: dataset, stratified split, scaling,
// oversampling, model comparison, cost-sensitive threshold search and the
// unsupervised companion fit. Any stage failure aborts the run.
func Train(opts TrainOptions) (*Bundle, error) {
	opts.defaults()
	log := opts.Logger

	x, y := opts.X, opts.Y
	if x == nil {
		x, y = SyntheticDataset(opts.Samples, opts.Seed)
		log.Info("synthesized training data", "samples", len(x))
	}
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("train: bad dataset shape %d samples, %d labels", len(x), len(y))
	}

	trainIdx, testIdx := StratifiedSplit(y, 0.2, opts.Seed)
	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return nil, fmt.Errorf("train: dataset too small to split (%d samples)", len(x))
	}
	trainX, trainY := gather(x, y, trainIdx)
	testX, testY := gather(x, y, testIdx)

	scaler := &StandardScaler{}
	trainX, err := scaler.FitTransform(trainX)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	testX = scaler.Transform(testX)

	if opts.Oversample {
		before := len(trainX)
		trainX, trainY = Oversample(trainX, trainY, 5, opts.Seed)
		log.Info("oversampled minority class", "before", before, "after", len(trainX))
	}

	candidates := []struct {
		model   Classifier
		factory func() Classifier
	}{
		{NewLogisticRegression(), func() Classifier { return NewLogisticRegression() }},
		{NewRandomForest(opts.Seed), func() Classifier { return NewRandomForest(opts.Seed) }},
		{NewGradientBoosting(opts.Seed), func() Classifier { return NewGradientBoosting(opts.Seed) }},
	}

	all := make(map[string]ModelMetrics, len(candidates))
	var best Classifier
	var bestMetrics ModelMetrics

	for _, cand := range candidates {
		start := time.Now()
		if err := cand.model.Fit(trainX, trainY); err != nil {
			return nil, fmt.Errorf("train: fit %s: %w", cand.model.Name(), err)
		}

		probs := predictAll(cand.model, testX)
		m := ModelMetrics{
			AUC:     ROCAUC(probs, testY),
			PRCurve: PRCurve(probs, testY),
		}
		m.Precision, m.Recall, m.F1 = PrecisionRecallF1(probs, testY, 0.5)
		m.CVAUCMean, m.CVAUCStd = CrossValAUC(trainX, trainY, 5, opts.Seed, cand.factory)
		all[cand.model.Name()] = m

		log.Info("trained candidate model",
			"model", cand.model.Name(),
			"auc", m.AUC,
			"f1", m.F1,
			"duration", time.Since(start))

		if best == nil || m.AUC > bestMetrics.AUC {
			best = cand.model
			bestMetrics = m
		}
	}

	bestProbs := predictAll(best, testX)
	threshold := OptimalThreshold(bestProbs, testY, opts.FalseNegativeCost, opts.FalsePositiveCost)

	anomaly := NewIsolationForest(FraudPrevalence, opts.Seed)
	if err := anomaly.Fit(trainX); err != nil {
		return nil, fmt.Errorf("train: anomaly detector: %w", err)
	}

	importances := make(map[string]float64, features.Count())
	for i, v := range best.Importances(features.Count()) {
		importances[features.Names()[i]] = v
	}

	log.Info("training complete",
		"bestModel", best.Name(),
		"auc", bestMetrics.AUC,
		"threshold", threshold)

	return &Bundle{
		Classifier: best,
		Scaler:     scaler,
		Anomaly:    anomaly,
		Metadata: Metadata{
			BestModel:        best.Name(),
			BestMetrics:      bestMetrics,
			AllMetrics:       all,
			Importances:      importances,
			OptimalThreshold: threshold,
			TrainSamples:     len(trainX),
			TestSamples:      len(testX),
			TrainedAt:        time.Now().UTC(),
			Features:         features.Names(),
		},
	}, nil
}

func gather(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	gx := make([][]float64, 0, len(idx))
	gy := make([]int, 0, len(idx))
	for _, i := range idx {
		gx = append(gx, x[i])
		gy = append(gy, y[i])
	}
	return gx, gy
}

func predictAll(c Classifier, x [][]float64) []float64 {
	probs := make([]float64, len(x))
	for i, row := range x {
		probs[i] = c.PredictProba(row)
	}
	return probs
}
