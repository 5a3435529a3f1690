package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// GradientBoosting is a boosted ensemble of shallow regression trees fit
// to the logistic-loss gradient, with class-balanced sample weights.
type GradientBoosting struct {
	Trees       []*TreeNode `json:"trees"`
	InitScore   float64     `json:"initScore"`
	FeatureGain []float64   `json:"featureGain"`

	NumTrees     int     `json:"numTrees"`
	MaxDepth     int     `json:"maxDepth"`
	MinSamples   int     `json:"minSamples"`
	LearningRate float64 `json:"learningRate"`
	Seed         int64   `json:"seed"`
}

// NewGradientBoosting returns a booster with the default hyperparameters.
func NewGradientBoosting(seed int64) *GradientBoosting {
	return &GradientBoosting{
		NumTrees:     80,
		MaxDepth:     3,
		MinSamples:   8,
		LearningRate: 0.2,
		Seed:         seed,
	}
}

func (gb *GradientBoosting) Name() string { return KindBoosting }

// Fit trains the stagewise ensemble. Each stage fits a regression tree to
// the current pseudo-residuals y - p.
func (gb *GradientBoosting) Fit(x [][]float64, y []int) error {
	if len(x) == 0 || len(x) != len(y) {
		return fmt.Errorf("boosting: bad training shape %d samples, %d labels", len(x), len(y))
	}
	cols := len(x[0])
	rng := rand.New(rand.NewSource(gb.Seed))
	weights := balancedWeights(y)

	// Initial score is the log-odds of the weighted base rate.
	totalW, posW := 0.0, 0.0
	for i, label := range y {
		totalW += weights[i]
		if label == 1 {
			posW += weights[i]
		}
	}
	base := posW / totalW
	base = math.Min(math.Max(base, 1e-6), 1-1e-6)
	gb.InitScore = math.Log(base / (1 - base))

	scores := make([]float64, len(x))
	for i := range scores {
		scores[i] = gb.InitScore
	}

	gb.Trees = make([]*TreeNode, 0, gb.NumTrees)
	gb.FeatureGain = make([]float64, cols)
	residuals := make([]float64, len(x))
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}

	for t := 0; t < gb.NumTrees; t++ {
		for i := range x {
			residuals[i] = float64(y[i]) - sigmoid(scores[i])
		}

		b := &treeBuilder{
			x:           x,
			y:           residuals,
			w:           weights,
			maxDepth:    gb.MaxDepth,
			minSamples:  gb.MinSamples,
			rng:         rng,
			regression:  true,
			importances: gb.FeatureGain,
		}
		b.leafValue = b.weightedMean
		b.totalWeight = totalW

		tree := b.build(idx, 0)
		gb.Trees = append(gb.Trees, tree)
		for i, row := range x {
			scores[i] += gb.LearningRate * tree.Predict(row)
		}
	}
	return nil
}

func (gb *GradientBoosting) PredictProba(row []float64) float64 {
	score := gb.InitScore
	for _, tree := range gb.Trees {
		score += gb.LearningRate * tree.Predict(row)
	}
	return sigmoid(score)
}

// Importances normalizes the accumulated split gains to sum to 1.
func (gb *GradientBoosting) Importances(n int) []float64 {
	out := make([]float64, n)
	total := 0.0
	for j := 0; j < n && j < len(gb.FeatureGain); j++ {
		out[j] = gb.FeatureGain[j]
		total += out[j]
	}
	if total > 0 {
		for j := range out {
			out[j] /= total
		}
	}
	return out
}
