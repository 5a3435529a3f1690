package ml

import (
	"fmt"
	"math/rand"
)

// RandomForest is a bagged ensemble of CART trees with per-split feature
// subsampling and class-balanced sample weights.
type RandomForest struct {
	Trees       []*TreeNode `json:"trees"`
	FeatureGain []float64   `json:"featureGain"`

	NumTrees   int   `json:"numTrees"`
	MaxDepth   int   `json:"maxDepth"`
	MinSamples int   `json:"minSamples"`
	Seed       int64 `json:"seed"`
}

// NewRandomForest returns a forest with the default hyperparameters.
func NewRandomForest(seed int64) *RandomForest {
	return &RandomForest{
		NumTrees:   50,
		MaxDepth:   8,
		MinSamples: 4,
		Seed:       seed,
	}
}

func (rf *RandomForest) Name() string { return KindForest }

// Fit trains the forest on bootstrap resamples of x.
func (rf *RandomForest) Fit(x [][]float64, y []int) error {
	if len(x) == 0 || len(x) != len(y) {
		return fmt.Errorf("forest: bad training shape %d samples, %d labels", len(x), len(y))
	}
	cols := len(x[0])
	rng := rand.New(rand.NewSource(rf.Seed))

	target := make([]float64, len(y))
	for i, label := range y {
		target[i] = float64(label)
	}
	weights := balancedWeights(y)

	rf.Trees = make([]*TreeNode, 0, rf.NumTrees)
	rf.FeatureGain = make([]float64, cols)

	for t := 0; t < rf.NumTrees; t++ {
		idx := make([]int, len(x))
		for i := range idx {
			idx[i] = rng.Intn(len(x))
		}

		b := &treeBuilder{
			x:           x,
			y:           target,
			w:           weights,
			maxDepth:    rf.MaxDepth,
			minSamples:  rf.MinSamples,
			maxFeatures: sqrtFeatures(cols),
			rng:         rng,
			importances: rf.FeatureGain,
		}
		b.leafValue = b.weightedFraction
		b.totalWeight = b.weightOf(idx)
		rf.Trees = append(rf.Trees, b.build(idx, 0))
	}
	return nil
}

// PredictProba averages the leaf probabilities across trees.
func (rf *RandomForest) PredictProba(row []float64) float64 {
	if len(rf.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, tree := range rf.Trees {
		sum += tree.Predict(row)
	}
	return sum / float64(len(rf.Trees))
}

// Importances normalizes the accumulated split gains to sum to 1.
func (rf *RandomForest) Importances(n int) []float64 {
	out := make([]float64, n)
	total := 0.0
	for j := 0; j < n && j < len(rf.FeatureGain); j++ {
		out[j] = rf.FeatureGain[j]
		total += out[j]
	}
	if total > 0 {
		for j := range out {
			out[j] /= total
		}
	}
	return out
}
