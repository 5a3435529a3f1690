package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// IsolationForest is the unsupervised anomaly companion to the supervised
// classifier. Samples that isolate in few random splits score high; the
// decision cutoff is calibrated at fit time so roughly Contamination of
// the training set is flagged anomalous.
type IsolationForest struct {
	Trees  []*isoNode `json:"trees"`
	Cutoff float64    `json:"cutoff"`

	NumTrees      int     `json:"numTrees"`
	SubsampleSize int     `json:"subsampleSize"`
	Contamination float64 `json:"contamination"`
	Seed          int64   `json:"seed"`
}

type isoNode struct {
	Feature   int      `json:"feature"`
	Threshold float64  `json:"threshold"`
	Left      *isoNode `json:"left,omitempty"`
	Right     *isoNode `json:"right,omitempty"`
	Leaf      bool     `json:"leaf"`
	Size      int      `json:"size"`
}

// NewIsolationForest returns a detector expecting the given anomaly rate.
func NewIsolationForest(contamination float64, seed int64) *IsolationForest {
	if contamination <= 0 || contamination >= 1 {
		contamination = 0.15
	}
	return &IsolationForest{
		NumTrees:      100,
		SubsampleSize: 256,
		Contamination: contamination,
		Seed:          seed,
	}
}

// Fit grows the random isolation trees and calibrates the cutoff from the
// training score distribution.
func (f *IsolationForest) Fit(x [][]float64) error {
	if len(x) == 0 {
		return fmt.Errorf("isoforest: empty training matrix")
	}
	rng := rand.New(rand.NewSource(f.Seed))
	sub := f.SubsampleSize
	if sub > len(x) {
		sub = len(x)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sub)))) + 1

	f.Trees = make([]*isoNode, 0, f.NumTrees)
	for t := 0; t < f.NumTrees; t++ {
		idx := rng.Perm(len(x))[:sub]
		f.Trees = append(f.Trees, growIsoTree(x, idx, 0, maxDepth, rng))
	}

	scores := make([]float64, len(x))
	for i, row := range x {
		scores[i] = f.Score(row)
	}
	sort.Float64s(scores)
	// Cutoff at the (1 - contamination) quantile of training scores.
	pos := int(float64(len(scores)) * (1 - f.Contamination))
	if pos >= len(scores) {
		pos = len(scores) - 1
	}
	f.Cutoff = scores[pos]
	return nil
}

func growIsoTree(x [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if depth >= maxDepth || len(idx) <= 1 {
		return &isoNode{Leaf: true, Size: len(idx)}
	}

	feature := rng.Intn(len(x[0]))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		v := x[i][feature]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return &isoNode{Leaf: true, Size: len(idx)}
	}

	threshold := lo + rng.Float64()*(hi-lo)
	var left, right []int
	for _, i := range idx {
		if x[i][feature] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &isoNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      growIsoTree(x, left, depth+1, maxDepth, rng),
		Right:     growIsoTree(x, right, depth+1, maxDepth, rng),
	}
}

func (n *isoNode) pathLength(row []float64, depth float64) float64 {
	if n.Leaf {
		return depth + averagePathLength(n.Size)
	}
	if row[n.Feature] < n.Threshold {
		return n.Left.pathLength(row, depth+1)
	}
	return n.Right.pathLength(row, depth+1)
}

// averagePathLength is the expected unsuccessful-search depth of a BST
// with n nodes, the standard isolation forest normalizer.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

// Score returns the anomaly score in (0, 1); higher is more anomalous.
func (f *IsolationForest) Score(row []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, tree := range f.Trees {
		sum += tree.pathLength(row, 0)
	}
	avg := sum / float64(len(f.Trees))
	norm := averagePathLength(f.SubsampleSize)
	if norm == 0 {
		return 0
	}
	return math.Pow(2, -avg/norm)
}

// Predict returns 1 if the sample is anomalous, 0 otherwise.
func (f *IsolationForest) Predict(row []float64) int {
	if len(f.Trees) == 0 {
		return 0
	}
	if f.Score(row) >= f.Cutoff {
		return 1
	}
	return 0
}
