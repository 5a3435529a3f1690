package ml

import (
	"math"
	"math/rand"
	"sort"
)

// TreeNode is one node of a CART tree. Leaves carry Value, the weighted
// positive-class fraction for classification trees or the fitted residual
// for regression trees.
type TreeNode struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      *TreeNode `json:"left,omitempty"`
	Right     *TreeNode `json:"right,omitempty"`
	Leaf      bool      `json:"leaf"`
	Value     float64   `json:"value"`
}

// Predict walks the tree for one sample.
func (n *TreeNode) Predict(row []float64) float64 {
	node := n
	for !node.Leaf {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

// treeBuilder grows a single tree. target selects the split criterion:
// weighted gini over binary labels, or variance over continuous targets.
type treeBuilder struct {
	x            [][]float64
	y            []float64 // labels or residual targets
	w            []float64 // per-sample weights
	maxDepth     int
	minSamples   int
	maxFeatures  int // features considered per split; 0 means all
	rng          *rand.Rand
	regression   bool
	leafValue    func(idx []int) float64
	importances  []float64
	totalWeight  float64
}

func (b *treeBuilder) build(idx []int, depth int) *TreeNode {
	if depth >= b.maxDepth || len(idx) < b.minSamples || b.pure(idx) {
		return &TreeNode{Leaf: true, Value: b.leafValue(idx)}
	}

	feature, threshold, gain, left, right := b.bestSplit(idx)
	if feature < 0 || len(left) == 0 || len(right) == 0 {
		return &TreeNode{Leaf: true, Value: b.leafValue(idx)}
	}

	if b.importances != nil && b.totalWeight > 0 {
		b.importances[feature] += gain * b.weightOf(idx) / b.totalWeight
	}

	return &TreeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      b.build(left, depth+1),
		Right:     b.build(right, depth+1),
	}
}

func (b *treeBuilder) pure(idx []int) bool {
	first := b.y[idx[0]]
	for _, i := range idx[1:] {
		if b.y[i] != first {
			return false
		}
	}
	return true
}

func (b *treeBuilder) weightOf(idx []int) float64 {
	total := 0.0
	for _, i := range idx {
		total += b.w[i]
	}
	return total
}

// bestSplit scans candidate features for the split with the largest
// impurity decrease.
func (b *treeBuilder) bestSplit(idx []int) (feature int, threshold, gain float64, left, right []int) {
	feature = -1
	cols := len(b.x[0])
	candidates := b.candidateFeatures(cols)
	parent := b.impurity(idx)

	for _, f := range candidates {
		sorted := make([]int, len(idx))
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.x[sorted[a]][f] < b.x[sorted[c]][f] })

		for split := 1; split < len(sorted); split++ {
			lo, hi := b.x[sorted[split-1]][f], b.x[sorted[split]][f]
			if lo == hi {
				continue
			}
			l, r := sorted[:split], sorted[split:]
			lw, rw := b.weightOf(l), b.weightOf(r)
			total := lw + rw
			if total == 0 {
				continue
			}
			g := parent - (lw/total)*b.impurity(l) - (rw/total)*b.impurity(r)
			if g > gain {
				gain = g
				feature = f
				threshold = (lo + hi) / 2
				left = append([]int(nil), l...)
				right = append([]int(nil), r...)
			}
		}
	}
	return feature, threshold, gain, left, right
}

func (b *treeBuilder) candidateFeatures(cols int) []int {
	if b.maxFeatures <= 0 || b.maxFeatures >= cols {
		all := make([]int, cols)
		for i := range all {
			all[i] = i
		}
		return all
	}
	perm := b.rng.Perm(cols)
	return perm[:b.maxFeatures]
}

func (b *treeBuilder) impurity(idx []int) float64 {
	if b.regression {
		return b.variance(idx)
	}
	return b.gini(idx)
}

func (b *treeBuilder) gini(idx []int) float64 {
	total, pos := 0.0, 0.0
	for _, i := range idx {
		total += b.w[i]
		if b.y[i] == 1 {
			pos += b.w[i]
		}
	}
	if total == 0 {
		return 0
	}
	p := pos / total
	return 2 * p * (1 - p)
}

func (b *treeBuilder) variance(idx []int) float64 {
	total, sum := 0.0, 0.0
	for _, i := range idx {
		total += b.w[i]
		sum += b.w[i] * b.y[i]
	}
	if total == 0 {
		return 0
	}
	mean := sum / total
	ss := 0.0
	for _, i := range idx {
		d := b.y[i] - mean
		ss += b.w[i] * d * d
	}
	return ss / total
}

// weightedFraction is the classification leaf value, the weighted share of
// positive samples.
func (b *treeBuilder) weightedFraction(idx []int) float64 {
	total, pos := 0.0, 0.0
	for _, i := range idx {
		total += b.w[i]
		if b.y[i] == 1 {
			pos += b.w[i]
		}
	}
	if total == 0 {
		return 0
	}
	return pos / total
}

// weightedMean is the regression leaf value.
func (b *treeBuilder) weightedMean(idx []int) float64 {
	total, sum := 0.0, 0.0
	for _, i := range idx {
		total += b.w[i]
		sum += b.w[i] * b.y[i]
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

func sqrtFeatures(cols int) int {
	return int(math.Max(1, math.Floor(math.Sqrt(float64(cols)))))
}
