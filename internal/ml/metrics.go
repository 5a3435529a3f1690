package ml

import (
	"math"
	"math/rand"
	"sort"
)

// ModelMetrics summarizes one classifier's evaluation on the held-out set.
type ModelMetrics struct {
	AUC       float64   `json:"auc"`
	Precision float64   `json:"precision"`
	Recall    float64   `json:"recall"`
	F1        float64   `json:"f1"`
	CVAUCMean float64   `json:"cvAucMean"`
	CVAUCStd  float64   `json:"cvAucStd"`
	PRCurve   []PRPoint `json:"prCurve"`
}

// PRPoint is one downsampled point of a precision-recall curve.
type PRPoint struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Threshold float64 `json:"threshold"`
}

// ConfusionMatrix holds the four binary outcome counts at one threshold.
type ConfusionMatrix struct {
	TP, FP, TN, FN int
}

// Confusion classifies probabilities at threshold t (predicted positive
// when p >= t).
func Confusion(probs []float64, y []int, t float64) ConfusionMatrix {
	var cm ConfusionMatrix
	for i, p := range probs {
		predicted := p >= t
		actual := y[i] == 1
		switch {
		case predicted && actual:
			cm.TP++
		case predicted && !actual:
			cm.FP++
		case !predicted && actual:
			cm.FN++
		default:
			cm.TN++
		}
	}
	return cm
}

// PrecisionRecallF1 computes the three scores at threshold t.
func PrecisionRecallF1(probs []float64, y []int, t float64) (precision, recall, f1 float64) {
	cm := Confusion(probs, y, t)
	if cm.TP+cm.FP > 0 {
		precision = float64(cm.TP) / float64(cm.TP+cm.FP)
	}
	if cm.TP+cm.FN > 0 {
		recall = float64(cm.TP) / float64(cm.TP+cm.FN)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}

// ROCAUC computes the area under the ROC curve by the rank statistic,
// equivalent to the probability a random positive outranks a random
// negative. Ties contribute half.
func ROCAUC(probs []float64, y []int) float64 {
	type pair struct {
		p     float64
		label int
	}
	pairs := make([]pair, len(probs))
	for i := range probs {
		pairs[i] = pair{probs[i], y[i]}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].p < pairs[b].p })

	// Average ranks across tied scores.
	ranks := make([]float64, len(pairs))
	for i := 0; i < len(pairs); {
		j := i
		for j < len(pairs) && pairs[j].p == pairs[i].p {
			j++
		}
		avg := float64(i+j+1) / 2 // 1-based rank average of [i, j)
		for k := i; k < j; k++ {
			ranks[k] = avg
		}
		i = j
	}

	pos, rankSum := 0, 0.0
	for i, pr := range pairs {
		if pr.label == 1 {
			pos++
			rankSum += ranks[i]
		}
	}
	neg := len(pairs) - pos
	if pos == 0 || neg == 0 {
		return 0.5
	}
	return (rankSum - float64(pos)*float64(pos+1)/2) / (float64(pos) * float64(neg))
}

// PRCurvePoints is the fixed downsampled size of serialized PR curves.
const PRCurvePoints = 20

// PRCurve computes a precision-recall curve over distinct score
// thresholds, downsampled to at most PRCurvePoints points.
func PRCurve(probs []float64, y []int) []PRPoint {
	thresholds := append([]float64(nil), probs...)
	sort.Float64s(thresholds)
	thresholds = dedupe(thresholds)

	points := make([]PRPoint, 0, len(thresholds))
	for _, t := range thresholds {
		p, r, _ := PrecisionRecallF1(probs, y, t)
		points = append(points, PRPoint{Precision: p, Recall: r, Threshold: t})
	}
	if len(points) <= PRCurvePoints {
		return points
	}
	out := make([]PRPoint, 0, PRCurvePoints)
	step := float64(len(points)-1) / float64(PRCurvePoints-1)
	for i := 0; i < PRCurvePoints; i++ {
		out = append(out, points[int(float64(i)*step)])
	}
	return out
}

func dedupe(sorted []float64) []float64 {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// StratifiedSplit partitions indices into train/test preserving the class
// ratio, with testFrac of each class held out.
func StratifiedSplit(y []int, testFrac float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	var pos, neg []int
	for i, label := range y {
		if label == 1 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	rng.Shuffle(len(pos), func(i, j int) { pos[i], pos[j] = pos[j], pos[i] })
	rng.Shuffle(len(neg), func(i, j int) { neg[i], neg[j] = neg[j], neg[i] })

	cut := func(idx []int) (tr, te []int) {
		n := int(float64(len(idx)) * testFrac)
		return idx[n:], idx[:n]
	}
	posTrain, posTest := cut(pos)
	negTrain, negTest := cut(neg)

	train = append(append([]int(nil), posTrain...), negTrain...)
	test = append(append([]int(nil), posTest...), negTest...)
	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	return train, test
}

// CrossValAUC runs k-fold cross validation, training a fresh classifier
// from factory on each fold, and returns mean and population std of the
// per-fold AUCs.
func CrossValAUC(x [][]float64, y []int, k int, seed int64, factory func() Classifier) (mean, std float64) {
	if k < 2 || len(x) < k {
		return 0, 0
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(x))

	aucs := make([]float64, 0, k)
	foldSize := len(x) / k
	for fold := 0; fold < k; fold++ {
		start := fold * foldSize
		end := start + foldSize
		if fold == k-1 {
			end = len(x)
		}

		var trainX, testX [][]float64
		var trainY, testY []int
		for i, idx := range perm {
			if i >= start && i < end {
				testX = append(testX, x[idx])
				testY = append(testY, y[idx])
			} else {
				trainX = append(trainX, x[idx])
				trainY = append(trainY, y[idx])
			}
		}

		model := factory()
		if err := model.Fit(trainX, trainY); err != nil {
			continue
		}
		probs := make([]float64, len(testX))
		for i, row := range testX {
			probs[i] = model.PredictProba(row)
		}
		aucs = append(aucs, ROCAUC(probs, testY))
	}
	if len(aucs) == 0 {
		return 0, 0
	}

	for _, a := range aucs {
		mean += a
	}
	mean /= float64(len(aucs))
	for _, a := range aucs {
		d := a - mean
		std += d * d
	}
	std /= float64(len(aucs))
	return mean, math.Sqrt(std)
}

// OptimalThreshold scans t in [0.10, 0.90] step 0.01 and returns the
// threshold minimizing fnCost*FN + fpCost*FP on the given test-set
// probabilities. Ties resolve to the lowest threshold.
func OptimalThreshold(probs []float64, y []int, fnCost, fpCost float64) float64 {
	best := 0.10
	bestCost := -1.0
	for step := 0; step <= 80; step++ {
		t := 0.10 + float64(step)*0.01
		cm := Confusion(probs, y, t)
		cost := float64(cm.FN)*fnCost + float64(cm.FP)*fpCost
		if bestCost < 0 || cost < bestCost {
			bestCost = cost
			best = t
		}
	}
	return best
}
