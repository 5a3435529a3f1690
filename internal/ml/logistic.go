package ml

import (
	"fmt"
	"math"
)

// LogisticRegression is an L2-regularized linear classifier trained by
// full-batch gradient descent with class-balanced sample weights.
type LogisticRegression struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`

	LearningRate float64 `json:"learningRate"`
	Epochs       int     `json:"epochs"`
	L2           float64 `json:"l2"`
}

// NewLogisticRegression returns a classifier with the default training
// hyperparameters.
func NewLogisticRegression() *LogisticRegression {
	return &LogisticRegression{
		LearningRate: 0.1,
		Epochs:       300,
		L2:           1e-3,
	}
}

func (lr *LogisticRegression) Name() string { return KindLogistic }

// Fit trains on x (samples by features) with binary labels y.
func (lr *LogisticRegression) Fit(x [][]float64, y []int) error {
	if len(x) == 0 || len(x) != len(y) {
		return fmt.Errorf("logistic: bad training shape %d samples, %d labels", len(x), len(y))
	}
	cols := len(x[0])
	lr.Weights = make([]float64, cols)
	lr.Bias = 0

	weights := balancedWeights(y)
	n := float64(len(x))

	for epoch := 0; epoch < lr.Epochs; epoch++ {
		gradW := make([]float64, cols)
		gradB := 0.0
		for i, row := range x {
			p := lr.PredictProba(row)
			err := (p - float64(y[i])) * weights[i]
			for j, v := range row {
				gradW[j] += err * v
			}
			gradB += err
		}
		for j := range gradW {
			lr.Weights[j] -= lr.LearningRate * (gradW[j]/n + lr.L2*lr.Weights[j])
		}
		lr.Bias -= lr.LearningRate * gradB / n
	}
	return nil
}

func (lr *LogisticRegression) PredictProba(row []float64) float64 {
	z := lr.Bias
	for j, w := range lr.Weights {
		if j < len(row) {
			z += w * row[j]
		}
	}
	return sigmoid(z)
}

// Importances for a linear model are the absolute coefficients.
func (lr *LogisticRegression) Importances(n int) []float64 {
	out := make([]float64, n)
	for j := 0; j < n && j < len(lr.Weights); j++ {
		out[j] = math.Abs(lr.Weights[j])
	}
	return out
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
