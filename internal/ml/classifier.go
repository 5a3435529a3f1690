package ml

import (
	"encoding/json"
	"fmt"
)

// Classifier is a binary fraud classifier. PredictProba returns the
// probability of the positive (fraud) class for one sample.
type Classifier interface {
	Fit(x [][]float64, y []int) error
	PredictProba(row []float64) float64
	// Importances returns a per-feature reliance score of length n.
	Importances(n int) []float64
	Name() string
}

// Model kind tags used in serialized artifacts.
const (
	KindLogistic = "logistic_regression"
	KindForest   = "random_forest"
	KindBoosting = "gradient_boosting"
)

type modelEnvelope struct {
	Kind     string              `json:"kind"`
	Logistic *LogisticRegression `json:"logistic,omitempty"`
	Forest   *RandomForest       `json:"forest,omitempty"`
	Boosting *GradientBoosting   `json:"boosting,omitempty"`
}

// MarshalClassifier serializes a classifier with a kind tag so it can be
// reconstructed without knowing its concrete type up front.
func MarshalClassifier(c Classifier) ([]byte, error) {
	env := modelEnvelope{Kind: c.Name()}
	switch m := c.(type) {
	case *LogisticRegression:
		env.Logistic = m
	case *RandomForest:
		env.Forest = m
	case *GradientBoosting:
		env.Boosting = m
	default:
		return nil, fmt.Errorf("ml: unknown classifier type %T", c)
	}
	return json.Marshal(env)
}

// UnmarshalClassifier reconstructs a classifier serialized by
// MarshalClassifier.
func UnmarshalClassifier(data []byte) (Classifier, error) {
	var env modelEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("ml: decode classifier: %w", err)
	}
	switch env.Kind {
	case KindLogistic:
		if env.Logistic == nil {
			return nil, fmt.Errorf("ml: classifier envelope missing logistic payload")
		}
		return env.Logistic, nil
	case KindForest:
		if env.Forest == nil {
			return nil, fmt.Errorf("ml: classifier envelope missing forest payload")
		}
		return env.Forest, nil
	case KindBoosting:
		if env.Boosting == nil {
			return nil, fmt.Errorf("ml: classifier envelope missing boosting payload")
		}
		return env.Boosting, nil
	}
	return nil, fmt.Errorf("ml: unknown classifier kind %q", env.Kind)
}

// balancedWeights computes per-sample weights so both classes contribute
// equally to the loss, n/(2*count_c) per class.
func balancedWeights(y []int) []float64 {
	pos := 0
	for _, label := range y {
		if label == 1 {
			pos++
		}
	}
	neg := len(y) - pos
	w := make([]float64, len(y))
	if pos == 0 || neg == 0 {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	wPos := float64(len(y)) / (2 * float64(pos))
	wNeg := float64(len(y)) / (2 * float64(neg))
	for i, label := range y {
		if label == 1 {
			w[i] = wPos
		} else {
			w[i] = wNeg
		}
	}
	return w
}
