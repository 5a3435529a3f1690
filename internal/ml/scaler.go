// Package ml implements the classifiers, preprocessing and evaluation
// pipeline behind fraud scoring. Everything is deterministic for a fixed
// seed so trained artifacts are reproducible.
package ml

import (
	"fmt"
	"math"
)

// StandardScaler centers each feature to zero mean and unit variance.
// Constant features keep a scale of 1 so transforming them is a no-op
// beyond centering.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fit computes per-column mean and standard deviation.
func (s *StandardScaler) Fit(x [][]float64) error {
	if len(x) == 0 || len(x[0]) == 0 {
		return fmt.Errorf("scaler: empty training matrix")
	}
	cols := len(x[0])
	s.Mean = make([]float64, cols)
	s.Scale = make([]float64, cols)

	for j := 0; j < cols; j++ {
		sum := 0.0
		for _, row := range x {
			sum += row[j]
		}
		s.Mean[j] = sum / float64(len(x))
	}
	for j := 0; j < cols; j++ {
		ss := 0.0
		for _, row := range x {
			d := row[j] - s.Mean[j]
			ss += d * d
		}
		sd := math.Sqrt(ss / float64(len(x)))
		if sd == 0 {
			sd = 1
		}
		s.Scale[j] = sd
	}
	return nil
}

// Transform scales a matrix in a new allocation, leaving x untouched.
func (s *StandardScaler) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = s.TransformRow(row)
	}
	return out
}

// TransformRow scales a single sample.
func (s *StandardScaler) TransformRow(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		if j < len(s.Mean) {
			out[j] = (v - s.Mean[j]) / s.Scale[j]
		} else {
			out[j] = v
		}
	}
	return out
}

// FitTransform fits the scaler and returns the scaled matrix.
func (s *StandardScaler) FitTransform(x [][]float64) ([][]float64, error) {
	if err := s.Fit(x); err != nil {
		return nil, err
	}
	return s.Transform(x), nil
}
