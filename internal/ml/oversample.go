package ml

import (
	"math"
	"math/rand"
	"sort"
)

// Oversample balances a binary training set by synthesizing minority-class
// samples interpolated between each minority sample and one of its k
// nearest minority neighbors. The inputs are never mutated.
func Oversample(x [][]float64, y []int, k int, seed int64) ([][]float64, []int) {
	var minority, majority []int
	for i, label := range y {
		if label == 1 {
			minority = append(minority, i)
		} else {
			majority = append(majority, i)
		}
	}
	// Treat whichever class is smaller as the minority.
	minLabel := 1
	if len(majority) < len(minority) {
		minority, majority = majority, minority
		minLabel = 0
	}
	deficit := len(majority) - len(minority)
	if deficit <= 0 || len(minority) < 2 {
		return x, y
	}
	if k <= 0 {
		k = 5
	}
	if k >= len(minority) {
		k = len(minority) - 1
	}

	rng := rand.New(rand.NewSource(seed))
	outX := make([][]float64, len(x), len(x)+deficit)
	copy(outX, x)
	outY := make([]int, len(y), len(y)+deficit)
	copy(outY, y)

	neighbors := minorityNeighbors(x, minority, k)
	for s := 0; s < deficit; s++ {
		i := minority[rng.Intn(len(minority))]
		j := neighbors[i][rng.Intn(len(neighbors[i]))]
		gap := rng.Float64()
		row := make([]float64, len(x[i]))
		for d := range row {
			row[d] = x[i][d] + gap*(x[j][d]-x[i][d])
		}
		outX = append(outX, row)
		outY = append(outY, minLabel)
	}
	return outX, outY
}

// minorityNeighbors maps each minority index to its k nearest minority
// indices by euclidean distance.
func minorityNeighbors(x [][]float64, minority []int, k int) map[int][]int {
	out := make(map[int][]int, len(minority))
	for _, i := range minority {
		type cand struct {
			idx  int
			dist float64
		}
		cands := make([]cand, 0, len(minority)-1)
		for _, j := range minority {
			if j == i {
				continue
			}
			cands = append(cands, cand{j, euclidean(x[i], x[j])})
		}
		sort.Slice(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })
		nn := make([]int, 0, k)
		for _, c := range cands[:k] {
			nn = append(nn, c.idx)
		}
		out[i] = nn
	}
	return out
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for d := range a {
		diff := a[d] - b[d]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
