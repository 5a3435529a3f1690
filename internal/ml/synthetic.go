package ml

import (
	"math"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/features"
)

// FraudPrevalence is the positive-class share of synthetic datasets.
const FraudPrevalence = 0.15

// SyntheticDataset draws a labeled training set when no real labels are
// available. Legitimate and fraudulent rows come from differently
// parameterized distributions per feature, then the whole set is shuffled.
// Rows follow the fixed feature schema order.
func SyntheticDataset(n int, seed int64) ([][]float64, []int) {
	if n <= 0 {
		return nil, nil
	}
	rng := rand.New(rand.NewSource(seed))
	fraudCount := int(float64(n) * FraudPrevalence)

	x := make([][]float64, 0, n)
	y := make([]int, 0, n)
	for i := 0; i < n-fraudCount; i++ {
		x = append(x, legitRow(rng))
		y = append(y, 0)
	}
	for i := 0; i < fraudCount; i++ {
		x = append(x, fraudRow(rng))
		y = append(y, 1)
	}
	rng.Shuffle(len(x), func(i, j int) {
		x[i], x[j] = x[j], x[i]
		y[i], y[j] = y[j], y[i]
	})
	return x, y
}

func legitRow(rng *rand.Rand) []float64 {
	claimAmount := lognormal(rng, 10.5, 0.8)
	premium := lognormal(rng, 9.5, 0.6)
	catVehicle, catHealth, catProperty := oneHotCategory(rng, 0.5, 0.35)

	hospitalDays := 0.0
	if catHealth == 1 {
		hospitalDays = float64(poisson(rng, 3))
	}

	return assemble(map[string]float64{
		features.FeatClaimAmount:          claimAmount,
		features.FeatPremiumAmount:        premium,
		features.FeatClaimToPremiumRatio:  math.Min(claimAmount/math.Max(premium, 1), 50),
		features.FeatTimeSincePolicyStart: exponential(rng, 1.0/400) + 60,
		features.FeatClaimFrequency:       float64(poisson(rng, 0.8)),
		features.FeatSuspiciousAmount:     bernoulli(rng, 0.05),
		features.FeatIncidentSeverity:     beta(rng, 2, 4),
		features.FeatLocationRisk:         pick(rng, 0.75, 0.3, 0.7),
		features.FeatWeekendHoliday:       bernoulli(rng, 0.28),
		features.FeatLateReporting:        bernoulli(rng, 0.05),
		features.FeatRepairShopRepetition: float64(poisson(rng, 0.3)) * catVehicle,
		features.FeatIsVehicleClaim:       catVehicle,
		features.FeatIsHealthClaim:        catHealth,
		features.FeatIsPropertyClaim:      catProperty,
		features.FeatHospitalStayDays:     hospitalDays,
	})
}

func fraudRow(rng *rand.Rand) []float64 {
	claimAmount := lognormal(rng, 12.0, 1.0)
	premium := lognormal(rng, 9.2, 0.7)
	catVehicle, catHealth, catProperty := oneHotCategory(rng, 0.55, 0.3)

	hospitalDays := 0.0
	if catHealth == 1 {
		hospitalDays = float64(poisson(rng, 9))
	}

	return assemble(map[string]float64{
		features.FeatClaimAmount:          claimAmount,
		features.FeatPremiumAmount:        premium,
		features.FeatClaimToPremiumRatio:  math.Min(claimAmount/math.Max(premium, 1), 50),
		features.FeatTimeSincePolicyStart: exponential(rng, 1.0/45),
		features.FeatClaimFrequency:       float64(poisson(rng, 3.5)),
		features.FeatSuspiciousAmount:     bernoulli(rng, 0.55),
		features.FeatIncidentSeverity:     beta(rng, 5, 2),
		features.FeatLocationRisk:         pick(rng, 0.7, 0.7, 0.3),
		features.FeatWeekendHoliday:       bernoulli(rng, 0.45),
		features.FeatLateReporting:        bernoulli(rng, 0.40),
		features.FeatRepairShopRepetition: float64(poisson(rng, 2.5)) * catVehicle,
		features.FeatIsVehicleClaim:       catVehicle,
		features.FeatIsHealthClaim:        catHealth,
		features.FeatIsPropertyClaim:      catProperty,
		features.FeatHospitalStayDays:     hospitalDays,
	})
}

func assemble(values map[string]float64) []float64 {
	row := make([]float64, 0, features.Count())
	for _, name := range features.Names() {
		row = append(row, values[name])
	}
	return row
}

func oneHotCategory(rng *rand.Rand, pVehicle, pHealth float64) (vehicle, health, property float64) {
	u := rng.Float64()
	switch {
	case u < pVehicle:
		return 1, 0, 0
	case u < pVehicle+pHealth:
		return 0, 1, 0
	default:
		return 0, 0, 1
	}
}

func lognormal(rng *rand.Rand, mu, sigma float64) float64 {
	return math.Exp(mu + sigma*rng.NormFloat64())
}

func exponential(rng *rand.Rand, rate float64) float64 {
	return rng.ExpFloat64() / rate
}

// poisson draws by Knuth's product method, fine for the small lambdas
// used here.
func poisson(rng *rand.Rand, lambda float64) int {
	limit := math.Exp(-lambda)
	k, p := 0, 1.0
	for {
		p *= rng.Float64()
		if p <= limit {
			return k
		}
		k++
	}
}

func bernoulli(rng *rand.Rand, p float64) float64 {
	if rng.Float64() < p {
		return 1
	}
	return 0
}

// beta draws via two gamma variates.
func beta(rng *rand.Rand, a, b float64) float64 {
	ga := gamma(rng, a)
	gb := gamma(rng, b)
	if ga+gb == 0 {
		return 0.5
	}
	return ga / (ga + gb)
}

// gamma implements the Marsaglia-Tsang method for shape >= 1 with the
// usual boost for shape < 1.
func gamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return gamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// pick returns one of two values with probability p for the first.
func pick(rng *rand.Rand, p, first, second float64) float64 {
	if rng.Float64() < p {
		return first
	}
	return second
}
