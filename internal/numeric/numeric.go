package numeric

import (
	"math"
	"math/rand"
	"time"
)

// Source is the random source shared by the genetic operators. *rand.Rand
// satisfies it; tests pass a seeded one for reproducible runs.
type Source interface {
	Float64() float64
	NormFloat64() float64
	Intn(n int) int
}

// NewSource returns a seeded source. A zero seed draws one from the clock.
func NewSource(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// FlipCoin reports heads with probability 1/2.
func FlipCoin(rng Source) bool {
	return rng.Intn(2) == 0
}

// EventOccurred runs a Bernoulli trial: true with the given probability.
func EventOccurred(rng Source, probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	return rng.Float64() < probability
}

func InRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Similarity scores how close actual is to ideal. The expression is evaluated
// exactly as 1 - |ideal-actual|/hi - lo; it is not normalized to a fixed range
// and is only meaningful for ranking individuals against each other.
func Similarity(ideal, actual, lo, hi float64) float64 {
	return 1 - math.Abs(ideal-actual)/hi - lo
}

// StdDev is the mutation spread for a gene range: six deviations span it.
func StdDev(lo, hi float64) float64 {
	return (hi - lo) / 6
}

func Normal(rng Source, mean, stddev float64) float64 {
	return mean + stddev*rng.NormFloat64()
}

// UniquePair draws two distinct indices in [0, n) uniformly, resampling the
// second until it differs from the first. For n < 2 no distinct pair exists
// and (0, 0) is returned.
func UniquePair(rng Source, n int) (int, int) {
	if n < 2 {
		return 0, 0
	}
	first := rng.Intn(n)
	second := rng.Intn(n)
	for second == first {
		second = rng.Intn(n)
	}
	return first, second
}
