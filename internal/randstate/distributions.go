package randstate

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

const normalizedTolerance = 1e-12

// dirichlet redraws when tiny concentrations underflow every gamma
// component, which leaves the normalized vector NaN.
func dirichlet(src rand.Source, alpha []float64) []float64 {
	d := distmv.NewDirichlet(alpha, src)
	out := make([]float64, len(alpha))
	for {
		d.Rand(out)
		if !floats.HasNaN(out) {
			return out
		}
	}
}

func poisson(src rand.Source, lambda float64) int {
	return int(distuv.Poisson{Lambda: lambda, Src: src}.Rand())
}

// choice expects probs from normalize.
func choice(src rand.Source, probs []float64, n int) []int {
	c := distuv.NewCategorical(probs, src)
	out := make([]int, n)
	for i := range out {
		out[i] = int(c.Rand())
	}
	return out
}

// normalize returns weights scaled to sum to 1. A vector already summing to 1
// is returned unchanged so repeated normalization cannot drift.
func normalize(weights []float64) ([]float64, bool) {
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, false
		}
	}
	sum := floats.Sum(weights)
	if !(sum > 0) || math.IsInf(sum, 0) {
		return nil, false
	}
	if math.Abs(sum-1) <= normalizedTolerance {
		return weights, true
	}
	out := make([]float64, len(weights))
	floats.ScaleTo(out, 1/sum, weights)
	return out, true
}
