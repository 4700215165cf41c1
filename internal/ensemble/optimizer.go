package ensemble

import (
	"math"
	"math/rand"

	"github.com/demandcast/demandcast/internal/config"
)

// Objective scores a weight vector; lower is better.
type Objective func(w []float64) float64

type optimizerResult struct {
	weights     []float64
	objective   float64
	evaluations int
	converged   bool
}

// optimize runs projected coordinate descent over the probability simplex:
// cycle coordinates, nudge one weight, re-project, keep the candidate when
// it strictly improves the objective or matches it with a strictly smaller
// L2 norm. The L2 tie-break makes the result deterministic when several
// weight vectors achieve the same objective. The step size resets after
// every improvement and backtracks otherwise.
func optimize(cfg config.OptimizerConfig, dims int, objective Objective) optimizerResult {
	current := equalWeights(dims)
	best := append([]float64(nil), current...)
	bestObj := objective(best)
	bestNorm := normSq(best)
	evaluations := 1

	rng := rand.New(rand.NewSource(int64(cfg.Seed)))
	step := cfg.InitialStep
	noImprovement := 0

	for evaluations < cfg.MaxEvaluations {
		improved := false
		lastBest := bestObj

		for coord := 0; coord < dims && evaluations < cfg.MaxEvaluations; coord++ {
			directions := []float64{1, -1}
			if rng.Float64() < 0.5 {
				directions[0], directions[1] = directions[1], directions[0]
			}

			for _, dir := range directions {
				if evaluations >= cfg.MaxEvaluations {
					break
				}
				candidate := append([]float64(nil), best...)
				candidate[coord] += dir * step
				projectSimplex(candidate)

				obj := objective(candidate)
				evaluations++

				norm := normSq(candidate)
				strictly := obj < bestObj-1e-15
				tied := math.Abs(obj-bestObj) <= 1e-12 && norm < bestNorm-1e-12
				if strictly || tied {
					best = candidate
					bestObj = obj
					bestNorm = norm
					if strictly {
						improved = true
					}
					break
				}
			}
		}

		if improved {
			step = cfg.InitialStep
			noImprovement = 0
		} else {
			step *= cfg.BacktrackingRatio
			noImprovement++
			if step < cfg.MinStep {
				return optimizerResult{weights: best, objective: bestObj, evaluations: evaluations, converged: true}
			}
		}
		if noImprovement >= cfg.EarlyStopWindow {
			return optimizerResult{weights: best, objective: bestObj, evaluations: evaluations, converged: true}
		}
		if improved && math.Abs(bestObj-lastBest) < cfg.Tolerance {
			return optimizerResult{weights: best, objective: bestObj, evaluations: evaluations, converged: true}
		}
	}
	return optimizerResult{weights: best, objective: bestObj, evaluations: evaluations, converged: false}
}

// projectSimplex clamps to [0,1] and renormalizes to sum 1 in place. A
// degenerate all-zero vector falls back to equal weights.
func projectSimplex(w []float64) {
	var sum float64
	for i := range w {
		if w[i] < 0 {
			w[i] = 0
		}
		if w[i] > 1 {
			w[i] = 1
		}
		sum += w[i]
	}
	if sum <= 0 {
		for i := range w {
			w[i] = 1.0 / float64(len(w))
		}
		return
	}
	for i := range w {
		w[i] /= sum
	}
}

func equalWeights(dims int) []float64 {
	w := make([]float64, dims)
	for i := range w {
		w[i] = 1.0 / float64(dims)
	}
	return w
}

func normSq(w []float64) float64 {
	var n float64
	for _, v := range w {
		n += v * v
	}
	return n
}
