package backtester

import (
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// RunMonteCarlo resamples the realized trade P&L sequence to estimate how
// sensitive the result is to trade ordering: each iteration shuffles
// (cfg.ShuffleReturns) or bootstraps the trade P&Ls, replays them against
// initialCapital, and records the final return and max drawdown. A seeded
// RNG keeps repeated runs over the same trades and config deterministic.
func RunMonteCarlo(cfg types.MonteCarloConfig, trades []types.BacktestTrade, initialCapital decimal.Decimal) *types.MonteCarloResult {
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 1000
	}
	if len(trades) == 0 || !initialCapital.IsPositive() {
		return &types.MonteCarloResult{Iterations: iterations}
	}

	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = mustFloat(t.PnLNet)
	}
	initial := mustFloat(initialCapital)

	rng := rand.New(rand.NewSource(cfg.Seed))
	returns := make([]float64, iterations)
	drawdowns := make([]float64, iterations)
	ruinCount := 0

	for i := 0; i < iterations; i++ {
		sample := resample(pnls, rng, cfg.ShuffleReturns)
		equity := initial
		peak := initial
		maxDD := 0.0
		ruined := false
		for _, pnl := range sample {
			equity += pnl
			if equity > peak {
				peak = equity
			}
			if peak > 0 {
				dd := (peak - equity) / peak
				if dd > maxDD {
					maxDD = dd
				}
			}
			if equity <= 0 {
				ruined = true
			}
		}
		returns[i] = (equity - initial) / initial
		drawdowns[i] = maxDD
		if ruined {
			ruinCount++
		}
	}

	sort.Float64s(returns)
	sort.Float64s(drawdowns)

	result := &types.MonteCarloResult{
		Iterations:      iterations,
		MedianReturn:    decimal.NewFromFloat(percentile(returns, 0.5)),
		P5Return:        decimal.NewFromFloat(percentile(returns, 0.05)),
		P95Return:       decimal.NewFromFloat(percentile(returns, 0.95)),
		ProbabilityRuin: decimal.NewFromFloat(float64(ruinCount) / float64(iterations)),
		MaxDrawdownP95:  decimal.NewFromFloat(percentile(drawdowns, 0.95)),
	}
	result.Distribution = make([]decimal.Decimal, len(returns))
	for i, r := range returns {
		result.Distribution[i] = decimal.NewFromFloat(r)
	}
	return result
}

// resample either shuffles the P&L sequence in place (order-sensitivity
// test) or draws a bootstrap sample with replacement (path-sensitivity
// test), per cfg.ShuffleReturns.
func resample(pnls []float64, rng *rand.Rand, shuffle bool) []float64 {
	out := make([]float64, len(pnls))
	if shuffle {
		copy(out, pnls)
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}
	for i := range out {
		out[i] = pnls[rng.Intn(len(pnls))]
	}
	return out
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
