package backtester

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// runOutOfSample splits the configured date range into an in-sample segment
// followed by an out-of-sample segment, with a purge gap between them so no
// bar used to warm up the out-of-sample run was also visible during the
// in-sample run.
func (e *Engine) runOutOfSample(ctx context.Context, cfg Config, bars map[string][]types.OHLCVBar, progress chan<- types.BacktestProgress) (*types.OutOfSampleResult, error) {
	oos := cfg.Backtest.OutOfSample
	oosPct := oos.OOSPct
	if !oosPct.IsPositive() {
		oosPct = decimal.NewFromFloat(0.3)
	}

	total := cfg.Backtest.EndDate.Sub(cfg.Backtest.StartDate)
	if total <= 0 {
		return nil, fmt.Errorf("backtester: out_of_sample requires end_date after start_date")
	}
	oosFraction, _ := oosPct.Float64()
	oosDur := time.Duration(float64(total) * oosFraction)
	isEnd := cfg.Backtest.EndDate.Add(-oosDur)

	purgeDur := cfg.Backtest.Timeframe.Duration() * time.Duration(oos.PurgeBars)
	oosStart := isEnd.Add(purgeDur)
	if !oosStart.Before(cfg.Backtest.EndDate) {
		return nil, fmt.Errorf("backtester: out_of_sample purge window leaves no out-of-sample bars")
	}

	isRun, err := e.runSimple(ctx, cfg, bars, cfg.Backtest.StartDate, isEnd, nil)
	if err != nil {
		return nil, fmt.Errorf("backtester: out_of_sample in-sample run: %w", err)
	}
	if progress != nil {
		progress <- types.BacktestProgress{Status: "running", Progress: 0.5}
	}
	oosRun, err := e.runSimple(ctx, cfg, bars, oosStart, cfg.Backtest.EndDate, nil)
	if err != nil {
		return nil, fmt.Errorf("backtester: out_of_sample out-of-sample run: %w", err)
	}

	result := &types.OutOfSampleResult{InSampleMetrics: isRun.metrics, OutSampleMetrics: oosRun.metrics}
	result.SharpeRatio = safeRatio(oosRun.metrics.SharpeRatio, isRun.metrics.SharpeRatio)
	result.ProfitFactorRatio = safeRatio(oosRun.metrics.ProfitFactor, isRun.metrics.ProfitFactor)
	result.Verdict = outOfSampleVerdict(result)

	if progress != nil {
		progress <- types.BacktestProgress{Status: "completed", Progress: 1}
	}
	return result, nil
}

func safeRatio(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		return decimal.Zero
	}
	return numerator.Div(denominator)
}

func outOfSampleVerdict(r *types.OutOfSampleResult) string {
	switch {
	case r.SharpeRatio.GreaterThanOrEqual(decimal.NewFromFloat(0.7)) && r.ProfitFactorRatio.GreaterThanOrEqual(decimal.NewFromFloat(0.7)):
		return "validated"
	case r.SharpeRatio.LessThan(decimal.NewFromFloat(0.3)) || r.ProfitFactorRatio.LessThan(decimal.NewFromFloat(0.3)):
		return "overfit"
	default:
		return "marginal"
	}
}
