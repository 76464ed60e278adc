package optimization

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func cfgWithRanges() types.OptimizationConfig {
	return types.OptimizationConfig{
		Strategy: "trend_following",
		ParamRanges: map[string]types.ParamRange{
			"adx_threshold": {Low: d(10), High: d(50), Step: d(5)},
		},
		NTrials: 20,
		Metric:  "sharpe",
		Seed:    42,
	}
}

func metricsFor(sharpe float64, trades int) *types.BacktestMetrics {
	return &types.BacktestMetrics{
		SharpeRatio:    d(sharpe),
		TotalTrades:    trades,
		StabilityScore: d(0.8),
		MonthlyReturns: map[string]decimal.Decimal{"2024-01": d(0.02), "2024-02": d(0.01)},
	}
}

func TestOptimizerDeterministicGivenSeed(t *testing.T) {
	logger := zap.NewNop()
	objective := func(ctx context.Context, params map[string]decimal.Decimal) (*types.BacktestMetrics, error) {
		adx, _ := params["adx_threshold"].Float64()
		return metricsFor(1.0+adx/100, 20), nil
	}

	o1 := NewOptimizer(logger)
	r1, err := o1.Run(context.Background(), cfgWithRanges(), objective)
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	o2 := NewOptimizer(logger)
	r2, err := o2.Run(context.Background(), cfgWithRanges(), objective)
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if !r1.BestParams["adx_threshold"].Equal(r2.BestParams["adx_threshold"]) {
		t.Fatalf("optimizer not deterministic: %s vs %s", r1.BestParams["adx_threshold"], r2.BestParams["adx_threshold"])
	}
	if !r1.BestScore.Equal(r2.BestScore) {
		t.Fatalf("best score not deterministic: %s vs %s", r1.BestScore, r2.BestScore)
	}
}

func TestOptimizerFewerThanTenTradesNotViable(t *testing.T) {
	objective := func(ctx context.Context, params map[string]decimal.Decimal) (*types.BacktestMetrics, error) {
		return metricsFor(1.5, 3), nil
	}
	cfg := cfgWithRanges()
	cfg.NTrials = 15
	o := NewOptimizer(zap.NewNop())
	result, err := o.Run(context.Background(), cfg, objective)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Verdict != "strategy_not_viable" {
		t.Errorf("verdict = %q, want strategy_not_viable", result.Verdict)
	}
}

func TestOptimizerAllTrialsErrorIsNotViable(t *testing.T) {
	objective := func(ctx context.Context, params map[string]decimal.Decimal) (*types.BacktestMetrics, error) {
		return nil, context.DeadlineExceeded
	}
	o := NewOptimizer(zap.NewNop())
	result, err := o.Run(context.Background(), cfgWithRanges(), objective)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Verdict != "strategy_not_viable" {
		t.Errorf("verdict = %q, want strategy_not_viable", result.Verdict)
	}
}

func TestParameterImportanceSumsToOne(t *testing.T) {
	objective := func(ctx context.Context, params map[string]decimal.Decimal) (*types.BacktestMetrics, error) {
		adx, _ := params["adx_threshold"].Float64()
		return metricsFor(adx/25, 20), nil
	}
	cfg := cfgWithRanges()
	cfg.NTrials = 30
	o := NewOptimizer(zap.NewNop())
	result, err := o.Run(context.Background(), cfg, objective)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	sum := decimal.Zero
	for _, v := range result.ParameterImportance {
		sum = sum.Add(v)
	}
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(decimal.NewFromFloat(1e-9)) {
		t.Errorf("parameter importances sum to %s, want 1", sum)
	}
}

func TestOverfittingRiskHighWhenSharpeAndStabilityLow(t *testing.T) {
	m := metricsFor(0.1, 20)
	m.StabilityScore = d(0.1)
	if risk := overfittingRisk(m); risk != "high" {
		t.Errorf("overfittingRisk = %q, want high", risk)
	}
}
