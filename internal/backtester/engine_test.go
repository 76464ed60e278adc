package backtester

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

func syntheticBars(count int) []types.OHLCVBar {
	bars := make([]types.OHLCVBar, count)
	basePrice := 50000.0
	baseTime := time.Now().Add(-time.Duration(count) * time.Hour)
	for i := 0; i < count; i++ {
		trend := float64(i) * 0.5
		noise := float64((i*17)%100-50) * 0.5
		price := basePrice + trend + noise
		high := price * (1 + float64((i*13)%10)*0.001)
		low := price * (1 - float64((i*7)%10)*0.001)
		open := price * (1 + float64((i*11)%5-2)*0.001)
		ts := baseTime.Add(time.Duration(i) * time.Hour)
		bars[i] = types.OHLCVBar{
			Symbol: "BTCUSDT", Timeframe: types.Timeframe1h,
			TsOpen: ts, TsClose: ts.Add(time.Hour),
			Open: decimal.NewFromFloat(open), High: decimal.NewFromFloat(high),
			Low: decimal.NewFromFloat(low), Close: decimal.NewFromFloat(price),
			Volume: decimal.NewFromFloat(100 + float64((i*23)%200)),
		}
	}
	return bars
}

// TestEngineAppliesStrategyParamOverrides confirms a run given an in-range
// Config.StrategyParams override, the way cmd/run-optimization tunes a
// strategy across trials without mutating its factory, completes and
// reports metrics.
func TestEngineAppliesStrategyParamOverrides(t *testing.T) {
	bars := syntheticBars(400)
	cfg := Config{
		Backtest: types.BacktestConfig{
			ID: "override-test", Strategies: []string{"trend_following"}, Symbols: []string{"BTCUSDT"},
			Broker: "backtest", Timeframe: types.Timeframe1h,
			StartDate: bars[0].TsOpen, EndDate: bars[len(bars)-1].TsClose,
			Mode: types.BacktestModeSimple, InitialCapital: decimal.NewFromInt(10000),
		},
		StrategyParams: map[string]map[string]decimal.Decimal{
			"trend_following": {"adx_threshold": decimal.NewFromInt(45)},
		},
	}

	engine := NewEngine(zap.NewNop())
	result, err := engine.Run(context.Background(), cfg, map[string][]types.OHLCVBar{"BTCUSDT": bars}, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Metrics == nil {
		t.Fatal("expected metrics")
	}
}

// TestEngineRejectsInvalidStrategyParamOverride confirms an out-of-range
// override does not fail the run and is not replaced by the strategy's
// default: the strategy yields no signals, so the run ends with no trades.
func TestEngineRejectsInvalidStrategyParamOverride(t *testing.T) {
	bars := syntheticBars(200)
	cfg := Config{
		Backtest: types.BacktestConfig{
			ID: "bad-override-test", Strategies: []string{"trend_following"}, Symbols: []string{"BTCUSDT"},
			Broker: "backtest", Timeframe: types.Timeframe1h,
			StartDate: bars[0].TsOpen, EndDate: bars[len(bars)-1].TsClose,
			Mode: types.BacktestModeSimple, InitialCapital: decimal.NewFromInt(10000), WarmupBars: 30,
		},
		StrategyParams: map[string]map[string]decimal.Decimal{
			"trend_following": {"adx_threshold": decimal.NewFromInt(999)},
		},
	}

	engine := NewEngine(zap.NewNop())
	result, err := engine.Run(context.Background(), cfg, map[string][]types.OHLCVBar{"BTCUSDT": bars}, nil)
	// The signal engine swallows per-strategy Create errors per bar (it
	// skips them silently), so the run itself still completes; it simply never
	// gets a signal from trend_following. Assert it doesn't panic and
	// produces zero trades rather than silently using the default.
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Metrics != nil && result.Metrics.TotalTrades != 0 {
		t.Errorf("expected no trades from a strategy whose override always fails Create, got %d", result.Metrics.TotalTrades)
	}
}
