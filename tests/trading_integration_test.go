// Package tests exercises the strategy, sizing, and backtester packages
// together, the way a live decision pipeline chains them.
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/internal/backtester"
	"github.com/zeroframe404/sistema-pro-trader/internal/sizing"
	"github.com/zeroframe404/sistema-pro-trader/internal/strategy"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
	"github.com/zeroframe404/sistema-pro-trader/pkg/utils"
)

func generateTestBars(count int) []types.OHLCVBar {
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
		volume := 100.0 + float64((i*23)%200)

		ts := baseTime.Add(time.Duration(i) * time.Hour)
		bars[i] = types.OHLCVBar{
			Symbol: "BTCUSDT", Timeframe: types.Timeframe("1h"),
			TsOpen: ts, TsClose: ts.Add(time.Hour),
			Open: decimal.NewFromFloat(open), High: decimal.NewFromFloat(high),
			Low: decimal.NewFromFloat(low), Close: decimal.NewFromFloat(price),
			Volume: decimal.NewFromFloat(volume),
		}
	}
	return bars
}

func TestStrategiesAgainstSyntheticBars(t *testing.T) {
	bars := generateTestBars(300)
	regime := &types.MarketRegime{
		Symbol: "BTCUSDT", Timeframe: types.Timeframe("1h"), Ts: bars[len(bars)-1].TsClose,
		Trend: types.TrendWeakUp, Volatility: types.VolatilityNormal, Liquidity: types.LiquidityGood,
		IsTradeable: true, Confidence: decimal.NewFromFloat(0.7),
	}

	reg := strategy.NewRegistry()
	for _, name := range reg.List() {
		t.Run(name, func(t *testing.T) {
			strat, err := reg.Create(name)
			if err != nil {
				t.Fatalf("create %s: %v", name, err)
			}

			signalCount := 0
			for i := 30; i < len(bars); i++ {
				signal, err := strat.Evaluate(bars[:i+1], regime, bars[i].TsClose)
				if err != nil {
					t.Fatalf("evaluate at bar %d: %v", i, err)
				}
				if signal != nil {
					signalCount++
				}
			}
			t.Logf("%s generated %d signals from %d bars", name, signalCount, len(bars)-30)
		})
	}
}

func TestPositionSizerMethods(t *testing.T) {
	logger := zap.NewNop()

	methods := []types.SizingMethod{
		types.SizingFixedUnits, types.SizingFixedAmount, types.SizingPercentEquity,
		types.SizingPercentRisk, types.SizingATRBased, types.SizingKellyFraction,
	}

	for _, method := range methods {
		t.Run(string(method), func(t *testing.T) {
			cfg := types.SizingConfig{
				Method: method,
				FixedUnits: decimal.NewFromFloat(0.1), FixedAmount: decimal.NewFromInt(1000),
				PercentEquity: decimal.NewFromFloat(0.1), RiskPercent: decimal.NewFromFloat(0.01),
				ATRMultiplier: decimal.NewFromInt(2),
				KellyWinProbability: decimal.NewFromFloat(0.55), KellyWinLossRatio: decimal.NewFromFloat(1.5),
				KellyFraction: decimal.NewFromFloat(0.5),
			}
			sizer := sizing.NewPositionSizer(logger, cfg)

			result, err := sizer.Size(sizing.Request{
				Symbol: "BTCUSDT", Equity: decimal.NewFromInt(10000),
				EntryPrice: decimal.NewFromInt(50000), StopPrice: decimal.NewFromInt(49000),
				ATR: decimal.NewFromInt(500), Confidence: decimal.NewFromFloat(0.7),
			})
			if err != nil {
				t.Fatalf("size: %v", err)
			}
			if result.Units.IsNegative() {
				t.Errorf("expected non-negative units, got %s", result.Units)
			}
			t.Logf("%s -> units=%s riskPct=%s zeroed=%v", method, result.Units, result.RiskPct, result.Zeroed)
		})
	}
}

// TestBacktesterEngineDirect drives backtester.Engine.Run directly (no HTTP
// layer) against synthetic bars, the same entry point cmd/run-backtest uses.
func TestBacktesterEngineDirect(t *testing.T) {
	logger := zap.NewNop()
	engine := backtester.NewEngine(logger)

	bars := generateTestBars(500)
	cfg := backtester.Config{
		Backtest: types.BacktestConfig{
			ID: "direct-engine-test", Symbols: []string{"BTCUSDT"}, Broker: "backtest",
			Timeframe: types.Timeframe("1h"), StartDate: bars[0].TsOpen, EndDate: bars[len(bars)-1].TsClose,
			Mode: types.BacktestModeSimple, InitialCapital: decimal.NewFromInt(10000),
		},
	}

	result, err := engine.Run(context.Background(), cfg, map[string][]types.OHLCVBar{"BTCUSDT": bars}, nil)
	if err != nil {
		t.Fatalf("backtest run failed: %v", err)
	}

	t.Logf("events processed: %d, trades: %d", result.EventsProcessed, len(result.Trades))
	if result.Metrics != nil {
		t.Logf("total pnl: %s, max drawdown: %s", result.Metrics.TotalPnLNet, result.Metrics.MaxDrawdownPct)
	}
}

func TestUtilsHelpers(t *testing.T) {
	t.Run("GenerateIDs", func(t *testing.T) {
		orderID := utils.GenerateOrderID()
		tradeID := utils.GenerateTradeID()
		signalID := utils.GenerateSignalID()
		if len(orderID) == 0 || len(tradeID) == 0 || len(signalID) == 0 {
			t.Error("generated IDs should not be empty")
		}

		ids := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			id := utils.GenerateOrderID()
			if ids[id] {
				t.Fatal("duplicate ID generated")
			}
			ids[id] = true
		}
	})

	t.Run("ParseAndFormatSymbol", func(t *testing.T) {
		base, quote := utils.ParseSymbol("BTC/USDT")
		if base != "BTC" || quote != "USDT" {
			t.Errorf("ParseSymbol = (%s, %s)", base, quote)
		}
		if formatted := utils.FormatSymbol("btcusdt"); formatted == "" {
			t.Error("FormatSymbol returned empty string")
		}
	})

	t.Run("RoundToStepAndTickSize", func(t *testing.T) {
		rounded := utils.RoundToStepSize(decimal.NewFromFloat(0.1234), decimal.NewFromFloat(0.01))
		if !rounded.Equal(decimal.NewFromFloat(0.12)) {
			t.Errorf("RoundToStepSize = %s, want 0.12", rounded)
		}
		tick := utils.RoundToTickSize(decimal.NewFromFloat(50123.7), decimal.NewFromFloat(0.5))
		if !tick.Equal(decimal.NewFromFloat(50123.5)) {
			t.Errorf("RoundToTickSize = %s, want 50123.5", tick)
		}
	})

	t.Run("Statistics", func(t *testing.T) {
		values := []decimal.Decimal{
			decimal.NewFromInt(10), decimal.NewFromInt(20), decimal.NewFromInt(30),
			decimal.NewFromInt(40), decimal.NewFromInt(50),
		}
		mean := utils.CalculateMean(values)
		if !mean.Equal(decimal.NewFromInt(30)) {
			t.Errorf("expected mean 30, got %s", mean)
		}
		if std := utils.CalculateStdDev(values); !std.IsPositive() {
			t.Error("stddev should be positive")
		}
	})
}
