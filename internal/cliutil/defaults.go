// Package cliutil holds the default sub-configs and viability rule shared
// by the run-backtest and run-optimization CLI harnesses, so both binaries
// score a BacktestResult the same way rather than drifting independently.
package cliutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// DefaultBacktestConfig fills in a BacktestConfig with the conservative
// defaults a CLI invocation needs when no risk.yaml/backtest.yaml is
// supplied: 1% risk per trade, ATR-based stops at 2×ATR, spread-based
// slippage, per-lot commission.
func DefaultBacktestConfig(strategies, symbols []string, broker string, tf types.Timeframe, start, end time.Time, mode types.BacktestMode, initialCapital decimal.Decimal) types.BacktestConfig {
	return types.BacktestConfig{
		ID:             "cli-run",
		Strategies:     strategies,
		Symbols:        symbols,
		Broker:         broker,
		StartDate:      start,
		EndDate:        end,
		Timeframe:      tf,
		Mode:           mode,
		InitialCapital: initialCapital,
		WarmupBars:     100,
		Seed:           42,
		Commission: types.CommissionConfig{
			Model:  "per_lot",
			PerLot: decimal.NewFromFloat(7),
		},
		Slippage: types.SlippageConfig{
			Model:          "spread_based",
			PipSize:        decimal.NewFromFloat(0.0001),
			PartialFillMin: decimal.NewFromFloat(0.25),
			PartialFillMax: decimal.NewFromFloat(0.95),
		},
		RiskLimits: DefaultRiskLimits(),
		WalkForward: types.WalkForwardConfig{
			Enabled: mode == types.BacktestModeWalkForward, WindowDays: 90, StepDays: 30, MinWindows: 3,
		},
		OutOfSample: types.OutOfSampleConfig{
			Enabled: mode == types.BacktestModeOutOfSample, OOSPct: decimal.NewFromFloat(0.3), PurgeBars: 10,
		},
	}
}

// DefaultRiskLimits is the portfolio-wide cap set every harness and
// integration test in this module reads defaults from, so a CLI run and a
// unit test agree on what "unconfigured" risk means.
func DefaultRiskLimits() types.RiskLimits {
	return types.RiskLimits{
		MaxPositionSize:          decimal.NewFromFloat(0.2),
		MaxUnits:                 decimal.NewFromInt(1000000),
		MaxRiskPerTradePct:       decimal.NewFromFloat(0.01),
		MaxDrawdownPct:           decimal.NewFromFloat(0.25),
		MaxDailyLossPct:          decimal.NewFromFloat(0.03),
		MaxWeeklyLossPct:         decimal.NewFromFloat(0.08),
		MinEquityThreshold:       decimal.Zero,
		MaxOpenPositions:         5,
		MaxExposurePerSymbolPct:  decimal.NewFromFloat(0.3),
		MaxExposurePerClassPct:   decimal.NewFromFloat(0.6),
		MaxCorrelatedExposurePct: decimal.NewFromFloat(0.4),
		MaxCorrelatedPositions:   2,
		MaxConsecutiveLosses:     5,
		MinRewardRiskRatio:       decimal.NewFromFloat(1.2),
		EquityMismatchCriticalPct: decimal.NewFromInt(1),
	}
}

func DefaultSizing() types.SizingConfig {
	return types.SizingConfig{
		Method:             types.SizingPercentRisk,
		RiskPercent:        decimal.NewFromFloat(0.01),
		ATRMultiplier:      decimal.NewFromInt(2),
		KellyWinProbability: decimal.NewFromFloat(0.55),
		KellyWinLossRatio:  decimal.NewFromFloat(1.5),
		KellyFraction:      decimal.NewFromFloat(0.5),
	}
}

func DefaultStops() types.StopConfig {
	return types.StopConfig{
		SLMethod:              types.StopLossATR,
		TPMethod:              types.TakeProfitRRRatio,
		TrailingMethod:        types.TrailingATRBased,
		ATRMultiplierSL:       decimal.NewFromInt(2),
		ATRMultiplierTrailing: decimal.NewFromInt(1),
		RRRatio:               decimal.NewFromFloat(1.5),
		BreakevenAfterR:       decimal.NewFromInt(1),
		StepR:                 decimal.NewFromFloat(0.5),
	}
}

func DefaultEnsemble() types.EnsembleConfig {
	return types.EnsembleConfig{
		Method:                     types.EnsembleWeightedVote,
		WaitThreshold:              decimal.NewFromFloat(0.15),
		ContradictionThreshold:     decimal.NewFromFloat(0.5),
		ContradictionConfidenceCap: decimal.NewFromFloat(0.45),
		RegimeBoostMultiplier:      decimal.NewFromFloat(1.25),
	}
}

func DefaultKillSwitch() types.KillSwitchConfig {
	return types.KillSwitchConfig{
		MaxDailyDrawdownPct:  decimal.NewFromFloat(0.03),
		MaxWeeklyDrawdownPct: decimal.NewFromFloat(0.08),
		MinEquityThreshold:   decimal.Zero,
		MaxConsecutiveLosses: 6,
		MaxAPIErrorRate:      decimal.NewFromFloat(0.2),
		MaxLatencyMs:         2000,
		MaxFillDeviationPct:  decimal.NewFromFloat(0.02),
		CooldownPeriod:       time.Hour,
	}
}

func DefaultRetry() types.RetryConfig {
	return types.RetryConfig{
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 3,
		JitterPct:   decimal.NewFromFloat(0.1),
	}
}

// IsViable applies the run-backtest exit-code rule: a backtest is
// viable when it produced at least one trade, a positive Sharpe ratio, and
// a profit factor of at least 1 (or infinite, i.e. no losing trades at all).
func IsViable(m *types.BacktestMetrics) bool {
	if m == nil || m.TotalTrades == 0 {
		return false
	}
	if !m.SharpeRatio.IsPositive() {
		return false
	}
	return m.ProfitFactor.GreaterThan(decimal.NewFromInt(1)) || m.ProfitFactor.Equal(decimal.NewFromInt(1))
}
