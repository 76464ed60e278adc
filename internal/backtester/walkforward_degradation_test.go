package backtester

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

func TestDegradationScoreIsTestOverTrainRatio(t *testing.T) {
	train := &types.BacktestMetrics{SharpeRatio: decimal.NewFromFloat(2.0)}
	test := &types.BacktestMetrics{SharpeRatio: decimal.NewFromFloat(0.6)}

	got := degradationScore(train, test)
	want := decimal.NewFromFloat(0.3)
	if got.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(1e-9)) {
		t.Fatalf("degradationScore = %s, want %s", got, want)
	}
}

func TestDegradationScoreZeroOnZeroTrainSharpe(t *testing.T) {
	train := &types.BacktestMetrics{SharpeRatio: decimal.Zero}
	test := &types.BacktestMetrics{SharpeRatio: decimal.NewFromFloat(0.6)}

	if got := degradationScore(train, test); !got.IsZero() {
		t.Fatalf("degradationScore = %s, want 0", got)
	}
}

func TestWalkForwardVerdictOverfitOnLowDegradation(t *testing.T) {
	windows := make([]types.WalkForwardWindow, 3)
	for i := range windows {
		train := &types.BacktestMetrics{SharpeRatio: decimal.NewFromFloat(2.0), TotalPnLNet: decimal.NewFromFloat(100)}
		test := &types.BacktestMetrics{SharpeRatio: decimal.NewFromFloat(0.6), TotalPnLNet: decimal.NewFromFloat(-50)}
		windows[i] = types.WalkForwardWindow{
			TrainMetrics:     train,
			TestMetrics:      test,
			DegradationScore: degradationScore(train, test),
		}
	}

	summary := &types.WalkForwardSummary{Windows: windows}
	summary.AvgDegradationScore = avgDecimal(degradationScores(windows))
	summary.PctWindowsProfitable = pctProfitable(windows)
	summary.SharpeStability = sharpeStability(windows)
	summary.Verdict = walkForwardVerdict(summary)

	wantAvg := decimal.NewFromFloat(0.3)
	if summary.AvgDegradationScore.Sub(wantAvg).Abs().GreaterThan(decimal.NewFromFloat(1e-9)) {
		t.Fatalf("avg degradation = %s, want %s", summary.AvgDegradationScore, wantAvg)
	}
	if summary.AvgDegradationScore.GreaterThanOrEqual(decimal.NewFromFloat(0.5)) {
		t.Fatalf("avg degradation %s should be < 0.5", summary.AvgDegradationScore)
	}
	if summary.Verdict != "overfit" {
		t.Fatalf("verdict = %q, want overfit", summary.Verdict)
	}
}
