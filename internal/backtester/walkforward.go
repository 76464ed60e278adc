package backtester

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/internal/workers"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

type windowBounds struct {
	trainStart, trainEnd, testStart, testEnd time.Time
}

// runWalkForward slides a train/test window pair across the full date range,
// scoring how much each window's test-segment performance degrades relative
// to its train segment. At least three windows are required to call a
// verdict; fewer than that means the date range or window size doesn't
// support walk-forward analysis.
//
// Each window's train and test runs are independent of every other
// window's, so they fan out across a worker pool rather than running one
// window at a time; wall-clock for a multi-window analysis scales with the
// slowest single window instead of their sum.
func (e *Engine) runWalkForward(ctx context.Context, cfg Config, bars map[string][]types.OHLCVBar, progress chan<- types.BacktestProgress) (*types.WalkForwardSummary, error) {
	wf := cfg.Backtest.WalkForward
	if wf.WindowDays <= 0 || wf.StepDays <= 0 {
		return nil, fmt.Errorf("backtester: walk_forward requires window_days and step_days > 0")
	}

	windowDur := time.Duration(wf.WindowDays) * 24 * time.Hour
	stepDur := time.Duration(wf.StepDays) * 24 * time.Hour
	trainDur := windowDur * 2 / 3
	if trainDur <= 0 {
		trainDur = windowDur / 2
	}

	var bounds []windowBounds
	for trainStart := cfg.Backtest.StartDate; ; trainStart = trainStart.Add(stepDur) {
		trainEnd := trainStart.Add(trainDur)
		testStart := trainEnd
		testEnd := trainStart.Add(windowDur)
		if testEnd.After(cfg.Backtest.EndDate) {
			break
		}
		bounds = append(bounds, windowBounds{trainStart, trainEnd, testStart, testEnd})
	}

	minWindows := wf.MinWindows
	if minWindows <= 0 {
		minWindows = 3
	}
	if len(bounds) < minWindows {
		return nil, fmt.Errorf("backtester: walk_forward produced %d windows, need at least %d", len(bounds), minWindows)
	}

	pool := workers.NewPool(e.logger, workers.DefaultPoolConfig("walkforward"))
	pool.Start()
	defer pool.Stop()

	windows := make([]types.WalkForwardWindow, len(bounds))
	errs := make([]error, len(bounds))
	var completed int64
	var wg sync.WaitGroup
	for i, b := range bounds {
		wg.Add(1)
		go func(i int, b windowBounds) {
			defer wg.Done()
			err := pool.SubmitWait(workers.TaskFunc(func() error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				trainRun, err := e.runSimple(ctx, cfg, bars, b.trainStart, b.trainEnd, nil)
				if err != nil {
					return fmt.Errorf("walk_forward train window [%s,%s]: %w", b.trainStart, b.trainEnd, err)
				}
				testRun, err := e.runSimple(ctx, cfg, bars, b.testStart, b.testEnd, nil)
				if err != nil {
					return fmt.Errorf("walk_forward test window [%s,%s]: %w", b.testStart, b.testEnd, err)
				}
				windows[i] = types.WalkForwardWindow{
					TrainStart: b.trainStart, TrainEnd: b.trainEnd, TestStart: b.testStart, TestEnd: b.testEnd,
					TrainMetrics: trainRun.metrics, TestMetrics: testRun.metrics,
					DegradationScore: degradationScore(trainRun.metrics, testRun.metrics),
				}
				if progress != nil {
					n := atomic.AddInt64(&completed, 1)
					progress <- types.BacktestProgress{Status: "running", Progress: float64(n) / float64(len(bounds))}
				}
				return nil
			}))
			if err != nil {
				errs[i] = fmt.Errorf("backtester: %w", err)
			}
		}(i, b)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	summary := &types.WalkForwardSummary{Windows: windows}
	summary.AvgDegradationScore = avgDecimal(degradationScores(windows))
	summary.PctWindowsProfitable = pctProfitable(windows)
	summary.SharpeStability = sharpeStability(windows)
	summary.Verdict = walkForwardVerdict(summary)
	return summary, nil
}

// degradationScore is test_sharpe / train_sharpe: 1.0 means the test segment
// held up exactly as well as training, 0 means it collapsed entirely. A
// train Sharpe of zero (|train| <= 1e-12) makes the ratio meaningless, so it
// scores 0 (maximum degradation).
func degradationScore(train, test *types.BacktestMetrics) decimal.Decimal {
	if train == nil || test == nil || train.SharpeRatio.Abs().LessThanOrEqual(decimal.NewFromFloat(1e-12)) {
		return decimal.Zero
	}
	return test.SharpeRatio.Div(train.SharpeRatio)
}

func degradationScores(windows []types.WalkForwardWindow) []decimal.Decimal {
	out := make([]decimal.Decimal, len(windows))
	for i, w := range windows {
		out[i] = w.DegradationScore
	}
	return out
}

func avgDecimal(xs []decimal.Decimal) decimal.Decimal {
	if len(xs) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, x := range xs {
		sum = sum.Add(x)
	}
	return sum.Div(decimal.NewFromInt(int64(len(xs))))
}

func pctProfitable(windows []types.WalkForwardWindow) decimal.Decimal {
	if len(windows) == 0 {
		return decimal.Zero
	}
	profitable := 0
	for _, w := range windows {
		if w.TestMetrics != nil && w.TestMetrics.TotalPnLNet.IsPositive() {
			profitable++
		}
	}
	return decimal.NewFromInt(int64(profitable)).Div(decimal.NewFromInt(int64(len(windows)))).Mul(decimal.NewFromInt(100))
}

// sharpeStability is 1 minus the coefficient of variation of test-segment
// Sharpe ratios across windows, clamped to [0,1]; a strategy whose out-of-
// sample Sharpe swings wildly window to window scores near 0.
func sharpeStability(windows []types.WalkForwardWindow) decimal.Decimal {
	if len(windows) == 0 {
		return decimal.Zero
	}
	floats := make([]float64, 0, len(windows))
	for _, w := range windows {
		if w.TestMetrics != nil {
			floats = append(floats, mustFloat(w.TestMetrics.SharpeRatio))
		}
	}
	mean, std := meanStd(floats)
	if mean == 0 {
		return decimal.Zero
	}
	cv := std / absF(mean)
	v := 1 - cv
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return decimal.NewFromFloat(v)
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// walkForwardVerdict reads AvgDegradationScore as the test/train Sharpe
// ratio: close to 1 means test held up as well as train (robust), close to
// 0 means test collapsed relative to train (overfit).
func walkForwardVerdict(s *types.WalkForwardSummary) string {
	switch {
	case s.AvgDegradationScore.GreaterThanOrEqual(decimal.NewFromFloat(0.7)) && s.PctWindowsProfitable.GreaterThanOrEqual(decimal.NewFromInt(60)):
		return "robust"
	case s.AvgDegradationScore.LessThan(decimal.NewFromFloat(0.4)) || s.PctWindowsProfitable.LessThan(decimal.NewFromInt(40)):
		return "overfit"
	default:
		return "marginal"
	}
}
