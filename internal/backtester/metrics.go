package backtester

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// MetricsCalculator turns a trade list and equity curve into the scalar
// BacktestMetrics summary. Ratio statistics (stddev, sqrt) are computed in
// float64 the way the teacher's metrics.go already does, since decimal has
// no native sqrt/variance; every trade-level figure stays decimal end to
// end.
type MetricsCalculator struct{}

func NewMetricsCalculator() *MetricsCalculator { return &MetricsCalculator{} }

const periodsPerYear = 252.0

func (mc *MetricsCalculator) Calculate(trades []types.BacktestTrade, equity []types.EquityCurvePoint, initialCapital decimal.Decimal) *types.BacktestMetrics {
	m := &types.BacktestMetrics{MonthlyReturns: map[string]decimal.Decimal{}, YearlyReturns: map[string]decimal.Decimal{}}
	if len(trades) == 0 {
		return m
	}

	var wins, losses, breakeven int
	var grossProfit, grossLoss, totalPnL, totalPnLNet, totalCommission, totalSlippage decimal.Decimal
	var totalBarsHeld int
	var rSum decimal.Decimal
	longestWin, longestLoss, curWin, curLoss := 0, 0, 0, 0

	for _, t := range trades {
		totalPnL = totalPnL.Add(t.PnL)
		totalPnLNet = totalPnLNet.Add(t.PnLNet)
		totalCommission = totalCommission.Add(t.Commission)
		totalSlippage = totalSlippage.Add(t.Slippage)
		totalBarsHeld += t.BarsHeld
		rSum = rSum.Add(t.RMultiple)

		switch {
		case t.PnLNet.IsPositive():
			wins++
			grossProfit = grossProfit.Add(t.PnLNet)
			curWin++
			curLoss = 0
			if curWin > longestWin {
				longestWin = curWin
			}
		case t.PnLNet.IsNegative():
			losses++
			grossLoss = grossLoss.Add(t.PnLNet)
			curLoss++
			curWin = 0
			if curLoss > longestLoss {
				longestLoss = curLoss
			}
		default:
			breakeven++
		}
	}

	n := decimal.NewFromInt(int64(len(trades)))
	m.TotalTrades = len(trades)
	m.WinningTrades = wins
	m.LosingTrades = losses
	m.BreakevenTrades = breakeven
	m.WinRate = decimal.NewFromInt(int64(wins)).Div(n).Mul(decimal.NewFromInt(100))
	m.TotalPnL = totalPnL
	m.TotalPnLNet = totalPnLNet
	m.TotalCommission = totalCommission
	m.TotalSlippage = totalSlippage
	m.AvgPnLPerTrade = totalPnLNet.Div(n)
	m.AvgRMultiple = rSum.Div(n)
	m.LongestWinningStreak = longestWin
	m.LongestLosingStreak = longestLoss
	m.AvgBarsInTrade = decimal.NewFromInt(int64(totalBarsHeld)).Div(n)

	if wins > 0 {
		m.AvgPnLWinners = grossProfit.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		m.AvgPnLLosers = grossLoss.Div(decimal.NewFromInt(int64(losses)))
	}

	// Profit factor: gross_profit/|gross_loss|; all winners => +inf; all
	// losers => 0.
	switch {
	case grossLoss.IsZero() && grossProfit.IsPositive():
		m.ProfitFactor = decimal.NewFromFloat(math.Inf(1))
	case grossProfit.IsZero():
		m.ProfitFactor = decimal.Zero
	default:
		m.ProfitFactor = grossProfit.Div(grossLoss.Abs())
	}

	winRate := decimal.NewFromInt(int64(wins)).Div(n)
	lossRate := decimal.NewFromInt(int64(losses)).Div(n)
	m.Expectancy = winRate.Mul(m.AvgPnLWinners).Sub(lossRate.Mul(m.AvgPnLLosers.Abs()))
	if !m.AvgPnLLosers.IsZero() {
		m.PayoffRatio = m.AvgPnLWinners.Div(m.AvgPnLLosers.Abs())
	}

	avgBarsBetween := decimal.Zero
	if len(trades) > 1 {
		sorted := append([]types.BacktestTrade(nil), trades...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntryTime.Before(sorted[j].EntryTime) })
		totalGap := decimal.Zero
		for i := 1; i < len(sorted); i++ {
			gap := sorted[i].EntryTime.Sub(sorted[i-1].ExitTime)
			if gap > 0 {
				totalGap = totalGap.Add(decimal.NewFromInt(int64(gap / time.Minute)))
			}
		}
		avgBarsBetween = totalGap.Div(decimal.NewFromInt(int64(len(sorted) - 1)))
	}
	m.AvgBarsBetweenTrades = avgBarsBetween

	// Drawdown, Sharpe/Sortino/Calmar/Omega/Ulcer/stability need the
	// equity curve in float64.
	if len(equity) > 1 {
		mc.computeCurveMetrics(m, equity, initialCapital)
	}
	mc.computeMonthlyReturns(m, trades)
	m.TradesPerMonth = tradesPerMonth(trades)
	return m
}

func (mc *MetricsCalculator) computeCurveMetrics(m *types.BacktestMetrics, equity []types.EquityCurvePoint, initialCapital decimal.Decimal) {
	sorted := append([]types.EquityCurvePoint(nil), equity...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	values := make([]float64, len(sorted))
	for i, p := range sorted {
		values[i] = mustFloat(p.Equity)
	}

	// Returns per bar.
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		returns = append(returns, (values[i]-values[i-1])/values[i-1])
	}

	mean, std := meanStd(returns)
	if std <= 1e-12 {
		m.SharpeRatio = decimal.Zero
	} else {
		m.SharpeRatio = decimal.NewFromFloat(mean / std * math.Sqrt(periodsPerYear))
	}

	downside := downsideDeviation(returns)
	switch {
	case downside == 0 && mean > 0:
		m.SortinoRatio = decimal.NewFromFloat(math.Inf(1))
	case downside == 0:
		m.SortinoRatio = decimal.Zero
	default:
		m.SortinoRatio = decimal.NewFromFloat(mean / downside * math.Sqrt(periodsPerYear))
	}

	peak := values[0]
	maxDD := 0.0
	maxDDDurBars := 0
	peakIdx := 0
	sumDDSq := 0.0
	totalDD := 0.0
	ddCount := 0
	for i, v := range values {
		if v > peak {
			peak = v
			peakIdx = i
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - v) / peak
		}
		sumDDSq += dd * dd
		if dd > 0 {
			totalDD += dd
			ddCount++
		}
		if dd > maxDD {
			maxDD = dd
			maxDDDurBars = i - peakIdx
		}
	}
	m.MaxDrawdownPct = decimal.NewFromFloat(maxDD * 100)
	m.MaxDrawdownDurationBars = maxDDDurBars
	if ddCount > 0 {
		m.AvgDrawdownPct = decimal.NewFromFloat(totalDD / float64(ddCount) * 100)
	}
	m.UlcerIndex = decimal.NewFromFloat(math.Sqrt(sumDDSq / float64(len(values))))

	initial := mustFloat(initialCapital)
	final := values[len(values)-1]
	years := sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp).Hours() / (24 * 365.25)
	if initial > 0 && years > 0 {
		cagr := math.Pow(final/initial, 1/years) - 1
		if maxDD > 1e-9 {
			m.CalmarRatio = decimal.NewFromFloat(cagr / maxDD)
		}
	}

	m.OmegaRatio = omegaRatio(returns, 0)
	m.StabilityScore = stabilityScore(returns)
}

func omegaRatio(returns []float64, threshold float64) decimal.Decimal {
	gains, losses := 0.0, 0.0
	for _, r := range returns {
		if r-threshold > 0 {
			gains += r - threshold
		} else {
			losses += threshold - r
		}
	}
	if losses <= 1e-12 {
		if gains > 0 {
			return decimal.NewFromFloat(math.Inf(1))
		}
		return decimal.Zero
	}
	return decimal.NewFromFloat(gains / losses)
}

func stabilityScore(returns []float64) decimal.Decimal {
	if len(returns) == 0 {
		return decimal.Zero
	}
	mean, std := meanStd(returns)
	absMean := math.Abs(mean)
	if absMean <= 1e-12 {
		return decimal.Zero
	}
	v := 1 - std/absMean
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return decimal.NewFromFloat(v)
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}

func downsideDeviation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		if x < 0 {
			sum += x * x
		}
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func (mc *MetricsCalculator) computeMonthlyReturns(m *types.BacktestMetrics, trades []types.BacktestTrade) {
	byMonth := make(map[string]decimal.Decimal)
	byYear := make(map[string]decimal.Decimal)
	for _, t := range trades {
		month := t.ExitTime.UTC().Format("2006-01")
		year := t.ExitTime.UTC().Format("2006")
		byMonth[month] = byMonth[month].Add(t.PnLNet)
		byYear[year] = byYear[year].Add(t.PnLNet)
	}
	m.MonthlyReturns = byMonth
	m.YearlyReturns = byYear
}

func tradesPerMonth(trades []types.BacktestTrade) decimal.Decimal {
	if len(trades) == 0 {
		return decimal.Zero
	}
	months := make(map[string]struct{})
	for _, t := range trades {
		months[t.ExitTime.UTC().Format("2006-01")] = struct{}{}
	}
	if len(months) == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(len(trades))).Div(decimal.NewFromInt(int64(len(months))))
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
