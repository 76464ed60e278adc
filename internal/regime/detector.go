// Package regime classifies the current market regime from a bar sequence
// plus the latest tick: trend (EMA structure + ADX-like strength proxy),
// volatility (ATR quantile bucket), and liquidity (volume/spread), deciding
// whether the market is currently tradeable at all.
package regime

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// Config tunes the thresholds the rule-based classifier applies.
type Config struct {
	EMAFast               int
	EMASlow               int
	ADXPeriod             int
	ADXStrongThreshold    decimal.Decimal
	ADXWeakThreshold      decimal.Decimal
	ATRPeriod             int
	ATRHistoryBars        int
	VolumeWindow          int
	ThinLiquidityRatio    decimal.Decimal // volume/avg below this => THIN
	IlliquidRatio         decimal.Decimal // volume/avg below this => ILLIQUID
	SpreadSpikeMultiplier decimal.Decimal // current spread > avg*mult => spike
}

// DefaultConfig mirrors the teacher's default-threshold convention.
func DefaultConfig() Config {
	return Config{
		EMAFast:               20,
		EMASlow:                50,
		ADXPeriod:              14,
		ADXStrongThreshold:     decimal.NewFromInt(25),
		ADXWeakThreshold:       decimal.NewFromInt(15),
		ATRPeriod:              14,
		ATRHistoryBars:         100,
		VolumeWindow:           20,
		ThinLiquidityRatio:     decimal.NewFromFloat(0.5),
		IlliquidRatio:          decimal.NewFromFloat(0.2),
		SpreadSpikeMultiplier:  decimal.NewFromFloat(3.0),
	}
}

// Detector is stateless across calls: Detect is a pure function of its
// inputs, matching spec §4.5's contract. A small history ring is kept only
// for observability (GetHistory), not consulted by Detect itself.
type Detector struct {
	cfg     Config
	logger  *zap.Logger
	history []types.MarketRegime
}

func New(logger *zap.Logger, cfg Config) *Detector {
	return &Detector{cfg: cfg, logger: logger.Named("regime")}
}

// Detect classifies the regime for the latest bar in bars, optionally
// refining liquidity/spread from a live tick.
func (d *Detector) Detect(bars []types.OHLCVBar, tick *types.Tick) *types.MarketRegime {
	if len(bars) == 0 {
		return &types.MarketRegime{
			Trend: types.TrendRanging, Volatility: types.VolatilityNormal,
			Liquidity: types.LiquidityThin, IsTradeable: false,
			NoTradeReasons: []string{"insufficient bar history"}, Confidence: decimal.Zero,
		}
	}
	last := bars[len(bars)-1]
	c := closes(bars)

	trend, trendConf := d.classifyTrend(c, bars)
	vol, volConf, atrNow := d.classifyVolatility(bars)
	liquidity, spreadSpike := d.classifyLiquidity(bars, tick)

	var reasons []string
	tradeable := true
	if vol == types.VolatilityExtreme {
		tradeable = false
		reasons = append(reasons, "extreme volatility")
	}
	if liquidity == types.LiquidityIlliquid {
		tradeable = false
		reasons = append(reasons, "illiquid market")
	}
	if spreadSpike {
		tradeable = false
		reasons = append(reasons, "spread spike")
	}

	confidence := trendConf.Add(volConf).Div(decimal.NewFromInt(2))
	if confidence.GreaterThan(decimal.NewFromInt(1)) {
		confidence = decimal.NewFromInt(1)
	}
	if confidence.IsNegative() {
		confidence = decimal.Zero
	}

	regime := &types.MarketRegime{
		Symbol:         last.Symbol,
		Timeframe:      last.Timeframe,
		Ts:             last.TsClose,
		Trend:          trend,
		Volatility:     vol,
		Liquidity:      liquidity,
		IsTradeable:    tradeable,
		NoTradeReasons: reasons,
		Confidence:     confidence,
		Metrics: map[string]decimal.Decimal{
			"atr": atrNow,
		},
	}
	regime.RecommendedStrategies = d.recommendedStrategies(regime)

	d.history = append(d.history, *regime)
	if len(d.history) > 1000 {
		d.history = d.history[500:]
	}
	return regime
}

func (d *Detector) classifyTrend(c []decimal.Decimal, bars []types.OHLCVBar) (types.RegimeTrend, decimal.Decimal) {
	if len(c) < d.cfg.EMASlow {
		return types.TrendRanging, decimal.NewFromFloat(0.3)
	}
	fast := ema(c, d.cfg.EMAFast)
	slow := ema(c, d.cfg.EMASlow)
	strength := adx(bars, d.cfg.ADXPeriod)

	up := fast.GreaterThan(slow)
	switch {
	case strength.GreaterThanOrEqual(d.cfg.ADXStrongThreshold) && up:
		return types.TrendStrongUp, clampConf(strength.Div(decimal.NewFromInt(50)))
	case strength.GreaterThanOrEqual(d.cfg.ADXStrongThreshold) && !up:
		return types.TrendStrongDown, clampConf(strength.Div(decimal.NewFromInt(50)))
	case strength.GreaterThanOrEqual(d.cfg.ADXWeakThreshold) && up:
		return types.TrendWeakUp, clampConf(strength.Div(decimal.NewFromInt(60)))
	case strength.GreaterThanOrEqual(d.cfg.ADXWeakThreshold) && !up:
		return types.TrendWeakDown, clampConf(strength.Div(decimal.NewFromInt(60)))
	default:
		return types.TrendRanging, decimal.NewFromFloat(0.5)
	}
}

func clampConf(d decimal.Decimal) decimal.Decimal {
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// classifyVolatility buckets current ATR into one of five quantiles of its
// own trailing distribution — VERY_LOW..EXTREME — matching spec §4.5's
// "recent ATR quantile, five buckets" contract.
func (d *Detector) classifyVolatility(bars []types.OHLCVBar) (types.RegimeVolatility, decimal.Decimal, decimal.Decimal) {
	period := d.cfg.ATRPeriod
	historyBars := d.cfg.ATRHistoryBars
	if len(bars) < period+2 {
		return types.VolatilityNormal, decimal.NewFromFloat(0.3), decimal.Zero
	}
	start := 0
	if len(bars) > historyBars+period {
		start = len(bars) - historyBars - period
	}
	window := bars[start:]

	var series []decimal.Decimal
	for i := period + 1; i <= len(window); i++ {
		series = append(series, atr(window[:i], period))
	}
	if len(series) == 0 {
		return types.VolatilityNormal, decimal.NewFromFloat(0.3), decimal.Zero
	}
	current := series[len(series)-1]

	sorted := make([]decimal.Decimal, len(series))
	copy(sorted, series)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	rank := 0
	for _, v := range sorted {
		if v.LessThanOrEqual(current) {
			rank++
		}
	}
	quantile := decimal.NewFromInt(int64(rank)).Div(decimal.NewFromInt(int64(len(sorted))))

	switch {
	case quantile.LessThan(decimal.NewFromFloat(0.20)):
		return types.VolatilityVeryLow, decimal.NewFromFloat(0.6), current
	case quantile.LessThan(decimal.NewFromFloat(0.40)):
		return types.VolatilityLow, decimal.NewFromFloat(0.6), current
	case quantile.LessThan(decimal.NewFromFloat(0.60)):
		return types.VolatilityNormal, decimal.NewFromFloat(0.6), current
	case quantile.LessThan(decimal.NewFromFloat(0.90)):
		return types.VolatilityHigh, decimal.NewFromFloat(0.6), current
	default:
		return types.VolatilityExtreme, decimal.NewFromFloat(0.8), current
	}
}

func (d *Detector) classifyLiquidity(bars []types.OHLCVBar, tick *types.Tick) (types.RegimeLiquidity, bool) {
	window := d.cfg.VolumeWindow
	if window > len(bars) {
		window = len(bars)
	}
	last := bars[len(bars)-1]
	avgVol := avgVolume(bars, window)

	ratio := decimal.NewFromInt(1)
	if avgVol.IsPositive() {
		ratio = last.Volume.Div(avgVol)
	}

	liquidity := types.LiquidityGood
	switch {
	case ratio.LessThan(d.cfg.IlliquidRatio):
		liquidity = types.LiquidityIlliquid
	case ratio.LessThan(d.cfg.ThinLiquidityRatio):
		liquidity = types.LiquidityThin
	}

	spreadSpike := false
	if tick != nil {
		avgSpread := avgSpread(bars, window)
		if avgSpread.IsPositive() && tick.Spread.GreaterThan(avgSpread.Mul(d.cfg.SpreadSpikeMultiplier)) {
			spreadSpike = true
		}
	}
	return liquidity, spreadSpike
}

func (d *Detector) recommendedStrategies(r *types.MarketRegime) []string {
	switch r.Trend {
	case types.TrendStrongUp, types.TrendStrongDown:
		return []string{"trend_following", "swing_composite", "investment_fundamental"}
	case types.TrendWeakUp, types.TrendWeakDown:
		return []string{"swing_composite", "momentum_breakout"}
	default:
		if r.Trend == types.TrendRanging {
			return []string{"mean_reversion", "range_scalp", "scalping_reversal"}
		}
		return []string{}
	}
}

// History returns the last n recorded regimes, most recent last.
func (d *Detector) History(n int) []types.MarketRegime {
	if n <= 0 || n > len(d.history) {
		n = len(d.history)
	}
	return append([]types.MarketRegime(nil), d.history[len(d.history)-n:]...)
}

func closes(bars []types.OHLCVBar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func sma(values []decimal.Decimal, period int) decimal.Decimal {
	if len(values) < period || period <= 0 {
		return decimal.Zero
	}
	tail := values[len(values)-period:]
	sum := decimal.Zero
	for _, v := range tail {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

func ema(values []decimal.Decimal, period int) decimal.Decimal {
	if len(values) < period || period <= 0 {
		return decimal.Zero
	}
	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	avg := sma(values[:period], period)
	for _, v := range values[period:] {
		avg = v.Sub(avg).Mul(k).Add(avg)
	}
	return avg
}

func atr(bars []types.OHLCVBar, period int) decimal.Decimal {
	if len(bars) < period+1 {
		return decimal.Zero
	}
	tail := bars[len(bars)-period-1:]
	sum := decimal.Zero
	for i := 1; i < len(tail); i++ {
		hl := tail[i].High.Sub(tail[i].Low)
		hc := tail[i].High.Sub(tail[i-1].Close).Abs()
		lc := tail[i].Low.Sub(tail[i-1].Close).Abs()
		tr := decimal.Max(hl, decimal.Max(hc, lc))
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

func adx(bars []types.OHLCVBar, period int) decimal.Decimal {
	if len(bars) < period+1 {
		return decimal.Zero
	}
	tail := bars[len(bars)-period-1:]
	var sumPlusDM, sumMinusDM, sumTR decimal.Decimal
	for i := 1; i < len(tail); i++ {
		upMove := tail[i].High.Sub(tail[i-1].High)
		downMove := tail[i-1].Low.Sub(tail[i].Low)
		plusDM, minusDM := decimal.Zero, decimal.Zero
		if upMove.GreaterThan(downMove) && upMove.IsPositive() {
			plusDM = upMove
		}
		if downMove.GreaterThan(upMove) && downMove.IsPositive() {
			minusDM = downMove
		}
		hl := tail[i].High.Sub(tail[i].Low)
		hc := tail[i].High.Sub(tail[i-1].Close).Abs()
		lc := tail[i].Low.Sub(tail[i-1].Close).Abs()
		tr := decimal.Max(hl, decimal.Max(hc, lc))
		sumPlusDM = sumPlusDM.Add(plusDM)
		sumMinusDM = sumMinusDM.Add(minusDM)
		sumTR = sumTR.Add(tr)
	}
	if sumTR.IsZero() {
		return decimal.Zero
	}
	plusDI := sumPlusDM.Div(sumTR).Mul(decimal.NewFromInt(100))
	minusDI := sumMinusDM.Div(sumTR).Mul(decimal.NewFromInt(100))
	denom := plusDI.Add(minusDI)
	if denom.IsZero() {
		return decimal.Zero
	}
	return plusDI.Sub(minusDI).Abs().Div(denom).Mul(decimal.NewFromInt(100))
}

func avgVolume(bars []types.OHLCVBar, period int) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.Zero
	}
	if period > len(bars) {
		period = len(bars)
	}
	tail := bars[len(bars)-period:]
	sum := decimal.Zero
	for _, b := range tail {
		sum = sum.Add(b.Volume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(tail))))
}

func avgSpread(bars []types.OHLCVBar, period int) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.Zero
	}
	if period > len(bars) {
		period = len(bars)
	}
	tail := bars[len(bars)-period:]
	sum := decimal.Zero
	n := 0
	for _, b := range tail {
		if b.Spread.IsPositive() {
			sum = sum.Add(b.Spread)
			n++
		}
	}
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
