package strategy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

func f(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func strengthFrom(confidence decimal.Decimal) types.Strength {
	c, _ := confidence.Float64()
	return types.StrengthFromConfidence(c)
}

func newSignal(name string, bars []types.OHLCVBar, now time.Time, dir types.Direction, confidence decimal.Decimal, reasons []types.Reason, horizon string, expiry time.Duration) *types.Signal {
	last := bars[len(bars)-1]
	rawScore := decimal.Zero
	if confidence.IsPositive() {
		rawScore = decimal.NewFromFloat(dir.Signed()).Mul(confidence).Mul(decimal.NewFromInt(100))
	}
	sig := &types.Signal{
		SignalID:   uuid.NewString(),
		StrategyID: name,
		Version:    "1",
		Symbol:     last.Symbol,
		Broker:     last.Broker,
		Timeframe:  last.Timeframe,
		Ts:         now,
		Direction:  dir,
		Strength:   strengthFrom(confidence),
		RawScore:   rawScore,
		Confidence: confidence,
		Reasons:    normalizeReasons(reasons),
		Horizon:    horizon,
		EntryPrice: last.Close,
	}
	if expiry > 0 {
		exp := now.Add(expiry)
		sig.ExpiresAt = &exp
	}
	return sig
}

// --- TrendFollowing ---------------------------------------------------

type trendFollowing struct{ base }

func NewTrendFollowing() Strategy {
	return &trendFollowing{base: newBase("trend_following", "EMA20/50/200 stack plus ADX strength gate", []types.AssetClass{types.AssetClassForex, types.AssetClassCrypto, types.AssetClassEquity, types.AssetClassIndex, types.AssetClassCommodity}, []Parameter{
		{Name: "adx_threshold", Default: f(25), Min: f(10), Max: f(50)},
		{Name: "rsi_overbought", Default: f(70), Min: f(60), Max: f(90)},
		{Name: "rsi_oversold", Default: f(30), Min: f(10), Max: f(40)},
	})}
}

func (s *trendFollowing) Evaluate(bars []types.OHLCVBar, regime *types.MarketRegime, now time.Time) (*types.Signal, error) {
	if len(bars) < 200 {
		return nil, nil
	}
	c := closes(bars)
	e20, e50, e200 := ema(c, 20), ema(c, 50), ema(c, 200)
	adxVal := adx(bars, 14)
	r := rsi(c, 14)
	adxThreshold := s.param("adx_threshold")

	up := e20.GreaterThan(e50) && e50.GreaterThan(e200)
	down := e20.LessThan(e50) && e50.LessThan(e200)

	if !up && !down {
		return nil, nil
	}
	if adxVal.LessThan(adxThreshold) {
		conf := f(0.30)
		dir := types.DirectionWait
		reasons := []types.Reason{{Factor: "adx", Value: adxVal, Weight: decimal.NewFromInt(1), Description: "ADX below trend-strength threshold", Direction: dir, Source: s.Name()}}
		return newSignal(s.Name(), bars, now, dir, conf, reasons, "swing", 0), nil
	}

	dir := types.DirectionBuy
	if down {
		dir = types.DirectionSell
	}
	conf := f(0.72)
	reasons := []types.Reason{
		{Factor: "ema_stack", Value: e20.Sub(e200), Weight: f(0.6), Description: "EMA20/50/200 monotonic stack", Direction: dir, Source: s.Name()},
		{Factor: "adx", Value: adxVal, Weight: f(0.4), Description: "trend strength confirmed", Direction: dir, Source: s.Name()},
	}
	if (dir == types.DirectionBuy && r.GreaterThanOrEqual(s.param("rsi_overbought"))) || (dir == types.DirectionSell && r.LessThanOrEqual(s.param("rsi_oversold"))) {
		conf = conf.Mul(f(0.82))
		reasons = append(reasons, types.Reason{Factor: "rsi_extreme", Value: r, Weight: f(0.0), Description: "RSI extreme attenuates confidence", Direction: dir, Source: s.Name()})
	}
	if regime != nil && (regime.Trend == types.TrendStrongUp || regime.Trend == types.TrendStrongDown) {
		conf = conf.Add(f(0.08))
	}
	if conf.GreaterThan(decimal.NewFromInt(1)) {
		conf = decimal.NewFromInt(1)
	}
	return newSignal(s.Name(), bars, now, dir, conf, reasons, "swing", 4*time.Hour), nil
}

// --- MeanReversion ------------------------------------------------------

type meanReversion struct{ base }

func NewMeanReversion() Strategy {
	return &meanReversion{base: newBase("mean_reversion", "RSI/%B/Stoch oversold-overbought reversal", []types.AssetClass{types.AssetClassForex, types.AssetClassCrypto, types.AssetClassEquity}, []Parameter{
		{Name: "rsi_low", Default: f(30), Min: f(10), Max: f(40)},
		{Name: "rsi_high", Default: f(70), Min: f(60), Max: f(90)},
	})}
}

func (s *meanReversion) Evaluate(bars []types.OHLCVBar, regime *types.MarketRegime, now time.Time) (*types.Signal, error) {
	if len(bars) < 20 {
		return nil, nil
	}
	c := closes(bars)
	r := rsi(c, 14)
	pctB := bollingerPercentB(c, 20, f(2.0))
	stochK := stochasticK(bars, 14)

	var dir types.Direction
	switch {
	case r.LessThanOrEqual(s.param("rsi_low")) && pctB.LessThanOrEqual(f(0.10)) && stochK.LessThanOrEqual(f(25)):
		dir = types.DirectionBuy
	case r.GreaterThanOrEqual(s.param("rsi_high")) && pctB.GreaterThanOrEqual(f(0.90)) && stochK.GreaterThanOrEqual(f(75)):
		dir = types.DirectionSell
	default:
		return nil, nil
	}

	conf := f(0.68)
	reasons := []types.Reason{
		{Factor: "rsi", Value: r, Weight: f(0.4), Description: "RSI oversold/overbought", Direction: dir, Source: s.Name()},
		{Factor: "bollinger_pct_b", Value: pctB, Weight: f(0.35), Description: "price at Bollinger band extreme", Direction: dir, Source: s.Name()},
		{Factor: "stochastic_k", Value: stochK, Weight: f(0.25), Description: "stochastic %K confirms extreme", Direction: dir, Source: s.Name()},
	}
	if regime != nil && ((dir == types.DirectionBuy && regime.Trend == types.TrendStrongDown) || (dir == types.DirectionSell && regime.Trend == types.TrendStrongUp)) {
		conf = conf.Mul(f(0.75))
	}
	return newSignal(s.Name(), bars, now, dir, conf, reasons, "intraday", time.Hour), nil
}

// --- MomentumBreakout -----------------------------------------------------

type momentumBreakout struct{ base }

func NewMomentumBreakout() Strategy {
	return &momentumBreakout{base: newBase("momentum_breakout", "N-bar range breakout with volume confirmation", []types.AssetClass{types.AssetClassForex, types.AssetClassCrypto, types.AssetClassEquity, types.AssetClassCommodity}, []Parameter{
		{Name: "lookback", Default: f(20), Min: f(10), Max: f(60)},
		{Name: "min_volume_ratio", Default: f(1.5), Min: f(1.0), Max: f(4.0)},
	})}
}

func (s *momentumBreakout) Evaluate(bars []types.OHLCVBar, regime *types.MarketRegime, now time.Time) (*types.Signal, error) {
	lookback := s.paramInt("lookback")
	if len(bars) < lookback+1 {
		return nil, nil
	}
	last := bars[len(bars)-1]
	prior := bars[:len(bars)-1]
	hh := highestHigh(prior, lookback)
	ll := lowestLow(prior, lookback)
	avgVol := avgVolume(prior, lookback)
	volRatio := decimal.NewFromInt(1)
	if avgVol.IsPositive() {
		volRatio = last.Volume.Div(avgVol)
	}
	minRatio := s.param("min_volume_ratio")
	tolerance := f(0.001)

	var dir types.Direction
	switch {
	case last.Close.GreaterThanOrEqual(hh.Mul(decimal.NewFromInt(1).Sub(tolerance))) && volRatio.GreaterThanOrEqual(minRatio):
		dir = types.DirectionBuy
	case last.Close.LessThanOrEqual(ll.Mul(decimal.NewFromInt(1).Add(tolerance))) && volRatio.GreaterThanOrEqual(minRatio):
		dir = types.DirectionSell
	default:
		return nil, nil
	}

	conf := f(0.55)
	scaled := volRatio.Sub(minRatio).Mul(f(0.1))
	conf = conf.Add(scaled)
	if conf.GreaterThan(decimal.NewFromInt(1)) {
		conf = decimal.NewFromInt(1)
	}
	reasons := []types.Reason{
		{Factor: "range_breakout", Value: last.Close, Weight: f(0.5), Description: "close within 0.1% of N-bar extreme", Direction: dir, Source: s.Name()},
		{Factor: "volume_ratio", Value: volRatio, Weight: f(0.5), Description: "volume confirms breakout", Direction: dir, Source: s.Name()},
	}
	return newSignal(s.Name(), bars, now, dir, conf, reasons, "intraday", 2*time.Hour), nil
}

// --- ScalpingReversal -----------------------------------------------------

type scalpingReversal struct{ base }

func NewScalpingReversal() Strategy {
	return &scalpingReversal{base: newBase("scalping_reversal", "fast RSI extreme plus dominant wick reversal", []types.AssetClass{types.AssetClassForex, types.AssetClassCrypto}, []Parameter{
		{Name: "rsi_fast_low", Default: f(20), Min: f(5), Max: f(35)},
		{Name: "rsi_fast_high", Default: f(80), Min: f(65), Max: f(95)},
	})}
}

func (s *scalpingReversal) Evaluate(bars []types.OHLCVBar, regime *types.MarketRegime, now time.Time) (*types.Signal, error) {
	if len(bars) < 7 {
		return nil, nil
	}
	c := closes(bars)
	rFast := rsi(c, 5)
	last := bars[len(bars)-1]
	body := last.Close.Sub(last.Open).Abs()
	fullRange := last.High.Sub(last.Low)
	if fullRange.IsZero() {
		return nil, nil
	}
	bodyRatio := body.Div(fullRange)
	upperWick := last.High.Sub(decimal.Max(last.Open, last.Close))
	lowerWick := decimal.Min(last.Open, last.Close).Sub(last.Low)

	var dir types.Direction
	switch {
	case rFast.LessThanOrEqual(s.param("rsi_fast_low")) && lowerWick.GreaterThan(body.Mul(f(1.5))) && bodyRatio.LessThan(f(0.35)):
		dir = types.DirectionBuy
	case rFast.GreaterThanOrEqual(s.param("rsi_fast_high")) && upperWick.GreaterThan(body.Mul(f(1.5))) && bodyRatio.LessThan(f(0.35)):
		dir = types.DirectionSell
	default:
		return nil, nil
	}

	conf := f(0.60)
	reasons := []types.Reason{
		{Factor: "rsi_fast", Value: rFast, Weight: f(0.5), Description: "fast RSI at extreme", Direction: dir, Source: s.Name()},
		{Factor: "wick_dominance", Value: bodyRatio, Weight: f(0.5), Description: "dominant wick, small body", Direction: dir, Source: s.Name()},
	}
	return newSignal(s.Name(), bars, now, dir, conf, reasons, "scalp", 30*time.Minute), nil
}

// --- SwingComposite -------------------------------------------------------

type swingComposite struct{ base }

func NewSwingComposite() Strategy {
	return &swingComposite{base: newBase("swing_composite", "EMA21/55 stack, slope sign, RSI bias", []types.AssetClass{types.AssetClassForex, types.AssetClassEquity, types.AssetClassIndex}, nil)}
}

func (s *swingComposite) Evaluate(bars []types.OHLCVBar, regime *types.MarketRegime, now time.Time) (*types.Signal, error) {
	if len(bars) < 55 {
		return nil, nil
	}
	c := closes(bars)
	e21, e55 := ema(c, 21), ema(c, 55)
	sl := slope(c, 20)
	r := rsi(c, 14)

	var dir types.Direction
	switch {
	case e21.GreaterThan(e55) && sl.IsPositive() && r.GreaterThan(f(50)):
		dir = types.DirectionBuy
	case e21.LessThan(e55) && sl.IsNegative() && r.LessThan(f(50)):
		dir = types.DirectionSell
	default:
		return nil, nil
	}

	conf := f(0.58)
	reasons := []types.Reason{
		{Factor: "ema_stack", Value: e21.Sub(e55), Weight: f(0.4), Description: "EMA21/55 stack", Direction: dir, Source: s.Name()},
		{Factor: "slope", Value: sl, Weight: f(0.35), Description: "20-bar slope sign agrees", Direction: dir, Source: s.Name()},
		{Factor: "rsi_bias", Value: r, Weight: f(0.25), Description: "RSI bias agrees with direction", Direction: dir, Source: s.Name()},
	}
	return newSignal(s.Name(), bars, now, dir, conf, reasons, "swing", 12*time.Hour), nil
}

// --- InvestmentFundamental -------------------------------------------------

type investmentFundamental struct{ base }

func NewInvestmentFundamental() Strategy {
	return &investmentFundamental{base: newBase("investment_fundamental", "long-horizon slope with drawdown-proxy entry", []types.AssetClass{types.AssetClassEquity, types.AssetClassIndex, types.AssetClassCommodity}, nil)}
}

func (s *investmentFundamental) Evaluate(bars []types.OHLCVBar, regime *types.MarketRegime, now time.Time) (*types.Signal, error) {
	if len(bars) < 200 {
		return nil, nil
	}
	c := closes(bars)
	longSlope := slope(c, 200)
	dd := drawdownFromPeak(c, 50)

	if longSlope.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}
	if dd.LessThan(f(0.03)) {
		return nil, nil
	}

	conf := f(0.50).Add(dd.Mul(f(2)))
	if conf.GreaterThan(f(0.85)) {
		conf = f(0.85)
	}
	reasons := []types.Reason{
		{Factor: "long_slope", Value: longSlope, Weight: f(0.6), Description: "positive 200-bar slope", Direction: types.DirectionBuy, Source: s.Name()},
		{Factor: "drawdown_proxy", Value: dd, Weight: f(0.4), Description: "pullback from recent peak", Direction: types.DirectionBuy, Source: s.Name()},
	}
	return newSignal(s.Name(), bars, now, types.DirectionBuy, conf, reasons, "position", 24*time.Hour), nil
}

// --- RangeScalp -------------------------------------------------------

type rangeScalp struct{ base }

func NewRangeScalp() Strategy {
	return &rangeScalp{base: newBase("range_scalp", "outer-range fade in RANGING regime", []types.AssetClass{types.AssetClassForex, types.AssetClassCrypto}, []Parameter{
		{Name: "lookback", Default: f(20), Min: f(10), Max: f(50)},
	})}
}

func (s *rangeScalp) Evaluate(bars []types.OHLCVBar, regime *types.MarketRegime, now time.Time) (*types.Signal, error) {
	if regime == nil || regime.Trend != types.TrendRanging {
		return nil, nil
	}
	lookback := s.paramInt("lookback")
	if len(bars) < lookback {
		return nil, nil
	}
	last := bars[len(bars)-1]
	hh := highestHigh(bars, lookback)
	ll := lowestLow(bars, lookback)
	rng := hh.Sub(ll)
	if rng.IsZero() {
		return nil, nil
	}
	position := last.Close.Sub(ll).Div(rng)

	var dir types.Direction
	switch {
	case position.LessThanOrEqual(f(0.15)):
		dir = types.DirectionBuy
	case position.GreaterThanOrEqual(f(0.85)):
		dir = types.DirectionSell
	default:
		return nil, nil
	}

	conf := f(0.52)
	reasons := []types.Reason{
		{Factor: "range_position", Value: position, Weight: f(1), Description: "close in outer 15% of N-bar range", Direction: dir, Source: s.Name()},
	}
	return newSignal(s.Name(), bars, now, dir, conf, reasons, "scalp", 45*time.Minute), nil
}
