package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// closes/highs/lows/volumes extract a single series from a bar slice.

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

// ema computes an exponential moving average seeded with the SMA of the
// first `period` values, matching the teacher's incremental-update style.
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

// emaSeries returns the full EMA series aligned with values (zero until the
// seed window fills).
func emaSeries(values []decimal.Decimal, period int) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	if len(values) < period || period <= 0 {
		return out
	}
	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	avg := sma(values[:period], period)
	out[period-1] = avg
	for i := period; i < len(values); i++ {
		avg = values[i].Sub(avg).Mul(k).Add(avg)
		out[i] = avg
	}
	return out
}

// rsi computes RSI from simple (non-Wilder-smoothed) averages of gains and
// losses over the trailing `period` changes.
func rsi(values []decimal.Decimal, period int) decimal.Decimal {
	if len(values) < period+1 {
		return decimal.NewFromInt(50)
	}
	tail := values[len(values)-period-1:]
	gain, loss := decimal.Zero, decimal.Zero
	for i := 1; i < len(tail); i++ {
		d := tail[i].Sub(tail[i-1])
		if d.IsPositive() {
			gain = gain.Add(d)
		} else {
			loss = loss.Add(d.Neg())
		}
	}
	avgGain := gain.Div(decimal.NewFromInt(int64(period)))
	avgLoss := loss.Div(decimal.NewFromInt(int64(period)))
	if avgLoss.IsZero() {
		return decimal.NewFromInt(100)
	}
	rs := avgGain.Div(avgLoss)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// atr computes a simple (non-Wilder-smoothed) average true range.
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

// adx approximates directional-movement trend strength over `period` bars.
// This is a simplified single-pass ADX proxy, not Wilder's full recursive
// smoothing; adequate for the strength gate the strategies need.
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
	dx := plusDI.Sub(minusDI).Abs().Div(denom).Mul(decimal.NewFromInt(100))
	return dx
}

// bollingerPercentB returns %B = (close - lower) / (upper - lower).
func bollingerPercentB(values []decimal.Decimal, period int, stdDevMult decimal.Decimal) decimal.Decimal {
	if len(values) < period || period <= 0 {
		return decimal.NewFromFloat(0.5)
	}
	mid := sma(values, period)
	tail := values[len(values)-period:]
	variance := decimal.Zero
	for _, v := range tail {
		d := v.Sub(mid)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(period)))
	stdDev := sqrtDecimal(variance)
	upper := mid.Add(stdDev.Mul(stdDevMult))
	lower := mid.Sub(stdDev.Mul(stdDevMult))
	width := upper.Sub(lower)
	if width.IsZero() {
		return decimal.NewFromFloat(0.5)
	}
	return values[len(values)-1].Sub(lower).Div(width)
}

// stochasticK returns raw %K over `period` bars.
func stochasticK(bars []types.OHLCVBar, period int) decimal.Decimal {
	if len(bars) < period {
		return decimal.NewFromInt(50)
	}
	tail := bars[len(bars)-period:]
	hh, ll := tail[0].High, tail[0].Low
	for _, b := range tail {
		hh = decimal.Max(hh, b.High)
		ll = decimal.Min(ll, b.Low)
	}
	rng := hh.Sub(ll)
	if rng.IsZero() {
		return decimal.NewFromInt(50)
	}
	return tail[len(tail)-1].Close.Sub(ll).Div(rng).Mul(decimal.NewFromInt(100))
}

func highestHigh(bars []types.OHLCVBar, period int) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.Zero
	}
	if period > len(bars) {
		period = len(bars)
	}
	tail := bars[len(bars)-period:]
	hh := tail[0].High
	for _, b := range tail {
		hh = decimal.Max(hh, b.High)
	}
	return hh
}

func lowestLow(bars []types.OHLCVBar, period int) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.Zero
	}
	if period > len(bars) {
		period = len(bars)
	}
	tail := bars[len(bars)-period:]
	ll := tail[0].Low
	for _, b := range tail {
		ll = decimal.Min(ll, b.Low)
	}
	return ll
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

// slope returns (last - first) / first over the trailing `period` closes,
// used as a long-horizon direction proxy.
func slope(values []decimal.Decimal, period int) decimal.Decimal {
	if len(values) < period || period < 2 {
		return decimal.Zero
	}
	tail := values[len(values)-period:]
	first := tail[0]
	if first.IsZero() {
		return decimal.Zero
	}
	return tail[len(tail)-1].Sub(first).Div(first)
}

// drawdownFromPeak returns the fractional decline of the last close from the
// highest close over the trailing `period` bars.
func drawdownFromPeak(values []decimal.Decimal, period int) decimal.Decimal {
	if len(values) < period || period < 2 {
		return decimal.Zero
	}
	tail := values[len(values)-period:]
	peak := tail[0]
	for _, v := range tail {
		peak = decimal.Max(peak, v)
	}
	if peak.IsZero() {
		return decimal.Zero
	}
	return peak.Sub(tail[len(tail)-1]).Div(peak)
}

// sqrtDecimal approximates a square root with Newton's method, the same
// idiom the teacher uses for its Bollinger-band strategy.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() || d.IsZero() {
		return decimal.Zero
	}
	x := d
	two := decimal.NewFromInt(2)
	for i := 0; i < 30; i++ {
		next := x.Add(d.Div(x)).Div(two)
		if next.Sub(x).Abs().LessThan(decimal.NewFromFloat(1e-12)) {
			return next
		}
		x = next
	}
	return x
}
