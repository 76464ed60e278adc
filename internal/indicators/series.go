package indicators

import (
	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

func closes(bars []types.OHLCVBar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func smaSeries(values []decimal.Decimal, period int) Series {
	out := make(Series, len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		sum := decimal.Zero
		for _, v := range values[i-period+1 : i+1] {
			sum = sum.Add(v)
		}
		out[i] = sum.Div(decimal.NewFromInt(int64(period)))
	}
	return out
}

// emaSeries seeds with the SMA of the first `period` values, then applies
// the standard recursive EMA update, matching internal/strategy's formula.
func emaSeries(values []decimal.Decimal, period int) Series {
	out := make(Series, len(values))
	if len(values) < period || period <= 0 {
		return out
	}
	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	seed := decimal.Zero
	for _, v := range values[:period] {
		seed = seed.Add(v)
	}
	avg := seed.Div(decimal.NewFromInt(int64(period)))
	out[period-1] = avg
	for i := period; i < len(values); i++ {
		avg = values[i].Sub(avg).Mul(k).Add(avg)
		out[i] = avg
	}
	return out
}

// rsiSeries computes RSI from simple (non-Wilder-smoothed) averages of gains
// and losses at each point once `period` prior
// changes are available; earlier entries hold the neutral value 50.
func rsiSeries(values []decimal.Decimal, period int) Series {
	out := make(Series, len(values))
	hundred := decimal.NewFromInt(100)
	for i := range out {
		out[i] = decimal.NewFromInt(50)
	}
	if period <= 0 {
		return out
	}
	for i := period; i < len(values); i++ {
		tail := values[i-period : i+1]
		gain, loss := decimal.Zero, decimal.Zero
		for j := 1; j < len(tail); j++ {
			d := tail[j].Sub(tail[j-1])
			if d.IsPositive() {
				gain = gain.Add(d)
			} else {
				loss = loss.Add(d.Neg())
			}
		}
		avgGain := gain.Div(decimal.NewFromInt(int64(period)))
		avgLoss := loss.Div(decimal.NewFromInt(int64(period)))
		if avgLoss.IsZero() {
			out[i] = hundred
			continue
		}
		rs := avgGain.Div(avgLoss)
		out[i] = hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
	}
	return out
}

func trueRange(cur, prev types.OHLCVBar) decimal.Decimal {
	hl := cur.High.Sub(cur.Low)
	hc := cur.High.Sub(prev.Close).Abs()
	lc := cur.Low.Sub(prev.Close).Abs()
	return decimal.Max(hl, decimal.Max(hc, lc))
}

// atrSeries is a simple (non-Wilder-smoothed) trailing average true range,
// matching internal/strategy's atr formula.
func atrSeries(bars []types.OHLCVBar, period int) Series {
	out := make(Series, len(bars))
	if period <= 0 {
		return out
	}
	for i := period; i < len(bars); i++ {
		sum := decimal.Zero
		for j := i - period + 1; j <= i; j++ {
			sum = sum.Add(trueRange(bars[j], bars[j-1]))
		}
		out[i] = sum.Div(decimal.NewFromInt(int64(period)))
	}
	return out
}

// adxSeries is the single-pass directional-movement strength proxy used
// elsewhere in the module, not Wilder's full recursive smoothing.
func adxSeries(bars []types.OHLCVBar, period int) Series {
	out := make(Series, len(bars))
	if period <= 0 {
		return out
	}
	for i := period; i < len(bars); i++ {
		var sumPlusDM, sumMinusDM, sumTR decimal.Decimal
		for j := i - period + 1; j <= i; j++ {
			upMove := bars[j].High.Sub(bars[j-1].High)
			downMove := bars[j-1].Low.Sub(bars[j].Low)
			plusDM, minusDM := decimal.Zero, decimal.Zero
			if upMove.GreaterThan(downMove) && upMove.IsPositive() {
				plusDM = upMove
			}
			if downMove.GreaterThan(upMove) && downMove.IsPositive() {
				minusDM = downMove
			}
			sumPlusDM = sumPlusDM.Add(plusDM)
			sumMinusDM = sumMinusDM.Add(minusDM)
			sumTR = sumTR.Add(trueRange(bars[j], bars[j-1]))
		}
		if sumTR.IsZero() {
			continue
		}
		plusDI := sumPlusDM.Div(sumTR).Mul(decimal.NewFromInt(100))
		minusDI := sumMinusDM.Div(sumTR).Mul(decimal.NewFromInt(100))
		denom := plusDI.Add(minusDI)
		if denom.IsZero() {
			continue
		}
		out[i] = plusDI.Sub(minusDI).Abs().Div(denom).Mul(decimal.NewFromInt(100))
	}
	return out
}

// bollingerSeries returns %B = (close - lower) / (upper - lower) at each
// point once `period` values are available; earlier entries hold 0.5.
func bollingerSeries(values []decimal.Decimal, period int, stdDevMult decimal.Decimal) Series {
	out := make(Series, len(values))
	half := decimal.NewFromFloat(0.5)
	for i := range out {
		out[i] = half
	}
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		tail := values[i-period+1 : i+1]
		mid := decimal.Zero
		for _, v := range tail {
			mid = mid.Add(v)
		}
		mid = mid.Div(decimal.NewFromInt(int64(period)))
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
			continue
		}
		out[i] = values[i].Sub(lower).Div(width)
	}
	return out
}

// sqrtDecimal approximates a square root with Newton's method, the same
// idiom internal/strategy uses for its Bollinger-band helper.
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
