package risk

import (
	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// StopManager derives stop-loss/take-profit/trailing-stop prices from the
// configured methods and advances trailing stops "in favor only" — a
// trailing stop never loosens once set.
type StopManager struct {
	cfg types.StopConfig
}

func NewStopManager(cfg types.StopConfig) *StopManager {
	return &StopManager{cfg: cfg}
}

// InitialStop computes the SL price for a new position given entry price,
// side, and the current ATR.
func (m *StopManager) InitialStop(side types.OrderSide, entry, atr decimal.Decimal) decimal.Decimal {
	var distance decimal.Decimal
	switch m.cfg.SLMethod {
	case types.StopLossFixedPips:
		distance = m.cfg.FixedPipsSL
	case types.StopLossPercent:
		distance = entry.Mul(m.cfg.PercentSL).Div(decimal.NewFromInt(100))
	case types.StopLossChandelier, types.StopLossATR, types.StopLossSupportResistance:
		mult := m.cfg.ATRMultiplierSL
		if mult.LessThanOrEqual(decimal.Zero) {
			mult = decimal.NewFromFloat(2)
		}
		distance = atr.Mul(mult)
	default:
		distance = atr.Mul(decimal.NewFromFloat(2))
	}
	if distance.LessThanOrEqual(decimal.Zero) {
		distance = entry.Mul(decimal.NewFromFloat(0.01))
	}
	if side == types.OrderSideBuy {
		return entry.Sub(distance)
	}
	return entry.Add(distance)
}

// TakeProfit computes the TP price from entry/stop under the configured
// reward:risk ratio (the only method the reference config wires end to end;
// fixed-pips/support-resistance/atr-based fall back to the same ratio logic
// scaled off the stop distance, since no separate resistance-level source is
// plumbed into this package).
func (m *StopManager) TakeProfit(side types.OrderSide, entry, stop decimal.Decimal) decimal.Decimal {
	riskDistance := entry.Sub(stop).Abs()
	rr := m.cfg.RRRatio
	if rr.LessThanOrEqual(decimal.Zero) {
		rr = decimal.NewFromInt(2)
	}
	reward := riskDistance.Mul(rr)
	if side == types.OrderSideBuy {
		return entry.Add(reward)
	}
	return entry.Sub(reward)
}

// AdvanceTrailing returns the new trailing-stop price for an open position,
// given the current price and ATR, never moving the stop against the
// position's favor (a long's trailing stop only rises; a short's only
// falls).
func (m *StopManager) AdvanceTrailing(pos types.Position, currentPrice, atr decimal.Decimal) decimal.Decimal {
	current := pos.TrailingStopPx
	var candidate decimal.Decimal

	switch m.cfg.TrailingMethod {
	case types.TrailingBreakeven:
		rMultiple := m.currentR(pos, currentPrice)
		if rMultiple.LessThan(m.cfg.BreakevenAfterR) {
			return current
		}
		candidate = pos.EntryPrice
	case types.TrailingStep:
		step := m.cfg.StepR
		if step.LessThanOrEqual(decimal.Zero) {
			step = decimal.NewFromFloat(0.5)
		}
		rMultiple := m.currentR(pos, currentPrice)
		steps := rMultiple.Div(step).Floor()
		if steps.LessThanOrEqual(decimal.Zero) {
			return current
		}
		riskDistance := pos.EntryPrice.Sub(pos.SL).Abs()
		offset := steps.Mul(step).Mul(riskDistance)
		if pos.Side == types.PositionSideLong {
			candidate = pos.EntryPrice.Add(offset)
		} else {
			candidate = pos.EntryPrice.Sub(offset)
		}
	case types.TrailingFixedDistance:
		dist := m.cfg.ATRMultiplierTrailing.Mul(atr)
		if pos.Side == types.PositionSideLong {
			candidate = currentPrice.Sub(dist)
		} else {
			candidate = currentPrice.Add(dist)
		}
	default: // TrailingATRBased
		mult := m.cfg.ATRMultiplierTrailing
		if mult.LessThanOrEqual(decimal.Zero) {
			mult = decimal.NewFromFloat(2.5)
		}
		dist := atr.Mul(mult)
		if pos.Side == types.PositionSideLong {
			candidate = currentPrice.Sub(dist)
		} else {
			candidate = currentPrice.Add(dist)
		}
	}

	if current.IsZero() {
		return candidate
	}
	if pos.Side == types.PositionSideLong {
		if candidate.GreaterThan(current) {
			return candidate
		}
		return current
	}
	if candidate.LessThan(current) {
		return candidate
	}
	return current
}

func (m *StopManager) currentR(pos types.Position, currentPrice decimal.Decimal) decimal.Decimal {
	riskDistance := pos.EntryPrice.Sub(pos.SL).Abs()
	if riskDistance.IsZero() {
		return decimal.Zero
	}
	move := currentPrice.Sub(pos.EntryPrice)
	if pos.Side == types.PositionSideShort {
		move = move.Neg()
	}
	return move.Div(riskDistance)
}

// MaxHoldExceeded reports whether a position has been held beyond the
// timeframe's configured bar limit.
func (m *StopManager) MaxHoldExceeded(tf types.Timeframe, barsHeld int) bool {
	if m.cfg.MaxHoldBars == nil {
		return false
	}
	max, ok := m.cfg.MaxHoldBars[tf]
	return ok && max > 0 && barsHeld >= max
}
