// Package execution implements the order lifecycle: idempotent submission,
// a paper broker adapter with a configurable slippage/fill model, retry
// with exponential backoff, and position/account reconciliation against
// the broker's reported truth.
package execution

import (
	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// SlippageModel estimates the execution price drift from the quoted price
// for a market order of the given side.
type SlippageModel struct {
	cfg types.SlippageConfig
}

func NewSlippageModel(cfg types.SlippageConfig) *SlippageModel {
	return &SlippageModel{cfg: cfg}
}

// Apply returns the adjusted execution price: buys slip up, sells slip
// down, by an amount the configured model derives from price/spread/ATR.
func (m *SlippageModel) Apply(side types.OrderSide, quotedPrice, spread, atr decimal.Decimal) decimal.Decimal {
	var distance decimal.Decimal
	switch m.cfg.Model {
	case "fixed_pips":
		distance = m.cfg.FixedPips.Mul(pipSizeOrDefault(m.cfg.PipSize))
	case "percent":
		distance = quotedPrice.Mul(m.cfg.Percent).Div(decimal.NewFromInt(100))
	case "volatility_based":
		mult := m.cfg.ATRMultiplier
		if mult.LessThanOrEqual(decimal.Zero) {
			mult = decimal.NewFromFloat(0.1)
		}
		distance = atr.Mul(mult)
	case "spread_based":
		distance = spread.Mul(decimal.NewFromFloat(0.5))
	default:
		distance = quotedPrice.Mul(decimal.NewFromFloat(0.0005))
	}
	if side == types.OrderSideBuy {
		return quotedPrice.Add(distance)
	}
	return quotedPrice.Sub(distance)
}

func pipSizeOrDefault(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.NewFromFloat(0.0001)
	}
	return d
}
