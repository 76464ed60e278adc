package execution

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// FillSimulator turns a submitted order into zero or more fills against the
// current tick, applying slippage and commission and, in RealisticMode,
// randomized partial fills.
type FillSimulator struct {
	slippage *SlippageModel
	comm     types.CommissionConfig
	cfg      types.SlippageConfig
	rng      *rand.Rand
}

func NewFillSimulator(slippage *SlippageModel, comm types.CommissionConfig, slip types.SlippageConfig, seed int64) *FillSimulator {
	return &FillSimulator{slippage: slippage, comm: comm, cfg: slip, rng: rand.New(rand.NewSource(seed))}
}

// Simulate returns the fill(s) an order receives against the current tick.
// A non-realistic model always fills the full quantity in one shot; a
// realistic model may split the quantity across a small number of partial
// fills governed by PartialFillMin/Max and PartialFillPct.
func (f *FillSimulator) Simulate(order types.Order, tick types.Tick, atr decimal.Decimal) []types.Fill {
	execPrice := tick.Ask
	if order.Side == types.OrderSideSell {
		execPrice = tick.Bid
	}
	execPrice = f.slippage.Apply(order.Side, execPrice, tick.Spread, atr)
	commissionPerUnit := f.commissionPerUnit(order, execPrice)

	remaining := order.Quantity
	if !f.cfg.RealisticMode || f.cfg.PartialFillPct.LessThanOrEqual(decimal.Zero) || f.rng.Float64() > mustFloat(f.cfg.PartialFillPct) {
		return []types.Fill{{
			FillID:    "",
			OrderID:   order.OrderID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Quantity:  remaining,
			Price:     execPrice,
			Commission: commissionPerUnit.Mul(remaining),
			Ts:        tick.Ts,
			IsPartial: false,
			IsPaper:   true,
		}}
	}

	minFrac, maxFrac := 0.3, 0.7
	if v, _ := f.cfg.PartialFillMin.Float64(); v > 0 {
		minFrac = v
	}
	if v, _ := f.cfg.PartialFillMax.Float64(); v > 0 {
		maxFrac = v
	}
	frac := minFrac + f.rng.Float64()*(maxFrac-minFrac)
	first := remaining.Mul(decimal.NewFromFloat(frac))
	second := remaining.Sub(first)
	return []types.Fill{
		{OrderID: order.OrderID, Symbol: order.Symbol, Side: order.Side, Quantity: first, Price: execPrice, Commission: commissionPerUnit.Mul(first), Ts: tick.Ts, IsPartial: true, IsPaper: true},
		{OrderID: order.OrderID, Symbol: order.Symbol, Side: order.Side, Quantity: second, Price: execPrice, Commission: commissionPerUnit.Mul(second), Ts: tick.Ts, IsPartial: false, IsPaper: true},
	}
}

func (f *FillSimulator) commissionPerUnit(order types.Order, price decimal.Decimal) decimal.Decimal {
	model := f.comm.Model
	if ac, ok := order.Metadata["asset_class"].(types.AssetClass); ok {
		if m, ok := f.comm.ByAssetClass[ac]; ok {
			model = m
		}
	}
	switch model {
	case "per_lot":
		return f.comm.PerLot
	case "percent":
		return price.Mul(f.comm.Percent).Div(decimal.NewFromInt(100))
	case "fixed":
		return f.comm.Fixed.Div(decimal.Max(order.Quantity, decimal.NewFromInt(1)))
	default: // per_share, and FUTURES/OPTIONS fallthrough per CommissionConfig's doc comment
		return f.comm.PerShare
	}
}

func mustFloat(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}
