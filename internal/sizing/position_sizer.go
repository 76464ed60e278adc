// Package sizing turns a RiskCheck's intent into a unit quantity via one of
// six configurable PositionSizer methods.
package sizing

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/internal/tradeerrors"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

var hundred = decimal.NewFromInt(100)

// scalePercent resolves spec's open question on PERCENT_RISK/PERCENT_EQUITY
// inputs >1.0: values above 1.0 are treated as already-percent (2 meaning
// 2%) and divided by 100; values at or below 1.0 are treated as already a
// fraction. The rule is idempotent by construction since a fraction in
// (0,1] never re-triggers the >1.0 branch.
func scalePercent(pct decimal.Decimal) decimal.Decimal {
	if pct.GreaterThan(decimal.NewFromInt(1)) {
		return pct.Div(hundred)
	}
	return pct
}

// Request carries everything a sizing method may need; unused fields for a
// given method are ignored.
type Request struct {
	Symbol       string
	Equity       decimal.Decimal
	EntryPrice   decimal.Decimal
	StopPrice    decimal.Decimal
	ATR          decimal.Decimal
	Confidence   decimal.Decimal
}

// Result is the sizer's output: a unit quantity plus the risk it implies.
type Result struct {
	Units      decimal.Decimal
	RiskAmount decimal.Decimal
	RiskPct    decimal.Decimal
	Method     types.SizingMethod
	Zeroed     bool
	ZeroReason string
}

// TradeOutcome is one closed trade's result, fed back via RecordTrade so the
// Kelly method can refresh its win-rate/win-loss-ratio inputs.
type TradeOutcome struct {
	Symbol  string
	IsWin   bool
	RMultiple decimal.Decimal
}

// PositionSizer computes an order's unit quantity per the configured method.
type PositionSizer struct {
	logger *zap.Logger
	cfg    types.SizingConfig

	mu      sync.Mutex
	history []TradeOutcome
}

func NewPositionSizer(logger *zap.Logger, cfg types.SizingConfig) *PositionSizer {
	return &PositionSizer{logger: logger.Named("sizing"), cfg: cfg}
}

// RecordTrade appends a closed-trade outcome, used to derive Kelly inputs
// when the config doesn't pin KellyWinProbability/KellyWinLossRatio.
func (p *PositionSizer) RecordTrade(o TradeOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, o)
	if len(p.history) > 500 {
		p.history = p.history[len(p.history)-500:]
	}
}

// kellyInputs returns (winProbability, winLossRatio) from config if set,
// else derived from recorded history, else a neutral (0.5, 1.0) prior.
func (p *PositionSizer) kellyInputs() (decimal.Decimal, decimal.Decimal) {
	if p.cfg.KellyWinProbability.IsPositive() && p.cfg.KellyWinLossRatio.IsPositive() {
		return p.cfg.KellyWinProbability, p.cfg.KellyWinLossRatio
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) < 10 {
		return decimal.NewFromFloat(0.5), decimal.NewFromInt(1)
	}
	wins, losses := 0, 0
	sumWinR, sumLossR := decimal.Zero, decimal.Zero
	for _, o := range p.history {
		if o.IsWin {
			wins++
			sumWinR = sumWinR.Add(o.RMultiple)
		} else {
			losses++
			sumLossR = sumLossR.Add(o.RMultiple.Abs())
		}
	}
	total := decimal.NewFromInt(int64(wins + losses))
	if total.IsZero() {
		return decimal.NewFromFloat(0.5), decimal.NewFromInt(1)
	}
	winProb := decimal.NewFromInt(int64(wins)).Div(total)
	avgWin := decimal.NewFromInt(1)
	if wins > 0 {
		avgWin = sumWinR.Div(decimal.NewFromInt(int64(wins)))
	}
	avgLoss := decimal.NewFromInt(1)
	if losses > 0 {
		avgLoss = sumLossR.Div(decimal.NewFromInt(int64(losses)))
	}
	if avgLoss.IsZero() {
		avgLoss = decimal.NewFromInt(1)
	}
	return winProb, avgWin.Div(avgLoss)
}

// Size computes a unit quantity for req under the sizer's configured
// method. Returns (zeroed) size when the method can't or shouldn't size a
// position (e.g. negative-expectancy Kelly, or a zero stop distance for a
// risk-based method).
func (p *PositionSizer) Size(req Request) (Result, error) {
	if req.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return Result{}, tradeerrors.ErrValidation
	}

	switch p.cfg.Method {
	case types.SizingFixedUnits:
		return Result{Units: p.cfg.FixedUnits, Method: p.cfg.Method}, nil

	case types.SizingFixedAmount:
		units := p.cfg.FixedAmount.Div(req.EntryPrice)
		return Result{Units: units, Method: p.cfg.Method}, nil

	case types.SizingPercentEquity:
		fraction := scalePercent(p.cfg.PercentEquity)
		amount := req.Equity.Mul(fraction)
		units := amount.Div(req.EntryPrice)
		return Result{Units: units, RiskAmount: amount, Method: p.cfg.Method}, nil

	case types.SizingPercentRisk:
		return p.riskBased(req, req.EntryPrice.Sub(req.StopPrice).Abs())

	case types.SizingATRBased:
		if req.ATR.LessThanOrEqual(decimal.Zero) || p.cfg.ATRMultiplier.LessThanOrEqual(decimal.Zero) {
			return Result{Zeroed: true, ZeroReason: "no atr available", Method: p.cfg.Method}, nil
		}
		return p.riskBased(req, req.ATR.Mul(p.cfg.ATRMultiplier))

	case types.SizingKellyFraction:
		winProb, winLossRatio := p.kellyInputs()
		// f* = p - (1-p)/b ; b = win/loss ratio.
		kelly := winProb.Sub(decimal.NewFromInt(1).Sub(winProb).Div(winLossRatio))
		if kelly.LessThanOrEqual(decimal.Zero) {
			return Result{Zeroed: true, ZeroReason: "non-positive kelly edge", Method: p.cfg.Method}, nil
		}
		fraction := p.cfg.KellyFraction
		if fraction.LessThanOrEqual(decimal.Zero) {
			fraction = decimal.NewFromFloat(0.25)
		}
		amount := req.Equity.Mul(kelly).Mul(fraction)
		units := amount.Div(req.EntryPrice)
		return Result{Units: units, RiskAmount: amount, Method: p.cfg.Method}, nil

	default:
		return Result{}, tradeerrors.ErrValidation
	}
}

func (p *PositionSizer) riskBased(req Request, perUnitRisk decimal.Decimal) (Result, error) {
	if perUnitRisk.LessThanOrEqual(decimal.Zero) {
		return Result{Zeroed: true, ZeroReason: "zero stop distance", Method: p.cfg.Method}, nil
	}
	riskPct := p.cfg.RiskPercent
	if riskPct.LessThanOrEqual(decimal.Zero) {
		riskPct = decimal.NewFromFloat(0.01)
	} else {
		riskPct = scalePercent(riskPct)
	}
	riskAmount := req.Equity.Mul(riskPct)
	units := riskAmount.Div(perUnitRisk)
	return Result{
		Units:      units,
		RiskAmount: riskAmount,
		RiskPct:    riskPct,
		Method:     p.cfg.Method,
	}, nil
}
