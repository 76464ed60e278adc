package signals

import (
	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// ConfidenceScorer applies the penalty/cap cascade from spec §4.8 on top of
// an ensemble's raw combination score.
type ConfidenceScorer struct {
	ContradictionAlpha   decimal.Decimal
	NonTradePenalty      decimal.Decimal
	RegimeMismatchPenalty decimal.Decimal
	ExtremeVolatilityCap decimal.Decimal
	IlliquidCap          decimal.Decimal
}

func DefaultConfidenceScorer() *ConfidenceScorer {
	return &ConfidenceScorer{
		ContradictionAlpha:    decimal.NewFromFloat(0.3),
		NonTradePenalty:       decimal.NewFromFloat(0.25),
		RegimeMismatchPenalty: decimal.NewFromFloat(0.15),
		ExtremeVolatilityCap:  decimal.NewFromFloat(0.3),
		IlliquidCap:           decimal.NewFromFloat(0.2),
	}
}

// Score adjusts result.FinalConfidence in place-equivalent (returns the
// adjusted value) and recomputes Strength via StrengthFromConfidence.
func (c *ConfidenceScorer) Score(result *types.EnsembleResult, regime *types.MarketRegime) decimal.Decimal {
	conf := result.FinalConfidence
	conf = conf.Sub(result.ContradictionScore.Mul(c.ContradictionAlpha))

	if regime != nil {
		if !regime.IsTradeable {
			conf = conf.Sub(c.NonTradePenalty)
		}
		if directionMismatchesTrend(result.FinalDirection, regime.Trend) {
			conf = conf.Sub(c.RegimeMismatchPenalty)
		}
	}

	if conf.GreaterThan(decimal.NewFromInt(1)) {
		conf = decimal.NewFromInt(1)
	}
	if conf.IsNegative() {
		conf = decimal.Zero
	}

	if regime != nil {
		if regime.Volatility == types.VolatilityExtreme && conf.GreaterThan(c.ExtremeVolatilityCap) {
			conf = c.ExtremeVolatilityCap
		}
		if regime.Liquidity == types.LiquidityIlliquid && conf.GreaterThan(c.IlliquidCap) {
			conf = c.IlliquidCap
		}
	}

	result.FinalConfidence = conf
	return conf
}

func directionMismatchesTrend(dir types.Direction, trend types.RegimeTrend) bool {
	switch trend {
	case types.TrendStrongUp, types.TrendWeakUp:
		return dir == types.DirectionSell
	case types.TrendStrongDown, types.TrendWeakDown:
		return dir == types.DirectionBuy
	default:
		return false
	}
}
