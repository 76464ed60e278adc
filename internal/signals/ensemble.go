// Package signals implements the ensemble combination, confidence scoring,
// and filter chain that turn per-strategy candidate Signals into one
// DecisionResult, and the SignalEngine orchestrator that runs the pipeline.
package signals

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// Ensemble combines per-strategy Signals into a single EnsembleResult.
type Ensemble struct {
	cfg types.EnsembleConfig
}

func NewEnsemble(cfg types.EnsembleConfig) *Ensemble {
	if cfg.WaitThreshold.IsZero() {
		cfg.WaitThreshold = decimal.NewFromFloat(0.10)
	}
	if cfg.ContradictionThreshold.IsZero() {
		cfg.ContradictionThreshold = decimal.NewFromFloat(0.50)
	}
	if cfg.ContradictionConfidenceCap.IsZero() {
		cfg.ContradictionConfidenceCap = decimal.NewFromFloat(0.45)
	}
	if cfg.RegimeBoostMultiplier.IsZero() {
		cfg.RegimeBoostMultiplier = decimal.NewFromFloat(1.25)
	}
	return &Ensemble{cfg: cfg}
}

// weight returns the configured weight for a strategy, defaulting to 1.
func (e *Ensemble) weight(strategyID string) decimal.Decimal {
	if w, ok := e.cfg.StrategyWeights[strategyID]; ok {
		return w
	}
	return decimal.NewFromInt(1)
}

func isVoteLike(method types.EnsembleMethod) bool {
	switch method {
	case types.EnsembleWeightedVote, types.EnsembleMajorityVote, types.EnsembleRegimeWeighted:
		return true
	default:
		return false
	}
}

// Combine runs the configured method over signals and returns the ensemble
// result. regime may be nil.
func (e *Ensemble) Combine(symbol string, runID string, signals []types.Signal, regime *types.MarketRegime, now time.Time) types.EnsembleResult {
	result := types.EnsembleResult{
		RunID:        runID,
		Symbol:       symbol,
		Ts:           now,
		Method:       string(e.cfg.Method),
		Regime:       regime,
		Contributing: signals,
	}
	if len(signals) == 0 {
		result.FinalDirection = types.DirectionWait
		result.FinalConfidence = decimal.NewFromFloat(0.2)
		return result
	}

	buyCount, sellCount, actionable := 0, 0, 0
	for _, s := range signals {
		if s.Direction == types.DirectionBuy {
			buyCount++
			actionable++
		} else if s.Direction == types.DirectionSell {
			sellCount++
			actionable++
		}
	}
	agreement := decimal.Zero
	if actionable > 0 {
		maxCount := buyCount
		if sellCount > maxCount {
			maxCount = sellCount
		}
		agreement = decimal.NewFromInt(int64(maxCount)).Div(decimal.NewFromInt(int64(actionable)))
	}
	contradiction := decimal.NewFromInt(1).Sub(agreement)
	result.AgreementScore = agreement
	result.ContradictionScore = contradiction

	var dir types.Direction
	var conf decimal.Decimal
	switch e.cfg.Method {
	case types.EnsembleMajorityVote:
		dir, conf = e.majorityVote(signals, buyCount, sellCount)
	case types.EnsembleUnanimous:
		dir, conf = e.unanimous(signals, buyCount, sellCount)
	case types.EnsembleBestConfidence:
		dir, conf = e.bestConfidence(signals)
	case types.EnsembleRegimeWeighted:
		dir, conf = e.weightedVote(signals, regime, true)
	default:
		dir, conf = e.weightedVote(signals, regime, false)
	}

	if isVoteLike(e.cfg.Method) && contradiction.GreaterThanOrEqual(e.cfg.ContradictionThreshold) {
		dir = types.DirectionWait
		if conf.GreaterThan(e.cfg.ContradictionConfidenceCap) {
			conf = e.cfg.ContradictionConfidenceCap
		}
	}

	result.FinalDirection = dir
	result.FinalConfidence = conf
	result.TopReasons = topReasons(signals, 5)
	return result
}

// weightedVote implements score = Σ weight·direction·confidence / Σ weight,
// with regime-compatible strategies boosted ×RegimeBoostMultiplier when
// boosted is true (the regime_weighted method).
func (e *Ensemble) weightedVote(signals []types.Signal, regime *types.MarketRegime, boosted bool) (types.Direction, decimal.Decimal) {
	numerator, denominator := decimal.Zero, decimal.Zero
	for _, s := range signals {
		w := e.weight(s.StrategyID)
		if boosted && regime != nil && isRegimeCompatible(s.StrategyID, regime) {
			w = w.Mul(e.cfg.RegimeBoostMultiplier)
		}
		numerator = numerator.Add(w.Mul(decimal.NewFromFloat(s.Direction.Signed())).Mul(s.Confidence))
		denominator = denominator.Add(w)
	}
	if denominator.IsZero() {
		return types.DirectionWait, decimal.NewFromFloat(0.2)
	}
	score := numerator.Div(denominator)
	if score.Abs().LessThanOrEqual(e.cfg.WaitThreshold) {
		conf := decimal.NewFromFloat(0.5).Sub(score.Abs())
		if conf.LessThan(decimal.NewFromFloat(0.2)) {
			conf = decimal.NewFromFloat(0.2)
		}
		return types.DirectionWait, conf
	}
	conf := score.Abs()
	if conf.GreaterThan(decimal.NewFromInt(1)) {
		conf = decimal.NewFromInt(1)
	}
	if score.IsPositive() {
		return types.DirectionBuy, conf
	}
	return types.DirectionSell, conf
}

func (e *Ensemble) majorityVote(signals []types.Signal, buyCount, sellCount int) (types.Direction, decimal.Decimal) {
	total := len(signals)
	if total == 0 {
		return types.DirectionWait, decimal.NewFromFloat(0.2)
	}
	if buyCount > sellCount && buyCount > total/2 {
		return types.DirectionBuy, decimal.NewFromInt(int64(buyCount)).Div(decimal.NewFromInt(int64(total)))
	}
	if sellCount > buyCount && sellCount > total/2 {
		return types.DirectionSell, decimal.NewFromInt(int64(sellCount)).Div(decimal.NewFromInt(int64(total)))
	}
	return types.DirectionWait, decimal.NewFromFloat(0.3)
}

func (e *Ensemble) unanimous(signals []types.Signal, buyCount, sellCount int) (types.Direction, decimal.Decimal) {
	total := len(signals)
	if buyCount == total && total > 0 {
		return types.DirectionBuy, avgConfidence(signals)
	}
	if sellCount == total && total > 0 {
		return types.DirectionSell, avgConfidence(signals)
	}
	return types.DirectionWait, decimal.NewFromFloat(0.25)
}

func (e *Ensemble) bestConfidence(signals []types.Signal) (types.Direction, decimal.Decimal) {
	best := signals[0]
	for _, s := range signals[1:] {
		if s.Confidence.GreaterThan(best.Confidence) {
			best = s
		}
	}
	if !best.Direction.Actionable() {
		return types.DirectionWait, best.Confidence
	}
	return best.Direction, best.Confidence
}

func avgConfidence(signals []types.Signal) decimal.Decimal {
	if len(signals) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, s := range signals {
		sum = sum.Add(s.Confidence)
	}
	return sum.Div(decimal.NewFromInt(int64(len(signals))))
}

func isRegimeCompatible(strategyID string, regime *types.MarketRegime) bool {
	for _, s := range regime.RecommendedStrategies {
		if s == strategyID {
			return true
		}
	}
	return false
}

func topReasons(signals []types.Signal, n int) []types.Reason {
	var all []types.Reason
	for _, s := range signals {
		all = append(all, s.Reasons...)
	}
	if len(all) <= n {
		return all
	}
	// partial selection sort by |weight| descending, good enough for small n
	for i := 0; i < n; i++ {
		maxIdx := i
		for j := i + 1; j < len(all); j++ {
			if all[j].Weight.Abs().GreaterThan(all[maxIdx].Weight.Abs()) {
				maxIdx = j
			}
		}
		all[i], all[maxIdx] = all[maxIdx], all[i]
	}
	return all[:n]
}
