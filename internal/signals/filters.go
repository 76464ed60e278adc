package signals

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// FilterResult is the outcome of one filter in the chain.
type FilterResult struct {
	Passed     bool
	Reason     string
	Multiplier decimal.Decimal
}

func passResult() FilterResult {
	return FilterResult{Passed: true, Multiplier: decimal.NewFromInt(1)}
}

func blockResult(reason string) FilterResult {
	return FilterResult{Passed: false, Reason: reason, Multiplier: decimal.Zero}
}

// MacroEvent is a scheduled macro-economic release the NewsFilter guards
// around.
type MacroEvent struct {
	Currency string
	At       time.Time
	Pre      time.Duration
	Post     time.Duration
}

func (m MacroEvent) blocks(symbol string, at time.Time) bool {
	if !strings.Contains(strings.ToUpper(symbol), strings.ToUpper(m.Currency)) {
		return false
	}
	start := m.At.Add(-m.Pre)
	end := m.At.Add(m.Post)
	return !at.Before(start) && !at.After(end)
}

// Filter is one link in the signal filter chain.
type Filter interface {
	Name() string
	Apply(signal types.Signal, ctx *FilterContext) FilterResult
}

// FilterContext carries the shared state filters need: current regime,
// spread stats, scheduled macro events, session-quality lookup, and the
// per-(strategy,symbol) anti-overtrading tracker.
type FilterContext struct {
	Regime          *types.MarketRegime
	CurrentSpread   decimal.Decimal
	AvgSpread       decimal.Decimal
	MacroEvents     []MacroEvent
	SessionQuality  func(assetClass types.AssetClass, at time.Time) decimal.Decimal
	CorrelationTracker *CorrelationTracker
	OvertradingGuard   *AntiOvertradingGuard
	AssetClass      types.AssetClass
	Now             time.Time
}

// Chain runs filters in order, stopping at the first block.
type Chain struct {
	filters []Filter
}

func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Run returns (passed, blockReason, combinedMultiplier).
func (c *Chain) Run(signal types.Signal, ctx *FilterContext) (bool, string, decimal.Decimal) {
	multiplier := decimal.NewFromInt(1)
	for _, f := range c.filters {
		res := f.Apply(signal, ctx)
		if !res.Passed {
			return false, f.Name() + ": " + res.Reason, decimal.Zero
		}
		multiplier = multiplier.Mul(res.Multiplier)
	}
	return true, "", multiplier
}

// RegimeFilter rejects signals contrary to a strong trend or under extreme
// volatility, and attenuates trend-following strategies while ranging.
type RegimeFilter struct {
	RangingAttenuation decimal.Decimal
}

func NewRegimeFilter() *RegimeFilter {
	return &RegimeFilter{RangingAttenuation: decimal.NewFromFloat(0.70)}
}

func (f *RegimeFilter) Name() string { return "regime_filter" }

func (f *RegimeFilter) Apply(signal types.Signal, ctx *FilterContext) FilterResult {
	if ctx.Regime == nil {
		return passResult()
	}
	if ctx.Regime.Volatility == types.VolatilityExtreme {
		return blockResult("extreme volatility")
	}
	if signal.Direction == types.DirectionBuy && ctx.Regime.Trend == types.TrendStrongDown {
		return blockResult("buy against strong downtrend")
	}
	if signal.Direction == types.DirectionSell && ctx.Regime.Trend == types.TrendStrongUp {
		return blockResult("sell against strong uptrend")
	}
	if ctx.Regime.Trend == types.TrendRanging && strings.Contains(signal.StrategyID, "trend") {
		return FilterResult{Passed: true, Multiplier: f.RangingAttenuation}
	}
	return passResult()
}

// NewsFilter blocks signals inside a macro event's pre/post window for
// non-crypto symbols.
type NewsFilter struct{}

func (f *NewsFilter) Name() string { return "news_filter" }

func (f *NewsFilter) Apply(signal types.Signal, ctx *FilterContext) FilterResult {
	if ctx.AssetClass == types.AssetClassCrypto {
		return passResult()
	}
	for _, ev := range ctx.MacroEvents {
		if ev.blocks(signal.Symbol, ctx.Now) {
			return blockResult("within macro event window")
		}
	}
	return passResult()
}

// SessionFilter rejects signals when the session-quality score for the
// asset class/time falls below the minimum.
type SessionFilter struct {
	MinQuality decimal.Decimal
}

func NewSessionFilter() *SessionFilter {
	return &SessionFilter{MinQuality: decimal.NewFromFloat(0.4)}
}

func (f *SessionFilter) Name() string { return "session_filter" }

func (f *SessionFilter) Apply(signal types.Signal, ctx *FilterContext) FilterResult {
	if ctx.AssetClass == types.AssetClassCrypto || ctx.SessionQuality == nil {
		return passResult()
	}
	q := ctx.SessionQuality(ctx.AssetClass, ctx.Now)
	if q.LessThan(f.MinQuality) {
		return blockResult("session quality below minimum")
	}
	return passResult()
}

// SpreadFilter rejects when the current spread exceeds the trailing average
// by more than a multiplier.
type SpreadFilter struct {
	Multiplier decimal.Decimal
}

func NewSpreadFilter() *SpreadFilter {
	return &SpreadFilter{Multiplier: decimal.NewFromFloat(3.0)}
}

func (f *SpreadFilter) Name() string { return "spread_filter" }

func (f *SpreadFilter) Apply(signal types.Signal, ctx *FilterContext) FilterResult {
	if ctx.AvgSpread.IsZero() {
		return passResult()
	}
	if ctx.CurrentSpread.GreaterThan(ctx.AvgSpread.Mul(f.Multiplier)) {
		return blockResult("spread above threshold")
	}
	return passResult()
}

// CorrelationTracker counts simultaneous exposures per correlation group.
type CorrelationTracker struct {
	maxPerGroup int
	open        map[string]int
}

func NewCorrelationTracker(maxPerGroup int) *CorrelationTracker {
	return &CorrelationTracker{maxPerGroup: maxPerGroup, open: make(map[string]int)}
}

func (t *CorrelationTracker) Group(symbol string) string {
	symbol = strings.ToUpper(symbol)
	switch {
	case strings.HasSuffix(symbol, "USD"), strings.Contains(symbol, "USD"):
		return "usd_quoted"
	case len(symbol) >= 3:
		return symbol[:3]
	default:
		return symbol
	}
}

func (t *CorrelationTracker) WouldExceed(symbol string) bool {
	return t.open[t.Group(symbol)] >= t.maxPerGroup
}

func (t *CorrelationTracker) Register(symbol string) {
	t.open[t.Group(symbol)]++
}

func (t *CorrelationTracker) Release(symbol string) {
	g := t.Group(symbol)
	if t.open[g] > 0 {
		t.open[g]--
	}
}

// CorrelationFilter enforces at most K simultaneous exposures per group.
type CorrelationFilter struct{}

func (f *CorrelationFilter) Name() string { return "correlation_filter" }

func (f *CorrelationFilter) Apply(signal types.Signal, ctx *FilterContext) FilterResult {
	if ctx.CorrelationTracker == nil || !signal.Direction.Actionable() {
		return passResult()
	}
	if ctx.CorrelationTracker.WouldExceed(signal.Symbol) {
		return blockResult("correlation group exposure limit reached")
	}
	return passResult()
}

// overtradeState is per (strategy,symbol) bookkeeping for the guard.
type overtradeState struct {
	lastSignalBar     int
	recentTimestamps  []time.Time
	consecutiveLosses int
	pausedUntil       time.Time
}

// AntiOvertradingGuard enforces a per-(strategy,symbol) cooldown in bars, a
// sliding 60-minute signal rate cap, and a pause after N consecutive losses.
type AntiOvertradingGuard struct {
	CooldownBars      int
	MaxPerHour        int
	PauseAfterLosses  int
	PauseDuration     time.Duration
	state             map[string]*overtradeState
	currentBar        int
}

func NewAntiOvertradingGuard(cooldownBars, maxPerHour, pauseAfterLosses int, pauseDuration time.Duration) *AntiOvertradingGuard {
	return &AntiOvertradingGuard{
		CooldownBars:     cooldownBars,
		MaxPerHour:       maxPerHour,
		PauseAfterLosses: pauseAfterLosses,
		PauseDuration:    pauseDuration,
		state:            make(map[string]*overtradeState),
	}
}

func (g *AntiOvertradingGuard) key(strategyID, symbol string) string { return strategyID + "|" + symbol }

func (g *AntiOvertradingGuard) AdvanceBar() { g.currentBar++ }

// RecordLoss registers a closed trade's outcome for (strategyID,symbol) as of
// now, the simulated bar-close instant the trade closed on. now drives the
// pause window so a backtest replay stays deterministic across runs.
func (g *AntiOvertradingGuard) RecordLoss(strategyID, symbol string, isLoss bool, now time.Time) {
	s := g.stateFor(strategyID, symbol)
	if isLoss {
		s.consecutiveLosses++
		if s.consecutiveLosses >= g.PauseAfterLosses && g.PauseAfterLosses > 0 {
			s.pausedUntil = now.Add(g.PauseDuration)
		}
	} else {
		s.consecutiveLosses = 0
	}
}

func (g *AntiOvertradingGuard) stateFor(strategyID, symbol string) *overtradeState {
	k := g.key(strategyID, symbol)
	s, ok := g.state[k]
	if !ok {
		s = &overtradeState{lastSignalBar: -1 << 30}
		g.state[k] = s
	}
	return s
}

// Check evaluates and, on pass, records the signal as emitted.
func (g *AntiOvertradingGuard) Check(strategyID, symbol string, now time.Time) (bool, string) {
	s := g.stateFor(strategyID, symbol)
	if !s.pausedUntil.IsZero() && now.Before(s.pausedUntil) {
		return false, "paused after consecutive losses"
	}
	if g.CooldownBars > 0 && g.currentBar-s.lastSignalBar < g.CooldownBars {
		return false, "cooldown in effect"
	}
	cutoff := now.Add(-time.Hour)
	kept := s.recentTimestamps[:0]
	for _, t := range s.recentTimestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.recentTimestamps = kept
	if g.MaxPerHour > 0 && len(s.recentTimestamps) >= g.MaxPerHour {
		return false, "max signals per hour reached"
	}
	s.lastSignalBar = g.currentBar
	s.recentTimestamps = append(s.recentTimestamps, now)
	return true, ""
}
