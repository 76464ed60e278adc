package signals

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/internal/events"
	"github.com/zeroframe404/sistema-pro-trader/internal/strategy"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// BarSource supplies the trailing bar window an analysis needs; satisfied by
// the data repository (cache -> disk -> connector chain).
type BarSource interface {
	LastBars(broker, symbol string, tf types.Timeframe, n int, autoFetch bool) ([]types.OHLCVBar, error)
	LatestTick(broker, symbol string) (*types.Tick, error)
}

// RegimeSource classifies the current regime for a bar window.
type RegimeSource interface {
	Detect(bars []types.OHLCVBar, tick *types.Tick) *types.MarketRegime
}

// AuditSink records an immutable decision trail; satisfied by internal/audit.
type AuditSink interface {
	Append(entry types.AuditEntry) error
}

// EngineConfig bundles the tunables an Engine needs beyond its collaborators.
type EngineConfig struct {
	LookbackBars      int
	HorizonClass      string
	MaxActiveSignals  int
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{LookbackBars: 250, HorizonClass: "any", MaxActiveSignals: 500}
}

// Engine is the signal orchestrator: spec §4.9's seven-step analyze flow.
type Engine struct {
	cfg       EngineConfig
	logger    *zap.Logger
	bars      BarSource
	regimeSrc RegimeSource
	registry  *strategy.Registry
	ensemble  *Ensemble
	scorer    *ConfidenceScorer
	chain     *Chain
	corr      *CorrelationTracker
	guard     *AntiOvertradingGuard
	bus       *events.Bus
	audit     AuditSink

	mu      sync.Mutex
	active  map[string]types.Signal
	history []types.Signal
}

func NewEngine(
	cfg EngineConfig,
	logger *zap.Logger,
	bars BarSource,
	regimeSrc RegimeSource,
	registry *strategy.Registry,
	ensemble *Ensemble,
	scorer *ConfidenceScorer,
	chain *Chain,
	corr *CorrelationTracker,
	guard *AntiOvertradingGuard,
	bus *events.Bus,
	audit AuditSink,
) *Engine {
	return &Engine{
		cfg: cfg, logger: logger.Named("signals"), bars: bars, regimeSrc: regimeSrc,
		registry: registry, ensemble: ensemble, scorer: scorer, chain: chain,
		corr: corr, guard: guard, bus: bus, audit: audit,
		active: make(map[string]types.Signal),
	}
}

// Analyze runs the full seven-step pipeline for one (symbol, broker,
// timeframe) as of now and returns the resulting DecisionResult.
func (e *Engine) Analyze(broker, symbol string, tf types.Timeframe, assetClass types.AssetClass, fctx *FilterContext) (types.DecisionResult, error) {
	return e.AnalyzeAsOf(broker, symbol, tf, assetClass, fctx, time.Now())
}

// AnalyzeAsOf runs the same pipeline pinned to an explicit instant, so a
// deterministic replay or backtest can drive it bar-by-bar instead of
// sampling the wall clock.
func (e *Engine) AnalyzeAsOf(broker, symbol string, tf types.Timeframe, assetClass types.AssetClass, fctx *FilterContext, now time.Time) (types.DecisionResult, error) {
	runID := uuid.NewString()

	// Step 1: fetch bars.
	bars, err := e.bars.LastBars(broker, symbol, tf, e.cfg.LookbackBars, true)
	if err != nil {
		return types.DecisionResult{}, fmt.Errorf("signals: fetch bars: %w", err)
	}
	if len(bars) == 0 {
		return types.DecisionResult{}, fmt.Errorf("signals: no bars available for %s/%s", broker, symbol)
	}
	tick, _ := e.bars.LatestTick(broker, symbol)

	// Step 2: regime.
	regime := e.regimeSrc.Detect(bars, tick)

	if fctx == nil {
		fctx = &FilterContext{}
	}
	fctx.Regime = regime
	fctx.AssetClass = assetClass
	fctx.Now = now
	if fctx.CorrelationTracker == nil {
		fctx.CorrelationTracker = e.corr
	}

	// Step 3: select compatible strategies.
	names := e.registry.List()
	var candidates []types.Signal
	var blocked []types.BlockedSignal

	for _, name := range names {
		strat, err := e.registry.Create(name)
		if err != nil {
			continue
		}
		if !assetClassCompatible(strat.AssetClasses(), assetClass) {
			continue
		}

		// Step 4: generate candidate, run filter chain, apply multiplier.
		sig, err := strat.Evaluate(bars, regime, now)
		if err != nil {
			e.logger.Warn("strategy evaluation error", zap.String("strategy", name), zap.Error(err))
			continue
		}
		if sig == nil || !sig.Direction.Actionable() {
			continue
		}
		sig.RunID = runID

		passed, reason, multiplier := e.chain.Run(*sig, fctx)
		if !passed {
			blocked = append(blocked, types.BlockedSignal{StrategyID: name, Reason: reason})
			continue
		}
		sig.Confidence = sig.Confidence.Mul(multiplier)
		candidates = append(candidates, *sig)
	}

	// Step 5: ensemble -> confidence score -> decision.
	result := e.ensemble.Combine(symbol, runID, candidates, regime, now)
	result.Blocked = blocked
	e.scorer.Score(&result, regime)
	result.Regime = regime

	// Step 6: anti-overtrading guard on the final signal.
	if result.FinalDirection.Actionable() && e.guard != nil {
		strategyKey := "ensemble"
		if ok, reason := e.guard.Check(strategyKey, symbol, now); !ok {
			result.FinalDirection = types.DirectionNoTrade
			result.Blocked = append(result.Blocked, types.BlockedSignal{StrategyID: strategyKey, Reason: "anti_overtrading: " + reason})
		}
	}

	decision := e.buildDecision(symbol, assetClass, result, now)

	// Step 7: register, publish, audit.
	e.register(symbol, result)
	if e.bus != nil {
		e.bus.Publish(events.NewSignalEvent(decision))
	}
	if e.audit != nil {
		_ = e.audit.Append(types.AuditEntry{
			EntryID:   uuid.NewString(),
			Ts:        now,
			RunID:     runID,
			StrategyID: "ensemble",
			Symbol:    symbol,
			Rule:      "signal_decision",
			Scores: map[string]any{
				"direction":  string(result.FinalDirection),
				"confidence": result.FinalConfidence.String(),
			},
			Reasons: result.TopReasons,
		})
	}

	return decision, nil
}

func (e *Engine) buildDecision(symbol string, assetClass types.AssetClass, result types.EnsembleResult, now time.Time) types.DecisionResult {
	display, color := decisionDisplay(result.FinalDirection)
	validUntil := now.Add(30 * time.Minute)
	return types.DecisionResult{
		Symbol:        symbol,
		Direction:     result.FinalDirection,
		Display:       display,
		Color:         color,
		ConfidencePct: result.FinalConfidence.Mul(decimal.NewFromInt(100)),
		ValidUntil:    validUntil,
		AssetClass:    assetClass,
		HumanHorizon:  "intraday",
	}
}

func decisionDisplay(dir types.Direction) (string, string) {
	switch dir {
	case types.DirectionBuy:
		return "BUY", "green"
	case types.DirectionSell:
		return "SELL", "red"
	case types.DirectionNoTrade:
		return "NO TRADE", "gray"
	default:
		return "WAIT", "yellow"
	}
}

// register stores the signal in the bounded active list and the ring
// history, purging expired entries lazily.
func (e *Engine) register(symbol string, result types.EnsembleResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for key, s := range e.active {
		if s.ExpiresAt != nil && s.ExpiresAt.Before(now) {
			delete(e.active, key)
		}
	}

	if len(result.Contributing) > 0 {
		sig := result.Contributing[0]
		sig.Direction = result.FinalDirection
		sig.Confidence = result.FinalConfidence
		e.active[symbol] = sig
		e.history = append(e.history, sig)
		if len(e.history) > e.cfg.MaxActiveSignals*4 {
			e.history = e.history[len(e.history)-e.cfg.MaxActiveSignals*2:]
		}
	}
}

// ActiveSignals returns a snapshot of non-expired active signals, purging
// expired entries first.
func (e *Engine) ActiveSignals() map[string]types.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	out := make(map[string]types.Signal, len(e.active))
	for k, s := range e.active {
		if s.ExpiresAt != nil && s.ExpiresAt.Before(now) {
			delete(e.active, k)
			continue
		}
		out[k] = s
	}
	return out
}

func assetClassCompatible(supported []types.AssetClass, want types.AssetClass) bool {
	if len(supported) == 0 {
		return true
	}
	for _, a := range supported {
		if a == want {
			return true
		}
	}
	return false
}
