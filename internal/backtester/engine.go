// Package backtester implements the deterministic, event-ordered replay
// engine: it drives the real signal engine, risk manager, and paper
// execution stack bar-by-bar over historical data and reports
// BacktestTrades/BacktestMetrics, exactly the stack a live run uses, so a
// backtest result is a faithful preview of live behavior rather than a
// parallel simulation with its own bugs.
package backtester

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/internal/events"
	"github.com/zeroframe404/sistema-pro-trader/internal/execution"
	"github.com/zeroframe404/sistema-pro-trader/internal/regime"
	"github.com/zeroframe404/sistema-pro-trader/internal/risk"
	"github.com/zeroframe404/sistema-pro-trader/internal/signals"
	"github.com/zeroframe404/sistema-pro-trader/internal/sizing"
	"github.com/zeroframe404/sistema-pro-trader/internal/strategy"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// Config bundles the sub-configs a full run needs beyond BacktestConfig:
// these normally live in separate risk.yaml/signals.yaml documents in a
// live deployment, loaded together by the config layer.
type Config struct {
	Backtest types.BacktestConfig
	Sizing   types.SizingConfig
	Stops    types.StopConfig
	Ensemble types.EnsembleConfig
	Kill     types.KillSwitchConfig
	Retry    types.RetryConfig

	// StrategyParams overrides a strategy's default Parameters() before the
	// run starts, keyed by strategy name then parameter name. A CLI harness
	// running the optimizer sets this per trial; a plain backtest run leaves
	// it nil and every strategy keeps its defaults.
	StrategyParams map[string]map[string]decimal.Decimal
}

// Engine is a stateless driver: one instance can run any number of configs
// concurrently, since all mutable state lives in the runtime it builds per
// invocation of Run.
type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("backtester")}
}

// Run executes cfg.Backtest.Mode against bars (pre-loaded or generated by
// the caller; internal/data.Repository is the live-mode source, not this
// package's concern) and returns the full BacktestResult.
func (e *Engine) Run(ctx context.Context, cfg Config, bars map[string][]types.OHLCVBar, progress chan<- types.BacktestProgress) (*types.BacktestResult, error) {
	started := time.Now()
	result := &types.BacktestResult{ID: uuid.NewString(), Config: &cfg.Backtest, StartedAt: started}

	switch cfg.Backtest.Mode {
	case types.BacktestModeSimple, "":
		run, err := e.runSimple(ctx, cfg, bars, cfg.Backtest.StartDate, cfg.Backtest.EndDate, progress)
		if err != nil {
			return nil, err
		}
		result.Metrics = run.metrics
		result.EquityCurve = run.equity
		result.Trades = run.trades
		result.EventsProcessed = run.events

	case types.BacktestModeWalkForward:
		summary, err := e.runWalkForward(ctx, cfg, bars, progress)
		if err != nil {
			return nil, err
		}
		result.WalkForwardResult = summary
		if n := len(summary.Windows); n > 0 {
			result.Metrics = summary.Windows[n-1].TestMetrics
		}

	case types.BacktestModeOutOfSample:
		oos, err := e.runOutOfSample(ctx, cfg, bars, progress)
		if err != nil {
			return nil, err
		}
		result.OutOfSampleResult = oos
		result.Metrics = oos.OutSampleMetrics

	default:
		return nil, fmt.Errorf("backtester: unknown mode %q", cfg.Backtest.Mode)
	}

	if cfg.Backtest.MonteCarlo.Enabled && result.Metrics != nil && len(result.Trades) > 0 {
		result.MonteCarloResult = RunMonteCarlo(cfg.Backtest.MonteCarlo, result.Trades, cfg.Backtest.InitialCapital)
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(started)
	return result, nil
}

type simpleRunResult struct {
	trades  []types.BacktestTrade
	equity  []types.EquityCurvePoint
	metrics *types.BacktestMetrics
	events  uint64
}

type barEvent struct {
	symbol string
	bar    types.OHLCVBar
}

type openTrade struct {
	StrategyID   string
	Side         types.PositionSide
	EntryPrice   decimal.Decimal
	EntryTime    time.Time
	RiskDistance decimal.Decimal
	Confidence   decimal.Decimal
	Regime       *types.MarketRegime
	BarsHeld     int
	LowestPrice  decimal.Decimal
	HighestPrice decimal.Decimal
}

// runSimple is spec §4.12's SIMPLE mode: walk bars in order, mark
// positions to market at each close, run the signal engine, and submit
// approved decisions through the paper execution stack. It is also the
// inner loop WALK_FORWARD and OUT_OF_SAMPLE invoke on each half-window.
func (e *Engine) runSimple(ctx context.Context, cfg Config, bars map[string][]types.OHLCVBar, start, end time.Time, progress chan<- types.BacktestProgress) (*simpleRunResult, error) {
	bc := cfg.Backtest
	broker := bc.Broker
	if broker == "" {
		broker = "backtest"
	}

	ms := newMultiSource()
	var queue []barEvent
	for symbol, symbolBars := range bars {
		var windowed []types.OHLCVBar
		for _, b := range symbolBars {
			if !b.TsOpen.Before(start) && !b.TsOpen.After(end) {
				windowed = append(windowed, b)
			}
		}
		sort.Slice(windowed, func(i, j int) bool { return windowed[i].TsOpen.Before(windowed[j].TsOpen) })
		ms.add(symbol, newReplayBarSource(broker, symbol, bc.Timeframe, windowed))
		for _, b := range windowed {
			queue = append(queue, barEvent{symbol: symbol, bar: b})
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].bar.TsClose.Before(queue[j].bar.TsClose) })

	bus := events.New(e.logger, events.DefaultConfig())
	regimeDet := regime.New(e.logger, regime.DefaultConfig())
	names := bc.Strategies
	registry := strategy.NewRegistrySubset(names)
	for name, params := range cfg.StrategyParams {
		registry.SetParamOverrides(name, params)
	}
	ensemble := signals.NewEnsemble(cfg.Ensemble)
	scorer := signals.DefaultConfidenceScorer()
	chain := signals.NewChain(signals.NewRegimeFilter(), signals.NewSessionFilter(), signals.NewSpreadFilter())
	corr := signals.NewCorrelationTracker(3)
	guard := signals.NewAntiOvertradingGuard(3, 10, 3, 30*time.Minute)
	audit := newMemAuditSink()
	sigEngine := signals.NewEngine(signals.DefaultEngineConfig(), e.logger, ms, regimeDet, registry, ensemble, scorer, chain, corr, guard, bus, audit)

	sizer := sizing.NewPositionSizer(e.logger, cfg.Sizing)
	corrGroupOf := func(symbol string) string { return symbol }
	riskMgr := risk.NewManager(risk.ManagerConfig{Limits: bc.RiskLimits, Stops: cfg.Stops, KillSwitch: cfg.Kill}, e.logger, sizer, bc.InitialCapital, corrGroupOf, bus, start)

	slippage := execution.NewSlippageModel(bc.Slippage)
	fillSim := execution.NewFillSimulator(slippage, bc.Commission, bc.Slippage, bc.Seed)
	paper := execution.NewPaperAdapter(ms, fillSim, bc.InitialCapital, "USD")
	idem := execution.NewIdempotencyManager()
	retry := execution.NewRetryHandler(cfg.Retry)
	orderMgr := execution.NewOrderManager(e.logger, paper, idem, retry, bus)

	open := make(map[string]*openTrade)
	var trades []types.BacktestTrade
	var equityCurve []types.EquityCurvePoint
	barsSeen := make(map[string]int)
	currentPrices := make(map[string]decimal.Decimal)

	for _, ev := range queue {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		symbol, bar := ev.symbol, ev.bar
		ms.advanceTo(symbol, bar.TsClose)
		currentPrices[symbol] = bar.Close
		barsSeen[symbol]++
		bus.Publish(events.NewBarCloseEvent(bar))
		guard.AdvanceBar()

		if ot, ok := open[symbol]; ok {
			ot.BarsHeld++
			ot.LowestPrice = decimal.Min(ot.LowestPrice, bar.Low)
			ot.HighestPrice = decimal.Max(ot.HighestPrice, bar.High)

			atr := ms.ATR(broker, symbol)
			if pos := findPosition(orderMgr.Positions(), symbol); pos != nil {
				trailing := riskMgr.AdvanceTrailing(*pos, bar.Close, atr)
				paper.UpdateStops(symbol, decimal.Zero, decimal.Zero, trailing)
				exitReason := stopExitReason(*pos, bar, trailing, cfg.Stops, bc.Timeframe, ot.BarsHeld)
				if exitReason != "" {
					closed, err := orderMgr.ClosePosition(ctx, symbol, bar.TsClose)
					if err == nil && closed.Status == types.OrderStatusFilled {
						if t, ok := finalizeTrade(paper, symbol, ot, exitReason); ok {
							trades = append(trades, t)
							riskMgr.OnTradeClosed(sizing.TradeOutcome{Symbol: symbol, IsWin: t.PnLNet.IsPositive(), RMultiple: t.RMultiple}, bar.TsClose)
							guard.RecordLoss(ot.StrategyID, symbol, !t.PnLNet.IsPositive(), bar.TsClose)
						}
						delete(open, symbol)
					}
				}
			}
		}

		if barsSeen[symbol] <= bc.WarmupBars {
			continue
		}

		assetClass := assetClassFor(bar)
		decision, err := sigEngine.AnalyzeAsOf(broker, symbol, bc.Timeframe, assetClass, nil, bar.TsClose)
		if err != nil {
			continue
		}
		if decision.Direction.Actionable() {
			account, _ := paper.Account(ctx)
			unrealized := orderMgr.UnrealizedPnL(currentPrices)
			check := riskMgr.Evaluate(decision, account, orderMgr.Positions(), bar.Close, ms.ATR(broker, symbol), unrealized, bar.TsClose)
			if check.Status != types.RiskCheckRejected {
				signalID := uuid.NewString()
				prev := paper.Snapshot()
				order, err := orderMgr.SubmitFromSignal(ctx, decision, signalID, check, broker, bar.TsClose)
				if err == nil && order.FilledQuantity.IsPositive() {
					detectClose(paper, prev, symbol, &trades, riskMgr, guard, bar.TsClose, open)
					riskDistance := bar.Close.Sub(check.SuggestedSL).Abs()
					if pos := findPosition(orderMgr.Positions(), symbol); pos != nil {
						lastBars, _ := ms.LastBars(broker, symbol, bc.Timeframe, 250, false)
						tick, _ := ms.LatestTick(broker, symbol)
						entryRegime := regimeDet.Detect(lastBars, tick)
						open[symbol] = &openTrade{
							StrategyID: "ensemble", Side: pos.Side, EntryPrice: pos.EntryPrice, EntryTime: bar.TsClose,
							RiskDistance: riskDistance, Confidence: decision.ConfidencePct.Div(decimal.NewFromInt(100)),
							Regime: entryRegime, LowestPrice: pos.EntryPrice, HighestPrice: pos.EntryPrice,
						}
						riskMgr.RegisterOpen(*pos, pos.Quantity.Mul(pos.EntryPrice))
					}
				}
			}
		}

		account, _ := paper.Account(ctx)
		equity := account.Equity(orderMgr.UnrealizedPnL(currentPrices))
		equityCurve = append(equityCurve, types.EquityCurvePoint{Timestamp: bar.TsClose, Equity: equity, Cash: account.Balance})
	}

	metrics := NewMetricsCalculator().Calculate(trades, equityCurve, bc.InitialCapital)
	if progress != nil {
		progress <- types.BacktestProgress{Status: "completed", Progress: 1, EventsProcessed: uint64(len(queue)), TradesExecuted: len(trades)}
	}
	return &simpleRunResult{trades: trades, equity: equityCurve, metrics: metrics, events: uint64(len(queue))}, nil
}

func findPosition(positions []types.Position, symbol string) *types.Position {
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i]
		}
	}
	return nil
}

// detectClose diffs a pre-submission position snapshot against the current
// one to notice a full close caused by an opposing fill netting out the
// position (rather than an explicit ClosePosition call), and finalizes the
// corresponding BacktestTrade.
func detectClose(paper *execution.PaperAdapter, prev map[string]types.Position, symbol string, trades *[]types.BacktestTrade, riskMgr *risk.Manager, guard *signals.AntiOvertradingGuard, now time.Time, open map[string]*openTrade) {
	was, hadPrev := prev[symbol]
	ot, hasCtx := open[symbol]
	if !hadPrev || was.Status == types.PositionStatusClosed || !hasCtx {
		return
	}
	now2 := paper.Snapshot()
	cur, ok := now2[symbol]
	if !ok || cur.Status != types.PositionStatusClosed {
		return
	}
	if t, ok := finalizeTrade(paper, symbol, ot, "signal_reversal"); ok {
		*trades = append(*trades, t)
		riskMgr.OnTradeClosed(sizing.TradeOutcome{Symbol: symbol, IsWin: t.PnLNet.IsPositive(), RMultiple: t.RMultiple}, now)
		guard.RecordLoss(ot.StrategyID, symbol, !t.PnLNet.IsPositive(), now)
	}
	delete(open, symbol)
}

func finalizeTrade(paper *execution.PaperAdapter, symbol string, ot *openTrade, exitReason string) (types.BacktestTrade, bool) {
	snap := paper.Snapshot()
	pos, ok := snap[symbol]
	if !ok || pos.Status != types.PositionStatusClosed {
		return types.BacktestTrade{}, false
	}
	rMultiple := decimal.Zero
	if ot.RiskDistance.IsPositive() && pos.Quantity.IsPositive() {
		rMultiple = pos.RealizedPnL.Div(ot.RiskDistance.Mul(pos.Quantity))
	}
	mae, mfe := decimal.Zero, decimal.Zero
	if ot.Side == types.PositionSideLong {
		mae = ot.EntryPrice.Sub(ot.LowestPrice)
		mfe = ot.HighestPrice.Sub(ot.EntryPrice)
	} else {
		mae = ot.HighestPrice.Sub(ot.EntryPrice)
		mfe = ot.EntryPrice.Sub(ot.LowestPrice)
	}
	trade := types.BacktestTrade{
		Symbol: symbol, StrategyID: ot.StrategyID, Side: ot.Side,
		EntryTime: ot.EntryTime, ExitTime: *pos.ClosedAt, EntryPrice: ot.EntryPrice, ExitPrice: pos.ClosePrice,
		Quantity: pos.Quantity, PnL: pos.RealizedPnL, PnLNet: pos.RealizedPnL.Sub(pos.CommissionTotal),
		Commission: pos.CommissionTotal, BarsHeld: ot.BarsHeld, ExitReason: exitReason, RMultiple: rMultiple,
		SignalConfidence: ot.Confidence, MAE: mae, MFE: mfe,
	}
	if ot.Regime != nil {
		trade.RegimeAtEntry = ot.Regime.Trend
		trade.VolatilityAtEntry = ot.Regime.Volatility
	}
	return trade, true
}

// stopExitReason checks whether the bar's high/low range crossed the
// position's stop-loss, take-profit, or trailing stop, or whether its
// max-hold duration has elapsed.
func stopExitReason(pos types.Position, bar types.OHLCVBar, trailing decimal.Decimal, stops types.StopConfig, tf types.Timeframe, barsHeld int) string {
	sl := pos.SL
	if trailing.IsPositive() {
		sl = trailing
	}
	long := pos.Side == types.PositionSideLong
	if sl.IsPositive() {
		if long && bar.Low.LessThanOrEqual(sl) {
			return "stop_loss"
		}
		if !long && bar.High.GreaterThanOrEqual(sl) {
			return "stop_loss"
		}
	}
	if pos.TP.IsPositive() {
		if long && bar.High.GreaterThanOrEqual(pos.TP) {
			return "take_profit"
		}
		if !long && bar.Low.LessThanOrEqual(pos.TP) {
			return "take_profit"
		}
	}
	sm := risk.NewStopManager(stops)
	if sm.MaxHoldExceeded(tf, barsHeld) {
		return "max_hold_exceeded"
	}
	return ""
}

func assetClassFor(bar types.OHLCVBar) types.AssetClass {
	if bar.AssetClass != "" {
		return bar.AssetClass
	}
	return types.AssetClassCrypto
}
