// Package main implements the module-demo CLI: a set of self-contained
// scenario walkthroughs, one per pipeline stage, that exercise the real
// packages end to end against synthetic bars instead of a stored dataset.
// Module 2 drives indicators + regime classification; module 3 drives the
// signal engine (with a durable audit sink); module 4 drives risk +
// paper execution through four concrete scenarios; module 5 drives the
// backtest engine, the replay controller, and shadow mode. It exists for
// the same reason the original project's run_module*_demo scripts did: a
// reviewer or new contributor can watch one stage of the pipeline in
// isolation without standing up a full live deployment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zeroframe404/sistema-pro-trader/internal/audit"
	"github.com/zeroframe404/sistema-pro-trader/internal/backtester"
	"github.com/zeroframe404/sistema-pro-trader/internal/cliutil"
	"github.com/zeroframe404/sistema-pro-trader/internal/events"
	"github.com/zeroframe404/sistema-pro-trader/internal/execution"
	"github.com/zeroframe404/sistema-pro-trader/internal/indicators"
	"github.com/zeroframe404/sistema-pro-trader/internal/regime"
	"github.com/zeroframe404/sistema-pro-trader/internal/replay"
	"github.com/zeroframe404/sistema-pro-trader/internal/risk"
	"github.com/zeroframe404/sistema-pro-trader/internal/signals"
	"github.com/zeroframe404/sistema-pro-trader/internal/sizing"
	"github.com/zeroframe404/sistema-pro-trader/internal/strategy"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

func main() {
	moduleFlag := flag.Int("module", 0, "Module to demo: 2 (indicators/regime), 3 (signal engine), 4 (risk/execution), 5 (backtest/replay/shadow)")
	symbolFlag := flag.String("symbol", "BTCUSDT", "Symbol the synthetic bar series is generated for")
	scenarioFlag := flag.String("scenario", "all", "Scenario selector for modules 4 and 5 (A, B, C, D, or all)")
	auditDirFlag := flag.String("audit-dir", "./data/audit-demo", "Directory the module-3 audit sink writes its journal to")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	if *moduleFlag < 2 || *moduleFlag > 5 {
		fmt.Fprintln(os.Stderr, "module-demo: --module must be 2, 3, 4, or 5")
		os.Exit(2)
	}

	bars := syntheticDemoBars(*symbolFlag, 400)

	switch *moduleFlag {
	case 2:
		runModule2(logger, *symbolFlag, bars)
	case 3:
		runModule3(logger, *symbolFlag, bars, *auditDirFlag)
	case 4:
		runModule4(logger, *symbolFlag, bars, *scenarioFlag)
	case 5:
		runModule5(logger, *symbolFlag, bars, *scenarioFlag)
	}
}

// demoAnchor pins the synthetic series to a fixed instant so every run of
// this binary (and the tests it informs) produces identical timestamps;
// runtime code must never call time.Now() for anything that feeds a
// deterministic computation.
var demoAnchor = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// syntheticDemoBars builds a trending-with-noise hourly series, the same
// shape internal/backtester's own test fixtures use, anchored to a fixed
// instant instead of time.Now() so every invocation is reproducible.
func syntheticDemoBars(symbol string, count int) []types.OHLCVBar {
	bars := make([]types.OHLCVBar, count)
	basePrice := 50000.0
	baseTime := demoAnchor.Add(-time.Duration(count) * time.Hour)
	for i := 0; i < count; i++ {
		trend := float64(i) * 0.5
		noise := float64((i*17)%100-50) * 0.5
		price := basePrice + trend + noise
		high := price * (1 + float64((i*13)%10)*0.001)
		low := price * (1 - float64((i*7)%10)*0.001)
		open := price * (1 + float64((i*11)%5-2)*0.001)
		ts := baseTime.Add(time.Duration(i) * time.Hour)
		bars[i] = types.OHLCVBar{
			Symbol: symbol, Timeframe: types.Timeframe1h, Broker: "demo",
			TsOpen: ts, TsClose: ts.Add(time.Hour),
			Open: decimal.NewFromFloat(open), High: decimal.NewFromFloat(high),
			Low: decimal.NewFromFloat(low), Close: decimal.NewFromFloat(price),
			Volume: decimal.NewFromFloat(100 + float64((i*23)%200)),
		}
	}
	return bars
}

func printJSON(v any) {
	encoded, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(encoded))
}

// -- module 2: indicators + regime classification ---------------------------

// runModule2 computes a representative indicator batch over the synthetic
// series and classifies its current regime, the module-2 demo's scope in
// the original project: confirm the indicator engine and regime detector
// agree on what the data actually looks like before any signal logic sees it.
func runModule2(logger *zap.Logger, symbol string, bars []types.OHLCVBar) {
	engine := indicators.NewEngine(5*time.Minute, 10)
	specs := []indicators.Spec{
		{ID: "sma", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(20)}},
		{ID: "ema", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(20)}},
		{ID: "rsi", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(14)}},
		{ID: "atr", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(14)}},
		{ID: "adx", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(14)}},
		{ID: "bollinger_percent_b", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(20), "stddev_mult": decimal.NewFromInt(2)}},
	}

	latest := engine.ComputeForBar(symbol, types.Timeframe1h, bars, specs)

	det := regime.New(logger, regime.DefaultConfig())
	mkt := det.Detect(bars, nil)

	fmt.Printf("module 2: indicators + regime for %s over %d bars\n", symbol, len(bars))
	printJSON(struct {
		Indicators map[string]decimal.Decimal `json:"indicators"`
		Regime     *types.MarketRegime        `json:"regime"`
	}{Indicators: latest, Regime: mkt})
}

// -- module 3: signal engine -------------------------------------------------

// demoFeed is the minimal BarSource/TickSource this demo needs: a fixed,
// pre-loaded bar window with no live fetch behind it. It satisfies both
// signals.BarSource and execution.TickSource so modules 3 and 4 can share
// one stand-in instead of each inventing their own.
type demoFeed struct {
	bars map[string][]types.OHLCVBar
}

func newDemoFeed() *demoFeed { return &demoFeed{bars: make(map[string][]types.OHLCVBar)} }

func (f *demoFeed) set(symbol string, bars []types.OHLCVBar) { f.bars[symbol] = bars }

func (f *demoFeed) LastBars(broker, symbol string, tf types.Timeframe, n int, autoFetch bool) ([]types.OHLCVBar, error) {
	all := f.bars[symbol]
	if len(all) == 0 {
		return nil, fmt.Errorf("demo feed: no bars for %s", symbol)
	}
	if n > 0 && n < len(all) {
		return all[len(all)-n:], nil
	}
	return all, nil
}

func (f *demoFeed) LatestTick(broker, symbol string) (*types.Tick, error) {
	all := f.bars[symbol]
	if len(all) == 0 {
		return nil, fmt.Errorf("demo feed: no bars for %s", symbol)
	}
	last := all[len(all)-1]
	spread := last.Close.Mul(decimal.NewFromFloat(0.0005))
	return &types.Tick{
		Symbol: symbol, Broker: last.Broker, Ts: last.TsClose,
		Bid: last.Close.Sub(spread.Div(decimal.NewFromInt(2))), Ask: last.Close.Add(spread.Div(decimal.NewFromInt(2))),
		Last: last.Close, Spread: spread, AssetClass: last.AssetClass, Source: "demo",
	}, nil
}

func (f *demoFeed) ATR(broker, symbol string) decimal.Decimal {
	all := f.bars[symbol]
	n := 14
	if len(all) < n+1 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for i := len(all) - n; i < len(all); i++ {
		tr := all[i].High.Sub(all[i].Low)
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

// buildSignalEngine wires the same collaborators internal/backtester.Engine
// does, minus a paper broker, for a bare signal-analysis run.
func buildSignalEngine(logger *zap.Logger, feed *demoFeed, bus *events.Bus, auditSink signals.AuditSink) *signals.Engine {
	regimeDet := regime.New(logger, regime.DefaultConfig())
	registry := strategy.NewRegistry()
	ensemble := signals.NewEnsemble(cliutil.DefaultEnsemble())
	scorer := signals.DefaultConfidenceScorer()
	chain := signals.NewChain(signals.NewRegimeFilter(), signals.NewSessionFilter(), signals.NewSpreadFilter())
	corr := signals.NewCorrelationTracker(3)
	guard := signals.NewAntiOvertradingGuard(3, 10, 3, 30*time.Minute)
	return signals.NewEngine(signals.DefaultEngineConfig(), logger, feed, regimeDet, registry, ensemble, scorer, chain, corr, guard, bus, auditSink)
}

// runModule3 drives one signal-engine analysis pass and prints the
// resulting decision plus the active-signal table, writing every analysis
// to a durable audit sink — the first caller in this module to construct
// internal/audit.Log rather than the backtester's in-memory stand-in.
func runModule3(logger *zap.Logger, symbol string, bars []types.OHLCVBar, auditDir string) {
	sink, err := audit.New(logger, auditDir+"/decisions.jsonl", auditDir+"/decisions.db")
	if err != nil {
		logger.Fatal("failed to open audit sink", zap.Error(err))
	}
	defer sink.Close()

	feed := newDemoFeed()
	feed.set(symbol, bars)
	bus := events.New(logger, events.DefaultConfig())
	engine := buildSignalEngine(logger, feed, bus, sink)

	decision, err := engine.AnalyzeAsOf("demo", symbol, types.Timeframe1h, types.AssetClassCrypto, nil, bars[len(bars)-1].TsClose)
	if err != nil {
		logger.Fatal("signal analysis failed", zap.Error(err))
	}

	fmt.Printf("module 3: signal engine decision for %s (audit journal: %s)\n", symbol, auditDir)
	printJSON(struct {
		Decision      types.DecisionResult    `json:"decision"`
		ActiveSignals map[string]types.Signal `json:"activeSignals"`
	}{Decision: decision, ActiveSignals: engine.ActiveSignals()})
}

// -- module 4: risk + execution ---------------------------------------------

// demoRuntime bundles the risk+execution stack one scenario needs, mirroring
// internal/backtester.Engine's wiring on a much smaller scale.
type demoRuntime struct {
	bus      *events.Bus
	feed     *demoFeed
	paper    *execution.PaperAdapter
	orderMgr *execution.OrderManager
	riskMgr  *risk.Manager
	sizer    *sizing.PositionSizer
}

func buildDemoRuntime(logger *zap.Logger, feed *demoFeed, startingCapital decimal.Decimal, now time.Time) *demoRuntime {
	bus := events.New(logger, events.DefaultConfig())
	bc := cliutil.DefaultBacktestConfig(nil, nil, "demo", types.Timeframe1h, now, now, types.BacktestModeSimple, startingCapital)
	slippage := execution.NewSlippageModel(bc.Slippage)
	fillSim := execution.NewFillSimulator(slippage, bc.Commission, bc.Slippage, 42)
	paper := execution.NewPaperAdapter(feed, fillSim, startingCapital, "USD")
	idem := execution.NewIdempotencyManager()
	retryHandler := execution.NewRetryHandler(cliutil.DefaultRetry())
	orderMgr := execution.NewOrderManager(logger, paper, idem, retryHandler, bus)

	sizer := sizing.NewPositionSizer(logger, cliutil.DefaultSizing())
	corrGroupOf := func(symbol string) string {
		// USD-quoted pairs share a correlation group the way scenario C's
		// AUDUSD/EURUSD/GBPUSD example assumes.
		if len(symbol) == 6 && symbol[3:] == "USD" {
			return "usd-quote"
		}
		return symbol
	}
	riskMgr := risk.NewManager(risk.ManagerConfig{Limits: cliutil.DefaultRiskLimits(), Stops: cliutil.DefaultStops(), KillSwitch: cliutil.DefaultKillSwitch()}, logger, sizer, startingCapital, corrGroupOf, bus, now)

	return &demoRuntime{bus: bus, feed: feed, paper: paper, orderMgr: orderMgr, riskMgr: riskMgr, sizer: sizer}
}

func runModule4(logger *zap.Logger, symbol string, bars []types.OHLCVBar, scenario string) {
	switch scenario {
	case "A", "all":
		scenarioA(logger, symbol, bars)
	}
	switch scenario {
	case "B", "all":
		scenarioB(logger, symbol, bars)
	}
	switch scenario {
	case "C", "all":
		scenarioC(logger, bars)
	}
	switch scenario {
	case "D", "all":
		scenarioD(logger, bars)
	}
	if scenario != "A" && scenario != "B" && scenario != "C" && scenario != "D" && scenario != "all" {
		fmt.Fprintf(os.Stderr, "module-demo: unknown --scenario %q for module 4 (want A, B, C, D, or all)\n", scenario)
		os.Exit(2)
	}
}

// scenarioA runs one full decision -> risk -> paper-fill cycle and confirms
// a second submission of the same signal is rejected as a duplicate instead
// of opening a second position.
func scenarioA(logger *zap.Logger, symbol string, bars []types.OHLCVBar) {
	fmt.Println("--- module 4 scenario A: idempotent submission through the paper broker ---")
	feed := newDemoFeed()
	feed.set(symbol, bars)
	now := bars[len(bars)-1].TsClose
	rt := buildDemoRuntime(logger, feed, decimal.NewFromInt(10000), now)

	decision := types.DecisionResult{Symbol: symbol, Direction: types.DirectionBuy, ConfidencePct: decimal.NewFromInt(70), AssetClass: types.AssetClassCrypto, ValidUntil: now.Add(30 * time.Minute)}
	account, _ := rt.paper.Account(context.Background())
	atr := rt.feed.ATR("demo", symbol)
	check := rt.riskMgr.Evaluate(decision, account, rt.orderMgr.Positions(), bars[len(bars)-1].Close, atr, decimal.Zero, now)
	if check.Status == types.RiskCheckRejected {
		fmt.Println("risk check rejected, nothing to submit:", check.RejectionReasons)
		return
	}

	signalID := uuid.NewString()
	order1, err := rt.orderMgr.SubmitFromSignal(context.Background(), decision, signalID, check, "demo", now)
	if err != nil {
		logger.Fatal("first submission failed", zap.Error(err))
	}
	order2, err := rt.orderMgr.SubmitFromSignal(context.Background(), decision, signalID, check, "demo", now)

	printJSON(struct {
		FirstOrder  types.Order      `json:"firstOrder"`
		SecondOrder types.Order      `json:"secondOrder"`
		SecondErr   string           `json:"secondSubmissionError,omitempty"`
		Positions   []types.Position `json:"positions"`
	}{
		FirstOrder: order1, SecondOrder: order2,
		SecondErr: errString(err), Positions: rt.orderMgr.Positions(),
	})
}

// scenarioB stresses the account down to the kill switch's daily-drawdown
// threshold and confirms that the same Evaluate call trips the kill switch
// and rejects on it rather than running the rest of the pipeline.
func scenarioB(logger *zap.Logger, symbol string, bars []types.OHLCVBar) {
	fmt.Println("--- module 4 scenario B: kill switch trips on daily drawdown ---")
	feed := newDemoFeed()
	feed.set(symbol, bars)
	now := bars[len(bars)-1].TsClose
	rt := buildDemoRuntime(logger, feed, decimal.NewFromInt(10000), now)

	account, _ := rt.paper.Account(context.Background())
	decision := types.DecisionResult{Symbol: symbol, Direction: types.DirectionBuy, ConfidencePct: decimal.NewFromInt(70), AssetClass: types.AssetClassCrypto, ValidUntil: now.Add(30 * time.Minute)}
	atr := rt.feed.ATR("demo", symbol)
	closePrice := bars[len(bars)-1].Close

	// A loss equal to 5% of starting equity, worse than the 3% daily cap.
	stressedUnrealized := account.Balance.Mul(decimal.NewFromFloat(-0.05))
	check := rt.riskMgr.Evaluate(decision, account, nil, closePrice, atr, stressedUnrealized, now)

	printJSON(struct {
		RiskCheck        types.RiskCheck `json:"riskCheck"`
		KillSwitchActive bool            `json:"killSwitchActive"`
		KillSwitchReason string          `json:"killSwitchReason"`
	}{RiskCheck: check, KillSwitchActive: rt.riskMgr.KillSwitch().Active(now), KillSwitchReason: rt.riskMgr.KillSwitch().Reason()})
}

// scenarioC opens two USD-quoted positions in the same correlation group and
// confirms a third signal in that group is halved-then-approved or rejected
// by the exposure limit rather than silently accepted.
func scenarioC(logger *zap.Logger, bars []types.OHLCVBar) {
	fmt.Println("--- module 4 scenario C: correlated exposure halve-and-recheck ---")
	symbols := []string{"EURUSD", "GBPUSD", "AUDUSD"}
	feed := newDemoFeed()
	for _, s := range symbols {
		feed.set(s, rebaseBars(bars, s, 1.1))
	}
	now := bars[len(bars)-1].TsClose
	rt := buildDemoRuntime(logger, feed, decimal.NewFromInt(10000), now)

	for _, s := range symbols[:2] {
		sBars := feed.bars[s]
		decision := types.DecisionResult{Symbol: s, Direction: types.DirectionBuy, ConfidencePct: decimal.NewFromInt(70), AssetClass: types.AssetClassForex, ValidUntil: now.Add(30 * time.Minute)}
		account, _ := rt.paper.Account(context.Background())
		atr := rt.feed.ATR("demo", s)
		check := rt.riskMgr.Evaluate(decision, account, rt.orderMgr.Positions(), sBars[len(sBars)-1].Close, atr, decimal.Zero, now)
		if check.Status == types.RiskCheckRejected {
			fmt.Printf("seed position %s rejected: %v\n", s, check.RejectionReasons)
			continue
		}
		pos, err := rt.orderMgr.SubmitFromSignal(context.Background(), decision, uuid.NewString(), check, "demo", now)
		if err == nil {
			if p := findDemoPosition(rt.orderMgr.Positions(), s); p != nil {
				rt.riskMgr.RegisterOpen(*p, p.Quantity.Mul(p.EntryPrice))
			}
		}
		_ = pos
	}

	third := symbols[2]
	thirdBars := feed.bars[third]
	decision := types.DecisionResult{Symbol: third, Direction: types.DirectionBuy, ConfidencePct: decimal.NewFromInt(70), AssetClass: types.AssetClassForex, ValidUntil: now.Add(30 * time.Minute)}
	account, _ := rt.paper.Account(context.Background())
	atr := rt.feed.ATR("demo", third)
	check := rt.riskMgr.Evaluate(decision, account, rt.orderMgr.Positions(), thirdBars[len(thirdBars)-1].Close, atr, decimal.Zero, now)

	printJSON(struct {
		ThirdSignalCheck types.RiskCheck  `json:"thirdSignalCheck"`
		OpenPositions    []types.Position `json:"openPositions"`
	}{ThirdSignalCheck: check, OpenPositions: rt.orderMgr.Positions()})
}

// scenarioD confirms a trailing stop only ever moves in the position's
// favorable direction: an adverse price move must leave the trailing level
// untouched.
func scenarioD(logger *zap.Logger, bars []types.OHLCVBar) {
	fmt.Println("--- module 4 scenario D: trailing stop only moves favorably ---")
	sm := risk.NewStopManager(cliutil.DefaultStops())
	entry := decimal.NewFromInt(100)
	atr := decimal.NewFromInt(2)
	pos := types.Position{Symbol: "DEMO", Side: types.PositionSideLong, EntryPrice: entry, Quantity: decimal.NewFromInt(1)}

	favorable := sm.AdvanceTrailing(pos, entry.Add(decimal.NewFromInt(5)), atr)
	pos.TrailingStopPx = favorable
	adverse := sm.AdvanceTrailing(pos, entry.Add(decimal.NewFromInt(1)), atr)

	printJSON(struct {
		TrailingAfterFavorableMove decimal.Decimal `json:"trailingAfterFavorableMove"`
		TrailingAfterAdverseMove   decimal.Decimal `json:"trailingAfterAdverseMove"`
		Unchanged                  bool            `json:"unchangedOnAdverseMove"`
	}{TrailingAfterFavorableMove: favorable, TrailingAfterAdverseMove: adverse, Unchanged: adverse.Equal(favorable)})
	_ = bars
}

func findDemoPosition(positions []types.Position, symbol string) *types.Position {
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i]
		}
	}
	return nil
}

// rebaseBars reuses the synthetic series' shape at a different price level
// and symbol, so scenario C's three currency pairs move in correlated
// lockstep without hand-authoring three datasets.
func rebaseBars(bars []types.OHLCVBar, symbol string, priceLevel float64) []types.OHLCVBar {
	scale := decimal.NewFromFloat(priceLevel).Div(decimal.NewFromInt(50000))
	out := make([]types.OHLCVBar, len(bars))
	for i, b := range bars {
		out[i] = types.OHLCVBar{
			Symbol: symbol, Timeframe: b.Timeframe, Broker: b.Broker, AssetClass: types.AssetClassForex,
			TsOpen: b.TsOpen, TsClose: b.TsClose,
			Open: b.Open.Mul(scale), High: b.High.Mul(scale), Low: b.Low.Mul(scale), Close: b.Close.Mul(scale),
			Volume: b.Volume,
		}
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// -- module 5: backtest + replay + shadow ------------------------------------

func runModule5(logger *zap.Logger, symbol string, bars []types.OHLCVBar, scenario string) {
	switch scenario {
	case "A", "all":
		scenario5Backtest(logger, symbol, bars)
	}
	switch scenario {
	case "B", "all":
		scenario5Replay(logger, symbol, bars)
	}
	switch scenario {
	case "C", "all":
		scenario5Shadow(logger, symbol, bars)
	}
	if scenario != "A" && scenario != "B" && scenario != "C" && scenario != "all" {
		fmt.Fprintf(os.Stderr, "module-demo: unknown --scenario %q for module 5 (want A, B, C, or all)\n", scenario)
		os.Exit(2)
	}
}

// scenario5Backtest runs a simple backtest over the synthetic series,
// the same entrypoint cmd/run-backtest uses against a stored dataset.
func scenario5Backtest(logger *zap.Logger, symbol string, bars []types.OHLCVBar) {
	fmt.Println("--- module 5 scenario A: deterministic backtest ---")
	strategies := strategy.NewRegistry().List()
	cfg := backtester.Config{
		Backtest: cliutil.DefaultBacktestConfig(strategies, []string{symbol}, "demo", types.Timeframe1h, bars[0].TsOpen, bars[len(bars)-1].TsClose, types.BacktestModeSimple, decimal.NewFromInt(10000)),
		Sizing:   cliutil.DefaultSizing(),
		Stops:    cliutil.DefaultStops(),
		Ensemble: cliutil.DefaultEnsemble(),
		Kill:     cliutil.DefaultKillSwitch(),
		Retry:    cliutil.DefaultRetry(),
	}
	engine := backtester.NewEngine(logger)
	result, err := engine.Run(context.Background(), cfg, map[string][]types.OHLCVBar{symbol: bars}, nil)
	if err != nil {
		logger.Fatal("backtest run failed", zap.Error(err))
	}
	printJSON(result)
}

// inMemoryBarRange satisfies replay.BarRangeSource from a pre-loaded slice,
// standing in for internal/data.Store so this demo doesn't need a bar store
// on disk.
type inMemoryBarRange struct {
	bars map[string][]types.OHLCVBar
}

func (r inMemoryBarRange) LoadRange(broker, symbol string, tf types.Timeframe, start, end time.Time) ([]types.OHLCVBar, error) {
	var out []types.OHLCVBar
	for _, b := range r.bars[symbol] {
		if !b.TsOpen.Before(start) && !b.TsOpen.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

// scenario5Replay drives the same series through replay.Replayer at
// fast-forward speed with a Controller that lets fifty bars through with
// StepForward and resumes the rest 20ms later, demonstrating step/resume
// over a live BAR_CLOSE feed.
func scenario5Replay(logger *zap.Logger, symbol string, bars []types.OHLCVBar) {
	fmt.Println("--- module 5 scenario B: replay controller pause/step ---")
	bus := events.New(logger, events.DefaultConfig())
	delivered := 0
	sub := bus.Subscribe(events.KindBarClose, func(ev events.Event) error {
		delivered++
		return nil
	})
	defer bus.Unsubscribe(sub)

	source := inMemoryBarRange{bars: map[string][]types.OHLCVBar{symbol: bars}}
	replayer := replay.New(logger, bus, source)
	ctrl := replay.NewController()
	ctrl.StepForward(50)

	cfg := replay.Config{Broker: "demo", Symbol: symbol, Timeframe: types.Timeframe1h, Start: bars[0].TsOpen, End: bars[len(bars)-1].TsClose, Speed: 0}
	go func() {
		time.Sleep(20 * time.Millisecond)
		ctrl.Resume()
	}()
	count, err := replayer.Run(context.Background(), cfg, ctrl)
	if err != nil {
		logger.Fatal("replay run failed", zap.Error(err))
	}
	fmt.Printf("replayed %d bars, bus delivered %d BAR_CLOSE events\n", count, delivered)
}

// scenario5Shadow runs the signal->risk pipeline in shadow mode alongside a
// live backtest run and reports their agreement rate, the module-5
// "shadow vs live" comparison.
func scenario5Shadow(logger *zap.Logger, symbol string, bars []types.OHLCVBar) {
	fmt.Println("--- module 5 scenario C: shadow mode vs. a live backtest run ---")
	strategies := strategy.NewRegistry().List()
	capital := decimal.NewFromInt(10000)
	cfg := backtester.Config{
		Backtest: cliutil.DefaultBacktestConfig(strategies, []string{symbol}, "demo", types.Timeframe1h, bars[0].TsOpen, bars[len(bars)-1].TsClose, types.BacktestModeSimple, capital),
		Sizing:   cliutil.DefaultSizing(),
		Stops:    cliutil.DefaultStops(),
		Ensemble: cliutil.DefaultEnsemble(),
		Kill:     cliutil.DefaultKillSwitch(),
		Retry:    cliutil.DefaultRetry(),
	}
	engine := backtester.NewEngine(logger)
	liveResult, err := engine.Run(context.Background(), cfg, map[string][]types.OHLCVBar{symbol: bars}, nil)
	if err != nil {
		logger.Fatal("live backtest run failed", zap.Error(err))
	}

	feed := newDemoFeed()
	feed.set(symbol, bars)
	bus := events.New(logger, events.DefaultConfig())
	sigEngine := buildSignalEngine(logger, feed, bus, newNopAuditSink())
	sizer := sizing.NewPositionSizer(logger, cliutil.DefaultSizing())
	riskMgr := risk.NewManager(risk.ManagerConfig{Limits: cliutil.DefaultRiskLimits(), Stops: cliutil.DefaultStops(), KillSwitch: cliutil.DefaultKillSwitch()}, logger, sizer, capital, func(s string) string { return s }, bus, bars[0].TsOpen)
	account := types.Account{AccountID: "shadow", Broker: "demo", Balance: capital, Currency: "USD"}

	shadow := replay.NewShadowMode(logger, bus, sigEngine, riskMgr, "demo", account, func(string) types.AssetClass { return types.AssetClassCrypto })
	shadow.Start()
	for _, b := range bars {
		bus.Publish(events.NewBarCloseEvent(b))
	}
	shadow.Stop()

	agreement, divergences := shadow.Compare(liveResult.Trades)
	fmt.Printf("shadow agreement rate vs. live: %.3f (%d divergences)\n", agreement, len(divergences))
	printJSON(struct {
		ShadowTrades int                 `json:"shadowTrades"`
		LiveTrades   int                 `json:"liveTrades"`
		Agreement    float64             `json:"agreementRate"`
		Divergences  []replay.Divergence `json:"divergences,omitempty"`
	}{ShadowTrades: len(shadow.Trades()), LiveTrades: len(liveResult.Trades), Agreement: agreement, Divergences: divergences})
}

// nopAuditSink discards every entry; shadow mode runs its own analysis pass
// purely for comparison and doesn't need a durable decision trail of its own.
type nopAuditSink struct{}

func newNopAuditSink() *nopAuditSink { return &nopAuditSink{} }
func (nopAuditSink) Append(types.AuditEntry) error { return nil }

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
