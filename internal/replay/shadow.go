package replay

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/internal/events"
	"github.com/zeroframe404/sistema-pro-trader/internal/risk"
	"github.com/zeroframe404/sistema-pro-trader/internal/signals"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// SignalSource is the subset of signals.Engine ShadowMode needs: running the
// full analyze pipeline pinned to an explicit bar-close instant.
type SignalSource interface {
	AnalyzeAsOf(broker, symbol string, tf types.Timeframe, assetClass types.AssetClass, fctx *signals.FilterContext, now time.Time) (types.DecisionResult, error)
}

// RiskSource is the subset of risk.Manager ShadowMode needs: a read-only
// evaluation against a fixed account snapshot, never touching open
// positions or the kill switch's persistent state beyond what Evaluate
// already does for a live decision.
type RiskSource interface {
	Evaluate(decision types.DecisionResult, account types.Account, openPositions []types.Position, entryPrice, atr, unrealizedPnL decimal.Decimal, now time.Time) types.RiskCheck
}

var _ SignalSource = (*signals.Engine)(nil)
var _ RiskSource = (*risk.Manager)(nil)

type pendingShadow struct {
	strategyID string
	side       types.PositionSide
	entryPrice decimal.Decimal
	entryTime  time.Time
	riskDist   decimal.Decimal
	confidence decimal.Decimal
	regime     *types.MarketRegime
}

// ShadowMode subscribes to BAR_CLOSE and runs the signal->risk pipeline
// without ever calling the OrderManager. It assumes a one-bar hold for
// every generated signal (spec's documented simplification, not a bug): a
// position opened on bar N is marked closed at bar N+1's close for the
// same symbol, which is adequate for comparing live/shadow agreement but
// not a faithful stop/target simulation.
type ShadowMode struct {
	logger        *zap.Logger
	bus           *events.Bus
	signals       SignalSource
	risk          RiskSource
	broker        string
	account       types.Account
	assetClassFor func(symbol string) types.AssetClass

	mu      sync.Mutex
	pending map[string]pendingShadow
	trades  []types.BacktestTrade
	sub     *events.Subscription
}

func NewShadowMode(
	logger *zap.Logger,
	bus *events.Bus,
	sigSrc SignalSource,
	riskSrc RiskSource,
	broker string,
	account types.Account,
	assetClassFor func(string) types.AssetClass,
) *ShadowMode {
	return &ShadowMode{
		logger: logger.Named("shadow"), bus: bus, signals: sigSrc, risk: riskSrc,
		broker: broker, account: account, assetClassFor: assetClassFor,
		pending: make(map[string]pendingShadow),
	}
}

// Start subscribes to BAR_CLOSE. Safe to call once per ShadowMode instance.
func (s *ShadowMode) Start() {
	s.sub = s.bus.Subscribe(events.KindBarClose, s.onBarClose)
}

// Stop unsubscribes from the bus.
func (s *ShadowMode) Stop() {
	if s.sub != nil {
		s.bus.Unsubscribe(s.sub)
	}
}

func (s *ShadowMode) onBarClose(ev events.Event) error {
	bc, ok := ev.(*events.BarCloseEvent)
	if !ok {
		return nil
	}
	bar := bc.Bar

	s.mu.Lock()
	pend, hasPending := s.pending[bar.Symbol]
	if hasPending {
		delete(s.pending, bar.Symbol)
	}
	s.mu.Unlock()

	if hasPending {
		s.closeShadowTrade(pend, bar)
	}

	assetClass := s.assetClassFor(bar.Symbol)
	decision, err := s.signals.AnalyzeAsOf(s.broker, bar.Symbol, bar.Timeframe, assetClass, nil, bar.TsClose)
	if err != nil || !decision.Direction.Actionable() {
		return nil
	}

	check := s.risk.Evaluate(decision, s.account, nil, bar.Close, decimal.Zero, decimal.Zero, bar.TsClose)
	if check.Status == types.RiskCheckRejected {
		return nil
	}

	side := types.PositionSideLong
	if decision.Direction == types.DirectionSell {
		side = types.PositionSideShort
	}
	riskDist := decimal.Zero
	if check.SuggestedSL.IsPositive() {
		riskDist = bar.Close.Sub(check.SuggestedSL).Abs()
	}

	s.mu.Lock()
	s.pending[bar.Symbol] = pendingShadow{
		strategyID: "ensemble", side: side, entryPrice: bar.Close, entryTime: bar.TsClose,
		riskDist: riskDist, confidence: decision.ConfidencePct.Div(decimal.NewFromInt(100)),
	}
	s.mu.Unlock()
	return nil
}

func (s *ShadowMode) closeShadowTrade(pend pendingShadow, bar types.OHLCVBar) {
	exit := bar.Close
	var pnl decimal.Decimal
	if pend.side == types.PositionSideLong {
		pnl = exit.Sub(pend.entryPrice)
	} else {
		pnl = pend.entryPrice.Sub(exit)
	}
	rMultiple := decimal.Zero
	if pend.riskDist.IsPositive() {
		rMultiple = pnl.Div(pend.riskDist)
	}
	trade := types.BacktestTrade{
		Symbol: bar.Symbol, StrategyID: pend.strategyID, Side: pend.side,
		EntryTime: pend.entryTime, ExitTime: bar.TsClose,
		EntryPrice: pend.entryPrice, ExitPrice: exit,
		Quantity: decimal.NewFromInt(1), PnL: pnl, PnLNet: pnl,
		BarsHeld: 1, ExitReason: "shadow_one_bar_hold", RMultiple: rMultiple,
		SignalConfidence: pend.confidence,
	}

	s.mu.Lock()
	s.trades = append(s.trades, trade)
	s.mu.Unlock()
}

// Trades returns a snapshot of every shadow trade synthesized so far.
func (s *ShadowMode) Trades() []types.BacktestTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.BacktestTrade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Divergence is one side of a symmetric-difference mismatch between the
// shadow and live trade sequences, keyed on {symbol, entry_time, side}.
type Divergence struct {
	Symbol    string
	EntryTime time.Time
	Side      types.PositionSide
	InShadow  bool
	InLive    bool
}

func tradeKey(t types.BacktestTrade) string {
	return t.Symbol + "|" + t.EntryTime.UTC().Format(time.RFC3339) + "|" + string(t.Side)
}

// Compare reports the agreement rate (matched / (matched + unmatched), 1.0
// when both sequences are empty) between this ShadowMode's synthesized
// trades and a live trade sequence, plus the symmetric-difference
// divergences: trades present on only one side.
func (s *ShadowMode) Compare(live []types.BacktestTrade) (agreementRate float64, divergences []Divergence) {
	liveByKey := make(map[string]types.BacktestTrade, len(live))
	for _, t := range live {
		liveByKey[tradeKey(t)] = t
	}

	shadow := s.Trades()
	matched := 0
	seen := make(map[string]bool, len(shadow))
	for _, t := range shadow {
		k := tradeKey(t)
		seen[k] = true
		if _, ok := liveByKey[k]; ok {
			matched++
		} else {
			divergences = append(divergences, Divergence{Symbol: t.Symbol, EntryTime: t.EntryTime, Side: t.Side, InShadow: true})
		}
	}
	for k, t := range liveByKey {
		if seen[k] {
			continue
		}
		divergences = append(divergences, Divergence{Symbol: t.Symbol, EntryTime: t.EntryTime, Side: t.Side, InLive: true})
	}

	total := len(shadow) + len(live) - matched
	if total == 0 {
		return 1.0, nil
	}
	return float64(matched) / float64(total), divergences
}
