// Package backtester drives the signal engine, risk manager, and paper
// execution stack deterministically over a fixed slice of historical bars,
// producing BacktestTrades and BacktestMetrics per spec.
package backtester

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/internal/tradeerrors"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// replayBarSource satisfies signals.BarSource and execution.TickSource over
// a preloaded, in-memory bar slice. Unlike internal/data.Repository (which
// serves "last n bars as of wall-clock now"), it serves bars as of an
// explicit simulation instant set by advanceTo, so repeated runs over the
// same bars and config are byte-for-byte deterministic.
type replayBarSource struct {
	broker string
	symbol string
	tf     types.Timeframe
	bars   []types.OHLCVBar // ascending by TsOpen

	mu    sync.Mutex
	asOf  time.Time
	cur   int // index of the last bar with TsOpen <= asOf
	atr   decimal.Decimal
}

func newReplayBarSource(broker, symbol string, tf types.Timeframe, bars []types.OHLCVBar) *replayBarSource {
	sorted := append([]types.OHLCVBar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TsOpen.Before(sorted[j].TsOpen) })
	return &replayBarSource{broker: broker, symbol: symbol, tf: tf, bars: sorted, cur: -1}
}

// advanceTo moves the replay cursor to the last bar whose ts_open does not
// exceed asOf, recomputing the trailing ATR(14) used by stop placement and
// the slippage model.
func (r *replayBarSource) advanceTo(asOf time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asOf = asOf
	idx := -1
	for i, b := range r.bars {
		if !b.TsOpen.After(asOf) {
			idx = i
		} else {
			break
		}
	}
	r.cur = idx
	r.atr = trueRangeAvg(r.bars, idx, 14)
}

func trueRangeAvg(bars []types.OHLCVBar, idx, n int) decimal.Decimal {
	if idx < 1 {
		return decimal.Zero
	}
	start := idx - n + 1
	if start < 1 {
		start = 1
	}
	sum := decimal.Zero
	count := 0
	for i := start; i <= idx; i++ {
		hl := bars[i].High.Sub(bars[i].Low)
		hc := bars[i].High.Sub(bars[i-1].Close).Abs()
		lc := bars[i].Low.Sub(bars[i-1].Close).Abs()
		sum = sum.Add(decimal.Max(hl, decimal.Max(hc, lc)))
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}

func (r *replayBarSource) LastBars(broker, symbol string, tf types.Timeframe, n int, autoFetch bool) ([]types.OHLCVBar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if broker != r.broker || symbol != r.symbol || r.cur < 0 {
		return nil, tradeerrors.ErrAdapterUnavailable
	}
	start := r.cur - n + 1
	if start < 0 {
		start = 0
	}
	out := make([]types.OHLCVBar, r.cur-start+1)
	copy(out, r.bars[start:r.cur+1])
	return out, nil
}

// LatestTick synthesizes a tick from the current bar's close, per spec
// §4.12's "update positions with a synthetic tick at close".
func (r *replayBarSource) LatestTick(broker, symbol string) (*types.Tick, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if broker != r.broker || symbol != r.symbol || r.cur < 0 {
		return nil, tradeerrors.ErrAdapterUnavailable
	}
	b := r.bars[r.cur]
	tick := types.Tick{
		Symbol: symbol, Broker: broker, Ts: b.TsClose,
		Bid: b.Close, Ask: b.Close, Last: b.Close, Volume: b.Volume,
		AssetClass: b.AssetClass, Source: "backtest_synthetic",
	}
	return &tick, nil
}

func (r *replayBarSource) ATR(broker, symbol string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	if broker != r.broker || symbol != r.symbol {
		return decimal.Zero
	}
	return r.atr
}

// currentBar returns the bar at the cursor, or false if the cursor hasn't
// advanced onto the first bar yet.
func (r *replayBarSource) currentBar() (types.OHLCVBar, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur < 0 {
		return types.OHLCVBar{}, false
	}
	return r.bars[r.cur], true
}
