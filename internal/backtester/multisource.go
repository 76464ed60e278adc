package backtester

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/internal/tradeerrors"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// multiSource fans out signals.BarSource/execution.TickSource across one
// replayBarSource per symbol, so a single signal engine and paper adapter
// can drive a multi-symbol backtest.
type multiSource struct {
	bySymbol map[string]*replayBarSource
}

func newMultiSource() *multiSource {
	return &multiSource{bySymbol: make(map[string]*replayBarSource)}
}

func (m *multiSource) add(symbol string, src *replayBarSource) {
	m.bySymbol[symbol] = src
}

func (m *multiSource) advanceTo(symbol string, asOf time.Time) {
	if src, ok := m.bySymbol[symbol]; ok {
		src.advanceTo(asOf)
	}
}

func (m *multiSource) LastBars(broker, symbol string, tf types.Timeframe, n int, autoFetch bool) ([]types.OHLCVBar, error) {
	src, ok := m.bySymbol[symbol]
	if !ok {
		return nil, tradeerrors.ErrAdapterUnavailable
	}
	return src.LastBars(broker, symbol, tf, n, autoFetch)
}

func (m *multiSource) LatestTick(broker, symbol string) (*types.Tick, error) {
	src, ok := m.bySymbol[symbol]
	if !ok {
		return nil, tradeerrors.ErrAdapterUnavailable
	}
	return src.LatestTick(broker, symbol)
}

func (m *multiSource) ATR(broker, symbol string) decimal.Decimal {
	src, ok := m.bySymbol[symbol]
	if !ok {
		return decimal.Zero
	}
	return src.ATR(broker, symbol)
}
