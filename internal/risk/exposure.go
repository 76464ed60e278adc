package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// ExposureTracker maintains live notional exposure per symbol, asset class,
// and correlation group so RiskManager.Evaluate can reject signals that
// would breach a configured limit.
type ExposureTracker struct {
	mu sync.Mutex

	bySymbol      map[string]decimal.Decimal
	byClass       map[types.AssetClass]decimal.Decimal
	byCorrGroup   map[string]decimal.Decimal
	openBySymbol  map[string]int
	corrGroupOf   func(symbol string) string
}

func NewExposureTracker(corrGroupOf func(symbol string) string) *ExposureTracker {
	if corrGroupOf == nil {
		corrGroupOf = func(s string) string { return s }
	}
	return &ExposureTracker{
		bySymbol:     make(map[string]decimal.Decimal),
		byClass:      make(map[types.AssetClass]decimal.Decimal),
		byCorrGroup:  make(map[string]decimal.Decimal),
		openBySymbol: make(map[string]int),
		corrGroupOf:  corrGroupOf,
	}
}

// Add registers notional exposure for a newly opened (or increased)
// position.
func (e *ExposureTracker) Add(pos types.Position, notional decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bySymbol[pos.Symbol] = e.bySymbol[pos.Symbol].Add(notional)
	e.byClass[pos.AssetClass] = e.byClass[pos.AssetClass].Add(notional)
	group := e.corrGroupOf(pos.Symbol)
	e.byCorrGroup[group] = e.byCorrGroup[group].Add(notional)
	e.openBySymbol[pos.Symbol]++
}

// Remove reverses a prior Add when a position is closed or reduced.
func (e *ExposureTracker) Remove(pos types.Position, notional decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bySymbol[pos.Symbol] = e.bySymbol[pos.Symbol].Sub(notional)
	e.byClass[pos.AssetClass] = e.byClass[pos.AssetClass].Sub(notional)
	group := e.corrGroupOf(pos.Symbol)
	e.byCorrGroup[group] = e.byCorrGroup[group].Sub(notional)
	if e.openBySymbol[pos.Symbol] > 0 {
		e.openBySymbol[pos.Symbol]--
	}
}

// TotalOpenPositions returns the number of open positions summed across
// all symbols.
func (e *ExposureTracker) TotalOpenPositions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, n := range e.openBySymbol {
		total += n
	}
	return total
}

// CorrelatedPositionCount returns how many open positions share symbol's
// correlation group.
func (e *ExposureTracker) CorrelatedPositionCount(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	group := e.corrGroupOf(symbol)
	total := 0
	for sym, n := range e.openBySymbol {
		if e.corrGroupOf(sym) == group {
			total += n
		}
	}
	return total
}

// WouldBreach reports whether adding notional to symbol/assetClass would
// exceed any of the configured exposure ceilings, given equity.
func (e *ExposureTracker) WouldBreach(pos types.Position, notional, equity decimal.Decimal, limits types.RiskLimits) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if equity.LessThanOrEqual(decimal.Zero) {
		return true, "non-positive equity"
	}

	if limits.MaxExposurePerSymbolPct.IsPositive() {
		projected := e.bySymbol[pos.Symbol].Add(notional)
		pct := projected.Div(equity).Mul(decimal.NewFromInt(100))
		if pct.GreaterThan(limits.MaxExposurePerSymbolPct) {
			return true, "max_exposure_per_symbol_pct exceeded"
		}
	}
	if limits.MaxExposurePerClassPct.IsPositive() {
		projected := e.byClass[pos.AssetClass].Add(notional)
		pct := projected.Div(equity).Mul(decimal.NewFromInt(100))
		if pct.GreaterThan(limits.MaxExposurePerClassPct) {
			return true, "max_exposure_per_class_pct exceeded"
		}
	}
	if limits.MaxCorrelatedExposurePct.IsPositive() {
		group := e.corrGroupOf(pos.Symbol)
		projected := e.byCorrGroup[group].Add(notional)
		pct := projected.Div(equity).Mul(decimal.NewFromInt(100))
		if pct.GreaterThan(limits.MaxCorrelatedExposurePct) {
			return true, "max_correlated_exposure_pct exceeded"
		}
	}
	if limits.MaxOpenPositions > 0 {
		total := 0
		for _, n := range e.openBySymbol {
			total += n
		}
		if total >= limits.MaxOpenPositions {
			return true, "max_open_positions exceeded"
		}
	}
	if limits.MaxCorrelatedPositions > 0 {
		group := e.corrGroupOf(pos.Symbol)
		count := 0
		for sym, n := range e.openBySymbol {
			if e.corrGroupOf(sym) == group {
				count += n
			}
		}
		if count >= limits.MaxCorrelatedPositions {
			return true, "max_correlated_positions exceeded"
		}
	}
	return false, ""
}
