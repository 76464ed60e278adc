package indicators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

func makeBars(n int, start decimal.Decimal, step decimal.Decimal) []types.OHLCVBar {
	bars := make([]types.OHLCVBar, n)
	price := start
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		high := price.Add(decimal.NewFromFloat(0.5))
		low := price.Sub(decimal.NewFromFloat(0.5))
		bars[i] = types.OHLCVBar{
			Symbol: "EURUSD", Timeframe: types.Timeframe("1h"),
			TsOpen: base.Add(time.Duration(i) * time.Hour), TsClose: base.Add(time.Duration(i+1) * time.Hour),
			Open: price, High: high, Low: low, Close: price, Volume: decimal.NewFromInt(100),
		}
		price = price.Add(step)
	}
	return bars
}

func TestComputeBatchShapeAndWarmup(t *testing.T) {
	bars := makeBars(30, decimal.NewFromInt(100), decimal.NewFromFloat(0.1))
	e := NewEngine(time.Minute, 10)
	specs := []Spec{
		{ID: "ema", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(10)}},
		{ID: "rsi", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(14)}},
		{ID: "atr", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(14)}},
	}

	out := e.ComputeBatch("EURUSD", types.Timeframe("1h"), bars, specs, false)
	if len(out) != 3 {
		t.Fatalf("expected 3 series, got %d", len(out))
	}
	ema := out[specs[0].Key()]
	if len(ema) != len(bars) {
		t.Fatalf("ema series len = %d, want %d", len(ema), len(bars))
	}
	if !ema[8].IsZero() {
		t.Errorf("ema before warmup should be zero, got %s", ema[8])
	}
	if ema[9].IsZero() {
		t.Error("ema at warmup boundary should be non-zero")
	}
}

func TestComputeForBarMatchesBatchLast(t *testing.T) {
	bars := makeBars(25, decimal.NewFromInt(50), decimal.NewFromFloat(-0.2))
	e := NewEngine(time.Minute, 10)
	specs := []Spec{{ID: "sma", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(5)}}}

	batch := e.ComputeBatch("EURUSD", types.Timeframe("1h"), bars, specs, false)
	perBar := e.ComputeForBar("EURUSD", types.Timeframe("1h"), bars, specs)

	if !perBar[specs[0].Key()].Equal(batch[specs[0].Key()].Last()) {
		t.Errorf("ComputeForBar = %s, want %s", perBar[specs[0].Key()], batch[specs[0].Key()].Last())
	}
}

func TestCacheHitAvoidsRecompute(t *testing.T) {
	bars := makeBars(20, decimal.NewFromInt(10), decimal.NewFromFloat(0.05))
	e := NewEngine(time.Hour, 10)
	specs := []Spec{{ID: "ema", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(5)}}}

	first := e.ComputeBatch("EURUSD", types.Timeframe("1h"), bars, specs, false)
	e.mu.Lock()
	entryCount := len(e.cache)
	e.mu.Unlock()
	if entryCount != 1 {
		t.Fatalf("expected 1 cache entry, got %d", entryCount)
	}

	second := e.ComputeBatch("EURUSD", types.Timeframe("1h"), bars, specs, false)
	if !first[specs[0].Key()].Last().Equal(second[specs[0].Key()].Last()) {
		t.Error("cached and fresh results diverge")
	}
}

func TestCacheInvalidatesOnNewBar(t *testing.T) {
	bars := makeBars(20, decimal.NewFromInt(10), decimal.NewFromFloat(0.05))
	e := NewEngine(time.Hour, 10)
	specs := []Spec{{ID: "sma", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(5)}}}

	first := e.ComputeBatch("EURUSD", types.Timeframe("1h"), bars, specs, false)
	extended := append(append([]types.OHLCVBar{}, bars...), makeBars(1, decimal.NewFromInt(999), decimal.Zero)...)
	second := e.ComputeBatch("EURUSD", types.Timeframe("1h"), extended, specs, false)

	if len(second[specs[0].Key()]) != len(extended) {
		t.Fatalf("expected recompute over extended bars, got len %d", len(second[specs[0].Key()]))
	}
	if first[specs[0].Key()].Last().Equal(second[specs[0].Key()].Last()) {
		t.Error("expected a different SMA after appending a divergent bar")
	}
}

func TestInvalidateSymbolDropsOnlyThatSymbol(t *testing.T) {
	barsA := makeBars(15, decimal.NewFromInt(10), decimal.NewFromFloat(0.1))
	e := NewEngine(time.Hour, 10)
	specs := []Spec{{ID: "sma", Params: map[string]decimal.Decimal{"period": decimal.NewFromInt(5)}}}

	e.ComputeBatch("EURUSD", types.Timeframe("1h"), barsA, specs, false)
	e.ComputeBatch("GBPUSD", types.Timeframe("1h"), barsA, specs, false)
	e.InvalidateSymbol("EURUSD")

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.cache) != 1 {
		t.Fatalf("expected 1 remaining cache entry, got %d", len(e.cache))
	}
}

func TestSpecKeyDeterministic(t *testing.T) {
	s := Spec{ID: "bollinger_percent_b", Params: map[string]decimal.Decimal{
		"stddev_mult": decimal.NewFromInt(2), "period": decimal.NewFromInt(20),
	}}
	if s.Key() != "bollinger_percent_b(period=20,stddev_mult=2)" {
		t.Errorf("Key() = %q", s.Key())
	}
}
