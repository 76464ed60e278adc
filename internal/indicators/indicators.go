// Package indicators exposes the compute_batch/compute_for_bar contract
// internal/strategy's strategies and internal/regime's detector compute
// inline today, as a standalone, cacheable engine for callers (the replay
// dashboard, the optional API surface) that want indicator values without
// re-deriving them from a strategy's private helpers.
//
// Computation runs on the calling goroutine. There is no expectation of CPU
// parallelism here: a batch of N indicators over M bars is O(N*M), well
// within the 10-indicators/1000-bars/2s budget on a single core, so no
// worker pool is wired into this package.
package indicators

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// Spec names one indicator and its parameters. Param values are decimals so
// both integer periods ("period": 14) and ratios ("stddev_mult": 2) share
// one representation, matching config.IndicatorConfig.Params.
type Spec struct {
	ID     string
	Params map[string]decimal.Decimal
}

// Key is the spec's string identity for a result map, "id(param=val,...)"
// with params sorted for determinism.
func (s Spec) Key() string {
	if len(s.Params) == 0 {
		return s.ID
	}
	names := make([]string, 0, len(s.Params))
	for k := range s.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	key := s.ID + "("
	for i, n := range names {
		if i > 0 {
			key += ","
		}
		key += n + "=" + s.Params[n].String()
	}
	return key + ")"
}

func (s Spec) period(name string, def int) int {
	v, ok := s.Params[name]
	if !ok || v.LessThanOrEqual(decimal.Zero) {
		return def
	}
	return int(v.IntPart())
}

func (s Spec) decimalParam(name string, def decimal.Decimal) decimal.Decimal {
	v, ok := s.Params[name]
	if !ok {
		return def
	}
	return v
}

// Series is one indicator's full output aligned 1:1 with the input bars;
// entries before the indicator's warmup window are decimal.Zero.
type Series []decimal.Decimal

// Last returns the series' final value, or decimal.Zero for an empty series.
func (s Series) Last() decimal.Decimal {
	if len(s) == 0 {
		return decimal.Zero
	}
	return s[len(s)-1]
}

type cacheEntry struct {
	series    map[string]Series
	tailHash  uint64
	computedAt time.Time
}

// Engine computes indicator batches with a cache keyed on
// (symbol, timeframe, spec set, bars-tail-hash), consulting a TTL so a
// cached result older than it is recomputed even if the tail hash matches
// (guards against a config param change that didn't touch the bars).
type Engine struct {
	ttl       time.Duration
	tailBars  int
	mu        sync.Mutex
	cache     map[string]cacheEntry
}

// NewEngine builds an Engine whose cache entries expire after ttl. tailBars
// controls how many trailing bars contribute to the cache-invalidation
// hash; 10 is a reasonable default that catches any append/overwrite to the
// bar series without hashing the whole history on every call.
func NewEngine(ttl time.Duration, tailBars int) *Engine {
	if tailBars <= 0 {
		tailBars = 10
	}
	return &Engine{ttl: ttl, tailBars: tailBars, cache: make(map[string]cacheEntry)}
}

func (e *Engine) cacheKey(symbol string, tf types.Timeframe, specs []Spec) string {
	keys := make([]string, len(specs))
	for i, s := range specs {
		keys[i] = s.Key()
	}
	sort.Strings(keys)
	k := symbol + "|" + string(tf) + "|"
	for _, s := range keys {
		k += s + ";"
	}
	return k
}

func (e *Engine) tailHash(bars []types.OHLCVBar) uint64 {
	n := e.tailBars
	if n > len(bars) {
		n = len(bars)
	}
	h := fnv.New64a()
	for _, b := range bars[len(bars)-n:] {
		h.Write([]byte(b.TsClose.UTC().String()))
		h.Write([]byte(b.Close.String()))
	}
	h.Write([]byte(strconv.Itoa(len(bars))))
	return h.Sum64()
}

// ComputeBatch returns each spec's full series over bars, keyed by
// Spec.Key(). noCache bypasses both reading and writing the cache for this
// call, per the contract's "cache may be disabled per-call" clause.
func (e *Engine) ComputeBatch(symbol string, tf types.Timeframe, bars []types.OHLCVBar, specs []Spec, noCache bool) map[string]Series {
	if len(bars) == 0 || len(specs) == 0 {
		return map[string]Series{}
	}

	key := e.cacheKey(symbol, tf, specs)
	hash := e.tailHash(bars)

	if !noCache {
		e.mu.Lock()
		entry, ok := e.cache[key]
		e.mu.Unlock()
		if ok && entry.tailHash == hash && time.Since(entry.computedAt) < e.ttl {
			return entry.series
		}
	}

	out := make(map[string]Series, len(specs))
	for _, spec := range specs {
		out[spec.Key()] = compute(spec, bars)
	}

	if !noCache {
		e.mu.Lock()
		e.cache[key] = cacheEntry{series: out, tailHash: hash, computedAt: time.Now()}
		e.mu.Unlock()
	}
	return out
}

// ComputeForBar returns just the latest value of each spec, reusing
// ComputeBatch's cache so a per-bar caller and a batch caller over the same
// bar range never duplicate work within the TTL window.
func (e *Engine) ComputeForBar(symbol string, tf types.Timeframe, bars []types.OHLCVBar, specs []Spec) map[string]decimal.Decimal {
	batch := e.ComputeBatch(symbol, tf, bars, specs, false)
	out := make(map[string]decimal.Decimal, len(batch))
	for k, series := range batch {
		out[k] = series.Last()
	}
	return out
}

// InvalidateSymbol drops every cache entry for symbol, used when a data
// gap or backfill means the bars for that symbol can no longer be trusted
// to match their last-seen tail hash (e.g. a historical correction that
// rewrites bars older than the tail window).
func (e *Engine) InvalidateSymbol(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prefix := symbol + "|"
	for k := range e.cache {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(e.cache, k)
		}
	}
}

func compute(spec Spec, bars []types.OHLCVBar) Series {
	switch spec.ID {
	case "sma":
		return smaSeries(closes(bars), spec.period("period", 20))
	case "ema":
		return emaSeries(closes(bars), spec.period("period", 20))
	case "rsi":
		return rsiSeries(closes(bars), spec.period("period", 14))
	case "atr":
		return atrSeries(bars, spec.period("period", 14))
	case "adx":
		return adxSeries(bars, spec.period("period", 14))
	case "bollinger_percent_b":
		return bollingerSeries(closes(bars), spec.period("period", 20), spec.decimalParam("stddev_mult", decimal.NewFromInt(2)))
	default:
		return make(Series, len(bars))
	}
}
