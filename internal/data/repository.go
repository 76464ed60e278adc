package data

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/internal/tradeerrors"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// Connector fetches bars/ticks from a live or historical upstream source.
// No concrete connector ships with this module (broker connectivity beyond
// the paper adapter is out of scope); Repository works connector-less by
// serving whatever is already cached or on disk.
type Connector interface {
	FetchBars(ctx context.Context, broker, symbol string, tf types.Timeframe, start, end time.Time) ([]types.OHLCVBar, error)
}

type tickEntry struct {
	tick types.Tick
	at   time.Time
}

// Repository is the cache -> disk -> connector facade the signal engine
// and execution layer read market data through. Bars flow cache first,
// then the Store's disk partitions, then (if configured and autoFetch is
// requested) a Connector; ticks are served from a short-TTL in-memory
// cache a live feed keeps warm.
type Repository struct {
	logger    *zap.Logger
	store     *Store
	quality   *DataQualityValidator
	connector Connector
	cfg       types.DataConfig

	mu      sync.RWMutex
	barCache map[string][]types.OHLCVBar
	barCacheAt map[string]time.Time
	ticks    map[string]tickEntry
}

func NewRepository(logger *zap.Logger, store *Store, connector Connector, cfg types.DataConfig) *Repository {
	return &Repository{
		logger:     logger.Named("data_repository"),
		store:      store,
		quality:    NewDataQualityValidator(logger),
		connector:  connector,
		cfg:        cfg,
		barCache:   make(map[string][]types.OHLCVBar),
		barCacheAt: make(map[string]time.Time),
		ticks:      make(map[string]tickEntry),
	}
}

func barCacheKey(broker, symbol string, tf types.Timeframe) string {
	return broker + "|" + symbol + "|" + string(tf)
}

// LastBars returns the last n bars for (broker,symbol,tf), serving from an
// in-process cache when fresh, else the disk-backed Store, optionally
// triggering a connector fetch to fill a detected trailing gap when
// autoFetch is true.
func (r *Repository) LastBars(broker, symbol string, tf types.Timeframe, n int, autoFetch bool) ([]types.OHLCVBar, error) {
	key := barCacheKey(broker, symbol, tf)
	ttl := time.Duration(r.cfg.CacheTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	r.mu.RLock()
	cached, ok := r.barCache[key]
	cachedAt := r.barCacheAt[key]
	r.mu.RUnlock()
	if ok && time.Since(cachedAt) < ttl && len(cached) >= n {
		return tail(cached, n), nil
	}

	end := time.Now().UTC()
	start := end.Add(-tf.Duration() * time.Duration(n*3+10))
	bars, err := r.store.LoadRange(broker, symbol, tf, start, end)
	if err != nil {
		return nil, err
	}

	if autoFetch && r.connector != nil {
		gaps := DetectGaps(bars, tf)
		if len(gaps) > 0 || len(bars) < n {
			fetched, fetchErr := r.connector.FetchBars(context.Background(), broker, symbol, tf, start, end)
			if fetchErr == nil && len(fetched) > 0 {
				if err := r.store.AppendBars(broker, symbol, tf, fetched); err == nil {
					bars, _ = r.store.LoadRange(broker, symbol, tf, start, end)
				}
			} else if fetchErr != nil {
				r.logger.Warn("connector fetch failed, serving cached bars", zap.Error(fetchErr))
			}
		}
	}

	r.mu.Lock()
	r.barCache[key] = bars
	r.barCacheAt[key] = time.Now()
	r.mu.Unlock()

	if len(bars) == 0 {
		return nil, tradeerrors.ErrAdapterUnavailable
	}
	return tail(bars, n), nil
}

func tail(bars []types.OHLCVBar, n int) []types.OHLCVBar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}

// PutTick records the latest tick for (broker,symbol), called by the live
// feed in market_data.go.
func (r *Repository) PutTick(broker, symbol string, tick types.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks[broker+"|"+symbol] = tickEntry{tick: tick, at: time.Now()}
}

// LatestTick returns the most recent tick for (broker,symbol) if it is
// still within the configured TTL.
func (r *Repository) LatestTick(broker, symbol string) (*types.Tick, error) {
	r.mu.RLock()
	entry, ok := r.ticks[broker+"|"+symbol]
	r.mu.RUnlock()
	if !ok {
		return nil, tradeerrors.ErrAdapterUnavailable
	}
	ttl := time.Duration(r.cfg.TickCacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if time.Since(entry.at) > ttl {
		return nil, tradeerrors.ErrAdapterUnavailable
	}
	tick := entry.tick
	return &tick, nil
}

// ATR computes the Average True Range over the last 14 bars for
// (broker,symbol) on the 1h timeframe, used by the slippage model and stop manager. Returns
// zero if insufficient history is cached.
func (r *Repository) ATR(broker, symbol string) decimal.Decimal {
	bars, err := r.LastBars(broker, symbol, types.Timeframe1h, 15, false)
	if err != nil || len(bars) < 2 {
		return decimal.Zero
	}
	sum := decimal.Zero
	count := 0
	for i := 1; i < len(bars); i++ {
		tr := trueRange(bars[i], bars[i-1])
		sum = sum.Add(tr)
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}

func trueRange(cur, prev types.OHLCVBar) decimal.Decimal {
	hl := cur.High.Sub(cur.Low)
	hc := cur.High.Sub(prev.Close).Abs()
	lc := cur.Low.Sub(prev.Close).Abs()
	return decimal.Max(hl, decimal.Max(hc, lc))
}

// InvalidateBarCache forces the next LastBars call to re-read from disk.
func (r *Repository) InvalidateBarCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.barCache = make(map[string][]types.OHLCVBar)
	r.barCacheAt = make(map[string]time.Time)
}
