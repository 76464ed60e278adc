package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

func decimalFromString(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// TickDecoder turns one raw websocket message into a Tick. Concrete broker
// wire formats are out of scope for this module; callers supply the
// decoder for whichever upstream they connect to.
type TickDecoder func(raw []byte) (types.Tick, error)

// Feed maintains a reconnecting websocket subscription and pushes decoded
// ticks into a Repository's tick cache.
type Feed struct {
	logger  *zap.Logger
	url     string
	decode  TickDecoder
	repo    *Repository
	broker  string

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func NewFeed(logger *zap.Logger, url, broker string, decode TickDecoder, repo *Repository) *Feed {
	return &Feed{logger: logger.Named("data_feed"), url: url, broker: broker, decode: decode, repo: repo}
}

// Start connects and reads ticks until ctx is cancelled, reconnecting with
// a fixed backoff on any read/dial error.
func (f *Feed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := f.run(ctx); err != nil {
				f.logger.Warn("feed disconnected, retrying", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}
			}
		}
	}()
}

func (f *Feed) run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("data: dial feed: %w", err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("data: read feed: %w", err)
		}
		tick, err := f.decode(raw)
		if err != nil {
			f.logger.Warn("feed: undecodable message", zap.Error(err))
			continue
		}
		if err := tick.Validate(); err != nil {
			f.logger.Warn("feed: invalid tick", zap.Error(err))
			continue
		}
		f.repo.PutTick(f.broker, tick.Symbol, tick)
	}
}

// Stop closes the underlying connection and halts reconnect attempts.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	if f.conn != nil {
		_ = f.conn.Close()
	}
}

// JSONTickDecoder builds a TickDecoder for upstreams that emit one JSON
// object per message shaped like a Tick (snake_case keys), via jsonTickWire.
func JSONTickDecoder(broker string, assetClass types.AssetClass) TickDecoder {
	return func(raw []byte) (types.Tick, error) {
		var wire jsonTickWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			return types.Tick{}, err
		}
		return wire.toTick(broker, assetClass)
	}
}

type jsonTickWire struct {
	Symbol string  `json:"symbol"`
	Bid    string  `json:"bid"`
	Ask    string  `json:"ask"`
	Last   string  `json:"last"`
	Volume string  `json:"volume"`
	TsUnix int64   `json:"ts"`
}

func (w jsonTickWire) toTick(broker string, assetClass types.AssetClass) (types.Tick, error) {
	bid, err := decimalFromString(w.Bid)
	if err != nil {
		return types.Tick{}, fmt.Errorf("data: parse bid: %w", err)
	}
	ask, err := decimalFromString(w.Ask)
	if err != nil {
		return types.Tick{}, fmt.Errorf("data: parse ask: %w", err)
	}
	last, _ := decimalFromString(w.Last)
	volume, _ := decimalFromString(w.Volume)
	return types.Tick{
		Symbol: w.Symbol, Broker: broker, Ts: time.Unix(0, w.TsUnix*int64(time.Millisecond)).UTC(),
		Bid: bid, Ask: ask, Last: last, Volume: volume, AssetClass: assetClass, Source: "feed",
	}, nil
}
