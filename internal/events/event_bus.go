// Package events provides the in-process typed pub/sub bus connecting market
// data, signal generation, risk, and execution. Delivery is FIFO within a
// topic: each topic owns one dispatch goroutine so handlers never reorder
// events relative to each other, while distinct topics drain concurrently.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// Kind identifies the topic an event is published on.
type Kind string

const (
	KindTick        Kind = "tick"
	KindBarClose    Kind = "bar_close"
	KindSignal      Kind = "signal"
	KindOrderSubmit Kind = "order_submit"
	KindOrderFill   Kind = "order_fill"
	KindOrderCancel Kind = "order_cancel"
	KindKillSwitch  Kind = "kill_switch"
)

// Event is the base interface every published payload implements.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
}

type base struct {
	kind Kind
	at   time.Time
}

func (b base) Kind() Kind            { return b.kind }
func (b base) OccurredAt() time.Time { return b.at }

// TickEvent carries a single tick update.
type TickEvent struct {
	base
	Tick types.Tick
}

// BarCloseEvent fires when a timeframe bar finalizes.
type BarCloseEvent struct {
	base
	Bar types.OHLCVBar
}

// SignalEvent carries an ensemble decision (approved or blocked).
type SignalEvent struct {
	base
	Decision types.DecisionResult
}

// OrderSubmitEvent fires when an order is sent to a broker adapter.
type OrderSubmitEvent struct {
	base
	Order types.Order
}

// OrderFillEvent fires on partial or full fill.
type OrderFillEvent struct {
	base
	Fill types.Fill
}

// OrderCancelEvent fires when an order is cancelled or rejected.
type OrderCancelEvent struct {
	base
	Order  types.Order
	Reason string
}

// KillSwitchEvent fires when the kill switch trips or resets.
type KillSwitchEvent struct {
	base
	Active bool
	Reason string
}

func NewTickEvent(t types.Tick) *TickEvent {
	return &TickEvent{base: base{KindTick, t.Ts}, Tick: t}
}

func NewBarCloseEvent(b types.OHLCVBar) *BarCloseEvent {
	return &BarCloseEvent{base: base{KindBarClose, b.TsClose}, Bar: b}
}

func NewSignalEvent(d types.DecisionResult) *SignalEvent {
	return &SignalEvent{base: base{KindSignal, time.Now()}, Decision: d}
}

func NewOrderSubmitEvent(o types.Order) *OrderSubmitEvent {
	return &OrderSubmitEvent{base: base{KindOrderSubmit, time.Now()}, Order: o}
}

func NewOrderFillEvent(f types.Fill) *OrderFillEvent {
	return &OrderFillEvent{base: base{KindOrderFill, f.FilledAt}, Fill: f}
}

func NewOrderCancelEvent(o types.Order, reason string) *OrderCancelEvent {
	return &OrderCancelEvent{base: base{KindOrderCancel, time.Now()}, Order: o, Reason: reason}
}

func NewKillSwitchEvent(active bool, reason string) *KillSwitchEvent {
	return &KillSwitchEvent{base: base{KindKillSwitch, time.Now()}, Active: active, Reason: reason}
}

// Handler processes one event. An error is logged, never propagated: a
// misbehaving subscriber must not stall or crash the bus.
type Handler func(Event) error

// Subscription is an opaque handle returned by Subscribe, used to Unsubscribe.
type Subscription struct {
	id     int64
	kind   Kind
	active atomic.Bool
}

type topic struct {
	kind    Kind
	ch      chan Event
	mu      sync.RWMutex
	subs    []*subEntry
	started bool
}

type subEntry struct {
	sub     *Subscription
	handler Handler
}

// Stats is a point-in-time snapshot of bus throughput counters.
type Stats struct {
	Published int64
	Delivered int64
	Dropped   int64
	Errors    int64
}

// Config controls per-topic buffering.
type Config struct {
	BufferSize int
}

// DefaultConfig returns the bus's default per-topic buffer size.
func DefaultConfig() Config {
	return Config{BufferSize: 4096}
}

// Bus is the central typed pub/sub router. One dispatch goroutine per topic
// guarantees FIFO delivery within that topic; topics run independently, so
// the bus as a whole behaves like a small worker pool sized to the topic
// count rather than a fixed goroutine count.
type Bus struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	topics map[Kind]*topic

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subCounter atomic.Int64
	published  atomic.Int64
	delivered  atomic.Int64
	dropped    atomic.Int64
	errs       atomic.Int64
}

// New creates a bus. Topics are started lazily on first Subscribe or Publish so an
// unused topic never spins up a goroutine.
func New(logger *zap.Logger, cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		cfg:    cfg,
		logger: logger.Named("events"),
		topics: make(map[Kind]*topic),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Bus) topicFor(kind Kind) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[kind]
	if !ok {
		t = &topic{kind: kind, ch: make(chan Event, b.cfg.BufferSize)}
		b.topics[kind] = t
	}
	if !t.started {
		t.started = true
		b.wg.Add(1)
		go b.runTopic(t)
	}
	return t
}

func (b *Bus) runTopic(t *topic) {
	defer b.wg.Done()
	for {
		var ev Event
		select {
		case <-b.ctx.Done():
			select {
			case ev = <-t.ch:
			default:
				return
			}
		case ev = <-t.ch:
		}
		t.mu.RLock()
		entries := make([]*subEntry, len(t.subs))
		copy(entries, t.subs)
		t.mu.RUnlock()

		for _, e := range entries {
			if !e.sub.active.Load() {
				continue
			}
			b.invoke(e, ev)
		}
		b.delivered.Add(1)
	}
}

func (b *Bus) invoke(e *subEntry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errs.Add(1)
			b.logger.Error("handler panic",
				zap.String("topic", string(ev.Kind())),
				zap.Any("panic", r))
		}
	}()
	if err := e.handler(ev); err != nil {
		b.errs.Add(1)
		b.logger.Warn("handler error",
			zap.String("topic", string(ev.Kind())),
			zap.Error(err))
	}
}

// Subscribe registers handler on kind. Delivery to this handler is FIFO
// relative to every other event on the same kind.
func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription {
	t := b.topicFor(kind)
	sub := &Subscription{id: b.subCounter.Add(1), kind: kind}
	sub.active.Store(true)

	t.mu.Lock()
	t.subs = append(t.subs, &subEntry{sub: sub, handler: handler})
	t.mu.Unlock()

	return sub
}

// Unsubscribe deactivates a subscription. Safe to call concurrently with
// dispatch; in-flight deliveries to this handler are not cancelled.
func (b *Bus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
}

// Publish enqueues ev on its topic without blocking. A full buffer drops the
// event and increments the dropped counter rather than applying backpressure
// to the caller — publishers (market data feed, order manager) must never
// stall on a slow subscriber.
func (b *Bus) Publish(ev Event) {
	t := b.topicFor(ev.Kind())
	select {
	case t.ch <- ev:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, topic buffer full", zap.String("topic", string(ev.Kind())))
	}
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Errors:    b.errs.Load(),
	}
}

// Stop cancels all topic goroutines and waits up to 5s for them to drain.
func (b *Bus) Stop() {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("event bus stopped", zap.Int64("published", b.published.Load()), zap.Int64("dropped", b.dropped.Load()))
	case <-time.After(5 * time.Second):
		b.logger.Warn("event bus stop timed out")
	}
}
