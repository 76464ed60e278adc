// Package replay drives the event bus with historical bars between a start
// and end instant, at a configurable pace, and hosts ShadowMode: a parallel,
// non-executing run of the same signal->risk pipeline used to compare
// against a live trade sequence.
package replay

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/internal/events"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// BarRangeSource loads bars for (broker,symbol,tf) within [start,end];
// satisfied by internal/data.Store.
type BarRangeSource interface {
	LoadRange(broker, symbol string, tf types.Timeframe, start, end time.Time) ([]types.OHLCVBar, error)
}

// Config describes one replay run over a single (broker,symbol,timeframe).
type Config struct {
	Broker    string
	Symbol    string
	Timeframe types.Timeframe
	Start     time.Time
	End       time.Time
	// Speed is a real-time pacing multiplier: 1.0 replays at the bars'
	// original cadence, 2.0 replays twice as fast. Zero, negative, or +Inf
	// means fast-forward: bars are published back-to-back with no pacing
	// sleep at all.
	Speed float64
}

func (c Config) fastForward() bool {
	return c.Speed <= 0 || math.IsInf(c.Speed, 1)
}

// Replayer publishes BAR_CLOSE events onto a bus from a historical bar
// range, honoring a Controller's pause/resume/step/jump gate between bars.
type Replayer struct {
	logger *zap.Logger
	bus    *events.Bus
	source BarRangeSource
}

func New(logger *zap.Logger, bus *events.Bus, source BarRangeSource) *Replayer {
	return &Replayer{logger: logger.Named("replay"), bus: bus, source: source}
}

// Run publishes every bar in cfg's range, in ascending ts_open order,
// blocking on ctrl between bars. It returns the count of bars delivered and
// any error from the source load or from context cancellation.
func (r *Replayer) Run(ctx context.Context, cfg Config, ctrl *Controller) (int, error) {
	bars, err := r.source.LoadRange(cfg.Broker, cfg.Symbol, cfg.Timeframe, cfg.Start, cfg.End)
	if err != nil {
		return 0, fmt.Errorf("replay: load range: %w", err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TsOpen.Before(bars[j].TsOpen) })
	if ctrl == nil {
		ctrl = NewController()
	}

	var prevClose time.Time
	delivered := 0
	for _, bar := range bars {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		default:
		}

		paced, err := ctrl.Gate(ctx, bar.TsClose)
		if err != nil {
			return delivered, err
		}

		r.bus.Publish(events.NewBarCloseEvent(bar))
		delivered++

		if paced && !cfg.fastForward() && !prevClose.IsZero() {
			wait := bar.TsClose.Sub(prevClose)
			if wait > 0 {
				scaled := time.Duration(float64(wait) / cfg.Speed)
				select {
				case <-time.After(scaled):
				case <-ctx.Done():
					return delivered, ctx.Err()
				}
			}
		}
		prevClose = bar.TsClose
	}
	return delivered, nil
}

// Controller exposes pause, resume, step_forward(N), and jump_to(ts) over a
// running Replayer. All methods are safe to call from any goroutine; the
// driving loop observes state changes through Gate.
type Controller struct {
	mu         sync.Mutex
	paused     bool
	stepBudget int
	jumpTarget *time.Time
	wake       chan struct{}
}

func NewController() *Controller {
	return &Controller{wake: make(chan struct{})}
}

// notifyLocked wakes any goroutine blocked in Gate. Caller must hold mu.
func (c *Controller) notifyLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// Pause stops the driving loop before its next bar.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	c.notifyLocked()
}

// Resume releases a paused loop and clears any pending step budget.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	c.stepBudget = 0
	c.notifyLocked()
}

// StepForward pauses the loop (if not already paused) and allows exactly n
// more bars through before it re-pauses.
func (c *Controller) StepForward(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	c.stepBudget += n
	c.notifyLocked()
}

// JumpTo releases bars with ts_close before target without pacing, so the
// loop fast-forwards to target and then resumes its prior paused/running
// state from the bar at or after it.
func (c *Controller) JumpTo(target time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := target
	c.jumpTarget = &t
	c.notifyLocked()
}

// Gate blocks until the bar at ts is cleared to publish. It returns
// paced=true when the caller should apply its normal inter-bar sleep, and
// false when the bar was released by a jump or a step budget and pacing
// should be skipped.
func (c *Controller) Gate(ctx context.Context, ts time.Time) (paced bool, err error) {
	for {
		c.mu.Lock()
		if c.jumpTarget != nil {
			if ts.Before(*c.jumpTarget) {
				c.mu.Unlock()
				return false, nil
			}
			c.jumpTarget = nil
		}
		if !c.paused {
			c.mu.Unlock()
			return true, nil
		}
		if c.stepBudget > 0 {
			c.stepBudget--
			c.mu.Unlock()
			return false, nil
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
