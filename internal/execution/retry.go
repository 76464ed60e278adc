package execution

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/internal/tradeerrors"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// RetryHandler retries transient failures (tradeerrors.ErrTransientIO) with
// exponential backoff and jitter, bounded by MaxAttempts/MaxDelay.
type RetryHandler struct {
	cfg types.RetryConfig
	rng *rand.Rand
}

func NewRetryHandler(cfg types.RetryConfig) *RetryHandler {
	return &RetryHandler{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Do runs fn, retrying while it returns an error matching
// tradeerrors.ErrTransientIO, up to MaxAttempts times.
func (r *RetryHandler) Do(ctx context.Context, fn func(attempt int) error) error {
	maxAttempts := r.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, tradeerrors.ErrTransientIO) {
			return lastErr
		}
		if attempt == maxAttempts-1 {
			break
		}
		delay := r.backoff(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (r *RetryHandler) backoff(attempt int) time.Duration {
	base := r.cfg.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	max := r.cfg.MaxDelay
	if max <= 0 {
		max = 10 * time.Second
	}
	delay := base << attempt
	if delay > max || delay <= 0 {
		delay = max
	}
	jitterPct := r.cfg.JitterPct
	if jitterPct.LessThanOrEqual(decimal.Zero) {
		jitterPct = decimal.NewFromFloat(0.1)
	}
	jitterFrac, _ := jitterPct.Float64()
	jitter := time.Duration(float64(delay) * jitterFrac * (r.rng.Float64()*2 - 1))
	result := delay + jitter
	if result < 0 {
		result = delay
	}
	return result
}
