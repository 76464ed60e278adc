package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DrawdownTracker maintains running peak equity and derives current
// drawdown percentage plus daily/weekly loss tracking against a rolling
// reset boundary.
type DrawdownTracker struct {
	mu sync.Mutex

	peakEquity     decimal.Decimal
	dayStartEquity decimal.Decimal
	weekStartEquity decimal.Decimal
	dayStart       time.Time
	weekStart      time.Time
}

func NewDrawdownTracker(startingEquity decimal.Decimal, now time.Time) *DrawdownTracker {
	return &DrawdownTracker{
		peakEquity:      startingEquity,
		dayStartEquity:  startingEquity,
		weekStartEquity: startingEquity,
		dayStart:        now,
		weekStart:        now,
	}
}

// Update records a new equity observation and returns the current
// peak-to-trough drawdown percentage (always non-negative).
func (d *DrawdownTracker) Update(equity decimal.Decimal, now time.Time) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()

	if equity.GreaterThan(d.peakEquity) {
		d.peakEquity = equity
	}
	if now.Sub(d.dayStart) >= 24*time.Hour {
		d.dayStartEquity = equity
		d.dayStart = now
	}
	if now.Sub(d.weekStart) >= 7*24*time.Hour {
		d.weekStartEquity = equity
		d.weekStart = now
	}

	if d.peakEquity.IsZero() {
		return decimal.Zero
	}
	dd := d.peakEquity.Sub(equity).Div(d.peakEquity).Mul(decimal.NewFromInt(100))
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// DailyLossPct returns the percentage loss since the current day's opening
// equity (zero or positive if the day is currently profitable).
func (d *DrawdownTracker) DailyLossPct(equity decimal.Decimal) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dayStartEquity.IsZero() {
		return decimal.Zero
	}
	loss := d.dayStartEquity.Sub(equity).Div(d.dayStartEquity).Mul(decimal.NewFromInt(100))
	if loss.IsNegative() {
		return decimal.Zero
	}
	return loss
}

// WeeklyLossPct returns the percentage loss since the current week's
// opening equity.
func (d *DrawdownTracker) WeeklyLossPct(equity decimal.Decimal) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.weekStartEquity.IsZero() {
		return decimal.Zero
	}
	loss := d.weekStartEquity.Sub(equity).Div(d.weekStartEquity).Mul(decimal.NewFromInt(100))
	if loss.IsNegative() {
		return decimal.Zero
	}
	return loss
}

// PeakEquity returns the highest equity observed so far.
func (d *DrawdownTracker) PeakEquity() decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peakEquity
}
