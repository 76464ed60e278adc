package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/internal/events"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// KillSwitch halts new order submission once a hard threshold is breached.
// Once active it stays active for its configured cooldown, independent of
// equity recovering in the meantime — the reference behavior this guards
// against is a bouncing-at-the-edge oscillation between armed/disarmed.
type KillSwitch struct {
	cfg    types.KillSwitchConfig
	logger *zap.Logger
	bus    *events.Bus

	mu            sync.Mutex
	active        bool
	activatedAt   time.Time
	reason        string
	apiErrors     int
	apiCalls      int
	latencySumMs  int64
	latencyCount  int64
}

func NewKillSwitch(cfg types.KillSwitchConfig, logger *zap.Logger, bus *events.Bus) *KillSwitch {
	return &KillSwitch{cfg: cfg, logger: logger.Named("kill_switch"), bus: bus}
}

// Active reports whether the kill switch is currently engaged, clearing it
// once the cooldown has elapsed.
func (k *KillSwitch) Active(now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active && k.cfg.CooldownPeriod > 0 && now.Sub(k.activatedAt) >= k.cfg.CooldownPeriod {
		k.active = false
		k.reason = ""
	}
	return k.active
}

// Reason returns the last activation reason, if any.
func (k *KillSwitch) Reason() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reason
}

func (k *KillSwitch) trip(reason string, now time.Time) {
	k.mu.Lock()
	already := k.active
	k.active = true
	k.activatedAt = now
	k.reason = reason
	k.mu.Unlock()

	if already {
		return
	}
	k.logger.Error("kill switch activated", zap.String("reason", reason))
	if k.bus != nil {
		k.bus.Publish(events.NewKillSwitchEvent(true, reason))
	}
}

// CheckEquity trips the switch on daily/weekly drawdown or absolute equity
// floor breaches.
func (k *KillSwitch) CheckEquity(dailyLossPct, weeklyLossPct, equity decimal.Decimal, now time.Time) {
	if k.cfg.MaxDailyDrawdownPct.IsPositive() && dailyLossPct.GreaterThan(k.cfg.MaxDailyDrawdownPct) {
		k.trip("daily drawdown exceeded", now)
		return
	}
	if k.cfg.MaxWeeklyDrawdownPct.IsPositive() && weeklyLossPct.GreaterThan(k.cfg.MaxWeeklyDrawdownPct) {
		k.trip("weekly drawdown exceeded", now)
		return
	}
	if k.cfg.MinEquityThreshold.IsPositive() && equity.LessThan(k.cfg.MinEquityThreshold) {
		k.trip("equity below minimum threshold", now)
	}
}

// CheckConsecutiveLosses trips the switch after the configured streak.
func (k *KillSwitch) CheckConsecutiveLosses(count int, now time.Time) {
	if k.cfg.MaxConsecutiveLosses > 0 && count >= k.cfg.MaxConsecutiveLosses {
		k.trip("max consecutive losses reached", now)
	}
}

// RecordAPICall tracks API error rate for the MaxAPIErrorRate threshold.
func (k *KillSwitch) RecordAPICall(isError bool, latencyMs int64, now time.Time) {
	k.mu.Lock()
	k.apiCalls++
	if isError {
		k.apiErrors++
	}
	k.latencySumMs += latencyMs
	k.latencyCount++
	calls, errs := k.apiCalls, k.apiErrors
	var avgLatency int64
	if k.latencyCount > 0 {
		avgLatency = k.latencySumMs / k.latencyCount
	}
	if calls >= 20 {
		k.apiCalls, k.apiErrors = 0, 0
		k.latencySumMs, k.latencyCount = 0, 0
	}
	k.mu.Unlock()

	if calls == 0 {
		return
	}
	errRate := decimal.NewFromInt(int64(errs)).Div(decimal.NewFromInt(int64(calls))).Mul(decimal.NewFromInt(100))
	if k.cfg.MaxAPIErrorRate.IsPositive() && errRate.GreaterThan(k.cfg.MaxAPIErrorRate) {
		k.trip("api error rate exceeded", now)
	}
	if k.cfg.MaxLatencyMs > 0 && avgLatency > int64(k.cfg.MaxLatencyMs) {
		k.trip("api latency exceeded", now)
	}
}

// CheckFillDeviation trips the switch when a fill price deviates from the
// expected price by more than the configured percentage.
func (k *KillSwitch) CheckFillDeviation(expected, actual decimal.Decimal, now time.Time) {
	if expected.IsZero() || k.cfg.MaxFillDeviationPct.LessThanOrEqual(decimal.Zero) {
		return
	}
	deviation := actual.Sub(expected).Div(expected).Abs().Mul(decimal.NewFromInt(100))
	if deviation.GreaterThan(k.cfg.MaxFillDeviationPct) {
		k.trip("fill deviation exceeded", now)
	}
}

// TripManual force-activates the switch, e.g. from a reconciler escalation.
func (k *KillSwitch) TripManual(reason string, now time.Time) {
	k.trip(reason, now)
}

// Reset clears the kill switch immediately, bypassing the cooldown — used
// for operator-initiated recovery.
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	k.active = false
	k.reason = ""
	k.mu.Unlock()
	if k.bus != nil {
		k.bus.Publish(events.NewKillSwitchEvent(false, "manual reset"))
	}
}
