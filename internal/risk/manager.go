// Package risk implements the RiskCheck pipeline: position sizing, stop/
// target placement, exposure limits, drawdown tracking, and the kill
// switch that gates every signal before it becomes an order.
package risk

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/internal/events"
	"github.com/zeroframe404/sistema-pro-trader/internal/sizing"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// ManagerConfig bundles the risk subsystem's tunables.
type ManagerConfig struct {
	Limits     types.RiskLimits
	Stops      types.StopConfig
	KillSwitch types.KillSwitchConfig
}

// Manager runs the six-step risk-evaluation flow: kill-switch gate, size,
// stop/target placement, reward:risk floor, exposure-limit check, and
// drawdown/consecutive-loss bookkeeping.
type Manager struct {
	cfg      ManagerConfig
	logger   *zap.Logger
	sizer    *sizing.PositionSizer
	stops    *StopManager
	drawdown *DrawdownTracker
	exposure *ExposureTracker
	kill     *KillSwitch

	consecutiveLosses int
}

func NewManager(cfg ManagerConfig, logger *zap.Logger, sizer *sizing.PositionSizer, startingEquity decimal.Decimal, corrGroupOf func(string) string, bus *events.Bus, now time.Time) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("risk"),
		sizer:    sizer,
		stops:    NewStopManager(cfg.Stops),
		drawdown: NewDrawdownTracker(startingEquity, now),
		exposure: NewExposureTracker(corrGroupOf),
		kill:     NewKillSwitch(cfg.KillSwitch, logger, bus),
	}
}

// Evaluate turns a decision + market context into an approved/rejected/
// modified RiskCheck.
func (m *Manager) Evaluate(decision types.DecisionResult, account types.Account, openPositions []types.Position, entryPrice, atr, unrealizedPnL decimal.Decimal, now time.Time) types.RiskCheck {
	check := types.RiskCheck{CheckID: uuid.NewString(), SignalID: decision.Symbol + "@" + decision.ValidUntil.String()}

	// Step 1: kill switch gate.
	if m.kill.Active(now) {
		check.Status = types.RiskCheckRejected
		check.RejectionReasons = []string{"kill switch active: " + m.kill.Reason()}
		return check
	}
	if !decision.Direction.Actionable() {
		check.Status = types.RiskCheckRejected
		check.RejectionReasons = []string{"non-actionable direction"}
		return check
	}

	equity := account.Equity(unrealizedPnL)

	// Step 2: drawdown/kill-switch bookkeeping on the latest equity mark.
	dd := m.drawdown.Update(equity, now)
	dailyLoss := m.drawdown.DailyLossPct(equity)
	weeklyLoss := m.drawdown.WeeklyLossPct(equity)
	m.kill.CheckEquity(dailyLoss, weeklyLoss, equity, now)
	if m.kill.Active(now) {
		check.Status = types.RiskCheckRejected
		check.RejectionReasons = []string{"kill switch active: " + m.kill.Reason()}
		return check
	}
	if m.cfg.Limits.MaxDrawdownPct.IsPositive() && dd.GreaterThan(m.cfg.Limits.MaxDrawdownPct) {
		check.Status = types.RiskCheckRejected
		check.RejectionReasons = []string{"max_drawdown_pct exceeded"}
		return check
	}
	if m.cfg.Limits.MaxDailyLossPct.IsPositive() && dailyLoss.GreaterThan(m.cfg.Limits.MaxDailyLossPct) {
		check.Status = types.RiskCheckRejected
		check.RejectionReasons = []string{"max_daily_loss_pct exceeded"}
		return check
	}
	if m.cfg.Limits.MaxWeeklyLossPct.IsPositive() && weeklyLoss.GreaterThan(m.cfg.Limits.MaxWeeklyLossPct) {
		check.Status = types.RiskCheckRejected
		check.RejectionReasons = []string{"max_weekly_loss_pct exceeded"}
		return check
	}
	if m.cfg.Limits.MinEquityThreshold.IsPositive() && equity.LessThan(m.cfg.Limits.MinEquityThreshold) {
		check.Status = types.RiskCheckRejected
		check.RejectionReasons = []string{"equity below min_equity_threshold"}
		return check
	}

	side := types.OrderSideBuy
	if decision.Direction == types.DirectionSell {
		side = types.OrderSideSell
	}

	// Step 3: stop/target placement.
	sl := m.stops.InitialStop(side, entryPrice, atr)
	tp := m.stops.TakeProfit(side, entryPrice, sl)

	// Step 4: position size off the placed stop.
	sizeResult, err := m.sizer.Size(sizing.Request{
		Symbol: decision.Symbol, Equity: equity, EntryPrice: entryPrice, StopPrice: sl, ATR: atr,
		Confidence: decision.ConfidencePct.Div(decimal.NewFromInt(100)),
	})
	if err != nil || sizeResult.Zeroed || sizeResult.Units.LessThanOrEqual(decimal.Zero) {
		reason := "sizing produced zero units"
		if sizeResult.ZeroReason != "" {
			reason = sizeResult.ZeroReason
		}
		check.Status = types.RiskCheckRejected
		check.RejectionReasons = []string{reason}
		return check
	}
	units := sizeResult.Units
	capped := false
	capReason := ""
	if m.cfg.Limits.MaxUnits.IsPositive() && units.GreaterThan(m.cfg.Limits.MaxUnits) {
		units = m.cfg.Limits.MaxUnits
		capped = true
		capReason = "max_units"
	}
	if m.cfg.Limits.MaxPositionSize.IsPositive() {
		notional := units.Mul(entryPrice)
		if notional.GreaterThan(m.cfg.Limits.MaxPositionSize) {
			units = m.cfg.Limits.MaxPositionSize.Div(entryPrice)
			capped = true
			capReason = "max_position_size"
		}
	}

	riskDistance := entryPrice.Sub(sl).Abs()
	riskAmount := units.Mul(riskDistance)
	riskPct := decimal.Zero
	if equity.IsPositive() {
		riskPct = riskAmount.Div(equity).Mul(decimal.NewFromInt(100))
	}
	if m.cfg.Limits.MaxRiskPerTradePct.IsPositive() && riskPct.GreaterThan(m.cfg.Limits.MaxRiskPerTradePct) {
		scale := m.cfg.Limits.MaxRiskPerTradePct.Div(riskPct)
		units = units.Mul(scale)
		riskAmount = riskAmount.Mul(scale)
		riskPct = m.cfg.Limits.MaxRiskPerTradePct
		capped = true
		capReason = "max_risk_per_trade_pct"
	}

	// Step 5: reward:risk floor.
	rewardDistance := tp.Sub(entryPrice).Abs()
	rrRatio := decimal.Zero
	if riskDistance.IsPositive() {
		rrRatio = rewardDistance.Div(riskDistance)
	}
	if m.cfg.Limits.MinRewardRiskRatio.IsPositive() && rrRatio.LessThan(m.cfg.Limits.MinRewardRiskRatio) {
		check.Status = types.RiskCheckRejected
		check.RejectionReasons = []string{"reward:risk below min_reward_risk_ratio"}
		return check
	}

	// Step 6: exposure limits. A breach halves the size and rechecks once;
	// still breaching at half size rejects, otherwise the check proceeds
	// MODIFIED with a warning recording the halving.
	exposureWarning := ""
	assetClass := decision.AssetClass
	phantom := types.Position{Symbol: decision.Symbol, AssetClass: assetClass}
	notional := units.Mul(entryPrice)
	if breach, reason := m.exposure.WouldBreach(phantom, notional, equity, m.cfg.Limits); breach {
		halvedUnits := units.Div(decimal.NewFromInt(2))
		halvedNotional := halvedUnits.Mul(entryPrice)
		if breach, reason := m.exposure.WouldBreach(phantom, halvedNotional, equity, m.cfg.Limits); breach {
			check.Status = types.RiskCheckRejected
			check.RejectionReasons = []string{reason}
			return check
		}
		scale := halvedUnits.Div(units)
		units = halvedUnits
		riskAmount = riskAmount.Mul(scale)
		riskPct = riskPct.Mul(scale)
		capped = true
		if capReason == "" {
			capReason = reason
		}
		exposureWarning = "halved size: " + reason
	}
	if m.cfg.Limits.MaxConsecutiveLosses > 0 && m.consecutiveLosses >= m.cfg.Limits.MaxConsecutiveLosses {
		check.Status = types.RiskCheckRejected
		check.RejectionReasons = []string{"max_consecutive_losses reached"}
		return check
	}

	status := types.RiskCheckApproved
	if capped {
		status = types.RiskCheckModified
	}
	check.Status = status
	check.ApprovedSize = units
	check.ApprovedSide = side
	check.SuggestedSL = sl
	check.SuggestedTP = tp
	check.RiskAmount = riskAmount
	check.RiskPercent = riskPct
	check.RewardRiskRatio = rrRatio
	check.WasCapped = capped
	check.CapReason = capReason
	if exposureWarning != "" {
		check.Warnings = append(check.Warnings, exposureWarning)
	}
	return check
}

// OnTradeClosed feeds a closed trade's outcome back into the loss-streak
// counter, the sizer's Kelly inputs, and the kill switch.
func (m *Manager) OnTradeClosed(outcome sizing.TradeOutcome, now time.Time) {
	m.sizer.RecordTrade(outcome)
	if outcome.IsWin {
		m.consecutiveLosses = 0
	} else {
		m.consecutiveLosses++
	}
	m.kill.CheckConsecutiveLosses(m.consecutiveLosses, now)
}

// AdvanceTrailing delegates to the StopManager for an open position.
func (m *Manager) AdvanceTrailing(pos types.Position, currentPrice, atr decimal.Decimal) decimal.Decimal {
	return m.stops.AdvanceTrailing(pos, currentPrice, atr)
}

// RegisterOpen/RegisterClose track exposure for a position lifecycle.
func (m *Manager) RegisterOpen(pos types.Position, notional decimal.Decimal) { m.exposure.Add(pos, notional) }
func (m *Manager) RegisterClose(pos types.Position, notional decimal.Decimal) { m.exposure.Remove(pos, notional) }

// KillSwitch exposes the underlying switch for API/CLI surfaces.
func (m *Manager) KillSwitch() *KillSwitch { return m.kill }
