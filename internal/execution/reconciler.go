package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// ReconcileReport is the outcome of one reconciliation pass.
type ReconcileReport struct {
	At                time.Time
	LocalEquity       decimal.Decimal
	BrokerEquity      decimal.Decimal
	MismatchPct       decimal.Decimal
	Critical          bool
	MissingPositions  []string // symbols OrderManager tracks but broker doesn't
	UnexpectedPositions []string // symbols broker reports but OrderManager doesn't
}

// Reconciler periodically compares the OrderManager's local book against
// the broker's reported account/positions, escalating to the kill switch
// when the equity divergence crosses RiskLimits.EquityMismatchCriticalPct.
type Reconciler struct {
	logger   *zap.Logger
	orderMgr *OrderManager
	broker   BrokerAdapter
	criticalPct decimal.Decimal
	onCritical func(reason string, now time.Time)
}

func NewReconciler(logger *zap.Logger, orderMgr *OrderManager, broker BrokerAdapter, criticalPct decimal.Decimal, onCritical func(string, time.Time)) *Reconciler {
	return &Reconciler{logger: logger.Named("reconciler"), orderMgr: orderMgr, broker: broker, criticalPct: criticalPct, onCritical: onCritical}
}

// Run performs one reconciliation pass, comparing local vs broker state.
func (r *Reconciler) Run(ctx context.Context, currentPrices map[string]decimal.Decimal, now time.Time) (ReconcileReport, error) {
	account, err := r.broker.Account(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}
	brokerPositions, err := r.broker.Positions(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	localPositions := r.orderMgr.Positions()
	localUnrealized := r.orderMgr.UnrealizedPnL(currentPrices)
	localEquity := account.Equity(localUnrealized)

	brokerUnrealized := decimal.Zero
	brokerBySymbol := make(map[string]types.Position, len(brokerPositions))
	for _, p := range brokerPositions {
		brokerBySymbol[p.Symbol] = p
		price := p.CurrentPrice
		if v, ok := currentPrices[p.Symbol]; ok {
			price = v
		}
		brokerUnrealized = brokerUnrealized.Add(closePnL(p, price, p.Quantity))
	}
	brokerEquity := account.Equity(brokerUnrealized)

	report := ReconcileReport{At: now, LocalEquity: localEquity, BrokerEquity: brokerEquity}

	localBySymbol := make(map[string]bool, len(localPositions))
	for _, p := range localPositions {
		localBySymbol[p.Symbol] = true
		if _, ok := brokerBySymbol[p.Symbol]; !ok {
			report.MissingPositions = append(report.MissingPositions, p.Symbol)
		}
	}
	for sym := range brokerBySymbol {
		if !localBySymbol[sym] {
			report.UnexpectedPositions = append(report.UnexpectedPositions, sym)
		}
	}

	if !brokerEquity.IsZero() {
		report.MismatchPct = localEquity.Sub(brokerEquity).Div(brokerEquity).Abs().Mul(decimal.NewFromInt(100))
	}
	threshold := r.criticalPct
	if threshold.LessThanOrEqual(decimal.Zero) {
		threshold = decimal.NewFromInt(1)
	}
	if report.MismatchPct.GreaterThan(threshold) || len(report.MissingPositions) > 0 || len(report.UnexpectedPositions) > 0 {
		report.Critical = true
		r.logger.Error("reconciliation critical",
			zap.String("mismatch_pct", report.MismatchPct.String()),
			zap.Strings("missing", report.MissingPositions),
			zap.Strings("unexpected", report.UnexpectedPositions))
		if r.onCritical != nil {
			r.onCritical("reconciliation critical: equity/position divergence", now)
		}
	}
	_ = r.orderMgr.SyncWithBroker(ctx)
	return report, nil
}
