package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeroframe404/sistema-pro-trader/internal/events"
	"github.com/zeroframe404/sistema-pro-trader/internal/tradeerrors"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// OrderManager drives an order's full lifecycle: idempotent submission
// through a BrokerAdapter with retry, cancel/modify, fill application, and
// position close-out.
type OrderManager struct {
	logger *zap.Logger
	broker BrokerAdapter
	idem   *IdempotencyManager
	retry  *RetryHandler
	bus    *events.Bus

	mu        sync.Mutex
	positions map[string]types.Position
}

func NewOrderManager(logger *zap.Logger, broker BrokerAdapter, idem *IdempotencyManager, retry *RetryHandler, bus *events.Bus) *OrderManager {
	return &OrderManager{
		logger:    logger.Named("execution"),
		broker:    broker,
		idem:      idem,
		retry:     retry,
		bus:       bus,
		positions: make(map[string]types.Position),
	}
}

// SubmitFromSignal builds an Order from a decision + RiskCheck, dedups it
// via IdempotencyManager, and submits it through the broker with retry.
func (m *OrderManager) SubmitFromSignal(ctx context.Context, decision types.DecisionResult, signalID string, check types.RiskCheck, broker string, now time.Time) (types.Order, error) {
	if check.Status == types.RiskCheckRejected {
		return types.Order{}, &tradeerrors.RiskRejected{Reasons: check.RejectionReasons}
	}

	clientOrderID := ClientOrderID(signalID, decision.Symbol, check.ApprovedSide, now)
	order := types.Order{
		OrderID:       uuid.NewString(),
		ClientOrderID: clientOrderID,
		SignalID:      signalID,
		RiskCheckID:   check.CheckID,
		Symbol:        decision.Symbol,
		Broker:        broker,
		Side:          check.ApprovedSide,
		Type:          types.OrderTypeMarket,
		Quantity:      check.ApprovedSize,
		SL:            check.SuggestedSL,
		TP:            check.SuggestedTP,
		TIF:           types.TimeInForceGTC,
		Status:        types.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Metadata:      map[string]any{"asset_class": decision.AssetClass},
	}

	if err := m.idem.CheckAndRegister(clientOrderID, order); err != nil {
		if existing, ok := m.idem.Get(clientOrderID); ok {
			return existing, err
		}
		return types.Order{}, err
	}

	var result types.Order
	var fills []types.Fill
	err := m.retry.Do(ctx, func(attempt int) error {
		order.RetryCount = attempt
		o, f, submitErr := m.broker.SubmitOrder(ctx, order)
		if submitErr != nil {
			return submitErr
		}
		result, fills = o, f
		return nil
	})
	if err != nil {
		order.Status = types.OrderStatusRejected
		order.RejectReason = err.Error()
		m.idem.Update(clientOrderID, order)
		if m.bus != nil {
			m.bus.Publish(events.NewOrderSubmitEvent(order))
		}
		return order, err
	}

	m.idem.Update(clientOrderID, result)
	if m.bus != nil {
		m.bus.Publish(events.NewOrderSubmitEvent(result))
		for _, fill := range fills {
			m.bus.Publish(events.NewOrderFillEvent(fill))
		}
	}
	m.applyPositions(ctx)
	return result, nil
}

// Cancel cancels an in-flight order by client_order_id.
func (m *OrderManager) Cancel(ctx context.Context, clientOrderID, reason string) error {
	order, ok := m.idem.Get(clientOrderID)
	if !ok {
		return tradeerrors.ErrNotConnected
	}
	err := m.retry.Do(ctx, func(attempt int) error {
		return m.broker.CancelOrder(ctx, order.OrderID)
	})
	if err != nil {
		return err
	}
	order.Status = types.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	m.idem.Update(clientOrderID, order)
	if m.bus != nil {
		m.bus.Publish(events.NewOrderCancelEvent(order, reason))
	}
	return nil
}

// ClosePosition submits an opposing market order sized to the position's
// current quantity.
func (m *OrderManager) ClosePosition(ctx context.Context, symbol string, now time.Time) (types.Order, error) {
	m.mu.Lock()
	pos, ok := m.positions[symbol]
	m.mu.Unlock()
	if !ok || pos.Status == types.PositionStatusClosed {
		return types.Order{}, tradeerrors.ErrNotConnected
	}

	side := types.OrderSideSell
	if pos.Side == types.PositionSideShort {
		side = types.OrderSideBuy
	}
	clientOrderID := ClientOrderID("close:"+pos.PositionID, symbol, side, now)
	order := types.Order{
		OrderID: uuid.NewString(), ClientOrderID: clientOrderID, Symbol: symbol, Broker: pos.Broker,
		Side: side, Type: types.OrderTypeMarket, Quantity: pos.Quantity, TIF: types.TimeInForceGTC,
		Status: types.OrderStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := m.idem.CheckAndRegister(clientOrderID, order); err != nil {
		return order, err
	}

	var result types.Order
	err := m.retry.Do(ctx, func(attempt int) error {
		o, _, submitErr := m.broker.SubmitOrder(ctx, order)
		if submitErr != nil {
			return submitErr
		}
		result = o
		return nil
	})
	if err != nil {
		return order, err
	}
	m.idem.Update(clientOrderID, result)
	m.applyPositions(ctx)
	return result, nil
}

// SyncWithBroker refreshes the manager's local position book from the
// broker's authoritative state.
func (m *OrderManager) SyncWithBroker(ctx context.Context) error {
	return m.applyPositions(ctx)
}

func (m *OrderManager) applyPositions(ctx context.Context) error {
	positions, err := m.broker.Positions(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]types.Position, len(positions))
	for _, p := range positions {
		m.positions[p.Symbol] = p
	}
	return nil
}

// Positions returns a snapshot of the manager's locally tracked positions.
func (m *OrderManager) Positions() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// UnrealizedPnL sums mark-to-market PnL across locally tracked open
// positions at currentPrices, falling back to each position's last known
// price when a symbol is absent. Used by the Reconciler and by the
// backtest engine to feed the risk manager an up-to-date equity mark.
func (m *OrderManager) UnrealizedPnL(currentPrices map[string]decimal.Decimal) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for sym, p := range m.positions {
		price, ok := currentPrices[sym]
		if !ok {
			price = p.CurrentPrice
		}
		total = total.Add(closePnL(p, price, p.Quantity))
	}
	return total
}
