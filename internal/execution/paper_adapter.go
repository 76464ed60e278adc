package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zeroframe404/sistema-pro-trader/internal/tradeerrors"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// BrokerAdapter is the minimal contract OrderManager needs from a broker
// connection; PaperAdapter is the only concrete implementation this module
// ships (live broker adapters are out of scope).
type BrokerAdapter interface {
	SubmitOrder(ctx context.Context, order types.Order) (types.Order, []types.Fill, error)
	CancelOrder(ctx context.Context, orderID string) error
	Account(ctx context.Context) (types.Account, error)
	Positions(ctx context.Context) ([]types.Position, error)
}

// TickSource supplies the current tick a paper fill is simulated against.
type TickSource interface {
	LatestTick(broker, symbol string) (*types.Tick, error)
	ATR(broker, symbol string) decimal.Decimal
}

// PaperAdapter fills orders instantly against the latest tick using a
// FillSimulator, and maintains an in-memory account/position book.
type PaperAdapter struct {
	ticks TickSource
	fillSim *FillSimulator

	mu        sync.Mutex
	account   types.Account
	positions map[string]*types.Position
	orders    map[string]types.Order
}

func NewPaperAdapter(ticks TickSource, fillSim *FillSimulator, startingBalance decimal.Decimal, currency string) *PaperAdapter {
	return &PaperAdapter{
		ticks:     ticks,
		fillSim:   fillSim,
		account:   types.Account{AccountID: "paper", Broker: "paper", Balance: startingBalance, Currency: currency, Leverage: decimal.NewFromInt(1), UpdatedAt: time.Now()},
		positions: make(map[string]*types.Position),
		orders:    make(map[string]types.Order),
	}
}

func (p *PaperAdapter) SubmitOrder(ctx context.Context, order types.Order) (types.Order, []types.Fill, error) {
	tick, err := p.ticks.LatestTick(order.Broker, order.Symbol)
	if err != nil || tick == nil {
		return order, nil, tradeerrors.ErrAdapterUnavailable
	}
	atr := p.ticks.ATR(order.Broker, order.Symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	fills := p.fillSim.Simulate(order, *tick, atr)
	filledQty, totalCommission, notional := decimal.Zero, decimal.Zero, decimal.Zero
	for i := range fills {
		fills[i].FillID = uuid.NewString()
		filledQty = filledQty.Add(fills[i].Quantity)
		totalCommission = totalCommission.Add(fills[i].Commission)
		notional = notional.Add(fills[i].Quantity.Mul(fills[i].Price))
	}
	order.FilledQuantity = filledQty
	if filledQty.IsPositive() {
		order.AvgFillPrice = notional.Div(filledQty)
	}
	order.Commission = totalCommission
	order.Status = types.OrderStatusFilled
	if filledQty.LessThan(order.Quantity) {
		order.Status = types.OrderStatusPartiallyFilled
	}
	order.UpdatedAt = time.Now()
	order.IsPaper = true

	p.applyFill(order, fills)
	p.orders[order.OrderID] = order
	return order, fills, nil
}

func (p *PaperAdapter) applyFill(order types.Order, fills []types.Fill) {
	pos, ok := p.positions[order.Symbol]
	side := types.PositionSideLong
	if order.Side == types.OrderSideSell {
		side = types.PositionSideShort
	}
	for _, fill := range fills {
		p.account.Balance = p.account.Balance.Sub(fill.Commission)
		if !ok || pos.Status == types.PositionStatusClosed {
			pos = &types.Position{
				PositionID: uuid.NewString(), Symbol: order.Symbol, Broker: order.Broker,
				Side: side, Quantity: fill.Quantity, EntryPrice: fill.Price, CurrentPrice: fill.Price,
				Status: types.PositionStatusOpen, OpenedAt: fill.Ts, SignalID: order.SignalID,
			}
			p.positions[order.Symbol] = pos
			ok = true
			continue
		}
		sameDirection := (side == types.PositionSideLong) == (pos.Side == types.PositionSideLong)
		if sameDirection {
			totalQty := pos.Quantity.Add(fill.Quantity)
			pos.EntryPrice = pos.EntryPrice.Mul(pos.Quantity).Add(fill.Price.Mul(fill.Quantity)).Div(totalQty)
			pos.Quantity = totalQty
		} else {
			if fill.Quantity.GreaterThanOrEqual(pos.Quantity) {
				pnl := closePnL(*pos, fill.Price, pos.Quantity)
				p.account.Balance = p.account.Balance.Add(pnl)
				remainder := fill.Quantity.Sub(pos.Quantity)
				now := fill.Ts
				pos.Status = types.PositionStatusClosed
				pos.ClosedAt = &now
				pos.ClosePrice = fill.Price
				pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
				if remainder.IsPositive() {
					p.positions[order.Symbol] = &types.Position{
						PositionID: uuid.NewString(), Symbol: order.Symbol, Broker: order.Broker,
						Side: side, Quantity: remainder, EntryPrice: fill.Price, CurrentPrice: fill.Price,
						Status: types.PositionStatusOpen, OpenedAt: fill.Ts, SignalID: order.SignalID,
					}
				}
			} else {
				pnl := closePnL(*pos, fill.Price, fill.Quantity)
				p.account.Balance = p.account.Balance.Add(pnl)
				pos.Quantity = pos.Quantity.Sub(fill.Quantity)
				pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
			}
		}
		pos.CommissionTotal = pos.CommissionTotal.Add(fill.Commission)
	}
}

func closePnL(pos types.Position, exitPrice, qty decimal.Decimal) decimal.Decimal {
	move := exitPrice.Sub(pos.EntryPrice)
	if pos.Side == types.PositionSideShort {
		move = move.Neg()
	}
	return move.Mul(qty)
}

func (p *PaperAdapter) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return tradeerrors.ErrNotConnected
	}
	if !order.Status.InFlight() {
		return nil
	}
	order.Status = types.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	p.orders[orderID] = order
	return nil
}

func (p *PaperAdapter) Account(ctx context.Context) (types.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.account
	a.UpdatedAt = time.Now()
	return a, nil
}

func (p *PaperAdapter) Positions(ctx context.Context) ([]types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		if pos.Status != types.PositionStatusClosed {
			out = append(out, *pos)
		}
	}
	return out, nil
}

// UpdateStops mutates an open position's SL/TP/trailing levels in place,
// the paper-trading equivalent of a broker accepting a modify-order
// request. No-op if the symbol has no open position.
func (p *PaperAdapter) UpdateStops(symbol string, sl, tp, trailing decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok || pos.Status != types.PositionStatusOpen {
		return
	}
	if sl.IsPositive() {
		pos.SL = sl
	}
	if tp.IsPositive() {
		pos.TP = tp
	}
	if trailing.IsPositive() {
		pos.TrailingStopPx = trailing
	}
}

// Snapshot returns every tracked position, open or closed, keyed by symbol.
// Used by callers (the backtest engine) that need to observe a position's
// final realized PnL/close details after PaperAdapter.Positions has already
// stopped reporting it as open.
func (p *PaperAdapter) Snapshot() map[string]types.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]types.Position, len(p.positions))
	for sym, pos := range p.positions {
		out[sym] = *pos
	}
	return out
}
