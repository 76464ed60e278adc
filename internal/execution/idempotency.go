package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/zeroframe404/sistema-pro-trader/internal/tradeerrors"
	"github.com/zeroframe404/sistema-pro-trader/pkg/types"
)

// ClientOrderID derives a deterministic, collision-resistant client order
// id from the inputs that make a submission unique: signal, symbol, side,
// and the minute the risk check was approved in. Re-submitting the same
// signal within the same minute yields the same id, which is the dedup key
// IdempotencyManager checks against.
func ClientOrderID(signalID, symbol string, side types.OrderSide, approvedAt time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", signalID, symbol, side, approvedAt.Truncate(time.Minute).Unix())
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// IdempotencyManager dedups order submissions by client_order_id while the
// underlying order is still in flight (pending/submitted/partially_filled/
// filled per OrderStatus.InFlight).
type IdempotencyManager struct {
	mu     sync.Mutex
	orders map[string]types.Order
}

func NewIdempotencyManager() *IdempotencyManager {
	return &IdempotencyManager{orders: make(map[string]types.Order)}
}

// CheckAndRegister returns a *tradeerrors.IdempotencyDuplicate naming
// clientOrderID if an in-flight order is already registered under it; the
// error does not carry that order, which Get returns. Otherwise it registers
// order and returns nil.
func (i *IdempotencyManager) CheckAndRegister(clientOrderID string, order types.Order) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if existing, ok := i.orders[clientOrderID]; ok && existing.Status.InFlight() {
		return &tradeerrors.IdempotencyDuplicate{ClientOrderID: clientOrderID}
	}
	i.orders[clientOrderID] = order
	return nil
}

// Update refreshes the tracked order's state (e.g. after a fill or cancel).
func (i *IdempotencyManager) Update(clientOrderID string, order types.Order) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.orders[clientOrderID] = order
}

// Get returns the tracked order for clientOrderID, if any.
func (i *IdempotencyManager) Get(clientOrderID string) (types.Order, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	o, ok := i.orders[clientOrderID]
	return o, ok
}
