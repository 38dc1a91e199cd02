package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

const simFeeRate = 0.0003

// SimTerminal is the paper venue. It fills market orders at the current
// mark price immediately and rests limit orders until a price update makes
// them marketable. Commission is proportional to notional.
type SimTerminal struct {
	mu sync.Mutex

	prices  map[string]float64
	resting map[string]types.Order
	seen    map[string]bool
	pending []types.Fill
	fillSeq map[string]int

	// submissions counts actual order placements per client id so tests
	// can assert exactly-once delivery across reconnects.
	submissions map[string]int

	// now is replaceable in tests.
	now func() time.Time
}

var _ Terminal = (*SimTerminal)(nil)

func NewSimTerminal() *SimTerminal {
	return &SimTerminal{
		prices:      make(map[string]float64),
		resting:     make(map[string]types.Order),
		seen:        make(map[string]bool),
		pending:     nil,
		fillSeq:     make(map[string]int),
		submissions: make(map[string]int),
		now:         time.Now,
	}
}

// SetPrice updates the mark price for a symbol and fills any resting limit
// orders the new price makes marketable.
func (t *SimTerminal) SetPrice(symbol string, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prices[symbol] = price

	for clientID, order := range t.resting {
		if order.Symbol != symbol {
			continue
		}

		if t.marketable(order, price) {
			t.fillLocked(order, order.LimitPrice.Unwrap())
			delete(t.resting, clientID)
		}
	}
}

// SubmitOrder implements Terminal.
func (t *SimTerminal) SubmitOrder(order types.Order) (bool, types.RejectReason, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen[order.ClientID] {
		return true, "", nil
	}

	price, ok := t.prices[order.Symbol]
	if !ok {
		return false, types.RejectReasonInvalidSymbol, nil
	}

	t.seen[order.ClientID] = true
	t.submissions[order.ClientID]++

	switch order.OrderType {
	case types.OrderTypeMarket:
		t.fillLocked(order, price)
	case types.OrderTypeLimit:
		if t.marketable(order, price) {
			t.fillLocked(order, order.LimitPrice.Unwrap())
		} else {
			t.resting[order.ClientID] = order
		}
	default:
		return false, "", errors.Newf(errors.ErrCodeInvalidOrder, "unsupported order type %s", order.OrderType)
	}

	return true, "", nil
}

// CancelOrder implements Terminal. Cancelling an order that already filled
// or was never seen is a no-op; the client finds out through fill reports.
func (t *SimTerminal) CancelOrder(clientID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.resting, clientID)

	return nil
}

// CollectFills implements Terminal.
func (t *SimTerminal) CollectFills() []types.Fill {
	t.mu.Lock()
	defer t.mu.Unlock()

	fills := t.pending
	t.pending = nil

	return fills
}

// SubmissionCount returns how many times an order with the given client id
// was actually placed. Used by reconnect tests.
func (t *SimTerminal) SubmissionCount(clientID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.submissions[clientID]
}

func (t *SimTerminal) marketable(order types.Order, price float64) bool {
	limit := order.LimitPrice.Unwrap()

	if order.Side == types.PurchaseTypeBuy {
		return price <= limit
	}

	return price >= limit
}

func (t *SimTerminal) fillLocked(order types.Order, price float64) {
	t.fillSeq[order.ClientID]++

	notional := decimal.NewFromFloat(order.Quantity).Mul(decimal.NewFromFloat(price))
	fee, _ := notional.Mul(decimal.NewFromFloat(simFeeRate)).Float64()

	t.pending = append(t.pending, types.Fill{
		ID:       fmt.Sprintf("%s-%d", order.ClientID, t.fillSeq[order.ClientID]),
		OrderID:  order.ID,
		Quantity: order.Quantity,
		Price:    price,
		Fee:      fee,
		Time:     t.now(),
	})
}
