package exec

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// UpdateCallback receives every order transition the router applies. The
// strategy runtime registers here to drive on_order_update.
type UpdateCallback func(order types.Order)

// reservation tracks what the portfolio has committed to one open order so
// fills and terminal transitions release exactly what was reserved.
type reservation struct {
	cashPerShare float64
	cashHeld     decimal.Decimal
	sharesHeld   float64
}

// Router owns the order state machine. All order state transitions, in both
// backtest and live mode, go through here: the simulator and the broker
// adapters only produce fills and rejects, they never touch order state.
type Router struct {
	portfolio *types.Portfolio
	logger    *logger.Logger

	orders       map[int64]*types.Order
	reservations map[int64]*reservation
	appliedFills map[string]bool
	nextID       int64

	clientID func(id int64) string
	onUpdate UpdateCallback
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithClientIDFn replaces the venue-facing client id generator. Backtests
// install a deterministic generator so re-runs produce identical ledgers.
func WithClientIDFn(fn func(id int64) string) RouterOption {
	return func(r *Router) {
		r.clientID = fn
	}
}

func NewRouter(portfolio *types.Portfolio, log *logger.Logger, opts ...RouterOption) *Router {
	r := &Router{
		portfolio:    portfolio,
		logger:       log,
		orders:       make(map[int64]*types.Order),
		reservations: make(map[int64]*reservation),
		appliedFills: make(map[string]bool),
		nextID:       0,
		clientID:     func(_ int64) string { return uuid.New().String() },
		onUpdate:     nil,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// SetUpdateCallback registers the transition listener. Only one listener is
// supported; the runtime fans out to the strategy.
func (r *Router) SetUpdateCallback(cb UpdateCallback) {
	r.onUpdate = cb
}

// Create validates an intent and registers a new order in Created state.
func (r *Router) Create(intent types.OrderIntent, at time.Time) (types.Order, error) {
	if err := intent.Validate(); err != nil {
		return types.Order{}, err
	}

	r.nextID++
	order := &types.Order{
		ID:             r.nextID,
		ClientID:       r.clientID(r.nextID),
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Quantity:       intent.Quantity,
		OrderType:      intent.OrderType,
		LimitPrice:     intent.LimitPrice,
		CreatedAt:      at,
		State:          types.OrderStateCreated,
		FilledQuantity: 0,
		AvgFillPrice:   0,
		Reason:         intent.Reason,
		RejectReason:   "",
	}
	r.orders[order.ID] = order

	return *order, nil
}

// Submit moves an order to Submitted, reserving cash for buys and shares
// for sells against the given reference price. A failed reservation rejects
// the order with insufficient funds instead of returning an error: the
// strategy learns about it through the update callback, same as a venue
// reject.
func (r *Router) Submit(orderID int64, refPrice float64) (types.Order, error) {
	order, err := r.get(orderID)
	if err != nil {
		return types.Order{}, err
	}

	if !order.State.CanTransitionTo(types.OrderStateSubmitted) {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidOrderTransition,
			"order %d cannot be submitted from state %s", orderID, order.State)
	}

	// Limit orders reserve at their limit price; market orders at the
	// reference price.
	reservePrice := refPrice
	if order.OrderType == types.OrderTypeLimit {
		reservePrice = order.LimitPrice.Unwrap()
	}

	res := &reservation{cashPerShare: 0, cashHeld: decimal.Zero, sharesHeld: 0}

	if order.Side == types.PurchaseTypeBuy {
		amount := decimal.NewFromFloat(order.Quantity).Mul(decimal.NewFromFloat(reservePrice))
		amountF, _ := amount.Float64()

		if err := r.portfolio.ReserveCash(amountF); err != nil {
			return r.reject(order, types.RejectReasonInsufficientFunds, err.Error()), nil
		}

		res.cashPerShare = reservePrice
		res.cashHeld = amount
	} else {
		if err := r.portfolio.ReserveShares(order.Symbol, order.Quantity); err != nil {
			return r.reject(order, types.RejectReasonInsufficientFunds, err.Error()), nil
		}

		res.sharesHeld = order.Quantity
	}

	r.reservations[orderID] = res
	r.transition(order, types.OrderStateSubmitted)

	return *order, nil
}

// Reject marks a submitted order as refused by the venue and releases its
// reservation.
func (r *Router) Reject(orderID int64, reason types.RejectReason, message string) (types.Order, error) {
	order, err := r.get(orderID)
	if err != nil {
		return types.Order{}, err
	}

	if !order.State.CanTransitionTo(types.OrderStateRejected) {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidOrderTransition,
			"order %d cannot be rejected from state %s", orderID, order.State)
	}

	return r.reject(order, reason, message), nil
}

// ApplyFill applies one execution report. Duplicate fill ids are dropped:
// replaying the same fill changes position and cash exactly once. Fills for
// terminal orders are dropped too, which is how a fill racing a cancel
// resolves when the cancel won.
func (r *Router) ApplyFill(fill types.Fill) (types.Order, error) {
	if err := fill.Validate(); err != nil {
		return types.Order{}, err
	}

	order, err := r.get(fill.OrderID)
	if err != nil {
		return types.Order{}, err
	}

	if r.appliedFills[fill.ID] {
		r.logger.Debug("dropping duplicate fill", zap.String("fill_id", fill.ID), zap.Int64("order_id", fill.OrderID))

		return *order, nil
	}

	if order.State.IsTerminal() {
		r.logger.Warn("dropping fill for terminal order",
			zap.String("fill_id", fill.ID),
			zap.Int64("order_id", fill.OrderID),
			zap.String("state", string(order.State)))

		return *order, nil
	}

	if order.State != types.OrderStateSubmitted && order.State != types.OrderStatePartiallyFilled {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidOrderTransition,
			"order %d cannot fill from state %s", fill.OrderID, order.State)
	}

	if fill.Quantity > order.Remaining() {
		return types.Order{}, errors.Newf(errors.ErrCodeDuplicateFill,
			"fill %s quantity %f exceeds remaining %f on order %d", fill.ID, fill.Quantity, order.Remaining(), order.ID)
	}

	r.appliedFills[fill.ID] = true

	r.releaseForFill(order, fill.Quantity)
	r.portfolio.ApplyFill(order.Side, fill, order.Symbol)

	// Volume-weighted average fill price across partial fills.
	prevNotional := decimal.NewFromFloat(order.AvgFillPrice).Mul(decimal.NewFromFloat(order.FilledQuantity))
	fillNotional := decimal.NewFromFloat(fill.Price).Mul(decimal.NewFromFloat(fill.Quantity))
	newFilled := decimal.NewFromFloat(order.FilledQuantity).Add(decimal.NewFromFloat(fill.Quantity))
	avg := prevNotional.Add(fillNotional).Div(newFilled)

	order.AvgFillPrice, _ = avg.Float64()
	order.FilledQuantity, _ = newFilled.Float64()

	if order.Remaining() <= 0 {
		r.releaseRemainder(order)
		r.transition(order, types.OrderStateFilled)
	} else {
		r.transition(order, types.OrderStatePartiallyFilled)
	}

	return *order, nil
}

// Cancel cancels the unfilled remainder of an open order. Terminal orders
// cannot be cancelled; a fully-filled order stays filled.
func (r *Router) Cancel(orderID int64) (types.Order, error) {
	order, err := r.get(orderID)
	if err != nil {
		return types.Order{}, err
	}

	if !order.State.CanTransitionTo(types.OrderStateCancelled) {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidOrderTransition,
			"order %d cannot be cancelled from state %s", orderID, order.State)
	}

	r.releaseRemainder(order)
	r.transition(order, types.OrderStateCancelled)

	return *order, nil
}

// Order returns a copy of the order with the given id.
func (r *Router) Order(orderID int64) (types.Order, error) {
	order, err := r.get(orderID)
	if err != nil {
		return types.Order{}, err
	}

	return *order, nil
}

// OpenOrders returns copies of all non-terminal orders ordered by id.
func (r *Router) OpenOrders() []types.Order {
	var out []types.Order

	for _, order := range r.orders {
		if !order.State.IsTerminal() {
			out = append(out, *order)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Orders returns copies of every order created during the run, ordered by id.
func (r *Router) Orders() []types.Order {
	out := make([]types.Order, 0, len(r.orders))

	for _, order := range r.orders {
		out = append(out, *order)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (r *Router) get(orderID int64) (*types.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeOrderNotFound, "unknown order id %d", orderID)
	}

	return order, nil
}

func (r *Router) reject(order *types.Order, reason types.RejectReason, message string) types.Order {
	r.releaseRemainder(order)

	order.RejectReason = reason
	order.Reason.Message = message
	r.transition(order, types.OrderStateRejected)

	return *order
}

// releaseForFill releases the reserved slice covering the filled quantity.
func (r *Router) releaseForFill(order *types.Order, quantity float64) {
	res, ok := r.reservations[order.ID]
	if !ok {
		return
	}

	if order.Side == types.PurchaseTypeBuy {
		amount := decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(res.cashPerShare))
		if amount.GreaterThan(res.cashHeld) {
			amount = res.cashHeld
		}

		amountF, _ := amount.Float64()
		r.portfolio.ReleaseCash(amountF)
		res.cashHeld = res.cashHeld.Sub(amount)
	} else {
		if quantity > res.sharesHeld {
			quantity = res.sharesHeld
		}

		r.portfolio.ReleaseShares(order.Symbol, quantity)
		res.sharesHeld -= quantity
	}
}

// releaseRemainder releases whatever reservation is still held, used on
// terminal transitions.
func (r *Router) releaseRemainder(order *types.Order) {
	res, ok := r.reservations[order.ID]
	if !ok {
		return
	}

	if res.cashHeld.IsPositive() {
		amountF, _ := res.cashHeld.Float64()
		r.portfolio.ReleaseCash(amountF)
	}

	if res.sharesHeld > 0 {
		r.portfolio.ReleaseShares(order.Symbol, res.sharesHeld)
	}

	delete(r.reservations, order.ID)
}

func (r *Router) transition(order *types.Order, next types.OrderState) {
	order.State = next

	if r.onUpdate != nil {
		r.onUpdate(*order)
	}
}
