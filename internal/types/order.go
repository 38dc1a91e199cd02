package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

type PurchaseType string

type OrderType string

type OrderState string

const (
	PurchaseTypeBuy  PurchaseType = "BUY"
	PurchaseTypeSell PurchaseType = "SELL"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

const (
	OrderStateCreated         OrderState = "CREATED"
	OrderStateSubmitted       OrderState = "SUBMITTED"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStateRejected        OrderState = "REJECTED"
	OrderStateCancelled       OrderState = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed out of s.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStateRejected, OrderStateCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the order state machine permits s -> next.
func (s OrderState) CanTransitionTo(next OrderState) bool {
	if s.IsTerminal() {
		return false
	}

	switch s {
	case OrderStateCreated:
		return next == OrderStateSubmitted || next == OrderStateRejected
	case OrderStateSubmitted:
		return next == OrderStatePartiallyFilled || next == OrderStateFilled ||
			next == OrderStateRejected || next == OrderStateCancelled
	case OrderStatePartiallyFilled:
		return next == OrderStatePartiallyFilled || next == OrderStateFilled ||
			next == OrderStateCancelled
	default:
		return false
	}
}

// RejectReason is the venue-level sub-reason attached to a rejected order.
type RejectReason string

const (
	RejectReasonInsufficientFunds     RejectReason = "insufficient_funds"
	RejectReasonInvalidSymbol         RejectReason = "invalid_symbol"
	RejectReasonVenueDown             RejectReason = "venue_down"
	RejectReasonStale                 RejectReason = "stale"
	RejectReasonInsufficientLiquidity RejectReason = "insufficient_liquidity"
)

const (
	OrderReasonStrategy string = "strategy"
	OrderReasonTimeout  string = "timeout"
)

// Reason records why an order was created or why it reached its final state.
type Reason struct {
	Reason  string `yaml:"reason" json:"reason"`
	Message string `yaml:"message" json:"message"`
}

// OrderIntent is what strategy code submits. The runtime assigns ids and
// turns it into an Order; strategies never construct Orders directly.
type OrderIntent struct {
	Symbol     string                  `yaml:"symbol" json:"symbol" validate:"required"`
	Side       PurchaseType            `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Quantity   float64                 `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	OrderType  OrderType               `yaml:"order_type" json:"order_type" validate:"required,oneof=MARKET LIMIT"`
	LimitPrice optional.Option[float64] `yaml:"limit_price" json:"limit_price"`
	Reason     Reason                  `yaml:"reason" json:"reason"`
}

// Validate validates the OrderIntent struct.
func (i *OrderIntent) Validate() error {
	validate := validator.New()
	if err := validate.Struct(i); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order intent", err)
	}

	if i.OrderType == OrderTypeLimit {
		if i.LimitPrice.IsNone() {
			return errors.New(errors.ErrCodeInvalidOrder, "limit order requires a limit price")
		}

		if i.LimitPrice.Unwrap() <= 0 {
			return errors.Newf(errors.ErrCodeInvalidOrder, "limit price must be positive: %f", i.LimitPrice.Unwrap())
		}
	}

	return nil
}

// Order is a tracked order with its full lifecycle state. ID is unique and
// monotonic within a run; ClientID is the venue-facing idempotency key.
type Order struct {
	ID             int64                   `yaml:"id" json:"id"`
	ClientID       string                  `yaml:"client_id" json:"client_id"`
	Symbol         string                  `yaml:"symbol" json:"symbol" validate:"required"`
	Side           PurchaseType            `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Quantity       float64                 `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	OrderType      OrderType               `yaml:"order_type" json:"order_type" validate:"required,oneof=MARKET LIMIT"`
	LimitPrice     optional.Option[float64] `yaml:"limit_price" json:"limit_price"`
	CreatedAt      time.Time               `yaml:"created_at" json:"created_at"`
	State          OrderState              `yaml:"state" json:"state"`
	FilledQuantity float64                 `yaml:"filled_quantity" json:"filled_quantity"`
	AvgFillPrice   float64                 `yaml:"avg_fill_price" json:"avg_fill_price"`
	Reason         Reason                  `yaml:"reason" json:"reason"`
	RejectReason   RejectReason            `yaml:"reject_reason" json:"reject_reason"`
}

// Remaining returns the unfilled quantity of the order.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	return nil
}

// Fill is an execution report. ID is the venue's fill id and is the
// idempotency key: applying the same fill twice mutates state exactly once.
type Fill struct {
	ID       string    `yaml:"id" json:"id" validate:"required"`
	OrderID  int64     `yaml:"order_id" json:"order_id"`
	Quantity float64   `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	Price    float64   `yaml:"price" json:"price" validate:"required,gt=0"`
	Fee      float64   `yaml:"fee" json:"fee" validate:"gte=0"`
	Time     time.Time `yaml:"time" json:"time" validate:"required"`
}

// Validate validates the Fill struct.
func (f *Fill) Validate() error {
	validate := validator.New()
	if err := validate.Struct(f); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid fill", err)
	}

	return nil
}
