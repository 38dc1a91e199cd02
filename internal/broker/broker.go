// Package broker abstracts execution venues behind one contract: a local
// in-process terminal, a remote terminal server reached over the network,
// and a simulated paper venue used when no real venue is configured.
package broker

import (
	"context"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// BrokerType selects the venue variant.
type BrokerType string

const (
	BrokerSimulated BrokerType = "simulated"
	BrokerLocal     BrokerType = "local"
	BrokerRemote    BrokerType = "remote"
)

// Broker is the execution venue contract. The live engine owns exactly one
// Broker per run; the connection object inside is never shared.
//
// Submit is asynchronous: a nil return means the venue accepted the order,
// not that it filled. Rejections surface either as an OrderRejected error
// from Submit or later through the router when the venue reports them.
type Broker interface {
	Connect(ctx context.Context) error
	Submit(ctx context.Context, order types.Order) error
	Cancel(ctx context.Context, clientID string) error
	// PollFills drains execution reports accumulated since the last poll.
	// Fill ids are stable across polls and reconnects; the router dedups.
	PollFills(ctx context.Context) ([]types.Fill, error)
	Disconnect() error
}

// Terminal is the venue side of the contract: something that accepts
// orders and produces fills. The local broker calls a Terminal in-process;
// the remote terminal server exposes one over the wire.
type Terminal interface {
	// SubmitOrder is idempotent by client id: resubmitting an order with a
	// client id the terminal has already seen is a no-op, not a duplicate.
	SubmitOrder(order types.Order) (accepted bool, reason types.RejectReason, err error)
	CancelOrder(clientID string) error
	// CollectFills drains fills produced since the last call.
	CollectFills() []types.Fill
}

// NewBroker builds the configured venue variant.
func NewBroker(brokerType BrokerType, terminal Terminal) (Broker, error) {
	switch brokerType {
	case BrokerSimulated, BrokerLocal:
		if terminal == nil {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "local broker requires a terminal")
		}

		return NewLocalBroker(terminal), nil
	case BrokerRemote:
		return nil, errors.New(errors.ErrCodeInvalidConfig, "remote broker is constructed with remote.NewClient")
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unsupported broker type: %s", brokerType)
	}
}
