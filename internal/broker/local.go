package broker

import (
	"context"
	"sync"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// LocalBroker calls a co-located terminal in-process. No network, no
// retries: errors from the terminal surface directly.
type LocalBroker struct {
	mu        sync.Mutex
	terminal  Terminal
	connected bool
}

var _ Broker = (*LocalBroker)(nil)

func NewLocalBroker(terminal Terminal) *LocalBroker {
	return &LocalBroker{terminal: terminal, connected: false}
}

// Connect implements Broker.
func (b *LocalBroker) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = true

	return nil
}

// Submit implements Broker.
func (b *LocalBroker) Submit(_ context.Context, order types.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return errors.New(errors.ErrCodeBrokerNotConnected, "local broker is not connected")
	}

	accepted, reason, err := b.terminal.SubmitOrder(order)
	if err != nil {
		return err
	}

	if !accepted {
		return errors.Newf(errors.ErrCodeOrderRejected, "order %s rejected: %s", order.ClientID, reason)
	}

	return nil
}

// Cancel implements Broker.
func (b *LocalBroker) Cancel(_ context.Context, clientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return errors.New(errors.ErrCodeBrokerNotConnected, "local broker is not connected")
	}

	return b.terminal.CancelOrder(clientID)
}

// PollFills implements Broker.
func (b *LocalBroker) PollFills(_ context.Context) ([]types.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil, errors.New(errors.ErrCodeBrokerNotConnected, "local broker is not connected")
	}

	return b.terminal.CollectFills(), nil
}

// Disconnect implements Broker.
func (b *LocalBroker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = false

	return nil
}
