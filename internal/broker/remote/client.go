package remote

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/broker"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// ClientConfig configures a remote terminal client.
type ClientConfig struct {
	URL          string       `yaml:"url" json:"url" validate:"required"`
	Token        string       `yaml:"token" json:"token" validate:"required"`
	Capabilities Capabilities `yaml:"capabilities" json:"capabilities"`
	// StalenessWindow bounds how long an order may wait in the offline
	// queue before it is abandoned as stale.
	StalenessWindow time.Duration `yaml:"staleness_window" json:"staleness_window"`
	// MaxReconnectAttempts caps the exponential-backoff reconnect loop.
	MaxReconnectAttempts uint64        `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval" json:"reconnect_interval"`
}

func DefaultClientConfig(url string, token string) ClientConfig {
	return ClientConfig{
		URL:                  url,
		Token:                token,
		Capabilities:         Capabilities{Data: true, Orders: true},
		StalenessWindow:      30 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectInterval:    100 * time.Millisecond,
	}
}

type queuedOrder struct {
	order    types.Order
	queuedAt time.Time
}

// StaleCallback is invoked for each queued order abandoned past the
// staleness window, so the router can mark it rejected.
type StaleCallback func(order types.Order)

// Client is the remote-terminal Broker. Connection loss triggers a bounded
// exponential-backoff reconnect; orders submitted while disconnected are
// queued and replayed on reconnect. The server dedups by client order id,
// so replaying after an ambiguous failure never creates a duplicate live
// order.
type Client struct {
	config ClientConfig
	logger *logger.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	reconnecting bool
	closed       bool
	granted      Capabilities
	seq          uint64
	queue        []queuedOrder

	onStale StaleCallback
}

var _ broker.Broker = (*Client)(nil)

func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.StalenessWindow <= 0 {
		config.StalenessWindow = 30 * time.Second
	}

	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = 100 * time.Millisecond
	}

	return &Client{
		config:       config,
		logger:       log,
		conn:         nil,
		connected:    false,
		reconnecting: false,
		closed:       false,
		granted:      Capabilities{},
		seq:          0,
		queue:        nil,
		onStale:      nil,
	}
}

// SetStaleCallback registers the stale-order listener.
func (c *Client) SetStaleCallback(cb StaleCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onStale = cb
}

// Granted returns the capabilities the server granted this session.
func (c *Client) Granted() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.granted
}

// Connect implements broker.Broker.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	return c.dialLocked(ctx)
}

// dialLocked establishes the websocket session and runs the auth handshake.
// Caller holds c.mu.
func (c *Client) dialLocked(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConnectionLost, "failed to dial terminal server", err)
	}

	c.seq++
	auth, err := NewFrame(FrameAuth, c.seq, AuthRequest{
		Token:        c.config.Token,
		Capabilities: c.config.Capabilities,
	})
	if err != nil {
		conn.Close()

		return err
	}

	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()

		return errors.Wrap(errors.ErrCodeConnectionLost, "failed to send auth frame", err)
	}

	var reply Frame
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()

		return errors.Wrap(errors.ErrCodeConnectionLost, "failed to read auth reply", err)
	}

	var ack AuthResponse
	if err := reply.Decode(&ack); err != nil {
		conn.Close()

		return err
	}

	if !ack.OK {
		conn.Close()

		return errors.Newf(errors.ErrCodeAuthenticationFailed, "server refused session: %s", ack.Message)
	}

	if err := CheckVersion(ack.ServerVersion); err != nil {
		conn.Close()

		return err
	}

	c.conn = conn
	c.connected = true
	c.granted = ack.Capabilities

	return nil
}

// Submit implements broker.Broker. While disconnected the order is queued
// for replay; queuing is reported as success because the order's fate is
// resolved later, through fills, a stale callback, or reconnect replay.
func (c *Client) Submit(ctx context.Context, order types.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New(errors.ErrCodeBrokerNotConnected, "client is closed")
	}

	if !c.granted.Orders && c.connected {
		return errors.New(errors.ErrCodeCapabilityDisabled, "order routing is not enabled for this session")
	}

	if !c.connected {
		c.enqueueLocked(order)

		return nil
	}

	reply, err := c.requestLocked(FrameSubmitOrder, SubmitRequest{Order: order})
	if err != nil {
		// Ambiguous failure: the order may or may not have reached the
		// server. Queue it; server-side dedup makes the replay safe.
		c.enqueueLocked(order)
		c.handleConnectionLossLocked(err)

		return nil
	}

	return decodeSubmitReply(reply)
}

// Cancel implements broker.Broker. A cancel for an order still sitting in
// the offline queue just removes it from the queue.
func (c *Client) Cancel(ctx context.Context, clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, queued := range c.queue {
		if queued.order.ClientID == clientID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)

			return nil
		}
	}

	if !c.connected {
		return errors.New(errors.ErrCodeBrokerNotConnected, "not connected to terminal server")
	}

	reply, err := c.requestLocked(FrameCancelOrder, CancelRequest{ClientID: clientID})
	if err != nil {
		c.handleConnectionLossLocked(err)

		return errors.Wrap(errors.ErrCodeConnectionLost, "cancel request failed", err)
	}

	if reply.Type == FrameError {
		return decodeErrorFrame(reply)
	}

	return nil
}

// PollFills implements broker.Broker. Returns no fills while disconnected;
// the reconnect loop will catch the session up.
func (c *Client) PollFills(ctx context.Context) ([]types.Fill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, nil
	}

	reply, err := c.requestLocked(FramePollFills, struct{}{})
	if err != nil {
		c.handleConnectionLossLocked(err)

		return nil, nil
	}

	if reply.Type == FrameError {
		return nil, decodeErrorFrame(reply)
	}

	var fills FillsResponse
	if err := reply.Decode(&fills); err != nil {
		return nil, err
	}

	return fills.Fills, nil
}

// Disconnect implements broker.Broker.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.connected = false

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	return nil
}

// requestLocked sends one frame and reads its reply. Caller holds c.mu.
func (c *Client) requestLocked(frameType FrameType, payload any) (Frame, error) {
	c.seq++

	frame, err := NewFrame(frameType, c.seq, payload)
	if err != nil {
		return Frame{}, err
	}

	if err := c.conn.WriteJSON(frame); err != nil {
		return Frame{}, err
	}

	var reply Frame
	if err := c.conn.ReadJSON(&reply); err != nil {
		return Frame{}, err
	}

	return reply, nil
}

func (c *Client) enqueueLocked(order types.Order) {
	c.queue = append(c.queue, queuedOrder{order: order, queuedAt: time.Now()})
	c.logger.Info("queued order while disconnected",
		zap.String("client_id", order.ClientID),
		zap.Int("queue_depth", len(c.queue)))
}

// handleConnectionLossLocked tears down the session and starts the
// background reconnect loop. Caller holds c.mu.
func (c *Client) handleConnectionLossLocked(cause error) {
	if !c.connected {
		return
	}

	c.logger.Warn("lost connection to terminal server", zap.Error(cause))
	c.connected = false

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	if !c.reconnecting && !c.closed {
		c.reconnecting = true

		go c.reconnectLoop()
	}
}

// reconnectLoop retries the dial with exponential backoff up to the
// configured cap, then replays the offline queue.
func (c *Client) reconnectLoop() {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.ReconnectInterval
	policy.MaxInterval = 10 * c.config.ReconnectInterval

	operation := func() error {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.closed {
			return backoff.Permanent(errors.New(errors.ErrCodeBrokerNotConnected, "client closed during reconnect"))
		}

		return c.dialLocked(context.Background())
	}

	err := backoff.Retry(operation, backoff.WithMaxRetries(policy, c.config.MaxReconnectAttempts))

	c.mu.Lock()
	c.reconnecting = false

	if err != nil {
		// The venue stayed unreachable; anything past the staleness window
		// must still be surfaced rather than languish in the queue.
		c.logger.Error("reconnect attempts exhausted", zap.Error(err))
		c.sweepStaleLocked()
		c.mu.Unlock()

		return
	}

	c.logger.Info("reconnected to terminal server")
	c.replayQueueLocked()
	c.mu.Unlock()
}

// sweepStaleLocked drops queued orders past the staleness window and
// reports them through the stale callback. Caller holds c.mu.
func (c *Client) sweepStaleLocked() {
	fresh := make([]queuedOrder, 0, len(c.queue))

	for _, queued := range c.queue {
		if time.Since(queued.queuedAt) > c.config.StalenessWindow {
			c.logger.Warn("abandoning stale queued order",
				zap.String("client_id", queued.order.ClientID),
				zap.Duration("queued_for", time.Since(queued.queuedAt)))

			if c.onStale != nil {
				c.onStale(queued.order)
			}

			continue
		}

		fresh = append(fresh, queued)
	}

	c.queue = fresh
}

// replayQueueLocked resubmits queued orders that are still fresh and
// abandons the rest as stale. Caller holds c.mu.
func (c *Client) replayQueueLocked() {
	c.sweepStaleLocked()

	pending := c.queue
	c.queue = nil

	for _, queued := range pending {
		reply, err := c.requestLocked(FrameSubmitOrder, SubmitRequest{Order: queued.order})
		if err != nil {
			// Connection dropped again mid-replay: requeue what's left.
			c.queue = append(c.queue, queued)
			c.handleConnectionLossLocked(err)

			return
		}

		if err := decodeSubmitReply(reply); err != nil {
			c.logger.Warn("replayed order rejected",
				zap.String("client_id", queued.order.ClientID),
				zap.Error(err))
		}
	}
}

func decodeSubmitReply(reply Frame) error {
	if reply.Type == FrameError {
		return decodeErrorFrame(reply)
	}

	var ack SubmitResponse
	if err := reply.Decode(&ack); err != nil {
		return err
	}

	if !ack.Accepted {
		return errors.Newf(errors.ErrCodeOrderRejected, "order %s rejected: %s", ack.ClientID, ack.RejectReason)
	}

	return nil
}

func decodeErrorFrame(reply Frame) error {
	var payload ErrorPayload
	if err := reply.Decode(&payload); err != nil {
		return err
	}

	return errors.New(errors.ErrorCode(payload.Code), payload.Message)
}
