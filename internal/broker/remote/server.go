package remote

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/broker"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// ServerConfig configures a terminal server.
type ServerConfig struct {
	// Token is the shared secret clients must present.
	Token string `yaml:"token" json:"token" validate:"required"`
	// Capabilities are the features this server grants. A session never
	// gets more than what it asks for and what the server allows.
	Capabilities Capabilities `yaml:"capabilities" json:"capabilities"`
}

// TerminalServer exposes a broker.Terminal over the wire protocol. One
// goroutine per connection; the terminal itself handles its own locking.
type TerminalServer struct {
	config   ServerConfig
	terminal broker.Terminal
	logger   *logger.Logger

	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func NewTerminalServer(config ServerConfig, terminal broker.Terminal, log *logger.Logger) *TerminalServer {
	return &TerminalServer{
		config:   config,
		terminal: terminal,
		logger:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]bool),
	}
}

// Start begins listening on the given address. Pass port 0 to let the OS
// choose; URL reports the resulting endpoint.
func (s *TerminalServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConnectionLost, "failed to listen", err)
	}

	s.listener = listener

	router := mux.NewRouter()
	router.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("terminal server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("terminal server listening", zap.String("addr", s.URL()))

	return nil
}

// URL returns the websocket endpoint for connected clients.
func (s *TerminalServer) URL() string {
	if s.listener == nil {
		return ""
	}

	return "ws://" + s.listener.Addr().String() + "/ws"
}

// DropConnections force-closes every active session without stopping the
// listener. Exists so tests can exercise client reconnect behavior.
func (s *TerminalServer) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		conn.Close()
	}

	s.conns = make(map[*websocket.Conn]bool)
}

// Stop shuts the server down.
func (s *TerminalServer) Stop(ctx context.Context) error {
	s.DropConnections()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *TerminalServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))

		return
	}

	granted, ok := s.authenticate(conn)
	if !ok {
		conn.Close()

		return
	}

	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	s.serve(conn, granted)
}

// authenticate runs the handshake: first frame must be auth with the shared
// token and a compatible protocol version.
func (s *TerminalServer) authenticate(conn *websocket.Conn) (Capabilities, bool) {
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return Capabilities{}, false
	}

	deny := func(message string) {
		ack, _ := NewFrame(FrameAuthAck, frame.Seq, AuthResponse{
			OK:            false,
			Message:       message,
			Capabilities:  Capabilities{},
			ServerVersion: ProtocolVersion,
		})
		_ = conn.WriteJSON(ack)
	}

	if frame.Type != FrameAuth {
		deny("expected auth frame")

		return Capabilities{}, false
	}

	if err := CheckVersion(frame.Version); err != nil {
		deny(err.Error())

		return Capabilities{}, false
	}

	var req AuthRequest
	if err := frame.Decode(&req); err != nil {
		deny("malformed auth payload")

		return Capabilities{}, false
	}

	if req.Token != s.config.Token {
		s.logger.Warn("rejected session with bad token")
		deny("authentication failed")

		return Capabilities{}, false
	}

	granted := Capabilities{
		Data:   req.Capabilities.Data && s.config.Capabilities.Data,
		Orders: req.Capabilities.Orders && s.config.Capabilities.Orders,
	}

	ack, err := NewFrame(FrameAuthAck, frame.Seq, AuthResponse{
		OK:            true,
		Message:       "",
		Capabilities:  granted,
		ServerVersion: ProtocolVersion,
	})
	if err != nil || conn.WriteJSON(ack) != nil {
		return Capabilities{}, false
	}

	return granted, true
}

func (s *TerminalServer) serve(conn *websocket.Conn, granted Capabilities) {
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		var reply Frame

		switch frame.Type {
		case FrameSubmitOrder:
			reply = s.handleSubmit(frame, granted)
		case FrameCancelOrder:
			reply = s.handleCancel(frame, granted)
		case FramePollFills:
			reply = s.handlePollFills(frame, granted)
		default:
			reply, _ = NewFrame(FrameError, frame.Seq, ErrorPayload{
				Code:    int(errors.ErrCodeInvalidParameter),
				Message: "unsupported frame type " + string(frame.Type),
			})
		}

		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func (s *TerminalServer) handleSubmit(frame Frame, granted Capabilities) Frame {
	if !granted.Orders {
		reply, _ := NewFrame(FrameError, frame.Seq, ErrorPayload{
			Code:    int(errors.ErrCodeCapabilityDisabled),
			Message: "order routing is not enabled for this session",
		})

		return reply
	}

	var req SubmitRequest
	if err := frame.Decode(&req); err != nil {
		reply, _ := NewFrame(FrameError, frame.Seq, ErrorPayload{
			Code:    int(errors.ErrCodeInvalidParameter),
			Message: err.Error(),
		})

		return reply
	}

	accepted, reason, err := s.terminal.SubmitOrder(req.Order)
	if err != nil {
		reply, _ := NewFrame(FrameError, frame.Seq, ErrorPayload{
			Code:    int(errors.GetCode(err)),
			Message: err.Error(),
		})

		return reply
	}

	reply, _ := NewFrame(FrameSubmitAck, frame.Seq, SubmitResponse{
		ClientID:     req.Order.ClientID,
		Accepted:     accepted,
		RejectReason: reason,
		Message:      "",
	})

	return reply
}

func (s *TerminalServer) handleCancel(frame Frame, granted Capabilities) Frame {
	if !granted.Orders {
		reply, _ := NewFrame(FrameError, frame.Seq, ErrorPayload{
			Code:    int(errors.ErrCodeCapabilityDisabled),
			Message: "order routing is not enabled for this session",
		})

		return reply
	}

	var req CancelRequest
	if err := frame.Decode(&req); err != nil {
		reply, _ := NewFrame(FrameError, frame.Seq, ErrorPayload{
			Code:    int(errors.ErrCodeInvalidParameter),
			Message: err.Error(),
		})

		return reply
	}

	ok := s.terminal.CancelOrder(req.ClientID) == nil
	reply, _ := NewFrame(FrameCancelAck, frame.Seq, CancelResponse{ClientID: req.ClientID, OK: ok})

	return reply
}

func (s *TerminalServer) handlePollFills(frame Frame, granted Capabilities) Frame {
	if !granted.Data && !granted.Orders {
		reply, _ := NewFrame(FrameError, frame.Seq, ErrorPayload{
			Code:    int(errors.ErrCodeCapabilityDisabled),
			Message: "session has no capabilities",
		})

		return reply
	}

	reply, _ := NewFrame(FrameFills, frame.Seq, FillsResponse{Fills: s.terminal.CollectFills()})

	return reply
}
