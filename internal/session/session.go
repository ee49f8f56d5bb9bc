// Package session serves one subscriber connection from handshake to close.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/looplab/fsm"

	"github.com/r0bb10/phone-bridge/internal/event"
	"github.com/r0bb10/phone-bridge/internal/hub"
	"github.com/r0bb10/phone-bridge/internal/logging"
	"github.com/r0bb10/phone-bridge/internal/transport"
)

// Connection states.
const (
	StateConnecting = "connecting"
	StateActive     = "active"
	StateClosed     = "closed"
)

const (
	evActivate = "activate"
	evClose    = "close"
)

// Conn is a bidirectional frame connection.
type Conn interface {
	hub.Sink
	ReadFrame() ([]byte, error)
	RemoteAddr() string
}

// Handler accepts connections, registers them with the hub and feeds their
// inbound frames to the dispatcher.
type Handler struct {
	hub          *hub.Hub
	disp         *Dispatcher
	snapshot     func() []event.Event
	writeTimeout time.Duration
	log          *logging.Logger
}

// NewHandler builds a handler. snapshot returns the state events every new
// subscriber receives before anything else.
func NewHandler(h *hub.Hub, disp *Dispatcher, snapshot func() []event.Event, writeTimeout time.Duration, log *logging.Logger) *Handler {
	return &Handler{hub: h, disp: disp, snapshot: snapshot, writeTimeout: writeTimeout, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r, h.writeTimeout)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.Serve(r.Context(), conn)
}

// Serve runs the connection until the peer disconnects, a read fails or the
// hub drops the client.
func (h *Handler) Serve(ctx context.Context, conn Conn) {
	s := h.newSession(conn)
	if err := s.machine.Event(ctx, evActivate); err != nil {
		s.log.Errorw("activate session", "error", err)
		_ = conn.Close()
		return
	}
	defer func() {
		if err := s.machine.Event(context.Background(), evClose); err != nil {
			s.log.Debugw("close session", "error", err)
		}
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if transport.IsNormalClose(err) {
				s.log.Debugw("peer closed connection")
			} else {
				s.log.Infow("connection read ended", "error", err)
			}
			return
		}
		s.handle(frame)
	}
}

type session struct {
	h       *Handler
	conn    Conn
	client  *hub.Client
	machine *fsm.FSM
	log     *logging.Logger
}

func (h *Handler) newSession(conn Conn) *session {
	s := &session{h: h, conn: conn, log: h.log.With("remote", conn.RemoteAddr())}
	s.machine = fsm.NewFSM(
		StateConnecting,
		fsm.Events{
			{Name: evActivate, Src: []string{StateConnecting}, Dst: StateActive},
			{Name: evClose, Src: []string{StateConnecting, StateActive}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_" + StateActive: func(_ context.Context, _ *fsm.Event) {
				s.client = h.hub.Join(conn, h.snapshot)
				s.log = s.log.With("client", s.client.ID)
			},
			"enter_" + StateClosed: func(_ context.Context, _ *fsm.Event) {
				if s.client != nil {
					h.hub.Leave(s.client)
				} else {
					_ = conn.Close()
				}
			},
		},
	)
	return s
}

func (s *session) handle(frame []byte) {
	cmd, err := event.DecodeCommand(frame)
	if err != nil {
		s.log.Warnw("malformed frame skipped", "error", err)
		return
	}
	s.h.disp.Handle(cmd, func(ev event.Event) {
		s.h.hub.Unicast(s.client, ev)
	})
}
