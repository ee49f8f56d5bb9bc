// Package transport adapts gorilla/websocket connections to the hub.
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readLimit   = 64 * 1024
	pongTimeout = 60 * time.Second
)

// Upgrader accepts WebSocket connections from any origin. The bridge has no
// authentication and is meant for the local network.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Conn is one WebSocket connection. WriteFrame, Ping and Close may be called
// from the hub writer while ReadFrame runs in the connection goroutine.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
}

// Upgrade switches the request to the WebSocket protocol.
func Upgrade(w http.ResponseWriter, r *http.Request, writeTimeout time.Duration) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade connection: %w", err)
	}
	return Wrap(ws, writeTimeout), nil
}

// Wrap adopts an established connection.
func Wrap(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	return &Conn{ws: ws, writeTimeout: writeTimeout}
}

// RemoteAddr identifies the peer in logs.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// ReadFrame blocks for the next text or binary message. Any inbound message
// extends the read deadline.
func (c *Conn) ReadFrame() ([]byte, error) {
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	return msg, nil
}

// WriteFrame sends one text message.
func (c *Conn) WriteFrame(frame []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Ping sends a keepalive ping.
func (c *Conn) Ping() error {
	if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}
	return nil
}

// Close sends a close frame when possible and releases the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// IsNormalClose reports whether err is an orderly disconnect rather than a failure.
func IsNormalClose(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, websocket.ErrCloseSent)
}
