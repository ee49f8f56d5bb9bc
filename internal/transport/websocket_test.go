package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, handle func(*Conn)) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r, time.Second)
		if err != nil {
			return
		}
		handle(c)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestConn_Echo(t *testing.T) {
	ws := serve(t, func(c *Conn) {
		defer c.Close()
		for {
			msg, err := c.ReadFrame()
			if err != nil {
				return
			}
			if err := c.WriteFrame(msg); err != nil {
				return
			}
		}
	})

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"led_status"}`)))
	typ, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	assert.JSONEq(t, `{"event":"led_status"}`, string(msg))
}

func TestConn_PingAndClose(t *testing.T) {
	pinged := make(chan struct{}, 1)
	ws := serve(t, func(c *Conn) {
		assert.NoError(t, c.Ping())
		// Give the client a chance to read the ping before the close frame.
		time.Sleep(20 * time.Millisecond)
		assert.NoError(t, c.Close())
		assert.NoError(t, c.Close())
	})
	ws.SetPingHandler(func(string) error {
		pinged <- struct{}{}
		return nil
	})

	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, IsNormalClose(err), "got %v", err)
	select {
	case <-pinged:
	default:
		t.Fatal("no ping received")
	}
}

func TestIsNormalClose(t *testing.T) {
	assert.False(t, IsNormalClose(nil))
	assert.True(t, IsNormalClose(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	assert.False(t, IsNormalClose(&websocket.CloseError{Code: websocket.CloseInternalServerErr}))
}
