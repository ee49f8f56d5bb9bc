package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r0bb10/phone-bridge/internal/event"
	"github.com/r0bb10/phone-bridge/internal/logging"
)

type memSink struct {
	mu      sync.Mutex
	frames  []string
	pings   int
	closed  bool
	failAt  int           // WriteFrame fails on this frame number (1-based), 0 never
	blocked chan struct{} // WriteFrame waits on it when set
}

func (s *memSink) WriteFrame(frame []byte) error {
	if s.blocked != nil {
		<-s.blocked
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.frames)+1 == s.failAt {
		return errors.New("broken pipe")
	}
	s.frames = append(s.frames, string(frame))
	return nil
}

func (s *memSink) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func (s *memSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func waitFrames(t *testing.T, s *memSink, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.got()) >= n }, time.Second, time.Millisecond)
	return s.got()
}

func TestJoin_BroadcastDuringSnapshotIsNotLost(t *testing.T) {
	h := New(Options{QueueSize: 16}, logging.Nop())
	s := &memSink{}

	sent := make(chan struct{})
	h.Join(s, func() []event.Event {
		go func() {
			defer close(sent)
			h.Broadcast(event.LedChanged(false))
		}()
		time.Sleep(20 * time.Millisecond)
		return []event.Event{event.LedChanged(true)}
	})
	<-sent

	assert.Equal(t, []string{
		`{"event":"led_state","state":"on"}`,
		`{"event":"led_state","state":"off"}`,
	}, waitFrames(t, s, 2))
}

func TestBroadcast_AllClientsSameOrder(t *testing.T) {
	h := New(Options{QueueSize: 16}, logging.Nop())
	a, b := &memSink{}, &memSink{}
	h.Join(a, nil)
	h.Join(b, nil)

	h.Broadcast(event.HandsetChanged(true))
	h.Broadcast(event.KeyPressed("5"))
	h.Broadcast(event.RingtoneStopped(event.ReasonHandsetPickup))

	want := []string{
		`{"event":"handset_state","state":"up"}`,
		`{"event":"keypad_press","key":"5"}`,
		`{"event":"ringtone_stopped","reason":"handset_pickup"}`,
	}
	assert.Equal(t, want, waitFrames(t, a, 3))
	assert.Equal(t, want, waitFrames(t, b, 3))
}

func TestJoin_SnapshotFirstAndNoHistory(t *testing.T) {
	h := New(Options{QueueSize: 16}, logging.Nop())
	h.Broadcast(event.KeyPressed("1"))

	s := &memSink{}
	h.Join(s, func() []event.Event {
		return []event.Event{event.HandsetChanged(false), event.LedChanged(true)}
	})
	h.Broadcast(event.KeyPressed("2"))

	assert.Equal(t, []string{
		`{"event":"handset_state","state":"down"}`,
		`{"event":"led_state","state":"on"}`,
		`{"event":"keypad_press","key":"2"}`,
	}, waitFrames(t, s, 3))
}

func TestUnicast_OnlyTarget(t *testing.T) {
	h := New(Options{QueueSize: 16}, logging.Nop())
	a, b := &memSink{}, &memSink{}
	ca := h.Join(a, nil)
	h.Join(b, nil)

	assert.True(t, h.Unicast(ca, event.LedChanged(false)))
	h.Broadcast(event.KeyPressed("9"))

	assert.Equal(t, []string{`{"event":"led_state","state":"off"}`, `{"event":"keypad_press","key":"9"}`}, waitFrames(t, a, 2))
	assert.Equal(t, []string{`{"event":"keypad_press","key":"9"}`}, waitFrames(t, b, 1))

	h.Leave(ca)
	assert.False(t, h.Unicast(ca, event.LedChanged(false)))
}

func TestSlowClientDropped(t *testing.T) {
	h := New(Options{QueueSize: 2}, logging.Nop())
	slow := &memSink{blocked: make(chan struct{})}
	fast := &memSink{}
	cs := h.Join(slow, nil)
	h.Join(fast, nil)

	for i := 0; i < 5; i++ {
		h.Broadcast(event.KeyPressed("1"))
		waitFrames(t, fast, i+1)
	}
	assert.Equal(t, 1, h.Len())
	close(slow.blocked)
	<-cs.done()
	assert.True(t, slow.isClosed())
	assert.Len(t, fast.got(), 5)
}

func TestWriteFailureDropsOnlyThatClient(t *testing.T) {
	h := New(Options{QueueSize: 8}, logging.Nop())
	bad := &memSink{failAt: 1}
	good := &memSink{}
	cb := h.Join(bad, nil)
	h.Join(good, nil)

	h.Broadcast(event.KeyPressed("3"))
	<-cb.done()
	assert.True(t, bad.isClosed())
	assert.Equal(t, 1, h.Len())

	h.Broadcast(event.KeyPressed("4"))
	assert.Len(t, waitFrames(t, good, 2), 2)
}

func TestLeave_Idempotent(t *testing.T) {
	h := New(Options{}, logging.Nop())
	s := &memSink{}
	c := h.Join(s, nil)
	h.Leave(c)
	h.Leave(c)
	<-c.done()
	assert.Zero(t, h.Len())
	assert.True(t, s.isClosed())

	h.Broadcast(event.KeyPressed("1"))
	assert.Empty(t, s.got())
}

func TestPing(t *testing.T) {
	h := New(Options{QueueSize: 4, PingInterval: 5 * time.Millisecond}, logging.Nop())
	s := &memSink{}
	c := h.Join(s, nil)
	defer h.Leave(c)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.pings >= 2
	}, time.Second, time.Millisecond)
}

func TestClose(t *testing.T) {
	h := New(Options{}, logging.Nop())
	var clients []*Client
	for i := 0; i < 3; i++ {
		clients = append(clients, h.Join(&memSink{}, nil))
	}
	h.Close()
	for _, c := range clients {
		<-c.done()
	}
	assert.Zero(t, h.Len())
}
