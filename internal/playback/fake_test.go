package playback

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r0bb10/phone-bridge/internal/event"
	"github.com/r0bb10/phone-bridge/internal/logging"
)

var (
	errTerminated = errors.New("signal: terminated")
	errKilled     = errors.New("signal: killed")
)

type fakeProc struct {
	pid      int
	file     string
	device   string
	stubborn bool // ignores Terminate

	done chan struct{}
	once sync.Once
	err  error

	mu         sync.Mutex
	terminated bool
	killed     bool
}

func (p *fakeProc) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *fakeProc) Pid() int { return p.pid }

func (p *fakeProc) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	if !p.stubborn {
		p.exit(errTerminated)
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(errKilled)
	return nil
}

func (p *fakeProc) Done() <-chan struct{} { return p.done }

func (p *fakeProc) Err() error {
	<-p.done
	return p.err
}

func (p *fakeProc) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *fakeProc) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

type fakeEngine struct {
	mu       sync.Mutex
	procs    []*fakeProc
	spawnErr error
	stubborn bool
	killAlls int
	// running is the number of procs alive at each Spawn call.
	running []int
}

func (e *fakeEngine) Spawn(file, device string) (Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.spawnErr != nil {
		return nil, e.spawnErr
	}
	alive := 0
	for _, p := range e.procs {
		if !p.exited() {
			alive++
		}
	}
	e.running = append(e.running, alive)
	p := &fakeProc{pid: 100 + len(e.procs), file: file, device: device, stubborn: e.stubborn, done: make(chan struct{})}
	e.procs = append(e.procs, p)
	return p, nil
}

func (e *fakeEngine) KillAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killAlls++
	return nil
}

func (e *fakeEngine) proc(i int) *fakeProc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.procs[i]
}

func (e *fakeEngine) spawned() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.procs)
}

func (e *fakeEngine) sweeps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.killAlls
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

const testGrace = 20 * time.Millisecond

func newTestController(t *testing.T, files ...string) (*Controller, *fakeEngine, *recorder, string) {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("RIFF"), 0o600))
	}
	eng := &fakeEngine{}
	rec := &recorder{}
	c := NewController(eng, NewLibrary(dir, "telephone-ring-02.wav"), rec, Settings{
		Device:         "plughw:2,0",
		Repeat:         1,
		TerminateGrace: testGrace,
		Sweep:          true,
	}, logging.Nop())
	return c, eng, rec, dir
}

func active(c *Controller) bool {
	_, ok := c.Current()
	return ok
}

func waitInactive(t *testing.T, c *Controller) {
	t.Helper()
	require.Eventually(t, func() bool { return !active(c) }, time.Second, time.Millisecond)
}

func stopCount(events []event.Event, reason string) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == event.KindRingtoneStopped && ev.Reason == reason {
			n++
		}
	}
	return n
}

func ringName(i int) string { return fmt.Sprintf("ring-%02d.wav", i) }
