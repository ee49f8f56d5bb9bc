// Package playback owns the single ringtone playback slot.
//
// At most one session exists at any time. Play and Stop are serialised
// against each other; the watcher goroutine of a session only ever clears the
// slot if the slot still holds its own session, so a Stop racing a natural
// exit produces exactly one outcome.
package playback

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/r0bb10/phone-bridge/internal/event"
	"github.com/r0bb10/phone-bridge/internal/logging"
	"github.com/r0bb10/phone-bridge/internal/metrics"
)

// Publisher receives the events the controller emits.
type Publisher interface {
	Publish(ev event.Event)
}

// Settings are the tunables that may change on reload.
type Settings struct {
	Device         string
	Repeat         int           // plays per ring when the asset is shorter than RingCycle
	RingCycle      time.Duration // 0 always repeats
	TerminateGrace time.Duration
	Sweep          bool // pkill stray players by name after every stop
}

type session struct {
	ringtone      string
	path          string
	device        string
	repeat        int
	proc          Process
	stopRequested bool
	done          chan struct{} // closed when the watcher returns
}

// Controller plays ringtones through an Engine.
type Controller struct {
	engine Engine
	lib    *Library
	pub    Publisher
	log    *logging.Logger
	probe  func(path string) (time.Duration, error)
	mixer  *Mixer // guarded by mu

	ops sync.Mutex // held for the whole of Play, Stop and Shutdown

	mu       sync.Mutex // guards current and settings
	current  *session
	settings Settings
}

func NewController(engine Engine, lib *Library, pub Publisher, s Settings, log *logging.Logger) *Controller {
	return &Controller{
		engine:   engine,
		lib:      lib,
		pub:      pub,
		log:      log,
		probe:    WavDuration,
		settings: s,
	}
}

// Apply replaces the settings. A running session keeps the ones it started with.
func (c *Controller) Apply(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s
}

// SetMixer installs the mixer applied before every play. Nil disables it.
func (c *Controller) SetMixer(m *Mixer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mixer = m
}

// RestoreVolume applies the installed mixer levels now.
func (c *Controller) RestoreVolume() error {
	c.mu.Lock()
	m := c.mixer
	c.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Maximize()
}

// Current returns the ringtone name of the active session.
func (c *Controller) Current() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", false
	}
	return c.current.ringtone, true
}

// Play starts a ringtone, replacing any session in progress. An empty name
// plays the default ringtone. On error no session exists.
func (c *Controller) Play(name string) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	if old := c.detach(); old != nil {
		c.log.Infow("superseding ringtone", "ringtone", old.ringtone)
		c.terminate(old)
	}
	c.sweep()
	if err := c.RestoreVolume(); err != nil {
		c.log.Warnw("could not set speaker volume", "error", err)
	}

	path, fellBack, err := c.lib.Resolve(name)
	if err != nil {
		metrics.PlaybackFailures.Inc()
		return fmt.Errorf("play %q: %w", name, err)
	}
	if fellBack {
		c.log.Warnw("ringtone not found, using fallback", "requested", name, "file", path)
	}

	c.mu.Lock()
	st := c.settings
	c.mu.Unlock()

	s := &session{
		ringtone: name,
		path:     path,
		device:   st.Device,
		repeat:   c.repeatsFor(path, st),
		done:     make(chan struct{}),
	}
	if s.ringtone == "" {
		s.ringtone = filepath.Base(path)
	}

	c.mu.Lock()
	proc, err := c.engine.Spawn(path, st.Device)
	if err != nil {
		c.mu.Unlock()
		metrics.PlaybackFailures.Inc()
		return fmt.Errorf("play %q: %w", name, err)
	}
	s.proc = proc
	c.current = s
	c.mu.Unlock()

	metrics.PlaybackSessions.Inc()
	c.log.Infow("EVENT: playing ringtone", "ringtone", s.ringtone, "file", path, "repeat", s.repeat, "pid", proc.Pid())
	go c.watch(s)
	return nil
}

// Stop ends the active session and publishes ringtone_stopped with reason.
// Without a session it only sweeps stray players. It reports whether a
// session was stopped.
//
// Against a natural exit, whichever of Stop and the watcher clears the slot
// first wins: Stop then emits one event, or the session already ended and
// Stop emits none.
func (c *Controller) Stop(reason string) bool {
	c.ops.Lock()
	defer c.ops.Unlock()

	s := c.detach()
	if s != nil {
		c.log.Infow("EVENT: stopping ringtone", "ringtone", s.ringtone, "reason", reason)
		c.terminate(s)
	}
	c.sweep()

	if s == nil {
		c.log.Debugw("no active ringtone to stop", "reason", reason)
		return false
	}
	c.pub.Publish(event.RingtoneStopped(reason))
	return true
}

// Shutdown ends any session silently and sweeps stray players.
func (c *Controller) Shutdown() {
	c.ops.Lock()
	defer c.ops.Unlock()

	if s := c.detach(); s != nil {
		c.terminate(s)
	}
	if err := c.engine.KillAll(); err != nil {
		c.log.Warnw("stray player sweep failed", "error", err)
	}
}

// detach empties the slot and marks the session it held as stopping.
func (c *Controller) detach() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.current
	c.current = nil
	if s != nil {
		s.stopRequested = true
	}
	return s
}

// terminate runs the fixed escalation on a detached session and waits for
// its watcher. Every step is best effort.
func (c *Controller) terminate(s *session) {
	c.mu.Lock()
	proc := s.proc
	grace := c.settings.TerminateGrace
	c.mu.Unlock()

	if err := proc.Terminate(); err != nil {
		c.log.Debugw("terminate player", "pid", proc.Pid(), "error", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(grace):
		c.log.Infow("player still running, killing it", "pid", proc.Pid())
		if err := proc.Kill(); err != nil {
			c.log.Warnw("kill player", "pid", proc.Pid(), "error", err)
		}
		select {
		case <-proc.Done():
		case <-time.After(grace):
			c.log.Warnw("player did not exit after kill", "pid", proc.Pid())
		}
	}

	select {
	case <-s.done:
	case <-time.After(grace):
		c.log.Warnw("playback watcher did not finish", "ringtone", s.ringtone)
	}
}

func (c *Controller) sweep() {
	c.mu.Lock()
	enabled := c.settings.Sweep
	c.mu.Unlock()
	if !enabled {
		return
	}
	if err := c.engine.KillAll(); err != nil {
		c.log.Warnw("stray player sweep failed", "error", err)
	}
}

func (c *Controller) repeatsFor(path string, st Settings) int {
	if st.Repeat <= 1 {
		return 1
	}
	if st.RingCycle <= 0 {
		return st.Repeat
	}
	d, err := c.probe(path)
	if err != nil {
		c.log.Debugw("ringtone duration unknown", "file", path, "error", err)
		return st.Repeat
	}
	if d < st.RingCycle {
		return st.Repeat
	}
	return 1
}

// watch waits for each play of a session, starts the next repeat, and clears
// the slot when the session ends on its own.
func (c *Controller) watch(s *session) {
	defer close(s.done)

	for played := 1; ; played++ {
		c.mu.Lock()
		proc := s.proc
		c.mu.Unlock()

		<-proc.Done()
		exitErr := proc.Err()

		c.mu.Lock()
		if s.stopRequested || c.current != s {
			c.mu.Unlock()
			c.log.Debugw("ringtone already cleared", "ringtone", s.ringtone)
			return
		}
		if exitErr != nil {
			c.current = nil
			c.mu.Unlock()
			c.fail(s, fmt.Errorf("player exited: %w", exitErr))
			return
		}
		if played >= s.repeat {
			c.current = nil
			c.mu.Unlock()
			c.log.Infow("EVENT: ringtone finished playing", "ringtone", s.ringtone)
			return
		}
		next, err := c.engine.Spawn(s.path, s.device)
		if err != nil {
			c.current = nil
			c.mu.Unlock()
			c.fail(s, err)
			return
		}
		s.proc = next
		c.mu.Unlock()
		c.log.Debugw("ringtone repeat", "ringtone", s.ringtone, "play", played+1, "of", s.repeat)
	}
}

func (c *Controller) fail(s *session, err error) {
	metrics.PlaybackFailures.Inc()
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		c.log.Warnw("ringtone playback failed", "ringtone", s.ringtone, "exit_code", exitErr.ExitCode())
	} else {
		c.log.Warnw("ringtone playback failed", "ringtone", s.ringtone, "error", err)
	}
	c.pub.Publish(event.RingtoneStopped(event.ReasonPlaybackFailed))
}
