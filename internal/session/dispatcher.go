package session

import (
	"sync"

	"github.com/r0bb10/phone-bridge/internal/event"
	"github.com/r0bb10/phone-bridge/internal/logging"
	"github.com/r0bb10/phone-bridge/internal/metrics"
)

// LED is the indicator the dispatcher switches.
type LED interface {
	On() error
	Off() error
	Status() (bool, error)
}

// Player is the ringtone slot the dispatcher drives.
type Player interface {
	Play(name string) error
	Stop(reason string) bool
}

// Broadcaster delivers events to every subscriber.
type Broadcaster interface {
	Broadcast(ev event.Event)
}

// Dispatcher executes decoded commands. It is shared by every connection and
// by the MQTT command topic.
//
// Playback commands run on one worker goroutine in arrival order, so a slow
// terminate never stalls a connection's read loop and a stop sent after a
// ring always acts on that ring.
type Dispatcher struct {
	led    LED
	player Player
	out    Broadcaster
	log    *logging.Logger

	jobs chan func()
	wg   sync.WaitGroup

	mu     sync.Mutex // guards closed and sends on jobs
	closed bool
}

func NewDispatcher(led LED, player Player, out Broadcaster, log *logging.Logger) *Dispatcher {
	d := &Dispatcher{
		led:    led,
		player: player,
		out:    out,
		log:    log,
		jobs:   make(chan func(), 16),
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// Handle runs one command. reply receives events addressed to the sender only.
func (d *Dispatcher) Handle(cmd event.Command, reply func(event.Event)) {
	tag := cmd.Event
	if !cmd.Known() {
		tag = "unknown"
	}
	metrics.CommandsTotal.WithLabelValues(tag).Inc()
	d.log.Infow("EVENT IN", "event", cmd.Event)

	switch cmd.Event {
	case event.CmdLedOn:
		if err := d.led.On(); err != nil {
			d.log.Errorw("led on failed", "error", err)
			return
		}
		d.out.Broadcast(event.LedChanged(true))

	case event.CmdLedOff:
		if err := d.led.Off(); err != nil {
			d.log.Errorw("led off failed", "error", err)
			return
		}
		d.out.Broadcast(event.LedChanged(false))

	case event.CmdLedStatus:
		on, err := d.led.Status()
		if err != nil {
			d.log.Errorw("led status failed", "error", err)
			return
		}
		reply(event.LedChanged(on))

	case event.CmdRing:
		name := cmd.Ringtone
		d.enqueue(func() {
			if err := d.player.Play(name); err != nil {
				d.log.Errorw("ring failed", "ringtone", name, "error", err)
			}
		})

	case event.CmdStop:
		d.enqueue(func() { d.player.Stop(event.ReasonManual) })

	case event.CmdRelay:
		d.out.Broadcast(event.Relayed(cmd.Message))

	default:
		d.log.Warnw("unknown command", "event", cmd.Event)
	}
}

// Close waits for queued playback commands to finish. Commands handled
// after Close are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) enqueue(job func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Debugw("dispatcher closed, command dropped")
		return
	}
	d.jobs <- job
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		job()
	}
}
