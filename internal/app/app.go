// Package app wires the hardware, playback, hub and outer surfaces into one
// running bridge.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/r0bb10/phone-bridge/internal/config"
	"github.com/r0bb10/phone-bridge/internal/discovery"
	"github.com/r0bb10/phone-bridge/internal/event"
	"github.com/r0bb10/phone-bridge/internal/gpio"
	"github.com/r0bb10/phone-bridge/internal/hub"
	"github.com/r0bb10/phone-bridge/internal/led"
	"github.com/r0bb10/phone-bridge/internal/logging"
	"github.com/r0bb10/phone-bridge/internal/metrics"
	"github.com/r0bb10/phone-bridge/internal/mqttbridge"
	"github.com/r0bb10/phone-bridge/internal/playback"
	"github.com/r0bb10/phone-bridge/internal/poller"
	"github.com/r0bb10/phone-bridge/internal/session"
)

const (
	busSize         = 64
	shutdownTimeout = 5 * time.Second
)

// Options carries the dependencies main may substitute.
type Options struct {
	ConfigPath string
	Version    string
	Pins       gpio.Pins       // nil opens cfg.Chip
	Engine     playback.Engine // nil runs cfg.Playback.Player
}

// Application represents the main application state
type Application struct {
	opts Options
	log  *logging.Logger

	mu  sync.Mutex
	cfg config.Config

	pins    gpio.Pins
	led     *led.LED
	handset *poller.HandsetSampler
	keypad  *poller.KeypadScanner
	library *playback.Library
	player  *playback.Controller
	hub     *hub.Hub
	disp    *session.Dispatcher
	bus     *bus
	mirror  *mqttbridge.Mirror
	mdns    *discovery.Advertiser

	addr     net.Addr
	ready    chan struct{}
	shutdown sync.Once
}

// New claims the GPIO lines and builds every component. Nothing runs until Run.
func New(cfg config.Config, opts Options, log *logging.Logger) (*Application, error) {
	a := &Application{
		opts:  opts,
		log:   log,
		cfg:   cfg,
		bus:   newBus(),
		ready: make(chan struct{}),
	}

	a.pins = opts.Pins
	if a.pins == nil {
		chip, err := gpio.OpenChip(cfg.Chip)
		if err != nil {
			return nil, err
		}
		a.pins = chip
	}

	var err error
	if a.led, err = led.New(a.pins, cfg.LED.Pin, cfg.LED.Inverted); err != nil {
		a.pins.Close()
		return nil, err
	}
	if a.handset, err = poller.NewHandsetSampler(a.pins, cfg.Handset.Pin, log.Named("handset")); err != nil {
		a.pins.Close()
		return nil, fmt.Errorf("setup handset: %w", err)
	}
	if a.keypad, err = poller.NewKeypadScanner(a.pins, cfg.Keypad.Rows, cfg.Keypad.Cols, cfg.Keypad.Keys, log.Named("keypad")); err != nil {
		a.pins.Close()
		return nil, fmt.Errorf("setup keypad: %w", err)
	}

	engine := opts.Engine
	if engine == nil {
		engine = &playback.ExecEngine{Player: cfg.Playback.Player, MaxFileTime: cfg.Playback.MaxFileTime}
	}
	a.library = playback.NewLibrary(cfg.Playback.RingtonesDir, cfg.Playback.DefaultRingtone)
	a.player = playback.NewController(engine, a.library, a.bus, playbackSettings(cfg.Playback), log.Named("playback"))
	a.player.SetMixer(playback.NewMixer(cfg.Playback.MixerControls, cfg.Playback.Volume))

	a.hub = hub.New(hub.Options{
		QueueSize:    cfg.Hub.QueueSize,
		PingInterval: cfg.Hub.PingInterval,
	}, log.Named("hub"))
	a.disp = session.NewDispatcher(a.led, a.player, a.bus, log.Named("dispatch"))

	if cfg.MDNS.Enabled {
		a.mdns = discovery.NewAdvertiser(cfg.MDNS)
	}
	return a, nil
}

func playbackSettings(p config.PlaybackConfig) playback.Settings {
	return playback.Settings{
		Device:         p.Device,
		Repeat:         p.Repeat,
		RingCycle:      p.RingCycle,
		TerminateGrace: p.TerminateGrace,
		Sweep:          p.Sweep,
	}
}

// ConnectMQTT starts the MQTT mirror when a broker is configured. Call it
// before Run.
func (a *Application) ConnectMQTT() error {
	cfg := a.config()
	if cfg.MQTT.Broker == "" {
		return nil
	}
	m, err := mqttbridge.Connect(cfg.MQTT, a.opts.Version, a.disp.Handle, a.republishState, a.log.Named("mqtt"))
	if err != nil {
		return err
	}
	a.mirror = m
	return nil
}

// republishState refreshes the retained state topics after a broker reconnect.
// It runs on the MQTT client's goroutine, possibly before ConnectMQTT returns.
func (a *Application) republishState(m *mqttbridge.Mirror) {
	for _, ev := range a.snapshot() {
		m.Publish(ev)
	}
}

// Handler returns the HTTP routes: the WebSocket endpoint on / and /ws,
// /healthz and /metrics.
func (a *Application) Handler() http.Handler {
	cfg := a.config()
	ws := session.NewHandler(a.hub, a.disp, a.snapshot, cfg.Hub.WriteTimeout, a.log.Named("session"))

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", ws.ServeHTTP)
	r.Get("/ws", ws.ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

// Ready is closed once Run is listening.
func (a *Application) Ready() <-chan struct{} { return a.ready }

// Addr is the listening address; valid after Ready.
func (a *Application) Addr() net.Addr { return a.addr }

// Run serves until ctx is cancelled or a component fails.
func (a *Application) Run(ctx context.Context) error {
	cfg := a.config()
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	a.addr = ln.Addr()

	if err := a.player.RestoreVolume(); err != nil {
		a.log.Warnw("could not set speaker volume", "error", err)
	}
	if err := a.led.On(); err != nil {
		a.log.Errorw("led on at startup failed", "error", err)
	} else {
		a.deliver(event.LedChanged(true))
	}

	g, ctx := errgroup.WithContext(ctx)

	handsetCh := make(chan poller.Handset)
	keyCh := make(chan poller.Key)

	handsetPoller := &poller.Poller[poller.Handset]{
		Sample:      a.handset.Sample,
		Interval:    cfg.Handset.ScanInterval,
		Debounce:    cfg.Handset.Debounce,
		EmitInitial: true,
	}
	keypadPoller := &poller.Poller[poller.Key]{
		Sample:   a.keypad.Sample,
		Interval: cfg.Keypad.ScanInterval,
		Debounce: cfg.Keypad.Debounce,
		Settle:   poller.Pressed,
		Initial:  poller.NoKey,
	}

	g.Go(func() error { return ignoreCancel(ctx, handsetPoller.Run(ctx, handsetCh)) })
	g.Go(func() error { return ignoreCancel(ctx, keypadPoller.Run(ctx, keyCh)) })
	g.Go(func() error { return a.consumeHandset(ctx, handsetCh) })
	g.Go(func() error { return a.consumeKeys(ctx, keyCh) })
	g.Go(func() error { return a.dispatchEvents(ctx) })
	if a.mirror != nil {
		g.Go(func() error { return a.mirror.Run(ctx) })
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		a.log.Infow("listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.bus.close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warnw("http shutdown", "error", err)
		}
		a.hub.Close()
		return nil
	})

	if a.mdns != nil {
		a.advertise(ln.Addr())
	}
	close(a.ready)

	return g.Wait()
}

func (a *Application) advertise(addr net.Addr) {
	port, err := discovery.PortOf(addr.String())
	if err != nil {
		a.log.Warnw("mdns disabled", "error", err)
		return
	}
	if err := a.mdns.Advertise(port, a.opts.Version); err != nil {
		a.log.Warnw("mdns advertisement failed", "error", err)
		return
	}
	a.log.Infow("advertising over mdns", "service", discovery.ServiceType, "port", port)
}

func ignoreCancel(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// consumeHandset broadcasts every hook change and silences the ringtone when
// the handset is lifted. The stop event is published after the handset event
// on the same bus, so subscribers see them in that order.
func (a *Application) consumeHandset(ctx context.Context, in <-chan poller.Handset) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case h := <-in:
			up := h == poller.HandsetUp
			a.log.Infow("EVENT: handset", "state", h.String())
			a.bus.Publish(event.HandsetChanged(up))
			if !up {
				continue
			}
			if name, ringing := a.player.Current(); ringing {
				a.log.Infow("handset lifted while ringing", "ringtone", name)
				a.player.Stop(event.ReasonHandsetPickup)
			}
		}
	}
}

// consumeKeys broadcasts presses only; releases just re-arm the poller.
func (a *Application) consumeKeys(ctx context.Context, in <-chan poller.Key) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case k := <-in:
			if k == poller.NoKey {
				continue
			}
			a.log.Infow("EVENT: key pressed", "key", string(k))
			metrics.KeypadPresses.WithLabelValues(string(k)).Inc()
			a.bus.Publish(event.KeyPressed(string(k)))
		}
	}
}

func (a *Application) dispatchEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.bus.ch:
			a.deliver(ev)
		}
	}
}

func (a *Application) deliver(ev event.Event) {
	a.hub.Broadcast(ev)
	if a.mirror != nil {
		a.mirror.Publish(ev)
	}
}

// snapshot is the current device state sent to every new subscriber.
func (a *Application) snapshot() []event.Event {
	evs := []event.Event{event.HandsetChanged(a.handset.Sample() == poller.HandsetUp)}
	on, err := a.led.Status()
	if err != nil {
		a.log.Warnw("led status for snapshot", "error", err)
		return evs
	}
	return append(evs, event.LedChanged(on))
}

func (a *Application) config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Reload re-reads the configuration file and applies the playback settings.
// Listener, GPIO and MQTT changes need a restart.
func (a *Application) Reload() error {
	cfg, err := config.Load(a.opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a.mu.Lock()
	old := a.cfg
	a.cfg.Playback = cfg.Playback
	a.mu.Unlock()

	a.library.Configure(cfg.Playback.RingtonesDir, cfg.Playback.DefaultRingtone)
	a.player.Apply(playbackSettings(cfg.Playback))
	if !reflect.DeepEqual(old.Playback.MixerControls, cfg.Playback.MixerControls) || old.Playback.Volume != cfg.Playback.Volume {
		a.player.SetMixer(playback.NewMixer(cfg.Playback.MixerControls, cfg.Playback.Volume))
		if err := a.player.RestoreVolume(); err != nil {
			a.log.Warnw("could not set speaker volume", "error", err)
		}
	}

	if old.Listen != cfg.Listen || old.Chip != cfg.Chip ||
		!reflect.DeepEqual(old.Handset, cfg.Handset) || !reflect.DeepEqual(old.Keypad, cfg.Keypad) ||
		old.LED != cfg.LED || old.MQTT != cfg.MQTT || old.MDNS != cfg.MDNS || old.Hub != cfg.Hub ||
		old.Playback.Player != cfg.Playback.Player || old.Playback.MaxFileTime != cfg.Playback.MaxFileTime {
		a.log.Warnw("some configuration changes take effect only after a restart")
	}
	a.log.Infow("configuration reload complete", "ringtones_dir", cfg.Playback.RingtonesDir)
	return nil
}

// Shutdown releases everything best effort: playback, LED, MQTT, mDNS and
// GPIO. Call it after Run has returned.
func (a *Application) Shutdown() error {
	var errs []error
	a.shutdown.Do(func() {
		a.bus.close()
		a.disp.Close()
		a.player.Shutdown()
		if err := a.led.Off(); err != nil {
			errs = append(errs, fmt.Errorf("led off: %w", err))
		}
		if a.mirror != nil {
			a.mirror.Close()
		}
		if a.mdns != nil {
			a.mdns.Stop()
		}
		a.log.Infow("disconnecting clients", "clients", a.hub.Len())
		a.hub.Close()
		if err := a.pins.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gpio: %w", err))
		}
	})
	return errors.Join(errs...)
}
