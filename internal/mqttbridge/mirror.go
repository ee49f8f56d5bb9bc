// Package mqttbridge mirrors the event stream to an MQTT broker and accepts
// commands from it.
//
// Topics, relative to the configured prefix:
//
//	<prefix>/status        online/offline, retained, also the last will
//	<prefix>/event/<kind>  every outbound event as JSON; state events retained
//	<prefix>/command       inbound commands, same envelope as the WebSocket
package mqttbridge

import (
	"context"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/r0bb10/phone-bridge/internal/config"
	"github.com/r0bb10/phone-bridge/internal/event"
	"github.com/r0bb10/phone-bridge/internal/logging"
)

const outboxSize = 64

// CommandHandler runs an inbound command. reply carries events addressed to
// the sender only.
type CommandHandler func(cmd event.Command, reply func(event.Event))

type outbound struct {
	topic    string
	retained bool
	payload  []byte
}

// Mirror publishes events to the broker from its own goroutine so a slow or
// absent broker never holds up local delivery.
type Mirror struct {
	prefix    string
	discovery bool
	version   string
	handle    CommandHandler
	log       *logging.Logger

	mu     sync.Mutex
	broker Broker
	// onConnect runs after every (re)connect, used to republish current state.
	// It runs on the client's goroutine and gets the mirror it belongs to.
	onConnect func(*Mirror)

	outbox chan outbound
}

func newMirror(broker Broker, prefix string, discovery bool, version string, handle CommandHandler, log *logging.Logger) *Mirror {
	return &Mirror{
		prefix:    prefix,
		discovery: discovery,
		version:   version,
		handle:    handle,
		log:       log,
		broker:    broker,
		outbox:    make(chan outbound, outboxSize),
	}
}

// Connect dials the broker with a retained offline will and keeps the
// subscription and availability alive across reconnects.
func Connect(cfg config.MQTTConfig, version string, handle CommandHandler, onConnect func(*Mirror), log *logging.Logger) (*Mirror, error) {
	m := newMirror(nil, cfg.TopicPrefix, cfg.Discovery, version, handle, log)
	m.onConnect = onConnect

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetWill(m.AvailabilityTopic(), "offline", 0, true)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infow("connected to MQTT", "broker", cfg.Broker)
		if err := m.Setup(); err != nil {
			log.Errorw("MQTT setup failed", "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnw("MQTT connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	m.mu.Lock()
	m.broker = &pahoBroker{client: client}
	m.mu.Unlock()

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connection failed: %w", token.Error())
	}
	return m, nil
}

func (m *Mirror) AvailabilityTopic() string {
	return fmt.Sprintf("%s/status", m.prefix)
}

func (m *Mirror) CommandTopic() string {
	return fmt.Sprintf("%s/command", m.prefix)
}

// EventTopic is where events of the given kind are published.
func (m *Mirror) EventTopic(kind event.Kind) string {
	return fmt.Sprintf("%s/event/%s", m.prefix, kind)
}

// Setup announces availability, subscribes to the command topic and, when
// enabled, publishes Home Assistant discovery.
func (m *Mirror) Setup() error {
	b := m.client()
	if err := b.Publish(m.AvailabilityTopic(), 0, true, []byte("online")); err != nil {
		return fmt.Errorf("publish availability: %w", err)
	}
	if err := b.Subscribe(m.CommandTopic(), 0, m.commandHandler()); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	if m.discovery {
		if err := m.publishDiscovery(b); err != nil {
			return fmt.Errorf("publish discovery: %w", err)
		}
	}
	if m.onConnect != nil {
		m.onConnect(m)
	}
	return nil
}

// Publish queues the event for the broker. When the queue is full the event
// is dropped for MQTT only.
func (m *Mirror) Publish(ev event.Event) {
	b, err := event.Encode(ev)
	if err != nil {
		m.log.Errorw("encode event for MQTT", "error", err)
		return
	}
	msg := outbound{topic: m.EventTopic(ev.Kind), retained: ev.Retained(), payload: b}
	select {
	case m.outbox <- msg:
	default:
		m.log.Warnw("MQTT outbox full, event dropped", "event", ev.Kind)
	}
}

// Run publishes queued events until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.outbox:
			b := m.client()
			if !b.IsConnected() {
				m.log.Debugw("MQTT not connected, event skipped", "topic", msg.topic)
				continue
			}
			if err := b.Publish(msg.topic, 0, msg.retained, msg.payload); err != nil {
				m.log.Warnw("MQTT publish failed", "topic", msg.topic, "error", err)
			}
		}
	}
}

// Close marks the bridge offline and disconnects.
func (m *Mirror) Close() {
	b := m.client()
	if b.IsConnected() {
		if err := b.Publish(m.AvailabilityTopic(), 0, true, []byte("offline")); err != nil {
			m.log.Warnw("publish offline status", "error", err)
		}
	}
	b.Disconnect()
}

func (m *Mirror) client() Broker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broker
}

func (m *Mirror) commandHandler() mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if msg.Retained() {
			return
		}
		cmd, err := event.DecodeCommand(msg.Payload())
		if err != nil {
			m.log.Warnw("malformed MQTT command skipped", "topic", msg.Topic(), "error", err)
			return
		}
		m.handle(cmd, m.Publish)
	}
}
