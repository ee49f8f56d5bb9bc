package mqttbridge

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Broker is the part of an MQTT client the mirror uses.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	Disconnect()
}

type pahoBroker struct {
	client mqtt.Client
}

func (b *pahoBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(b.client.Publish(topic, qos, retained, payload))
}

func (b *pahoBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	return wait(b.client.Subscribe(topic, qos, handler))
}

func (b *pahoBroker) IsConnected() bool { return b.client.IsConnected() }

func (b *pahoBroker) Disconnect() { b.client.Disconnect(250) }

func wait(t mqtt.Token) error {
	t.Wait()
	return t.Error()
}
