package mqttbridge

import (
	"encoding/json"
	"fmt"

	"github.com/r0bb10/phone-bridge/internal/event"
)

const (
	// Device information for Home Assistant discovery
	Manufacturer  = "r0bb10"
	DeviceName    = "Phone Bridge"
	HardwareModel = "Raspberry Pi"

	discoveryNode = "phone_bridge"
)

// deviceInfo returns the device information payload for Home Assistant discovery
func (m *Mirror) deviceInfo() map[string]interface{} {
	return map[string]interface{}{
		"identifiers":  []string{discoveryNode},
		"name":         DeviceName,
		"manufacturer": Manufacturer,
		"model":        HardwareModel,
		"sw_version":   m.version,
	}
}

// discoveryBase creates a base discovery payload with common fields
func (m *Mirror) discoveryBase(name, objectID, commandTopic, stateTopic string) map[string]interface{} {
	payload := map[string]interface{}{
		"name":               name,
		"unique_id":          discoveryNode + "_" + objectID,
		"availability_topic": m.AvailabilityTopic(),
		"device":             m.deviceInfo(),
	}
	if commandTopic != "" {
		payload["command_topic"] = commandTopic
	}
	if stateTopic != "" {
		payload["state_topic"] = stateTopic
		payload["value_template"] = "{{ value_json.state }}"
	}
	return payload
}

type discoveryEntry struct {
	component string
	objectID  string
	payload   map[string]interface{}
}

// discoveryEntries describes the handset as a binary sensor, the LED as a
// switch and ring/stop as buttons, all driven through the command topic.
func (m *Mirror) discoveryEntries() []discoveryEntry {
	handset := m.discoveryBase("Handset", "handset", "", m.EventTopic(event.KindHandsetState))
	handset["payload_on"] = "up"
	handset["payload_off"] = "down"

	led := m.discoveryBase("LED", "led", m.CommandTopic(), m.EventTopic(event.KindLedState))
	led["payload_on"] = commandPayload(event.CmdLedOn)
	led["payload_off"] = commandPayload(event.CmdLedOff)
	led["state_on"] = "on"
	led["state_off"] = "off"
	led["optimistic"] = false

	ring := m.discoveryBase("Ring", "ring", m.CommandTopic(), "")
	ring["payload_press"] = commandPayload(event.CmdRing)

	stop := m.discoveryBase("Stop ringtone", "stop", m.CommandTopic(), "")
	stop["payload_press"] = commandPayload(event.CmdStop)

	return []discoveryEntry{
		{"binary_sensor", "handset", handset},
		{"switch", "led", led},
		{"button", "ring", ring},
		{"button", "stop", stop},
	}
}

func (m *Mirror) discoveryTopic(e discoveryEntry) string {
	return fmt.Sprintf("homeassistant/%s/%s/%s/config", e.component, discoveryNode, e.objectID)
}

// publishDiscovery publishes the discovery payloads to Home Assistant
func (m *Mirror) publishDiscovery(b Broker) error {
	for _, e := range m.discoveryEntries() {
		jsonPayload, err := json.Marshal(e.payload)
		if err != nil {
			return fmt.Errorf("marshal discovery payload for %s: %w", e.objectID, err)
		}
		if err := b.Publish(m.discoveryTopic(e), 0, true, jsonPayload); err != nil {
			return fmt.Errorf("publish discovery for %s: %w", e.objectID, err)
		}
	}
	return nil
}

func commandPayload(tag string) string {
	return fmt.Sprintf(`{"event":%q}`, tag)
}
