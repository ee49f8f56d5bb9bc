// Package event defines the JSON envelopes exchanged with subscribers.
//
// Every frame is a single JSON object whose "event" member names its kind.
// Outbound events are immutable values; the same Event always encodes to the
// same bytes whether it is broadcast or sent to one client.
package event

import (
	"encoding/json"
	"fmt"
)

// Kind is the value of the "event" member.
type Kind string

// Outbound kinds.
const (
	KindHandsetState    Kind = "handset_state"
	KindLedState        Kind = "led_state"
	KindKeypadPress     Kind = "keypad_press"
	KindRingtoneStopped Kind = "ringtone_stopped"
	KindRelayed         Kind = "ai_realtime_client_message"
)

// Stop reasons reported in ringtone_stopped.
const (
	ReasonManual         = "manual_stop"
	ReasonHandsetPickup  = "handset_pickup"
	ReasonPlaybackFailed = "playback_failed"
)

// Event is one outbound message. Only the members relevant to Kind are set.
type Event struct {
	Kind   Kind            `json:"event"`
	State  string          `json:"state,omitempty"`
	Key    string          `json:"key,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// HandsetChanged reports the hook switch: up when the handset is lifted.
func HandsetChanged(up bool) Event {
	state := "down"
	if up {
		state = "up"
	}
	return Event{Kind: KindHandsetState, State: state}
}

// LedChanged reports the indicator LED.
func LedChanged(on bool) Event {
	state := "off"
	if on {
		state = "on"
	}
	return Event{Kind: KindLedState, State: state}
}

// KeyPressed reports one keypad press.
func KeyPressed(key string) Event {
	return Event{Kind: KindKeypadPress, Key: key}
}

// RingtoneStopped reports the end of a playback session and why it ended.
func RingtoneStopped(reason string) Event {
	return Event{Kind: KindRingtoneStopped, Reason: reason}
}

// Relayed wraps an application payload verbatim. An empty payload becomes "".
func Relayed(payload json.RawMessage) Event {
	if len(payload) == 0 {
		payload = json.RawMessage(`""`)
	}
	return Event{Kind: KindRelayed, Data: append(json.RawMessage(nil), payload...)}
}

// Retained reports whether the event describes current device state rather
// than a one-off occurrence.
func (e Event) Retained() bool {
	return e.Kind == KindHandsetState || e.Kind == KindLedState
}

// Encode serializes the event as a single JSON text frame.
func Encode(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind, err)
	}
	return b, nil
}
