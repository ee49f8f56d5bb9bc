package event

import (
	"encoding/json"
	"fmt"
)

// Inbound command tags.
const (
	CmdLedOn     = "led_on"
	CmdLedOff    = "led_off"
	CmdLedStatus = "led_status"
	CmdRing      = "ring"
	CmdStop      = "stop"
	CmdRelay     = "open_ai_realtime_client_message"
)

// Command is a decoded inbound frame.
type Command struct {
	Event    string          `json:"event"`
	Ringtone string          `json:"ringtone,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
}

// DecodeCommand parses one inbound frame. A frame that is valid JSON but not an
// object, or that lacks an "event" member, is reported as an error too.
func DecodeCommand(frame []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(frame, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Event == "" {
		return Command{}, fmt.Errorf("decode command: missing event tag")
	}
	return cmd, nil
}

// Known reports whether the tag is one the bridge dispatches.
func (c Command) Known() bool {
	switch c.Event {
	case CmdLedOn, CmdLedOff, CmdLedStatus, CmdRing, CmdStop, CmdRelay:
		return true
	}
	return false
}
