package poller

import (
	"github.com/r0bb10/phone-bridge/internal/gpio"
	"github.com/r0bb10/phone-bridge/internal/logging"
)

// Handset is the semantic hook switch position.
type Handset int

const (
	HandsetDown Handset = iota // on hook
	HandsetUp                  // lifted
)

func (h Handset) String() string {
	if h == HandsetUp {
		return "up"
	}
	return "down"
}

// HandsetSampler reads the hook switch. The pin is pulled down and reads high
// while the handset rests on the hook.
type HandsetSampler struct {
	pins gpio.Pins
	pin  int
	log  *logging.Logger
}

func NewHandsetSampler(pins gpio.Pins, pin int, log *logging.Logger) (*HandsetSampler, error) {
	if err := pins.Configure(pin, gpio.Input, gpio.PullDown); err != nil {
		return nil, err
	}
	return &HandsetSampler{pins: pins, pin: pin, log: log}, nil
}

// Sample returns the current position. A failed read counts as an inactive
// (low) pin.
func (s *HandsetSampler) Sample() Handset {
	v, err := s.pins.Read(s.pin)
	if err != nil {
		s.log.Debugw("handset read failed", "pin", s.pin, "error", err)
		return HandsetUp
	}
	if v == 1 {
		return HandsetDown
	}
	return HandsetUp
}
