package led

import (
	"fmt"

	"github.com/r0bb10/phone-bridge/internal/gpio"
)

// LED drives the indicator LED. The pin level is the only state; nothing is cached.
type LED struct {
	pins     gpio.Pins
	pin      int
	inverted bool
}

// New configures pin as an output, keeping whatever level it already has.
func New(pins gpio.Pins, pin int, inverted bool) (*LED, error) {
	if err := pins.Configure(pin, gpio.Output, gpio.PullNone); err != nil {
		return nil, fmt.Errorf("setup led: %w", err)
	}
	return &LED{pins: pins, pin: pin, inverted: inverted}, nil
}

func (l *LED) On() error  { return l.set(true) }
func (l *LED) Off() error { return l.set(false) }

// Status re-reads the pin and reports whether the LED is lit.
func (l *LED) Status() (bool, error) {
	v, err := l.pins.Read(l.pin)
	if err != nil {
		return false, fmt.Errorf("led status: %w", err)
	}
	return (v == 1) != l.inverted, nil
}

func (l *LED) set(on bool) error {
	v := 0
	if on != l.inverted {
		v = 1
	}
	if err := l.pins.Write(l.pin, v); err != nil {
		return fmt.Errorf("led %s: %w", stateString(on), err)
	}
	return nil
}

func stateString(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
