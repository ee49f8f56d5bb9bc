package gpio

import (
	"errors"
	"fmt"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"
)

// Direction of a configured pin.
type Direction int

const (
	Input Direction = iota
	Output
)

// Pull selects the internal bias resistor of an input pin.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

var (
	ErrNotConfigured = errors.New("pin not configured")
	ErrChipClosed    = errors.New("chip not opened")
)

// Pins is the digital I/O surface the rest of the bridge is written against.
type Pins interface {
	// Configure requests the pin with the given direction and bias. Outputs keep
	// their current level.
	Configure(pin int, dir Direction, pull Pull) error
	// Read returns the pin level (0 or 1).
	Read(pin int) (int, error)
	// Write sets an output pin level.
	Write(pin int, value int) error
	// Close releases every requested line and the chip.
	Close() error
}

// Chip implements Pins on a GPIO character device.
type Chip struct {
	chip  *gpiod.Chip
	lines map[int]*gpiod.Line
	mu    sync.Mutex
}

// OpenChip opens the GPIO chip device (e.g. "gpiochip0").
func OpenChip(name string) (*Chip, error) {
	c, err := gpiod.NewChip(name, gpiod.WithConsumer("phone-bridge"))
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", name, err)
	}
	return &Chip{chip: c, lines: make(map[int]*gpiod.Line)}, nil
}

func (c *Chip) Configure(pin int, dir Direction, pull Pull) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chip == nil {
		return ErrChipClosed
	}
	if old, ok := c.lines[pin]; ok {
		old.Close()
		delete(c.lines, pin)
	}

	var opts []gpiod.LineReqOption
	switch dir {
	case Output:
		// Read current GPIO state to preserve it across restarts
		probe, err := c.chip.RequestLine(pin, gpiod.AsInput)
		if err != nil {
			return fmt.Errorf("read pin %d state: %w", pin, err)
		}
		current, err := probe.Value()
		probe.Close()
		if err != nil {
			return fmt.Errorf("read pin %d value: %w", pin, err)
		}
		opts = append(opts, gpiod.AsOutput(current))
	default:
		opts = append(opts, gpiod.AsInput)
		switch pull {
		case PullUp:
			opts = append(opts, gpiod.WithPullUp)
		case PullDown:
			opts = append(opts, gpiod.WithPullDown)
		default:
			opts = append(opts, gpiod.WithBiasDisabled)
		}
	}

	line, err := c.chip.RequestLine(pin, opts...)
	if err != nil {
		return fmt.Errorf("request pin %d: %w", pin, err)
	}
	c.lines[pin] = line
	return nil
}

func (c *Chip) Read(pin int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, ok := c.lines[pin]
	if !ok {
		return 0, fmt.Errorf("read pin %d: %w", pin, ErrNotConfigured)
	}
	val, err := line.Value()
	if err != nil {
		return 0, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return val, nil
}

func (c *Chip) Write(pin int, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, ok := c.lines[pin]
	if !ok {
		return fmt.Errorf("write pin %d: %w", pin, ErrNotConfigured)
	}
	if err := line.SetValue(value); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for pin, line := range c.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	c.lines = make(map[int]*gpiod.Line)

	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		c.chip = nil
	}
	return errors.Join(errs...)
}
