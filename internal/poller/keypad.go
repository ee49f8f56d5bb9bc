package poller

import (
	"fmt"

	"github.com/r0bb10/phone-bridge/internal/gpio"
	"github.com/r0bb10/phone-bridge/internal/logging"
)

// Key is a keypad label. NoKey means nothing is pressed.
type Key string

const NoKey Key = ""

// Pressed reports whether k is a key rather than a release.
func Pressed(k Key) bool { return k != NoKey }

// KeypadScanner scans a row/column matrix. Rows idle high and are driven low
// one at a time; a pressed key pulls its column low.
type KeypadScanner struct {
	pins gpio.Pins
	rows []int
	cols []int
	keys [][]string
	log  *logging.Logger
}

func NewKeypadScanner(pins gpio.Pins, rows, cols []int, keys [][]string, log *logging.Logger) (*KeypadScanner, error) {
	if len(keys) != len(rows) {
		return nil, fmt.Errorf("keypad: %d key rows for %d row pins", len(keys), len(rows))
	}
	for i, r := range keys {
		if len(r) != len(cols) {
			return nil, fmt.Errorf("keypad: key row %d has %d labels for %d col pins", i, len(r), len(cols))
		}
	}

	for _, pin := range rows {
		if err := pins.Configure(pin, gpio.Output, gpio.PullNone); err != nil {
			return nil, fmt.Errorf("setup row: %w", err)
		}
		if err := pins.Write(pin, 1); err != nil {
			return nil, fmt.Errorf("setup row: %w", err)
		}
	}
	for _, pin := range cols {
		if err := pins.Configure(pin, gpio.Input, gpio.PullUp); err != nil {
			return nil, fmt.Errorf("setup col: %w", err)
		}
	}
	return &KeypadScanner{pins: pins, rows: rows, cols: cols, keys: keys, log: log}, nil
}

// Sample scans rows in order and returns the first pressed key (row-major).
func (k *KeypadScanner) Sample() Key {
	for i, row := range k.rows {
		if err := k.pins.Write(row, 0); err != nil {
			k.log.Debugw("keypad row drive failed", "pin", row, "error", err)
			continue
		}
		key := NoKey
		for j, col := range k.cols {
			v, err := k.pins.Read(col)
			if err != nil {
				continue
			}
			if v == 0 {
				key = Key(k.keys[i][j])
				break
			}
		}
		if err := k.pins.Write(row, 1); err != nil {
			k.log.Debugw("keypad row restore failed", "pin", row, "error", err)
		}
		if key != NoKey {
			return key
		}
	}
	return NoKey
}
