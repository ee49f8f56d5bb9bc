package gpio

import (
	"fmt"
	"sync"
)

// Fake is an in-memory Pins used by tests and by the --fake-gpio mode on
// development machines without a GPIO chip.
type Fake struct {
	mu       sync.Mutex
	dirs     map[int]Direction
	pulls    map[int]Pull
	levels   map[int]int
	readErrs map[int]error
	writes   []Write
	// links[col] holds the row pins currently shorted to col by a pressed key.
	links  map[int][]int
	closed bool
}

// Write records one call to Fake.Write.
type Write struct {
	Pin   int
	Value int
}

func NewFake() *Fake {
	return &Fake{
		dirs:     make(map[int]Direction),
		pulls:    make(map[int]Pull),
		levels:   make(map[int]int),
		readErrs: make(map[int]error),
		links:    make(map[int][]int),
	}
}

func (f *Fake) Configure(pin int, dir Direction, pull Pull) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[pin] = dir
	f.pulls[pin] = pull
	if _, ok := f.levels[pin]; !ok && pull == PullUp {
		f.levels[pin] = 1
	}
	return nil
}

func (f *Fake) Read(pin int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dirs[pin]; !ok {
		return 0, fmt.Errorf("read pin %d: %w", pin, ErrNotConfigured)
	}
	if err := f.readErrs[pin]; err != nil {
		return 0, err
	}
	for _, row := range f.links[pin] {
		if f.levels[row] == 0 {
			return 0, nil
		}
	}
	return f.levels[pin], nil
}

func (f *Fake) Write(pin int, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirs[pin] != Output {
		return fmt.Errorf("write pin %d: %w", pin, ErrNotConfigured)
	}
	f.levels[pin] = value
	f.writes = append(f.writes, Write{Pin: pin, Value: value})
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Set forces the level an input pin reads.
func (f *Fake) Set(pin, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[pin] = value
}

// Level returns the stored level of a pin.
func (f *Fake) Level(pin int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

// FailReads makes every read of pin return err until cleared with nil.
func (f *Fake) FailReads(pin int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.readErrs, pin)
		return
	}
	f.readErrs[pin] = err
}

// Press shorts a keypad row to a column: the column reads low while the row is driven low.
func (f *Fake) Press(row, col int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[col] = append(f.links[col], row)
}

// ReleaseAll opens every key contact.
func (f *Fake) ReleaseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = make(map[int][]int)
}

// Writes returns a copy of all recorded writes.
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// Direction reports how a pin was configured.
func (f *Fake) Direction(pin int) (Direction, Pull, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dirs[pin]
	return d, f.pulls[pin], ok
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
