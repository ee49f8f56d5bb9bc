package app

import (
	"sync"

	"github.com/r0bb10/phone-bridge/internal/event"
)

// bus is the single ordered path from producers to subscribers. Once closed,
// publishing is a no-op so producers never block on shutdown.
type bus struct {
	ch   chan event.Event
	done chan struct{}
	once sync.Once
}

func newBus() *bus {
	return &bus{ch: make(chan event.Event, busSize), done: make(chan struct{})}
}

func (b *bus) Publish(ev event.Event) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.ch <- ev:
	case <-b.done:
	}
}

// Broadcast lets the command dispatcher publish through the bus.
func (b *bus) Broadcast(ev event.Event) { b.Publish(ev) }

func (b *bus) close() {
	b.once.Do(func() { close(b.done) })
}
