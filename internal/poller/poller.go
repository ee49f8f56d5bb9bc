// Package poller samples digital inputs on a fixed cadence and reports changes.
package poller

import (
	"context"
	"time"
)

// Poller repeatedly samples a device and sends the sampled value on every
// change relative to the last value it sent (not the last value it read).
type Poller[T comparable] struct {
	Sample   func() T
	Interval time.Duration // pause after an unchanged sample
	Debounce time.Duration // pause after a reported change
	// Settle reports whether a change to v is followed by Debounce. Nil
	// means every change is. Changes it rejects wait only Interval, so a
	// release is followed promptly by the next press.
	Settle func(v T) bool
	// EmitInitial sends the first sample even when it equals Initial.
	EmitInitial bool
	Initial     T
}

// Run samples until ctx is done and returns ctx.Err().
func (p *Poller[T]) Run(ctx context.Context, out chan<- T) error {
	last := p.Initial
	primed := !p.EmitInitial

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		cur := p.Sample()
		wait := p.Interval
		if !primed || cur != last {
			select {
			case out <- cur:
			case <-ctx.Done():
				return ctx.Err()
			}
			last = cur
			primed = true
			if p.Settle == nil || p.Settle(cur) {
				wait = p.Debounce
			}
		}

		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
