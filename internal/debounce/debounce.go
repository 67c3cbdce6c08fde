// Package debounce coalesces bursts of values into single callbacks.
//
// The editor adapter and the persistence save path both take a Policy so the
// coalescing behavior is an explicit parameter rather than a hidden constant.
package debounce

import (
	"sync"
	"time"
)

// Policy configures a Debouncer.
//
// With Trailing set, the callback fires once after Interval has passed without a
// new value, carrying the latest value. Without it, the first value of a burst
// fires immediately and later values inside the window are dropped.
type Policy struct {
	Interval time.Duration
	Trailing bool
}

// Immediate is the zero-interval policy: every value fires synchronously.
var Immediate = Policy{}

// Debouncer coalesces values of type T and delivers them to fn asynchronously.
// The zero value is not usable; construct with New.
type Debouncer[T any] struct {
	policy Policy
	fn     func(T)

	mu       sync.Mutex
	timer    *time.Timer
	pending  bool
	value    T
	windowTo time.Time
	stopped  bool
}

// New creates a Debouncer calling fn according to p.
func New[T any](p Policy, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{policy: p, fn: fn}
}

// Trigger records v. After Stop it is ignored.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	if d.policy.Interval <= 0 {
		d.mu.Unlock()
		d.fn(v)
		return
	}

	if !d.policy.Trailing {
		now := time.Now()
		if now.Before(d.windowTo) {
			d.mu.Unlock()
			return
		}
		d.windowTo = now.Add(d.policy.Interval)
		d.mu.Unlock()
		go d.fn(v)
		return
	}

	d.value = v
	d.pending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.policy.Interval, d.fire)
	d.mu.Unlock()
}

func (d *Debouncer[T]) fire() {
	d.mu.Lock()
	if !d.pending || d.stopped {
		d.mu.Unlock()
		return
	}
	v := d.value
	d.pending = false
	d.timer = nil
	d.mu.Unlock()
	d.fn(v)
}

// Pending reports whether a trailing callback is scheduled.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Flush delivers a pending value synchronously and reports whether one was pending.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	v := d.value
	d.pending = false
	d.mu.Unlock()
	d.fn(v)
	return true
}

// Stop cancels any pending callback. Later Trigger calls are ignored.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
