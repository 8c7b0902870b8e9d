package main

import (
	"sync"
	"time"
)

// Debouncer runs action once after triggers stop arriving for duration.
// Editors write a file several times per save; the status map reload should
// happen once.
type Debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	duration time.Duration
	action   func()
	seq      uint64
	inflight sync.WaitGroup
}

// NewDebouncer returns a debouncer for action.
func NewDebouncer(duration time.Duration, action func()) *Debouncer {
	return &Debouncer{duration: duration, action: action}
}

// Trigger (re)starts the quiet period.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.seq++
	seq := d.seq
	d.inflight.Add(1)
	d.timer = time.AfterFunc(d.duration, func() {
		defer d.inflight.Done()
		d.mu.Lock()
		if d.seq != seq {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		d.action()
	})
}

// Stop cancels a pending action and waits for a running one to return.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
	d.inflight.Wait()
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil && d.timer.Stop() {
		// The callback will never run; release its slot.
		d.inflight.Done()
	}
	d.timer = nil
}
