package worker

import (
	"sync"
	"time"
)

// Debouncer coalesces repeated calls per key into one delayed call.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
	delay   time.Duration
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		pending: make(map[string]*time.Timer),
		delay:   delay,
	}
}

// Add schedules fn to run after the delay. A later Add for the same key
// before it fires replaces fn and restarts the delay.
func (d *Debouncer) Add(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.pending[key]; ok {
		timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A newer Add may already have replaced this timer.
		if d.pending[key] != timer {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()

		fn()
	})
	d.pending[key] = timer
}

// Cancel stops a pending call for key if there is one.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.pending[key]; ok {
		timer.Stop()
		delete(d.pending, key)
	}
}

// Stop cancels every pending call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, timer := range d.pending {
		timer.Stop()
		delete(d.pending, key)
	}
}
