package uxsched

import "time"

// Clock reports monotonic time as an offset from an arbitrary epoch. A zero
// reading is reserved to mean "not set" for enqueue times.
type Clock interface {
	Now() time.Duration
}

// ClockFunc adapts a function to the [Clock] interface.
type ClockFunc func() time.Duration

// Now calls f.
func (f ClockFunc) Now() time.Duration {
	return f()
}

type monotonicClock struct {
	epoch time.Time
}

func newMonotonicClock() monotonicClock {
	// Shift the epoch back by a nanosecond so the first reading is never zero.
	return monotonicClock{epoch: time.Now().Add(-time.Nanosecond)}
}

func (c monotonicClock) Now() time.Duration {
	return time.Since(c.epoch)
}
