// Package exec owns every side effect the controller performs in response
// to reducer intents: sending datagrams, arming and cancelling response
// timers, and materializing control payloads. Nothing in the reducer ever
// touches a clock, a socket, or a goroutine; exec is where those live.
package exec

import "time"

// Clock is a source of monotonic nanoseconds. Production code should use
// NewProductionClock; tests use NewManualClock to drive timers
// deterministically, mirroring how the reducer tests drive events directly
// without a real clock.
type Clock interface {
	NowNanos() uint64
}

// ProductionClock reports nanoseconds elapsed since its own construction,
// backed by time.Since so the Go runtime's monotonic reading is used rather
// than wall-clock time (which can jump on NTP correction).
type ProductionClock struct {
	start time.Time
}

// NewProductionClock returns a Clock anchored at the current instant.
func NewProductionClock() *ProductionClock {
	return &ProductionClock{start: time.Now()}
}

// NowNanos implements Clock.
func (c *ProductionClock) NowNanos() uint64 {
	return uint64(time.Since(c.start).Nanoseconds())
}

// ManualClock is a Clock a test can advance explicitly.
type ManualClock struct {
	now uint64
}

// NewManualClock returns a ManualClock starting at nanosecond 0.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// NowNanos implements Clock.
func (c *ManualClock) NowNanos() uint64 {
	return c.now
}

// Advance moves the clock forward by delta nanoseconds.
func (c *ManualClock) Advance(delta uint64) {
	c.now += delta
}

// Set pins the clock to an absolute nanosecond value.
func (c *ManualClock) Set(n uint64) {
	c.now = n
}
