package exec

import (
	"sync"

	"github.com/betaylor73/wayside"
)

// ActivityTracker records, for each station, the monotonic timestamp of the
// most recent accepted semantic activity (a validated, contextually legal
// MessageReceived). The transport adapter writes to it from its own read
// goroutine, ahead of dispatching MessageReceived; the executor consults it
// from the controller's loop goroutine when a response timer fires, per
// spec's "activity wins over timeout". Unlike the executor's other timer
// bookkeeping (armed, seq, controlTimers), which is touched only by the
// single loop goroutine and needs no lock, this one piece of state is
// genuinely written from a different goroutine than it is read from, so it
// carries its own mutex rather than relying on single-threaded discipline.
type ActivityTracker struct {
	mu   sync.Mutex
	last map[wayside.StationAddress]uint64
}

// NewActivityTracker returns an empty ActivityTracker.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{last: make(map[wayside.StationAddress]uint64)}
}

// RecordActivity implements transport.ActivityRecorder. A later, smaller
// timestamp than one already recorded is ignored rather than overwriting:
// activity only ever moves forward.
func (t *ActivityTracker) RecordActivity(station wayside.StationAddress, monotonicNanos uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if monotonicNanos > t.last[station] {
		t.last[station] = monotonicNanos
	}
}

// after reports whether activity was recorded for station strictly after
// sentAt.
func (t *ActivityTracker) after(station wayside.StationAddress, sentAt uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last[station] > sentAt
}
