package exec

import (
	"sort"
	"time"
)

// CancelHandle is returned by Scheduler.ScheduleAt. Cancel reports whether
// the timer was stopped before it fired, matching time.Timer.Stop's
// contract.
type CancelHandle interface {
	Cancel() bool
}

// Scheduler arms a callback to run at an absolute deadline expressed in the
// same nanosecond domain as the Clock it was built from.
type Scheduler interface {
	ScheduleAt(deadlineNanos uint64, fn func()) CancelHandle
}

// ProductionScheduler arms real timers relative to a Clock.
type ProductionScheduler struct {
	clock Clock
}

// NewProductionScheduler returns a Scheduler backed by time.AfterFunc.
func NewProductionScheduler(clock Clock) *ProductionScheduler {
	return &ProductionScheduler{clock: clock}
}

// ScheduleAt implements Scheduler.
func (s *ProductionScheduler) ScheduleAt(deadlineNanos uint64, fn func()) CancelHandle {
	now := s.clock.NowNanos()
	var delay time.Duration
	if deadlineNanos > now {
		delay = time.Duration(deadlineNanos - now)
	}
	t := time.AfterFunc(delay, fn)
	return &productionHandle{t: t}
}

type productionHandle struct {
	t *time.Timer
}

// Cancel implements CancelHandle.
func (h *productionHandle) Cancel() bool {
	return h.t.Stop()
}

// ManualScheduler is a deterministic, single-goroutine Scheduler for tests:
// Advance fires every due task, in deadline order, oldest-arrival-first on
// ties.
type ManualScheduler struct {
	clock *ManualClock
	tasks []*manualTask
	seq   uint64
}

type manualTask struct {
	deadline  uint64
	seq       uint64
	fn        func()
	fired     bool
	cancelled bool
}

// Cancel implements CancelHandle.
func (t *manualTask) Cancel() bool {
	if t.fired || t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

// NewManualScheduler returns a ManualScheduler driven by clock. Advancing
// clock directly does not fire tasks; call Advance on the scheduler itself.
func NewManualScheduler(clock *ManualClock) *ManualScheduler {
	return &ManualScheduler{clock: clock}
}

// ScheduleAt implements Scheduler.
func (s *ManualScheduler) ScheduleAt(deadlineNanos uint64, fn func()) CancelHandle {
	s.seq++
	t := &manualTask{deadline: deadlineNanos, seq: s.seq, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance moves the clock forward by delta nanoseconds and synchronously
// fires every task whose deadline is now due, in deadline order.
func (s *ManualScheduler) Advance(delta uint64) {
	s.clock.Advance(delta)
	s.fireDue()
}

func (s *ManualScheduler) fireDue() {
	now := s.clock.NowNanos()
	sort.SliceStable(s.tasks, func(i, j int) bool {
		if s.tasks[i].deadline != s.tasks[j].deadline {
			return s.tasks[i].deadline < s.tasks[j].deadline
		}
		return s.tasks[i].seq < s.tasks[j].seq
	})

	var due, remaining []*manualTask
	for _, t := range s.tasks {
		if t.cancelled {
			continue
		}
		if t.deadline > now {
			remaining = append(remaining, t)
		} else {
			due = append(due, t)
		}
	}
	// Installed before firing so that a callback which arms a new timer
	// (re-arm on send, coalescing) appends onto the live slice rather
	// than being clobbered once fireDue returns.
	s.tasks = remaining
	for _, t := range due {
		t.fired = true
		t.fn()
	}
}
