// Package runtime is the controller's single-goroutine event loop: it owns
// the authoritative ControllerState, serializes every event through
// reducer.Reduce, publishes the resulting snapshot, and hands the
// resulting intents to the executor — mirroring the teacher's tcp.run()
// dispatch loop, generalized from IEC 104 sessions to GENISYS polling.
package runtime

import (
	"context"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/betaylor73/wayside"
	"github.com/betaylor73/wayside/exec"
	"github.com/betaylor73/wayside/reducer"
	"github.com/betaylor73/wayside/signal"
)

// Executor is the subset of exec.Executor the Controller drives each step.
type Executor interface {
	Execute(state wayside.ControllerState, intents wayside.IntentSet)
}

// TimerSource is implemented by executors whose armed timers fire their
// callbacks on some other goroutine (a Scheduler's own, in production) and
// need those callbacks run on the controller's loop goroutine instead, so
// they can touch the executor's own bookkeeping without a lock.
// *exec.Executor satisfies this; Run drains it whenever the configured
// Executor does.
type TimerSource interface {
	Fires() <-chan func()
}

// StepObserver receives a notification after every processed event. A
// single obs.LogSink/obs.PrometheusSink value satisfies this alongside
// exec.Observer and transport.Observer, without runtime importing obs.
type StepObserver interface {
	StepProcessed(event wayside.EventKind, station wayside.StationAddress, globalState wayside.GlobalPhase, intentCount int)
}

type nopStepObserver struct{}

func (nopStepObserver) StepProcessed(wayside.EventKind, wayside.StationAddress, wayside.GlobalPhase, int) {
}

// eventQueueSize bounds how many events may be pending before Submit
// blocks the caller; generous enough that a burst of slave replies never
// stalls a transport's receive loop under normal link speeds.
const eventQueueSize = 256

// Controller runs the GENISYS master-side state machine. It is safe to
// call Submit and the read accessors (Snapshot, Status, Materialized) from
// any goroutine; only one goroutine (Run) ever advances state.
type Controller struct {
	executor Executor
	clock    exec.Clock
	logger   *log.Logger
	observer StepObserver

	events chan wayside.Event

	mu    sync.RWMutex
	state wayside.ControllerState

	controlsMu sync.RWMutex
	controls   signal.ControlSet
}

// New returns a Controller for the given fixed station roster, in the
// initial TRANSPORT_DOWN state. controlSize is the capacity of the control
// signal space the controller materializes for SEND_CONTROLS. observer may
// be nil.
func New(stations []wayside.StationAddress, controlSize int, executor Executor, clock exec.Clock, logger *log.Logger, observer StepObserver) *Controller {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	if observer == nil {
		observer = nopStepObserver{}
	}
	return &Controller{
		executor: executor,
		clock:    clock,
		logger:   logger,
		observer: observer,
		events:   make(chan wayside.Event, eventQueueSize),
		state:    wayside.NewControllerState(stations),
		controls: signal.NewControlSet(controlSize),
	}
}

// Submit enqueues an event for processing by Run. It implements
// exec.EventSink so the executor can post ResponseTimeout back onto this
// same queue instead of re-entering the reducer from a timer goroutine.
func (c *Controller) Submit(event wayside.Event) {
	c.events <- event
}

// TransportUp enqueues a TransportUp event timestamped at the current
// instant.
func (c *Controller) TransportUp() {
	c.Submit(wayside.NewTransportUp(c.now()))
}

// TransportDown enqueues a TransportDown event timestamped at the current
// instant.
func (c *Controller) TransportDown() {
	c.Submit(wayside.NewTransportDown(c.now()))
}

// MessageReceived enqueues a MessageReceived event for a message the
// transport layer has already decoded and validated as legal wire content.
func (c *Controller) MessageReceived(station wayside.StationAddress, m wayside.Message) {
	c.Submit(wayside.NewMessageReceived(c.now(), station, m))
}

// SubmitControlDelta merges delta into the materialized control set and
// enqueues a ControlIntentChanged event carrying both the delta and the
// resulting full materialization, per spec §4.3/§4.4.
func (c *Controller) SubmitControlDelta(delta signal.ControlSet) {
	c.controlsMu.Lock()
	full := c.controls.Merge(delta)
	c.controls = full
	c.controlsMu.Unlock()

	c.Submit(wayside.NewControlIntentChanged(c.now(), delta, full))
}

// Materialized implements exec.ControlsSource.
func (c *Controller) Materialized() signal.ControlSet {
	c.controlsMu.RLock()
	defer c.controlsMu.RUnlock()
	return c.controls
}

// Snapshot returns the current ControllerState. The returned value is
// immutable: callers never observe a partially updated state.
func (c *Controller) Snapshot() wayside.ControllerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns the external status projection of the current state, per
// spec §4.6.
func (c *Controller) Status() wayside.Status {
	return wayside.StatusOf(c.Snapshot())
}

// Run drains the event queue until ctx is cancelled, applying Reduce then
// Execute to each event in turn. If the configured Executor is a
// TimerSource, Run also drains its Fires() channel, running each queued
// timer callback in place so it executes on this same goroutine rather
// than whatever goroutine the timer fired on. It must be called from
// exactly one goroutine.
func (c *Controller) Run(ctx context.Context) error {
	var fires <-chan func()
	if ts, ok := c.executor.(TimerSource); ok {
		fires = ts.Fires()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event := <-c.events:
			c.step(event)

		case fn := <-fires:
			fn()
		}
	}
}

func (c *Controller) step(event wayside.Event) {
	before := c.Snapshot()
	next, intents := reducer.Reduce(before, event)

	c.mu.Lock()
	c.state = next
	c.mu.Unlock()

	c.logger.Debug("event processed",
		"event", event.Kind.String(),
		"station", event.Station,
		"global_state", next.GlobalState.String(),
		"intents", len(intents.Intents),
	)
	c.observer.StepProcessed(event.Kind, event.Station, next.GlobalState, len(intents.Intents))

	c.executor.Execute(next, intents)
}

func (c *Controller) now() int64 {
	return int64(c.clock.NowNanos())
}
