package exec

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/betaylor73/wayside"
	"github.com/betaylor73/wayside/signal"
	"github.com/betaylor73/wayside/wire"
)

// Sender delivers an already-encoded datagram to a station. Implementations
// live in package transport.
type Sender interface {
	Send(station wayside.StationAddress, payload []byte) error
}

// ControlsSource supplies the currently materialized control set the
// executor should send on SEND_CONTROLS. The controller runtime implements
// this over its own host-submitted control state.
type ControlsSource interface {
	Materialized() signal.ControlSet
}

// EventSink accepts events the executor synthesizes outside the normal
// transport-receive path: specifically ResponseTimeout, posted back onto
// the controller's own event queue rather than re-entering the reducer
// directly from a timer goroutine.
type EventSink interface {
	Submit(event wayside.Event)
}

// Observer receives best-effort notifications of executor activity for
// logging/metrics. Every send attempt is tagged with a correlation ID
// generated once per attempt, so a logging or metrics sink can tie a send
// to whatever response (or timeout) eventually follows it. A nil Observer
// is never invoked; use NopObserver to get a safe default explicitly.
type Observer interface {
	Sent(correlationID string, station wayside.StationAddress, kind wayside.MessageKind)
	EncodeFailed(correlationID string, station wayside.StationAddress, kind wayside.MessageKind, err error)
	SendFailed(correlationID string, station wayside.StationAddress, kind wayside.MessageKind, err error)
}

// NopObserver discards every notification.
type NopObserver struct{}

func (NopObserver) Sent(string, wayside.StationAddress, wayside.MessageKind)               {}
func (NopObserver) EncodeFailed(string, wayside.StationAddress, wayside.MessageKind, error) {}
func (NopObserver) SendFailed(string, wayside.StationAddress, wayside.MessageKind, error)   {}

// Config holds the executor's timing parameters. Defaults follow spec §5.
type Config struct {
	// ResponseTimeout bounds how long the executor waits for a reply to
	// Poll, AcknowledgeAndPoll or ControlData before injecting
	// ResponseTimeout.
	ResponseTimeout time.Duration
	// RecallRetryDelay bounds how long the executor waits for a reply to
	// Recall, including the periodic probe of a FAILED slave.
	RecallRetryDelay time.Duration
	// PollMinGap is the minimum spacing enforced between two outbound
	// Poll/AcknowledgeAndPoll sends across the whole link, regardless of
	// station, so the round-robin loop cannot saturate the channel.
	PollMinGap time.Duration
	// ControlCoalesceWindow is how long SCHEDULE_CONTROL_DELIVERY waits
	// before materializing and sending ControlData to each pending
	// slave, so that several rapid ControlIntentChanged events collapse
	// into a single delivery per slave.
	ControlCoalesceWindow time.Duration
	// SecurePolls selects whether routine Poll messages request a CRC.
	SecurePolls bool
}

// DefaultConfig returns the spec §5 default timings.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout:       500 * time.Millisecond,
		RecallRetryDelay:      250 * time.Millisecond,
		PollMinGap:            10 * time.Millisecond,
		ControlCoalesceWindow: 50 * time.Millisecond,
		SecurePolls:           false,
	}
}

// fireQueueSize bounds how many timer callbacks may be queued for the loop
// goroutine before a fired timer's send onto the queue blocks; generous enough that a
// burst of simultaneous expirations across every station never stalls a
// production timer goroutine.
const fireQueueSize = 256

// Executor carries out reducer intents: it owns every armed timer and is
// the only component in this module that performs I/O. It is driven
// single-threaded by the controller runtime's event loop, in lockstep with
// Reduce: one event in, the resulting state published, then Execute called
// with the resulting intents. Every timer this executor arms fires its
// callback on whatever goroutine the Scheduler uses for it (time.AfterFunc's
// own goroutine, in production); that callback never touches armed, seq or
// controlTimers directly. Instead it posts a closure onto fires, which the
// controller runtime's loop goroutine drains via Fires() and runs in place
// of the timer goroutine, so every read and write of this executor's timer
// bookkeeping happens on exactly one goroutine.
type Executor struct {
	codec     wire.Codec
	sender    Sender
	clock     Clock
	scheduler Scheduler
	controls  ControlsSource
	events    EventSink
	observer  Observer
	activity  *ActivityTracker
	config    Config

	stations []wayside.StationAddress // ascending, fixed at construction

	suspended bool

	lastSent      map[wayside.StationAddress]wayside.Message
	armed         map[wayside.StationAddress]CancelHandle
	seq           map[wayside.StationAddress]uint64
	controlTimers map[wayside.StationAddress]CancelHandle
	controlSeq    map[wayside.StationAddress]uint64

	lastPollSentAt uint64
	pollEverSent   bool

	fires chan func()
}

// NewExecutor returns an Executor for the given fixed station roster.
// stations need not be sorted; NewExecutor sorts its own copy for
// round-robin purposes. activity must be the same ActivityTracker the
// transport adapter records inbound activity into, so send and activity
// timestamps are comparable; a nil activity tracker is replaced with a
// fresh, permanently-empty one (every timeout fires, never suppressed).
func NewExecutor(codec wire.Codec, sender Sender, clock Clock, scheduler Scheduler, controls ControlsSource, events EventSink, observer Observer, stations []wayside.StationAddress, config Config, activity *ActivityTracker) *Executor {
	if observer == nil {
		observer = NopObserver{}
	}
	if activity == nil {
		activity = NewActivityTracker()
	}
	cp := make([]wayside.StationAddress, len(stations))
	copy(cp, stations)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })

	return &Executor{
		codec:         codec,
		sender:        sender,
		clock:         clock,
		scheduler:     scheduler,
		controls:      controls,
		events:        events,
		observer:      observer,
		activity:      activity,
		config:        config,
		stations:      cp,
		lastSent:      make(map[wayside.StationAddress]wayside.Message),
		armed:         make(map[wayside.StationAddress]CancelHandle),
		seq:           make(map[wayside.StationAddress]uint64),
		controlTimers: make(map[wayside.StationAddress]CancelHandle),
		controlSeq:    make(map[wayside.StationAddress]uint64),
		fires:         make(chan func(), fireQueueSize),
	}
}

// Fires implements runtime.TimerSource. The controller's loop goroutine
// drains this channel alongside its own event queue and runs each closure
// in place, which is what lets timer callbacks touch this executor's
// bookkeeping safely without their own lock.
func (e *Executor) Fires() <-chan func() {
	return e.fires
}

// Execute carries out every intent in the set against the given freshly
// published state, per the dominance rules of spec §4.5: SUSPEND_ALL and
// BEGIN_INITIALIZATION are always produced alone by the reducer and are
// handled here before anything else.
func (e *Executor) Execute(state wayside.ControllerState, intents wayside.IntentSet) {
	if intents.Has(wayside.SuspendAll) {
		e.cancelAllTimers()
		e.suspended = true
		return
	}

	if intents.Has(wayside.BeginInitialization) {
		e.cancelAllTimers()
		e.suspended = false
		for _, station := range e.stations {
			e.sendRecall(station)
		}
		return
	}

	if e.suspended {
		return
	}

	for _, intent := range intents.Intents {
		switch intent.Kind {
		case wayside.SendRecall:
			e.requireTarget(intent)
			e.sendRecall(intent.Target)

		case wayside.SendControls:
			e.requireTarget(intent)
			e.sendControls(intent.Target)

		case wayside.RetryCurrent:
			e.requireTarget(intent)
			e.retryCurrent(intent.Target)

		case wayside.PollNext:
			e.pollNext(state, intent)

		case wayside.ScheduleControlDelivery:
			e.scheduleControlDelivery(state)
		}
	}
}

func (e *Executor) requireTarget(intent wayside.Intent) {
	if !intent.HasTarget {
		panic(wayside.ErrMissingTarget{Kind: intent.Kind})
	}
}

func (e *Executor) sendRecall(station wayside.StationAddress) {
	e.sendAndArm(station, wayside.NewRecall(station), e.config.RecallRetryDelay)
}

func (e *Executor) sendControls(station wayside.StationAddress) {
	ctrl := e.controls.Materialized()
	e.sendAndArm(station, wayside.NewControlData(station, ctrl), e.config.ResponseTimeout)
}

func (e *Executor) retryCurrent(station wayside.StationAddress) {
	msg, ok := e.lastSent[station]
	if !ok {
		return
	}
	e.sendAndArm(station, msg, e.config.ResponseTimeout)
}

// pollNext selects the next station by ascending address, wrapping after
// the intent's target (the station just processed) or starting at the
// first configured station if the intent carries none (the first ever
// poll), then emits AcknowledgeAndPoll or Poll depending on that station's
// acknowledgment-pending flag, per spec §4.5.
func (e *Executor) pollNext(state wayside.ControllerState, intent wayside.Intent) {
	if len(e.stations) == 0 {
		return
	}

	var station wayside.StationAddress
	if intent.HasTarget {
		station = e.stations[(e.indexOf(intent.Target)+1)%len(e.stations)]
	} else {
		station = e.stations[0]
	}

	slave := state.Slaves[station]
	var msg wayside.Message
	if slave.AcknowledgmentPending {
		msg = wayside.NewAcknowledgeAndPoll(station)
	} else {
		msg = wayside.NewPoll(station, e.config.SecurePolls)
	}

	e.sendPollRespectingGap(station, msg)
}

func (e *Executor) indexOf(station wayside.StationAddress) int {
	for i, s := range e.stations {
		if s == station {
			return i
		}
	}
	return -1
}

// sendPollRespectingGap enforces PollMinGap across the whole link: if not
// enough time has elapsed since the previous poll-class send, the send is
// deferred to fire exactly when the gap expires rather than immediately.
func (e *Executor) sendPollRespectingGap(station wayside.StationAddress, msg wayside.Message) {
	now := e.clock.NowNanos()
	gap := uint64(e.config.PollMinGap.Nanoseconds())
	earliest := e.lastPollSentAt + gap
	if !e.pollEverSent || now >= earliest {
		e.lastPollSentAt = now
		e.pollEverSent = true
		e.sendAndArm(station, msg, e.config.ResponseTimeout)
		return
	}
	e.scheduler.ScheduleAt(earliest, func() {
		e.fires <- func() {
			e.lastPollSentAt = earliest
			e.sendAndArm(station, msg, e.config.ResponseTimeout)
		}
	})
}

// scheduleControlDelivery arms, for every slave marked control-pending in
// state that does not already have a coalescing timer running, a one-shot
// timer that sends ControlData when it fires. Re-entrant calls while a
// timer is already running for a station are no-ops: this is what collapses
// several rapid ControlIntentChanged events into one delivery per slave.
func (e *Executor) scheduleControlDelivery(state wayside.ControllerState) {
	for _, station := range e.stations {
		slave, ok := state.Slaves[station]
		if !ok || !slave.ControlPending {
			continue
		}
		if _, armed := e.controlTimers[station]; armed {
			continue
		}
		e.controlSeq[station]++
		mySeq := e.controlSeq[station]
		deadline := e.clock.NowNanos() + uint64(e.config.ControlCoalesceWindow.Nanoseconds())
		station := station
		e.controlTimers[station] = e.scheduler.ScheduleAt(deadline, func() {
			e.fires <- func() { e.handleControlTimerFired(station, mySeq) }
		})
	}
}

// handleControlTimerFired runs on the loop goroutine (via fires). mySeq
// guards against a timer that fired just as cancelAllTimers (or a
// coincident re-arm) invalidated it: if the station's sequence has moved on
// since this timer was armed, the delivery it would have sent is stale.
func (e *Executor) handleControlTimerFired(station wayside.StationAddress, mySeq uint64) {
	if e.controlSeq[station] != mySeq {
		return
	}
	delete(e.controlTimers, station)
	e.sendControls(station)
}

// sendAndArm encodes and sends msg, remembers it as the station's
// last-sent message for RETRY_CURRENT, and arms a single-flight response
// timer. Arming cancels any timer already running for the station and
// bumps its sequence number, so a stale callback from the cancelled timer
// is dropped by handleTimerFired rather than acted on; "semantic activity
// wins over timeout" itself is enforced there too, by comparing the send
// timestamp captured here against the activity tracker shared with the
// transport adapter.
func (e *Executor) sendAndArm(station wayside.StationAddress, msg wayside.Message, timeout time.Duration) {
	correlationID := uuid.NewString()

	payload, err := e.codec.EncodeMessage(msg)
	if err != nil {
		e.observer.EncodeFailed(correlationID, station, msg.Kind, err)
		return
	}

	if err := e.sender.Send(station, payload); err != nil {
		e.observer.SendFailed(correlationID, station, msg.Kind, err)
		return
	}
	e.observer.Sent(correlationID, station, msg.Kind)
	e.lastSent[station] = msg

	e.armTimer(station, timeout)
}

func (e *Executor) armTimer(station wayside.StationAddress, timeout time.Duration) {
	if h, ok := e.armed[station]; ok {
		h.Cancel()
	}
	e.seq[station]++
	mySeq := e.seq[station]

	sentAt := e.clock.NowNanos()
	deadline := sentAt + uint64(timeout.Nanoseconds())
	e.armed[station] = e.scheduler.ScheduleAt(deadline, func() {
		e.fires <- func() { e.handleTimerFired(station, mySeq, sentAt) }
	})
}

// handleTimerFired runs on the loop goroutine (via fires), never on the
// scheduler's own timer goroutine: it is the only place armed and seq are
// read or written outside of armTimer/cancelAllTimers, both of which also
// run only on the loop goroutine (from Execute, or from a closure drained
// off fires). mySeq guards against a timer that fired just
// as a later intent re-armed or cancelled it (a stale callback from a
// cancelled/re-armed timer is dropped). Past that, a recorded activity
// timestamp later than sentAt means a reply for this station was accepted
// after the send that armed this timer, so the timeout is suppressed
// instead of injected: "semantic activity wins over timeout".
func (e *Executor) handleTimerFired(station wayside.StationAddress, mySeq uint64, sentAt uint64) {
	if e.seq[station] != mySeq {
		return
	}
	delete(e.armed, station)
	if e.activity.after(station, sentAt) {
		return
	}
	e.events.Submit(wayside.NewResponseTimeout(int64(e.clock.NowNanos()), station))
}

// cancelAllTimers stops every armed response timer and every coalescing
// control timer, and bumps every station's sequence number so an
// in-flight-but-not-yet-delivered fire becomes stale.
func (e *Executor) cancelAllTimers() {
	for station, h := range e.armed {
		h.Cancel()
		e.seq[station]++
	}
	e.armed = make(map[wayside.StationAddress]CancelHandle)

	for station, h := range e.controlTimers {
		h.Cancel()
		e.controlSeq[station]++
	}
	e.controlTimers = make(map[wayside.StationAddress]CancelHandle)
}
