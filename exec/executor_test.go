package exec_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betaylor73/wayside"
	"github.com/betaylor73/wayside/exec"
	"github.com/betaylor73/wayside/signal"
	"github.com/betaylor73/wayside/wire"
)

const indSize = 8
const ctrlSize = 8

func testCodec() wire.Codec {
	return wire.NewCodec(
		signal.NewDefaultCodec[signal.Indication](indSize),
		signal.NewDefaultCodec[signal.Control](ctrlSize),
	)
}

type fakeSender struct {
	sent []sentMessage
}

type sentMessage struct {
	station wayside.StationAddress
	payload []byte
}

func (s *fakeSender) Send(station wayside.StationAddress, payload []byte) error {
	s.sent = append(s.sent, sentMessage{station: station, payload: payload})
	return nil
}

func (s *fakeSender) decode(c wire.Codec, i int) wayside.Message {
	m, err := c.DecodeMessage(s.sent[i].payload)
	if err != nil {
		panic(err)
	}
	return m
}

type fakeControls struct {
	set signal.ControlSet
}

func (f fakeControls) Materialized() signal.ControlSet { return f.set }

type fakeEvents struct {
	submitted []wayside.Event
}

func (f *fakeEvents) Submit(e wayside.Event) { f.submitted = append(f.submitted, e) }

func newTestExecutor(stations []wayside.StationAddress) (*exec.Executor, *fakeSender, *fakeEvents, *exec.ManualClock, *exec.ManualScheduler, wire.Codec) {
	codec := testCodec()
	sender := &fakeSender{}
	events := &fakeEvents{}
	clock := exec.NewManualClock()
	scheduler := exec.NewManualScheduler(clock)
	controls := fakeControls{set: signal.NewControlSet(ctrlSize)}

	cfg := exec.Config{
		ResponseTimeout:       500 * time.Millisecond,
		RecallRetryDelay:      250 * time.Millisecond,
		PollMinGap:            10 * time.Millisecond,
		ControlCoalesceWindow: 50 * time.Millisecond,
	}

	e := exec.NewExecutor(codec, sender, clock, scheduler, controls, events, nil, stations, cfg, nil)
	return e, sender, events, clock, scheduler, codec
}

// newTestExecutorWithActivity is newTestExecutor with a caller-supplied
// ActivityTracker, for tests that need to record activity themselves the way
// the transport adapter would.
func newTestExecutorWithActivity(stations []wayside.StationAddress, activity *exec.ActivityTracker) (*exec.Executor, *fakeSender, *fakeEvents, *exec.ManualClock, *exec.ManualScheduler, wire.Codec) {
	codec := testCodec()
	sender := &fakeSender{}
	events := &fakeEvents{}
	clock := exec.NewManualClock()
	scheduler := exec.NewManualScheduler(clock)
	controls := fakeControls{set: signal.NewControlSet(ctrlSize)}

	cfg := exec.Config{
		ResponseTimeout:       500 * time.Millisecond,
		RecallRetryDelay:      250 * time.Millisecond,
		PollMinGap:            10 * time.Millisecond,
		ControlCoalesceWindow: 50 * time.Millisecond,
	}

	e := exec.NewExecutor(codec, sender, clock, scheduler, controls, events, nil, stations, cfg, activity)
	return e, sender, events, clock, scheduler, codec
}

// drainFires runs every timer callback currently queued on e.Fires(),
// synchronously, in the calling goroutine. Production code never does this
// directly: the controller runtime's event loop does it, one callback at a
// time, as part of draining its own select loop. A ManualScheduler already
// fires its due tasks synchronously in the calling goroutine (there is no
// separate timer goroutine to race), so a test driving the Executor
// directly plays the loop's part itself, right after advancing the clock.
func drainFires(e *exec.Executor) {
	for {
		select {
		case fn := <-e.Fires():
			fn()
		default:
			return
		}
	}
}

func stations(ns ...int) []wayside.StationAddress {
	out := make([]wayside.StationAddress, len(ns))
	for i, n := range ns {
		out[i] = wayside.StationAddress(n)
	}
	return out
}

func TestBeginInitializationSendsRecallToEveryStation(t *testing.T) {
	e, sender, _, _, _, codec := newTestExecutor(stations(1, 2, 3))
	state := wayside.NewControllerState(stations(1, 2, 3))

	e.Execute(state, wayside.SingleNoTarget(wayside.BeginInitialization))

	require.Len(t, sender.sent, 3)
	seen := map[wayside.StationAddress]bool{}
	for i := range sender.sent {
		msg := sender.decode(codec, i)
		assert.Equal(t, wayside.Recall, msg.Kind)
		seen[msg.Station] = true
	}
	assert.True(t, seen[1])
	assert.True(t, seen[2])
	assert.True(t, seen[3])
}

func TestSuspendAllCancelsTimersAndStopsSends(t *testing.T) {
	e, sender, events, _, scheduler, _ := newTestExecutor(stations(1))
	state := wayside.NewControllerState(stations(1))

	e.Execute(state, wayside.SingleNoTarget(wayside.BeginInitialization))
	require.Len(t, sender.sent, 1)

	e.Execute(state, wayside.SingleNoTarget(wayside.SuspendAll))

	// The armed recall-retry timer must not fire: advance well past it.
	scheduler.Advance(uint64(time.Second))
	drainFires(e)
	assert.Empty(t, events.submitted)

	// Further non-dominant intents are ignored while suspended.
	e.Execute(state, wayside.Single(wayside.SendRecall, 1))
	assert.Len(t, sender.sent, 1)
}

func TestResponseTimeoutFiresWhenUnanswered(t *testing.T) {
	e, sender, events, _, scheduler, _ := newTestExecutor(stations(1))
	state := wayside.NewControllerState(stations(1))

	e.Execute(state, wayside.SingleNoTarget(wayside.BeginInitialization))
	require.Len(t, sender.sent, 1)

	// BeginInitialization sends Recall, armed with RecallRetryDelay (250ms).
	scheduler.Advance(uint64(200 * time.Millisecond))
	drainFires(e)
	assert.Empty(t, events.submitted)

	scheduler.Advance(uint64(100 * time.Millisecond))
	drainFires(e)
	require.Len(t, events.submitted, 1)
	assert.Equal(t, wayside.ResponseTimeout, events.submitted[0].Kind)
	assert.Equal(t, wayside.StationAddress(1), events.submitted[0].Station)
}

// TestActivityRearmSilencesStaleTimeout models "activity wins over
// timeout": a second intent for the same station (as the reducer would
// emit upon a MessageReceived) re-arms the timer, which cancels and
// invalidates the originally armed one even though the scheduler object
// stays the same.
func TestActivityRearmSilencesStaleTimeout(t *testing.T) {
	e, _, events, _, scheduler, _ := newTestExecutor(stations(1))
	state := wayside.NewControllerState(stations(1))

	e.Execute(state, wayside.Single(wayside.SendRecall, 1))
	scheduler.Advance(uint64(100 * time.Millisecond))

	// Simulate the reducer reacting to a reply by re-arming via
	// SEND_CONTROLS before the original recall-retry timer would fire.
	e.Execute(state, wayside.Single(wayside.SendControls, 1))

	// Advance past the original recall-retry deadline (250ms from t=0);
	// only the SEND_CONTROLS timer (500ms response timeout from t=100ms)
	// should ever fire, and only once.
	scheduler.Advance(uint64(200 * time.Millisecond)) // t=300ms
	drainFires(e)
	assert.Empty(t, events.submitted)

	scheduler.Advance(uint64(400 * time.Millisecond)) // t=700ms
	drainFires(e)
	require.Len(t, events.submitted, 1)
}

// TestActivityWinsOverTimeoutAcrossStations models the multi-station case
// TestActivityRearmSilencesStaleTimeout does not cover: station 1 replies
// quickly, but its own response timer stays armed (round-robin moves on to
// polling station 2, it does not cancel station 1's timer), and station 2's
// later response timeout keeps the loop busy until well past station 1's
// original deadline. Station 1's eventual timer firing must still be
// suppressed, because activity was recorded for it after its send.
func TestActivityWinsOverTimeoutAcrossStations(t *testing.T) {
	activity := exec.NewActivityTracker()
	e, _, events, clock, scheduler, _ := newTestExecutorWithActivity(stations(1, 2), activity)
	state := wayside.NewControllerState(stations(1, 2))

	// Poll station 1 at t=0ms; its response timeout is armed for t=500ms.
	e.Execute(state, wayside.SingleNoTarget(wayside.PollNext))

	// Station 1 replies at t=5ms. The transport adapter records this ahead
	// of submitting MessageReceived; the reducer's resulting PollNext(1)
	// only tells the executor to advance the round robin to station 2, not
	// to cancel station 1's own timer.
	clock.Advance(uint64(5 * time.Millisecond))
	activity.RecordActivity(1, clock.NowNanos())
	e.Execute(state, wayside.Single(wayside.PollNext, 1))

	// Advancing 500ms from here (to t=505ms) fires both station 2's
	// poll-min-gap deferral (due at t=10ms) and station 1's original
	// response timeout (due at t=500ms) in the same pass.
	scheduler.Advance(uint64(500 * time.Millisecond))
	drainFires(e)

	for _, ev := range events.submitted {
		assert.NotEqual(t, wayside.StationAddress(1), ev.Station,
			"station 1's response timeout must be suppressed by its recorded activity")
	}
}

func TestRetryCurrentResendsLastMessage(t *testing.T) {
	e, sender, _, _, _, codec := newTestExecutor(stations(1))
	state := wayside.NewControllerState(stations(1))

	e.Execute(state, wayside.Single(wayside.SendControls, 1))
	require.Len(t, sender.sent, 1)
	first := sender.decode(codec, 0)

	e.Execute(state, wayside.Single(wayside.RetryCurrent, 1))
	require.Len(t, sender.sent, 2)
	second := sender.decode(codec, 1)

	assert.Equal(t, first.Kind, second.Kind)
	assert.Equal(t, first.Station, second.Station)
}

func TestPollNextWrapsRoundRobin(t *testing.T) {
	e, sender, _, clock, _, codec := newTestExecutor(stations(1, 2, 3))
	state := wayside.NewControllerState(stations(1, 2, 3))

	// First poll (no target): station 1.
	e.Execute(state, wayside.SingleNoTarget(wayside.PollNext))
	clock.Advance(uint64(time.Second))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, wayside.StationAddress(1), sender.decode(codec, 0).Station)

	// Next with target 1: wraps to station 2.
	clock.Advance(uint64(time.Second))
	e.Execute(state, wayside.Single(wayside.PollNext, 1))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, wayside.StationAddress(2), sender.decode(codec, 1).Station)

	// Next with target 3 (the last station): wraps back to station 1.
	clock.Advance(uint64(time.Second))
	e.Execute(state, wayside.Single(wayside.PollNext, 3))
	require.Len(t, sender.sent, 3)
	assert.Equal(t, wayside.StationAddress(1), sender.decode(codec, 2).Station)
}

func TestPollNextSendsAcknowledgeAndPollWhenPending(t *testing.T) {
	e, sender, _, clock, _, codec := newTestExecutor(stations(1))
	state := wayside.NewControllerState(stations(1))
	state.Slaves[1] = wayside.SlaveState{Phase: wayside.PollPhase, AcknowledgmentPending: true}

	e.Execute(state, wayside.SingleNoTarget(wayside.PollNext))
	clock.Advance(uint64(time.Second))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, wayside.AcknowledgeAndPoll, sender.decode(codec, 0).Kind)
}

func TestPollMinGapDefersSecondPoll(t *testing.T) {
	e, sender, _, _, scheduler, codec := newTestExecutor(stations(1, 2))
	state := wayside.NewControllerState(stations(1, 2))

	e.Execute(state, wayside.SingleNoTarget(wayside.PollNext))
	require.Len(t, sender.sent, 1)

	// Immediately poll the next station: must not send yet, gap unmet.
	e.Execute(state, wayside.Single(wayside.PollNext, 1))
	assert.Len(t, sender.sent, 1)

	// Advance past the 10ms gap: the deferred poll fires.
	scheduler.Advance(uint64(11 * time.Millisecond))
	drainFires(e)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, wayside.StationAddress(2), sender.decode(codec, 1).Station)
}

func TestScheduleControlDeliveryCoalescesRepeatedCalls(t *testing.T) {
	e, sender, _, _, scheduler, codec := newTestExecutor(stations(1, 2))
	state := wayside.NewControllerState(stations(1, 2))
	state.Slaves[1] = wayside.SlaveState{Phase: wayside.PollPhase, ControlPending: true}
	state.Slaves[2] = wayside.SlaveState{Phase: wayside.PollPhase, ControlPending: true}

	e.Execute(state, wayside.SingleNoTarget(wayside.ScheduleControlDelivery))
	// A second ControlIntentChanged arriving before the window elapses
	// must not arm a second timer per station.
	e.Execute(state, wayside.SingleNoTarget(wayside.ScheduleControlDelivery))
	assert.Empty(t, sender.sent)

	scheduler.Advance(uint64(51 * time.Millisecond))
	drainFires(e)
	require.Len(t, sender.sent, 2)
	kinds := map[wayside.StationAddress]wayside.MessageKind{}
	for i := range sender.sent {
		msg := sender.decode(codec, i)
		kinds[msg.Station] = msg.Kind
	}
	assert.Equal(t, wayside.ControlData, kinds[1])
	assert.Equal(t, wayside.ControlData, kinds[2])
}

func TestSendAndArmIsIdempotentAcrossRepeatedIntents(t *testing.T) {
	e, sender, events, _, scheduler, _ := newTestExecutor(stations(1))
	state := wayside.NewControllerState(stations(1))

	for i := 0; i < 3; i++ {
		e.Execute(state, wayside.Single(wayside.SendRecall, 1))
	}
	assert.Len(t, sender.sent, 3)

	// Only the final (third) arm's timer should ever fire.
	scheduler.Advance(uint64(251 * time.Millisecond))
	drainFires(e)
	assert.Len(t, events.submitted, 1)
}
