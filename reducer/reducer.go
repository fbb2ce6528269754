// Package reducer implements the pure GENISYS protocol state machine: a
// function (state, event) -> (state', intents) with no I/O, no time, and
// no randomness, per spec §4.4.
//
// Open Question resolved here: the global controller phase
// advances from INITIALIZING to RUNNING the first time any per-slave
// activity (MessageReceived or ResponseTimeout) is processed after
// TransportUp. Spec §3 requires RUNNING to imply at least one slave
// present, which TransportUp already guarantees by construction.
package reducer

import (
	"github.com/betaylor73/wayside"
)

// Reduce is the single entry point: it never mutates state, never performs
// I/O, and is safe to call repeatedly with the same arguments (property 4
// of spec §8: reducer purity).
func Reduce(state wayside.ControllerState, event wayside.Event) (wayside.ControllerState, wayside.IntentSet) {
	switch event.Kind {
	case wayside.TransportUp:
		return reduceTransportUp(state, event)
	case wayside.TransportDown:
		return reduceTransportDown(state, event)
	case wayside.MessageReceived:
		return reduceMessageReceived(state, event)
	case wayside.ResponseTimeout:
		return reduceResponseTimeout(state, event)
	case wayside.ControlIntentChanged:
		return reduceControlIntentChanged(state, event)
	default:
		panic("reducer: unknown event kind")
	}
}

func reduceTransportUp(state wayside.ControllerState, event wayside.Event) (wayside.ControllerState, wayside.IntentSet) {
	next := state.WithGlobalState(wayside.Initializing, event.TS)
	for station := range next.Slaves {
		next = next.WithSlave(station, freshSlaveState(event.TS), event.TS)
	}
	return next, wayside.SingleNoTarget(wayside.BeginInitialization)
}

func reduceTransportDown(state wayside.ControllerState, event wayside.Event) (wayside.ControllerState, wayside.IntentSet) {
	next := state.WithGlobalState(wayside.TransportDownPhase, event.TS)
	return next, wayside.SingleNoTarget(wayside.SuspendAll)
}

func reduceMessageReceived(state wayside.ControllerState, event wayside.Event) (wayside.ControllerState, wayside.IntentSet) {
	slave, ok := state.Slaves[event.Station]
	if !ok {
		panic(wayside.ErrUnknownStation{Station: event.Station})
	}

	base := maybeEnterRunning(state, event.TS)

	if slave.Phase == wayside.Failed {
		slave.Phase = wayside.Recall
		slave.ConsecutiveFailures = 0
		slave.LastTransitionTS = event.TS
		next := base.WithSlave(event.Station, slave, event.TS)
		return next, wayside.Single(wayside.SendRecall, event.Station)
	}

	switch slave.Phase {
	case wayside.Recall:
		if event.Message.Kind == wayside.IndicationData {
			slave.Phase = wayside.SendControls
			slave.AcknowledgmentPending = true
			slave.ConsecutiveFailures = 0
			slave.LastTransitionTS = event.TS
			next := base.WithSlave(event.Station, slave, event.TS)
			return next, wayside.Single(wayside.SendControls, event.Station)
		}
		// Other legal messages in RECALL are not expected: no-op retain.
		return base, wayside.IntentSet{}

	case wayside.SendControls:
		slave.Phase = wayside.PollPhase
		slave.ControlPending = false
		slave.AcknowledgmentPending = false
		slave.ConsecutiveFailures = 0
		slave.LastTransitionTS = event.TS
		next := base.WithSlave(event.Station, slave, event.TS)
		return next, wayside.Single(wayside.PollNext, event.Station)

	case wayside.PollPhase:
		switch event.Message.Kind {
		case wayside.Acknowledge:
			slave.AcknowledgmentPending = false
		case wayside.IndicationData:
			slave.AcknowledgmentPending = true
		}
		slave.ConsecutiveFailures = 0
		slave.LastTransitionTS = event.TS
		next := base.WithSlave(event.Station, slave, event.TS)
		return next, wayside.Single(wayside.PollNext, event.Station)

	default:
		// Uninitialized: no-op retain; a message should never legally
		// arrive before TransportUp has moved the slave to RECALL.
		return base, wayside.IntentSet{}
	}
}

func reduceResponseTimeout(state wayside.ControllerState, event wayside.Event) (wayside.ControllerState, wayside.IntentSet) {
	slave, ok := state.Slaves[event.Station]
	if !ok {
		panic(wayside.ErrUnknownStation{Station: event.Station})
	}

	base := maybeEnterRunning(state, event.TS)

	switch slave.Phase {
	case wayside.Recall:
		// Do not increment failures during RECALL.
		slave.LastTransitionTS = event.TS
		next := base.WithSlave(event.Station, slave, event.TS)
		return next, wayside.Single(wayside.SendRecall, event.Station)

	case wayside.SendControls:
		slave.ConsecutiveFailures++
		slave.LastTransitionTS = event.TS
		if slave.ConsecutiveFailures >= wayside.FailThreshold {
			slave.Phase = wayside.Failed
			next := base.WithSlave(event.Station, slave, event.TS)
			return next, wayside.Single(wayside.SendRecall, event.Station)
		}
		next := base.WithSlave(event.Station, slave, event.TS)
		return next, wayside.Single(wayside.SendControls, event.Station)

	case wayside.PollPhase:
		slave.ConsecutiveFailures++
		slave.LastTransitionTS = event.TS
		if slave.ConsecutiveFailures >= wayside.FailThreshold {
			slave.Phase = wayside.Failed
			next := base.WithSlave(event.Station, slave, event.TS)
			return next, wayside.Single(wayside.SendRecall, event.Station)
		}
		next := base.WithSlave(event.Station, slave, event.TS)
		return next, wayside.Single(wayside.RetryCurrent, event.Station)

	case wayside.Failed:
		// Periodic probe; the executor rate-limits the actual resend.
		slave.LastTransitionTS = event.TS
		next := base.WithSlave(event.Station, slave, event.TS)
		return next, wayside.Single(wayside.SendRecall, event.Station)

	default:
		return base, wayside.IntentSet{}
	}
}

func reduceControlIntentChanged(state wayside.ControllerState, event wayside.Event) (wayside.ControllerState, wayside.IntentSet) {
	next := state.Clone()
	next.TS = event.TS
	for station, slave := range next.Slaves {
		slave.ControlPending = true
		next.Slaves[station] = slave
	}
	return next, wayside.SingleNoTarget(wayside.ScheduleControlDelivery)
}

// maybeEnterRunning advances GlobalState from INITIALIZING to RUNNING on
// the first per-slave activity processed after TransportUp. See the
// package doc comment for the Open Question this resolves.
func maybeEnterRunning(state wayside.ControllerState, ts int64) wayside.ControllerState {
	if state.GlobalState != wayside.Initializing {
		return state.Clone()
	}
	return state.WithGlobalState(wayside.Running, ts)
}

// freshSlaveState returns a slave reset to its post-TransportUp state:
// RECALL phase, counters cleared.
func freshSlaveState(ts int64) wayside.SlaveState {
	return wayside.SlaveState{Phase: wayside.Recall, LastTransitionTS: ts}
}
