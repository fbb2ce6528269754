// Package obs provides the pluggable observability sinks spec §6 calls
// for: a structured logger and a Prometheus metrics collector, both
// satisfying the narrow Observer interfaces that exec, transport, and
// runtime each declare locally (this package is never imported by those
// three; they only need the method sets to line up).
package obs

import "github.com/betaylor73/wayside"

// WireTrace activates per-frame send logging and per-step logging in
// LogSink, mirroring the teacher's session.Trace package variable. Received
// frames are not logged; dropped frames are logged whatever its value.
var WireTrace = false

// Sink is the union of every observer method this repository's components
// expect: exec.Observer's three, transport.Observer's one, and
// runtime.StepObserver's one. A single LogSink or PrometheusSink value
// satisfies all three consumer interfaces simultaneously.
type Sink interface {
	Sent(correlationID string, station wayside.StationAddress, kind wayside.MessageKind)
	EncodeFailed(correlationID string, station wayside.StationAddress, kind wayside.MessageKind, err error)
	SendFailed(correlationID string, station wayside.StationAddress, kind wayside.MessageKind, err error)
	FrameDropped(raw []byte, err error)
	StepProcessed(event wayside.EventKind, station wayside.StationAddress, globalState wayside.GlobalPhase, intentCount int)
}

// NopSink discards every notification.
type NopSink struct{}

func (NopSink) Sent(string, wayside.StationAddress, wayside.MessageKind)               {}
func (NopSink) EncodeFailed(string, wayside.StationAddress, wayside.MessageKind, error) {}
func (NopSink) SendFailed(string, wayside.StationAddress, wayside.MessageKind, error)   {}
func (NopSink) FrameDropped([]byte, error)                                              {}
func (NopSink) StepProcessed(wayside.EventKind, wayside.StationAddress, wayside.GlobalPhase, int) {
}

// MultiSink fans a single notification out to every sink in the slice, in
// order. Useful for running LogSink and PrometheusSink side by side.
type MultiSink []Sink

func (m MultiSink) Sent(correlationID string, station wayside.StationAddress, kind wayside.MessageKind) {
	for _, s := range m {
		s.Sent(correlationID, station, kind)
	}
}

func (m MultiSink) EncodeFailed(correlationID string, station wayside.StationAddress, kind wayside.MessageKind, err error) {
	for _, s := range m {
		s.EncodeFailed(correlationID, station, kind, err)
	}
}

func (m MultiSink) SendFailed(correlationID string, station wayside.StationAddress, kind wayside.MessageKind, err error) {
	for _, s := range m {
		s.SendFailed(correlationID, station, kind, err)
	}
}

func (m MultiSink) FrameDropped(raw []byte, err error) {
	for _, s := range m {
		s.FrameDropped(raw, err)
	}
}

func (m MultiSink) StepProcessed(event wayside.EventKind, station wayside.StationAddress, globalState wayside.GlobalPhase, intentCount int) {
	for _, s := range m {
		s.StepProcessed(event, station, globalState, intentCount)
	}
}
