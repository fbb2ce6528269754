package obs

import (
	"github.com/charmbracelet/log"

	"github.com/betaylor73/wayside"
)

// LogSink renders send/drop/step activity as structured log lines via
// charmbracelet/log, grounded on the teacher's Trace-gated Printf calls in
// session/tcp.go's recvLoop/sendLoop, upgraded to key-value fields.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink returns a LogSink writing through logger.
func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Sent implements Sink. Gated by WireTrace: a send happens on every poll
// cycle, so logging it unconditionally would drown out everything else.
func (s *LogSink) Sent(correlationID string, station wayside.StationAddress, kind wayside.MessageKind) {
	if !WireTrace {
		return
	}
	s.logger.Debug("frame sent",
		"correlation_id", correlationID,
		"station", station.String(),
		"kind", kind.String(),
	)
}

// EncodeFailed implements Sink.
func (s *LogSink) EncodeFailed(correlationID string, station wayside.StationAddress, kind wayside.MessageKind, err error) {
	s.logger.Error("encode failed",
		"correlation_id", correlationID,
		"station", station.String(),
		"kind", kind.String(),
		"err", err,
	)
}

// SendFailed implements Sink.
func (s *LogSink) SendFailed(correlationID string, station wayside.StationAddress, kind wayside.MessageKind, err error) {
	s.logger.Error("send failed",
		"correlation_id", correlationID,
		"station", station.String(),
		"kind", kind.String(),
		"err", err,
	)
}

// FrameDropped implements Sink.
func (s *LogSink) FrameDropped(raw []byte, err error) {
	s.logger.Warn("frame dropped", "bytes", len(raw), "err", err)
}

// StepProcessed implements Sink.
func (s *LogSink) StepProcessed(event wayside.EventKind, station wayside.StationAddress, globalState wayside.GlobalPhase, intentCount int) {
	if !WireTrace {
		return
	}
	s.logger.Debug("step processed",
		"event", event.String(),
		"station", station.String(),
		"global_state", globalState.String(),
		"intents", intentCount,
	)
}
