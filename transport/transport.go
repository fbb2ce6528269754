// Package transport adapts a raw byte-oriented link (a serial port, a
// dialed TCP socket, anything satisfying io.Reader/io.Writer) to the
// controller: it frames outbound datagrams for exec.Sender and decodes
// inbound ones into MessageReceived calls. Grounded on the teacher's
// session.Transport/Pipe channel-based duplex link, adapted here from a
// channel contract to a direct-call one since GENISYS is a single shared
// half-duplex link rather than IEC 104's independently flowing class 1/2
// channels.
package transport

import (
	"bufio"
	"errors"
	"io"
	"time"

	"github.com/betaylor73/wayside"
	"github.com/betaylor73/wayside/wire"
)

// Link is the raw duplex byte stream the Adapter frames datagrams over.
type Link interface {
	io.Reader
	io.Writer
}

// MessageSink receives a decoded, already-validated message. The
// controller runtime implements this.
type MessageSink interface {
	MessageReceived(station wayside.StationAddress, m wayside.Message)
}

// Observer receives best-effort notifications of frame-level activity for
// logging/metrics.
type Observer interface {
	FrameDropped(raw []byte, err error)
}

// NopObserver discards every notification.
type NopObserver struct{}

func (NopObserver) FrameDropped([]byte, error) {}

// ActivityRecorder records semantic activity for a station at a monotonic
// timestamp, ahead of dispatching MessageReceived, so the executor's
// response timer can suppress a timeout that raced with a legitimate
// reply (spec's "activity wins over timeout"). *exec.ActivityTracker
// satisfies this; it is declared here, not imported from exec, the same
// way Observer is declared independently in each consuming package.
type ActivityRecorder interface {
	RecordActivity(station wayside.StationAddress, monotonicNanos uint64)
}

// NopActivityRecorder discards every recorded timestamp.
type NopActivityRecorder struct{}

func (NopActivityRecorder) RecordActivity(wayside.StationAddress, uint64) {}

// Clock supplies the monotonic timestamp recorded for inbound activity.
// exec.Clock implementations satisfy this structurally. The production
// wiring must hand the Adapter the same Clock instance given to
// exec.Executor, since activity and send timestamps are only comparable
// if they share an epoch.
type Clock interface {
	NowNanos() uint64
}

// systemClock is the Clock used when NewAdapter is given none: a
// convenience for callers that do not care about activity suppression
// (tests, or an Adapter used without an Executor), anchored at its own
// construction the same way exec.ProductionClock is.
type systemClock struct{ start time.Time }

func newSystemClock() systemClock { return systemClock{start: time.Now()} }

func (c systemClock) NowNanos() uint64 { return uint64(time.Since(c.start).Nanoseconds()) }

// ErrLinkClosed is returned by ReadLoop when the underlying Link's Read
// returns io.EOF or io.ErrClosedPipe, the two errors that signal a
// deliberate shutdown rather than a transient link fault.
var ErrLinkClosed = errors.New("transport: link closed")

// Adapter frames outbound messages onto a Link and decodes inbound
// datagrams off of it. One Adapter serves one shared link; station
// addressing is carried inside the datagram itself, not by the Link.
type Adapter struct {
	link     Link
	codec    wire.Codec
	sink     MessageSink
	observer Observer
	activity ActivityRecorder
	clock    Clock
}

// NewAdapter returns an Adapter. A nil observer is replaced with
// NopObserver, a nil activity recorder with NopActivityRecorder, and a nil
// clock with a private clock anchored at construction; production wiring
// should always pass the same ActivityTracker and Clock given to the
// paired exec.Executor.
func NewAdapter(link Link, codec wire.Codec, sink MessageSink, observer Observer, activity ActivityRecorder, clock Clock) *Adapter {
	if observer == nil {
		observer = NopObserver{}
	}
	if activity == nil {
		activity = NopActivityRecorder{}
	}
	if clock == nil {
		clock = newSystemClock()
	}
	return &Adapter{link: link, codec: codec, sink: sink, observer: observer, activity: activity, clock: clock}
}

// Send implements exec.Sender: payload is already the fully encoded
// datagram (wire.Codec.EncodeMessage's output), and Send writes it
// unchanged and directly to the link.
func (a *Adapter) Send(_ wayside.StationAddress, payload []byte) error {
	_, err := a.link.Write(payload)
	return err
}

// ReadLoop blocks, reading and dispatching frames until the link is closed
// or produces a non-recoverable read error. It must run on its own
// goroutine; cancellation is by closing the underlying Link from another
// goroutine, same as the teacher's recvLoop/conn.Close shutdown pattern.
func (a *Adapter) ReadLoop() error {
	r := bufio.NewReader(a.link)
	for {
		datagram, err := readFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return ErrLinkClosed
			}
			return err
		}

		msg, err := a.codec.DecodeMessage(datagram)
		if err != nil {
			a.observer.FrameDropped(datagram, err)
			continue
		}
		a.activity.RecordActivity(msg.Station, a.clock.NowNanos())
		a.sink.MessageReceived(msg.Station, msg)
	}
}

// readFrame accumulates bytes up to and including the next terminator
// byte. Escaped occurrences of the terminator's byte value never appear
// unescaped inside a well-formed datagram (§4.1 escapes every byte in
// 0xF0-0xFF, which includes the terminator's own value), so a plain
// read-until-terminator scan is unambiguous; any garbage preceding the
// frame's header byte is left for wire.Decode to skip.
func readFrame(r *bufio.Reader) ([]byte, error) {
	return r.ReadBytes(wire.Terminator)
}
