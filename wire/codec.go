package wire

import (
	"errors"
	"fmt"

	"github.com/betaylor73/wayside"
	"github.com/betaylor73/wayside/signal"
)

// Semantic defects, spec §4.2/§7. Like framing defects, these cause the
// datagram to be dropped silently; they are exported only for
// observability classification.
var (
	ErrReservedStation    = errors.New("wire: station 0 is reserved, not a valid per-slave target")
	ErrUnsupportedKind    = errors.New("wire: message kind has no wire representation")
)

// ErrPayloadLength signals a payload-free message carrying a non-empty
// payload.
type ErrPayloadLength struct {
	Kind wayside.MessageKind
	Got  int
}

// Error implements the builtin error interface.
func (e ErrPayloadLength) Error() string {
	return fmt.Sprintf("wire: %s must carry no payload, got %d bytes", e.Kind, e.Got)
}

// Codec translates between validated Frames and typed protocol Messages,
// per the header table in spec §4.2. Indication and control payload
// codecs are injected so deployments can swap the default bit-packed
// binding for a site-specific one.
type Codec struct {
	Indications signal.PayloadCodec[signal.Indication]
	Controls    signal.PayloadCodec[signal.Control]
}

// NewCodec returns a Codec bound to the given payload codecs.
func NewCodec(indications signal.PayloadCodec[signal.Indication], controls signal.PayloadCodec[signal.Control]) Codec {
	return Codec{Indications: indications, Controls: controls}
}

// Decode translates a validated Frame into a Message. Any returned error
// is a semantic defect (spec §7): the caller must drop the datagram
// silently and emit no event.
func (c Codec) Decode(f Frame) (wayside.Message, error) {
	if f.Station == 0 {
		return wayside.Message{}, ErrReservedStation
	}
	station := wayside.StationAddress(f.Station)

	kind, ok := kindForHeader(f.Header)
	if !ok {
		return wayside.Message{}, ErrUnknownHeader
	}

	switch kind {
	case wayside.Acknowledge:
		if len(f.Payload) != 0 {
			return wayside.Message{}, ErrPayloadLength{Kind: kind, Got: len(f.Payload)}
		}
		return wayside.NewAcknowledge(station), nil

	case wayside.IndicationData:
		ind, err := c.Indications.Decode(f.Payload)
		if err != nil {
			return wayside.Message{}, err
		}
		return wayside.NewIndicationData(station, ind), nil

	case wayside.ControlCheckback:
		ctrl, err := c.Controls.Decode(f.Payload)
		if err != nil {
			return wayside.Message{}, err
		}
		return wayside.NewControlCheckback(station, ctrl), nil

	case wayside.Poll:
		if len(f.Payload) != 0 {
			return wayside.Message{}, ErrPayloadLength{Kind: kind, Got: len(f.Payload)}
		}
		return wayside.NewPoll(station, f.CRCPresent), nil

	case wayside.AcknowledgeAndPoll:
		if len(f.Payload) != 0 {
			return wayside.Message{}, ErrPayloadLength{Kind: kind, Got: len(f.Payload)}
		}
		return wayside.NewAcknowledgeAndPoll(station), nil

	case wayside.Recall:
		if len(f.Payload) != 0 {
			return wayside.Message{}, ErrPayloadLength{Kind: kind, Got: len(f.Payload)}
		}
		return wayside.NewRecall(station), nil

	case wayside.ControlData:
		ctrl, err := c.Controls.Decode(f.Payload)
		if err != nil {
			return wayside.Message{}, err
		}
		return wayside.NewControlData(station, ctrl), nil

	case wayside.ExecuteControls:
		if len(f.Payload) != 0 {
			return wayside.Message{}, ErrPayloadLength{Kind: kind, Got: len(f.Payload)}
		}
		return wayside.NewExecuteControls(station), nil

	default:
		return wayside.Message{}, ErrUnknownHeader
	}
}

// Encode translates a Message into a Frame ready for Encode. Messages with
// station 0 must never reach this layer; wayside.NewStationAddress rejects
// zero, but Encode itself does not check the station.
func (c Codec) Encode(m wayside.Message) (Frame, error) {
	header, ok := headerForKind(m.Kind)
	if !ok {
		return Frame{}, ErrUnsupportedKind
	}

	f := Frame{Header: header, Station: byte(m.Station)}

	switch m.Kind {
	case wayside.Acknowledge:
		f.CRCPresent = false

	case wayside.IndicationData:
		f.Payload = c.Indications.Encode(m.Indications)
		f.CRCPresent = true

	case wayside.ControlCheckback:
		f.Payload = c.Controls.Encode(m.Controls)
		f.CRCPresent = true

	case wayside.Poll:
		f.CRCPresent = m.Secure

	case wayside.AcknowledgeAndPoll:
		f.CRCPresent = true

	case wayside.Recall:
		f.CRCPresent = true

	case wayside.ControlData:
		f.Payload = c.Controls.Encode(m.Controls)
		f.CRCPresent = true

	case wayside.ExecuteControls:
		f.CRCPresent = true

	default:
		return Frame{}, ErrUnsupportedKind
	}

	return f, nil
}

// EncodeMessage runs the full outbound pipeline: message -> frame ->
// wire-ready bytes.
func (c Codec) EncodeMessage(m wayside.Message) ([]byte, error) {
	f, err := c.Encode(m)
	if err != nil {
		return nil, err
	}
	return Encode(f), nil
}

// DecodeMessage runs the full inbound pipeline: datagram -> frame ->
// message. Any error is a framing or semantic defect; the caller must
// drop the datagram silently per spec §4.1/§4.2/§7.
func (c Codec) DecodeMessage(datagram []byte) (wayside.Message, error) {
	f, err := Decode(datagram)
	if err != nil {
		return wayside.Message{}, err
	}
	return c.Decode(f)
}
