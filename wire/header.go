package wire

import "github.com/betaylor73/wayside"

// Framing constants, spec §4.1.
const (
	Escape     byte = 0xF0
	Terminator byte = 0xF6

	headerRangeLo byte = 0xF1
	headerRangeHi byte = 0xFE
)

// isHeaderByte reports whether b falls in the valid header range,
// excluding the terminator.
func isHeaderByte(b byte) bool {
	return b >= headerRangeLo && b <= headerRangeHi && b != Terminator
}

// Header bytes, spec §4.2.
const (
	HeaderAcknowledge       byte = 0xF1
	HeaderIndicationData    byte = 0xF2
	HeaderControlCheckback  byte = 0xF3
	HeaderAcknowledgeAndPoll byte = 0xFA
	HeaderPoll              byte = 0xFB
	HeaderControlData       byte = 0xFC
	HeaderRecall            byte = 0xFD
	HeaderExecuteControls   byte = 0xFE
)

// crcRule classifies how CRC presence is determined for a given header.
type crcRule uint8

const (
	crcUnknown  crcRule = iota // unknown header: semantic defect
	crcRequired                // CRC must be present
	crcForbidden               // CRC must be absent
	crcOptional                // CRC presence is carried by the Poll.Secure flag
)

// crcRuleFor returns the CRC rule for header per the table in spec §4.2.
func crcRuleFor(header byte) crcRule {
	switch header {
	case HeaderAcknowledge:
		return crcForbidden
	case HeaderIndicationData, HeaderControlCheckback,
		HeaderAcknowledgeAndPoll, HeaderControlData,
		HeaderRecall, HeaderExecuteControls:
		return crcRequired
	case HeaderPoll:
		return crcOptional
	default:
		return crcUnknown
	}
}

// kindForHeader returns the MessageKind for a known header.
func kindForHeader(header byte) (wayside.MessageKind, bool) {
	switch header {
	case HeaderAcknowledge:
		return wayside.Acknowledge, true
	case HeaderIndicationData:
		return wayside.IndicationData, true
	case HeaderControlCheckback:
		return wayside.ControlCheckback, true
	case HeaderAcknowledgeAndPoll:
		return wayside.AcknowledgeAndPoll, true
	case HeaderPoll:
		return wayside.Poll, true
	case HeaderControlData:
		return wayside.ControlData, true
	case HeaderRecall:
		return wayside.Recall, true
	case HeaderExecuteControls:
		return wayside.ExecuteControls, true
	default:
		return 0, false
	}
}

// headerForKind returns the wire header byte for a MessageKind.
func headerForKind(kind wayside.MessageKind) (byte, bool) {
	switch kind {
	case wayside.Acknowledge:
		return HeaderAcknowledge, true
	case wayside.IndicationData:
		return HeaderIndicationData, true
	case wayside.ControlCheckback:
		return HeaderControlCheckback, true
	case wayside.AcknowledgeAndPoll:
		return HeaderAcknowledgeAndPoll, true
	case wayside.Poll:
		return HeaderPoll, true
	case wayside.ControlData:
		return HeaderControlData, true
	case wayside.Recall:
		return HeaderRecall, true
	case wayside.ExecuteControls:
		return HeaderExecuteControls, true
	default:
		return 0, false
	}
}
