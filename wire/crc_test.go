package wire

import "testing"

// TestCRC16ARCKnownVector checks the table-driven implementation against
// the standard CRC-16/ARC check value for the ASCII string "123456789",
// which is 0xBB3D (catalogued by the CRC RevEng project).
func TestCRC16ARCKnownVector(t *testing.T) {
	got := crc16ARC([]byte("123456789"))
	if got != 0xBB3D {
		t.Fatalf("crc16ARC(123456789) = %#04x, want 0xBB3D", got)
	}
}

// TestS6WireBytes is the literal scenario from spec §8: encoding
// Poll(station=9, secure=true) produces bytes
// {0xFB, 0x09, crc_hi, crc_lo, 0xF6}, with escaping applied only if any of
// those bytes lie in 0xF0-0xFF.
func TestS6WireBytes(t *testing.T) {
	body := []byte{HeaderPoll, 0x09}
	sum := crc16ARC(body)
	want := []byte{HeaderPoll, 0x09, byte(sum >> 8), byte(sum)}
	want = escapeBytes(want)
	want = append(want, Terminator)

	got := Encode(Frame{Header: HeaderPoll, Station: 0x09, CRCPresent: true})
	if string(got) != string(want) {
		t.Fatalf("Encode = % x, want % x", got, want)
	}

	f, err := Decode(got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Header != HeaderPoll || f.Station != 0x09 || !f.CRCPresent {
		t.Fatalf("Decode mismatch: %+v", f)
	}
}

func escapeBytes(in []byte) []byte {
	return escape(in)
}
