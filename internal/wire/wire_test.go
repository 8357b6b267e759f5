package wire

import (
	"bytes"
	"testing"
)

func TestFixedConversion(t *testing.T) {
	tests := []struct {
		name  string
		float float64
	}{
		{"zero", 0.0},
		{"positive integer", 42.0},
		{"negative integer", -42.0},
		{"positive fraction", 3.5},
		{"negative fraction", -3.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FixedFromFloat(tt.float).Float()
			const epsilon = 0.004
			if diff := got - tt.float; diff < -epsilon || diff > epsilon {
				t.Errorf("FixedFromFloat(%v).Float() = %v, want %v", tt.float, got, tt.float)
			}
		})
	}
}

func TestEncoderUint32(t *testing.T) {
	enc := NewEncoder(16)
	enc.PutUint32(0xDEADBEEF)
	enc.PutUint32(0)

	expected := []byte{
		0xEF, 0xBE, 0xAD, 0xDE,
		0x00, 0x00, 0x00, 0x00,
	}
	if !bytes.Equal(enc.Bytes(), expected) {
		t.Errorf("Uint32 encoding: got %x, want %x", enc.Bytes(), expected)
	}
}

func TestEncoderString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []byte
	}{
		{"empty", "", []byte{0x01, 0, 0, 0, 0, 0, 0, 0}},
		{"abc", "abc", []byte{0x04, 0, 0, 0, 0x61, 0x62, 0x63, 0x00}},
		{"ab", "ab", []byte{0x03, 0, 0, 0, 0x61, 0x62, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewEncoder(32)
			enc.PutString(tt.input)
			if !bytes.Equal(enc.Bytes(), tt.expected) {
				t.Errorf("String encoding %q: got %x, want %x", tt.input, enc.Bytes(), tt.expected)
			}
		})
	}
}

func TestDecoderRoundTripsEncoder(t *testing.T) {
	enc := NewEncoder(64)
	enc.PutUint32(7)
	enc.PutInt32(-3)
	enc.PutFixed(FixedFromFloat(1.5))
	enc.PutString("wl_shm")
	enc.PutArray([]byte{1, 2, 3})
	enc.PutObject(ObjectID(9))

	dec := NewDecoder(enc.Bytes())
	if v, err := dec.Uint32(); err != nil || v != 7 {
		t.Fatalf("Uint32 = %v, %v", v, err)
	}
	if v, err := dec.Int32(); err != nil || v != -3 {
		t.Fatalf("Int32 = %v, %v", v, err)
	}
	if v, err := dec.Fixed(); err != nil || v.Float() != FixedFromFloat(1.5).Float() {
		t.Fatalf("Fixed = %v, %v", v, err)
	}
	if s, err := dec.String(); err != nil || s != "wl_shm" {
		t.Fatalf("String = %q, %v", s, err)
	}
	if a, err := dec.Array(); err != nil || !bytes.Equal(a, []byte{1, 2, 3}) {
		t.Fatalf("Array = %v, %v", a, err)
	}
	if o, err := dec.Object(); err != nil || o != 9 {
		t.Fatalf("Object = %v, %v", o, err)
	}
	if dec.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", dec.Remaining())
	}
}

// message-level round-trip: parse(serialize(M)) == M, and DecodeMessage
// pairs correctly with NextFrame's framing.
func TestMessageRoundTrip(t *testing.T) {
	enc := NewEncoder(32)
	enc.PutUint32(1)
	enc.PutString("wl_compositor")

	want := &Message{ObjectID: 2, Opcode: 4, Args: enc.Bytes()}
	raw, err := EncodeMessage(want)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	frame, rest, ok, err := NextFrame(raw)
	if err != nil || !ok {
		t.Fatalf("NextFrame: ok=%v err=%v", ok, err)
	}
	if len(rest) != 0 {
		t.Fatalf("rest = %d bytes, want 0", len(rest))
	}

	got, err := DecodeMessage(frame, nil)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if got.ObjectID != want.ObjectID || got.Opcode != want.Opcode || !bytes.Equal(got.Args, want.Args) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestNextFrameIncomplete(t *testing.T) {
	enc := NewEncoder(32)
	enc.PutUint32(0xAABBCCDD)
	msg := &Message{ObjectID: 1, Opcode: 0, Args: enc.Bytes()}
	raw, _ := EncodeMessage(msg)

	// Only the header and part of the args are available so far.
	_, _, ok, err := NextFrame(raw[:headerSize+2])
	if err != nil {
		t.Fatalf("NextFrame on partial buffer: %v", err)
	}
	if ok {
		t.Fatalf("NextFrame reported a complete frame from a partial buffer")
	}
}

func TestNextFrameRejectsBadLength(t *testing.T) {
	buf := make([]byte, headerSize)
	// The size field is the upper 16 bits of the second header word
	// (bytes 6-7). 9 is >= 8 but not a multiple of 4.
	buf[6], buf[7] = 9, 0
	_, _, _, err := NextFrame(buf)
	if err == nil {
		t.Fatal("expected an error for a non-multiple-of-4 length")
	}
}
