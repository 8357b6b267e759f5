//go:build linux

package channel

import "testing"

func TestUpdateFrameRoundTrip(t *testing.T) {
	tests := []UpdateFrame{
		{Type: FileDiff, RemoteID: 42, Payload: []byte{1, 2, 3, 4, 5}},
		{Type: PipeWrite, RemoteID: -7, Payload: []byte("hello")},
		{Type: PipeHangup, RemoteID: -7, Payload: nil},
		{Type: DmabufInit, RemoteID: 99, Payload: make([]byte, 64)},
	}

	for _, want := range tests {
		raw := EncodeUpdateFrame(want)
		if len(raw)%8 != 0 {
			t.Fatalf("encoded frame length %d is not 8-byte rounded", len(raw))
		}
		got, consumed, err := DecodeUpdateFrame(raw)
		if err != nil {
			t.Fatalf("DecodeUpdateFrame: %v", err)
		}
		if consumed != len(raw) {
			t.Fatalf("consumed = %d, want %d", consumed, len(raw))
		}
		if got.Type != want.Type || got.RemoteID != want.RemoteID {
			t.Fatalf("got %+v, want %+v", got, want)
		}
		if len(got.Payload) != len(want.Payload) {
			t.Fatalf("payload length got %d want %d", len(got.Payload), len(want.Payload))
		}
		for i := range want.Payload {
			if got.Payload[i] != want.Payload[i] {
				t.Fatalf("payload mismatch at %d: got %x want %x", i, got.Payload[i], want.Payload[i])
			}
		}
	}
}

func TestDecodeUpdateFrameShort(t *testing.T) {
	if _, _, err := DecodeUpdateFrame([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error decoding a too-short buffer")
	}
}

func TestDecodeUpdateFrameConcatenated(t *testing.T) {
	a := EncodeUpdateFrame(UpdateFrame{Type: FileDiff, RemoteID: 1, Payload: []byte{9}})
	b := EncodeUpdateFrame(UpdateFrame{Type: PipeWrite, RemoteID: 2, Payload: []byte{1, 2, 3}})
	buf := append(append([]byte{}, a...), b...)

	first, n1, err := DecodeUpdateFrame(buf)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	second, n2, err := DecodeUpdateFrame(buf[n1:])
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if n1+n2 != len(buf) {
		t.Fatalf("consumed %d+%d, want %d", n1, n2, len(buf))
	}
	if first.RemoteID != 1 || second.RemoteID != 2 {
		t.Fatalf("got remote ids %d, %d", first.RemoteID, second.RemoteID)
	}
}
