package wlrelay

import (
	"errors"
	"testing"

	"github.com/wlrelay/wlrelay/config"
	"github.com/wlrelay/wlrelay/internal/wire"
)

func TestNewReturnsUsableRelay(t *testing.T) {
	r := New(config.DefaultConfig(), nil)
	var enc wire.Encoder
	enc.PutNewID(2) // wl_display.sync(new_id=2)
	msg := &wire.Message{ObjectID: 1, Opcode: 0, Args: enc.Bytes()}
	frame, err := wire.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if _, _, drop, err := r.ForwardRequest(frame, nil); err != nil || drop {
		t.Fatalf("ForwardRequest: drop=%v err=%v", drop, err)
	}

	r.Shutdown()
	if _, _, drop, err := r.ForwardRequest(frame, nil); !errors.Is(err, ErrShuttingDown) || !drop {
		t.Fatalf("expected ErrShuttingDown after Shutdown, got drop=%v err=%v", drop, err)
	}
}
