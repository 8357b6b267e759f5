//go:build linux

package pipeline

import (
	"testing"

	"github.com/wlrelay/wlrelay/config"
	"github.com/wlrelay/wlrelay/internal/wire"
)

func encode(t *testing.T, objID wire.ObjectID, op wire.Opcode, args []byte) []byte {
	t.Helper()
	msg := &wire.Message{ObjectID: objID, Opcode: op, Args: args}
	frame, err := wire.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	return frame
}

// TestRegistryHandshakeEndToEnd drives a get_registry + two binds
// handshake at the pipeline level: wl_display.get_registry, two
// wl_registry.global events, and two wl_registry.bind requests leave
// both pipelines' registries holding the same four objects.
func TestRegistryHandshakeEndToEnd(t *testing.T) {
	client := New(config.DefaultConfig(), false, nil)
	display := New(config.DefaultConfig(), true, nil)

	// wl_display.get_registry(new_id=2), a request from the app.
	var e wire.Encoder
	e.PutNewID(2)
	frame := encode(t, 1, 1, e.Bytes())
	if _, _, drop, err := client.ProcessOutbound(frame, nil); err != nil || drop {
		t.Fatalf("get_registry outbound: drop=%v err=%v", drop, err)
	}
	if _, _, drop, err := display.ProcessInbound(frame, nil); err != nil || drop {
		t.Fatalf("get_registry inbound: drop=%v err=%v", drop, err)
	}

	if obj, ok := client.Registry.Get(2); !ok || obj.Interface != "wl_registry" {
		t.Fatalf("client registry missing wl_registry at id 2")
	}

	// wl_registry.global(1, "wl_shm", 1) and (2, "wl_compositor", 1),
	// events from the compositor.
	globals := []struct {
		name string
		id   uint32
	}{{"wl_shm", 1}, {"wl_compositor", 2}}
	for _, g := range globals {
		var ge wire.Encoder
		ge.PutUint32(g.id)
		ge.PutString(g.name)
		ge.PutUint32(1)
		gf := encode(t, 2, 0, ge.Bytes())
		if _, _, drop, err := display.ProcessOutbound(gf, nil); err != nil || drop {
			t.Fatalf("global outbound: drop=%v err=%v", drop, err)
		}
		if _, _, drop, err := client.ProcessInbound(gf, nil); err != nil || drop {
			t.Fatalf("global inbound: drop=%v err=%v", drop, err)
		}
	}

	// wl_registry.bind(1, "wl_shm", 1, new_id=3) and
	// wl_registry.bind(2, "wl_compositor", 1, new_id=4), requests.
	binds := []struct {
		name     string
		globalID uint32
		newID    wire.ObjectID
	}{{"wl_shm", 1, 3}, {"wl_compositor", 2, 4}}
	for _, b := range binds {
		var be wire.Encoder
		be.PutUint32(b.globalID)
		be.PutString(b.name)
		be.PutUint32(1)
		be.PutNewID(b.newID)
		bf := encode(t, 2, 0, be.Bytes())
		if _, _, drop, err := client.ProcessOutbound(bf, nil); err != nil || drop {
			t.Fatalf("bind outbound: drop=%v err=%v", drop, err)
		}
		if _, _, drop, err := display.ProcessInbound(bf, nil); err != nil || drop {
			t.Fatalf("bind inbound: drop=%v err=%v", drop, err)
		}
	}

	for _, side := range []*Pipeline{client, display} {
		want := map[wire.ObjectID]string{1: "wl_display", 2: "wl_registry", 3: "wl_shm", 4: "wl_compositor"}
		for id, iface := range want {
			obj, ok := side.Registry.Get(id)
			if !ok || obj.Interface != iface {
				t.Fatalf("registry missing %d:%s", id, iface)
			}
		}
	}
}

// TestUnknownInterfacePassthrough implements scenario 4: a message
// on an unbound/unknown interface with no fds forwards unchanged; the
// same shape with an fd is a parse failure.
func TestUnknownInterfacePassthrough(t *testing.T) {
	p := New(config.DefaultConfig(), false, nil)
	if _, err := p.Registry.Insert(99, "zwlr_some_unknown_v1"); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	frame := encode(t, 99, 0, []byte{1, 2, 3, 4})
	out, remoteIDs, drop, err := p.ProcessOutbound(frame, nil)
	if err != nil || drop {
		t.Fatalf("expected passthrough, got drop=%v err=%v", drop, err)
	}
	if string(out) != string(frame) {
		t.Fatalf("passthrough must forward the frame unchanged")
	}
	if len(remoteIDs) != 0 {
		t.Fatalf("passthrough must not translate any fds")
	}

	if _, _, _, err := p.ProcessOutbound(frame, []int{42}); err == nil {
		t.Fatalf("expected an error forwarding fds on an unknown interface")
	}
}

// TestUnboundObjectReferenceIsAnError checks that a message for an
// object id the registry has never seen reports an error rather than
// silently forwarding.
func TestUnboundObjectReferenceIsAnError(t *testing.T) {
	p := New(config.DefaultConfig(), false, nil)
	frame := encode(t, 12345, 0, nil)
	if _, _, _, err := p.ProcessOutbound(frame, nil); err == nil {
		t.Fatalf("expected an error for a reference to an unbound object")
	}
}

// TestDestructorMarksZombie checks that processing a destructor
// request leaves the object lookupable (for in-flight cross
// messages) but flagged as a zombie.
func TestDestructorMarksZombie(t *testing.T) {
	p := New(config.DefaultConfig(), false, nil)
	if _, err := p.Registry.Insert(5, "wl_region"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	frame := encode(t, 5, 0, nil) // wl_region.destroy
	if _, _, drop, err := p.ProcessOutbound(frame, nil); err != nil || drop {
		t.Fatalf("destroy outbound: drop=%v err=%v", drop, err)
	}
	obj, ok := p.Registry.Get(5)
	if !ok {
		t.Fatalf("zombie object disappeared from the registry")
	}
	if !obj.Zombie {
		t.Fatalf("expected object to be marked zombie after its destructor")
	}
}
