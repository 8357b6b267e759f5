package config

import (
	"testing"

	"github.com/wlrelay/wlrelay/internal/shadow"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.Workers != 1 {
		t.Fatalf("default Workers = %d, want 1", c.Workers)
	}
	if c.Compression != CompressionNone {
		t.Fatalf("default Compression = %v, want none", c.Compression)
	}
	if _, ok := c.Device().(shadow.NoGPUDevice); !ok {
		t.Fatalf("default Device() = %T, want NoGPUDevice", c.Device())
	}
}

func TestWithChaining(t *testing.T) {
	c := DefaultConfig().
		WithWorkers(4).
		WithCompression(CompressionZSTD).
		WithCompressionLevel(3).
		WithLinearDmabufOnly()

	if c.Workers != 4 || c.Compression != CompressionZSTD || c.CompressionLevel != 3 || !c.LinearDmabufOnly {
		t.Fatalf("chained config = %+v", c)
	}
}

func TestNoGPUOverridesDevice(t *testing.T) {
	c := DefaultConfig().WithGraphicsDevice(fakeDevice{}).WithNoGPU()
	if _, ok := c.Device().(shadow.NoGPUDevice); !ok {
		t.Fatalf("WithNoGPU did not override a configured device")
	}
}

func TestLinearDmabufOnlyRejectsTiledModifier(t *testing.T) {
	c := DefaultConfig().WithGraphicsDevice(acceptingDevice{}).WithLinearDmabufOnly()
	if _, _, err := c.Device().Alloc(shadow.GraphicsMeta{Modifier: 1}); err != shadow.ErrNonLinearModifier {
		t.Fatalf("Alloc with tiled modifier: err = %v, want ErrNonLinearModifier", err)
	}
	if _, _, err := c.Device().Alloc(shadow.GraphicsMeta{Modifier: 0}); err != nil {
		t.Fatalf("Alloc with linear modifier: unexpected err %v", err)
	}
}

type fakeDevice struct{ shadow.NoGPUDevice }

// acceptingDevice accepts every Alloc call regardless of modifier, so
// TestLinearDmabufOnlyRejectsTiledModifier can tell a LinearOnly
// rejection apart from the underlying device's own refusal.
type acceptingDevice struct{ shadow.NoGPUDevice }

func (acceptingDevice) Alloc(meta shadow.GraphicsMeta) (int, []byte, error) {
	return -1, make([]byte, 0), nil
}
