// Package config holds the functional-options configuration struct
// shared by both ends of a relay, following the same
// default-plus-With* shape the underlying graphics library uses for
// its own application config.
package config

import "github.com/wlrelay/wlrelay/internal/shadow"

// CompressionMode selects the byte-transform applied to the
// non-local channel.
type CompressionMode int

const (
	CompressionNone CompressionMode = iota
	CompressionLZ4
	CompressionZSTD
)

func (m CompressionMode) String() string {
	switch m {
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "none"
	}
}

// Config configures a relay endpoint.
type Config struct {
	// Workers is the worker-pool size used for compression and diff
	// construction. A value of 1 runs tasks inline on the calling
	// goroutine.
	Workers int

	// Compression selects the transform applied to outbound update
	// frames before they cross the non-local channel.
	Compression CompressionMode

	// CompressionLevel trades CPU for smaller frames within the chosen
	// Compression mode, negotiated once per connection alongside the
	// mode itself rather than per frame. Its scale depends on the
	// mode: for CompressionLZ4 it is an lz4 level from 0 (fastest) to
	// 9 (smallest); for CompressionZSTD it is a zstd speed tier from 1
	// (fastest) to 4 (smallest). Zero selects the underlying library's
	// own default and is ignored by CompressionNone.
	CompressionLevel int

	// GraphicsDevice backs graphics-buffer shadows. Nil selects
	// shadow.NoGPUDevice{}, refusing every graphics-buffer operation.
	GraphicsDevice shadow.GraphicsDevice

	// NoGPU forces GraphicsDevice to shadow.NoGPUDevice{} even if one
	// was otherwise configured, for hosts with no DRM access.
	NoGPU bool

	// LinearDmabufOnly rejects graphics buffers whose format modifier
	// is not DRM_FORMAT_MOD_LINEAR, avoiding vendor-specific tiling
	// layouts the diff algorithm cannot safely patch in place.
	LinearDmabufOnly bool

	// PipeBufferSize is the capacity reserved up front for a pipe
	// shadow's buffered content. It is not enforced as a limit:
	// buffered pipe content can grow past it.
	PipeBufferSize int
}

// DefaultConfig returns sensible defaults: inline worker execution,
// no compression, and no graphics-buffer support.
func DefaultConfig() Config {
	return Config{
		Workers:        1,
		Compression:    CompressionNone,
		GraphicsDevice: shadow.NoGPUDevice{},
		PipeBufferSize: 64 * 1024,
	}
}

// WithWorkers returns a copy with the worker-pool size set.
func (c Config) WithWorkers(n int) Config {
	c.Workers = n
	return c
}

// WithCompression returns a copy with the compression mode set.
func (c Config) WithCompression(mode CompressionMode) Config {
	c.Compression = mode
	return c
}

// WithCompressionLevel returns a copy with the compression level set.
// See CompressionLevel's doc comment for how the value is interpreted.
func (c Config) WithCompressionLevel(level int) Config {
	c.CompressionLevel = level
	return c
}

// WithGraphicsDevice returns a copy using dev to back graphics-buffer
// shadows.
func (c Config) WithGraphicsDevice(dev shadow.GraphicsDevice) Config {
	c.GraphicsDevice = dev
	return c
}

// WithNoGPU returns a copy with graphics-buffer support disabled.
func (c Config) WithNoGPU() Config {
	c.NoGPU = true
	return c
}

// WithLinearDmabufOnly returns a copy that rejects non-linear dmabuf
// modifiers.
func (c Config) WithLinearDmabufOnly() Config {
	c.LinearDmabufOnly = true
	return c
}

// WithPipeBufferSize returns a copy with the pipe buffer cap set.
func (c Config) WithPipeBufferSize(n int) Config {
	c.PipeBufferSize = n
	return c
}

// Device resolves the effective graphics device: NoGPUDevice{} when
// NoGPU is set or none was configured, otherwise the configured device
// wrapped in shadow.LinearOnly when LinearDmabufOnly is set.
func (c Config) Device() shadow.GraphicsDevice {
	if c.NoGPU || c.GraphicsDevice == nil {
		return shadow.NoGPUDevice{}
	}
	if c.LinearDmabufOnly {
		return shadow.LinearOnly(c.GraphicsDevice)
	}
	return c.GraphicsDevice
}
