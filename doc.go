// Package wlrelay implements the core of a transparent Wayland proxy:
// two message pipelines, one facing the local application and one
// facing the local compositor, each owning an object registry and a
// shadow-fd map that mirrors file and dma-buf content across the
// boundary between them.
//
// The wire parser, object registry, shadow-fd map, and worker pool
// live in internal/wire, internal/registry, internal/shadow, and
// internal/workerpool respectively; relay.Relay wires a pair of
// internal/pipeline.Pipeline values together into the orchestration
// layer New returns here. Socket transport and the channel's outer
// framing (internal/channel) are driven by a caller, not by this
// package.
//
// # Quick start
//
//	r := wlrelay.New(config.DefaultConfig(), nil)
//	out, fds, drop, err := r.ForwardRequest(frame, requestFDs)
//	...
//	out, fds, drop, err = r.ForwardEvent(frame, eventFDs)
//
// # Configuration
//
// config.Config selects the worker pool size, compression mode, and
// graphics device backend:
//
//	cfg := config.DefaultConfig().
//	    WithWorkers(4).
//	    WithCompression(config.CompressionZSTD)
package wlrelay
