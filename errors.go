package wlrelay

import (
	"github.com/wlrelay/wlrelay/internal/pipeline"
	"github.com/wlrelay/wlrelay/relay"
)

// Common errors, re-exported from the packages that originate them so
// callers checking against errors.Is don't need to import relay or
// internal/pipeline directly.
var (
	// ErrShuttingDown is returned once a Relay's Shutdown has been
	// called; every subsequent forward call fails the same way.
	ErrShuttingDown = relay.ErrShuttingDown

	// ErrParseFailure is a size-check or signature-lookup failure in
	// either pipeline; the relay shuts down both directions when it
	// occurs.
	ErrParseFailure = pipeline.ErrParseFailure

	// ErrUnboundObject is a reference to an object id that the registry
	// of the pipeline processing the message has no record of.
	ErrUnboundObject = pipeline.ErrUnboundObject
)
