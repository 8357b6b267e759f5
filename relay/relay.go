// Package relay wires a client-side and a display-side pipeline
// together into a single proxy instance: the top-level orchestration
// layer that owns error handling and shutdown across both directions.
// The socket accept loop and the channel's outer length-prefix framing
// are collaborators that live outside this package (internal/channel
// documents the same boundary for fd passing and update-frame
// encoding).
package relay

import (
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/wlrelay/wlrelay/config"
	"github.com/wlrelay/wlrelay/internal/pipeline"
)

// ErrShuttingDown is returned by the forwarding methods once Shutdown
// has been called. The relay's shutdown flag is checked on entry to
// each forwarding call and again before its worker-pool batch.
var ErrShuttingDown = errors.New("relay: shutting down")

// Relay owns the two symmetric pipelines a transparent proxy needs:
// one facing the local application (Client) and one facing the local
// compositor (Display). Each pipeline owns its own registry,
// shadow-fd map, and transfer queue; Relay's job is only to move
// update frames and protocol messages between them in the order the
// transfer-queue contract requires.
type Relay struct {
	Client  *pipeline.Pipeline
	Display *pipeline.Pipeline

	shutdown atomic.Bool
	log      *logrus.Entry
}

// New creates a Relay with fresh client- and display-side pipelines.
func New(cfg config.Config, log *logrus.Entry) *Relay {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Relay{
		Client:  pipeline.New(cfg, false, log),
		Display: pipeline.New(cfg, true, log),
		log:     log,
	}
}

// Shutdown raises the relay's shutdown flag. Safe to call from any
// goroutine; an in-flight forwarding call that has not yet reached its
// worker-pool batch returns ErrShuttingDown there.
func (r *Relay) Shutdown() { r.shutdown.Store(true) }

// ShuttingDown reports whether Shutdown has been called.
func (r *Relay) ShuttingDown() bool { return r.shutdown.Load() }

// Close releases both pipelines' worker pools. Call once after
// Shutdown, when no more forwarding calls will be made.
func (r *Relay) Close() {
	r.Client.Close()
	r.Display.Close()
}

// ForwardRequest relays one message the application sent toward the
// compositor. Once the client pipeline has parsed the message and
// translated its fds, it syncs and drains the client pipeline's
// transfer queue, applying each update to the display pipeline's
// shadow map, so that by the time the protocol message itself is
// processed the display side already has the content a referenced
// remote id names. fds are
// the descriptors the application attached to frame; the returned
// localFDs are the descriptors to attach when writing the message to
// the compositor.
func (r *Relay) ForwardRequest(frame []byte, fds []int) (out []byte, localFDs []int, drop bool, err error) {
	return r.forward(r.Client, r.Display, frame, fds)
}

// ForwardEvent is ForwardRequest's mirror image, relaying a message
// the compositor sent toward the application.
func (r *Relay) ForwardEvent(frame []byte, fds []int) (out []byte, localFDs []int, drop bool, err error) {
	return r.forward(r.Display, r.Client, frame, fds)
}

func (r *Relay) forward(src, dst *pipeline.Pipeline, frame []byte, fds []int) ([]byte, []int, bool, error) {
	if r.ShuttingDown() {
		return nil, nil, true, ErrShuttingDown
	}

	wireBytes, remoteIDs, drop, err := src.ProcessOutbound(frame, fds)
	if err != nil {
		r.log.WithError(err).Error("relay: parse failure, shutting down both directions")
		r.Shutdown()
		return nil, nil, true, err
	}
	if drop {
		return nil, nil, true, nil
	}

	if r.ShuttingDown() {
		return nil, nil, true, ErrShuttingDown
	}

	// Collect and apply content updates only now that ProcessOutbound
	// has had a chance to translate any fds this message carried, so
	// a shadow's first update frame reaches dst before the first
	// protocol message naming it does, even within a single forwarded
	// message.
	src.SyncShadows()
	for _, update := range src.DrainTransferQueue() {
		if err := dst.ApplyUpdate(update); err != nil {
			r.log.WithError(err).Warn("relay: failed to apply content update on the receiving side")
		}
	}

	out, localFDs, drop, err := dst.ProcessInbound(wireBytes, remoteIDs)
	if err != nil {
		r.log.WithError(err).Error("relay: peer rejected forwarded message, shutting down both directions")
		r.Shutdown()
		return nil, nil, true, err
	}

	if ferr := src.FlushTransferRefs(remoteIDs); ferr != nil {
		r.log.WithError(ferr).Warn("relay: failed to release transfer refs")
	}
	if ferr := dst.FlushTransferRefs(remoteIDs); ferr != nil {
		r.log.WithError(ferr).Warn("relay: failed to release the receiving side's transfer refs")
	}

	return out, localFDs, drop, nil
}
