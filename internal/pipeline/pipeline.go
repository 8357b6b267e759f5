// Package pipeline parses one side's wire-protocol byte stream,
// dispatches each message through the structural handlers in
// handlers.go (object-registry bookkeeping), translates its fd slots
// in ProcessOutbound/ProcessInbound, and rewrites the outbound stream
// accordingly. A Pipeline owns its
// registry, shadow-fd map, and transfer queue exclusively; nothing
// outside the owning goroutine touches them, per the single-threaded
// cooperative model each direction runs under.
package pipeline

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/wlrelay/wlrelay/config"
	"github.com/wlrelay/wlrelay/internal/channel"
	"github.com/wlrelay/wlrelay/internal/registry"
	"github.com/wlrelay/wlrelay/internal/shadow"
	"github.com/wlrelay/wlrelay/internal/wire"
	"github.com/wlrelay/wlrelay/internal/workerpool"
)

// displayObjectID is the well-known object every Wayland connection
// starts with bound.
const displayObjectID = wire.ObjectID(1)

var (
	// ErrParseFailure is a size-check or signature-lookup failure;
	// callers drop the whole connection.
	ErrParseFailure = errors.New("pipeline: parse failure")
	// ErrFDsOnUnknownInterface marks a message for an interface
	// outside the descriptor table that also carries fds, which the
	// proxy cannot forward without knowing how many fds the peer
	// expects.
	ErrFDsOnUnknownInterface = errors.New("pipeline: fd slots on unknown interface")
	// ErrUnboundObject is a reference to an object id the registry
	// has no record of.
	ErrUnboundObject = errors.New("pipeline: reference to unbound object")
)

// Pipeline is one side's message pipeline: it owns the object
// registry, shadow-fd map, and transfer queue for everything flowing
// through one local peer (an application or a compositor).
type Pipeline struct {
	Registry *registry.Registry
	Shadows  *shadow.Map
	transfer *transferQueue

	// displaySide is true when this pipeline faces the compositor:
	// messages it receives from its local peer are events, and
	// messages it forwards to its local peer are requests. A
	// client-side pipeline is the mirror image.
	displaySide bool

	// pool runs content-update collection off the calling goroutine
	// when cfg.Workers > 1; it inlines otherwise.
	pool *workerpool.Pool

	log *logrus.Entry
}

// New creates a Pipeline. displaySide selects which signature table
// (request or event) applies to locally originated messages, and
// which remote-id sign this side allocates: positive ids are
// client-allocated, negative ids are server-allocated.
func New(cfg config.Config, displaySide bool, log *logrus.Entry) *Pipeline {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("side", sideName(displaySide))

	p := &Pipeline{
		Registry:    registry.New(),
		Shadows:     shadow.NewMap(!displaySide, cfg.Device(), cfg.PipeBufferSize),
		transfer:    newTransferQueue(),
		displaySide: displaySide,
		pool:        workerpool.New(cfg.Workers),
		log:         log,
	}
	if comp, err := workerpool.NewCompressor(cfg.Compression, cfg.CompressionLevel); err != nil {
		log.WithError(err).Warn("pipeline: compressor negotiation failed, forwarding content updates uncompressed")
	} else {
		p.Shadows.SetCompressor(comp)
	}
	if _, err := p.Registry.Insert(displayObjectID, "wl_display"); err != nil {
		// Insert only fails for a duplicate or zero id; neither is
		// possible on a freshly constructed registry.
		panic(err)
	}
	return p
}

// Close releases the pipeline's worker pool. Safe to call once the
// pipeline is no longer in use.
func (p *Pipeline) Close() { p.pool.Close() }

func sideName(displaySide bool) string {
	if displaySide {
		return "display"
	}
	return "client"
}

// originDirection is the signature direction of messages this
// pipeline's local peer sends.
func (p *Pipeline) originDirection() wire.Direction {
	if p.displaySide {
		return wire.DirEvent
	}
	return wire.DirRequest
}

// peerDirection is the signature direction of messages arriving from
// the channel, originated by the opposite pipeline.
func (p *Pipeline) peerDirection() wire.Direction {
	if p.displaySide {
		return wire.DirRequest
	}
	return wire.DirEvent
}

// SyncShadows collects pending content updates from every shadow this
// side owns and appends them to the transfer queue. Diff construction
// and compression run as one task on the worker pool (off the calling
// goroutine when cfg.Workers > 1); SyncShadows blocks until that task
// completes.
func (p *Pipeline) SyncShadows() {
	p.pool.Do(func() {
		p.transfer.push(p.Shadows.CollectUpdates()...)
	})
}

// DrainTransferQueue removes and returns every queued update frame.
// Callers must write the drained frames to the channel before the
// protocol message batch that references them.
func (p *Pipeline) DrainTransferQueue() []channel.UpdateFrame {
	return p.transfer.drain()
}

// ApplyUpdate applies one update frame received from the channel.
func (p *Pipeline) ApplyUpdate(frame channel.UpdateFrame) error {
	return p.Shadows.ApplyUpdate(frame)
}

// FlushTransferRefs releases one transfer-queue reference for each
// remote id in rids. Call once the protocol message that carried
// them has been fully written to the channel.
func (p *Pipeline) FlushTransferRefs(rids []int32) error {
	return p.Shadows.DecrefTransferredRIDs(rids)
}

// ProcessOutbound parses one message this pipeline's local peer
// produced, applies the structural handlers, and returns the bytes
// to forward plus the remote ids standing in for any local fds the
// message carried (in argument order). drop is true when the
// message should be elided from the outbound stream rather than
// forwarded.
func (p *Pipeline) ProcessOutbound(frame []byte, fds []int) (out []byte, remoteIDs []int32, drop bool, err error) {
	msg, err := wire.DecodeMessage(frame, fds)
	if err != nil {
		return nil, nil, false, err
	}

	sig, obj, err := p.resolve(msg, p.originDirection())
	if err != nil {
		if errors.Is(err, errPassthrough) {
			return frame, nil, false, nil
		}
		return nil, nil, false, err
	}

	if err := p.applyHandlers(msg, sig, obj); err != nil {
		p.log.WithError(err).Warn("pipeline: dropping message after handler error")
		return nil, nil, true, nil
	}

	remoteIDs = make([]int32, 0, len(msg.FDs))
	for _, localFD := range msg.FDs {
		shadowFD, err := p.Shadows.Translate(localFD, nil)
		if err != nil {
			p.log.WithError(err).Warn("pipeline: dropping message with untranslatable fd")
			return nil, nil, true, nil
		}
		if err := p.Shadows.IncrefTransfer(shadowFD.RemoteID); err != nil {
			return nil, nil, false, err
		}
		remoteIDs = append(remoteIDs, shadowFD.RemoteID)
	}

	return frame, remoteIDs, false, nil
}

// ProcessInbound parses one message arriving from the channel on
// behalf of the opposite pipeline, resolves its remote ids to local
// descriptors, and applies the same structural handlers.
func (p *Pipeline) ProcessInbound(frame []byte, remoteIDs []int32) (out []byte, localFDs []int, drop bool, err error) {
	msg, err := wire.DecodeMessage(frame, make([]int, len(remoteIDs)))
	if err != nil {
		return nil, nil, false, err
	}

	sig, obj, err := p.resolve(msg, p.peerDirection())
	if err != nil {
		if errors.Is(err, errPassthrough) {
			return frame, nil, false, nil
		}
		return nil, nil, false, err
	}

	if err := p.applyHandlers(msg, sig, obj); err != nil {
		p.log.WithError(err).Warn("pipeline: dropping message after handler error")
		return nil, nil, true, nil
	}

	localFDs = make([]int, 0, len(remoteIDs))
	for _, rid := range remoteIDs {
		shadowFD, err := p.Shadows.LocalDescriptorFor(rid)
		if err != nil {
			return nil, nil, false, err
		}
		localFDs = append(localFDs, shadowFD.LocalFD)
	}

	return frame, localFDs, false, nil
}

// errPassthrough signals resolve's caller to forward frame verbatim
// without further handling: the object's interface is outside the
// descriptor table and the message carries no fds.
var errPassthrough = errors.New("pipeline: passthrough")

// resolve looks up msg's object and signature, enforcing the
// unknown-interface passthrough rule and the size-check rule.
func (p *Pipeline) resolve(msg *wire.Message, dir wire.Direction) (wire.Signature, *registry.Object, error) {
	obj, ok := p.Registry.Get(msg.ObjectID)
	if !ok {
		return wire.Signature{}, nil, ErrUnboundObject
	}

	if !wire.KnownInterface(obj.Interface) {
		if len(msg.FDs) > 0 {
			return wire.Signature{}, nil, ErrFDsOnUnknownInterface
		}
		return wire.Signature{}, nil, errPassthrough
	}

	sig, ok := wire.Lookup(obj.Interface, dir, msg.Opcode)
	if !ok {
		return wire.Signature{}, nil, ErrParseFailure
	}
	if !wire.SizeCheck(sig, msg.Args, len(msg.FDs)) {
		return wire.Signature{}, nil, ErrParseFailure
	}
	return sig, obj, nil
}
