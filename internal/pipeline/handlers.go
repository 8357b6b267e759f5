package pipeline

import (
	"fmt"

	"github.com/wlrelay/wlrelay/internal/registry"
	"github.com/wlrelay/wlrelay/internal/wire"
)

// applyHandlers updates the object registry for msg according to
// sig: binding new ids on creation messages, resolving dynamic-
// interface bind messages, and marking destroyed ids as zombies.
// Messages referencing an already-zombie object decode normally but
// trigger no further mutation: lookups on zombies succeed for
// signature decoding but produce no semantic effect.
func (p *Pipeline) applyHandlers(msg *wire.Message, sig wire.Signature, obj *registry.Object) error {
	if obj.Zombie {
		return nil
	}

	var dec wire.Decoder
	dec.Reset(msg.Args, msg.FDs)

	var (
		pendingNewID     wire.ObjectID
		pendingInterface string
		haveNewID        bool
		dynName          string
		dynID            wire.ObjectID
		haveDynID        bool
	)

	for _, arg := range sig.Args {
		switch arg.Kind {
		case wire.ArgInt, wire.ArgUint:
			if _, err := dec.Int32(); err != nil {
				return err
			}
		case wire.ArgFixed:
			if _, err := dec.Fixed(); err != nil {
				return err
			}
		case wire.ArgString:
			if _, err := dec.String(); err != nil {
				return err
			}
		case wire.ArgArray:
			if _, err := dec.Array(); err != nil {
				return err
			}
		case wire.ArgObject:
			if _, err := dec.Object(); err != nil {
				return err
			}
		case wire.ArgNewID:
			id, err := dec.NewID()
			if err != nil {
				return err
			}
			pendingNewID = id
			pendingInterface = arg.Interface
			haveNewID = true
		case wire.ArgNewIDName:
			name, err := dec.String()
			if err != nil {
				return err
			}
			dynName = name
		case wire.ArgNewIDVersion:
			if _, err := dec.Uint32(); err != nil {
				return err
			}
		case wire.ArgNewIDID:
			id, err := dec.NewID()
			if err != nil {
				return err
			}
			dynID = id
			haveDynID = true
		case wire.ArgFD:
			// fd slots do not occupy argument bytes; fd translation
			// is handled by the caller once all handlers have run.
		}
	}

	if haveNewID {
		if _, err := p.Registry.Insert(pendingNewID, pendingInterface); err != nil {
			return fmt.Errorf("pipeline: bind %s: %w", pendingInterface, err)
		}
	}
	if haveDynID {
		if dynName == "" {
			return fmt.Errorf("pipeline: dynamic bind with empty interface name")
		}
		if _, err := p.Registry.Insert(dynID, dynName); err != nil {
			return fmt.Errorf("pipeline: dynamic bind %s: %w", dynName, err)
		}
	}
	if sig.Destructor {
		if err := p.Registry.MarkZombie(msg.ObjectID); err != nil {
			return err
		}
	}
	return nil
}
