package wire

import "encoding/binary"

// ArgKind enumerates the shapes an argument can take on the wire.
// Dynamic new_id arguments (e.g. wl_registry.bind) are not a single
// ArgKind; they appear in a Signature as three consecutive entries:
// ArgNewIDName, ArgNewIDVersion, ArgNewIDID.
type ArgKind uint8

const (
	ArgInt ArgKind = iota
	ArgUint
	ArgFixed
	ArgString
	ArgArray
	ArgObject      // existing-object reference
	ArgNewID       // new-id whose interface is fixed by the signature
	ArgNewIDName   // dynamic new-id: interface name string part
	ArgNewIDVersion
	ArgNewIDID
	ArgFD
)

// ArgSpec describes one argument slot. Interface is populated for
// ArgObject and ArgNewID when the target interface is statically
// known; it is empty for dynamic new-id triples and for object
// arguments that may reference any interface.
type ArgSpec struct {
	Kind      ArgKind
	Interface string
}

// Signature is one interface's request or event shape: an ordered
// argument list plus the bookkeeping flags the object registry and
// pipeline need (does this message create an object, is it a
// destructor).
type Signature struct {
	Name          string
	Args          []ArgSpec
	Destructor    bool
	CreatesObject bool
}

// Direction distinguishes requests (client -> server) from events
// (server -> client); which wire direction is "requests" does not
// change with display-side/client-side, only which local side
// originates them.
type Direction int

const (
	DirRequest Direction = iota
	DirEvent
)

// InterfaceSpec is one interface's full request/event opcode tables.
type InterfaceSpec struct {
	Name     string
	Requests map[Opcode]Signature
	Events   map[Opcode]Signature
}

// table is the protocol descriptor table: static data that in a full
// build would be generated from the upstream interface XML. It only
// needs to cover the interfaces the pipeline must understand
// structurally (object/new-id/fd bookkeeping); every other interface
// is passed through verbatim per the unknown-interface rule.
var table = map[string]*InterfaceSpec{
	"wl_display": {
		Name: "wl_display",
		Requests: map[Opcode]Signature{
			0: {Name: "sync", Args: []ArgSpec{{Kind: ArgNewID, Interface: "wl_callback"}}, CreatesObject: true},
			1: {Name: "get_registry", Args: []ArgSpec{{Kind: ArgNewID, Interface: "wl_registry"}}, CreatesObject: true},
		},
		Events: map[Opcode]Signature{
			0: {Name: "error", Args: []ArgSpec{{Kind: ArgObject}, {Kind: ArgUint}, {Kind: ArgString}}},
			1: {Name: "delete_id", Args: []ArgSpec{{Kind: ArgUint}}},
		},
	},
	"wl_registry": {
		Name: "wl_registry",
		Requests: map[Opcode]Signature{
			0: {Name: "bind", Args: []ArgSpec{
				{Kind: ArgUint},
				{Kind: ArgNewIDName}, {Kind: ArgNewIDVersion}, {Kind: ArgNewIDID},
			}, CreatesObject: true},
		},
		Events: map[Opcode]Signature{
			0: {Name: "global", Args: []ArgSpec{{Kind: ArgUint}, {Kind: ArgString}, {Kind: ArgUint}}},
			1: {Name: "global_remove", Args: []ArgSpec{{Kind: ArgUint}}},
		},
	},
	"wl_callback": {
		Name:     "wl_callback",
		Requests: map[Opcode]Signature{},
		Events: map[Opcode]Signature{
			0: {Name: "done", Args: []ArgSpec{{Kind: ArgUint}}, Destructor: true},
		},
	},
	"wl_compositor": {
		Name: "wl_compositor",
		Requests: map[Opcode]Signature{
			0: {Name: "create_surface", Args: []ArgSpec{{Kind: ArgNewID, Interface: "wl_surface"}}, CreatesObject: true},
			1: {Name: "create_region", Args: []ArgSpec{{Kind: ArgNewID, Interface: "wl_region"}}, CreatesObject: true},
		},
		Events: map[Opcode]Signature{},
	},
	"wl_surface": {
		Name: "wl_surface",
		Requests: map[Opcode]Signature{
			0: {Name: "destroy", Destructor: true},
			1: {Name: "attach", Args: []ArgSpec{{Kind: ArgObject}, {Kind: ArgInt}, {Kind: ArgInt}}},
			2: {Name: "damage", Args: []ArgSpec{{Kind: ArgInt}, {Kind: ArgInt}, {Kind: ArgInt}, {Kind: ArgInt}}},
			3: {Name: "frame", Args: []ArgSpec{{Kind: ArgNewID, Interface: "wl_callback"}}, CreatesObject: true},
			6: {Name: "commit"},
		},
		Events: map[Opcode]Signature{
			0: {Name: "enter", Args: []ArgSpec{{Kind: ArgObject}}},
			1: {Name: "leave", Args: []ArgSpec{{Kind: ArgObject}}},
		},
	},
	"wl_region": {
		Name: "wl_region",
		Requests: map[Opcode]Signature{
			0: {Name: "destroy", Destructor: true},
			1: {Name: "add", Args: []ArgSpec{{Kind: ArgInt}, {Kind: ArgInt}, {Kind: ArgInt}, {Kind: ArgInt}}},
			2: {Name: "subtract", Args: []ArgSpec{{Kind: ArgInt}, {Kind: ArgInt}, {Kind: ArgInt}, {Kind: ArgInt}}},
		},
		Events: map[Opcode]Signature{},
	},
	"wl_shm": {
		Name: "wl_shm",
		Requests: map[Opcode]Signature{
			0: {Name: "create_pool", Args: []ArgSpec{
				{Kind: ArgNewID, Interface: "wl_shm_pool"}, {Kind: ArgFD}, {Kind: ArgInt},
			}, CreatesObject: true},
		},
		Events: map[Opcode]Signature{
			0: {Name: "format", Args: []ArgSpec{{Kind: ArgUint}}},
		},
	},
	"wl_shm_pool": {
		Name: "wl_shm_pool",
		Requests: map[Opcode]Signature{
			0: {Name: "create_buffer", Args: []ArgSpec{
				{Kind: ArgNewID, Interface: "wl_buffer"}, {Kind: ArgInt}, {Kind: ArgInt}, {Kind: ArgInt}, {Kind: ArgInt}, {Kind: ArgUint},
			}, CreatesObject: true},
			1: {Name: "destroy", Destructor: true},
			2: {Name: "resize", Args: []ArgSpec{{Kind: ArgInt}}},
		},
		Events: map[Opcode]Signature{},
	},
	"wl_buffer": {
		Name: "wl_buffer",
		Requests: map[Opcode]Signature{
			0: {Name: "destroy", Destructor: true},
		},
		Events: map[Opcode]Signature{
			0: {Name: "release"},
		},
	},
	"wl_seat": {
		Name: "wl_seat",
		Requests: map[Opcode]Signature{
			0: {Name: "get_pointer", Args: []ArgSpec{{Kind: ArgNewID, Interface: "wl_pointer"}}, CreatesObject: true},
			1: {Name: "get_keyboard", Args: []ArgSpec{{Kind: ArgNewID, Interface: "wl_keyboard"}}, CreatesObject: true},
			2: {Name: "get_touch", Args: []ArgSpec{{Kind: ArgNewID, Interface: "wl_touch"}}, CreatesObject: true},
			3: {Name: "release", Destructor: true},
		},
		Events: map[Opcode]Signature{
			0: {Name: "capabilities", Args: []ArgSpec{{Kind: ArgUint}}},
			1: {Name: "name", Args: []ArgSpec{{Kind: ArgString}}},
		},
	},
	"wl_data_device_manager": {
		Name: "wl_data_device_manager",
		Requests: map[Opcode]Signature{
			0: {Name: "create_data_source", Args: []ArgSpec{{Kind: ArgNewID, Interface: "wl_data_source"}}, CreatesObject: true},
			1: {Name: "get_data_device", Args: []ArgSpec{
				{Kind: ArgNewID, Interface: "wl_data_device"}, {Kind: ArgObject},
			}, CreatesObject: true},
		},
		Events: map[Opcode]Signature{},
	},
	"zwp_linux_dmabuf_v1": {
		Name: "zwp_linux_dmabuf_v1",
		Requests: map[Opcode]Signature{
			0: {Name: "destroy", Destructor: true},
			1: {Name: "create_params", Args: []ArgSpec{{Kind: ArgNewID, Interface: "zwp_linux_buffer_params_v1"}}, CreatesObject: true},
		},
		Events: map[Opcode]Signature{
			0: {Name: "format", Args: []ArgSpec{{Kind: ArgUint}}},
			1: {Name: "modifier", Args: []ArgSpec{{Kind: ArgUint}, {Kind: ArgUint}, {Kind: ArgUint}}},
		},
	},
	"zwp_linux_buffer_params_v1": {
		Name: "zwp_linux_buffer_params_v1",
		Requests: map[Opcode]Signature{
			0: {Name: "destroy", Destructor: true},
			1: {Name: "add", Args: []ArgSpec{
				{Kind: ArgFD}, {Kind: ArgUint}, {Kind: ArgUint}, {Kind: ArgUint}, {Kind: ArgUint}, {Kind: ArgUint},
			}},
			2: {Name: "create", Args: []ArgSpec{{Kind: ArgInt}, {Kind: ArgInt}, {Kind: ArgUint}, {Kind: ArgUint}}},
			3: {Name: "create_immed", Args: []ArgSpec{
				{Kind: ArgNewID, Interface: "wl_buffer"}, {Kind: ArgInt}, {Kind: ArgInt}, {Kind: ArgUint}, {Kind: ArgUint},
			}, CreatesObject: true},
		},
		Events: map[Opcode]Signature{
			0: {Name: "created", Args: []ArgSpec{{Kind: ArgNewID, Interface: "wl_buffer"}}, CreatesObject: true},
			1: {Name: "failed"},
		},
	},
}

// Lookup returns the signature for iface's opcode op in direction dir.
func Lookup(iface string, dir Direction, op Opcode) (Signature, bool) {
	spec, ok := table[iface]
	if !ok {
		return Signature{}, false
	}
	tbl := spec.Requests
	if dir == DirEvent {
		tbl = spec.Events
	}
	sig, ok := tbl[op]
	return sig, ok
}

// KnownInterface reports whether iface appears in the protocol
// descriptor table at all (used to decide the unknown-interface
// passthrough rule).
func KnownInterface(iface string) bool {
	_, ok := table[iface]
	return ok
}

// SizeCheck walks sig against the on-wire argument bytes args and the
// number of fds available (fdCount), implementing the size-check rule
// of the wire parser: every scalar argument costs 4 bytes, every
// string/array costs its length prefix plus 4-byte-padded payload,
// every object/new-id costs 4 bytes, and fd arguments cost one queued
// descriptor each. SizeCheck succeeds only when the signature's walk
// consumes args exactly (no leftover, no shortfall) and fdCount is at
// least the number of fd slots the signature requires.
func SizeCheck(sig Signature, args []byte, fdCount int) bool {
	offset := 0
	fdsNeeded := 0
	for _, a := range sig.Args {
		switch a.Kind {
		case ArgInt, ArgUint, ArgFixed, ArgObject, ArgNewID, ArgNewIDVersion, ArgNewIDID:
			if offset+4 > len(args) {
				return false
			}
			offset += 4
		case ArgString, ArgNewIDName:
			if offset+4 > len(args) {
				return false
			}
			length := int(binary.LittleEndian.Uint32(args[offset:]))
			offset += 4
			if length < 0 || length > maxMessageSize {
				return false
			}
			padded := length + paddingFor(length)
			if offset+padded > len(args) {
				return false
			}
			offset += padded
		case ArgArray:
			if offset+4 > len(args) {
				return false
			}
			length := int(binary.LittleEndian.Uint32(args[offset:]))
			offset += 4
			if length < 0 || length > maxMessageSize {
				return false
			}
			padded := length + paddingFor(length)
			if offset+padded > len(args) {
				return false
			}
			offset += padded
		case ArgFD:
			fdsNeeded++
		}
	}
	if offset != len(args) {
		return false
	}
	return fdCount >= fdsNeeded
}

// FDCount returns the number of fd slots sig's argument list declares.
func FDCount(sig Signature) int {
	n := 0
	for _, a := range sig.Args {
		if a.Kind == ArgFD {
			n++
		}
	}
	return n
}
