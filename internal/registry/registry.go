// Package registry implements the per-connection object registry: the
// id -> (interface, zombie) table that wire-parser handlers mutate as
// creator and destructor messages are processed.
//
// Ids are split into two dense allocation domains, matching real
// Wayland id numbering: client-allocated ids start at 1 and grow
// upward; server-allocated ids start at ServerIDStart and also grow
// upward from there. Each domain is backed by its own slice, indexed
// by the offset from the domain's base, so lookup stays O(1) without
// a hash map on the hot wire-parsing path.
package registry

import (
	"errors"
	"sync"

	"github.com/wlrelay/wlrelay/internal/wire"
)

// ServerIDStart is the first id in the server-allocated domain.
// Real compositors hand out new-ids at or above this value when they
// are the allocating side; everything below is client-allocated.
const ServerIDStart = 0xff000000

var (
	ErrZeroID         = errors.New("registry: object id 0 is invalid")
	ErrAlreadyPresent = errors.New("registry: id already present")
	ErrNotPresent     = errors.New("registry: id not present")
)

// Object is one live (or recently destroyed) protocol object.
type Object struct {
	ID        wire.ObjectID
	Interface string
	Zombie    bool

	// Payload is an opaque per-interface value the owning pipeline can
	// attach (e.g. a shadow-fd back-reference used by a destructor to
	// drop protocol refcounts). The registry never interprets it.
	Payload any
}

// Registry is a per-connection, per-direction object table. It is not
// safe to share between the two directions of a connection (see the
// design's "Shared state discipline"); the mutex here only protects
// against incidental concurrent access within one direction (e.g. a
// worker-pool callback touching it after a task completes).
type Registry struct {
	mu     sync.Mutex
	client []*Object // index i holds id i; index 0 unused
	server []*Object // index i holds id ServerIDStart+i
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		client: make([]*Object, 2, 64),
		server: make([]*Object, 2, 64),
	}
}

func isServerID(id wire.ObjectID) bool { return uint32(id) >= ServerIDStart }

// serverIndex maps a server-domain id to a dense, small index. Server
// ids start at ServerIDStart and increase from there (mirroring
// libwayland-server's allocator), so the index is just the offset
// from the domain's base.
func serverIndex(id wire.ObjectID) int { return int(uint32(id) - ServerIDStart) }

// Insert adds a new object with the given id and interface. It is an
// error to insert an id that is already present.
func (r *Registry) Insert(id wire.ObjectID, iface string) (*Object, error) {
	if id == 0 {
		return nil, ErrZeroID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, idx := r.slot(id)
	if idx < len(*slot) && (*slot)[idx] != nil {
		return nil, ErrAlreadyPresent
	}
	obj := &Object{ID: id, Interface: iface}
	r.grow(slot, idx)
	(*slot)[idx] = obj
	return obj, nil
}

// Get looks up id, returning the object and whether it was found.
// Lookups succeed for zombie objects too: a zombie is present but
// semantically inert.
func (r *Registry) Get(id wire.ObjectID) (*Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, idx := r.slot(id)
	if idx >= len(*slot) || (*slot)[idx] == nil {
		return nil, false
	}
	return (*slot)[idx], true
}

// MarkZombie transitions id from bound to destroyed without freeing
// its slot; the id may still appear in in-flight messages until
// Remove is called.
func (r *Registry) MarkZombie(id wire.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, idx := r.slot(id)
	if idx >= len(*slot) || (*slot)[idx] == nil {
		return ErrNotPresent
	}
	(*slot)[idx].Zombie = true
	return nil
}

// Remove deletes id from the registry outright, the destroyed ->
// unbound transition triggered by id-recycle. Removing a missing id
// is an error.
func (r *Registry) Remove(id wire.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, idx := r.slot(id)
	if idx >= len(*slot) || (*slot)[idx] == nil {
		return ErrNotPresent
	}
	(*slot)[idx] = nil
	return nil
}

// slot returns a pointer to the backing vector for id's allocation
// domain and the index within it.
func (r *Registry) slot(id wire.ObjectID) (*[]*Object, int) {
	if isServerID(id) {
		return &r.server, serverIndex(id)
	}
	return &r.client, int(id)
}

func (r *Registry) grow(slot *[]*Object, idx int) {
	if idx < len(*slot) {
		return
	}
	grown := make([]*Object, idx+1)
	copy(grown, *slot)
	*slot = grown
}
