//go:build linux

package shadow

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrNotFound is returned when an operation names a remote id this
// map has never seen.
var ErrNotFound = errors.New("shadow: unknown remote id")

// Compressor transforms update-frame payloads before they cross the
// channel and reverses the transform on the receiving side. A Map
// with no compressor set forwards payloads unmodified. The interface
// is defined here rather than imported so internal/shadow never needs
// to depend on the package that negotiates compression mode.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// FD is a shadow fd: the local mirror of one real descriptor shared
// across a channel that cannot itself carry fds end to end. RemoteID
// is the stable identity both sides agree on, ProtocolRefs counts
// live protocol-message references to it, and TransferRefs counts
// in-flight transfer-queue references. A shadow is torn down only
// once both reach zero.
type FD struct {
	mu sync.Mutex

	Category Category
	RemoteID int32

	// LocalFD is the real descriptor on this side: the original fd
	// passed by a local client/compositor for an Owned shadow, or a
	// reconstructed memfd/driver buffer/pipe for a received one.
	// -1 until a placeholder has something to back it.
	LocalFD int

	// Owned is true when this side holds the authoritative content
	// source (it called Translate); false when this shadow was
	// created by ApplyUpdate to mirror a remote one.
	Owned bool

	ProtocolRefs int
	TransferRefs int

	// Mirror is the last content both sides are known to agree on.
	// For files and graphics buffers it is compared against the live
	// view to compute diffs; for pipes it holds received bytes queued
	// while the shadow has no LocalFD to write them to.
	Mirror []byte

	// live is the mmap'd view of a file shadow's LocalFD. nil for
	// pipes and for graphics buffers, which go through dev instead.
	live []byte

	// DirtyMin/DirtyMax is the half-open byte interval touched since
	// the last CollectUpdates call. DirtyMin >= DirtyMax means clean.
	DirtyMin int
	DirtyMax int

	FileSize int64
	Meta     GraphicsMeta

	inode    inodeKey
	hangup   bool
	closed   bool
	initSent bool
}

// MarkDirty widens the shadow's dirty interval to include [start,end).
func (fd *FD) MarkDirty(start, end int) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.DirtyMin >= fd.DirtyMax {
		fd.DirtyMin, fd.DirtyMax = start, end
		return
	}
	if start < fd.DirtyMin {
		fd.DirtyMin = start
	}
	if end > fd.DirtyMax {
		fd.DirtyMax = end
	}
}

// Map owns the shadow-fd table for one direction of a relay: the set
// of shadows this side has translated from local fds (Owned) plus
// the set reconstructed from update frames sent by the peer.
type Map struct {
	mu sync.Mutex

	bySide  map[int32]*FD
	byInode map[inodeKey]*FD
	list    []*FD

	positiveLocal bool
	nextMagnitude int32

	dev        GraphicsDevice
	pipeBufCap int
	compressor Compressor
}

// NewMap creates an empty shadow map. positiveLocal selects which
// sign this side uses for remote ids it allocates: the two directions
// of a relay allocate from disjoint id spaces so neither side's
// choices collide with the other's. dev is the graphics
// backend to use for dmabuf shadows; pass NoGPUDevice{} to disable
// graphics-buffer support entirely.
func NewMap(positiveLocal bool, dev GraphicsDevice, pipeBufCap int) *Map {
	if dev == nil {
		dev = NoGPUDevice{}
	}
	if pipeBufCap <= 0 {
		pipeBufCap = 64 * 1024
	}
	return &Map{
		bySide:        make(map[int32]*FD),
		byInode:       make(map[inodeKey]*FD),
		positiveLocal: positiveLocal,
		dev:           dev,
		pipeBufCap:    pipeBufCap,
	}
}

// SetCompressor installs c as the transform CollectUpdates and
// ApplyUpdate run diff and init payloads through. Passing nil
// disables compression.
func (m *Map) SetCompressor(c Compressor) {
	m.mu.Lock()
	m.compressor = c
	m.mu.Unlock()
}

func (m *Map) allocRemoteID() int32 {
	m.nextMagnitude++
	if m.positiveLocal {
		return m.nextMagnitude
	}
	return -m.nextMagnitude
}

// Translate converts a local fd into its shadow, creating one on
// first sight and bumping ProtocolRefs on every subsequent call for
// the same underlying descriptor. meta is required when fd is a
// graphics buffer and must be nil otherwise.
func (m *Map) Translate(fd int, meta *GraphicsMeta) (*FD, error) {
	cat, key, size, err := classify(fd, meta != nil)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.byInode[key]; ok {
		m.mu.Unlock()
		existing.mu.Lock()
		existing.ProtocolRefs++
		existing.mu.Unlock()
		return existing, nil
	}
	remoteID := m.allocRemoteID()
	m.mu.Unlock()

	shadowFD := &FD{
		Category:     cat,
		RemoteID:     remoteID,
		LocalFD:      fd,
		Owned:        true,
		ProtocolRefs: 1,
		inode:        key,
	}

	switch cat {
	case CategoryFile:
		live, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return nil, err
		}
		shadowFD.live = live
		shadowFD.FileSize = size
		shadowFD.Mirror = append([]byte(nil), live...)
	case CategoryGraphicsBuffer:
		shadowFD.Meta = *meta
		mirror, err := m.dev.Map(fd, *meta)
		if err != nil {
			return nil, err
		}
		shadowFD.Mirror = mirror
	case CategoryPipeReadable, CategoryPipeWritable, CategoryPipeBidirectional:
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		if err == nil {
			_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK)
		}
		shadowFD.Mirror = make([]byte, 0, m.pipeBufCap)
	}

	m.mu.Lock()
	m.byInode[key] = shadowFD
	m.bySide[remoteID] = shadowFD
	m.list = append(m.list, shadowFD)
	m.mu.Unlock()

	return shadowFD, nil
}

// Lookup returns the shadow for a remote id known to this map.
func (m *Map) Lookup(remoteID int32) (*FD, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fd, ok := m.bySide[remoteID]
	return fd, ok
}

// LocalDescriptorFor resolves a remote id to the local descriptor a
// forwarded protocol message should carry, creating a pending
// placeholder shadow if no update has reconstructed it yet: every fd
// slot in a message currently in the outgoing queue holds a transfer
// ref on the shadow it names. The transfer-queue ordering guarantee
// means the backing update has normally already been applied by the
// time this is called.
func (m *Map) LocalDescriptorFor(remoteID int32) (*FD, error) {
	m.mu.Lock()
	fd, ok := m.bySide[remoteID]
	if !ok {
		// Same ProtocolRefs convention as ApplyUpdate's placeholder
		// creation: a remote id resolved here for the first time is
		// now known to this side independent of the one in-flight
		// message that is about to bump TransferRefs below.
		fd = &FD{RemoteID: remoteID, LocalFD: -1, Owned: false, ProtocolRefs: 1}
		m.bySide[remoteID] = fd
		m.list = append(m.list, fd)
	}
	m.mu.Unlock()

	fd.mu.Lock()
	fd.TransferRefs++
	fd.mu.Unlock()
	return fd, nil
}

// IncrefTransfer bumps a shadow's transfer-ref count, once for each
// outbound message fd slot that names it.
func (m *Map) IncrefTransfer(remoteID int32) error {
	fd, ok := m.Lookup(remoteID)
	if !ok {
		return ErrNotFound
	}
	fd.mu.Lock()
	fd.TransferRefs++
	fd.mu.Unlock()
	return nil
}

// DecrefTransfer releases one transfer-queue reference, destroying
// the shadow if both refcounts have reached zero.
func (m *Map) DecrefTransfer(remoteID int32) (destroyed bool, err error) {
	return m.decref(remoteID, false, true)
}

// DecrefProtocol releases one protocol-message reference (e.g. the
// object holding this fd was destroyed), destroying the shadow if
// both refcounts have reached zero.
func (m *Map) DecrefProtocol(remoteID int32) (destroyed bool, err error) {
	return m.decref(remoteID, true, false)
}

// DecrefTransferredRIDs releases one transfer-queue reference for
// each remote id in rids, in order. It is used once the protocol
// message that carried those remote ids has been forwarded.
func (m *Map) DecrefTransferredRIDs(rids []int32) error {
	for _, rid := range rids {
		if _, err := m.DecrefTransfer(rid); err != nil {
			return err
		}
	}
	return nil
}

func (m *Map) decref(remoteID int32, protocol, transfer bool) (bool, error) {
	fd, ok := m.Lookup(remoteID)
	if !ok {
		return false, ErrNotFound
	}

	fd.mu.Lock()
	if protocol && fd.ProtocolRefs > 0 {
		fd.ProtocolRefs--
	}
	if transfer && fd.TransferRefs > 0 {
		fd.TransferRefs--
	}
	dead := fd.ProtocolRefs == 0 && fd.TransferRefs == 0 && !fd.closed
	if dead {
		fd.closed = true
	}
	fd.mu.Unlock()

	if !dead {
		return false, nil
	}
	m.destroy(fd)
	return true, nil
}

func (m *Map) destroy(fd *FD) {
	m.mu.Lock()
	delete(m.bySide, fd.RemoteID)
	if fd.inode != (inodeKey{}) {
		delete(m.byInode, fd.inode)
	}
	m.mu.Unlock()

	switch fd.Category {
	case CategoryFile:
		if fd.live != nil {
			_ = unix.Munmap(fd.live)
		}
		if fd.LocalFD >= 0 {
			_ = unix.Close(fd.LocalFD)
		}
	case CategoryGraphicsBuffer:
		if fd.LocalFD >= 0 {
			_ = m.dev.Close(fd.LocalFD)
		}
	default:
		if fd.LocalFD >= 0 {
			_ = unix.Close(fd.LocalFD)
		}
	}
}
