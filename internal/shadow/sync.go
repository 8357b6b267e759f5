//go:build linux

package shadow

import (
	"golang.org/x/sys/unix"

	"github.com/wlrelay/wlrelay/internal/channel"
)

// CollectUpdates walks every shadow this side owns and returns an
// update frame for each one whose content has changed since the
// last call, resetting its dirty interval as it goes.
func (m *Map) CollectUpdates() []channel.UpdateFrame {
	m.mu.Lock()
	shadows := append([]*FD(nil), m.list...)
	m.mu.Unlock()

	var frames []channel.UpdateFrame
	for _, fd := range shadows {
		if !fd.Owned {
			continue
		}
		frame, changed := m.collectOne(fd)
		if changed {
			frames = append(frames, frame)
		}
	}
	return frames
}

func alignDown(n int) int { return (n / wordSize) * wordSize }
func alignUp(n, limit int) int {
	n = ((n + wordSize - 1) / wordSize) * wordSize
	if n > limit {
		n = limit
	}
	return n
}

func (m *Map) collectOne(fd *FD) (channel.UpdateFrame, bool) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if fd.closed {
		return channel.UpdateFrame{}, false
	}

	switch fd.Category {
	case CategoryFile:
		return m.collectFileLocked(fd)
	case CategoryGraphicsBuffer:
		return m.collectGraphicsLocked(fd)
	case CategoryPipeReadable, CategoryPipeBidirectional:
		return m.collectPipeLocked(fd)
	default:
		return channel.UpdateFrame{}, false
	}
}

func (m *Map) collectFileLocked(fd *FD) (channel.UpdateFrame, bool) {
	if !fd.initSent {
		fd.initSent = true
		fd.DirtyMin, fd.DirtyMax = 0, 0
		return m.compressedFrame(channel.FileInit, fd.RemoteID, uint32(fd.FileSize), append([]byte(nil), fd.live...)), true
	}
	if frame, grew := m.growFileLocked(fd); grew {
		return frame, true
	}
	if fd.DirtyMin >= fd.DirtyMax {
		return channel.UpdateFrame{}, false
	}
	min := alignDown(fd.DirtyMin)
	max := alignUp(fd.DirtyMax, len(fd.live))
	if min >= max {
		return channel.UpdateFrame{}, false
	}

	runs, err := ConstructDiff(fd.Mirror[min:max], fd.live[min:max], 0, max-min)
	if err != nil {
		return channel.UpdateFrame{}, false
	}
	base := min / wordSize
	for i := range runs {
		runs[i].StartWord += base
		runs[i].EndWord += base
	}
	if len(runs) == 0 {
		fd.DirtyMin, fd.DirtyMax = 0, 0
		return channel.UpdateFrame{}, false
	}

	copy(fd.Mirror[min:max], fd.live[min:max])
	fd.DirtyMin, fd.DirtyMax = 0, 0

	return m.compressedFrame(channel.FileDiff, fd.RemoteID, uint32(fd.FileSize), EncodeRuns(runs)), true
}

// growFileLocked re-stats fd's backing file and, if it has grown since
// the last collect, remaps it and reports a FileExtend frame carrying
// the new authoritative size. wl_shm_pool.resize is the request that
// does this to a shadowed file out from under its owner; without this
// check, content past the originally mapped length would never reach
// the peer and diffs against the stale, too-short mirror would
// silently stop covering the grown region.
func (m *Map) growFileLocked(fd *FD) (channel.UpdateFrame, bool) {
	var st unix.Stat_t
	if err := unix.Fstat(fd.LocalFD, &st); err != nil {
		return channel.UpdateFrame{}, false
	}
	newSize := st.Size
	if newSize <= fd.FileSize {
		return channel.UpdateFrame{}, false
	}

	if fd.live != nil {
		_ = unix.Munmap(fd.live)
	}
	live, err := unix.Mmap(fd.LocalFD, 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return channel.UpdateFrame{}, false
	}
	grown := make([]byte, newSize)
	copy(grown, fd.Mirror)

	fd.live = live
	fd.Mirror = grown
	fd.FileSize = newSize
	fd.DirtyMin, fd.DirtyMax = 0, 0

	return channel.UpdateFrame{Type: channel.FileExtend, RemoteID: fd.RemoteID, TrueSize: uint32(newSize)}, true
}

// compressedFrame builds an update frame, running payload through the
// map's compressor when one is set. A compression failure falls back
// to the uncompressed payload rather than dropping the update.
func (m *Map) compressedFrame(typ channel.UpdateType, remoteID int32, trueSize uint32, payload []byte) channel.UpdateFrame {
	if m.compressor == nil {
		return channel.UpdateFrame{Type: typ, RemoteID: remoteID, TrueSize: trueSize, Payload: payload}
	}
	packed, err := m.compressor.Compress(payload)
	if err != nil {
		return channel.UpdateFrame{Type: typ, RemoteID: remoteID, TrueSize: trueSize, Payload: payload}
	}
	return channel.UpdateFrame{Type: typ, RemoteID: remoteID, TrueSize: trueSize, Payload: packed, Compressed: true}
}

// decompressPayload reverses compressedFrame's transform for an
// incoming frame.
func (m *Map) decompressPayload(frame channel.UpdateFrame) ([]byte, error) {
	if !frame.Compressed || m.compressor == nil {
		return frame.Payload, nil
	}
	return m.compressor.Decompress(frame.Payload)
}

func (m *Map) collectGraphicsLocked(fd *FD) (channel.UpdateFrame, bool) {
	if !fd.initSent {
		fd.initSent = true
		desc, err := EncodeDescriptor(fd.Meta)
		if err != nil {
			return channel.UpdateFrame{}, false
		}
		payload := append(desc, fd.Mirror...)
		return m.compressedFrame(channel.DmabufInit, fd.RemoteID, uint32(len(fd.Mirror)), payload), true
	}

	cur, err := m.dev.Map(fd.LocalFD, fd.Meta)
	if err != nil || len(cur) != len(fd.Mirror) {
		return channel.UpdateFrame{}, false
	}
	runs, err := ConstructDiff(fd.Mirror, cur, 0, len(fd.Mirror))
	if err != nil || len(runs) == 0 {
		return channel.UpdateFrame{}, false
	}
	copy(fd.Mirror, cur)

	return m.compressedFrame(channel.DmabufDiff, fd.RemoteID, uint32(len(fd.Mirror)), EncodeRuns(runs)), true
}

// collectPipeLocked reads at most one 4096-byte chunk per call; a
// burst larger than that drains across several successive collects
// rather than in one PipeWrite frame.
func (m *Map) collectPipeLocked(fd *FD) (channel.UpdateFrame, bool) {
	buf := make([]byte, 4096)
	n, err := unix.Read(fd.LocalFD, buf)
	if n <= 0 {
		if err != nil && err != unix.EAGAIN && !fd.hangup {
			fd.hangup = true
			return channel.UpdateFrame{Type: channel.PipeHangup, RemoteID: fd.RemoteID}, true
		}
		return channel.UpdateFrame{}, false
	}
	return channel.UpdateFrame{
		Type:     channel.PipeWrite,
		RemoteID: fd.RemoteID,
		Payload:  append([]byte(nil), buf[:n]...),
	}, true
}

// ApplyUpdate applies one update frame received from the peer,
// creating a placeholder shadow on first reference to a remote id.
func (m *Map) ApplyUpdate(frame channel.UpdateFrame) error {
	m.mu.Lock()
	fd, ok := m.bySide[frame.RemoteID]
	if !ok {
		// ProtocolRefs starts at 1, mirroring Translate's owning-side
		// shadow: the remote id is now known to this side and the
		// update stream will keep addressing it until the peer tears
		// it down, regardless of how many individual messages happen
		// to reference it along the way.
		fd = &FD{RemoteID: frame.RemoteID, LocalFD: -1, Owned: false, ProtocolRefs: 1}
		m.bySide[frame.RemoteID] = fd
		m.list = append(m.list, fd)
	}
	m.mu.Unlock()

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if frame.Compressed {
		payload, err := m.decompressPayload(frame)
		if err != nil {
			return err
		}
		frame.Payload = payload
		frame.Compressed = false
	}

	switch frame.Type {
	case channel.FileInit:
		return m.applyFileInitLocked(fd, frame)
	case channel.FileDiff:
		runs, err := DecodeRuns(frame.Payload)
		if err != nil {
			return err
		}
		if err := ApplyDiff(fd.Mirror, runs); err != nil {
			return err
		}
		return ApplyDiff(fd.live, runs)
	case channel.FileExtend:
		return m.applyFileExtendLocked(fd, frame)
	case channel.PipeWrite:
		return m.applyPipeWriteLocked(fd, frame)
	case channel.PipeHangup:
		fd.hangup = true
		return nil
	case channel.DmabufInit:
		return m.applyDmabufInitLocked(fd, frame)
	case channel.DmabufDiff:
		runs, err := DecodeRuns(frame.Payload)
		if err != nil {
			return err
		}
		if err := ApplyDiff(fd.Mirror, runs); err != nil {
			return err
		}
		return m.dev.Write(fd.LocalFD, fd.Meta, fd.Mirror)
	default:
		return nil
	}
}

func (m *Map) applyFileInitLocked(fd *FD, frame channel.UpdateFrame) error {
	size := int(frame.TrueSize)
	memFD, err := unix.MemfdCreate("wlrelay-shadow", 0)
	if err != nil {
		return err
	}
	if err := unix.Ftruncate(memFD, int64(size)); err != nil {
		_ = unix.Close(memFD)
		return err
	}
	live, err := unix.Mmap(memFD, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(memFD)
		return err
	}
	fd.Category = CategoryFile
	fd.LocalFD = memFD
	fd.live = live
	fd.FileSize = int64(size)
	fd.Mirror = make([]byte, size)
	copy(fd.Mirror, frame.Payload)
	copy(fd.live, frame.Payload)
	return nil
}

func (m *Map) applyFileExtendLocked(fd *FD, frame channel.UpdateFrame) error {
	newSize := int(frame.TrueSize)
	if err := unix.Ftruncate(fd.LocalFD, int64(newSize)); err != nil {
		return err
	}
	if fd.live != nil {
		_ = unix.Munmap(fd.live)
	}
	live, err := unix.Mmap(fd.LocalFD, 0, newSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	fd.live = live
	grown := make([]byte, newSize)
	copy(grown, fd.Mirror)
	fd.Mirror = grown
	fd.FileSize = int64(newSize)
	return nil
}

func (m *Map) applyPipeWriteLocked(fd *FD, frame channel.UpdateFrame) error {
	if fd.LocalFD < 0 {
		fd.Mirror = append(fd.Mirror, frame.Payload...)
		return nil
	}
	_, err := unix.Write(fd.LocalFD, frame.Payload)
	return err
}

func (m *Map) applyDmabufInitLocked(fd *FD, frame channel.UpdateFrame) error {
	meta, n, err := DecodeDescriptor(frame.Payload)
	if err != nil {
		return err
	}
	localFD, mirror, err := m.dev.Alloc(meta)
	if err != nil {
		return err
	}
	fd.Category = CategoryGraphicsBuffer
	fd.LocalFD = localFD
	fd.Meta = meta
	fd.Mirror = mirror
	copy(fd.Mirror, frame.Payload[n:])
	return m.dev.Write(localFD, meta, fd.Mirror)
}
