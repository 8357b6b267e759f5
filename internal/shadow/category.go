//go:build linux

package shadow

import "golang.org/x/sys/unix"

// Category classifies what kind of descriptor a shadow fd mirrors.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryFile
	CategoryPipeReadable
	CategoryPipeWritable
	CategoryPipeBidirectional
	CategoryGraphicsBuffer
)

func (c Category) String() string {
	switch c {
	case CategoryFile:
		return "file"
	case CategoryPipeReadable:
		return "pipe-readable"
	case CategoryPipeWritable:
		return "pipe-writable"
	case CategoryPipeBidirectional:
		return "pipe-bidirectional"
	case CategoryGraphicsBuffer:
		return "graphics-buffer"
	default:
		return "unknown"
	}
}

// inodeKey identifies a local fd by the (device, inode) pair its
// stat(2) info reports, used to detect that two fds refer to the same
// underlying file so Translate is idempotent.
type inodeKey struct {
	dev, ino uint64
}

// classify inspects fd with fstat(2) and, for pipes, fcntl(2) to
// determine its open mode. isGraphicsBuffer lets the caller force
// graphics-buffer classification for fds that stat(2) alone cannot
// distinguish from a regular file (dma-buf fds on many drivers report
// S_IFREG).
func classify(fd int, isGraphicsBuffer bool) (Category, inodeKey, int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return CategoryUnknown, inodeKey{}, 0, err
	}
	key := inodeKey{dev: uint64(st.Dev), ino: st.Ino}

	if isGraphicsBuffer {
		return CategoryGraphicsBuffer, key, st.Size, nil
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		return CategoryFile, key, st.Size, nil
	case unix.S_IFIFO:
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		if err != nil {
			return CategoryUnknown, key, 0, err
		}
		switch flags & unix.O_ACCMODE {
		case unix.O_RDONLY:
			return CategoryPipeReadable, key, 0, nil
		case unix.O_WRONLY:
			return CategoryPipeWritable, key, 0, nil
		default:
			return CategoryPipeBidirectional, key, 0, nil
		}
	default:
		return CategoryUnknown, key, st.Size, nil
	}
}
