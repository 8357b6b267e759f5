//go:build linux

// Package channel implements the two wire-level concerns the pipeline
// needs from its transport without owning the transport itself: fd
// passing over a Unix domain socket (SCM_RIGHTS), and the binary
// layout of update frames that carry shadow-fd content across a
// channel that cannot pass descriptors. The accept loop and the
// length-prefix framing of the outer non-local channel are
// collaborators outside this package's scope.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// UpdateType identifies the kind of fd-content update frame, per the
// channel framing contract.
type UpdateType uint8

const (
	FileInit UpdateType = iota
	FileDiff
	FileExtend
	PipeWrite
	PipeHangup
	DmabufInit
	DmabufDiff
)

// updateHeaderSize is the fixed portion of an update frame: the
// (type<<24)|size_low word, plus the remote id word.
const updateHeaderSize = 8

// ErrShortUpdateFrame is returned when a buffer is too small to hold
// even an update frame's fixed header.
var ErrShortUpdateFrame = errors.New("channel: buffer shorter than update frame header")

// UpdateFrame is one fd-content synchronization message: a typed
// header naming the remote id it updates, plus the payload (a diff,
// a pipe write, or an init descriptor).
type UpdateFrame struct {
	Type     UpdateType
	RemoteID int32
	// TrueSize carries the authoritative content size: the file size
	// for FileInit, FileDiff and FileExtend, and the mirror length for
	// DmabufInit and DmabufDiff; zero for pipe frames. It is not the
	// payload length, which for diffs and compressed payloads differs.
	TrueSize uint32
	Payload  []byte
	// Compressed marks Payload as having passed through the
	// negotiated compression transform; the receiving side must run
	// it back through the same transform before interpreting it as
	// run-encoded diff data or raw content.
	Compressed bool
}

// compressedBit is the top bit of the type byte, free because
// UpdateType never uses more than its low three bits.
const compressedBit = 1 << 7

// EncodeUpdateFrame renders f to its on-wire form: a (type, size_low)
// word, the remote id, and the payload. The encoded size is rounded
// up to 8 bytes as required by the channel framing contract; short
// payloads are padded with zero bytes.
func EncodeUpdateFrame(f UpdateFrame) []byte {
	padded := (len(f.Payload) + 7) &^ 7
	buf := make([]byte, updateHeaderSize+padded)
	sizeLow := uint32(len(f.Payload)) & 0x00FFFFFF
	typeByte := uint32(f.Type)
	if f.Compressed {
		typeByte |= compressedBit
	}
	binary.LittleEndian.PutUint32(buf[0:4], typeByte<<24|sizeLow)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(f.RemoteID))
	copy(buf[updateHeaderSize:], f.Payload)
	return buf
}

// DecodeUpdateFrame parses an update frame from buf, returning the
// frame and the number of bytes consumed.
func DecodeUpdateFrame(buf []byte) (UpdateFrame, int, error) {
	if len(buf) < updateHeaderSize {
		return UpdateFrame{}, 0, ErrShortUpdateFrame
	}
	w0 := binary.LittleEndian.Uint32(buf[0:4])
	remoteID := int32(binary.LittleEndian.Uint32(buf[4:8]))
	typeByte := w0 >> 24
	typ := UpdateType(typeByte &^ compressedBit)
	compressed := typeByte&compressedBit != 0
	size := int(w0 & 0x00FFFFFF)
	padded := (size + 7) &^ 7
	if len(buf) < updateHeaderSize+padded {
		return UpdateFrame{}, 0, ErrShortUpdateFrame
	}
	payload := make([]byte, size)
	copy(payload, buf[updateHeaderSize:updateHeaderSize+size])
	return UpdateFrame{Type: typ, RemoteID: remoteID, Payload: payload, Compressed: compressed}, updateHeaderSize + padded, nil
}

// FDConn is a Unix domain socket connection augmented with SCM_RIGHTS
// fd passing.
type FDConn struct {
	conn     *net.UnixConn
	connFile *os.File
	readBuf  []byte
}

// NewFDConn wraps conn, which must be a *net.UnixConn, for fd-capable
// reads and writes.
func NewFDConn(conn *net.UnixConn, maxFrame int) (*FDConn, error) {
	file, err := conn.File()
	if err != nil {
		return nil, fmt.Errorf("channel: failed to get socket file: %w", err)
	}
	return &FDConn{conn: conn, connFile: file, readBuf: make([]byte, maxFrame)}, nil
}

// Close releases the duplicated file and the underlying connection.
func (c *FDConn) Close() error {
	_ = c.connFile.Close()
	return c.conn.Close()
}

// WriteWithFDs writes data and, if any, passes fds via SCM_RIGHTS
// alongside it in a single sendmsg(2) call.
func (c *FDConn) WriteWithFDs(data []byte, fds []int) error {
	fdInt := int(c.connFile.Fd())
	if len(fds) == 0 {
		_, err := c.conn.Write(data)
		return err
	}
	rights := unix.UnixRights(fds...)
	return unix.Sendmsg(fdInt, data, rights, nil, 0)
}

// maxAncillaryFDs bounds how many descriptors a single recvmsg call
// will accept; comfortably above SCM_MAX_FD on Linux is not required
// since Wayland messages carry at most a handful of fds each.
const maxAncillaryFDs = 28

// ReadWithFDs reads one datagram-sized chunk of bytes plus any fds
// passed alongside it via SCM_RIGHTS.
func (c *FDConn) ReadWithFDs() (data []byte, fds []int, err error) {
	fdInt := int(c.connFile.Fd())
	oob := make([]byte, unix.CmsgSpace(maxAncillaryFDs*4))

	n, oobn, _, _, err := unix.Recvmsg(fdInt, c.readBuf, oob, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("channel: recvmsg: %w", err)
	}
	if n == 0 {
		return nil, nil, io.EOF
	}

	fds, err = parseFDs(oob[:oobn])
	if err != nil {
		return nil, nil, err
	}

	out := make([]byte, n)
	copy(out, c.readBuf[:n])
	return out, fds, nil
}

func parseFDs(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("channel: parse control message: %w", err)
	}
	var fds []int
	for _, cmsg := range cmsgs {
		got, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		fds = append(fds, got...)
	}
	return fds, nil
}
