package pipeline

import "github.com/wlrelay/wlrelay/internal/channel"

// transferQueue is the per-direction vectored queue of pending
// update frames. It is owned exclusively by its Pipeline's goroutine;
// SyncShadows and DrainTransferQueue are always called from that same
// goroutine, so no locking is needed here.
type transferQueue struct {
	frames []channel.UpdateFrame
}

func newTransferQueue() *transferQueue { return &transferQueue{} }

func (q *transferQueue) push(frames ...channel.UpdateFrame) {
	q.frames = append(q.frames, frames...)
}

func (q *transferQueue) drain() []channel.UpdateFrame {
	out := q.frames
	q.frames = nil
	return out
}
