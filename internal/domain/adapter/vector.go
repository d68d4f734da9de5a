package adapter

import (
	"context"

	"github.com/Sentinel-Gate/tapgate/internal/domain/buffer"
)

// VectorSendState is the per-invocation state of a vectored write.
type VectorSendState struct {
	original int
	active   bool
}

// Original returns the total length the caller asked to write.
func (s VectorSendState) Original() int { return s.original }

// VectorSend adapts WSASend, WSASendTo and writev-style writes.
type VectorSend struct {
	base
}

// NewVectorSend creates a VectorSend adapter.
func NewVectorSend(tag, fn string, d Deps) *VectorSend {
	return &VectorSend{base: newBase(FamilyVectorSend, tag, fn, d)}
}

// Enter flattens segs into one message and splits the replacement into fresh
// segments of the same count. The returned segments replace the caller's.
func (a *VectorSend) Enter(ctx context.Context, handle uintptr, segs [][]byte) ([][]byte, VectorSendState) {
	if len(segs) == 0 {
		return segs, VectorSendState{}
	}
	total := buffer.Capacity(segs)
	repl := a.send(ctx, handle, buffer.Gather(segs, total))

	lens := make([]int, len(segs))
	for i, s := range segs {
		lens[i] = len(s)
	}
	return buffer.Split(lens, repl), VectorSendState{original: total, active: true}
}

// Leave reports the original total through *sent when the call succeeded
// (ret == 0). The return value is never changed.
func (a *VectorSend) Leave(st VectorSendState, ret int64, sent *int64) int64 {
	if !st.active || ret != 0 || sent == nil {
		return ret
	}
	*sent = int64(st.original)
	return ret
}

// VectorRecvState remembers the destination segments of a vectored read.
type VectorRecvState struct {
	handle   uintptr
	segs     [][]byte
	received *int64
	skip     bool
}

// VectorRecv adapts WSARecv and WSARecvFrom.
type VectorRecv struct {
	base
}

// NewVectorRecv creates a VectorRecv adapter.
func NewVectorRecv(tag, fn string, d Deps) *VectorRecv {
	return &VectorRecv{base: newBase(FamilyVectorRecv, tag, fn, d)}
}

// Enter records the destination segments. Overlapped calls complete
// asynchronously after the hook returns and are not intercepted.
func (a *VectorRecv) Enter(handle uintptr, segs [][]byte, received *int64, overlapped bool) VectorRecvState {
	if overlapped {
		a.logger.Warn("overlapped receive is not supported, passing through")
		return VectorRecvState{skip: true}
	}
	return VectorRecvState{handle: handle, segs: segs, received: received}
}

// Leave gathers the received bytes on success, intercepts them once and
// scatters the replacement back across the segments, updating *received.
func (a *VectorRecv) Leave(ctx context.Context, st VectorRecvState, ret int64) int64 {
	if st.skip || ret != 0 || st.received == nil {
		return ret
	}
	capacity := buffer.Capacity(st.segs)
	n := *st.received
	if n <= 0 || n > int64(capacity) {
		return ret
	}
	captured := buffer.Gather(st.segs, int(n))
	repl := a.recv(ctx, st.handle, captured)
	out := a.fit(capacity, captured, repl)

	written, _ := buffer.Scatter(st.segs, out)
	*st.received = int64(written)
	return ret
}
