package adapter

import (
	"context"

	"github.com/Sentinel-Gate/tapgate/internal/domain/buffer"
)

// RecvState remembers the destination of a read call between entry and exit.
type RecvState struct {
	handle uintptr
	dst    []byte
	count  *int64
}

// BufferRecv adapts recv, recvfrom, SSL_read and gnutls_record_recv.
type BufferRecv struct {
	base
}

// NewBufferRecv creates a BufferRecv adapter.
func NewBufferRecv(tag, fn string, d Deps) *BufferRecv {
	return &BufferRecv{base: newBase(FamilyBufferRecv, tag, fn, d)}
}

// Enter records the destination buffer. Its length is the capacity.
func (a *BufferRecv) Enter(handle uintptr, dst []byte) RecvState {
	return RecvState{handle: handle, dst: dst}
}

// Leave intercepts dst[:ret] once data arrived and writes the replacement
// back in place, returning the new byte count. Errors, end of stream and
// results larger than the buffer are passed through.
func (a *BufferRecv) Leave(ctx context.Context, st RecvState, ret int64) int64 {
	if ret <= 0 || ret > int64(len(st.dst)) {
		return ret
	}
	captured := st.dst[:ret]
	repl := a.recv(ctx, st.handle, captured)
	out := a.fit(len(st.dst), captured, repl)
	return int64(buffer.SafeWrite(st.dst, out))
}

// OutLenRead adapts SSL_read_ex, which returns 1 on success and stores the
// byte count through an out-parameter.
type OutLenRead struct {
	base
}

// NewOutLenRead creates an OutLenRead adapter.
func NewOutLenRead(tag, fn string, d Deps) *OutLenRead {
	return &OutLenRead{base: newBase(FamilyOutLenRead, tag, fn, d)}
}

// Enter records the destination buffer and the count out-parameter.
func (a *OutLenRead) Enter(handle uintptr, dst []byte, readBytes *int64) RecvState {
	return RecvState{handle: handle, dst: dst, count: readBytes}
}

// Leave intercepts on success and rewrites *readBytes to the number of
// replacement bytes written. The return value is never changed.
func (a *OutLenRead) Leave(ctx context.Context, st RecvState, ret int64) int64 {
	if ret != 1 || st.count == nil {
		return ret
	}
	n := *st.count
	if n <= 0 || n > int64(len(st.dst)) {
		return ret
	}
	captured := st.dst[:n]
	repl := a.recv(ctx, st.handle, captured)
	out := a.fit(len(st.dst), captured, repl)
	*st.count = int64(buffer.SafeWrite(st.dst, out))
	return ret
}
