package adapter

import (
	"context"

	"github.com/Sentinel-Gate/tapgate/internal/domain/buffer"
)

// SendState is the per-invocation state of a write call.
type SendState struct {
	sub *buffer.Substitution
}

// Substituted reports whether Enter replaced the source buffer.
func (s SendState) Substituted() bool { return s.sub != nil }

// BufferSend adapts send, sendto, SSL_write and gnutls_record_send.
type BufferSend struct {
	base
}

// NewBufferSend creates a BufferSend adapter.
func NewBufferSend(tag, fn string, d Deps) *BufferSend {
	return &BufferSend{base: newBase(FamilyBufferSend, tag, fn, d)}
}

// Enter captures src, obtains the replacement and returns the buffer the real
// call must use instead. A nil src is passed through untouched.
func (a *BufferSend) Enter(ctx context.Context, handle uintptr, src []byte) ([]byte, SendState) {
	if src == nil {
		return src, SendState{}
	}
	repl := a.send(ctx, handle, src)
	sub := buffer.Substitute(len(src), repl)
	return sub.Buf, SendState{sub: sub}
}

// Leave maps the real call's return value back to the caller's view: any
// non-negative result reports the originally requested length.
func (a *BufferSend) Leave(st SendState, ret int64) int64 {
	if st.sub == nil {
		return ret
	}
	return st.sub.Report(ret)
}

// OutLenWrite adapts SSL_write_ex, which returns 1 on success and stores the
// byte count through an out-parameter.
type OutLenWrite struct {
	base
}

// NewOutLenWrite creates an OutLenWrite adapter.
func NewOutLenWrite(tag, fn string, d Deps) *OutLenWrite {
	return &OutLenWrite{base: newBase(FamilyOutLenWrite, tag, fn, d)}
}

// Enter behaves like BufferSend.Enter.
func (a *OutLenWrite) Enter(ctx context.Context, handle uintptr, src []byte) ([]byte, SendState) {
	if src == nil {
		return src, SendState{}
	}
	repl := a.send(ctx, handle, src)
	sub := buffer.Substitute(len(src), repl)
	return sub.Buf, SendState{sub: sub}
}

// Leave rewrites *written to the original length when the call succeeded.
// The return value is never changed.
func (a *OutLenWrite) Leave(st SendState, ret int64, written *int64) int64 {
	if st.sub == nil || ret != 1 || written == nil {
		return ret
	}
	*written = int64(st.sub.Original)
	return ret
}
