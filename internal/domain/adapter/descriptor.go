package adapter

import (
	"context"

	"github.com/Sentinel-Gate/tapgate/internal/domain/buffer"
	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// SecBufferData is the type of a sub-buffer carrying application data.
const SecBufferData uint32 = 1

// SecEOK is the success status of the security functions.
const SecEOK int64 = 0

// SecBuffer is one typed region of a SecBufferDesc. Data spans the region as
// described by its length field; after interception Data is re-sliced to the
// number of bytes written and the instrumenter stores len(Data) back.
type SecBuffer struct {
	Type uint32
	Data []byte
}

// SecBufferDesc is a list of typed sub-buffers.
type SecBufferDesc struct {
	Buffers []SecBuffer
}

// DescriptorState carries a decrypt call's arguments to its exit.
type DescriptorState struct {
	handle uintptr
	desc   *SecBufferDesc
}

// Descriptor adapts EncryptMessage (intercepted on entry as Send) and
// DecryptMessage (intercepted on exit as Recv, only on success).
type Descriptor struct {
	base
	kind intercept.Kind
}

// NewDescriptor creates a Descriptor adapter for the given direction.
func NewDescriptor(tag, fn string, kind intercept.Kind, d Deps) *Descriptor {
	return &Descriptor{base: newBase(FamilyDescriptor, tag, fn, d), kind: kind}
}

// Kind returns the direction this adapter intercepts.
func (a *Descriptor) Kind() intercept.Kind { return a.kind }

// Enter intercepts the data sub-buffers of an outgoing descriptor. For the
// receive direction it only records the arguments.
func (a *Descriptor) Enter(ctx context.Context, handle uintptr, desc *SecBufferDesc) DescriptorState {
	st := DescriptorState{handle: handle, desc: desc}
	if a.kind == intercept.KindSend {
		a.walk(ctx, st)
	}
	return st
}

// Leave intercepts the data sub-buffers of a successfully decrypted
// descriptor. The status is never changed.
func (a *Descriptor) Leave(ctx context.Context, st DescriptorState, status int64) int64 {
	if a.kind == intercept.KindRecv && status == SecEOK {
		a.walk(ctx, st)
	}
	return status
}

// walk intercepts every data sub-buffer independently. Other sub-buffers are
// never read or written.
func (a *Descriptor) walk(ctx context.Context, st DescriptorState) {
	if st.desc == nil {
		return
	}
	for i := range st.desc.Buffers {
		b := &st.desc.Buffers[i]
		if b.Type != SecBufferData {
			continue
		}
		var repl []byte
		if a.kind == intercept.KindSend {
			repl = a.send(ctx, st.handle, b.Data)
		} else {
			repl = a.recv(ctx, st.handle, b.Data)
		}
		out := a.fit(len(b.Data), b.Data, repl)
		n := buffer.SafeWrite(b.Data, out)
		b.Data = b.Data[:n]
	}
}
