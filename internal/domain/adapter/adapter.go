// Package adapter bridges the calling conventions of hooked networking and TLS
// functions to the synchronous intercept protocol.
//
// Every hooked function belongs to exactly one Family. A family fixes where
// the payload lives (a flat buffer, a buffer plus an out-parameter, a vector
// of segments, or a structured descriptor), when it is captured (entry or
// exit) and how a replacement of arbitrary length is reconciled with the
// shape the caller expects. Adapters hold no per-call state of their own:
// Enter returns a state value that the instrumenter passes back to Leave.
package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/tapgate/internal/domain/buffer"
	"github.com/Sentinel-Gate/tapgate/internal/domain/conn"
	"github.com/Sentinel-Gate/tapgate/internal/domain/protocol"
)

// Family identifies a calling convention.
type Family int

const (
	// FamilyBufferSend substitutes the source buffer of a write call.
	FamilyBufferSend Family = iota + 1
	// FamilyBufferRecv rewrites a read call's destination buffer in place.
	FamilyBufferRecv
	// FamilyOutLenWrite is a write call reporting its length through an out-parameter.
	FamilyOutLenWrite
	// FamilyOutLenRead is a read call reporting its length through an out-parameter.
	FamilyOutLenRead
	// FamilyVectorSend is a scatter/gather write.
	FamilyVectorSend
	// FamilyVectorRecv is a scatter/gather read.
	FamilyVectorRecv
	// FamilyDescriptor walks a typed buffer descriptor.
	FamilyDescriptor
	// FamilyClose announces the end of a connection.
	FamilyClose
)

var familyNames = map[Family]string{
	FamilyBufferSend:  "buffer_send",
	FamilyBufferRecv:  "buffer_recv",
	FamilyOutLenWrite: "outlen_write",
	FamilyOutLenRead:  "outlen_read",
	FamilyVectorSend:  "vector_send",
	FamilyVectorRecv:  "vector_recv",
	FamilyDescriptor:  "descriptor",
	FamilyClose:       "close",
}

func (f Family) String() string {
	if s, ok := familyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// Adapter is implemented by every family. The instrumenter type-switches on
// the concrete family to marshal native arguments.
type Adapter interface {
	Tag() string
	Function() string
	Family() Family
}

// Locator resolves connection metadata for the handle argument of a hooked
// call: a socket descriptor, a TLS session pointer or an opaque context.
type Locator func(handle uintptr) conn.Metadata

// SocketLocator resolves handles as socket descriptors.
func SocketLocator(r *conn.Resolver, tag string) Locator {
	return func(h uintptr) conn.Metadata {
		return r.Resolve(int64(h), tag)
	}
}

// SessionLocator resolves handles as library sessions through the named
// session-to-socket accessor.
func SessionLocator(r *conn.Resolver, library, accessor, tag string) Locator {
	return func(h uintptr) conn.Metadata {
		return r.ResolveSession(library, accessor, h, tag)
	}
}

// CodeLocator treats handles as opaque context codes.
func CodeLocator(r *conn.Resolver, tag string) Locator {
	return func(h uintptr) conn.Metadata {
		return r.ResolveCode(h, tag)
	}
}

// FixedLocator ignores the handle and always returns md.
func FixedLocator(md conn.Metadata) Locator {
	return func(uintptr) conn.Metadata { return md }
}

// Deps are the collaborators shared by all families.
type Deps struct {
	Client protocol.Interceptor
	Locate Locator
	Policy buffer.OverflowPolicy
	Logger *slog.Logger
}

// base carries identity and collaborators common to every family.
type base struct {
	tag    string
	fn     string
	family Family

	client protocol.Interceptor
	locate Locator
	policy buffer.OverflowPolicy
	logger *slog.Logger
}

func newBase(family Family, tag, fn string, d Deps) base {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := d.Policy
	if policy == "" {
		policy = buffer.OverflowTruncate
	}
	return base{
		tag:    tag,
		fn:     fn,
		family: family,
		client: d.Client,
		locate: d.Locate,
		policy: policy,
		logger: logger.With("adapter", tag, "function", fn),
	}
}

func (b *base) Tag() string      { return b.tag }
func (b *base) Function() string { return b.fn }
func (b *base) Family() Family   { return b.family }

func (b *base) send(ctx context.Context, handle uintptr, data []byte) []byte {
	return b.client.InterceptSend(ctx, b.locate(handle).Fields(), data)
}

func (b *base) recv(ctx context.Context, handle uintptr, data []byte) []byte {
	return b.client.InterceptRecv(ctx, b.locate(handle).Fields(), data)
}

// fit applies the overflow policy for an in-place write and logs what was
// lost.
func (b *base) fit(capacity int, original, replacement []byte) []byte {
	out, cut := buffer.Fit(b.policy, capacity, original, replacement)
	if cut {
		b.logger.Info("replacement exceeds destination capacity",
			"capacity", capacity,
			"replacement_size", len(replacement),
			"policy", string(b.policy),
		)
	}
	return out
}

// New builds the adapter for family. Descriptor adapters need a direction
// and are built with NewDescriptor instead.
func New(family Family, tag, fn string, d Deps) (Adapter, error) {
	switch family {
	case FamilyBufferSend:
		return NewBufferSend(tag, fn, d), nil
	case FamilyBufferRecv:
		return NewBufferRecv(tag, fn, d), nil
	case FamilyOutLenWrite:
		return NewOutLenWrite(tag, fn, d), nil
	case FamilyOutLenRead:
		return NewOutLenRead(tag, fn, d), nil
	case FamilyVectorSend:
		return NewVectorSend(tag, fn, d), nil
	case FamilyVectorRecv:
		return NewVectorRecv(tag, fn, d), nil
	case FamilyClose:
		return NewClose(tag, fn, d), nil
	default:
		return nil, fmt.Errorf("adapter: no constructor for family %s", family)
	}
}
