// Package netconn instruments Go network connections in-process: every
// Write, Read and Close of a wrapped net.Conn goes through the same adapters
// hooked native calls use.
package netconn

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/Sentinel-Gate/tapgate/internal/adapter/outbound/sockinfo"
	"github.com/Sentinel-Gate/tapgate/internal/domain/adapter"
	"github.com/Sentinel-Gate/tapgate/internal/domain/buffer"
	"github.com/Sentinel-Gate/tapgate/internal/domain/conn"
	"github.com/Sentinel-Gate/tapgate/internal/domain/protocol"
)

var (
	nextHandle atomic.Int64
	resolver   = conn.NewResolver(sockinfo.New(), nil)
)

// Conn is a net.Conn whose traffic is intercepted.
type Conn struct {
	net.Conn

	ctx   context.Context
	md    conn.Metadata
	send  *adapter.BufferSend
	recv  *adapter.BufferRecv
	vsend *adapter.VectorSend
	close *adapter.Close

	closeOnce sync.Once
}

type options struct {
	ctx    context.Context
	policy buffer.OverflowPolicy
	logger *slog.Logger
}

// Option configures Wrap.
type Option func(*options)

// WithContext sets the context passed to every interception.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithOverflowPolicy sets how oversized replacements of reads are handled.
func WithOverflowPolicy(p buffer.OverflowPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Wrap instruments c under adapter tag. Connections backed by a socket are
// described from their descriptor, like hooked native calls; others get a
// process-unique handle so their connection id never collides.
func Wrap(c net.Conn, tag string, client protocol.Interceptor, opts ...Option) *Conn {
	o := options{ctx: context.Background()}
	for _, opt := range opts {
		opt(&o)
	}

	md, ok := describeSocket(c, tag)
	if !ok {
		md = describeAddrs(c, tag)
	}

	d := adapter.Deps{
		Client: client,
		Locate: adapter.FixedLocator(md),
		Policy: o.policy,
		Logger: o.logger,
	}
	return &Conn{
		Conn:  c,
		ctx:   o.ctx,
		md:    md,
		send:  adapter.NewBufferSend(tag, "Write", d),
		recv:  adapter.NewBufferRecv(tag, "Read", d),
		vsend: adapter.NewVectorSend(tag, "WriteBuffers", d),
		close: adapter.NewClose(tag, "Close", d),
	}
}

// Metadata returns the connection metadata attached to every message.
func (c *Conn) Metadata() conn.Metadata { return c.md }

// Write sends the replacement of p. On success it reports len(p) whatever
// the replacement length. A failed write of a rewritten payload reports 0,
// since no prefix of p was sent as such.
func (c *Conn) Write(p []byte) (int, error) {
	repl, st := c.send.Enter(c.ctx, 0, p)
	n, err := c.Conn.Write(repl)
	if err != nil {
		if !bytes.Equal(repl, p) {
			return 0, err
		}
		return min(n, len(p)), err
	}
	return int(c.send.Leave(st, int64(n))), nil
}

// Read reads into p and replaces what arrived in place. A read whose
// replacement is empty is retried so callers never see (0, nil).
func (c *Conn) Read(p []byte) (int, error) {
	for {
		st := c.recv.Enter(0, p)
		n, err := c.Conn.Read(p)
		if n > 0 {
			n = int(c.recv.Leave(c.ctx, st, int64(n)))
		}
		if n > 0 || err != nil || len(p) == 0 {
			return n, err
		}
	}
}

// WriteBuffers sends bufs as one intercepted message. On success it reports
// the original total.
func (c *Conn) WriteBuffers(bufs [][]byte) (int64, error) {
	segs, st := c.vsend.Enter(c.ctx, 0, bufs)
	nb := net.Buffers(segs)
	sent, err := nb.WriteTo(c.Conn)
	if err != nil {
		return sent, err
	}
	c.vsend.Leave(st, 0, &sent)
	return sent, nil
}

// Close notifies the engine once and closes the connection.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.close.Enter(c.ctx, 0)
	})
	return c.Conn.Close()
}

// describeSocket resolves c through its descriptor.
func describeSocket(c net.Conn, tag string) (conn.Metadata, bool) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return conn.Metadata{}, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return conn.Metadata{}, false
	}
	var md conn.Metadata
	if err := raw.Control(func(fd uintptr) {
		md = resolver.Resolve(int64(fd), tag)
	}); err != nil {
		return conn.Metadata{}, false
	}
	return md, md.Protocol != ""
}

func describeAddrs(c net.Conn, tag string) conn.Metadata {
	handle := strconv.FormatInt(nextHandle.Add(1), 10)
	md := conn.Metadata{
		Handle:       handle,
		AdapterTag:   tag,
		ConnectionID: conn.ConnectionID(tag, handle),
		Protocol:     c.LocalAddr().Network(),
	}
	if ep, ok := conn.EndpointFromAddr(c.LocalAddr()); ok {
		md.Local = &ep
	}
	if ep, ok := conn.EndpointFromAddr(c.RemoteAddr()); ok {
		md.Remote = &ep
	}
	return md
}
