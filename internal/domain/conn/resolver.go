package conn

import (
	"strconv"
	"sync"
)

// SocketInspector reports what the operating system knows about a socket
// descriptor. Every method reports false when the information is unavailable.
type SocketInspector interface {
	Protocol(fd int64) (string, bool)
	LocalEndpoint(fd int64) (Endpoint, bool)
	PeerEndpoint(fd int64) (Endpoint, bool)
}

// SocketAccessor returns the descriptor behind a library session object.
type SocketAccessor func(session uintptr) (int64, bool)

// SymbolResolver finds a session-to-socket accessor exported by a library.
type SymbolResolver interface {
	Lookup(library, symbol string) (SocketAccessor, bool)
}

// nullAccessor is cached for libraries that do not export the accessor so
// the lookup is not repeated on every call.
func nullAccessor(uintptr) (int64, bool) { return 0, false }

type accessorKey struct {
	library string
	symbol  string
}

// AccessorCache memoizes accessor lookups per library. Concurrent first
// lookups may both resolve; the first stored value wins and both callers get
// a working accessor.
type AccessorCache struct {
	symbols SymbolResolver
	m       sync.Map // accessorKey -> SocketAccessor
}

// NewAccessorCache creates a cache backed by symbols. A nil resolver yields
// null accessors for every library.
func NewAccessorCache(symbols SymbolResolver) *AccessorCache {
	return &AccessorCache{symbols: symbols}
}

// Get returns the accessor for symbol in library, resolving it on first use.
func (c *AccessorCache) Get(library, symbol string) SocketAccessor {
	key := accessorKey{library: library, symbol: symbol}
	if v, ok := c.m.Load(key); ok {
		return v.(SocketAccessor)
	}

	var acc SocketAccessor = nullAccessor
	if c.symbols != nil {
		if found, ok := c.symbols.Lookup(library, symbol); ok && found != nil {
			acc = found
		}
	}
	v, _ := c.m.LoadOrStore(key, acc)
	return v.(SocketAccessor)
}

// Resolver builds connection metadata from handles.
type Resolver struct {
	inspector SocketInspector
	accessors *AccessorCache
}

// NewResolver creates a resolver. Either argument may be nil, in which case
// the corresponding information is simply never available.
func NewResolver(inspector SocketInspector, accessors *AccessorCache) *Resolver {
	if accessors == nil {
		accessors = NewAccessorCache(nil)
	}
	return &Resolver{inspector: inspector, accessors: accessors}
}

// Resolve describes the socket fd as seen by the adapter tagged adapterTag.
// Negative descriptors and inspection failures degrade to partial metadata.
func (r *Resolver) Resolve(fd int64, adapterTag string) Metadata {
	handle := strconv.FormatInt(fd, 10)
	md := Metadata{
		Handle:       handle,
		Socket:       fd,
		HasSocket:    true,
		AdapterTag:   adapterTag,
		ConnectionID: ConnectionID(adapterTag, handle),
	}
	if fd < 0 || r.inspector == nil {
		return md
	}

	proto, ok := r.inspector.Protocol(fd)
	if !ok {
		return md
	}
	md.Protocol = proto

	if local, ok := r.inspector.LocalEndpoint(fd); ok {
		md.Local = &local
	}
	if peer, ok := r.inspector.PeerEndpoint(fd); ok {
		md.Remote = &peer
	}
	return md
}

// ResolveSession describes a TLS library session. The socket is obtained
// through the library's accessor; without one the session handle itself
// identifies the connection.
func (r *Resolver) ResolveSession(library, accessor string, session uintptr, adapterTag string) Metadata {
	if fd, ok := r.accessors.Get(library, accessor)(session); ok && fd >= 0 {
		return r.Resolve(fd, adapterTag)
	}
	return r.ResolveCode(session, adapterTag)
}

// ResolveCode describes an opaque context handle that cannot be mapped to a
// socket. Only the connection id and adapter tag are populated.
func (r *Resolver) ResolveCode(code uintptr, adapterTag string) Metadata {
	handle := "0x" + strconv.FormatUint(uint64(code), 16)
	return Metadata{
		Handle:       handle,
		AdapterTag:   adapterTag,
		ConnectionID: ConnectionID(adapterTag, handle),
	}
}
