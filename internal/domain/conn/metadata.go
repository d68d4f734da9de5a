// Package conn derives connection identity and endpoint information from
// the opaque handles seen by hooked calls.
package conn

import (
	"net"
	"strconv"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// Endpoint is one side of a connection: either an address/port pair or a
// filesystem path, never both.
type Endpoint struct {
	IP   string
	Port int
	Path string
}

// IsPath reports whether the endpoint is a filesystem path.
func (e Endpoint) IsPath() bool {
	return e.Path != ""
}

// String formats the endpoint as host:port or as the path.
func (e Endpoint) String() string {
	if e.IsPath() {
		return e.Path
	}
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// EndpointFromAddr converts a net.Addr into an Endpoint.
func EndpointFromAddr(addr net.Addr) (Endpoint, bool) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		if a == nil {
			return Endpoint{}, false
		}
		return Endpoint{IP: a.IP.String(), Port: a.Port}, true
	case *net.UDPAddr:
		if a == nil {
			return Endpoint{}, false
		}
		return Endpoint{IP: a.IP.String(), Port: a.Port}, true
	case *net.UnixAddr:
		if a == nil || a.Name == "" {
			return Endpoint{}, false
		}
		return Endpoint{Path: a.Name}, true
	default:
		return Endpoint{}, false
	}
}

// Metadata describes the connection an intercepted call operates on.
type Metadata struct {
	// Handle is the socket descriptor, or the opaque session/context handle
	// when no descriptor could be obtained.
	Handle string
	// Socket is the descriptor when one was resolved.
	Socket    int64
	HasSocket bool

	AdapterTag   string
	ConnectionID string
	Protocol     string
	Local        *Endpoint
	Remote       *Endpoint
}

// Fields converts the metadata into the wire tag vocabulary. Absent values
// are omitted.
func (m Metadata) Fields() intercept.Metadata {
	md := intercept.Metadata{
		intercept.TagConnectionID: m.ConnectionID,
		intercept.TagModule:       m.AdapterTag,
	}
	if m.HasSocket {
		md[intercept.TagSocket] = m.Socket
	}
	if m.Protocol != "" {
		md[intercept.TagProtocol] = m.Protocol
	}
	if m.Local != nil {
		if m.Local.IsPath() {
			md[intercept.TagSourcePath] = m.Local.Path
		} else {
			md[intercept.TagSourceIP] = m.Local.IP
			md[intercept.TagSourcePort] = m.Local.Port
		}
	}
	if m.Remote != nil {
		if m.Remote.IsPath() {
			md[intercept.TagDestinationPath] = m.Remote.Path
		} else {
			md[intercept.TagDestinationIP] = m.Remote.IP
			md[intercept.TagDestinationPort] = m.Remote.Port
		}
	}
	return md
}

// ConnectionID builds the adapter-scoped connection identifier. The same
// descriptor seen by two adapters yields two distinct ids.
func ConnectionID(adapterTag, handle string) string {
	return adapterTag + "-" + handle
}
