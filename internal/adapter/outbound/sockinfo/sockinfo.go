// Package sockinfo inspects socket descriptors of the current process through
// the operating system's socket API.
package sockinfo

import "github.com/Sentinel-Gate/tapgate/internal/domain/conn"

// Inspector implements conn.SocketInspector for the host platform.
type Inspector struct{}

// Compile-time check that Inspector implements conn.SocketInspector.
var _ conn.SocketInspector = Inspector{}

// New returns the platform inspector.
func New() Inspector { return Inspector{} }

// Protocol returns tcp, udp, tcp6, udp6, unix:stream or unix:dgram.
func (Inspector) Protocol(fd int64) (string, bool) {
	if fd < 0 {
		return "", false
	}
	return protocol(fd)
}

// LocalEndpoint returns the address the socket is bound to.
func (Inspector) LocalEndpoint(fd int64) (conn.Endpoint, bool) {
	if fd < 0 {
		return conn.Endpoint{}, false
	}
	return localEndpoint(fd)
}

// PeerEndpoint returns the address of the connected peer.
func (Inspector) PeerEndpoint(fd int64) (conn.Endpoint, bool) {
	if fd < 0 {
		return conn.Endpoint{}, false
	}
	return peerEndpoint(fd)
}
