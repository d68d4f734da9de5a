//go:build unix

package sockinfo

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/Sentinel-Gate/tapgate/internal/domain/conn"
)

func protocol(fd int64) (string, bool) {
	typ, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return "", false
	}
	sa, err := unix.Getsockname(int(fd))
	if err != nil {
		return "", false
	}

	stream := typ == unix.SOCK_STREAM
	switch sa.(type) {
	case *unix.SockaddrInet4:
		if stream {
			return "tcp", true
		}
		if typ == unix.SOCK_DGRAM {
			return "udp", true
		}
	case *unix.SockaddrInet6:
		if stream {
			return "tcp6", true
		}
		if typ == unix.SOCK_DGRAM {
			return "udp6", true
		}
	case *unix.SockaddrUnix:
		if stream {
			return "unix:stream", true
		}
		if typ == unix.SOCK_DGRAM {
			return "unix:dgram", true
		}
	}
	return "", false
}

func localEndpoint(fd int64) (conn.Endpoint, bool) {
	sa, err := unix.Getsockname(int(fd))
	if err != nil {
		return conn.Endpoint{}, false
	}
	return endpoint(sa)
}

func peerEndpoint(fd int64) (conn.Endpoint, bool) {
	sa, err := unix.Getpeername(int(fd))
	if err != nil {
		return conn.Endpoint{}, false
	}
	return endpoint(sa)
}

func endpoint(sa unix.Sockaddr) (conn.Endpoint, bool) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return conn.Endpoint{IP: net.IP(a.Addr[:]).String(), Port: a.Port}, true
	case *unix.SockaddrInet6:
		return conn.Endpoint{IP: net.IP(a.Addr[:]).String(), Port: a.Port}, true
	case *unix.SockaddrUnix:
		if a.Name == "" {
			return conn.Endpoint{}, false
		}
		return conn.Endpoint{Path: a.Name}, true
	default:
		return conn.Endpoint{}, false
	}
}
