//go:build windows

package sockinfo

import (
	"net"

	"golang.org/x/sys/windows"

	"github.com/Sentinel-Gate/tapgate/internal/domain/conn"
)

// soType is the winsock SO_TYPE option.
const soType = 0x1008

func protocol(fd int64) (string, bool) {
	h := windows.Handle(fd)
	typ, err := windows.GetsockoptInt(h, windows.SOL_SOCKET, soType)
	if err != nil {
		return "", false
	}
	sa, err := windows.Getsockname(h)
	if err != nil {
		return "", false
	}

	switch sa.(type) {
	case *windows.SockaddrInet4:
		switch typ {
		case windows.SOCK_STREAM:
			return "tcp", true
		case windows.SOCK_DGRAM:
			return "udp", true
		}
	case *windows.SockaddrInet6:
		switch typ {
		case windows.SOCK_STREAM:
			return "tcp6", true
		case windows.SOCK_DGRAM:
			return "udp6", true
		}
	case *windows.SockaddrUnix:
		if typ == windows.SOCK_STREAM {
			return "unix:stream", true
		}
	}
	return "", false
}

func localEndpoint(fd int64) (conn.Endpoint, bool) {
	sa, err := windows.Getsockname(windows.Handle(fd))
	if err != nil {
		return conn.Endpoint{}, false
	}
	return endpoint(sa)
}

func peerEndpoint(fd int64) (conn.Endpoint, bool) {
	sa, err := windows.Getpeername(windows.Handle(fd))
	if err != nil {
		return conn.Endpoint{}, false
	}
	return endpoint(sa)
}

func endpoint(sa windows.Sockaddr) (conn.Endpoint, bool) {
	switch a := sa.(type) {
	case *windows.SockaddrInet4:
		return conn.Endpoint{IP: net.IP(a.Addr[:]).String(), Port: a.Port}, true
	case *windows.SockaddrInet6:
		return conn.Endpoint{IP: net.IP(a.Addr[:]).String(), Port: a.Port}, true
	case *windows.SockaddrUnix:
		if a.Name == "" {
			return conn.Endpoint{}, false
		}
		return conn.Endpoint{Path: a.Name}, true
	default:
		return conn.Endpoint{}, false
	}
}
