//go:build unix

package sockinfo

import (
	"net"
	"path/filepath"
	"syscall"
	"testing"
)

// withFD runs fn with the descriptor behind c.
func withFD(t *testing.T, c syscall.Conn, fn func(fd int64)) {
	t.Helper()
	raw, err := c.SyscallConn()
	if err != nil {
		t.Fatal(err)
	}
	if err := raw.Control(func(fd uintptr) { fn(int64(fd)) }); err != nil {
		t.Fatal(err)
	}
}

func TestInspector_TCP(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	c, err := net.Dial("tcp4", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	srvPort := ln.Addr().(*net.TCPAddr).Port
	localPort := c.LocalAddr().(*net.TCPAddr).Port
	in := New()
	withFD(t, c.(*net.TCPConn), func(fd int64) {
		if p, ok := in.Protocol(fd); !ok || p != "tcp" {
			t.Errorf("Protocol() = %q, %v", p, ok)
		}
		if ep, ok := in.LocalEndpoint(fd); !ok || ep.IP != "127.0.0.1" || ep.Port != localPort {
			t.Errorf("LocalEndpoint() = %+v, %v", ep, ok)
		}
		if ep, ok := in.PeerEndpoint(fd); !ok || ep.Port != srvPort {
			t.Errorf("PeerEndpoint() = %+v, %v", ep, ok)
		}
	})
}

func TestInspector_UnixDatagram(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.sock")
	c, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram unavailable: %v", err)
	}
	defer c.Close()

	in := New()
	withFD(t, c, func(fd int64) {
		if p, ok := in.Protocol(fd); !ok || p != "unix:dgram" {
			t.Errorf("Protocol() = %q, %v", p, ok)
		}
		if ep, ok := in.LocalEndpoint(fd); !ok || ep.Path != path {
			t.Errorf("LocalEndpoint() = %+v, %v", ep, ok)
		}
		if _, ok := in.PeerEndpoint(fd); ok {
			t.Error("unconnected socket reported a peer")
		}
	})
}

func TestInspector_InvalidDescriptor(t *testing.T) {
	in := New()
	if _, ok := in.Protocol(-1); ok {
		t.Error("Protocol(-1) ok")
	}
	if _, ok := in.LocalEndpoint(-1); ok {
		t.Error("LocalEndpoint(-1) ok")
	}
	if _, ok := in.Protocol(1 << 20); ok {
		t.Error("Protocol() ok for a closed descriptor")
	}
}
