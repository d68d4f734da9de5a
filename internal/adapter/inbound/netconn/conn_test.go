package netconn

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

type rewriteClient struct {
	mu     sync.Mutex
	send   func([]byte) []byte
	recv   func([]byte) []byte
	seen   []intercept.Metadata
	closes []intercept.Metadata
}

func (r *rewriteClient) InterceptSend(_ context.Context, md intercept.Metadata, data []byte) []byte {
	r.mu.Lock()
	r.seen = append(r.seen, md)
	r.mu.Unlock()
	return r.send(data)
}

func (r *rewriteClient) InterceptRecv(_ context.Context, md intercept.Metadata, data []byte) []byte {
	r.mu.Lock()
	r.seen = append(r.seen, md)
	r.mu.Unlock()
	return r.recv(data)
}

func (r *rewriteClient) NotifyClose(_ context.Context, md intercept.Metadata) {
	r.mu.Lock()
	r.closes = append(r.closes, md)
	r.mu.Unlock()
}

func identity(b []byte) []byte { return b }

func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server = <-accepted
	if server == nil {
		t.Fatal("accept failed")
	}
	return client, server
}

func TestConn_WriteReportsOriginalLength(t *testing.T) {
	raw, peer := tcpPair(t)
	defer peer.Close()

	rc := &rewriteClient{send: func(b []byte) []byte { return []byte(strings.Repeat(string(b), 2)) }, recv: identity}
	c := Wrap(raw, "relay", rc)
	defer c.Close()

	n, err := c.Write([]byte("ab"))
	if err != nil || n != 2 {
		t.Fatalf("Write() = %d, %v; want 2, nil", n, err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(peer, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "abab" {
		t.Errorf("peer got %q", buf)
	}

	md := rc.seen[0]
	if md.String(intercept.TagModule) != "relay" || md.String(intercept.TagProtocol) != "tcp" {
		t.Errorf("metadata = %v", md)
	}
	if !strings.HasPrefix(md.String(intercept.TagConnectionID), "relay-") {
		t.Errorf("connection id = %q", md.String(intercept.TagConnectionID))
	}
	if md.String(intercept.TagDestinationIP) != "127.0.0.1" {
		t.Errorf("destination ip = %q", md.String(intercept.TagDestinationIP))
	}
	if _, ok := md.Int(intercept.TagSocket); !ok {
		t.Errorf("tcp conn not described from its descriptor: %v", md)
	}
}

func TestConn_WriteFailureNeverExceedsInput(t *testing.T) {
	raw, peer := net.Pipe()

	rc := &rewriteClient{send: func([]byte) []byte { return bytes.Repeat([]byte("x"), 100) }, recv: identity}
	c := Wrap(raw, "relay", rc)
	defer c.Close()

	go func() {
		buf := make([]byte, 50)
		_, _ = io.ReadFull(peer, buf)
		_ = peer.Close()
	}()
	n, err := c.Write([]byte("hello"))
	if err == nil {
		t.Fatal("Write() succeeded after the peer closed")
	}
	if n != 0 {
		t.Errorf("Write() = %d, want 0 for a partially sent replacement", n)
	}
}

func TestWrap_PipeFallsBackToAddresses(t *testing.T) {
	raw, peer := net.Pipe()
	defer peer.Close()

	c := Wrap(raw, "relay", &rewriteClient{send: identity, recv: identity})
	defer c.Close()
	md := c.Metadata()
	if md.HasSocket || md.Protocol != "pipe" || !strings.HasPrefix(md.ConnectionID, "relay-") {
		t.Errorf("metadata = %+v", md)
	}
}

func TestConn_ReadReplacesInPlace(t *testing.T) {
	raw, peer := tcpPair(t)
	defer peer.Close()

	rc := &rewriteClient{send: identity, recv: bytes.ToUpper}
	c := Wrap(raw, "relay", rc)
	defer c.Close()

	if _, err := peer.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := c.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "HELLO" {
		t.Errorf("Read() = %q", buf[:n])
	}
}

func TestConn_ReadTruncatesOversizedReplacement(t *testing.T) {
	raw, peer := tcpPair(t)
	defer peer.Close()

	rc := &rewriteClient{send: identity, recv: func(b []byte) []byte { return []byte("0123456789") }}
	c := Wrap(raw, "relay", rc)
	defer c.Close()

	_, _ = peer.Write([]byte("x"))
	buf := make([]byte, 4)
	n, err := c.Read(buf)
	if err != nil || string(buf[:n]) != "0123" {
		t.Errorf("Read() = %q, %v", buf[:n], err)
	}
}

func TestConn_ReadSkipsDroppedPayloads(t *testing.T) {
	// net.Pipe delivers every Write to a separate Read.
	raw, peer := net.Pipe()
	defer peer.Close()

	drop := true
	rc := &rewriteClient{send: identity, recv: func(b []byte) []byte {
		if drop {
			drop = false
			return []byte{}
		}
		return b
	}}
	c := Wrap(raw, "relay", rc)
	defer c.Close()

	go func() {
		_, _ = peer.Write([]byte("gone"))
		_, _ = peer.Write([]byte("kept"))
	}()
	buf := make([]byte, 8)
	n, err := c.Read(buf)
	if err != nil || string(buf[:n]) != "kept" {
		t.Errorf("Read() = %q, %v; want kept", buf[:n], err)
	}
}

func TestConn_WriteBuffers(t *testing.T) {
	raw, peer := tcpPair(t)
	defer peer.Close()

	rc := &rewriteClient{send: func(b []byte) []byte { return []byte("<" + string(b) + ">") }, recv: identity}
	c := Wrap(raw, "relay", rc)
	defer c.Close()

	n, err := c.WriteBuffers([][]byte{[]byte("ab"), []byte("cd")})
	if err != nil || n != 4 {
		t.Fatalf("WriteBuffers() = %d, %v", n, err)
	}
	buf := make([]byte, 6)
	if _, err := io.ReadFull(peer, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "<abcd>" {
		t.Errorf("peer got %q", buf)
	}
	if len(rc.seen) != 1 {
		t.Errorf("intercepts = %d, want one message for all buffers", len(rc.seen))
	}
}

func TestConn_CloseNotifiesOnce(t *testing.T) {
	raw, peer := tcpPair(t)
	defer peer.Close()

	rc := &rewriteClient{send: identity, recv: identity}
	c := Wrap(raw, "relay", rc)
	_ = c.Close()
	_ = c.Close()
	if len(rc.closes) != 1 {
		t.Fatalf("close notifications = %d, want 1", len(rc.closes))
	}
	if rc.closes[0].String(intercept.TagConnectionID) != c.Metadata().ConnectionID {
		t.Errorf("close metadata = %v", rc.closes[0])
	}
}

func TestWrap_DistinctConnectionIDs(t *testing.T) {
	a1, b1 := tcpPair(t)
	a2, b2 := tcpPair(t)
	defer b1.Close()
	defer b2.Close()

	rc := &rewriteClient{send: identity, recv: identity}
	c1 := Wrap(a1, "relay", rc)
	c2 := Wrap(a2, "relay", rc)
	defer c1.Close()
	defer c2.Close()
	if c1.Metadata().ConnectionID == c2.Metadata().ConnectionID {
		t.Error("connection ids collide")
	}
}
