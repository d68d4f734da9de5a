package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// slowFirstDecider delays messages whose payload is "slow" so responses
// come back out of order.
type slowFirstDecider struct {
	closes atomic.Int32
}

func (d *slowFirstDecider) Decide(_ context.Context, msg *intercept.Message) (*intercept.Response, error) {
	switch msg.Kind {
	case intercept.KindClose:
		d.closes.Add(1)
		return nil, nil
	case intercept.KindRecv:
		if string(msg.Data) == "fail" {
			return nil, errors.New("no decision")
		}
	}
	if string(msg.Data) == "slow" {
		time.Sleep(50 * time.Millisecond)
	}
	return &intercept.Response{ID: msg.ID, Data: bytes.ToUpper(msg.Data)}, nil
}

type countingGauge struct{ n atomic.Int32 }

func (g *countingGauge) Inc() { g.n.Add(1) }
func (g *countingGauge) Dec() { g.n.Add(-1) }

func startServer(t *testing.T, d *slowFirstDecider, g *countingGauge) (*Server, func()) {
	t.Helper()
	s := NewServer(d, WithAddr("127.0.0.1:0"), WithLogger(testLogger()), WithConnectionGauge(g))
	if err := s.Listen(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	return s, func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Start() = %v", err)
		}
		_ = s.Close()
	}
}

func TestServer_ConcurrentResponses(t *testing.T) {
	d := &slowFirstDecider{}
	g := &countingGauge{}
	s, stop := startServer(t, d, g)
	defer stop()

	c, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	w := intercept.NewFrameWriter(c)
	r := intercept.NewFrameReader(c)

	slow := intercept.NewMessage(intercept.KindSend, nil, []byte("slow"))
	fast := intercept.NewMessage(intercept.KindRecv, nil, []byte("fast"))
	for _, m := range []*intercept.Message{slow, fast} {
		if err := w.WriteMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	first, err := r.ReadResponse()
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.ReadResponse()
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != fast.ID || string(first.Data) != "FAST" {
		t.Errorf("first response = %+v, want the fast one", first)
	}
	if second.ID != slow.ID || string(second.Data) != "SLOW" {
		t.Errorf("second response = %+v", second)
	}
	if s.Connections() != 1 || g.n.Load() != 1 {
		t.Errorf("connections = %d, gauge = %d", s.Connections(), g.n.Load())
	}
}

func TestServer_CloseAndFailedDecisionsGetNoResponse(t *testing.T) {
	d := &slowFirstDecider{}
	s, stop := startServer(t, d, &countingGauge{})
	defer stop()

	c, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	w := intercept.NewFrameWriter(c)
	r := intercept.NewFrameReader(c)

	_ = w.WriteMessage(intercept.NewMessage(intercept.KindClose, nil, nil))
	_ = w.WriteMessage(intercept.NewMessage(intercept.KindRecv, nil, []byte("fail")))
	last := intercept.NewMessage(intercept.KindSend, nil, []byte("ok"))
	_ = w.WriteMessage(last)

	resp, err := r.ReadResponse()
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != last.ID {
		t.Errorf("unexpected response %+v", resp)
	}
	if d.closes.Load() != 1 {
		t.Errorf("close notifications = %d", d.closes.Load())
	}
}

func TestServer_DisconnectUntracks(t *testing.T) {
	g := &countingGauge{}
	s, stop := startServer(t, &slowFirstDecider{}, g)
	defer stop()

	c, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for s.Connections() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Close()
	for s.Connections() != 0 && time.Now().Before(deadline.Add(time.Second)) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Connections() != 0 || g.n.Load() != 0 {
		t.Errorf("connections = %d, gauge = %d after disconnect", s.Connections(), g.n.Load())
	}
}

func TestServer_CloseDropsClients(t *testing.T) {
	s := NewServer(&slowFirstDecider{}, WithAddr("127.0.0.1:0"), WithLogger(testLogger()))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Start(context.Background())
	}()
	deadline := time.Now().Add(time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	c, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	wg.Wait()
	if s.Addr() != "" {
		t.Error("Addr() not empty after Close")
	}
	if err := s.Listen(); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Listen after Close = %v", err)
	}
}
