package stdio

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

type upperDecider struct{}

func (upperDecider) Decide(_ context.Context, msg *intercept.Message) (*intercept.Response, error) {
	if !msg.Kind.ExpectsResponse() {
		return nil, nil
	}
	return &intercept.Response{ID: msg.ID, Data: bytes.ToUpper(msg.Data)}, nil
}

func TestNewStdioTransport(t *testing.T) {
	tr := NewStdioTransport(upperDecider{}, nil)
	if tr == nil || tr.in == nil || tr.out == nil || tr.logger == nil {
		t.Fatal("transport not initialized")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

// TestStdioTransport_Start_MessageRouting feeds frames through pipes standing
// in for stdin/stdout.
func TestStdioTransport_Start_MessageRouting(t *testing.T) {
	defer goleak.VerifyNone(t)

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	tr := NewStdioTransport(upperDecider{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr.in = stdinR
	tr.out = stdoutW

	errCh := make(chan error, 1)
	go func() {
		errCh <- tr.Start(context.Background())
	}()

	w := intercept.NewFrameWriter(stdinW)
	r := intercept.NewFrameReader(stdoutR)

	closeMsg := intercept.NewMessage(intercept.KindClose, nil, nil)
	if err := w.WriteMessage(closeMsg); err != nil {
		t.Fatal(err)
	}
	msg := intercept.NewMessage(intercept.KindSend, nil, []byte("over stdio"))
	if err := w.WriteMessage(msg); err != nil {
		t.Fatal(err)
	}

	resp, err := r.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse() error: %v", err)
	}
	if resp.ID != msg.ID || string(resp.Data) != "OVER STDIO" {
		t.Errorf("response = %+v", resp)
	}

	_ = stdinW.Close()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not stop after stdin closed")
	}
	_ = stdoutR.Close()
	_ = stdoutW.Close()
	_ = stdinR.Close()
}
