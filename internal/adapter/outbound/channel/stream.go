package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/Sentinel-Gate/tapgate/internal/port/outbound"
	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// Stream carries messages to a remote engine as length-prefixed CBOR frames
// over a single connection. Responses are demultiplexed by message id, so
// any number of callers may wait concurrently and answers may arrive in any
// order.
type Stream struct {
	conn    net.Conn
	w       *intercept.FrameWriter
	r       *intercept.FrameReader
	pending *registry
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Compile-time check that Stream implements outbound.Channel.
var _ outbound.Channel = (*Stream)(nil)

// Dial connects to the engine at addr.
func Dial(ctx context.Context, network, addr string, logger *slog.Logger) (*Stream, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial engine %s: %w", addr, err)
	}
	return NewStream(c, logger), nil
}

// NewStream takes ownership of c and starts reading responses from it.
func NewStream(c net.Conn, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{
		conn:    c,
		w:       intercept.NewFrameWriter(c),
		r:       intercept.NewFrameReader(c),
		pending: newRegistry(),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Send writes msg as one frame.
func (s *Stream) Send(_ context.Context, msg *intercept.Message) error {
	if err := s.Err(); err != nil {
		return err
	}
	if err := s.w.WriteMessage(msg); err != nil {
		return fmt.Errorf("send message %s: %w", msg.ID, err)
	}
	return nil
}

// Recv registers a one-shot delivery callback for id.
func (s *Stream) Recv(id string, onDelivery func(*intercept.Response)) func() {
	return s.pending.add(id, onDelivery)
}

// Done is closed once the read loop has stopped.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns the error that stopped the stream, or nil while it is running.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close closes the connection and waits for the read loop to exit. Callers
// still waiting for a response fall back through their own timeouts.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.setErr(ErrClosed)
		err = s.conn.Close()
	})
	<-s.done
	return err
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *Stream) readLoop() {
	defer close(s.done)
	for {
		resp, err := s.r.ReadResponse()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				s.setErr(ErrClosed)
			} else {
				s.logger.Warn("engine stream failed", "error", err)
				s.setErr(err)
			}
			return
		}
		if !s.pending.deliver(resp) {
			s.logger.Debug("late response dropped", "message_id", resp.ID)
		}
	}
}
