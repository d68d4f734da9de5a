// Package engine serves the intercept protocol to instrumented processes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/Sentinel-Gate/tapgate/internal/port/inbound"
	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// ConnectionGauge tracks the number of connected processes. A
// prometheus.Gauge satisfies it.
type ConnectionGauge interface {
	Inc()
	Dec()
}

type nopGauge struct{}

func (nopGauge) Inc() {}
func (nopGauge) Dec() {}

// Server accepts connections from instrumented processes and answers their
// messages through a Decider.
type Server struct {
	decider inbound.Decider
	addr    string
	logger  *slog.Logger
	gauge   ConnectionGauge

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:27042".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithConnectionGauge reports connection counts to g.
func WithConnectionGauge(g ConnectionGauge) Option {
	return func(s *Server) { s.gauge = g }
}

// NewServer creates an engine server in front of decider.
func NewServer(decider inbound.Decider, opts ...Option) *Server {
	s := &Server{
		decider: decider,
		addr:    "127.0.0.1:27042",
		logger:  slog.Default(),
		gauge:   nopGauge{},
		conns:   make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the listen address. Start calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("engine listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil || s.closed {
		return ""
	}
	return s.ln.Addr().String()
}

// Connections returns the number of connected processes.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Start accepts connections until ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	s.logger.Info("engine listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("engine accept: %w", err)
		}
		if !s.track(c) {
			c.Close()
			return nil
		}
		s.wg.Add(1)
		go s.handle(ctx, c)
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.gauge.Inc()
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		s.gauge.Dec()
	}
}

func (s *Server) handle(ctx context.Context, c net.Conn) {
	defer s.wg.Done()
	defer s.untrack(c)
	defer c.Close()

	logger := s.logger.With("remote", c.RemoteAddr().String())
	logger.Info("process connected")
	err := ServeStream(ctx, s.decider, c, c, logger)
	if err != nil {
		logger.Warn("process connection failed", "error", err)
		return
	}
	logger.Info("process disconnected")
}

// Close stops accepting, closes every connection and waits for their
// in-flight decisions to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// ServeStream reads messages from r and writes responses to w until r is
// exhausted. Every message is decided on its own goroutine, so responses
// may be written out of order. It returns nil on a clean end of stream and
// waits for pending decisions before returning.
func ServeStream(ctx context.Context, decider inbound.Decider, r io.Reader, w io.Writer, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fr := intercept.NewFrameReader(r)
	fw := intercept.NewFrameWriter(w)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, err := fr.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		if !msg.Kind.Valid() {
			logger.Warn("message with unknown kind dropped", "message_id", msg.ID, "kind", string(msg.Kind))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := decider.Decide(ctx, msg)
			if err != nil {
				logger.Warn("decision failed", "message_id", msg.ID, "error", err)
				return
			}
			if resp == nil {
				return
			}
			if err := fw.WriteResponse(resp); err != nil {
				logger.Debug("response not delivered", "message_id", msg.ID, "error", err)
			}
		}()
	}
}
