package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Sentinel-Gate/tapgate/internal/port/inbound"
	"github.com/Sentinel-Gate/tapgate/internal/port/outbound"
	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// Local delivers messages to an in-process decision engine. Each message is
// decided on its own goroutine so callers never block inside Send.
type Local struct {
	decider inbound.Decider
	logger  *slog.Logger
	pending *registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Compile-time check that Local implements outbound.Channel.
var _ outbound.Channel = (*Local)(nil)

// NewLocal creates a channel in front of decider.
func NewLocal(decider inbound.Decider, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		decider: decider,
		logger:  logger,
		pending: newRegistry(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Send hands msg to the engine. The decision is not bound to ctx: a caller
// that stops waiting does not abort the engine's work.
func (l *Local) Send(_ context.Context, msg *intercept.Message) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		resp, err := l.decider.Decide(l.ctx, msg)
		if err != nil {
			l.logger.Warn("decision failed", "message_id", msg.ID, "error", err)
			return
		}
		if resp == nil {
			return
		}
		if !l.pending.deliver(resp) {
			l.logger.Debug("late response dropped", "message_id", resp.ID)
		}
	}()
	return nil
}

// Recv registers a one-shot delivery callback for id.
func (l *Local) Recv(id string, onDelivery func(*intercept.Response)) func() {
	return l.pending.add(id, onDelivery)
}

// Close stops accepting messages, cancels in-flight decisions and waits for
// them to finish.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
	return nil
}
