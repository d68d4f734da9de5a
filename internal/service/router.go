package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sentinel-Gate/tapgate/internal/domain/interceptor"
	"github.com/Sentinel-Gate/tapgate/internal/port/inbound"
	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// Message outcomes reported to the observer.
const (
	OutcomeUnchanged = "unchanged"
	OutcomeModified  = "modified"
	OutcomeNotified  = "notified"
)

// MessageObserver receives per-message measurements. The prometheus metrics
// adapter implements it.
type MessageObserver interface {
	ObserveMessage(kind, outcome string, elapsed time.Duration)
	ObserveInterceptorError(name string)
}

// Router is the decision engine: it runs every message through the
// configured interceptor chain in order and answers with whatever payload
// the chain leaves behind. A failing interceptor is logged and skipped.
type Router struct {
	// mu guards gen. It is never held while interceptors run.
	mu  sync.Mutex
	gen *generation

	stats    *StatsService
	observer MessageObserver
	logger   *slog.Logger
}

// Compile-time check that Router implements inbound.Decider.
var _ inbound.Decider = (*Router)(nil)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithStats records message counters in s.
func WithStats(s *StatsService) RouterOption {
	return func(r *Router) { r.stats = s }
}

// WithObserver reports measurements to o.
func WithObserver(o MessageObserver) RouterOption {
	return func(r *Router) { r.observer = o }
}

// WithRouterLogger sets the router logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// generation is one installed chain and the messages still running
// through it.
type generation struct {
	chain    []interceptor.Interceptor
	inflight sync.WaitGroup
}

// NewRouter creates a router running chain.
func NewRouter(chain []interceptor.Interceptor, opts ...RouterOption) *Router {
	r := &Router{
		gen:    &generation{chain: chain},
		stats:  NewStatsService(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Decide runs msg through the chain. Send and Recv messages get a response
// carrying the final payload; Close messages get nil.
func (r *Router) Decide(ctx context.Context, msg *intercept.Message) (*intercept.Response, error) {
	if !msg.Kind.Valid() {
		return nil, fmt.Errorf("message %s: invalid kind %q", msg.ID, string(msg.Kind))
	}
	start := time.Now()
	original := msg.Data

	r.run(ctx, msg)

	r.stats.RecordMessage(msg.Kind)
	r.stats.RecordModule(msg.Metadata.String(intercept.TagModule))

	outcome := OutcomeNotified
	var resp *intercept.Response
	if msg.Kind.ExpectsResponse() {
		if msg.Data == nil {
			msg.Data = []byte{}
		}
		outcome = OutcomeUnchanged
		if !bytes.Equal(original, msg.Data) {
			outcome = OutcomeModified
			r.stats.RecordModified()
		}
		resp = intercept.NewResponse(msg)
	}
	if r.observer != nil {
		r.observer.ObserveMessage(msg.Kind.String(), outcome, time.Since(start))
	}
	return resp, nil
}

// run passes msg through the current chain. The router lock is not held
// while interceptors run.
func (r *Router) run(ctx context.Context, msg *intercept.Message) {
	gen := r.acquire()
	defer gen.inflight.Done()

	for _, i := range gen.chain {
		if err := i.Intercept(ctx, msg); err != nil {
			r.logger.WarnContext(ctx, "interceptor failed",
				"interceptor", i.Name(),
				"message_id", msg.ID,
				"kind", msg.Kind.String(),
				"error", err,
			)
			r.stats.RecordInterceptorError(i.Name())
			if r.observer != nil {
				r.observer.ObserveInterceptorError(i.Name())
			}
		}
	}
}

// acquire pins the current generation for one message.
func (r *Router) acquire() *generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen.inflight.Add(1)
	return r.gen
}

// swap installs chain and returns the generation it replaces. New messages
// see chain immediately; messages already running keep the old one.
func (r *Router) swap(chain []interceptor.Interceptor) *generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.gen
	r.gen = &generation{chain: chain}
	return old
}

// SetInterceptors replaces the chain. It returns once every message still
// running through the previous chain has finished and that chain is closed.
func (r *Router) SetInterceptors(chain []interceptor.Interceptor) error {
	old := r.swap(chain)
	r.logger.Info("interceptor chain replaced", "interceptors", names(chain))
	old.inflight.Wait()
	return interceptor.CloseAll(old.chain)
}

// Interceptors returns the names of the active interceptors in order.
func (r *Router) Interceptors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return names(r.gen.chain)
}

// Stats returns the router's statistics.
func (r *Router) Stats() *StatsService { return r.stats }

// Close waits for in-flight messages and closes the active chain. The
// router must not be used afterwards.
func (r *Router) Close() error {
	old := r.swap(nil)
	old.inflight.Wait()
	return interceptor.CloseAll(old.chain)
}

func names(chain []interceptor.Interceptor) []string {
	out := make([]string, len(chain))
	for i, c := range chain {
		out[i] = c.Name()
	}
	return out
}
