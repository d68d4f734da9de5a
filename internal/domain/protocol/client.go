// Package protocol implements the synchronous request/response contract used
// by hooked calls to hand captured bytes to the decision engine.
package protocol

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/tapgate/internal/port/outbound"
	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// DefaultTimeout bounds how long a hooked call waits for its decision.
const DefaultTimeout = 30 * time.Second

const instrumentationName = "github.com/Sentinel-Gate/tapgate/internal/domain/protocol"

// Fallback reasons recorded when the original bytes are passed through.
const (
	reasonTimeout  = "timeout"
	reasonCanceled = "canceled"
	reasonDispatch = "dispatch_error"
)

// ErrNoDecision is returned by Exchange when no response was delivered.
var ErrNoDecision = errors.New("no decision delivered")

// Interceptor is the capability adapters depend on.
type Interceptor interface {
	InterceptSend(ctx context.Context, md intercept.Metadata, data []byte) []byte
	InterceptRecv(ctx context.Context, md intercept.Metadata, data []byte) []byte
	NotifyClose(ctx context.Context, md intercept.Metadata)
}

// Client issues correlated requests over a Channel and blocks the calling
// goroutine until the matching response arrives.
type Client struct {
	ch      outbound.Channel
	timeout time.Duration
	logger  *slog.Logger

	tracer    trace.Tracer
	roundTrip metric.Float64Histogram
	fallbacks metric.Int64Counter
}

// Compile-time check that Client implements Interceptor.
var _ Interceptor = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the decision wait bound. Zero waits forever.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client using ch to reach the decision engine.
func NewClient(ch outbound.Channel, opts ...Option) *Client {
	c := &Client{
		ch:      ch,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	c.roundTrip, err = meter.Float64Histogram("tapgate.intercept.round_trip",
		metric.WithUnit("s"),
		metric.WithDescription("Time a hooked call spent waiting for its decision"))
	if err != nil {
		c.logger.Warn("failed to create round trip histogram", "error", err)
	}
	c.fallbacks, err = meter.Int64Counter("tapgate.intercept.fallbacks",
		metric.WithDescription("Intercepts that passed the original bytes through"))
	if err != nil {
		c.logger.Warn("failed to create fallback counter", "error", err)
	}
	return c
}

// InterceptSend hands outgoing bytes to the engine and returns the replacement.
func (c *Client) InterceptSend(ctx context.Context, md intercept.Metadata, data []byte) []byte {
	return c.intercept(ctx, intercept.KindSend, md, data)
}

// InterceptRecv hands incoming bytes to the engine and returns the replacement.
func (c *Client) InterceptRecv(ctx context.Context, md intercept.Metadata, data []byte) []byte {
	return c.intercept(ctx, intercept.KindRecv, md, data)
}

// NotifyClose tells the engine a connection is closing. It never waits.
func (c *Client) NotifyClose(ctx context.Context, md intercept.Metadata) {
	msg := intercept.NewMessage(intercept.KindClose, md, nil)
	if err := c.ch.Send(ctx, msg); err != nil {
		c.logger.Warn("close notification not dispatched",
			"connection_id", md.String(intercept.TagConnectionID),
			"error", err,
		)
	}
}

// intercept runs one round trip. Any failure to obtain a decision falls back
// to the original bytes so the instrumented call proceeds unmodified.
func (c *Client) intercept(ctx context.Context, kind intercept.Kind, md intercept.Metadata, data []byte) []byte {
	msg := intercept.NewMessage(kind, md, data)
	resp, err := c.Exchange(ctx, msg)
	if err != nil {
		return data
	}
	return resp.Data
}

// Exchange sends msg and waits for its correlated response.
func (c *Client) Exchange(ctx context.Context, msg *intercept.Message) (*intercept.Response, error) {
	msg.EnsureID()
	ctx, span := c.tracer.Start(ctx, "intercept."+msg.Kind.String(),
		trace.WithAttributes(
			attribute.String("tapgate.message_id", msg.ID),
			attribute.String("tapgate.connection_id", msg.ConnectionID()),
			attribute.Int("tapgate.payload_size", len(msg.Data)),
		))
	defer span.End()
	start := time.Now()

	// Register before dispatch so a fast engine cannot answer into the void.
	delivered := make(chan *intercept.Response, 1)
	cancel := c.ch.Recv(msg.ID, func(resp *intercept.Response) {
		select {
		case delivered <- resp:
		default:
		}
	})
	defer cancel()

	if err := c.ch.Send(ctx, msg); err != nil {
		c.fallback(ctx, span, msg, reasonDispatch, err)
		return nil, err
	}

	var timeoutC <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case resp := <-delivered:
		c.record(ctx, msg.Kind, start)
		if resp.Data == nil {
			resp.Data = []byte{}
		}
		span.SetAttributes(attribute.Int("tapgate.replacement_size", len(resp.Data)))
		return resp, nil
	case <-timeoutC:
		c.fallback(ctx, span, msg, reasonTimeout, ErrNoDecision)
		return nil, ErrNoDecision
	case <-ctx.Done():
		c.fallback(ctx, span, msg, reasonCanceled, ctx.Err())
		return nil, ctx.Err()
	}
}

func (c *Client) record(ctx context.Context, kind intercept.Kind, start time.Time) {
	if c.roundTrip != nil {
		c.roundTrip.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("kind", kind.String())))
	}
}

func (c *Client) fallback(ctx context.Context, span trace.Span, msg *intercept.Message, reason string, err error) {
	span.SetStatus(codes.Error, reason)
	if c.fallbacks != nil {
		c.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	c.logger.Warn("decision unavailable, passing original data through",
		"message_id", msg.ID,
		"kind", msg.Kind.String(),
		"connection_id", msg.ConnectionID(),
		"reason", reason,
		"error", err,
	)
}
