// Package stdio serves the intercept protocol over standard input and output,
// for instrumentation agents that spawn the engine as a child process.
package stdio

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/Sentinel-Gate/tapgate/internal/adapter/inbound/engine"
	"github.com/Sentinel-Gate/tapgate/internal/port/inbound"
)

// StdioTransport is the inbound adapter that connects the engine to
// stdin/stdout.
type StdioTransport struct {
	decider inbound.Decider
	in      io.Reader
	out     io.Writer
	logger  *slog.Logger
}

// NewStdioTransport creates a stdio transport in front of decider.
func NewStdioTransport(decider inbound.Decider, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		decider: decider,
		in:      os.Stdin,
		out:     os.Stdout,
		logger:  logger,
	}
}

// Start answers messages read from stdin until stdin is closed. It blocks
// until then; cancelling ctx aborts in-flight decisions but a pending read
// only ends with the stream.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.logger.Info("serving intercept protocol on stdio")
	return engine.ServeStream(ctx, t.decider, t.in, t.out, t.logger)
}

// Close gracefully shuts down the transport.
// For stdio, there are no resources to clean up.
func (t *StdioTransport) Close() error {
	return nil
}
