// Package inbound defines the inbound port interfaces for the decision engine.
// Inbound adapters (engine server, in-process channel) call these interfaces.
package inbound

import (
	"context"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// Decider is the inbound port for the decision engine.
type Decider interface {
	// Decide runs a message through the engine. Send and Recv messages yield
	// a response carrying the replacement payload; Close yields nil.
	Decide(ctx context.Context, msg *intercept.Message) (*intercept.Response, error)
}
