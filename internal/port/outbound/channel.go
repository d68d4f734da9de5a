// Package outbound defines the outbound port interfaces for reaching the
// decision engine.
package outbound

import (
	"context"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// Channel is the outbound port for exchanging messages with the decision
// engine. Adapters implement this for different transports (in-process, stream).
type Channel interface {
	// Send dispatches a message without waiting for any reply.
	Send(ctx context.Context, msg *intercept.Message) error

	// Recv registers a one-shot callback invoked when the response with the
	// given id arrives. The returned cancel func unregisters the callback; it
	// is safe to call after delivery.
	Recv(id string, onDelivery func(*intercept.Response)) (cancel func())
}
