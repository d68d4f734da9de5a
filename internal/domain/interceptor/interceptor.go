// Package interceptor contains the engine-side processors that inspect and
// rewrite intercepted messages.
package interceptor

import (
	"context"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// DefaultConnectionID is used when messages are not separated by connection.
const DefaultConnectionID = "default"

// Interceptor processes one message. It may replace msg.Data for Send and
// Recv messages; Close messages carry no data.
//
// An error is logged by the router and the message continues down the chain
// with whatever Data it holds at that point.
type Interceptor interface {
	Name() string
	Intercept(ctx context.Context, msg *intercept.Message) error
	Close() error
}

// Condition matches messages.
type Condition interface {
	Match(msg *intercept.Message) (bool, error)
}

// ConditionCompiler turns an expression into a Condition.
type ConditionCompiler interface {
	Compile(expr string) (Condition, error)
}

// connectionID returns the connection key used by per-connection
// interceptors: the message's connection id, or DefaultConnectionID when
// connections are not separated or the id is missing.
func connectionID(msg *intercept.Message, multiple bool) string {
	if !multiple {
		return DefaultConnectionID
	}
	if id := msg.ConnectionID(); id != "" {
		return id
	}
	return DefaultConnectionID
}
