package adapter

import "context"

// Close adapts close, shutdown, closesocket, SSL_shutdown and gnutls_bye.
type Close struct {
	base
}

// NewClose creates a Close adapter.
func NewClose(tag, fn string, d Deps) *Close {
	return &Close{base: newBase(FamilyClose, tag, fn, d)}
}

// Enter notifies the engine. Metadata is resolved here, before the real call
// invalidates the handle.
func (a *Close) Enter(ctx context.Context, handle uintptr) {
	a.client.NotifyClose(ctx, a.locate(handle).Fields())
}
