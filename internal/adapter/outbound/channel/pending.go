// Package channel provides transports that carry intercept messages to the
// decision engine and route its responses back to waiting callers.
package channel

import (
	"errors"
	"sync"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// ErrClosed is returned by Send after the channel has been closed.
var ErrClosed = errors.New("channel closed")

// registry maps message ids to one-shot delivery callbacks.
type registry struct {
	mu      sync.Mutex
	pending map[string]func(*intercept.Response)
}

func newRegistry() *registry {
	return &registry{pending: make(map[string]func(*intercept.Response))}
}

func (r *registry) add(id string, cb func(*intercept.Response)) (cancel func()) {
	r.mu.Lock()
	r.pending[id] = cb
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}
}

// deliver invokes and removes the callback for resp.ID. It reports false when
// nobody is waiting, e.g. because the caller already gave up.
func (r *registry) deliver(resp *intercept.Response) bool {
	r.mu.Lock()
	cb, ok := r.pending[resp.ID]
	delete(r.pending, resp.ID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	cb(resp)
	return true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
