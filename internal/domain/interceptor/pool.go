package interceptor

import (
	"errors"
	"io"
	"sync"
)

// pool keeps one open connection per connection id.
type pool[T io.Closer] struct {
	mu    sync.Mutex
	conns map[string]T
}

func newPool[T io.Closer]() *pool[T] {
	return &pool[T]{conns: make(map[string]T)}
}

// get returns the connection for id, opening it with open on first use. The
// lock is held while opening so an id is never connected twice.
func (p *pool[T]) get(id string, open func() (T, error)) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[id]; ok {
		return c, nil
	}
	c, err := open()
	if err != nil {
		var zero T
		return zero, err
	}
	p.conns[id] = c
	return c, nil
}

// remove detaches the connection for id, if any.
func (p *pool[T]) remove(id string) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[id]
	delete(p.conns, id)
	return c, ok
}

func (p *pool[T]) closeAll() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]T)
	p.mu.Unlock()

	var errs []error
	for _, c := range conns {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (p *pool[T]) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
