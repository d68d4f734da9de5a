package interceptor

import (
	"net"
	"sync"
)

// ListenerSet shares relay listeners by configured address. A chain rebuilt
// on config reload acquires the listener its predecessor still holds instead
// of binding the address a second time; the socket is closed when the last
// holder releases it.
type ListenerSet struct {
	mu      sync.Mutex
	entries map[string]*listenerEntry
}

type listenerEntry struct {
	ln   net.Listener
	refs int
	// setup serializes connection establishment across every holder, so an
	// accepted connection always pairs with the dial that caused it.
	setup sync.Mutex
}

// NewListenerSet creates an empty set.
func NewListenerSet() *ListenerSet {
	return &ListenerSet{entries: make(map[string]*listenerEntry)}
}

// Acquire returns the listener for addr, binding it on first use.
func (s *ListenerSet) Acquire(addr string) (*SharedListener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[addr]
	if !ok {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		e = &listenerEntry{ln: ln}
		s.entries[addr] = e
	}
	e.refs++
	return &SharedListener{set: s, addr: addr, entry: e}, nil
}

// Len returns the number of bound addresses.
func (s *ListenerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *ListenerSet) release(addr string, e *listenerEntry) error {
	s.mu.Lock()
	e.refs--
	last := e.refs == 0
	if last && s.entries[addr] == e {
		delete(s.entries, addr)
	}
	s.mu.Unlock()

	if last {
		return e.ln.Close()
	}
	return nil
}

// SharedListener is one holder's reference to a listener of a ListenerSet.
type SharedListener struct {
	set   *ListenerSet
	addr  string
	entry *listenerEntry
	once  sync.Once
}

// Listener returns the underlying listener.
func (l *SharedListener) Listener() net.Listener { return l.entry.ln }

// Release drops this reference. Only the first call has an effect.
func (l *SharedListener) Release() error {
	var err error
	l.once.Do(func() { err = l.set.release(l.addr, l.entry) })
	return err
}

func (l *SharedListener) lockSetup()   { l.entry.setup.Lock() }
func (l *SharedListener) unlockSetup() { l.entry.setup.Unlock() }
