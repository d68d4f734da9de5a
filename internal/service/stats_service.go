// Package service contains application services.
package service

import (
	"sync"
	"sync/atomic"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// StatsService tracks runtime statistics using lock-free atomic counters.
// All counter operations are safe for concurrent access from multiple goroutines.
type StatsService struct {
	sent     atomic.Int64
	received atomic.Int64
	closed   atomic.Int64
	modified atomic.Int64
	errors   atomic.Int64

	// Per-module and per-interceptor counters (mutex-protected maps).
	mu                sync.Mutex
	moduleCounts      map[string]int64
	interceptorErrors map[string]int64
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{
		moduleCounts:      make(map[string]int64),
		interceptorErrors: make(map[string]int64),
	}
}

// RecordMessage increments the counter for kind.
func (s *StatsService) RecordMessage(kind intercept.Kind) {
	switch kind {
	case intercept.KindSend:
		s.sent.Add(1)
	case intercept.KindRecv:
		s.received.Add(1)
	case intercept.KindClose:
		s.closed.Add(1)
	}
}

// RecordModified counts a payload changed by the interceptor chain.
func (s *StatsService) RecordModified() {
	s.modified.Add(1)
}

// RecordError increments the error counter.
func (s *StatsService) RecordError() {
	s.errors.Add(1)
}

// RecordModule increments the counter for the given module.
// Empty strings are skipped.
func (s *StatsService) RecordModule(module string) {
	if module == "" {
		return
	}
	s.mu.Lock()
	s.moduleCounts[module]++
	s.mu.Unlock()
}

// RecordInterceptorError counts a failure of the named interceptor. It also
// increments the global error counter.
func (s *StatsService) RecordInterceptorError(name string) {
	s.errors.Add(1)
	s.mu.Lock()
	s.interceptorErrors[name]++
	s.mu.Unlock()
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Sent              int64            `json:"sent"`
	Received          int64            `json:"received"`
	Closed            int64            `json:"closed"`
	Modified          int64            `json:"modified"`
	Errors            int64            `json:"errors"`
	ModuleCounts      map[string]int64 `json:"module_counts"`
	InterceptorErrors map[string]int64 `json:"interceptor_errors"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	mc := make(map[string]int64, len(s.moduleCounts))
	for k, v := range s.moduleCounts {
		mc[k] = v
	}
	ie := make(map[string]int64, len(s.interceptorErrors))
	for k, v := range s.interceptorErrors {
		ie[k] = v
	}
	s.mu.Unlock()

	return Stats{
		Sent:              s.sent.Load(),
		Received:          s.received.Load(),
		Closed:            s.closed.Load(),
		Modified:          s.modified.Load(),
		Errors:            s.errors.Load(),
		ModuleCounts:      mc,
		InterceptorErrors: ie,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.sent.Store(0)
	s.received.Store(0)
	s.closed.Store(0)
	s.modified.Store(0)
	s.errors.Store(0)

	s.mu.Lock()
	s.moduleCounts = make(map[string]int64)
	s.interceptorErrors = make(map[string]int64)
	s.mu.Unlock()
}
