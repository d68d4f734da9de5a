package service

import (
	"sync"
	"testing"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

func TestStatsService_RecordAndGet(t *testing.T) {
	s := NewStatsService()

	s.RecordMessage(intercept.KindSend)
	s.RecordMessage(intercept.KindSend)
	s.RecordMessage(intercept.KindRecv)
	s.RecordMessage(intercept.KindClose)
	s.RecordMessage(intercept.Kind("x"))
	s.RecordModified()
	s.RecordError()
	s.RecordInterceptorError("petep")
	s.RecordModule("libc")
	s.RecordModule("libc")
	s.RecordModule("")

	stats := s.GetStats()

	if stats.Sent != 2 {
		t.Errorf("Sent = %d, want 2", stats.Sent)
	}
	if stats.Received != 1 {
		t.Errorf("Received = %d, want 1", stats.Received)
	}
	if stats.Closed != 1 {
		t.Errorf("Closed = %d, want 1", stats.Closed)
	}
	if stats.Modified != 1 {
		t.Errorf("Modified = %d, want 1", stats.Modified)
	}
	if stats.Errors != 2 {
		t.Errorf("Errors = %d, want 2", stats.Errors)
	}
	if stats.ModuleCounts["libc"] != 2 || len(stats.ModuleCounts) != 1 {
		t.Errorf("ModuleCounts = %v", stats.ModuleCounts)
	}
	if stats.InterceptorErrors["petep"] != 1 {
		t.Errorf("InterceptorErrors = %v", stats.InterceptorErrors)
	}
}

func TestStatsService_Reset(t *testing.T) {
	s := NewStatsService()

	s.RecordMessage(intercept.KindSend)
	s.RecordModified()
	s.RecordInterceptorError("rules")
	s.RecordModule("ws2_32.dll")

	s.Reset()

	stats := s.GetStats()
	if stats.Sent != 0 || stats.Modified != 0 || stats.Errors != 0 {
		t.Errorf("after Reset, stats should be all zero: got %+v", stats)
	}
	if len(stats.ModuleCounts) != 0 || len(stats.InterceptorErrors) != 0 {
		t.Errorf("after Reset, maps should be empty: got %+v", stats)
	}
}

func TestStatsService_ConcurrentAccess(t *testing.T) {
	s := NewStatsService()

	const goroutines = 50
	const opsPerGoroutine = 500

	var wg sync.WaitGroup
	wg.Add(goroutines * 3)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				s.RecordMessage(intercept.KindSend)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				s.RecordModule("libc")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				_ = s.GetStats()
			}
		}()
	}

	wg.Wait()

	stats := s.GetStats()
	const expected = int64(goroutines * opsPerGoroutine)
	if stats.Sent != expected {
		t.Errorf("Sent = %d, want %d", stats.Sent, expected)
	}
	if stats.ModuleCounts["libc"] != expected {
		t.Errorf("ModuleCounts[libc] = %d, want %d", stats.ModuleCounts["libc"], expected)
	}
}
