package http

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// Verify all metrics are registered
	if m.MessagesTotal == nil {
		t.Error("MessagesTotal not initialized")
	}
	if m.InterceptDuration == nil {
		t.Error("InterceptDuration not initialized")
	}
	if m.InterceptorErrors == nil {
		t.Error("InterceptorErrors not initialized")
	}
	if m.EngineConnections == nil {
		t.Error("EngineConnections not initialized")
	}
	if m.RequestsTotal == nil || m.RequestDuration == nil {
		t.Error("request metrics not initialized")
	}
}

func TestMetrics_ObserveMessage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveMessage("send", "modified", 10*time.Millisecond)
	m.ObserveMessage("send", "modified", 20*time.Millisecond)
	m.ObserveInterceptorError("petep")

	if got := testutil.ToFloat64(m.MessagesTotal.WithLabelValues("send", "modified")); got != 2 {
		t.Errorf("messages_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.InterceptorErrors.WithLabelValues("petep")); got != 1 {
		t.Errorf("interceptor_errors_total = %v, want 1", got)
	}

	m.EngineConnections.Inc()
	if got := testutil.ToFloat64(m.EngineConnections); got != 1 {
		t.Errorf("engine_connections = %v, want 1", got)
	}

	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	found := false
	for _, mf := range gathered {
		if strings.Contains(mf.GetName(), "intercept_duration") {
			found = mf.GetMetric()[0].GetHistogram().GetSampleCount() == 2
			break
		}
	}
	if !found {
		t.Error("intercept_duration histogram missing or wrong sample count")
	}
}

func TestNewRegistry_RuntimeCollectors(t *testing.T) {
	reg := NewRegistry()
	gathered, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range gathered {
		if mf.GetName() == "go_goroutines" {
			found = true
		}
	}
	if !found {
		t.Error("go collector not registered")
	}
}
