package telemetry

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSetup_ExportsOnShutdown(t *testing.T) {
	prevT, prevM := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevT)
		otel.SetMeterProvider(prevM)
	})

	out := &lockedBuffer{}
	shutdown, err := Setup(Options{ServiceVersion: "test", Writer: out, MetricInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	_, span := otel.Tracer("test").Start(ctx, "intercept send")
	span.End()
	counter, err := otel.Meter("test").Int64Counter("tapgate.test.count")
	if err != nil {
		t.Fatal(err)
	}
	counter.Add(ctx, 3)

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	got := out.String()
	for _, want := range []string{"intercept send", "tapgate.test.count", "tapgate"} {
		if !strings.Contains(got, want) {
			t.Errorf("export output missing %q", want)
		}
	}
}
