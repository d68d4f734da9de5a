package interceptor

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// Record is one intercepted message as seen by the engine. Payload bytes are
// never stored; Digest identifies them.
type Record struct {
	Time     time.Time          `json:"time"`
	ID       string             `json:"id"`
	Kind     string             `json:"kind"`
	Metadata intercept.Metadata `json:"metadata,omitempty"`
	Size     int                `json:"size"`
	Digest   string             `json:"xxhash,omitempty"`
}

// RecordSink persists capture records.
type RecordSink interface {
	Append(ctx context.Context, records ...Record) error
	Close() error
}

// CaptureConfig configures the capture interceptor.
type CaptureConfig struct {
	// Dir holds the capture files.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// RetentionDays is how long capture files are kept.
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
	// MaxFileSizeMB triggers rotation to a new file for the same day.
	MaxFileSizeMB int `mapstructure:"max_file_size_mb" yaml:"max_file_size_mb"`
}

// DefaultCaptureConfig returns the capture defaults.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Dir:           "captures",
		RetentionDays: 7,
		MaxFileSizeMB: 100,
	}
}

// SinkOpener opens the storage behind a capture interceptor.
type SinkOpener func(cfg CaptureConfig) (RecordSink, error)

// Capture records every message it sees. Placed after rewriting
// interceptors it records what the process actually receives.
type Capture struct {
	sink RecordSink
	now  func() time.Time
}

// NewCapture creates a capture interceptor writing to sink.
func NewCapture(sink RecordSink) (*Capture, error) {
	if sink == nil {
		return nil, errors.New("capture: no record sink")
	}
	return &Capture{sink: sink, now: time.Now}, nil
}

func (c *Capture) Name() string { return "capture" }

func (c *Capture) Intercept(ctx context.Context, msg *intercept.Message) error {
	rec := Record{
		Time:     c.now().UTC(),
		ID:       msg.ID,
		Kind:     msg.Kind.String(),
		Metadata: msg.Metadata,
		Size:     len(msg.Data),
	}
	if msg.Kind != intercept.KindClose {
		rec.Digest = strconv.FormatUint(xxhash.Sum64(msg.Data), 16)
	}
	return c.sink.Append(ctx, rec)
}

func (c *Capture) Close() error { return c.sink.Close() }
