package interceptor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

const hexColumns = 16

// maskByte replaces control characters in the text column.
const maskByte = '.'

// Log writes every message to the logger at info level, with data rendered
// as a hex table.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log interceptor.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Intercept(ctx context.Context, msg *intercept.Message) error {
	attrs := []any{
		"id", msg.ID,
		"kind", msg.Kind.String(),
		"metadata", FormatMetadata(msg.Metadata),
	}
	if msg.Kind == intercept.KindClose {
		l.logger.InfoContext(ctx, "message", attrs...)
		return nil
	}
	attrs = append(attrs,
		"size", len(msg.Data),
		"xxhash", strconv.FormatUint(xxhash.Sum64(msg.Data), 16),
	)
	l.logger.InfoContext(ctx, "message\n"+FormatHex(msg.Data), attrs...)
	return nil
}

func (l *Log) Close() error { return nil }

// FormatMetadata renders metadata as tag=value pairs in canonical tag order.
func FormatMetadata(md intercept.Metadata) string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	md.Each(func(tag intercept.Tag, v any) {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s=%v", tag, v)
	})
	b.WriteByte('}')
	return b.String()
}

// FormatHex renders data as a hex table: a column header, then one row per
// 16 bytes with the offset, the bytes in hex and the bytes as text. Bytes
// below 32 are shown as '.' in the text column.
func FormatHex(data []byte) string {
	var b strings.Builder

	b.WriteString(strings.Repeat(" ", 10))
	for i := 0; i < hexColumns; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%2X", i)
	}
	b.WriteString("  ")
	for i := 0; i < hexColumns; i++ {
		fmt.Fprintf(&b, "%X", i)
	}
	b.WriteByte('\n')

	for off := 0; off < len(data); off += hexColumns {
		row := data[off:min(off+hexColumns, len(data))]
		fmt.Fprintf(&b, "%08X  ", off)

		hexWidth := 0
		for i, c := range row {
			if i > 0 {
				b.WriteByte(' ')
				hexWidth++
			}
			fmt.Fprintf(&b, "%02x", c)
			hexWidth += 2
		}
		b.WriteString(strings.Repeat(" ", hexColumns*3-1-hexWidth))
		b.WriteString("  ")

		for _, c := range row {
			if c < 32 {
				c = maskByte
			}
			b.WriteRune(rune(c))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Debug writes the complete message at debug level.
type Debug struct {
	logger *slog.Logger
}

// NewDebug creates a debug interceptor.
func NewDebug(logger *slog.Logger) *Debug {
	return &Debug{logger: logger}
}

func (d *Debug) Name() string { return "debug" }

func (d *Debug) Intercept(ctx context.Context, msg *intercept.Message) error {
	d.logger.DebugContext(ctx, "message",
		"id", msg.ID,
		"kind", string(msg.Kind),
		"metadata", FormatMetadata(msg.Metadata),
		"data", fmt.Sprintf("%q", msg.Data),
	)
	return nil
}

func (d *Debug) Close() error { return nil }
