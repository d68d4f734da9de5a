package interceptor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// Proxifier framing strategies.
const (
	StrategyBuffer = "buffer"
	StrategySuffix = "suffix"
	StrategyLength = "length"
)

// ErrConnectionLost is returned when the relay peer closes mid-exchange.
var ErrConnectionLost = errors.New("relay connection lost")

// Strategy pushes a payload through one socket and reads the (possibly
// rewritten) payload back from another.
type Strategy interface {
	Relay(data []byte, w io.Writer, r io.Reader) ([]byte, error)
}

// BufferStrategy relies on one read returning the whole payload.
type BufferStrategy struct {
	BufferSize int
}

func (s BufferStrategy) Relay(data []byte, w io.Writer, r io.Reader) ([]byte, error) {
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	buf := make([]byte, s.BufferSize)
	n, err := r.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, ErrConnectionLost
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	return buf[:n], nil
}

// SuffixStrategy appends a marker to every payload and reads until it shows
// up again.
type SuffixStrategy struct {
	BufferSize int
	Suffix     []byte
}

func (s SuffixStrategy) Relay(data []byte, w io.Writer, r io.Reader) ([]byte, error) {
	out := make([]byte, 0, len(data)+len(s.Suffix))
	out = append(out, data...)
	out = append(out, s.Suffix...)
	if _, err := w.Write(out); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	var total []byte
	buf := make([]byte, s.BufferSize)
	for {
		n, err := r.Read(buf)
		total = append(total, buf[:n]...)
		if bytes.HasSuffix(total, s.Suffix) {
			return total[:len(total)-len(s.Suffix)], nil
		}
		if len(total) > intercept.MaxFrameSize {
			return nil, intercept.ErrFrameTooLarge
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrConnectionLost
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return nil, ErrConnectionLost
		}
	}
}

// LengthStrategy prefixes every payload with its 4-byte big-endian length.
type LengthStrategy struct{}

func (LengthStrategy) Relay(data []byte, w io.Writer, r io.Reader) ([]byte, error) {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	copy(out[4:], data)
	if _, err := w.Write(out); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	return readLengthPrefixed(r)
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, lost(err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > intercept.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", intercept.ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, lost(err)
	}
	return payload, nil
}

func lost(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrConnectionLost
	}
	return fmt.Errorf("read: %w", err)
}

// NewStrategy builds the named strategy.
func NewStrategy(name string, cfg StrategiesConfig) (Strategy, error) {
	switch name {
	case StrategyBuffer:
		if cfg.Buffer.BufferSize <= 0 {
			return nil, errors.New("buffer strategy requires a positive buffer_size")
		}
		return BufferStrategy{BufferSize: cfg.Buffer.BufferSize}, nil
	case StrategySuffix:
		if cfg.Suffix.BufferSize <= 0 || cfg.Suffix.Value == "" {
			return nil, errors.New("suffix strategy requires a positive buffer_size and a non-empty value")
		}
		return SuffixStrategy{BufferSize: cfg.Suffix.BufferSize, Suffix: []byte(cfg.Suffix.Value)}, nil
	case StrategyLength:
		return LengthStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
