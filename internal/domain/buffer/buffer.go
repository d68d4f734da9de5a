// Package buffer reconciles replacement payloads of arbitrary length against
// the fixed-shape destination buffers of hooked calls.
//
// Two strategies exist. Pointer substitution hands the call a freshly
// allocated buffer and reports the original length back to the caller.
// In-place bounded writes copy as much of the replacement as fits into the
// destination and report what was written.
package buffer

import (
	"fmt"
	"strings"
)

// OverflowPolicy decides what happens when a replacement does not fit.
type OverflowPolicy string

const (
	// OverflowTruncate keeps the first capacity bytes of the replacement.
	OverflowTruncate OverflowPolicy = "truncate"
	// OverflowReject discards an oversized replacement and keeps the
	// originally captured bytes.
	OverflowReject OverflowPolicy = "reject"
)

// ParseOverflowPolicy parses a policy name; empty means truncate.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OverflowTruncate:
		return OverflowTruncate, nil
	case OverflowReject:
		return OverflowReject, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// SafeWrite copies replacement into dst without exceeding len(dst) and
// returns the number of bytes written. Excess bytes are dropped.
func SafeWrite(dst, replacement []byte) int {
	return copy(dst, replacement)
}

// Overflows reports whether replacement exceeds capacity.
func Overflows(capacity int, replacement []byte) bool {
	return len(replacement) > capacity
}

// Fit applies policy to a replacement destined for a buffer of the given
// capacity whose current content is original. It returns the bytes to write
// and whether the replacement was cut or rejected.
func Fit(policy OverflowPolicy, capacity int, original, replacement []byte) ([]byte, bool) {
	if !Overflows(capacity, replacement) {
		return replacement, false
	}
	if policy == OverflowReject {
		return original, true
	}
	return replacement[:capacity], true
}

// Substitution is a freshly allocated source buffer handed to a write call in
// place of the application's own buffer. It belongs to a single invocation and
// must stay reachable until the underlying call has returned.
type Substitution struct {
	// Buf holds the replacement bytes passed to the real call.
	Buf []byte
	// Original is the length the application asked to write.
	Original int
}

// Substitute allocates the replacement buffer for a write of originalLen bytes.
func Substitute(originalLen int, replacement []byte) *Substitution {
	buf := make([]byte, len(replacement))
	copy(buf, replacement)
	return &Substitution{Buf: buf, Original: originalLen}
}

// Report maps the real call's return value back to what the application
// expects. Failures (negative values) pass through; any success reports the
// original requested length.
func (s *Substitution) Report(ret int64) int64 {
	if ret < 0 {
		return ret
	}
	return int64(s.Original)
}

// Capacity returns the combined length of bufs.
func Capacity(bufs [][]byte) int {
	total := 0
	for _, b := range bufs {
		total += len(b)
	}
	return total
}

// Gather concatenates the first n bytes held across bufs, in order.
// n is clamped to the combined capacity.
func Gather(bufs [][]byte, n int) []byte {
	if n < 0 {
		n = 0
	}
	if c := Capacity(bufs); n > c {
		n = c
	}
	out := make([]byte, 0, n)
	for _, b := range bufs {
		if n == 0 {
			break
		}
		take := min(len(b), n)
		out = append(out, b[:take]...)
		n -= take
	}
	return out
}

// Scatter distributes data across bufs in order, filling each buffer up to
// its own length before moving on. Buffers past the end of data are left
// untouched. It returns the total written and the number of bytes dropped
// because the combined capacity ran out.
func Scatter(bufs [][]byte, data []byte) (written, dropped int) {
	rest := data
	for _, b := range bufs {
		if len(rest) == 0 {
			break
		}
		n := SafeWrite(b, rest)
		rest = rest[n:]
		written += n
	}
	return written, len(rest)
}

// Split cuts data into len(lens) fresh segments for a vectored write. Each
// segment takes up to its original length from the front of data; the last
// segment takes whatever remains, so the total is always len(data).
// Segments beyond the end of data are empty.
func Split(lens []int, data []byte) [][]byte {
	if len(lens) == 0 {
		return nil
	}
	out := make([][]byte, len(lens))
	rest := data
	for i, l := range lens {
		take := min(max(l, 0), len(rest))
		if i == len(lens)-1 {
			take = len(rest)
		}
		seg := make([]byte, take)
		copy(seg, rest[:take])
		out[i] = seg
		rest = rest[take:]
	}
	return out
}
