package buffer

import (
	"bytes"
	"testing"
)

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestSafeWrite(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		payload  []byte
		want     int
	}{
		{"fits exactly", 4, seq(4), 4},
		{"shorter than capacity", 8, seq(3), 3},
		{"empty payload", 8, nil, 0},
		{"longer than capacity", 4, seq(10), 4},
		{"zero capacity", 0, seq(3), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := bytes.Repeat([]byte{0xff}, tt.capacity)
			got := SafeWrite(dst, tt.payload)
			if got != tt.want {
				t.Fatalf("SafeWrite() = %d, want %d", got, tt.want)
			}
			if !bytes.Equal(dst[:got], tt.payload[:got]) {
				t.Errorf("dst prefix = %v, want %v", dst[:got], tt.payload[:got])
			}
			for i := got; i < len(dst); i++ {
				if dst[i] != 0xff {
					t.Fatalf("byte %d past written region was modified", i)
				}
			}
		})
	}
}

func TestFit(t *testing.T) {
	original := []byte("orig")
	long := []byte("replacement")

	got, cut := Fit(OverflowTruncate, 4, original, long)
	if !cut || string(got) != "repl" {
		t.Errorf("truncate: got %q cut=%v", got, cut)
	}

	got, cut = Fit(OverflowReject, 4, original, long)
	if !cut || string(got) != "orig" {
		t.Errorf("reject: got %q cut=%v", got, cut)
	}

	got, cut = Fit(OverflowReject, 64, original, long)
	if cut || string(got) != "replacement" {
		t.Errorf("fits: got %q cut=%v", got, cut)
	}
}

func TestParseOverflowPolicy(t *testing.T) {
	for in, want := range map[string]OverflowPolicy{
		"":         OverflowTruncate,
		"truncate": OverflowTruncate,
		"REJECT":   OverflowReject,
	} {
		got, err := ParseOverflowPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseOverflowPolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseOverflowPolicy("split"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestSubstitution_Report(t *testing.T) {
	s := Substitute(10, []byte("abc"))
	if string(s.Buf) != "abc" {
		t.Fatalf("Buf = %q", s.Buf)
	}
	if got := s.Report(3); got != 10 {
		t.Errorf("Report(3) = %d, want 10", got)
	}
	if got := s.Report(0); got != 10 {
		t.Errorf("Report(0) = %d, want 10", got)
	}
	if got := s.Report(-1); got != -1 {
		t.Errorf("Report(-1) = %d, want -1", got)
	}
}

func TestSubstitute_DoesNotAliasReplacement(t *testing.T) {
	repl := []byte("abc")
	s := Substitute(3, repl)
	repl[0] = 'x'
	if s.Buf[0] != 'a' {
		t.Error("substituted buffer aliases the replacement")
	}
}

func TestGather(t *testing.T) {
	bufs := [][]byte{[]byte("abcd"), []byte("efgh"), []byte("ijkl")}

	if got := Gather(bufs, 6); string(got) != "abcdef" {
		t.Errorf("Gather(6) = %q", got)
	}
	if got := Gather(bufs, 100); string(got) != "abcdefghijkl" {
		t.Errorf("Gather(100) = %q", got)
	}
	if got := Gather(bufs, 0); len(got) != 0 {
		t.Errorf("Gather(0) = %q", got)
	}
}

func TestScatter_DistributesAcrossBuffers(t *testing.T) {
	bufs := [][]byte{make([]byte, 4), make([]byte, 4), bytes.Repeat([]byte{0xee}, 4)}
	data := seq(10)

	written, dropped := Scatter(bufs, data)
	if written != 10 || dropped != 0 {
		t.Fatalf("Scatter = (%d, %d), want (10, 0)", written, dropped)
	}
	if !bytes.Equal(bufs[0], data[0:4]) || !bytes.Equal(bufs[1], data[4:8]) {
		t.Errorf("first buffers = %v %v", bufs[0], bufs[1])
	}
	if !bytes.Equal(bufs[2][:2], data[8:10]) {
		t.Errorf("third buffer head = %v", bufs[2][:2])
	}
	if bufs[2][2] != 0xee || bufs[2][3] != 0xee {
		t.Errorf("third buffer tail modified: %v", bufs[2])
	}
}

func TestScatter_Overflow(t *testing.T) {
	bufs := [][]byte{make([]byte, 4), make([]byte, 4)}
	data := seq(10)

	written, dropped := Scatter(bufs, data)
	if written != 8 || dropped != 2 {
		t.Fatalf("Scatter = (%d, %d), want (8, 2)", written, dropped)
	}
	if !bytes.Equal(bufs[0], data[:4]) || !bytes.Equal(bufs[1], data[4:8]) {
		t.Errorf("buffers = %v %v", bufs[0], bufs[1])
	}
}

func TestScatter_ShortReplacementLeavesRestUntouched(t *testing.T) {
	untouched := bytes.Repeat([]byte{0xaa}, 4)
	bufs := [][]byte{make([]byte, 4), append([]byte(nil), untouched...)}

	written, dropped := Scatter(bufs, []byte("xy"))
	if written != 2 || dropped != 0 {
		t.Fatalf("Scatter = (%d, %d)", written, dropped)
	}
	if !bytes.Equal(bufs[1], untouched) {
		t.Errorf("second buffer modified: %v", bufs[1])
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		lens []int
		data string
		want []string
	}{
		{"same size", []int{2, 3}, "abcde", []string{"ab", "cde"}},
		{"grown replacement lands in last", []int{2, 3}, "abcdefgh", []string{"ab", "cdefgh"}},
		{"shrunk replacement empties tail", []int{3, 3, 3}, "abcd", []string{"abc", "d", ""}},
		{"empty replacement", []int{2, 2}, "", []string{"", ""}},
		{"single segment", []int{1}, "xyz", []string{"xyz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.lens, []byte(tt.data))
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if string(got[i]) != tt.want[i] {
					t.Errorf("segment %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
