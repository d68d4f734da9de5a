package cel

import (
	"strings"
	"testing"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

func testMessage() *intercept.Message {
	return &intercept.Message{
		ID:   "m-1",
		Kind: intercept.KindSend,
		Metadata: intercept.Metadata{
			intercept.TagConnectionID:    "openssl-7",
			intercept.TagModule:          "openssl",
			intercept.TagProtocol:        "tcp",
			intercept.TagSourceIP:        "127.0.0.1",
			intercept.TagSourcePort:      uint64(50123),
			intercept.TagDestinationIP:   "10.20.30.40",
			intercept.TagDestinationPort: uint64(443),
		},
		Data: []byte("GET /index.html HTTP/1.1\r\n"),
	}
}

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	if eval == nil {
		t.Fatal("NewEvaluator() returned nil")
	}
}

func TestProgram_RejectsNonBoolean(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	if _, err := eval.Program(`size + 1`); err == nil {
		t.Fatal("Program() expected error for non-boolean expression")
	}
}

func TestEvaluate(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`kind == "send"`, true},
		{`kind == "recv"`, false},
		{`module == "openssl" && protocol == "tcp"`, true},
		{`dst_port == 443`, true},
		{`src_port > 50000`, true},
		{`size == 26`, true},
		{`bytes_contains(data, "HTTP/1.1")`, true},
		{`bytes_contains(data, b"POST")`, false},
		{`glob("openssl-*", connection_id)`, true},
		{`ip_in_cidr(dst_ip, "10.0.0.0/8")`, true},
		{`ip_in_cidr(src_ip, "10.0.0.0/8")`, false},
		{`dst_path == ""`, true},
		{`connection_id.startsWith("libc")`, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			prg, err := eval.Program(tt.expr)
			if err != nil {
				t.Fatalf("Program() error: %v", err)
			}
			got, err := eval.Evaluate(prg, testMessage())
			if err != nil {
				t.Fatalf("Evaluate() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluate_CloseMessage(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	cond, err := eval.Compile(`kind == "close" && size == 0`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	msg := &intercept.Message{ID: "c-1", Kind: intercept.KindClose, Metadata: intercept.Metadata{}}
	ok, err := cond.Match(msg)
	if err != nil || !ok {
		t.Errorf("Match() = %v, %v", ok, err)
	}
}

func TestValidateExpression_Invalid(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	tests := []struct {
		name string
		expr string
		want string // substring expected in error
	}{
		{"empty", "", "empty"},
		{"syntax error", "this is not valid !!!", "invalid CEL"},
		{"undefined var", "nonexistent_var == true", "invalid CEL"},
		{"too long", strings.Repeat("a", 1025), "too long"},
		{"too deep", strings.Repeat("(", 51) + "true" + strings.Repeat(")", 51), "nesting too deep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if err == nil {
				t.Fatalf("ValidateExpression(%q) expected error, got nil", tt.expr)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestBuildActivation_MissingMetadata(t *testing.T) {
	act := BuildActivation(&intercept.Message{Kind: intercept.KindRecv})
	if act["connection_id"] != "" || act["dst_port"] != int64(0) {
		t.Errorf("activation = %v", act)
	}
	if d, ok := act["data"].([]byte); !ok || d == nil {
		t.Errorf("data = %#v, want empty bytes", act["data"])
	}
}
