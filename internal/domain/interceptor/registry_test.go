package interceptor

import (
	"strings"
	"testing"
)

func TestTypes(t *testing.T) {
	got := strings.Join(Types(), ",")
	if got != "capture,debug,log,petep,proxifier,rules" {
		t.Errorf("Types() = %s", got)
	}
	if !Known("rules") || Known("nope") {
		t.Error("Known() mismatch")
	}
}

func TestDecode_OverlaysDefaults(t *testing.T) {
	cfg := DefaultProxifierConfig()
	err := decode(map[string]any{
		"proxy_port": "9090",
		"strategy":   "suffix",
		"strategies": map[string]any{"suffix": map[string]any{"value": "<END>"}},
	}, &cfg)
	if err != nil {
		t.Fatalf("decode() error: %v", err)
	}
	if cfg.ProxyPort != 9090 {
		t.Errorf("ProxyPort = %d", cfg.ProxyPort)
	}
	if cfg.Strategies.Suffix.Value != "<END>" || cfg.Strategies.Suffix.BufferSize != 65536 {
		t.Errorf("Suffix = %+v", cfg.Strategies.Suffix)
	}
	if cfg.ProxyHost != "127.0.0.1" || !cfg.MultipleConnections {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestDecode_UnknownKey(t *testing.T) {
	cfg := DefaultPetepConfig()
	if err := decode(map[string]any{"petep_prot": 1}, &cfg); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestNew(t *testing.T) {
	d := Deps{Logger: discardLogger(), Conditions: kindCompiler{}}

	if _, err := New("teleport", nil, d); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := New("petep", map[string]any{"petep_port": 70000}, d); err == nil {
		t.Error("expected error for out of range port")
	}

	i, err := New("rules", map[string]any{
		"rules": []any{map[string]any{"when": "true", "action": "drop"}},
	}, d)
	if err != nil {
		t.Fatalf("New(rules) error: %v", err)
	}
	if i.Name() != "rules" {
		t.Errorf("Name() = %s", i.Name())
	}
}

func TestBuildChain_ClosesOnFailure(t *testing.T) {
	d := Deps{Logger: discardLogger(), Conditions: kindCompiler{}}
	chain, err := BuildChain([]Spec{{Type: "log"}, {Type: "debug"}}, d)
	if err != nil || len(chain) != 2 {
		t.Fatalf("BuildChain() = %d, %v", len(chain), err)
	}
	if err := CloseAll(chain); err != nil {
		t.Fatal(err)
	}

	_, err = BuildChain([]Spec{{Type: "log"}, {Type: "bogus"}}, d)
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Errorf("err = %v", err)
	}
}
