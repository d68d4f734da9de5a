package service

import (
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/Sentinel-Gate/tapgate/internal/domain/adapter"
	"github.com/Sentinel-Gate/tapgate/internal/domain/buffer"
	"github.com/Sentinel-Gate/tapgate/internal/domain/conn"
	"github.com/Sentinel-Gate/tapgate/internal/domain/protocol"
	"github.com/Sentinel-Gate/tapgate/internal/port/hook"
)

var _ hook.Instrumenter = (*fakeInstrumenter)(nil)

type fakeInstrumenter struct {
	modules  []string
	exports  map[string][]string
	failOn   string
	attached map[string]adapter.Adapter
}

func (f *fakeInstrumenter) Modules() []string { return f.modules }

func (f *fakeInstrumenter) HasExport(module, fn string) bool {
	for _, e := range f.exports[module] {
		if e == fn {
			return true
		}
	}
	return false
}

func (f *fakeInstrumenter) Attach(module, fn string, a adapter.Adapter) error {
	if fn == f.failOn {
		return errors.New("attach failed")
	}
	if f.attached == nil {
		f.attached = make(map[string]adapter.Adapter)
	}
	f.attached[module+"!"+fn] = a
	return nil
}

func (f *fakeInstrumenter) Lookup(library, symbol string) (conn.SocketAccessor, bool) {
	return nil, false
}

func newTestInstaller(inst *fakeInstrumenter) *Installer {
	client := protocol.NewClient(nil, protocol.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return NewInstaller(inst, client, nil, buffer.OverflowTruncate, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func hookNames(hooks []Hook) []string {
	out := make([]string, len(hooks))
	for i, h := range hooks {
		out[i] = h.Module + "!" + h.Function
	}
	sort.Strings(out)
	return out
}

func TestInstaller_AttachesEnabledFunctionsInMatchingModules(t *testing.T) {
	inst := &fakeInstrumenter{
		modules: []string{"libc.so.6", "libssl.so.3", "libz.so.1"},
		exports: map[string][]string{
			"libc.so.6":   {"send", "recv", "close"},
			"libssl.so.3": {"SSL_write", "SSL_read"},
		},
	}
	hooks, err := newTestInstaller(inst).Install(map[string]AdapterSettings{
		"libc":    {Functions: map[string]bool{"close": false}},
		"openssl": {},
	})
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	got := hookNames(hooks)
	want := []string{"libc.so.6!recv", "libc.so.6!send", "libssl.so.3!SSL_read", "libssl.so.3!SSL_write"}
	if len(got) != len(want) {
		t.Fatalf("hooks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("hooks[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if _, ok := inst.attached["libssl.so.3!SSL_write"].(*adapter.BufferSend); !ok {
		t.Errorf("SSL_write adapter = %T", inst.attached["libssl.so.3!SSL_write"])
	}
}

func TestInstaller_LibsOverride(t *testing.T) {
	inst := &fakeInstrumenter{
		modules: []string{"libc.so.6", "libmusl.so"},
		exports: map[string][]string{"libmusl.so": {"send"}, "libc.so.6": {"send"}},
	}
	hooks, err := newTestInstaller(inst).Install(map[string]AdapterSettings{
		"libc": {Libs: []string{"musl"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hooks) != 1 || hooks[0].Module != "libmusl.so" {
		t.Errorf("hooks = %v", hookNames(hooks))
	}
}

func TestInstaller_MissingLibraryIsSkipped(t *testing.T) {
	inst := &fakeInstrumenter{modules: []string{"kernel32.dll"}}
	hooks, err := newTestInstaller(inst).Install(map[string]AdapterSettings{"winsock": {}})
	if err != nil || len(hooks) != 0 {
		t.Errorf("hooks=%v err=%v", hooks, err)
	}
}

func TestInstaller_AttachFailureIsSkipped(t *testing.T) {
	inst := &fakeInstrumenter{
		modules: []string{"libc.so.6"},
		exports: map[string][]string{"libc.so.6": {"send", "recv"}},
		failOn:  "send",
	}
	hooks, err := newTestInstaller(inst).Install(map[string]AdapterSettings{"libc": {}})
	if err != nil {
		t.Fatal(err)
	}
	if got := hookNames(hooks); len(got) != 1 || got[0] != "libc.so.6!recv" {
		t.Errorf("hooks = %v", got)
	}
}

func TestInstaller_UnknownAdapter(t *testing.T) {
	_, err := newTestInstaller(&fakeInstrumenter{}).Install(map[string]AdapterSettings{"nss": {}})
	if err == nil {
		t.Error("expected error for unknown adapter")
	}
}
