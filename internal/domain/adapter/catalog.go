package adapter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Sentinel-Gate/tapgate/internal/domain/conn"
	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// MatchMode controls how configured library names select loaded modules.
type MatchMode int

const (
	// MatchExact selects modules whose name equals a library name, ignoring case.
	MatchExact MatchMode = iota
	// MatchPattern treats library names as case-insensitive regular
	// expressions searched anywhere in the module name.
	MatchPattern
)

// HandleKind says what the handle argument of a library's functions is.
type HandleKind int

const (
	HandleSocket HandleKind = iota
	HandleSession
	HandleCode
)

// Function is one hookable export of a library family.
type Function struct {
	Name   string
	Family Family
	// Kind is the direction of Descriptor functions.
	Kind intercept.Kind
}

// Definition describes a built-in adapter.
type Definition struct {
	Tag       string
	Libraries []string
	Match     MatchMode
	Handle    HandleKind
	// Accessor is the session-to-socket export for HandleSession libraries.
	Accessor  string
	Functions []Function
}

// Catalog lists the built-in adapters.
var Catalog = []Definition{
	{
		Tag:       "libc",
		Libraries: []string{"libc.so", "libsocket.so", "libpthread.so"},
		Match:     MatchPattern,
		Handle:    HandleSocket,
		Functions: []Function{
			{Name: "send", Family: FamilyBufferSend},
			{Name: "sendto", Family: FamilyBufferSend},
			{Name: "recv", Family: FamilyBufferRecv},
			{Name: "recvfrom", Family: FamilyBufferRecv},
			{Name: "shutdown", Family: FamilyClose},
			{Name: "close", Family: FamilyClose},
		},
	},
	{
		Tag:       "winsock",
		Libraries: []string{"ws2_32.dll", "wsock32.dll"},
		Match:     MatchExact,
		Handle:    HandleSocket,
		Functions: []Function{
			{Name: "send", Family: FamilyBufferSend},
			{Name: "sendto", Family: FamilyBufferSend},
			{Name: "recv", Family: FamilyBufferRecv},
			{Name: "recvfrom", Family: FamilyBufferRecv},
			{Name: "WSASend", Family: FamilyVectorSend},
			{Name: "WSASendTo", Family: FamilyVectorSend},
			{Name: "WSARecv", Family: FamilyVectorRecv},
			{Name: "WSARecvFrom", Family: FamilyVectorRecv},
			{Name: "shutdown", Family: FamilyClose},
			{Name: "closesocket", Family: FamilyClose},
		},
	},
	{
		Tag:       "openssl",
		Libraries: []string{"libssl", "openssl", "ssleay", "libeay", "libcrypto"},
		Match:     MatchPattern,
		Handle:    HandleSession,
		Accessor:  "SSL_get_fd",
		Functions: []Function{
			{Name: "SSL_write", Family: FamilyBufferSend},
			{Name: "SSL_write_ex", Family: FamilyOutLenWrite},
			{Name: "SSL_read", Family: FamilyBufferRecv},
			{Name: "SSL_read_ex", Family: FamilyOutLenRead},
			{Name: "SSL_shutdown", Family: FamilyClose},
		},
	},
	{
		Tag:       "gnutls",
		Libraries: []string{"gnutls"},
		Match:     MatchPattern,
		Handle:    HandleSession,
		Accessor:  "gnutls_transport_get_int",
		Functions: []Function{
			{Name: "gnutls_record_send", Family: FamilyBufferSend},
			{Name: "gnutls_record_recv", Family: FamilyBufferRecv},
			{Name: "gnutls_bye", Family: FamilyClose},
		},
	},
	{
		Tag:       "schannel",
		Libraries: []string{"Secur32.dll"},
		Match:     MatchExact,
		Handle:    HandleCode,
		Functions: []Function{
			{Name: "EncryptMessage", Family: FamilyDescriptor, Kind: intercept.KindSend},
			{Name: "DecryptMessage", Family: FamilyDescriptor, Kind: intercept.KindRecv},
		},
	},
}

// Lookup returns the built-in definition for tag.
func Lookup(tag string) (Definition, bool) {
	for _, d := range Catalog {
		if d.Tag == tag {
			return d, true
		}
	}
	return Definition{}, false
}

// Tags returns the tags of all built-in adapters.
func Tags() []string {
	out := make([]string, len(Catalog))
	for i, d := range Catalog {
		out[i] = d.Tag
	}
	return out
}

// FunctionNames returns the hookable function names of d.
func (d Definition) FunctionNames() []string {
	out := make([]string, len(d.Functions))
	for i, f := range d.Functions {
		out[i] = f.Name
	}
	return out
}

// Matcher selects loaded modules by name.
type Matcher struct {
	mode     MatchMode
	names    []string
	patterns []*regexp.Regexp
}

// NewMatcher compiles libs for mode.
func NewMatcher(mode MatchMode, libs []string) (*Matcher, error) {
	m := &Matcher{mode: mode}
	for _, lib := range libs {
		if mode == MatchExact {
			m.names = append(m.names, strings.ToLower(lib))
			continue
		}
		re, err := regexp.Compile("(?i)" + lib)
		if err != nil {
			return nil, fmt.Errorf("invalid library pattern %q: %w", lib, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// Match reports whether module is selected.
func (m *Matcher) Match(module string) bool {
	if m.mode == MatchExact {
		lower := strings.ToLower(module)
		for _, n := range m.names {
			if n == lower {
				return true
			}
		}
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(module) {
			return true
		}
	}
	return false
}

// Locator builds the handle resolver for a function of d hooked in module.
func (d Definition) Locator(r *conn.Resolver, module string) Locator {
	switch d.Handle {
	case HandleSession:
		return SessionLocator(r, module, d.Accessor, d.Tag)
	case HandleCode:
		return CodeLocator(r, d.Tag)
	default:
		return SocketLocator(r, d.Tag)
	}
}

// Build creates the adapter for fn with the given collaborators.
func (f Function) Build(tag string, deps Deps) (Adapter, error) {
	if f.Family == FamilyDescriptor {
		return NewDescriptor(tag, f.Name, f.Kind, deps), nil
	}
	return New(f.Family, tag, f.Name, deps)
}
