// Package hook holds the port to the native hooking mechanism.
package hook

import (
	"github.com/Sentinel-Gate/tapgate/internal/domain/adapter"
	"github.com/Sentinel-Gate/tapgate/internal/domain/conn"
)

// Instrumenter is the outbound port to the hooking mechanism of the target
// process. Implementations marshal native arguments into the adapter's
// Enter/Leave calls according to its concrete family.
type Instrumenter interface {
	conn.SymbolResolver

	// Modules lists the names of the modules loaded in the process.
	Modules() []string

	// HasExport reports whether module exports fn.
	HasExport(module, fn string) bool

	// Attach hooks fn in module with a.
	Attach(module, fn string, a adapter.Adapter) error
}
