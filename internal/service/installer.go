package service

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Sentinel-Gate/tapgate/internal/domain/adapter"
	"github.com/Sentinel-Gate/tapgate/internal/domain/buffer"
	"github.com/Sentinel-Gate/tapgate/internal/domain/conn"
	"github.com/Sentinel-Gate/tapgate/internal/domain/protocol"
	"github.com/Sentinel-Gate/tapgate/internal/port/hook"
)

// AdapterSettings configures one built-in adapter.
type AdapterSettings struct {
	// Libs overrides the default library names when non-empty.
	Libs []string
	// Functions disables individual functions by mapping them to false.
	// Functions not listed are enabled.
	Functions map[string]bool
}

// Enabled reports whether fn should be hooked. Names match case-insensitively
// since config keys arrive lowercased.
func (s AdapterSettings) Enabled(fn string) bool {
	for name, enabled := range s.Functions {
		if strings.EqualFold(name, fn) {
			return enabled
		}
	}
	return true
}

// Hook records one attached function.
type Hook struct {
	Tag      string
	Module   string
	Function string
	Family   adapter.Family
}

// Installer attaches adapters to the functions of loaded modules.
type Installer struct {
	inst     hook.Instrumenter
	client   protocol.Interceptor
	resolver *conn.Resolver
	policy   buffer.OverflowPolicy
	logger   *slog.Logger
}

// NewInstaller creates an installer. Socket information comes from inspector;
// session accessors are looked up through the instrumenter.
func NewInstaller(inst hook.Instrumenter, client protocol.Interceptor, inspector conn.SocketInspector, policy buffer.OverflowPolicy, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		inst:     inst,
		client:   client,
		resolver: conn.NewResolver(inspector, conn.NewAccessorCache(inst)),
		policy:   policy,
		logger:   logger,
	}
}

// Install hooks every enabled function of every configured adapter in every
// matching module. A missing library or export is logged and skipped; an
// unknown adapter tag or an invalid library pattern is an error.
func (i *Installer) Install(adapters map[string]AdapterSettings) ([]Hook, error) {
	modules := i.inst.Modules()
	var hooks []Hook

	// Iterate the catalog for a stable order.
	for tag := range adapters {
		if _, ok := adapter.Lookup(tag); !ok {
			return nil, fmt.Errorf("unknown adapter %q", tag)
		}
	}
	for _, def := range adapter.Catalog {
		settings, ok := adapters[def.Tag]
		if !ok {
			continue
		}
		libs := def.Libraries
		if len(settings.Libs) > 0 {
			libs = settings.Libs
		}
		matcher, err := adapter.NewMatcher(def.Match, libs)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", def.Tag, err)
		}

		var matched []string
		for _, m := range modules {
			if matcher.Match(m) {
				matched = append(matched, m)
			}
		}
		if len(matched) == 0 {
			i.logger.Info("no matching libraries loaded", "adapter", def.Tag, "libs", libs)
			continue
		}

		for _, fn := range def.Functions {
			if !settings.Enabled(fn.Name) {
				continue
			}
			for _, module := range matched {
				if !i.inst.HasExport(module, fn.Name) {
					i.logger.Info("function not found in library", "function", fn.Name, "library", module)
					continue
				}
				a, err := fn.Build(def.Tag, adapter.Deps{
					Client: i.client,
					Locate: def.Locator(i.resolver, module),
					Policy: i.policy,
					Logger: i.logger,
				})
				if err != nil {
					return nil, err
				}
				if err := i.inst.Attach(module, fn.Name, a); err != nil {
					i.logger.Warn("failed to hook function", "function", fn.Name, "library", module, "error", err)
					continue
				}
				i.logger.Info("hooked function", "function", fn.Name, "library", module)
				hooks = append(hooks, Hook{Tag: def.Tag, Module: module, Function: fn.Name, Family: fn.Family})
			}
		}
	}
	return hooks, nil
}
