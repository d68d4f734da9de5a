package interceptor

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Deps are the collaborators available to interceptor factories.
type Deps struct {
	Logger     *slog.Logger
	Conditions ConditionCompiler
	// OpenSink backs capture interceptors.
	OpenSink SinkOpener
	// Listeners shares proxifier relay listeners across rebuilt chains.
	Listeners *ListenerSet
}

type factory struct {
	defaults func() any
	build    func(raw map[string]any, d Deps) (Interceptor, error)
}

var factories = map[string]factory{
	"log": {
		defaults: func() any { return map[string]any{} },
		build: func(_ map[string]any, d Deps) (Interceptor, error) {
			return NewLog(d.Logger), nil
		},
	},
	"debug": {
		defaults: func() any { return map[string]any{} },
		build: func(_ map[string]any, d Deps) (Interceptor, error) {
			return NewDebug(d.Logger), nil
		},
	},
	"rules": {
		defaults: func() any { return RulesConfig{Rules: []RuleConfig{}} },
		build: func(raw map[string]any, d Deps) (Interceptor, error) {
			var cfg RulesConfig
			if err := decode(raw, &cfg); err != nil {
				return nil, err
			}
			return NewRules(cfg, d.Conditions, d.Logger)
		},
	},
	"proxifier": {
		defaults: func() any { return DefaultProxifierConfig() },
		build: func(raw map[string]any, d Deps) (Interceptor, error) {
			cfg := DefaultProxifierConfig()
			if err := decode(raw, &cfg); err != nil {
				return nil, err
			}
			return NewProxifier(cfg, d.Listeners, d.Logger)
		},
	},
	"capture": {
		defaults: func() any { return DefaultCaptureConfig() },
		build: func(raw map[string]any, d Deps) (Interceptor, error) {
			cfg := DefaultCaptureConfig()
			if err := decode(raw, &cfg); err != nil {
				return nil, err
			}
			if d.OpenSink == nil {
				return nil, errors.New("no capture storage configured")
			}
			sink, err := d.OpenSink(cfg)
			if err != nil {
				return nil, err
			}
			return NewCapture(sink)
		},
	},
	"petep": {
		defaults: func() any { return DefaultPetepConfig() },
		build: func(raw map[string]any, d Deps) (Interceptor, error) {
			cfg := DefaultPetepConfig()
			if err := decode(raw, &cfg); err != nil {
				return nil, err
			}
			if cfg.PetepPort <= 0 || cfg.PetepPort > 65535 {
				return nil, fmt.Errorf("petep_port %d out of range", cfg.PetepPort)
			}
			return NewPetep(cfg, d.Logger), nil
		},
	},
}

// decode overlays raw onto out, which already holds the defaults. Unknown
// keys are rejected so typos surface at startup.
func decode(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Types returns the registered interceptor types in sorted order.
func Types() []string {
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Known reports whether typ is a registered interceptor type.
func Known(typ string) bool {
	_, ok := factories[typ]
	return ok
}

// DefaultConfig returns the default settings of typ, for display.
func DefaultConfig(typ string) (any, bool) {
	f, ok := factories[typ]
	if !ok {
		return nil, false
	}
	return f.defaults(), true
}

// New builds an interceptor of type typ from its raw configuration.
func New(typ string, raw map[string]any, d Deps) (Interceptor, error) {
	f, ok := factories[typ]
	if !ok {
		return nil, fmt.Errorf("unknown interceptor type %q", typ)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	d.Logger = d.Logger.With("interceptor", typ)
	i, err := f.build(raw, d)
	if err != nil {
		return nil, fmt.Errorf("interceptor %s: %w", typ, err)
	}
	return i, nil
}

// Spec is one entry of an interceptor chain configuration.
type Spec struct {
	Type   string
	Config map[string]any
}

// BuildChain builds every interceptor in order. On failure the ones already
// built are closed.
func BuildChain(specs []Spec, d Deps) ([]Interceptor, error) {
	chain := make([]Interceptor, 0, len(specs))
	for _, s := range specs {
		i, err := New(s.Type, s.Config, d)
		if err != nil {
			return nil, errors.Join(err, CloseAll(chain))
		}
		chain = append(chain, i)
	}
	return chain, nil
}

// CloseAll closes every interceptor in chain.
func CloseAll(chain []Interceptor) error {
	var errs []error
	for _, i := range chain {
		if err := i.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", i.Name(), err))
		}
	}
	return errors.Join(errs...)
}
