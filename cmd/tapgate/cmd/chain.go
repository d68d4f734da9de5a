package cmd

import (
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/tapgate/internal/adapter/outbound/capture"
	"github.com/Sentinel-Gate/tapgate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/tapgate/internal/config"
	"github.com/Sentinel-Gate/tapgate/internal/domain/interceptor"
	"github.com/Sentinel-Gate/tapgate/internal/service"
)

// chainSpecs converts configured interceptors to chain specs.
func chainSpecs(cfgs []config.InterceptorConfig) []interceptor.Spec {
	specs := make([]interceptor.Spec, len(cfgs))
	for i, c := range cfgs {
		specs[i] = interceptor.Spec{Type: c.Type, Config: c.Config}
	}
	return specs
}

// chainBuilder builds interceptor chains with a shared CEL environment,
// file-backed capture storage and relay listeners that survive reloads.
type chainBuilder struct {
	deps interceptor.Deps
}

func newChainBuilder(logger *slog.Logger) (*chainBuilder, error) {
	eval, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}
	return &chainBuilder{deps: interceptor.Deps{
		Logger:     logger,
		Conditions: eval,
		OpenSink:   capture.Opener(logger),
		Listeners:  interceptor.NewListenerSet(),
	}}, nil
}

func (b *chainBuilder) build(cfg *config.Config) ([]interceptor.Interceptor, error) {
	chain, err := interceptor.BuildChain(chainSpecs(cfg.Interceptors), b.deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build interceptor chain: %w", err)
	}
	return chain, nil
}

// adapterSettings converts the adapters section for the installer, leaving
// out disabled adapters.
func adapterSettings(adapters map[string]config.AdapterConfig) map[string]service.AdapterSettings {
	out := make(map[string]service.AdapterSettings, len(adapters))
	for tag, a := range adapters {
		if !a.IsEnabled() {
			continue
		}
		out[tag] = service.AdapterSettings{Libs: a.Libs, Functions: a.Functions}
	}
	return out
}
