package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/tapgate/internal/config"
	"github.com/Sentinel-Gate/tapgate/internal/domain/interceptor"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration tapgate would run with, after the config file,
TAPGATE_* environment variables and defaults are applied.

With --defaults, print the built-in defaults followed by the default settings
of every interceptor type, as a starting point for tapgate.yaml.`,
	RunE: runConfig,
}

var configDefaults bool

func init() {
	configCmd.Flags().BoolVar(&configDefaults, "defaults", false, "print built-in defaults instead of the loaded config")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	if configDefaults {
		return renderDefaults(cmd.OutOrStdout())
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return renderYAML(cmd.OutOrStdout(), cfg)
}

func renderYAML(w io.Writer, docs ...any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, d := range docs {
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return enc.Close()
}

// renderDefaults writes the default config, then one document listing the
// default settings of each interceptor type.
func renderDefaults(w io.Writer) error {
	types := interceptor.Types()
	examples := make([]config.InterceptorConfig, 0, len(types))
	for _, typ := range types {
		def, _ := interceptor.DefaultConfig(typ)
		raw, err := toMap(def)
		if err != nil {
			return fmt.Errorf("interceptor %s defaults: %w", typ, err)
		}
		examples = append(examples, config.InterceptorConfig{Type: typ, Config: raw})
	}
	return renderYAML(w, config.Default(), map[string]any{"interceptor_defaults": examples})
}

// toMap round-trips v through YAML so struct defaults print with their
// config keys.
func toMap(v any) (map[string]any, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
