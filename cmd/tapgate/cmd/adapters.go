package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/tapgate/internal/config"
	"github.com/Sentinel-Gate/tapgate/internal/domain/adapter"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List the built-in API adapters",
	Long: `List every built-in adapter with its libraries and hookable functions,
marked enabled or disabled according to the adapters section of the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return printAdapters(cmd.OutOrStdout(), cfg.Adapters)
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}

// printAdapters writes the catalog in catalog order.
func printAdapters(w io.Writer, configured map[string]config.AdapterConfig) error {
	settings := adapterSettings(configured)
	for _, def := range adapter.Catalog {
		s, enabled := settings[def.Tag]
		libs := def.Libraries
		if len(s.Libs) > 0 {
			libs = s.Libs
		}
		match := "exact"
		if def.Match == adapter.MatchPattern {
			match = "pattern"
		}
		state := "enabled"
		if !enabled {
			state = "disabled"
		}
		if _, err := fmt.Fprintf(w, "%s [%s] %s: %s\n", def.Tag, state, match, strings.Join(libs, ", ")); err != nil {
			return err
		}
		for _, fn := range def.Functions {
			fnState := "on"
			if !enabled || !s.Enabled(fn.Name) {
				fnState = "off"
			}
			if _, err := fmt.Fprintf(w, "  %-28s %-14s %s\n", fn.Name, fn.Family, fnState); err != nil {
				return err
			}
		}
	}
	return nil
}
