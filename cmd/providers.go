package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/funnel-agent/internal/registry"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers with masked credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		regCfg, err := cfg.Registry()
		if err != nil {
			return err
		}
		reg, err := registry.New(regCfg)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(map[string]any{
			"fallback_enabled": regCfg.FallbackEnabled,
			"providers":        reg.Describe(),
		}), "write providers")
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
