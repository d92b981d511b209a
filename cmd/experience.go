package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/funnel-agent/internal/experience"
)

var experienceLimit int

var experienceCmd = &cobra.Command{
	Use:   "experience",
	Short: "Print recorded experience entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if experienceLimit < 0 {
			return eris.Errorf("--limit must be >= 0, got %d", experienceLimit)
		}
		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		store, err := experience.Open(cmd.Context(), cfg.Experience.Driver, cfg.Experience.Path, cfg.Experience.DatabaseURL)
		if err != nil {
			return eris.Wrap(err, "open experience store")
		}
		defer store.Close()

		entries := lastEntries(store.Entries(), experienceLimit)
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return eris.Wrap(err, "write entry")
			}
		}
		return nil
	},
}

func init() {
	experienceCmd.Flags().IntVar(&experienceLimit, "limit", 20, "most recent entries to print (0 for all)")
	rootCmd.AddCommand(experienceCmd)
}
