package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-agent/internal/model"
)

var analyzeFile string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a funnel definition",
	Long:  "Reads a funnel as JSON from --file (or stdin) and prints the analysis result.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		funnel, err := readInput(analyzeFile, cmd.InOrStdin())
		if err != nil {
			return err
		}

		env, err := initAgent(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.Analyze(ctx, model.NewAnalysisRequest(model.KindFunnelAnalysis, funnel, nil))
		if err != nil {
			return err
		}

		zap.L().Info("analysis complete",
			zap.String("request_id", res.RequestID),
			zap.String("status", string(res.Status)),
			zap.String("provider", res.ProviderUsed),
		)
		return writeResult(cmd.OutOrStdout(), res)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFile, "file", "", "funnel JSON file (default stdin)")
	rootCmd.AddCommand(analyzeCmd)
}
