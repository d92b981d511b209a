package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-agent/internal/model"
)

var (
	optimizeFile    string
	optimizeContext string
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Optimize a single funnel step",
	Long:  "Reads a funnel step as JSON from --file (or stdin), with optional funnel context from --context, and prints the optimization result.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		step, err := readInput(optimizeFile, cmd.InOrStdin())
		if err != nil {
			return err
		}

		var funnelContext json.RawMessage
		if optimizeContext != "" {
			funnelContext, err = readInput(optimizeContext, cmd.InOrStdin())
			if err != nil {
				return err
			}
		}

		env, err := initAgent(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.Analyze(ctx, model.NewAnalysisRequest(model.KindStepOptimization, step, funnelContext))
		if err != nil {
			return err
		}

		zap.L().Info("optimization complete",
			zap.String("request_id", res.RequestID),
			zap.String("status", string(res.Status)),
			zap.String("provider", res.ProviderUsed),
		)
		return writeResult(cmd.OutOrStdout(), res)
	},
}

func init() {
	optimizeCmd.Flags().StringVar(&optimizeFile, "file", "", "step JSON file (default stdin)")
	optimizeCmd.Flags().StringVar(&optimizeContext, "context", "", "funnel context JSON file")
	rootCmd.AddCommand(optimizeCmd)
}
