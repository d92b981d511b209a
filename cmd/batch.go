package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/funnel-agent/internal/model"
)

var (
	batchKind        string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch FILE...",
	Short: "Analyze many request files concurrently",
	Long:  "Each file holds a funnel (kind funnel_analysis) or a {\"step\", \"context\"} document (kind step_optimization). One JSON line is printed per file, in argument order.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		kind := model.RequestKind(batchKind)
		if !kind.Valid() {
			return eris.Errorf("unknown kind %q", batchKind)
		}
		if batchConcurrency > 0 {
			cfg.Batch.Concurrency = batchConcurrency
		}

		env, err := initAgent(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		items := loadBatch(args, kind)
		outcomes := runBatch(ctx, items, cfg.Batch.Concurrency, env.Orchestrator.Analyze)

		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, o := range outcomes {
			if err := enc.Encode(o); err != nil {
				return eris.Wrap(err, "write batch outcome")
			}
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchKind, "kind", string(model.KindFunnelAnalysis), "request kind: funnel_analysis or step_optimization")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "max concurrent analyses (default from config)")
	rootCmd.AddCommand(batchCmd)
}

// batchItem is one input file. Err is set when the file could not be read
// or parsed; such items are reported without being analyzed.
type batchItem struct {
	Source  string
	Request model.AnalysisRequest
	Err     error
}

// batchOutcome is the printed line for one input file.
type batchOutcome struct {
	Source string                `json:"source"`
	Result *model.AnalysisResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// analyzeFunc is the callback signature for analyzing one request.
type analyzeFunc func(ctx context.Context, req model.AnalysisRequest) (model.AnalysisResult, error)

func loadBatch(paths []string, kind model.RequestKind) []batchItem {
	items := make([]batchItem, 0, len(paths))
	for _, path := range paths {
		item := batchItem{Source: path}
		doc, err := readInput(path, nil)
		if err == nil {
			item.Request, err = buildRequest(kind, doc)
		}
		item.Err = err
		items = append(items, item)
	}
	return items
}

// runBatch analyzes items with at most concurrency in flight. A failing item
// never stops the others; outcomes keep the input order.
func runBatch(ctx context.Context, items []batchItem, concurrency int, analyze analyzeFunc) []batchOutcome {
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("items", len(items)),
		zap.Int("concurrency", concurrency),
	)

	outcomes := make([]batchOutcome, len(items))
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, item := range items {
		i, item := i, item
		outcomes[i].Source = item.Source
		if item.Err != nil {
			outcomes[i].Error = item.Err.Error()
			continue
		}
		g.Go(func() error {
			res, err := analyze(ctx, item.Request)
			if err != nil {
				zap.L().Warn("batch item rejected",
					zap.String("source", item.Source),
					zap.Error(err),
				)
				outcomes[i].Error = err.Error()
				return nil
			}
			outcomes[i].Result = &res
			return nil
		})
	}
	_ = g.Wait()

	var succeeded, degraded, failed int
	for _, o := range outcomes {
		switch {
		case o.Result == nil:
			failed++
		case o.Result.IsDegraded():
			degraded++
		default:
			succeeded++
		}
	}
	zap.L().Info("batch complete",
		zap.Int("succeeded", succeeded),
		zap.Int("degraded", degraded),
		zap.Int("failed", failed),
	)
	return outcomes
}
