package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/transitflow/transitflow/pkg/config"
	"github.com/transitflow/transitflow/pkg/normalize"
	"github.com/transitflow/transitflow/pkg/pipeline"
	"github.com/transitflow/transitflow/pkg/tui"
	"github.com/transitflow/transitflow/pkg/writer"
)

// Run flags
var (
	lineFlag        string
	thresholdFlag   time.Duration
	endpointsFlag   []string
	concurrencyFlag int
	timeoutFlag     time.Duration
	maxAttemptsFlag int
	quietFlag       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one collection pass",
	Long: `Resolve the configured stations, then fetch, normalize and store every
(station, endpoint) board.

Exit status: 0 when every pair was stored, 2 when some pairs failed,
1 when nothing was stored or the run could not start.

Examples:
  transitflow run
  transitflow run --backend local --local-root ./data
  transitflow run --line M10 --threshold 2m --endpoint departures`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&lineFlag, "line", "", "Target line label")
	runCmd.Flags().DurationVar(&thresholdFlag, "threshold", 0, "Punctuality threshold (inclusive)")
	runCmd.Flags().StringSliceVar(&endpointsFlag, "endpoint", nil, "Endpoints to collect (departures, arrivals)")
	runCmd.Flags().IntVar(&concurrencyFlag, "concurrency", 0, "Pairs processed in parallel")
	runCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Deadline for the whole run")
	runCmd.Flags().IntVar(&maxAttemptsFlag, "max-attempts", 0, "Total calls per fetch or write, including the first")
	runCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Do not print the run summary")
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("line") {
		cfg.Line.Name = lineFlag
	}
	if flags.Changed("threshold") {
		cfg.Line.PunctualityThreshold = thresholdFlag
	}
	if flags.Changed("endpoint") {
		cfg.Endpoints = endpointsFlag
	}
	if flags.Changed("concurrency") {
		cfg.Run.Concurrency = concurrencyFlag
	}
	if flags.Changed("timeout") {
		cfg.Run.Timeout = timeoutFlag
	}
	if flags.Changed("max-attempts") {
		cfg.Retry.MaxAttempts = maxAttemptsFlag
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	applyRunFlags(cmd, a.cfg)
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	client, err := a.client()
	if err != nil {
		return err
	}
	res, closeCache := a.resolver(ctx, client)
	defer closeCache()

	store, err := a.store(ctx)
	if err != nil {
		return err
	}

	pcfg, err := pipeline.ConfigFrom(a.cfg)
	if err != nil {
		return err
	}
	w := writer.NewBatchWriter(store, writer.Config{
		Prefix:      a.cfg.Storage.Prefix,
		Compression: writer.ParseCompression(a.cfg.Storage.Compression),
	}, a.logger)

	orch := pipeline.NewOrchestrator(pcfg, res, client, normalize.FromConfig(a.cfg.Line), w,
		pipeline.WithLogger(a.logger))

	result, runErr := orch.Run(ctx)
	if !quietFlag {
		tui.RenderRun(cmd.OutOrStdout(), result)
	}
	exitCode = result.Status.ExitCode()
	if runErr != nil {
		a.logger.Error("run aborted", "run_id", result.RunID, "error", runErr)
	}
	return nil
}
