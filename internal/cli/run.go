package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/crmscenarios/internal/artifacts"
	"github.com/kuitang/crmscenarios/internal/config"
	"github.com/kuitang/crmscenarios/internal/history"
	"github.com/kuitang/crmscenarios/internal/obs"
	"github.com/kuitang/crmscenarios/internal/report"
	"github.com/kuitang/crmscenarios/internal/runner"
	"github.com/kuitang/crmscenarios/internal/scenario"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	Tags        []string
	Parallel    int
	Browser     string
	Headed      bool
	BaseURL     string
	Timeout     time.Duration
	NoHistory   bool
	NoArtifacts bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run [name-pattern...]",
		Short: "Run scenarios against the CRM",
		Long: `Run every selected scenario in its own browser and print a report.

Scenarios are selected by glob patterns on their names and by --tag.
Without patterns or tags every scenario runs.`,
		Example: `  crmscenarios run
  crmscenarios run 'TC00*' --tag smoke --parallel 2
  crmscenarios run TC001_login --headed --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, rootOpts, opts, args)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Tags, "tag", "t", nil, "only run scenarios with any of these tags")
	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 0, "scenarios to run at once (default: $PARALLELISM)")
	cmd.Flags().StringVar(&opts.Browser, "browser", "", "chromium, firefox or webkit (default: $BROWSER)")
	cmd.Flags().BoolVar(&opts.Headed, "headed", false, "show the browser window")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "CRM base URL (default: $BASE_URL)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "default per-action timeout (default: $DEFAULT_TIMEOUT)")
	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "do not record results in $HISTORY_DB")
	cmd.Flags().BoolVar(&opts.NoArtifacts, "no-artifacts", false, "do not upload failure artifacts")

	return cmd
}

func (o *RunOptions) apply(cfg *config.Config) {
	if o.Parallel > 0 {
		cfg.Parallelism = o.Parallel
	}
	if o.Browser != "" {
		cfg.Browser = o.Browser
	}
	if o.Headed {
		cfg.Headless = false
	}
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.Timeout > 0 {
		cfg.DefaultTimeout = o.Timeout
	}
	if o.NoHistory {
		cfg.HistoryDB = ""
	}
	if o.NoArtifacts {
		cfg.ArtifactsBucket = ""
	}
}

func runScenarios(cmd *cobra.Command, rootOpts *RootOptions, opts *RunOptions, patterns []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	cfg, err := rootOpts.deps.LoadConfig()
	if err != nil {
		return usageError(err)
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}

	obs.SetLevel(obs.ParseLevel(cfg.LogLevel))
	if rootOpts.Verbose {
		obs.SetLevel(slog.LevelDebug)
		cfg.PrintSummary()
	}
	logger := obs.Pkg("cli")

	all, err := rootOpts.loadScenarios()
	if err != nil {
		return usageError(err)
	}
	selected, err := scenario.Filter(all, opts.Tags, patterns)
	if err != nil {
		return usageError(err)
	}
	if len(selected) == 0 {
		return usageError(fmt.Errorf("no scenarios match %v (tags %v) among %d loaded", patterns, opts.Tags, len(all)))
	}

	var runOpts []runner.Option
	if cfg.ArtifactsBucket != "" {
		store, err := artifacts.New(ctx, cfg.ArtifactsConfig())
		if err != nil {
			return usageError(fmt.Errorf("configure artifacts: %w", err))
		}
		runOpts = append(runOpts, runner.WithArtifacts(store))
	}

	var hist *history.Store
	if cfg.HistoryDB != "" {
		key, err := history.ParseKey(cfg.HistoryKey)
		if err != nil {
			return usageError(err)
		}
		hist, err = history.Open(cfg.HistoryDB, key)
		if err != nil {
			return usageError(err)
		}
		defer hist.Close()
	}

	r := runner.New(rootOpts.deps.NewLauncher(cfg), cfg.RunnerConfig(), runOpts...)
	var progress func(report.Result)
	if rootOpts.Verbose {
		progress = func(res report.Result) { writeProgress(errOut, res) }
	}
	results := runner.RunSuite(ctx, r, selected, cfg.Parallelism, progress)

	if hist != nil {
		// An interrupted suite still records the runs it has.
		if err := hist.RecordAll(context.WithoutCancel(ctx), results); err != nil {
			logger.Error("failed to record history", "error", err)
		}
	}

	switch rootOpts.Format {
	case "json":
		err = report.WriteJSON(out, results)
	default:
		err = report.WriteText(out, results)
	}
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	sum := report.Summarize(results)
	if sum.Failed > 0 {
		return failedError(fmt.Errorf("%d of %d scenarios failed", sum.Failed, sum.Total))
	}
	return nil
}

func writeProgress(w io.Writer, res report.Result) {
	status := "PASS"
	if !res.Passed() {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s (%s)\n", status, res.Scenario, res.Duration.Round(time.Millisecond))
}
