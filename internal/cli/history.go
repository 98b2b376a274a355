package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/crmscenarios/internal/history"
	"github.com/kuitang/crmscenarios/internal/report"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	DB    string
	Limit int
	Stats bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{}
	cmd := &cobra.Command{
		Use:   "history [scenario]",
		Short: "Show recorded results",
		Long: `Show recent results from the history database, newest first, or with
--stats a per-scenario summary that flags scenarios which both passed and
failed.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runHistory(cmd, rootOpts, opts, name)
		},
	}
	cmd.Flags().StringVar(&opts.DB, "db", "", "history database (default: $HISTORY_DB)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "show per-scenario statistics")
	return cmd
}

func runHistory(cmd *cobra.Command, rootOpts *RootOptions, opts *HistoryOptions, name string) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	path, keyHex := opts.DB, ""
	if cfg, err := rootOpts.deps.LoadConfig(); err == nil {
		if path == "" {
			path = cfg.HistoryDB
		}
		keyHex = cfg.HistoryKey
	} else if path == "" {
		return usageError(err)
	}
	if path == "" {
		return usageError(fmt.Errorf("no history database: set HISTORY_DB or pass --db"))
	}
	key, err := history.ParseKey(keyHex)
	if err != nil {
		return usageError(err)
	}

	store, err := history.Open(path, key)
	if err != nil {
		return usageError(err)
	}
	defer store.Close()

	if opts.Stats {
		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		if rootOpts.Format == "json" {
			return writeJSON(w, stats)
		}
		return writeStats(w, stats)
	}

	results, err := store.Recent(ctx, name, opts.Limit)
	if err != nil {
		return err
	}
	if rootOpts.Format == "json" {
		return writeJSON(w, results)
	}
	return writeRecent(w, results)
}

func writeRecent(w io.Writer, results []report.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tSCENARIO\tDURATION\tFAILURE\tRUN")
	for _, r := range results {
		failure := ""
		if f := r.Failure; f != nil {
			failure = fmt.Sprintf("%s %d [%s]", f.Phase, f.Index, f.Code)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.UTC().Format(time.RFC3339),
			strings.ToUpper(string(r.Status)),
			r.Scenario,
			r.Duration.Round(time.Millisecond),
			failure,
			r.RunID,
		)
	}
	return tw.Flush()
}

func writeStats(w io.Writer, stats []history.ScenarioStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tRUNS\tPASSED\tFAILED\tLAST\tFLAKY")
	for _, st := range stats {
		flaky := ""
		if st.Flaky {
			flaky = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n", st.Scenario, st.Runs, st.Passed, st.Failed, st.LastStatus, flaky)
	}
	return tw.Flush()
}
