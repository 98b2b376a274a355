package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kuitang/crmscenarios/internal/scenario"
)

// ListEntry describes one scenario for the list command.
type ListEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Steps       int      `json:"steps"`
	Assertions  int      `json:"assertions"`
	Source      string   `json:"source"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:           "list [name-pattern...]",
		Short:         "List available scenarios",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.OutOrStdout(), rootOpts, tags, args)
		},
	}
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "only list scenarios with any of these tags")
	return cmd
}

func runList(w io.Writer, rootOpts *RootOptions, tags, patterns []string) error {
	all, err := rootOpts.loadScenarios()
	if err != nil {
		return usageError(err)
	}
	selected, err := scenario.Filter(all, tags, patterns)
	if err != nil {
		return usageError(err)
	}

	entries := make([]ListEntry, 0, len(selected))
	for _, sc := range selected {
		entries = append(entries, ListEntry{
			Name:        sc.Name,
			Description: sc.Description,
			Tags:        sc.Tags,
			Steps:       len(sc.Steps),
			Assertions:  len(sc.Assertions),
			Source:      sc.Source,
		})
	}

	if rootOpts.Format == "json" {
		return writeJSON(w, entries)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTEPS\tASSERTIONS\tTAGS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", e.Name, e.Steps, e.Assertions, strings.Join(e.Tags, ","))
	}
	return tw.Flush()
}
