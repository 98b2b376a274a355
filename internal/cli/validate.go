package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool        `json:"valid"`
	Files []fileCheck `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Check scenario files without running a browser",
		Long: `Decode and validate scenario files. Paths may be files or directories;
without paths the configured scenario directory or the built-in fixtures are
checked. Every file is reported, not just the first broken one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), rootOpts, args)
		},
	}
	return cmd
}

func runValidate(w io.Writer, rootOpts *RootOptions, paths []string) error {
	checks, err := rootOpts.checkSources(paths)
	if err != nil {
		return usageError(err)
	}

	invalid := 0
	for _, c := range checks {
		if !c.ok() {
			invalid++
		}
	}

	if rootOpts.Format == "json" {
		if err := writeJSON(w, ValidationResult{Valid: invalid == 0 && len(checks) > 0, Files: checks}); err != nil {
			return err
		}
	} else {
		for _, c := range checks {
			if c.ok() {
				fmt.Fprintf(w, "ok      %s (%s)\n", c.Name, c.Source)
			} else {
				fmt.Fprintf(w, "invalid %s\n        %s\n", c.Source, c.Error)
			}
		}
		fmt.Fprintf(w, "%d valid, %d invalid\n", len(checks)-invalid, invalid)
	}

	if len(checks) == 0 {
		return usageError(fmt.Errorf("no scenario files found"))
	}
	if invalid > 0 {
		return usageError(fmt.Errorf("%d of %d scenario files are invalid", invalid, len(checks)))
	}
	return nil
}
