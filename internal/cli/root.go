// Package cli implements the crmscenarios command line.
package cli

import (
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/kuitang/crmscenarios/fixtures"
	"github.com/kuitang/crmscenarios/internal/config"
	"github.com/kuitang/crmscenarios/internal/driver"
	"github.com/kuitang/crmscenarios/internal/driver/pwdriver"
	"github.com/kuitang/crmscenarios/internal/scenario"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Dir     string // scenario directory; empty uses SCENARIO_DIR or the embedded fixtures

	deps Deps
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Deps are the collaborators commands use. Tests replace them.
type Deps struct {
	LoadConfig  func() (*config.Config, error)
	NewLauncher func(cfg *config.Config) driver.Launcher
	Lookup      scenario.LookupFunc
	Fixtures    fs.FS
}

// DefaultDeps wires the real environment, playwright and the embedded
// fixtures.
func DefaultDeps() Deps {
	return Deps{
		LoadConfig: config.LoadConfig,
		NewLauncher: func(cfg *config.Config) driver.Launcher {
			return &pwdriver.Launcher{DefaultTimeout: cfg.DefaultTimeout}
		},
		Lookup:   os.LookupEnv,
		Fixtures: fixtures.FS(),
	}
}

// NewRootCommand creates the root command.
func NewRootCommand(deps Deps) *cobra.Command {
	opts := &RootOptions{deps: deps}

	cmd := &cobra.Command{
		Use:   "crmscenarios",
		Short: "Run browser scenarios against the CRM",
		Long: `Replays scripted browser sessions (navigate, fill, click, scroll, wait)
against the CRM web application and checks that expected texts become visible.

Exit status is 0 when every scenario passed, 1 when any scenario failed and
2 for configuration or fixture errors.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return usageError(fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logs")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", "", "scenario directory (default: $SCENARIO_DIR, then built-in fixtures)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}
