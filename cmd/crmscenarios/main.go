// Command crmscenarios replays browser scenarios against the CRM web
// application and reports which expectations held.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kuitang/crmscenarios/internal/cli"
	"github.com/kuitang/crmscenarios/internal/obs"
)

func main() {
	obs.Init()

	// Interrupts cancel in-flight scenarios; the runner still closes every
	// browser it launched before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cli.NewRootCommand(cli.DefaultDeps()).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}
