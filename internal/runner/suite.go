package runner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kuitang/crmscenarios/internal/obs"
	"github.com/kuitang/crmscenarios/internal/report"
	"github.com/kuitang/crmscenarios/internal/scenario"
)

// RunSuite runs scenarios with at most parallelism runs in flight and returns
// their results in input order. A failing scenario never stops the others;
// canceling ctx fails the runs that have not finished. onResult, if set,
// sees each result as it completes; calls are serialized.
func RunSuite(ctx context.Context, r *Runner, scenarios []*scenario.Scenario, parallelism int, onResult func(report.Result)) []report.Result {
	if parallelism <= 0 {
		parallelism = 1
	}
	logger := obs.Pkg("runner")
	logger.Info("suite started", "scenarios", len(scenarios), "parallelism", parallelism)

	results := make([]report.Result, len(scenarios))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, sc := range scenarios {
		g.Go(func() error {
			res, _ := r.Run(ctx, sc)
			results[i] = res
			if onResult != nil {
				mu.Lock()
				onResult(res)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := report.Summarize(results)
	logger.Info("suite finished", "total", sum.Total, "passed", sum.Passed, "failed", sum.Failed)
	return results
}
