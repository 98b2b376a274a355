// Package runner executes scenarios against a browser: it acquires a browser,
// an isolated context and a page, replays the steps in order, evaluates the
// visibility assertions and releases everything it acquired on every exit
// path.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/crmscenarios/internal/driver"
	"github.com/kuitang/crmscenarios/internal/errs"
	"github.com/kuitang/crmscenarios/internal/logutil"
	"github.com/kuitang/crmscenarios/internal/obs"
	"github.com/kuitang/crmscenarios/internal/pace"
	"github.com/kuitang/crmscenarios/internal/report"
	"github.com/kuitang/crmscenarios/internal/scenario"
)

// Config controls browser launch and timing.
type Config struct {
	Launch  driver.LaunchOptions
	BaseURL string

	DefaultTimeout    time.Duration // Ceiling for element actions and assertions without their own timeout
	NavigationTimeout time.Duration // Ceiling for navigations, including the initial one
	SubframeWait      time.Duration // Best-effort wait for the page and its frames after the initial navigation
	LaunchTimeout     time.Duration // Ceiling for launching the browser and opening the context and page
	TeardownTimeout   time.Duration // Ceiling for closing the context and browser
	// Grace is how long the runner waits past a deadline for the driver to
	// report its own error before declaring a timeout.
	Grace time.Duration

	Pace                pace.Config
	ScreenshotOnFailure bool
}

// DefaultConfig holds the timings the CRM fixtures were written against.
var DefaultConfig = Config{
	Launch: driver.LaunchOptions{
		Browser:  "chromium",
		Headless: true,
		Args: []string{
			"--window-size=1280,720",
			"--disable-dev-shm-usage",
			"--ipc=host",
			"--single-process",
		},
	},
	BaseURL:             "http://localhost:3000",
	DefaultTimeout:      5 * time.Second,
	NavigationTimeout:   10 * time.Second,
	SubframeWait:        3 * time.Second,
	LaunchTimeout:       30 * time.Second,
	TeardownTimeout:     10 * time.Second,
	Grace:               50 * time.Millisecond,
	Pace:                pace.DefaultConfig,
	ScreenshotOnFailure: true,
}

// ArtifactSink stores evidence of a failed run and returns where it went.
type ArtifactSink interface {
	SaveFailure(ctx context.Context, res report.Result, screenshot []byte) ([]string, error)
}

// Runner executes scenarios. It holds no state across runs and is safe for
// concurrent use; each Run owns its own browser.
type Runner struct {
	launcher  driver.Launcher
	cfg       Config
	artifacts ArtifactSink
	now       func() time.Time
	newRunID  func() string
}

// Option customizes a Runner.
type Option func(*Runner)

// WithArtifacts stores failure screenshots and results through sink.
func WithArtifacts(sink ArtifactSink) Option {
	return func(r *Runner) { r.artifacts = sink }
}

// WithClock overrides the time source used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithRunIDs overrides run ID generation.
func WithRunIDs(next func() string) Option {
	return func(r *Runner) { r.newRunID = next }
}

// New creates a runner. Zero durations in cfg fall back to DefaultConfig.
func New(launcher driver.Launcher, cfg Config, opts ...Option) *Runner {
	cfg = withDefaults(cfg)
	r := &Runner{
		launcher: launcher,
		cfg:      cfg,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = d.DefaultTimeout
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = d.NavigationTimeout
	}
	if cfg.SubframeWait <= 0 {
		cfg.SubframeWait = d.SubframeWait
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = d.LaunchTimeout
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = d.TeardownTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = d.Grace
	}
	return cfg
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Failure is the error returned for a failed run. It names the phase and
// index of the failing step or assertion and wraps a coded error.
type Failure struct {
	Scenario    string
	Phase       report.Phase
	Index       int
	Description string
	Err         error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("scenario %s: %s %d (%s): %v", f.Scenario, f.Phase, f.Index, f.Description, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Code returns the failure kind.
func (f *Failure) Code() errs.Code {
	return errs.CodeOf(f.Err)
}

// session tracks what a run acquired so teardown releases exactly that.
// Acquisition may still be in flight when teardown starts; anything adopted
// after close is released by the acquirer.
type session struct {
	mu      sync.Mutex
	browser driver.Browser
	bctx    driver.Context
	page    driver.Page
	closed  bool
}

func (s *session) adoptBrowser(b driver.Browser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.browser = b
	return true
}

func (s *session) adoptContext(c driver.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.bctx = c
	return true
}

func (s *session) adoptPage(p driver.Page) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.page = p
	return true
}

func (s *session) mainPage() driver.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// activePage is the most recently opened page, so a link that opened a new
// tab moves later actions there.
func (s *session) activePage() driver.Page {
	s.mu.Lock()
	bctx, page := s.bctx, s.page
	s.mu.Unlock()
	if bctx != nil {
		if pages := bctx.Pages(); len(pages) > 0 {
			return pages[len(pages)-1]
		}
	}
	return page
}

// close releases the context and then the browser (which also ends the
// automation session). It runs at most once.
func (s *session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	bctx, browser := s.bctx, s.browser
	s.mu.Unlock()

	var closeErrs []error
	if bctx != nil {
		if err := bctx.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("close context: %w", err))
		}
	}
	if browser != nil {
		if err := browser.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("close browser: %w", err))
		}
	}
	return errors.Join(closeErrs...)
}

// Run executes sc once. The returned error is nil exactly when the scenario
// passed; otherwise it is a *Failure. The result is filled in either way.
func (r *Runner) Run(ctx context.Context, sc *scenario.Scenario) (report.Result, error) {
	runID := r.newRunID()
	ctx = obs.WithCorrelation(ctx, obs.Correlation{
		RunID:    runID,
		Scenario: sc.Name,
		Browser:  r.cfg.Launch.Browser,
	})
	logger := obs.From(ctx)

	started := r.now()
	res := report.Result{
		RunID:     runID,
		Scenario:  sc.Name,
		Source:    sc.Source,
		StartedAt: started.UTC(),
	}

	sess := &session{}
	defer sess.close()

	logger.Info("scenario started", "steps", len(sc.Steps), "assertions", len(sc.Assertions))
	runErr := r.execute(ctx, sc, sess, &res)

	var screenshot []byte
	if runErr != nil && r.cfg.ScreenshotOnFailure && sess.mainPage() != nil {
		screenshot = r.captureScreenshot(ctx, sess)
	}

	if err := r.teardown(sess); err != nil {
		res.TeardownError = err.Error()
		logger.Error("teardown failed", "error", err)
	}

	res.Duration = r.now().Sub(started)
	if runErr != nil {
		res.Status = report.StatusFailed
		res.Failure = failureInfo(runErr)
		logger.Warn("scenario failed",
			"phase", res.Failure.Phase,
			"index", res.Failure.Index,
			"code", res.Failure.Code,
			"error", runErr,
			"duration_ms", res.Duration.Milliseconds(),
		)
		if r.artifacts != nil {
			urls, err := r.artifacts.SaveFailure(context.WithoutCancel(ctx), res, screenshot)
			if err != nil {
				logger.Error("artifact upload failed", "error", err)
			}
			res.Artifacts = append(res.Artifacts, urls...)
		}
		return res, runErr
	}

	res.Status = report.StatusPassed
	logger.Info("scenario passed", "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (r *Runner) execute(ctx context.Context, sc *scenario.Scenario, sess *session, res *report.Result) error {
	if err := sc.Validate(); err != nil {
		return &Failure{Scenario: sc.Name, Phase: report.PhaseSetup, Description: "validate scenario", Err: err}
	}

	if err := r.acquire(ctx, sess); err != nil {
		return &Failure{Scenario: sc.Name, Phase: report.PhaseSetup, Description: "launch " + r.cfg.Launch.Browser, Err: err}
	}

	if err := r.prologue(ctx, sc, sess); err != nil {
		return &Failure{Scenario: sc.Name, Phase: report.PhasePrologue, Description: "navigate " + sc.InitialURL, Err: err}
	}

	pacer := pace.New(r.cfg.Pace)
	for i, step := range sc.Steps {
		if err := r.runStep(ctx, sess, pacer, i, step); err != nil {
			return &Failure{Scenario: sc.Name, Phase: report.PhaseStep, Index: i, Description: step.Describe(), Err: err}
		}
		res.StepsRun++
	}

	for i, exp := range sc.Assertions {
		res.AssertionsChecked++
		if err := r.checkExpectation(ctx, sess, i, exp); err != nil {
			return &Failure{Scenario: sc.Name, Phase: report.PhaseAssertion, Index: i, Description: exp.Describe(), Err: err}
		}
	}
	return nil
}

func (r *Runner) acquire(ctx context.Context, sess *session) error {
	err := withDeadline(ctx, r.cfg.LaunchTimeout, r.cfg.Grace, func(ctx context.Context) error {
		b, err := r.launcher.Launch(ctx, r.cfg.Launch)
		if err != nil {
			return err
		}
		if !sess.adoptBrowser(b) {
			_ = b.Close()
			return context.DeadlineExceeded
		}

		bctx, err := b.NewContext(ctx)
		if err != nil {
			return err
		}
		if !sess.adoptContext(bctx) {
			_ = bctx.Close()
			return context.DeadlineExceeded
		}

		page, err := bctx.NewPage(ctx)
		if err != nil {
			return err
		}
		if !sess.adoptPage(page) {
			return context.DeadlineExceeded
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errs.Wrap(errs.Canceled, "launch canceled", err)
		}
		return errs.Wrap(errs.Launch, "acquire browser, context and page", err)
	}
	return nil
}

// prologue opens the entry URL waiting only for commit, then gives the page
// and each sub-frame a bounded chance to reach DOMContentLoaded.
func (r *Runner) prologue(ctx context.Context, sc *scenario.Scenario, sess *session) error {
	target := r.resolve(sc.InitialURL)
	page := sess.mainPage()
	err := withDeadline(ctx, r.cfg.NavigationTimeout, r.cfg.Grace, func(ctx context.Context) error {
		return page.Goto(ctx, target, scenario.StateCommit)
	})
	if err != nil {
		return errs.Wrap(classify(scenario.KindNavigate, err), "open "+target, err)
	}

	r.bestEffort(ctx, r.cfg.SubframeWait, "page domcontentloaded", func(ctx context.Context) error {
		return page.WaitForLoadState(ctx, scenario.StateDOMContentLoaded)
	})
	for _, f := range page.Frames() {
		r.bestEffort(ctx, r.cfg.SubframeWait, "frame "+f.Name()+" domcontentloaded", func(ctx context.Context) error {
			return f.WaitForLoadState(ctx, scenario.StateDOMContentLoaded)
		})
	}
	return nil
}

func (r *Runner) stepTimeout(step scenario.Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	switch step.Kind() {
	case scenario.KindNavigate:
		return r.cfg.NavigationTimeout
	case scenario.KindWait:
		if step.Wait.Duration > 0 {
			return step.Wait.Duration + r.cfg.DefaultTimeout
		}
	}
	return r.cfg.DefaultTimeout
}

func (r *Runner) runStep(ctx context.Context, sess *session, pacer *pace.Pacer, i int, step scenario.Step) error {
	kind := step.Kind()
	logger := obs.From(ctx)

	if kind == scenario.KindFill || kind == scenario.KindClick {
		if err := pacer.Wait(ctx); err != nil {
			return errs.Wrap(classify(kind, err), "pacing before "+step.Describe(), err)
		}
	}

	timeout := r.stepTimeout(step)
	attrs := []any{"index", i, "action", step.Describe(), "timeout_ms", timeout.Milliseconds()}
	if step.Note != "" {
		attrs = append(attrs, "note", step.Note)
	}
	if kind == scenario.KindFill {
		attrs = append(attrs, "value", logutil.RedactFillValue(step.Fill.Value, step.Note, step.Fill.Locator))
	}
	logger.Debug("step", attrs...)

	start := time.Now()
	err := withDeadline(ctx, timeout, r.cfg.Grace, func(ctx context.Context) error {
		return r.perform(ctx, sess.activePage(), step)
	})
	if err != nil {
		code := classify(kind, err)
		return errs.Wrap(code, stepMessage(code, step, timeout), err)
	}
	logger.Debug("step done", "index", i, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (r *Runner) perform(ctx context.Context, page driver.Page, step scenario.Step) error {
	switch step.Kind() {
	case scenario.KindNavigate:
		waitUntil := step.Navigate.WaitUntil
		if waitUntil == "" {
			waitUntil = scenario.StateLoad
		}
		return page.Goto(ctx, r.resolve(step.Navigate.URL), waitUntil)
	case scenario.KindWait:
		if step.Wait.State != "" {
			return page.WaitForLoadState(ctx, step.Wait.State)
		}
		return sleep(ctx, step.Wait.Duration)
	case scenario.KindFill:
		el, err := page.Locate(ctx, step.Fill.Locator, nth(step.Fill.Target))
		if err != nil {
			return err
		}
		return el.Fill(ctx, step.Fill.Value)
	case scenario.KindClick:
		el, err := page.Locate(ctx, step.Click.Locator, nth(step.Click.Target))
		if err != nil {
			return err
		}
		return el.Click(ctx)
	case scenario.KindScroll:
		dy := step.Scroll.DY
		if step.Scroll.Viewport {
			h, err := page.ViewportHeight(ctx)
			if err != nil {
				return err
			}
			dy *= h
		}
		return page.Scroll(ctx, step.Scroll.DX, dy)
	default:
		return errs.New(errs.InvalidScenario, "step has no single action")
	}
}

func (r *Runner) checkExpectation(ctx context.Context, sess *session, i int, exp scenario.Expectation) error {
	timeout := exp.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	obs.From(ctx).Debug("assertion", "index", i, "text", exp.Text, "timeout_ms", timeout.Milliseconds())

	err := withDeadline(ctx, timeout, r.cfg.Grace, func(ctx context.Context) error {
		return sess.activePage().WaitForText(ctx, exp.Text)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.Canceled, "assertion canceled", err)
	}
	msg := exp.Message
	if msg == "" {
		msg = fmt.Sprintf("expected text %q to be visible within %s", exp.Text, timeout)
	} else {
		msg = fmt.Sprintf("%s (expected text %q)", msg, exp.Text)
	}
	return errs.Wrap(errs.AssertionFailure, msg, err)
}

func (r *Runner) captureScreenshot(ctx context.Context, sess *session) []byte {
	var shot []byte
	r.bestEffort(context.WithoutCancel(ctx), r.cfg.DefaultTimeout, "failure screenshot", func(ctx context.Context) error {
		data, err := sess.activePage().Screenshot(ctx)
		if err != nil {
			return err
		}
		shot = data
		return nil
	})
	return shot
}

func (r *Runner) teardown(sess *session) error {
	done := make(chan error, 1)
	go func() { done <- sess.close() }()

	timer := time.NewTimer(r.cfg.TeardownTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return errs.Wrap(errs.Teardown, "release browser resources", err)
		}
		return nil
	case <-timer.C:
		return errs.New(errs.Teardown, fmt.Sprintf("release browser resources exceeded %s", r.cfg.TeardownTimeout))
	}
}

// resolve makes relative URLs absolute against the base URL.
func (r *Runner) resolve(raw string) string {
	if r.cfg.BaseURL == "" {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return raw
	}
	base, err := url.Parse(r.cfg.BaseURL)
	if err != nil {
		return raw
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(ref).String()
}

func nth(t scenario.Target) int {
	if t.Nth == nil {
		return -1
	}
	return *t.Nth
}

func classify(kind scenario.Kind, err error) errs.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return errs.Canceled
	case errors.Is(err, driver.ErrNotFound), errors.Is(err, driver.ErrAmbiguous):
		return errs.LocatorNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, driver.ErrTimeout):
		return errs.StepTimeout
	case kind == scenario.KindNavigate:
		return errs.Navigation
	default:
		var coded *errs.Error
		if errors.As(err, &coded) && coded.Code != "" {
			return coded.Code
		}
		return errs.Action
	}
}

func stepMessage(code errs.Code, step scenario.Step, timeout time.Duration) string {
	switch code {
	case errs.StepTimeout:
		return fmt.Sprintf("%s exceeded %s", step.Describe(), timeout)
	case errs.LocatorNotFound:
		return fmt.Sprintf("%s: locator did not resolve to exactly one element", step.Describe())
	case errs.Navigation:
		return fmt.Sprintf("%s did not commit", step.Describe())
	case errs.Canceled:
		return fmt.Sprintf("%s canceled", step.Describe())
	default:
		return fmt.Sprintf("%s failed", step.Describe())
	}
}

func failureInfo(err error) *report.Failure {
	info := &report.Failure{
		Code:    errs.CodeOf(err),
		Message: err.Error(),
	}
	var f *Failure
	if errors.As(err, &f) {
		info.Phase = f.Phase
		info.Index = f.Index
		info.Description = f.Description
		info.Code = f.Code()
		info.Message = f.Err.Error()
	}
	return info
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
