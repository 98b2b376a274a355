// Package pwdriver implements the driver interfaces on top of playwright-go.
// Playwright calls are synchronous and bounded by millisecond timeouts, so
// each call converts the remaining context deadline into a timeout option.
package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/crmscenarios/internal/driver"
)

// Launcher starts playwright and a browser per Launch call.
type Launcher struct {
	// RunOptions is passed to playwright.Run. Nil uses playwright defaults.
	RunOptions *playwright.RunOptions
	// DefaultTimeout applies to playwright calls made without a deadline.
	DefaultTimeout time.Duration
}

var _ driver.Launcher = (*Launcher)(nil)

// Launch starts the playwright driver and launches the requested browser.
// A failed launch stops the driver before returning.
func (l *Launcher) Launch(ctx context.Context, opts driver.LaunchOptions) (driver.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var runOpts []*playwright.RunOptions
	if l.RunOptions != nil {
		runOpts = append(runOpts, l.RunOptions)
	}
	pw, err := playwright.Run(runOpts...)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	var bt playwright.BrowserType
	switch opts.Browser {
	case "", "chromium":
		bt = pw.Chromium
	case "firefox":
		bt = pw.Firefox
	case "webkit":
		bt = pw.WebKit
	default:
		_ = pw.Stop()
		return nil, fmt.Errorf("unknown browser %q", opts.Browser)
	}

	b, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch %s: %w", bt.Name(), err)
	}
	return &browser{pw: pw, browser: b, defaultTimeout: l.DefaultTimeout}, nil
}

type browser struct {
	pw             *playwright.Playwright
	browser        playwright.Browser
	defaultTimeout time.Duration
}

func (b *browser) NewContext(ctx context.Context) (driver.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bc, err := b.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	if b.defaultTimeout > 0 {
		ms := float64(b.defaultTimeout.Milliseconds())
		bc.SetDefaultTimeout(ms)
		bc.SetDefaultNavigationTimeout(ms)
	}
	return &browserContext{bc: bc}, nil
}

// Close closes the browser process, then stops the playwright driver.
func (b *browser) Close() error {
	closeErr := b.browser.Close()
	stopErr := b.pw.Stop()
	if closeErr != nil {
		closeErr = fmt.Errorf("close browser: %w", closeErr)
	}
	if stopErr != nil {
		stopErr = fmt.Errorf("stop playwright: %w", stopErr)
	}
	return errors.Join(closeErr, stopErr)
}

type browserContext struct {
	bc playwright.BrowserContext
}

func (c *browserContext) NewPage(ctx context.Context) (driver.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.bc.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	return &page{p: p}, nil
}

func (c *browserContext) Pages() []driver.Page {
	pages := c.bc.Pages()
	out := make([]driver.Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, &page{p: p})
	}
	return out
}

func (c *browserContext) Close() error {
	if err := c.bc.Close(); err != nil {
		return fmt.Errorf("close browser context: %w", err)
	}
	return nil
}

type page struct {
	p playwright.Page
}

func (p *page) Goto(ctx context.Context, url string, waitUntil string) error {
	timeout, err := timeoutMS(ctx)
	if err != nil {
		return err
	}
	_, err = p.p.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntilState(waitUntil),
		Timeout:   timeout,
	})
	return mapError(err)
}

func (p *page) WaitForLoadState(ctx context.Context, state string) error {
	timeout, err := timeoutMS(ctx)
	if err != nil {
		return err
	}
	return mapError(p.p.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   loadState(state),
		Timeout: timeout,
	}))
}

func (p *page) Frames() []driver.Frame {
	main := p.p.MainFrame()
	frames := p.p.Frames()
	out := make([]driver.Frame, 0, len(frames))
	for _, f := range frames {
		if f == main {
			continue
		}
		out = append(out, &frame{f: f})
	}
	return out
}

func (p *page) Locate(ctx context.Context, selector string, nth int) (driver.Element, error) {
	timeout, err := timeoutMS(ctx)
	if err != nil {
		return nil, err
	}

	loc := p.p.Locator(selector)
	target := loc.First()
	if nth >= 0 {
		target = loc.Nth(nth)
	}
	err = target.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: timeout,
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", driver.ErrNotFound, selector)
		}
		return nil, mapError(err)
	}
	if nth >= 0 {
		return &element{loc: target}, nil
	}

	count, err := loc.Count()
	if err != nil {
		return nil, mapError(err)
	}
	if count > 1 {
		return nil, fmt.Errorf("%w: %s matched %d elements", driver.ErrAmbiguous, selector, count)
	}
	return &element{loc: loc}, nil
}

func (p *page) Scroll(ctx context.Context, dx, dy float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(p.p.Mouse().Wheel(dx, dy))
}

func (p *page) ViewportHeight(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if size := p.p.ViewportSize(); size != nil && size.Height > 0 {
		return float64(size.Height), nil
	}
	v, err := p.p.Evaluate("() => window.innerHeight")
	if err != nil {
		return 0, mapError(err)
	}
	switch h := v.(type) {
	case int:
		return float64(h), nil
	case int64:
		return float64(h), nil
	case float64:
		return h, nil
	default:
		return 0, fmt.Errorf("unexpected innerHeight type %T", v)
	}
}

func (p *page) WaitForText(ctx context.Context, text string) error {
	timeout, err := timeoutMS(ctx)
	if err != nil {
		return err
	}
	return mapError(p.p.GetByText(text).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: timeout,
	}))
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	timeout, err := timeoutMS(ctx)
	if err != nil {
		return nil, err
	}
	data, err := p.p.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Timeout:  timeout,
	})
	return data, mapError(err)
}

func (p *page) URL() string {
	return p.p.URL()
}

type frame struct {
	f playwright.Frame
}

func (f *frame) Name() string {
	return f.f.Name()
}

func (f *frame) WaitForLoadState(ctx context.Context, state string) error {
	timeout, err := timeoutMS(ctx)
	if err != nil {
		return err
	}
	return mapError(f.f.WaitForLoadState(playwright.FrameWaitForLoadStateOptions{
		State:   loadState(state),
		Timeout: timeout,
	}))
}

type element struct {
	loc playwright.Locator
}

func (e *element) Fill(ctx context.Context, value string) error {
	timeout, err := timeoutMS(ctx)
	if err != nil {
		return err
	}
	return mapError(e.loc.Fill(value, playwright.LocatorFillOptions{Timeout: timeout}))
}

func (e *element) Click(ctx context.Context) error {
	timeout, err := timeoutMS(ctx)
	if err != nil {
		return err
	}
	return mapError(e.loc.Click(playwright.LocatorClickOptions{Timeout: timeout}))
}

// timeoutMS converts the context deadline into a playwright timeout.
// A nil result means playwright's configured default applies.
func timeoutMS(ctx context.Context) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil, nil
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, context.DeadlineExceeded
	}
	ms := math.Max(1, float64(remaining.Milliseconds()))
	return playwright.Float(ms), nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %w", driver.ErrTimeout, err)
	}
	return err
}

func waitUntilState(s string) *playwright.WaitUntilState {
	switch s {
	case "commit":
		return playwright.WaitUntilStateCommit
	case "domcontentloaded":
		return playwright.WaitUntilStateDomcontentloaded
	case "networkidle":
		return playwright.WaitUntilStateNetworkidle
	default:
		return playwright.WaitUntilStateLoad
	}
}

func loadState(s string) *playwright.LoadState {
	switch s {
	case "load":
		return playwright.LoadStateLoad
	case "networkidle":
		return playwright.LoadStateNetworkidle
	default:
		return playwright.LoadStateDomcontentloaded
	}
}
