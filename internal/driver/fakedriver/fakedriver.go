// Package fakedriver is an in-memory driver.Launcher that records every call
// in order and lets tests script visibility, failures and hangs.
package fakedriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/kuitang/crmscenarios/internal/driver"
)

// Fake is a scriptable browser. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	calls        []string
	textChecks   map[string]int
	visible      map[string]bool
	values       map[string]string
	launches     int
	browserClose int
	contextClose int
	pageOpens    int
	released     chan struct{}
	releaseOnce  sync.Once
	lastContext  *browserContext
	fillPage     map[string]int

	// Missing locators resolve to no element.
	Missing map[string]bool
	// Ambiguous locators resolve to the given number of matches.
	Ambiguous map[string]int
	// Hang makes calls touching the locator (or URL, or "text:"+text) block
	// until the call's context is done.
	Hang map[string]bool
	// HangForever blocks like Hang but ignores the context; only Release or
	// closing the browser unblocks it.
	HangForever map[string]bool
	// Fail makes calls touching the key return the error.
	Fail map[string]error
	// OnClick runs after a click on the locator succeeds.
	OnClick map[string]func(f *Fake)
	// Frames names the sub-frames every page reports.
	Frames []string
	// ViewportHeight is reported by pages; zero means 720.
	ViewportHeight float64

	LaunchErr       error
	BrowserCloseErr error
	ContextCloseErr error
	ScreenshotData  []byte
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		textChecks:  make(map[string]int),
		visible:     make(map[string]bool),
		values:      make(map[string]string),
		fillPage:    make(map[string]int),
		released:    make(chan struct{}),
		Missing:     make(map[string]bool),
		Ambiguous:   make(map[string]int),
		Hang:        make(map[string]bool),
		HangForever: make(map[string]bool),
		Fail:        make(map[string]error),
		OnClick:     make(map[string]func(f *Fake)),
	}
}

var _ driver.Launcher = (*Fake)(nil)

// Show makes text visible on every page.
func (f *Fake) Show(texts ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range texts {
		f.visible[t] = true
	}
}

// Hide removes text from every page.
func (f *Fake) Hide(texts ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range texts {
		delete(f.visible, t)
	}
}

// Release unblocks every HangForever call.
func (f *Fake) Release() {
	f.releaseOnce.Do(func() { close(f.released) })
}

// Calls returns the recorded call markers in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// TextChecks returns how often WaitForText was called for text.
func (f *Fake) TextChecks(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textChecks[text]
}

// Value returns the last value filled into locator.
func (f *Fake) Value(locator string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[locator]
}

// FilledOnPage returns the 1-based index of the page locator was last
// filled on, or 0.
func (f *Fake) FilledOnPage(locator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fillPage[locator]
}

// OpenTab opens a page in the most recent context, as a link with
// target=_blank would. It is meant for OnClick hooks.
func (f *Fake) OpenTab(url string) {
	f.mu.Lock()
	c := f.lastContext
	f.mu.Unlock()
	if c != nil {
		c.OpenPage(url)
	}
}

// Counts reports lifecycle counters.
func (f *Fake) Counts() (launches, browserCloses, contextCloses, pageOpens int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches, f.browserClose, f.contextClose, f.pageOpens
}

func (f *Fake) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

// gate applies Fail, Hang and HangForever for key.
func (f *Fake) gate(ctx context.Context, key string) error {
	f.mu.Lock()
	failErr := f.Fail[key]
	hang := f.Hang[key]
	forever := f.HangForever[key]
	f.mu.Unlock()

	if failErr != nil {
		return failErr
	}
	if forever {
		<-f.released
		return nil
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return ctx.Err()
}

// Launch implements driver.Launcher.
func (f *Fake) Launch(ctx context.Context, opts driver.LaunchOptions) (driver.Browser, error) {
	f.record("launch %s", opts.Browser)
	if f.LaunchErr != nil {
		return nil, f.LaunchErr
	}
	f.mu.Lock()
	f.launches++
	f.mu.Unlock()
	return &browser{f: f}, nil
}

type browser struct {
	f *Fake
}

func (b *browser) NewContext(ctx context.Context) (driver.Context, error) {
	b.f.record("new-context")
	c := &browserContext{f: b.f}
	b.f.mu.Lock()
	b.f.lastContext = c
	b.f.mu.Unlock()
	return c, nil
}

func (b *browser) Close() error {
	b.f.record("close-browser")
	b.f.mu.Lock()
	b.f.browserClose++
	b.f.mu.Unlock()
	b.f.Release()
	return b.f.BrowserCloseErr
}

type browserContext struct {
	f     *Fake
	mu    sync.Mutex
	pages []driver.Page
}

// OpenPage adds a page to the context as if a link opened a new tab.
func (c *browserContext) OpenPage(url string) driver.Page {
	c.mu.Lock()
	p := &page{f: c.f, url: url, id: len(c.pages) + 1}
	c.pages = append(c.pages, p)
	c.mu.Unlock()
	c.f.mu.Lock()
	c.f.pageOpens++
	c.f.mu.Unlock()
	return p
}

func (c *browserContext) NewPage(ctx context.Context) (driver.Page, error) {
	c.f.record("new-page")
	return c.OpenPage("about:blank"), nil
}

func (c *browserContext) Pages() []driver.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]driver.Page(nil), c.pages...)
}

func (c *browserContext) Close() error {
	c.f.record("close-context")
	c.f.mu.Lock()
	c.f.contextClose++
	c.f.mu.Unlock()
	return c.f.ContextCloseErr
}

type page struct {
	f   *Fake
	id  int
	mu  sync.Mutex
	url string
}

func (p *page) Goto(ctx context.Context, url string, waitUntil string) error {
	p.f.record("goto %s", url)
	if err := p.f.gate(ctx, url); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *page) WaitForLoadState(ctx context.Context, state string) error {
	p.f.record("load-state %s", state)
	return p.f.gate(ctx, "state:"+state)
}

func (p *page) Frames() []driver.Frame {
	out := make([]driver.Frame, 0, len(p.f.Frames))
	for _, name := range p.f.Frames {
		out = append(out, &frame{f: p.f, name: name})
	}
	return out
}

func (p *page) Locate(ctx context.Context, locator string, nth int) (driver.Element, error) {
	p.f.record("locate %s", locator)
	if err := p.f.gate(ctx, locator); err != nil {
		return nil, err
	}
	p.f.mu.Lock()
	missing := p.f.Missing[locator]
	matches := p.f.Ambiguous[locator]
	p.f.mu.Unlock()

	if missing {
		return nil, fmt.Errorf("%w: %s", driver.ErrNotFound, locator)
	}
	if matches > 1 {
		if nth < 0 {
			return nil, fmt.Errorf("%w: %s matched %d elements", driver.ErrAmbiguous, locator, matches)
		}
		if nth >= matches {
			return nil, fmt.Errorf("%w: %s has no match %d", driver.ErrNotFound, locator, nth)
		}
	}
	return &element{f: p.f, page: p.id, locator: locator}, nil
}

func (p *page) Scroll(ctx context.Context, dx, dy float64) error {
	p.f.record("scroll %g,%g", dx, dy)
	return p.f.gate(ctx, "scroll")
}

func (p *page) ViewportHeight(ctx context.Context) (float64, error) {
	if p.f.ViewportHeight > 0 {
		return p.f.ViewportHeight, nil
	}
	return 720, nil
}

func (p *page) WaitForText(ctx context.Context, text string) error {
	p.f.record("expect %s", text)
	p.f.mu.Lock()
	p.f.textChecks[text]++
	p.f.mu.Unlock()
	if err := p.f.gate(ctx, "text:"+text); err != nil {
		return err
	}

	p.f.mu.Lock()
	ok := p.f.visible[text]
	p.f.mu.Unlock()
	if ok {
		return nil
	}
	// Invisible text behaves like playwright: poll until the deadline.
	<-ctx.Done()
	return fmt.Errorf("%w: text %q not visible", driver.ErrTimeout, text)
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	p.f.record("screenshot")
	if p.f.ScreenshotData == nil {
		return []byte("\x89PNG fake"), nil
	}
	return p.f.ScreenshotData, nil
}

func (p *page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

type frame struct {
	f    *Fake
	name string
}

func (fr *frame) Name() string { return fr.name }

func (fr *frame) WaitForLoadState(ctx context.Context, state string) error {
	fr.f.record("frame-load-state %s %s", fr.name, state)
	return fr.f.gate(ctx, "frame:"+fr.name)
}

type element struct {
	f       *Fake
	page    int
	locator string
}

func (e *element) Fill(ctx context.Context, value string) error {
	e.f.record("fill %s", e.locator)
	if err := e.f.gate(ctx, "fill:"+e.locator); err != nil {
		return err
	}
	e.f.mu.Lock()
	e.f.values[e.locator] = value
	e.f.fillPage[e.locator] = e.page
	e.f.mu.Unlock()
	return nil
}

func (e *element) Click(ctx context.Context) error {
	e.f.record("click %s", e.locator)
	if err := e.f.gate(ctx, "click:"+e.locator); err != nil {
		return err
	}
	e.f.mu.Lock()
	hook := e.f.OnClick[e.locator]
	e.f.mu.Unlock()
	if hook != nil {
		hook(e.f)
	}
	return nil
}
