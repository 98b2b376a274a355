// Package driver declares the browser capability set the runner needs.
// Any automation library that can launch a browser, open an isolated
// context and drive a page can back these interfaces; pwdriver adapts
// playwright-go and fakedriver records calls for tests.
//
// Every blocking method takes a context whose deadline is the step's
// timeout. Implementations should return promptly once ctx is done.
package driver

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a locator resolves to no element.
var ErrNotFound = errors.New("driver: element not found")

// ErrAmbiguous is returned when a locator resolves to more than one element
// and no index was requested.
var ErrAmbiguous = errors.New("driver: locator matched more than one element")

// ErrTimeout is returned when the browser reports its own timeout.
var ErrTimeout = errors.New("driver: timeout")

// LaunchOptions configures the browser process.
type LaunchOptions struct {
	// Browser is chromium, firefox or webkit.
	Browser  string
	Headless bool
	Args     []string
}

// Launcher starts a browser session. The returned Browser owns the process
// and the automation session; closing it releases both.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is a running browser process.
type Browser interface {
	// NewContext opens an isolated browsing context with its own cookie and
	// storage jar.
	NewContext(ctx context.Context) (Context, error)
	Close() error
}

// Context is an isolated browsing context.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	// Pages lists open pages, oldest first.
	Pages() []Page
	Close() error
}

// Page is one tab.
type Page interface {
	// Goto navigates and waits until the given load state is reached.
	Goto(ctx context.Context, url string, waitUntil string) error
	WaitForLoadState(ctx context.Context, state string) error
	// Frames lists the sub-frames of the page, excluding the main frame.
	Frames() []Frame
	// Locate resolves a locator to exactly one element, or to the nth match
	// when nth is non-negative.
	Locate(ctx context.Context, locator string, nth int) (Element, error)
	// Scroll turns the mouse wheel by dx, dy pixels.
	Scroll(ctx context.Context, dx, dy float64) error
	// ViewportHeight returns the visible height in CSS pixels.
	ViewportHeight(ctx context.Context) (float64, error)
	// WaitForText polls until text is visible somewhere on the page.
	WaitForText(ctx context.Context, text string) error
	Screenshot(ctx context.Context) ([]byte, error)
	URL() string
}

// Frame is a sub-frame of a page.
type Frame interface {
	Name() string
	WaitForLoadState(ctx context.Context, state string) error
}

// Element is a resolved element handle.
type Element interface {
	Fill(ctx context.Context, value string) error
	Click(ctx context.Context) error
}
