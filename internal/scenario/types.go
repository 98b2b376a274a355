// Package scenario defines the fixture records the runner executes: an entry
// URL, an ordered list of browser actions and an ordered list of visibility
// expectations. Scenarios are loaded from YAML and never mutated afterwards.
package scenario

import (
	"fmt"
	"strings"
	"time"
)

// Scenario is one end-to-end test case.
type Scenario struct {
	// Name uniquely identifies this scenario (e.g. "TC001_login").
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Tags are free labels used to select scenarios from the CLI.
	Tags []string `yaml:"tags,omitempty"`

	// InitialURL is the entry point. Relative URLs resolve against the
	// configured base URL.
	InitialURL string `yaml:"initial_url"`

	// Steps execute strictly in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated in order after every step succeeded.
	Assertions []Expectation `yaml:"assertions"`

	// Source is the file the scenario was loaded from.
	Source string `yaml:"-"`
}

// Kind names an action variant.
type Kind string

const (
	KindNavigate Kind = "navigate"
	KindWait     Kind = "wait"
	KindFill     Kind = "fill"
	KindClick    Kind = "click"
	KindScroll   Kind = "scroll"
)

// Step is one browser interaction. Exactly one of the action fields is set.
type Step struct {
	Navigate *Navigate `yaml:"navigate,omitempty"`
	Wait     *Wait     `yaml:"wait,omitempty"`
	Fill     *Fill     `yaml:"fill,omitempty"`
	Click    *Click    `yaml:"click,omitempty"`
	Scroll   *Scroll   `yaml:"scroll,omitempty"`

	// Timeout overrides the runner's default per-action ceiling.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Note is a human description logged when the step runs.
	Note string `yaml:"note,omitempty"`
}

// Navigate loads a URL in the active page.
type Navigate struct {
	URL string `yaml:"url"`
	// WaitUntil is the load state navigation waits for; empty means "load".
	WaitUntil string `yaml:"wait_until,omitempty"`
}

// Wait pauses for a fixed duration or until the page reaches a load state.
type Wait struct {
	Duration time.Duration `yaml:"duration,omitempty"`
	State    string        `yaml:"state,omitempty"`
}

// Target identifies one element. Without Nth the locator must match exactly
// one element; with Nth it selects that match from a larger set.
type Target struct {
	Locator string `yaml:"locator"`
	Nth     *int   `yaml:"nth,omitempty"`
}

func (t Target) String() string {
	if t.Nth != nil {
		return fmt.Sprintf("%s [nth=%d]", t.Locator, *t.Nth)
	}
	return t.Locator
}

// Fill types a value into the located element, replacing its content.
type Fill struct {
	Target `yaml:",inline"`
	Value  string `yaml:"value"`
}

// Click clicks the located element.
type Click struct {
	Target `yaml:",inline"`
}

// Scroll moves the mouse wheel. With Viewport set, DY is measured in
// viewport heights instead of pixels.
type Scroll struct {
	DX       float64 `yaml:"dx,omitempty"`
	DY       float64 `yaml:"dy,omitempty"`
	Viewport bool    `yaml:"viewport,omitempty"`
}

// Expectation asserts that Text becomes visible within Timeout.
type Expectation struct {
	Text    string        `yaml:"text"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// Message replaces the default failure description.
	Message string `yaml:"message,omitempty"`
}

// Load states accepted by navigate and wait steps.
const (
	StateCommit           = "commit"
	StateLoad             = "load"
	StateDOMContentLoaded = "domcontentloaded"
	StateNetworkIdle      = "networkidle"
)

// ValidLoadState reports whether s names a load state. Commit is only valid
// as a navigation target.
func ValidLoadState(s string, navigation bool) bool {
	switch s {
	case StateLoad, StateDOMContentLoaded, StateNetworkIdle:
		return true
	case StateCommit:
		return navigation
	default:
		return false
	}
}

// Kind returns the action variant of the step, or "" when none or several
// are set.
func (s Step) Kind() Kind {
	var kinds []Kind
	if s.Navigate != nil {
		kinds = append(kinds, KindNavigate)
	}
	if s.Wait != nil {
		kinds = append(kinds, KindWait)
	}
	if s.Fill != nil {
		kinds = append(kinds, KindFill)
	}
	if s.Click != nil {
		kinds = append(kinds, KindClick)
	}
	if s.Scroll != nil {
		kinds = append(kinds, KindScroll)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Describe renders the step for logs and failure messages. Fill values are
// left out; callers log them separately through redaction.
func (s Step) Describe() string {
	switch s.Kind() {
	case KindNavigate:
		return "navigate " + s.Navigate.URL
	case KindWait:
		if s.Wait.State != "" {
			return "wait for " + s.Wait.State
		}
		return "wait " + s.Wait.Duration.String()
	case KindFill:
		return "fill " + s.Fill.Target.String()
	case KindClick:
		return "click " + s.Click.Target.String()
	case KindScroll:
		if s.Scroll.Viewport {
			return fmt.Sprintf("scroll %g,%g viewports", s.Scroll.DX, s.Scroll.DY)
		}
		return fmt.Sprintf("scroll %g,%g", s.Scroll.DX, s.Scroll.DY)
	default:
		return "invalid step"
	}
}

// Describe renders the expectation for failure messages.
func (e Expectation) Describe() string {
	return fmt.Sprintf("text %q visible", e.Text)
}

// HasTag reports whether the scenario carries any of the given tags. An empty
// filter matches every scenario.
func (s *Scenario) HasTag(tags ...string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range s.Tags {
			if strings.EqualFold(strings.TrimSpace(want), have) {
				return true
			}
		}
	}
	return false
}
