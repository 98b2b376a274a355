package scenario

import (
	"fmt"
	"strings"

	"github.com/kuitang/crmscenarios/internal/errs"
)

// ValidationError lists every problem found in one scenario.
type ValidationError struct {
	Scenario string
	Errors   []string
}

func (e *ValidationError) Error() string {
	name := e.Scenario
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("scenario %s is invalid:\n  - %s", name, strings.Join(e.Errors, "\n  - "))
}

// Validate checks the structural rules the runner relies on. The returned
// error carries the invalid_scenario code and wraps a *ValidationError.
func (s *Scenario) Validate() error {
	var problems []string

	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(s.InitialURL) == "" {
		problems = append(problems, "initial_url is required")
	}

	for i, step := range s.Steps {
		problems = append(problems, validateStep(i, step)...)
	}

	for i, a := range s.Assertions {
		if strings.TrimSpace(a.Text) == "" {
			problems = append(problems, fmt.Sprintf("assertions[%d]: text is required", i))
		}
		if a.Timeout < 0 {
			problems = append(problems, fmt.Sprintf("assertions[%d]: timeout must not be negative", i))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	verr := &ValidationError{Scenario: s.Name, Errors: problems}
	return errs.Wrap(errs.InvalidScenario, "invalid scenario "+s.Name, verr)
}

func validateStep(i int, step Step) []string {
	var problems []string
	prefix := fmt.Sprintf("steps[%d]", i)

	if step.Timeout < 0 {
		problems = append(problems, prefix+": timeout must not be negative")
	}

	switch step.Kind() {
	case "":
		return append(problems, prefix+": exactly one of navigate, wait, fill, click, scroll is required")
	case KindNavigate:
		if strings.TrimSpace(step.Navigate.URL) == "" {
			problems = append(problems, prefix+": navigate.url is required")
		}
		if w := step.Navigate.WaitUntil; w != "" && !ValidLoadState(w, true) {
			problems = append(problems, fmt.Sprintf("%s: unknown wait_until %q", prefix, w))
		}
	case KindWait:
		w := step.Wait
		switch {
		case w.Duration == 0 && w.State == "":
			problems = append(problems, prefix+": wait needs duration or state")
		case w.Duration != 0 && w.State != "":
			problems = append(problems, prefix+": wait takes duration or state, not both")
		case w.Duration < 0:
			problems = append(problems, prefix+": wait.duration must not be negative")
		case w.State != "" && !ValidLoadState(w.State, false):
			problems = append(problems, fmt.Sprintf("%s: unknown wait state %q", prefix, w.State))
		}
	case KindFill:
		problems = append(problems, validateTarget(prefix+".fill", step.Fill.Target)...)
	case KindClick:
		problems = append(problems, validateTarget(prefix+".click", step.Click.Target)...)
	case KindScroll:
		if step.Scroll.DX == 0 && step.Scroll.DY == 0 {
			problems = append(problems, prefix+": scroll needs dx or dy")
		}
	}
	return problems
}

func validateTarget(prefix string, t Target) []string {
	var problems []string
	if strings.TrimSpace(t.Locator) == "" {
		problems = append(problems, prefix+": locator is required")
	}
	if t.Nth != nil && *t.Nth < 0 {
		problems = append(problems, prefix+": nth must not be negative")
	}
	return problems
}
