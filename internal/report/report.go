// Package report holds scenario outcomes and renders them for humans and
// machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kuitang/crmscenarios/internal/errs"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// Phase names where in a run a failure happened.
type Phase string

const (
	PhaseSetup     Phase = "setup"
	PhasePrologue  Phase = "prologue"
	PhaseStep      Phase = "step"
	PhaseAssertion Phase = "assertion"
)

// Failure describes why a run failed.
type Failure struct {
	Phase       Phase     `json:"phase"`
	Index       int       `json:"index"`
	Description string    `json:"description"`
	Code        errs.Code `json:"code"`
	Message     string    `json:"message"`
}

// Result is the outcome of one scenario run.
type Result struct {
	RunID             string        `json:"run_id"`
	Scenario          string        `json:"scenario"`
	Source            string        `json:"source,omitempty"`
	Status            Status        `json:"status"`
	Failure           *Failure      `json:"failure,omitempty"`
	StepsRun          int           `json:"steps_run"`
	AssertionsChecked int           `json:"assertions_checked"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration_ns"`
	TeardownError     string        `json:"teardown_error,omitempty"`
	Artifacts         []string      `json:"artifacts,omitempty"`
}

// Passed reports whether the run passed.
func (r Result) Passed() bool {
	return r.Status == StatusPassed
}

// Summary aggregates results.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Summarize counts results by status.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Passed() {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// WriteText renders results one line per scenario plus failure details and
// a closing summary line.
func WriteText(w io.Writer, results []Result) error {
	var b strings.Builder
	for _, r := range results {
		label := "PASS"
		if !r.Passed() {
			label = "FAIL"
		}
		fmt.Fprintf(&b, "%s %s (%s)\n", label, r.Scenario, r.Duration.Round(time.Millisecond))
		if f := r.Failure; f != nil {
			fmt.Fprintf(&b, "     %s %d: %s [%s]\n", f.Phase, f.Index, f.Description, f.Code)
			fmt.Fprintf(&b, "     %s\n", f.Message)
		}
		if r.TeardownError != "" {
			fmt.Fprintf(&b, "     teardown: %s\n", r.TeardownError)
		}
		for _, a := range r.Artifacts {
			fmt.Fprintf(&b, "     artifact: %s\n", a)
		}
	}
	s := Summarize(results)
	fmt.Fprintf(&b, "%d scenarios, %d passed, %d failed\n", s.Total, s.Passed, s.Failed)
	_, err := io.WriteString(w, b.String())
	return err
}

type jsonReport struct {
	Results []Result `json:"results"`
	Summary Summary  `json:"summary"`
}

// WriteJSON renders results with a summary as indented JSON.
func WriteJSON(w io.Writer, results []Result) error {
	if results == nil {
		results = []Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{Results: results, Summary: Summarize(results)})
}
