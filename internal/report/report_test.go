package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/kuitang/crmscenarios/internal/errs"
)

func sampleResults() []Result {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []Result{
		{
			RunID:             "run-1",
			Scenario:          "TC001_login",
			Source:            "fixtures/TC001_login.yaml",
			Status:            StatusPassed,
			StepsRun:          12,
			AssertionsChecked: 15,
			StartedAt:         started,
			Duration:          12345678901 * time.Nanosecond,
		},
		{
			RunID:    "run-2",
			Scenario: "TC017_calendar_event",
			Status:   StatusFailed,
			Failure: &Failure{
				Phase:       PhaseAssertion,
				Index:       0,
				Description: `text "Evento creado exitosamente" visible`,
				Code:        errs.AssertionFailure,
				Message:     "calendar event creation did not show the success message",
			},
			StepsRun:          10,
			AssertionsChecked: 1,
			StartedAt:         started,
			Duration:          4100 * time.Millisecond,
			Artifacts:         []string{"s3://bucket/runs/run-2/TC017_calendar_event/failure.png"},
		},
		{
			RunID:    "run-3",
			Scenario: "TC020_search_performance",
			Status:   StatusFailed,
			Failure: &Failure{
				Phase:       PhaseStep,
				Index:       3,
				Description: "click xpath=//button",
				Code:        errs.StepTimeout,
				Message:     "click xpath=//button exceeded 500ms",
			},
			StepsRun:      3,
			StartedAt:     started,
			Duration:      500 * time.Millisecond,
			TeardownError: "close browser: boom",
		},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleResults())
	if s != (Summary{Total: 3, Passed: 1, Failed: 2}) {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if empty := Summarize(nil); empty != (Summary{}) {
		t.Fatalf("empty summary should be zero, got %+v", empty)
	}
}

func TestWriteText_Golden(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, sampleResults()); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	g := goldie.New(t)
	g.Assert(t, "text_report", buf.Bytes())
}

func TestWriteJSON_Golden(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleResults()[:2]); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	g := goldie.New(t)
	g.Assert(t, "json_report", buf.Bytes())
}

func TestWriteJSON_EmptyResultsIsArray(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, nil); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"results": []`)) {
		t.Fatalf("expected empty results array, got %s", buf.String())
	}
}
