package errs

import (
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	Navigation,
	LocatorNotFound,
	StepTimeout,
	AssertionFailure,
	Teardown,
	InvalidScenario,
	Launch,
	Action,
	Canceled,
	Internal,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
	if !Is(err, code) {
		t.Fatalf("Is(New, %q) = false", code)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testCodeOfAndMessageOf_WrappedTypedError(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))

	err := Wrap(code, message, cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(wrapped); got != message {
		t.Fatalf("MessageOf(wrapped) mismatch: got=%q want=%q", got, message)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("wrapped error lost its cause")
	}
}

func TestCodeOfAndMessageOf_WrappedTypedError(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOfAndMessageOf_WrappedTypedError)
}

func TestUntypedAndNilFallbacks(t *testing.T) {
	t.Parallel()
	untyped := errors.New("boom")

	if got := CodeOf(untyped); got != Internal {
		t.Fatalf("CodeOf(untyped) = %q, want %q", got, Internal)
	}
	if got := MessageOf(untyped); got != "boom" {
		t.Fatalf("MessageOf(untyped) = %q, want %q", got, "boom")
	}
	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) = %q, want %q", got, Internal)
	}
	if Is(nil, StepTimeout) {
		t.Fatal("Is(nil) should be false")
	}
}

func TestIs_FindsInnerCode(t *testing.T) {
	t.Parallel()
	inner := New(StepTimeout, "click exceeded 500ms")
	outer := Wrap(LocatorNotFound, "resolve #submit", inner)

	if CodeOf(outer) != LocatorNotFound {
		t.Fatalf("CodeOf should report outermost code, got %q", CodeOf(outer))
	}
	if !Is(outer, StepTimeout) {
		t.Fatal("Is should find the inner step_timeout code")
	}
	if Is(outer, AssertionFailure) {
		t.Fatal("Is should not report codes absent from the chain")
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{New(AssertionFailure, "x"), 1},
		{New(StepTimeout, "x"), 1},
		{New(Launch, "x"), 1},
		{New(Canceled, "x"), 1},
		{New(InvalidScenario, "x"), 2},
		{errors.New("plain"), 2},
	}
	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	t.Parallel()
	err := Wrap(Navigation, "goto /login", errors.New("net::ERR_CONNECTION_REFUSED"))
	want := "goto /login: net::ERR_CONNECTION_REFUSED"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
