package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  %s\n", renderEvent(ev))
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty slice means all passed.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: result.Trace}
	}

	switch a.Type {
	case AssertFinalActive:
		got := activeIDs(result.Final)
		want := a.IDs
		if want == nil {
			want = []int64{}
		}
		if !slices.Equal(got, want) {
			return fail(fmt.Sprint(want), fmt.Sprint(got))
		}

	case AssertFinalDefault:
		d := result.Final.Default
		switch {
		case a.None && d != nil:
			return fail("no default network", defaultString(result.Final))
		case a.None:
		case d == nil:
			return fail(fmt.Sprintf("default %d", *a.ID), "none")
		case int64(d.ID) != *a.ID:
			return fail(fmt.Sprintf("default %d", *a.ID), defaultString(result.Final))
		case a.NetType != "" && d.Type.String() != a.NetType:
			return fail(fmt.Sprintf("default %d/%s", *a.ID, a.NetType), defaultString(result.Final))
		}

	case AssertDrained:
		got := result.Drained()
		want := a.Bindings
		if want == nil {
			want = []string{}
		}
		if !slices.Equal(got, want) {
			return fail(fmt.Sprint(want), fmt.Sprint(got))
		}

	case AssertStreamBinding:
		ev, ok := result.Stream(a.Stream)
		if !ok {
			return fail(fmt.Sprintf("stream %s", a.Stream), "no such stream")
		}
		if ev.Binding != a.Binding {
			return fail(a.Binding, ev.Binding)
		}

	case AssertDNSRefreshes:
		if got := result.DNSRefreshes(); got != *a.Count {
			return fail(fmt.Sprintf("%d refreshes", *a.Count), fmt.Sprintf("%d refreshes", got))
		}

	case AssertCallError:
		ev, ok := result.CallAt(a.Step)
		if !ok {
			return fail(fmt.Sprintf("call at step %d", a.Step), "step is not a call")
		}
		if ev.Err != a.Code {
			actual := ev.Err
			if actual == "" {
				actual = "success"
			}
			return fail(a.Code, actual)
		}

	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
	return nil
}
