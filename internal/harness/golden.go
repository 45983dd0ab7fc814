package harness

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Render formats a scenario result as text, one trace event per line,
// followed by the final state and pool table:
//
//	scenario: wifi_to_cellular
//	step 1 call start
//	step 2 #1 connect net=1 type=wifi changed active=[1] default=none
//	step 3 #2 default_changed net=1 type=wifi changed drained=[unbound] dns_refresh active=[1] default=1/wifi
//	step 4 call stream s-1 binding=net:1
//	final active=[1] default=1/wifi
//	pool 1 net:1 accepting streams=1
//
// The output depends only on the scenario, so it is stable across runs.
func Render(name string, result *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	for _, ev := range result.Trace {
		b.WriteString(renderEvent(ev))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "final active=%s default=%s\n", renderIDs(activeIDs(result.Final)), defaultString(result.Final))
	for _, p := range result.Pools {
		state := "accepting"
		if p.Draining {
			state = "draining"
		}
		fmt.Fprintf(&b, "pool %d %s %s streams=%d\n", p.ID, p.Binding, state, p.Streams)
	}
	return b.String()
}

func renderEvent(ev TraceEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d ", ev.Step)

	if ev.Kind == KindCall {
		fmt.Fprintf(&b, "call %s", ev.Call)
		if ev.Stream != "" {
			fmt.Fprintf(&b, " %s binding=%s", ev.Stream, ev.Binding)
		}
		if ev.Err != "" {
			fmt.Fprintf(&b, " error=%s", ev.Err)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "#%d %s", ev.Seq, ev.Kind)
	if ev.ID != 0 {
		fmt.Fprintf(&b, " net=%d", ev.ID)
	}
	if ev.Type != "" {
		fmt.Fprintf(&b, " type=%s", ev.Type)
	}
	if len(ev.IDs) > 0 {
		fmt.Fprintf(&b, " nets=%s", renderIDs(ev.IDs))
	}
	if ev.Changed {
		b.WriteString(" changed")
	} else {
		b.WriteString(" noop")
	}
	if len(ev.Drained) > 0 {
		fmt.Fprintf(&b, " drained=[%s]", strings.Join(ev.Drained, ","))
	}
	if ev.DrainedAll {
		b.WriteString(" drained=all")
	}
	if ev.RefreshedDNS {
		b.WriteString(" dns_refresh")
	}
	fmt.Fprintf(&b, " active=%s default=%s", renderIDs(ev.Active), ev.Default)
	return b.String()
}

func renderIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// RunWithGolden executes a scenario, fails the test on assertion errors and
// compares the rendered trace with testdata/golden/<scenario.Name>.golden.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	AssertGolden(t, scenario.Name, result)
	return nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(Render(name, result)))
}
