package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/netengine/internal/netid"
)

func sampleResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Step: 1, Kind: KindCall, Call: CallStream, Stream: "s-1", Binding: "unbound"},
		{Step: 2, Seq: 1, Kind: "default_changed", ID: 4, Type: "wifi", Changed: true,
			Drained: []string{"unbound"}, RefreshedDNS: true, Active: []int64{4}, Default: "4/wifi"},
		{Step: 3, Kind: KindCall, Call: CallReset, Err: "ENGINE_NOT_RUNNING"},
	}
	r.Final = netid.Snapshot{Active: []netid.NetworkID{4}, Default: &netid.Default{ID: 4, Type: netid.TypeWiFi}}
	return r
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	id := int64(4)
	count := 1
	failures := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertFinalActive, IDs: []int64{4}},
		{Type: AssertFinalDefault, ID: &id, NetType: "wifi"},
		{Type: AssertDrained, Bindings: []string{"unbound"}},
		{Type: AssertStreamBinding, Stream: "s-1", Binding: "unbound"},
		{Type: AssertDNSRefreshes, Count: &count},
		{Type: AssertCallError, Step: 3, Code: "ENGINE_NOT_RUNNING"},
	})
	assert.Empty(t, failures)
}

func TestEvaluateAssertions_Fail(t *testing.T) {
	id := int64(4)
	other := int64(5)
	zero := 0
	tests := []struct {
		name string
		a    Assertion
		want string
	}{
		{"active", Assertion{Type: AssertFinalActive, IDs: []int64{1}}, "Expected: [1]"},
		{"default none", Assertion{Type: AssertFinalDefault, None: true}, "no default network"},
		{"default id", Assertion{Type: AssertFinalDefault, ID: &other}, "default 5"},
		{"default type", Assertion{Type: AssertFinalDefault, ID: &id, NetType: "cellular"}, "4/cellular"},
		{"drained", Assertion{Type: AssertDrained}, "Actual: [unbound]"},
		{"unknown stream", Assertion{Type: AssertStreamBinding, Stream: "s-9", Binding: "unbound"}, "no such stream"},
		{"binding", Assertion{Type: AssertStreamBinding, Stream: "s-1", Binding: "net:4"}, "Expected: net:4"},
		{"refreshes", Assertion{Type: AssertDNSRefreshes, Count: &zero}, "1 refreshes"},
		{"not a call", Assertion{Type: AssertCallError, Step: 2, Code: "X"}, "step is not a call"},
		{"wrong code", Assertion{Type: AssertCallError, Step: 3, Code: "CONFIG_INVALID"}, "Actual: ENGINE_NOT_RUNNING"},
		{"unknown", Assertion{Type: "vibes"}, "unknown assertion type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := EvaluateAssertions(sampleResult(), []Assertion{tt.a})
			require.Len(t, failures, 1)
			assert.Contains(t, failures[0], tt.want)
		})
	}
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	failures := EvaluateAssertions(sampleResult(), []Assertion{{Type: AssertFinalActive}})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "Full trace:")
	assert.Contains(t, failures[0], "step 2 #1 default_changed net=4 type=wifi changed drained=[unbound] dns_refresh active=[4] default=4/wifi")
	assert.Contains(t, failures[0], "step 3 call reset error=ENGINE_NOT_RUNNING")
}

func TestRender(t *testing.T) {
	r := sampleResult()
	r.Trace = r.Trace[:2]
	want := "scenario: sample\n" +
		"step 1 call stream s-1 binding=unbound\n" +
		"step 2 #1 default_changed net=4 type=wifi changed drained=[unbound] dns_refresh active=[4] default=4/wifi\n" +
		"final active=[4] default=4/wifi\n"
	assert.Equal(t, want, Render("sample", r))
}
