package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/netengine/internal/netid"
	"github.com/roach88/netengine/internal/reconcile"
)

// Scenario is one connectivity scenario.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// DisableDNSRefresh runs the engine with DNS refresh on network change
	// turned off.
	DisableDNSRefresh bool `yaml:"disable_dns_refresh,omitempty"`

	// MaxConcurrentStreams is passed to the transport; zero means no limit.
	MaxConcurrentStreams int `yaml:"max_concurrent_streams,omitempty"`

	// Steps run in order. The harness waits for the reconciler after each.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated against the final result.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is either a platform event or a facade call.
type Step struct {
	// Event is a reconciler event kind, e.g. "connect".
	Event string `yaml:"event,omitempty"`

	// Type is the connection type for connect and default_changed.
	Type string `yaml:"type,omitempty"`

	// ID is the network id for single-network events.
	ID int64 `yaml:"id,omitempty"`

	// IDs is the id list for purge.
	IDs []int64 `yaml:"ids,omitempty"`

	// Call is a facade call: start, stream, reset or terminate.
	Call string `yaml:"call,omitempty"`
}

// Call names.
const (
	CallStart     = "start"
	CallStream    = "stream"
	CallReset     = "reset"
	CallTerminate = "terminate"
)

// Assertion validates the result of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// IDs is the expected active set (final_active).
	IDs []int64 `yaml:"ids,omitempty"`

	// ID is the expected default network (final_default).
	ID *int64 `yaml:"id,omitempty"`

	// NetType is the expected default network type (final_default).
	NetType string `yaml:"net_type,omitempty"`

	// None expects no default network (final_default).
	None bool `yaml:"none,omitempty"`

	// Bindings is the expected drain order (drained).
	Bindings []string `yaml:"bindings,omitempty"`

	// Stream and Binding identify a stream and its expected binding
	// (stream_binding).
	Stream  string `yaml:"stream,omitempty"`
	Binding string `yaml:"binding,omitempty"`

	// Count is the expected number of DNS refreshes (dns_refreshes).
	Count *int `yaml:"count,omitempty"`

	// Step and Code identify a failed call (call_error). Step is 1-based.
	Step int    `yaml:"step,omitempty"`
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalActive   = "final_active"
	AssertFinalDefault  = "final_default"
	AssertDrained       = "drained"
	AssertStreamBinding = "stream_binding"
	AssertDNSRefreshes  = "dns_refreshes"
	AssertCallError     = "call_error"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.MaxConcurrentStreams < 0 {
		return fmt.Errorf("max_concurrent_streams must not be negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, len(s.Steps)); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch {
	case step.Event == "" && step.Call == "":
		return fmt.Errorf("one of event or call is required")
	case step.Event != "" && step.Call != "":
		return fmt.Errorf("event and call are mutually exclusive")
	case step.Call != "":
		switch step.Call {
		case CallStart, CallStream, CallReset, CallTerminate:
			return nil
		}
		return fmt.Errorf("unknown call %q", step.Call)
	}

	kind, err := reconcile.ParseKind(step.Event)
	if err != nil {
		return err
	}
	if kind == reconcile.KindReset {
		return fmt.Errorf("reset is a call, not an event")
	}
	if _, err := netid.ParseConnectionType(step.Type); err != nil {
		return err
	}
	switch kind {
	case reconcile.KindConnect, reconcile.KindDisconnect,
		reconcile.KindDefaultChanged, reconcile.KindLegacyDefaultChanged:
		if step.ID == 0 {
			return fmt.Errorf("%s requires id", step.Event)
		}
	case reconcile.KindPurge:
		if len(step.IDs) == 0 {
			return fmt.Errorf("purge requires ids")
		}
	}
	return nil
}

func validateAssertion(a Assertion, steps int) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertFinalActive, AssertDrained:
		return nil
	case AssertFinalDefault:
		if a.None == (a.ID != nil) {
			return fmt.Errorf("final_default requires exactly one of id or none")
		}
		if a.None && a.NetType != "" {
			return fmt.Errorf("net_type needs an id")
		}
		return nil
	case AssertStreamBinding:
		if a.Stream == "" || a.Binding == "" {
			return fmt.Errorf("stream_binding requires stream and binding")
		}
		return nil
	case AssertDNSRefreshes:
		if a.Count == nil {
			return fmt.Errorf("dns_refreshes requires count")
		}
		return nil
	case AssertCallError:
		if a.Step < 1 || a.Step > steps {
			return fmt.Errorf("call_error step %d out of range", a.Step)
		}
		if a.Code == "" {
			return fmt.Errorf("call_error requires code")
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}
