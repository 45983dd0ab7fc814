package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/netengine/internal/errs"
)

// Accessor returns the current value of a string stat.
type Accessor func() string

// Tags are the key/value labels attached to a counter increment.
type Tags map[string]string

type kind int

const (
	kindAccessor kind = iota
	kindCounter
)

func (k kind) String() string {
	if k == kindCounter {
		return "counter"
	}
	return "string accessor"
}

type counter struct {
	tagKeys []string
	values  map[string]uint64 // keyed by rendered tag set
}

type entry struct {
	kind     kind
	accessor Accessor // nil while reserved but not yet bound
	counter  *counter
}

// Registry holds named counters and string accessors.
//
// A name is registered at most once across both kinds. Registering it again
// without an intervening unregister fails with DuplicateRegistration and
// leaves the first registration in place. Names are NFC-normalized so that
// visually identical names collide.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Normalize returns the canonical form of a stat name.
func Normalize(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// ReserveAccessor claims name for a string accessor without binding one yet.
// Used when the accessor is buffered until the engine is running: the
// duplicate check happens now, the binding later.
func (r *Registry) ReserveAccessor(name string) error {
	key, err := checkName("register_string_accessor", name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return duplicate("register_string_accessor", key, e.kind)
	}
	r.entries[key] = &entry{kind: kindAccessor}
	return nil
}

// BindAccessor attaches fn to a name reserved with ReserveAccessor.
func (r *Registry) BindAccessor(name string, fn Accessor) error {
	key := Normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || e.kind != kindAccessor {
		return errs.New(errs.CodeNotRegistered, "register_string_accessor", "%q was not reserved", key)
	}
	e.accessor = fn
	return nil
}

// RegisterStringAccessor reserves and binds in one step.
func (r *Registry) RegisterStringAccessor(name string, fn Accessor) error {
	if err := r.ReserveAccessor(name); err != nil {
		return err
	}
	return r.BindAccessor(name, fn)
}

// UnregisterStringAccessor removes a string accessor.
func (r *Registry) UnregisterStringAccessor(name string) error {
	return r.unregister("unregister_string_accessor", name, kindAccessor)
}

// IncCounter adds count to the counter series identified by name and tags.
//
// The first increment registers name with the key set of tags. Later
// increments must use the same key set; a different key set, or a name held
// by a string accessor, is a DuplicateRegistration.
func (r *Registry) IncCounter(name string, tags Tags, count uint64) error {
	key, err := checkName("record_counter_inc", name)
	if err != nil {
		return err
	}
	keys := tagKeys(tags)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		e = &entry{kind: kindCounter, counter: &counter{tagKeys: keys, values: make(map[string]uint64)}}
		r.entries[key] = e
	}
	if e.kind != kindCounter {
		return duplicate("record_counter_inc", key, e.kind)
	}
	if !equalKeys(e.counter.tagKeys, keys) {
		return errs.New(errs.CodeDuplicateRegistration, "record_counter_inc",
			"counter %q registered with tag keys [%s], got [%s]",
			key, strings.Join(e.counter.tagKeys, ","), strings.Join(keys, ","))
	}
	e.counter.values[renderTags(keys, tags)] += count
	return nil
}

// UnregisterCounter removes a counter and all of its series.
func (r *Registry) UnregisterCounter(name string) error {
	return r.unregister("unregister_counter", name, kindCounter)
}

// Counter returns the value of one counter series.
func (r *Registry) Counter(name string, tags Tags) (uint64, bool) {
	key := Normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || e.kind != kindCounter {
		return 0, false
	}
	v, ok := e.counter.values[renderTags(tagKeys(tags), tags)]
	return v, ok
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dump renders every stat as one "key: value" line, sorted by key. An
// accessor's key is its bare name. A counter has one line per series, keyed
// by the name followed by its tags in key order, with no braces when the
// series is untagged:
//
//	purges: 4
//	requests{net=cell,tls=on}: 1
//	transport.streams.open: 2
//
// Accessors are called outside the registry lock. A reserved accessor that
// is not bound yet renders as "<pending>".
func (r *Registry) Dump() string {
	type line struct{ key, value string }
	var lines []line
	var accessors []struct {
		name string
		fn   Accessor
	}

	r.mu.Lock()
	for name, e := range r.entries {
		switch e.kind {
		case kindCounter:
			for series, v := range e.counter.values {
				lines = append(lines, line{key: name + series, value: fmt.Sprintf("%d", v)})
			}
		case kindAccessor:
			accessors = append(accessors, struct {
				name string
				fn   Accessor
			}{name, e.accessor})
		}
	}
	r.mu.Unlock()

	for _, a := range accessors {
		v := "<pending>"
		if a.fn != nil {
			v = a.fn()
		}
		lines = append(lines, line{key: a.name, value: v})
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].key < lines[j].key })

	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.key)
		b.WriteString(": ")
		b.WriteString(l.value)
		b.WriteByte('\n')
	}
	return b.String()
}

func (r *Registry) unregister(op, name string, want kind) error {
	key := Normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || e.kind != want {
		return errs.New(errs.CodeNotRegistered, op, "no %s named %q", want, key)
	}
	delete(r.entries, key)
	return nil
}

func checkName(op, name string) (string, error) {
	key := Normalize(name)
	if key == "" {
		return "", errs.New(errs.CodeConfigInvalid, op, "stat name must not be empty")
	}
	return key, nil
}

func duplicate(op, key string, existing kind) error {
	return errs.New(errs.CodeDuplicateRegistration, op, "%q already registered as a %s", key, existing)
}

func tagKeys(tags Tags) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// renderTags renders tags in key order as {k=v,k2=v2}; no tags render as "".
func renderTags(keys []string, tags Tags) string {
	if len(keys) == 0 {
		return ""
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + tags[k]
	}
	return "{" + strings.Join(parts, ",") + "}"
}
