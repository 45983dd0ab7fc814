package netid

import (
	"fmt"
	"sort"
	"strings"
)

// NetworkID is the opaque identifier the platform assigns to a network
// interface instance. It is unique while the interface is active.
type NetworkID int64

// ConnectionType is the kind of link behind a network.
type ConnectionType int

const (
	// TypeUnspecified is used by the legacy single-id platform calls.
	TypeUnspecified ConnectionType = iota
	TypeWiFi
	TypeCellular
	TypeEthernet
	TypeNone
	TypeOther
)

var connectionTypeNames = map[ConnectionType]string{
	TypeUnspecified: "unspecified",
	TypeWiFi:        "wifi",
	TypeCellular:    "cellular",
	TypeEthernet:    "ethernet",
	TypeNone:        "none",
	TypeOther:       "other",
}

// String returns the lowercase name of the type.
func (t ConnectionType) String() string {
	if name, ok := connectionTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseConnectionType parses a type name, case-insensitively.
func ParseConnectionType(s string) (ConnectionType, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	if want == "" {
		return TypeUnspecified, nil
	}
	for t, name := range connectionTypeNames {
		if name == want {
			return t, nil
		}
	}
	return TypeUnspecified, fmt.Errorf("unknown connection type %q", s)
}

// Binding names the pool key a stream is scheduled on: a specific network,
// or the unbound pool used while no default network is known.
type Binding struct {
	ID    NetworkID
	Bound bool
}

// Unbound is the binding for streams created with no default network.
var Unbound = Binding{}

// BindTo returns the binding for a specific network.
func BindTo(id NetworkID) Binding {
	return Binding{ID: id, Bound: true}
}

// String renders the binding for logs and stats keys.
func (b Binding) String() string {
	if !b.Bound {
		return "unbound"
	}
	return fmt.Sprintf("net:%d", b.ID)
}

// Default is the current default route.
type Default struct {
	ID   NetworkID
	Type ConnectionType
}

// Snapshot is a copy of the registry, safe to retain without locking.
// Active is sorted ascending.
type Snapshot struct {
	Active  []NetworkID
	Default *Default
}

// Binding returns where new streams are scheduled for this snapshot.
func (s Snapshot) Binding() Binding {
	if s.Default == nil {
		return Unbound
	}
	return BindTo(s.Default.ID)
}

// Contains reports whether id is active in the snapshot.
func (s Snapshot) Contains(id NetworkID) bool {
	i := sort.Search(len(s.Active), func(i int) bool { return s.Active[i] >= id })
	return i < len(s.Active) && s.Active[i] == id
}

// Registry tracks the active network set and the current default network.
//
// Registry is NOT safe for concurrent use. It has a single logical owner
// (the reconciler), which serializes every mutation.
//
// INVARIANTS (hold after every method returns):
//   - when a default is set, its id is in the active set
//   - Purge never removes the default id
type Registry struct {
	active map[NetworkID]ConnectionType
	def    *Default

	// lastDefault remembers the most recent default cleared by
	// ClearDefault so a later "default available" signal can restore it.
	lastDefault *Default
}

// NewRegistry creates an empty registry with no default network.
func NewRegistry() *Registry {
	return &Registry{active: make(map[NetworkID]ConnectionType)}
}

// Connect marks id active. Returns false if it already was.
// The default network is never changed.
func (r *Registry) Connect(t ConnectionType, id NetworkID) bool {
	if _, ok := r.active[id]; ok {
		if t != TypeUnspecified {
			r.active[id] = t
		}
		return false
	}
	r.active[id] = t
	return true
}

// Disconnect removes id from the active set. If id was the default, the
// default is cleared. Returns whether id was active and whether the
// default was cleared.
func (r *Registry) Disconnect(id NetworkID) (removed, clearedDefault bool) {
	if _, ok := r.active[id]; !ok {
		return false, false
	}
	delete(r.active, id)
	if r.def != nil && r.def.ID == id {
		r.def = nil
		r.lastDefault = nil
		clearedDefault = true
	}
	return true, clearedDefault
}

// SetDefault makes id the default network, adding it to the active set if
// its connect event has not been seen yet. Returns the previous default
// (nil if none) and whether id was implicitly added.
func (r *Registry) SetDefault(t ConnectionType, id NetworkID) (prev *Default, added bool) {
	if _, ok := r.active[id]; !ok {
		added = true
	}
	if t == TypeUnspecified && !added {
		t = r.active[id]
	}
	r.active[id] = t
	prev = r.def
	r.def = &Default{ID: id, Type: t}
	r.lastDefault = nil
	return prev, added
}

// ClearDefault clears the default without touching the active set.
// Returns the cleared default, or nil if none was set.
func (r *Registry) ClearDefault() *Default {
	prev := r.def
	r.def = nil
	if prev != nil {
		r.lastDefault = prev
	}
	return prev
}

// RestoreDefault reinstates the default cleared by the last ClearDefault
// if that network is still active. Returns the restored default or nil.
func (r *Registry) RestoreDefault() *Default {
	if r.def != nil || r.lastDefault == nil {
		return nil
	}
	if _, ok := r.active[r.lastDefault.ID]; !ok {
		r.lastDefault = nil
		return nil
	}
	r.def = r.lastDefault
	r.lastDefault = nil
	return r.def
}

// Purge removes every id in ids from the active set except the current
// default. Returns the ids actually removed (in input order) and whether
// the default id was among the requested ids.
func (r *Registry) Purge(ids []NetworkID) (removed []NetworkID, protectedDefault bool) {
	for _, id := range ids {
		if r.def != nil && r.def.ID == id {
			protectedDefault = true
			continue
		}
		if _, ok := r.active[id]; ok {
			delete(r.active, id)
			removed = append(removed, id)
		}
	}
	return removed, protectedDefault
}

// Reset clears the active set and the default.
func (r *Registry) Reset() {
	r.active = make(map[NetworkID]ConnectionType)
	r.def = nil
	r.lastDefault = nil
}

// Default returns a copy of the current default, or nil.
func (r *Registry) Default() *Default {
	if r.def == nil {
		return nil
	}
	d := *r.def
	return &d
}

// IsActive reports whether id is in the active set.
func (r *Registry) IsActive(id NetworkID) bool {
	_, ok := r.active[id]
	return ok
}

// Len returns the number of active networks.
func (r *Registry) Len() int {
	return len(r.active)
}

// Snapshot returns a sorted copy of the registry.
func (r *Registry) Snapshot() Snapshot {
	active := make([]NetworkID, 0, len(r.active))
	for id := range r.active {
		active = append(active, id)
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	return Snapshot{Active: active, Default: r.Default()}
}

// CheckInvariants returns an error describing the first violated invariant.
// Used by tests and by the reconciler's debug assertions.
func (r *Registry) CheckInvariants() error {
	if r.def != nil {
		if _, ok := r.active[r.def.ID]; !ok {
			return fmt.Errorf("default network %d is not active", r.def.ID)
		}
	}
	return nil
}
