package reconcile

import (
	"fmt"

	"github.com/roach88/netengine/internal/netid"
)

// Kind distinguishes connectivity events.
type Kind int

const (
	// KindConnect reports a network became connected.
	KindConnect Kind = iota + 1
	// KindDisconnect reports a network went away.
	KindDisconnect
	// KindDefaultChanged reports a new default network with its type.
	KindDefaultChanged
	// KindLegacyDefaultChanged is the single-id default change with no type.
	KindLegacyDefaultChanged
	// KindDefaultAvailable reports that some default network is available
	// again, without naming it.
	KindDefaultAvailable
	// KindDefaultUnavailable reports that no default network exists.
	KindDefaultUnavailable
	// KindPurge drops stale ids from the active set.
	KindPurge
	// KindReset clears all connectivity state.
	KindReset

	// kindBarrier is an internal marker used by Barrier.
	kindBarrier
)

var kindNames = map[Kind]string{
	KindConnect:              "connect",
	KindDisconnect:           "disconnect",
	KindDefaultChanged:       "default_changed",
	KindLegacyDefaultChanged: "legacy_default_changed",
	KindDefaultAvailable:     "default_available",
	KindDefaultUnavailable:   "default_unavailable",
	KindPurge:                "purge",
	KindReset:                "reset",
	kindBarrier:              "barrier",
}

// String returns the snake_case event name used in logs and journals.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses a snake_case event name.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s && k != kindBarrier {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown connectivity event %q", s)
}

// Event is a connectivity change reported by a platform monitor.
type Event struct {
	Kind Kind
	Type netid.ConnectionType
	ID   netid.NetworkID
	IDs  []netid.NetworkID

	// Source names the monitor that reported the event (diagnostics only).
	Source string

	done chan struct{}
}

// Connect builds a KindConnect event.
func Connect(t netid.ConnectionType, id netid.NetworkID) Event {
	return Event{Kind: KindConnect, Type: t, ID: id}
}

// Disconnect builds a KindDisconnect event.
func Disconnect(id netid.NetworkID) Event {
	return Event{Kind: KindDisconnect, ID: id}
}

// DefaultChanged builds a KindDefaultChanged event.
func DefaultChanged(t netid.ConnectionType, id netid.NetworkID) Event {
	return Event{Kind: KindDefaultChanged, Type: t, ID: id}
}

// LegacyDefaultChanged builds a KindLegacyDefaultChanged event.
func LegacyDefaultChanged(id netid.NetworkID) Event {
	return Event{Kind: KindLegacyDefaultChanged, Type: netid.TypeUnspecified, ID: id}
}

// DefaultAvailable builds a KindDefaultAvailable event.
func DefaultAvailable() Event {
	return Event{Kind: KindDefaultAvailable}
}

// DefaultUnavailable builds a KindDefaultUnavailable event.
func DefaultUnavailable() Event {
	return Event{Kind: KindDefaultUnavailable}
}

// Purge builds a KindPurge event. The ids slice is copied.
func Purge(ids []netid.NetworkID) Event {
	return Event{Kind: KindPurge, IDs: append([]netid.NetworkID(nil), ids...)}
}

// Reset builds a KindReset event.
func Reset() Event {
	return Event{Kind: KindReset}
}

// WithSource returns a copy of the event tagged with a monitor name.
func (e Event) WithSource(source string) Event {
	e.Source = source
	return e
}

// Applied is the record of one event after it was applied.
type Applied struct {
	// Seq numbers applied events from 1 in application order.
	Seq int64

	Event Event

	// Changed is false when the event was absorbed as a no-op
	// (duplicate connect, unknown disconnect, and so on).
	Changed bool

	// Drained lists the pool bindings marked draining, in command order.
	Drained []netid.Binding

	// DrainedAll is set when every pool was marked draining.
	DrainedAll bool

	// RefreshedDNS is set when the transport was asked to refresh DNS.
	RefreshedDNS bool

	// Snapshot is the registry state after the event.
	Snapshot netid.Snapshot
}
