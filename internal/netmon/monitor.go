package netmon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/netengine/internal/netid"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 2 * time.Second

// ConnectivitySink receives connectivity events. The engine implements it.
type ConnectivitySink interface {
	OnNetworkConnect(t netid.ConnectionType, id netid.NetworkID)
	OnNetworkDisconnect(id netid.NetworkID)
	OnDefaultNetworkChangedV2(t netid.ConnectionType, id netid.NetworkID)
	OnDefaultNetworkChangeEvent(id netid.NetworkID)
	OnDefaultNetworkUnavailable()
	PurgeActiveNetworkList(ids []netid.NetworkID)
}

// Interface is the part of a network interface the monitor looks at.
type Interface struct {
	Name     string
	Index    int
	Up       bool
	Loopback bool
	// Routable is set when the interface has a global unicast address.
	Routable bool
}

// Lister returns the current interfaces.
type Lister func() ([]Interface, error)

// SystemInterfaces lists the host's interfaces with net.Interfaces.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(ifaces))
	for _, ifc := range ifaces {
		info := Interface{
			Name:     ifc.Name,
			Index:    ifc.Index,
			Up:       ifc.Flags&net.FlagUp != 0,
			Loopback: ifc.Flags&net.FlagLoopback != 0,
		}
		if addrs, err := ifc.Addrs(); err == nil {
			for _, a := range addrs {
				if ipn, ok := a.(*net.IPNet); ok && ipn.IP.IsGlobalUnicast() {
					info.Routable = true
					break
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// Classify guesses the connection type from an interface name.
func Classify(name string) netid.ConnectionType {
	n := strings.ToLower(name)
	switch {
	case strings.HasPrefix(n, "wl"), strings.HasPrefix(n, "wifi"), strings.HasPrefix(n, "ath"):
		return netid.TypeWiFi
	case strings.HasPrefix(n, "wwan"), strings.HasPrefix(n, "rmnet"), strings.HasPrefix(n, "ccmni"),
		strings.HasPrefix(n, "pdp_ip"), strings.HasPrefix(n, "usb"):
		return netid.TypeCellular
	case strings.HasPrefix(n, "eth"), strings.HasPrefix(n, "en"):
		return netid.TypeEthernet
	}
	return netid.TypeOther
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLister replaces the interface lister.
func WithLister(l Lister) Option {
	return func(m *Monitor) {
		m.lister = l
	}
}

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// Monitor polls the interface list and reports differences to a sink.
//
// An interface counts as connected when it is up, not loopback and
// routable. The default network is the connected interface with the lowest
// index; the standard library exposes no routing table, so this stands in
// for the OS's preferred route.
type Monitor struct {
	lister      Lister
	interval    time.Duration
	changeEvent bool

	mu       sync.Mutex
	sink     ConnectivitySink
	known    map[netid.NetworkID]netid.ConnectionType
	def      *netid.NetworkID
	resync   bool
	cancel   context.CancelFunc
	finished chan struct{}
}

// New creates a Monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		lister:   SystemInterfaces,
		interval: DefaultInterval,
		known:    make(map[netid.NetworkID]netid.ConnectionType),
		resync:   true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name implements lifecycle.Releaser.
func (m *Monitor) Name() string { return "network_monitor" }

// UseChangeEvent makes the monitor report default changes through the
// single-id change event instead of the typed variant.
func (m *Monitor) UseChangeEvent(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeEvent = enabled
}

// Start performs an initial poll and then polls every interval until
// Release is called.
func (m *Monitor) Start(sink ConnectivitySink) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return errors.New("network monitor already started")
	}
	m.sink = sink
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.finished = make(chan struct{})
	m.mu.Unlock()

	if err := m.Poll(); err != nil {
		slog.Warn("initial interface poll failed", "error", err)
	}

	go m.loop(ctx)
	return nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.finished)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Poll(); err != nil {
				slog.Warn("interface poll failed", "error", err)
			}
		}
	}
}

// Release stops polling and waits for the poll loop to exit.
func (m *Monitor) Release(ctx context.Context) error {
	m.mu.Lock()
	cancel, finished := m.cancel, m.finished
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll lists interfaces once and reports what changed since the last poll.
//
// After a failed poll (and on the first one) ids that vanished are reported
// as one purge of the stale set instead of individual disconnects, since
// disconnects may have been missed in between.
func (m *Monitor) Poll() error {
	ifaces, err := m.lister()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sink == nil {
		return errors.New("network monitor has no sink")
	}
	if err != nil {
		m.resync = true
		return err
	}

	current := make(map[netid.NetworkID]netid.ConnectionType)
	var order []netid.NetworkID
	for _, ifc := range ifaces {
		if !ifc.Up || ifc.Loopback || !ifc.Routable {
			continue
		}
		id := netid.NetworkID(ifc.Index)
		current[id] = Classify(ifc.Name)
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var gone []netid.NetworkID
	for id := range m.known {
		if _, ok := current[id]; !ok {
			gone = append(gone, id)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })

	// Connects go first so a new default is already active; departures go
	// last so the default has moved off a vanishing network before it is
	// removed.
	var next *netid.NetworkID
	if len(order) > 0 {
		next = &order[0]
	}

	for _, id := range order {
		if _, ok := m.known[id]; !ok {
			m.sink.OnNetworkConnect(current[id], id)
		}
	}

	switch {
	case next == nil && m.def != nil:
		m.sink.OnDefaultNetworkUnavailable()
	case next != nil && (m.def == nil || *m.def != *next):
		if m.changeEvent {
			m.sink.OnDefaultNetworkChangeEvent(*next)
		} else {
			m.sink.OnDefaultNetworkChangedV2(current[*next], *next)
		}
	}

	if len(gone) > 0 {
		if m.resync {
			m.sink.PurgeActiveNetworkList(gone)
		} else {
			for _, id := range gone {
				m.sink.OnNetworkDisconnect(id)
			}
		}
	}

	m.known = current
	m.def = nil
	if next != nil {
		id := *next
		m.def = &id
	}
	m.resync = false
	return nil
}
