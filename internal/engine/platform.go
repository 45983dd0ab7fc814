package engine

import (
	"errors"
	"sync"
)

var (
	// ErrPlatformNotInitialized is returned by New when the platform passed
	// in Options was never initialized.
	ErrPlatformNotInitialized = errors.New("platform not initialized")

	// ErrPlatformTornDown is returned by New after Teardown.
	ErrPlatformTornDown = errors.New("platform torn down")

	// ErrEnginesAttached is returned by Teardown while engines still use
	// the platform.
	ErrEnginesAttached = errors.New("engines still attached to platform")
)

// AppContext is the application information shared by every engine in a
// process (name, version and whatever the host wants monitors to see).
type AppContext struct {
	Name       string
	Version    string
	Attributes map[string]string
}

// Platform is the process-wide application context.
//
// Lifecycle rules:
//   - Init: the first call wins; later calls are no-ops and report false
//   - engines attach in New and detach when they reach Terminated
//   - Teardown: only while no engine is attached; after it the platform
//     cannot be initialized or attached again
//
// A Platform is created once by the host and passed by reference to every
// engine through Options.Platform.
//
// Thread-safety: all methods are safe for concurrent use.
type Platform struct {
	mu          sync.Mutex
	app         AppContext
	initialized bool
	tornDown    bool
	attached    map[*Engine]struct{}
}

// NewPlatform creates an uninitialized platform.
func NewPlatform() *Platform {
	return &Platform{attached: make(map[*Engine]struct{})}
}

// Init records the application context. Reports whether this call did the
// initialization.
func (p *Platform) Init(app AppContext) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized || p.tornDown {
		return false
	}
	attrs := make(map[string]string, len(app.Attributes))
	for k, v := range app.Attributes {
		attrs[k] = v
	}
	app.Attributes = attrs
	p.app = app
	p.initialized = true
	return true
}

// App returns the application context and whether Init was called.
func (p *Platform) App() (AppContext, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.app, p.initialized
}

// Attached returns the number of attached engines.
func (p *Platform) Attached() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.attached)
}

// Teardown releases the platform. Idempotent once it succeeded.
func (p *Platform) Teardown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.attached) > 0 {
		return ErrEnginesAttached
	}
	p.tornDown = true
	return nil
}

func (p *Platform) attach(e *Engine) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.tornDown:
		return ErrPlatformTornDown
	case !p.initialized:
		return ErrPlatformNotInitialized
	}
	p.attached[e] = struct{}{}
	return nil
}

func (p *Platform) detach(e *Engine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attached, e)
}
