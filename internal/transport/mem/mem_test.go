package mem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/netengine/internal/netid"
	"github.com/roach88/netengine/internal/stream"
	"github.com/roach88/netengine/internal/transport"
)

func started(t *testing.T, opts ...Option) *Transport {
	t.Helper()
	tr := New(opts...)
	ready := make(chan error, 1)
	tr.Start(context.Background(), transport.Settings{LogLevel: "info"}, func(err error) { ready <- err })
	select {
	case err := <-ready:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("transport never became ready")
	}
	return tr
}

func open(t *testing.T, tr *Transport, id string, b netid.Binding) *stream.Stream {
	t.Helper()
	s := stream.New(id, b, false, stream.Callbacks{})
	require.NoError(t, tr.OpenStream(s))
	return s
}

// waitPools polls until Pools() matches want.
func waitPools(t *testing.T, tr *Transport, want []PoolInfo) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, tr.Pools())
	}, time.Second, time.Millisecond, "pools: %+v", tr.Pools())
}

func TestTransport_StartGateAndError(t *testing.T) {
	gate := make(chan struct{})
	tr := New(WithStartGate(gate))
	ready := make(chan error, 1)
	tr.Start(context.Background(), transport.Settings{}, func(err error) { ready <- err })

	select {
	case <-ready:
		t.Fatal("ready before gate opened")
	case <-time.After(10 * time.Millisecond):
	}
	close(gate)
	assert.NoError(t, <-ready)

	boom := errors.New("no sockets")
	tr = New(WithStartError(boom))
	tr.Start(context.Background(), transport.Settings{}, func(err error) { ready <- err })
	assert.ErrorIs(t, <-ready, boom)
}

func TestTransport_OpenBeforeStart(t *testing.T) {
	tr := New()
	err := tr.OpenStream(stream.New("s", netid.Unbound, false, stream.Callbacks{}))
	assert.Error(t, err)
}

func TestTransport_PoolPerBinding(t *testing.T) {
	tr := started(t)
	open(t, tr, "a", netid.BindTo(1))
	open(t, tr, "b", netid.BindTo(1))
	open(t, tr, "c", netid.Unbound)

	assert.Equal(t, []PoolInfo{
		{ID: 1, Binding: netid.BindTo(1), Streams: 2},
		{ID: 2, Binding: netid.Unbound, Streams: 1},
	}, tr.Pools())
}

func TestTransport_DrainingPoolTakesNoNewStreams(t *testing.T) {
	tr := started(t)
	old := open(t, tr, "a", netid.BindTo(1))

	tr.DrainPools(netid.BindTo(1))
	open(t, tr, "b", netid.BindTo(1))

	assert.Equal(t, []PoolInfo{
		{ID: 1, Binding: netid.BindTo(1), Draining: true, Streams: 1},
		{ID: 2, Binding: netid.BindTo(1), Streams: 1},
	}, tr.Pools())

	// The in-flight stream completes; the draining pool is retired.
	old.Complete()
	waitPools(t, tr, []PoolInfo{{ID: 2, Binding: netid.BindTo(1), Streams: 1}})
	assert.Equal(t, "1", tr.Stats()["pools.retired"])
}

func TestTransport_DrainIdlePoolRetiresImmediately(t *testing.T) {
	tr := started(t)
	s := open(t, tr, "a", netid.BindTo(3))
	s.Complete()
	waitPools(t, tr, []PoolInfo{{ID: 1, Binding: netid.BindTo(3)}})

	tr.DrainPools(netid.BindTo(3))
	assert.Empty(t, tr.Pools())
}

func TestTransport_DrainAll(t *testing.T) {
	tr := started(t)
	open(t, tr, "a", netid.BindTo(1))
	open(t, tr, "b", netid.BindTo(2))

	tr.DrainAllPools()

	for _, p := range tr.Pools() {
		assert.True(t, p.Draining)
	}
	assert.Equal(t, "0", tr.Stats()["pools.accepting"])
	assert.Equal(t, "2", tr.Stats()["pools.draining"])
}

func TestTransport_Responder(t *testing.T) {
	tr := started(t, WithResponder(func(s *stream.Stream) {
		s.DeliverHeaders(stream.Headers{":status": {"200"}}, false)
		s.DeliverData([]byte("ok"), true)
	}))

	var body []byte
	s := stream.New("a", netid.Unbound, false, stream.Callbacks{
		OnData: func(d []byte, _ bool) { body = append(body, d...) },
	})
	require.NoError(t, tr.OpenStream(s))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream never completed")
	}
	assert.Equal(t, stream.StateCompleted, s.Outcome().State)
	assert.Equal(t, "ok", string(body))
}

func TestTransport_MaxConcurrentStreams(t *testing.T) {
	tr := New()
	ready := make(chan error, 1)
	tr.Start(context.Background(), transport.Settings{MaxConcurrentStreams: 1}, func(err error) { ready <- err })
	require.NoError(t, <-ready)

	open(t, tr, "a", netid.Unbound)
	err := tr.OpenStream(stream.New("b", netid.Unbound, false, stream.Callbacks{}))
	assert.ErrorIs(t, err, ErrTooManyStreams)
}

func TestTransport_ShutdownCancelsOpenStreams(t *testing.T) {
	tr := started(t)
	s := open(t, tr, "a", netid.BindTo(1))

	require.NoError(t, tr.Shutdown(context.Background()))
	require.NoError(t, tr.Shutdown(context.Background()))

	assert.Equal(t, stream.StateCancelled, s.State())
	assert.Empty(t, tr.Pools())
	err := tr.OpenStream(stream.New("b", netid.Unbound, false, stream.Callbacks{}))
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestTransport_RuntimeSettings(t *testing.T) {
	tr := started(t)
	tr.SetProxy(transport.Proxy{Host: "proxy.local", Port: 8080})
	tr.SetLogLevel("debug")
	tr.RefreshDNS()

	stats := tr.Stats()
	assert.Equal(t, "proxy.local:8080", stats["proxy"])
	assert.Equal(t, "debug", stats["log_level"])
	assert.Equal(t, "1", stats["dns.refreshes"])
	assert.Equal(t, transport.Proxy{Host: "proxy.local", Port: 8080}, tr.Proxy())
	assert.Equal(t, "debug", tr.LogLevel())
}
