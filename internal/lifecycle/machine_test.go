package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/netengine/internal/errs"
)

func noop() error { return nil }

func TestMachine_HappyPath(t *testing.T) {
	var running atomic.Int32
	m := New(func() { running.Add(1) })
	assert.Equal(t, StateCreated, m.State())

	require.NoError(t, m.Start(noop))
	assert.Equal(t, StateStarting, m.State())

	require.NoError(t, m.MarkRunning())
	assert.Equal(t, StateRunning, m.State())
	assert.Equal(t, int32(1), running.Load())

	require.NoError(t, m.Terminate(context.Background()))
	assert.Equal(t, StateTerminated, m.State())

	assert.Equal(t, []Transition{
		{StateCreated, StateStarting},
		{StateStarting, StateRunning},
		{StateRunning, StateTerminating},
		{StateTerminating, StateTerminated},
	}, m.History())
}

func TestMachine_MarkRunningOnlyOnce(t *testing.T) {
	var calls atomic.Int32
	m := New(func() { calls.Add(1) })
	require.NoError(t, m.Start(noop))

	require.NoError(t, m.MarkRunning())
	err := m.MarkRunning()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMachine_NilCallback(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Start(noop))
	assert.NoError(t, m.MarkRunning())
}

func TestMachine_StartTwice(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Start(noop))

	err := m.Start(noop)
	assert.Equal(t, errs.CodeAlreadyStarted, errs.CodeOf(err))
}

func TestMachine_StartAfterTerminate(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Terminate(context.Background()))

	err := m.Start(noop)
	assert.True(t, errs.IsEngineNotRunning(err))
}

func TestMachine_LaunchFailureTerminates(t *testing.T) {
	m := New(nil)
	boom := errors.New("boom")

	err := m.Start(func() error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateTerminated, m.State())
}

func TestMachine_AdmitOutsideRunning(t *testing.T) {
	m := New(nil)
	called := false
	apply := func() error { called = true; return nil }

	err := m.Admit("start_stream", Immediate, nil, apply)
	assert.True(t, errs.IsEngineNotRunning(err), "created")

	require.NoError(t, m.Start(noop))
	err = m.Admit("start_stream", Immediate, nil, apply)
	assert.True(t, errs.IsEngineNotRunning(err), "starting")

	require.NoError(t, m.Terminate(context.Background()))
	err = m.Admit("start_stream", Immediate, nil, apply)
	assert.True(t, errs.IsEngineNotRunning(err), "terminated")

	assert.False(t, called)
}

func TestMachine_AdmitWhileRunning(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Start(noop))
	require.NoError(t, m.MarkRunning())

	called := false
	err := m.Admit("start_stream", Immediate, nil, func() error { called = true; return nil })

	require.NoError(t, err)
	assert.True(t, called)
}

func TestMachine_BufferedCallsReplayFIFO(t *testing.T) {
	var order []string
	m := New(func() { order = append(order, "on_running") })
	require.NoError(t, m.Start(noop))

	for _, name := range []string{"a", "b", "c"} {
		name := name
		err := m.Admit("register", Bufferable, nil, func() error {
			order = append(order, name)
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, m.PendingLen())
	assert.Empty(t, order, "nothing runs before running")

	require.NoError(t, m.MarkRunning())
	assert.Equal(t, []string{"a", "b", "c", "on_running"}, order)
	assert.Equal(t, 0, m.PendingLen())
}

func TestMachine_BufferableRejectedWhenCreated(t *testing.T) {
	m := New(nil)
	err := m.Admit("register", Bufferable, nil, noop)
	assert.True(t, errs.IsEngineNotRunning(err))
}

func TestMachine_ReserveFailsSynchronously(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Start(noop))
	dup := errs.New(errs.CodeDuplicateRegistration, "register", "taken")

	err := m.Admit("register", Bufferable, func() error { return dup }, noop)

	assert.True(t, errs.IsDuplicateRegistration(err))
	assert.Equal(t, 0, m.PendingLen())
}

func TestMachine_TerminateDropsBufferedCalls(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Start(noop))

	ran := false
	require.NoError(t, m.Admit("register", Bufferable, nil, func() error { ran = true; return nil }))
	require.NoError(t, m.Terminate(context.Background()))

	assert.Error(t, m.MarkRunning())
	assert.False(t, ran)
}

func TestMachine_TerminateReleasesInReverseOrder(t *testing.T) {
	m := New(nil)
	var released []string
	for _, name := range []string{"transport", "network_monitor", "proxy_monitor"} {
		name := name
		require.True(t, m.Own(Resource(name, func(context.Context) error {
			assert.Equal(t, StateTerminating, m.State())
			released = append(released, name)
			return nil
		})))
	}

	require.NoError(t, m.Terminate(context.Background()))

	assert.Equal(t, []string{"proxy_monitor", "network_monitor", "transport"}, released)
	assert.False(t, m.Own(Resource("late", func(context.Context) error { return nil })))
}

func TestMachine_ReleaseErrorStillTerminates(t *testing.T) {
	m := New(nil)
	m.Own(Resource("broken", func(context.Context) error { return errors.New("stuck") }))

	require.NoError(t, m.Terminate(context.Background()))
	assert.Equal(t, StateTerminated, m.State())

	select {
	case <-m.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestMachine_ConcurrentTerminate(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Start(noop))
	require.NoError(t, m.MarkRunning())

	var releases atomic.Int32
	m.Own(Resource("transport", func(context.Context) error {
		releases.Add(1)
		time.Sleep(5 * time.Millisecond)
		return nil
	}))

	const n = 32
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- m.Terminate(context.Background())
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		assert.NoError(t, err)
	}

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("machine never reached terminated")
	}

	assert.Equal(t, int32(1), releases.Load())
	assert.Equal(t, []Transition{
		{StateCreated, StateStarting},
		{StateStarting, StateRunning},
		{StateRunning, StateTerminating},
		{StateTerminating, StateTerminated},
	}, m.History())
}

// TestMachine_AdmitRacesTerminate checks that an admitted call either runs
// entirely before termination begins or is rejected.
func TestMachine_AdmitRacesTerminate(t *testing.T) {
	for i := 0; i < 50; i++ {
		m := New(nil)
		require.NoError(t, m.Start(noop))
		require.NoError(t, m.MarkRunning())

		var released atomic.Bool
		m.Own(Resource("handle", func(context.Context) error {
			released.Store(true)
			return nil
		}))

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := m.Admit("start_stream", Immediate, nil, func() error {
					assert.False(t, released.Load(), "admitted call saw a released handle")
					return nil
				})
				if err != nil {
					assert.True(t, errs.IsEngineNotRunning(err))
				}
			}()
		}
		require.NoError(t, m.Terminate(context.Background()))
		wg.Wait()
	}
}

func TestMachine_ObserveAnyState(t *testing.T) {
	m := New(nil)
	var seen State = -1
	require.NoError(t, m.Observe(func(s State) error { seen = s; return nil }))
	assert.Equal(t, StateCreated, seen)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "state(9)", State(9).String())
}
