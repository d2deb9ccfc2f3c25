package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/log"
)

func newTestStateManager(t *testing.T) (*StateManager, *event.Bus) {
	t.Helper()
	bus := event.NewBus(log.NewNullLogger())
	return NewStateManager(log.NewNullLogger(), bus), bus
}

func TestStateManagerInitialState(t *testing.T) {
	t.Parallel()
	m, _ := newTestStateManager(t)
	assert.Equal(t, StateUninitialized, m.Current())
	assert.True(t, m.IsAtLeast(StateUninitialized))
	assert.False(t, m.IsAtLeast(StateLoading))
}

func TestStateManagerTransitionEmitsEvent(t *testing.T) {
	t.Parallel()
	m, bus := newTestStateManager(t)

	var got []event.Event
	bus.Subscribe(event.KindStateChanged, func(evt event.Event) {
		got = append(got, evt)
	})

	m.TransitionTo(StateLoading)
	m.TransitionTo(StateDOMReady)

	require.Len(t, got, 2)
	require.NotNil(t, got[0].State)
	assert.Equal(t, int(StateUninitialized), got[0].State.Previous)
	assert.Equal(t, int(StateLoading), got[0].State.Current)
	assert.Equal(t, int(StateDOMReady), got[1].State.Current)
}

func TestStateManagerSameStateIsNoOp(t *testing.T) {
	t.Parallel()
	m, bus := newTestStateManager(t)

	count := 0
	bus.Subscribe(event.KindStateChanged, func(event.Event) { count++ })

	m.TransitionTo(StateLoading)
	m.TransitionTo(StateLoading)
	assert.Equal(t, 1, count)
}

func TestStateManagerErrorIsAbsorbing(t *testing.T) {
	t.Parallel()
	m, _ := newTestStateManager(t)

	m.TransitionTo(StateInteractive)
	m.TransitionTo(StateError)
	assert.Equal(t, StateError, m.Current())
	assert.False(t, m.IsAtLeast(StateLoading), "IsAtLeast must be false in the error state")

	// Only a reload exits the error state.
	m.TransitionTo(StateFullyReady)
	assert.Equal(t, StateError, m.Current())
	m.TransitionTo(StateLoading)
	assert.Equal(t, StateLoading, m.Current())
}

func TestStateManagerOnStateCallback(t *testing.T) {
	t.Parallel()
	m, _ := newTestStateManager(t)

	var entered []State
	m.OnState(StateDOMReady, func(s State) { entered = append(entered, s) })

	m.TransitionTo(StateLoading)
	m.TransitionTo(StateDOMReady)
	require.Len(t, entered, 1)
	assert.Equal(t, StateDOMReady, entered[0])
}

func TestStateManagerWaitShortCircuits(t *testing.T) {
	t.Parallel()
	m, _ := newTestStateManager(t)
	m.TransitionTo(StateInteractive)

	f := m.WaitForMinimumState(StateDOMReady, time.Second)
	require.True(t, f.Settled(), "wait for an already reached state must not block")
	ok, err := f.WaitFor(time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStateManagerWaitResolvesOnTransition(t *testing.T) {
	t.Parallel()
	m, _ := newTestStateManager(t)

	f := m.WaitForState(StateFullyReady, 2*time.Second)
	go func() {
		m.TransitionTo(StateLoading)
		m.TransitionTo(StateFullyReady)
	}()

	ok, err := f.WaitFor(2 * time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStateManagerWaitTimesOut(t *testing.T) {
	t.Parallel()
	m, _ := newTestStateManager(t)

	start := time.Now()
	ok, err := m.WaitForState(StateFullyReady, 50*time.Millisecond).WaitFor(time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStateManagerTimeInState(t *testing.T) {
	t.Parallel()
	m, _ := newTestStateManager(t)
	m.TransitionTo(StateLoading)
	time.Sleep(20 * time.Millisecond)
	assert.GreaterOrEqual(t, m.TimeInState(), 20*time.Millisecond)
}
