package browser

import (
	"sync"
	"time"

	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/future"
	"github.com/headlessweb/hweb/log"
)

// State is the browser lifecycle state. States are ordered; "at least
// state X" queries compare ordinals. StateError is absorbing: it can be
// entered from anywhere but left only by re-entering StateLoading, which
// resets progress (a new navigation).
type State int

// Browser lifecycle states, in order of increasing readiness.
const (
	StateUninitialized State = iota
	StateLoading
	StateDOMLoading
	StateDOMReady
	StateResourcesLoading
	StateResourcesLoaded
	StateInteractive
	StateFullyReady
	StateFrameworkReady

	// StateError sits outside the ordering; IsAtLeast is always false
	// while in it.
	StateError State = 100
)

var stateNames = map[State]string{
	StateUninitialized:    "uninitialized",
	StateLoading:          "loading",
	StateDOMLoading:       "domLoading",
	StateDOMReady:         "domReady",
	StateResourcesLoading: "resourcesLoading",
	StateResourcesLoaded:  "resourcesLoaded",
	StateInteractive:      "interactive",
	StateFullyReady:       "fullyReady",
	StateFrameworkReady:   "frameworkReady",
	StateError:            "error",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// StateManager tracks the browser lifecycle state machine and answers
// blocking and non-blocking "is at least state X" queries.
type StateManager struct {
	logger *log.Logger
	bus    *event.Bus

	mu        sync.Mutex
	current   State
	enteredAt time.Time
	callbacks map[State][]func(State)
}

// NewStateManager returns a manager in StateUninitialized.
func NewStateManager(logger *log.Logger, bus *event.Bus) *StateManager {
	return &StateManager{
		logger:    logger,
		bus:       bus,
		current:   StateUninitialized,
		enteredAt: time.Now(),
		callbacks: make(map[State][]func(State)),
	}
}

// Current returns the current state.
func (m *StateManager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// TimeInState returns how long the current state has been held.
func (m *StateManager) TimeInState() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.enteredAt)
}

// IsAtLeast reports whether the current state has reached min. It is
// always false in StateError.
func (m *StateManager) IsAtLeast(min State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != StateError && m.current >= min
}

// OnState registers a callback invoked whenever state is entered.
func (m *StateManager) OnState(state State, fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[state] = append(m.callbacks[state], fn)
}

// TransitionTo moves the state machine to next. A transition to the
// current state is a no-op. Transition validity is advisory: a backward
// transition that is not a reset through StateLoading or StateError is
// logged but still applied — the state manager trusts its callers.
// StateError is only exitable via StateLoading.
func (m *StateManager) TransitionTo(next State) {
	m.mu.Lock()
	prev := m.current
	if next == prev {
		m.mu.Unlock()
		return
	}
	if prev == StateError && next != StateLoading {
		m.mu.Unlock()
		m.logger.Debugf("StateManager:transition", "ignoring %s -> %s, error state requires a reload", prev, next)
		return
	}
	if next < prev && next != StateLoading && next != StateError {
		m.logger.Warnf("StateManager:transition", "backward transition %s -> %s", prev, next)
	}
	m.current = next
	m.enteredAt = time.Now()
	cbs := make([]func(State), len(m.callbacks[next]))
	copy(cbs, m.callbacks[next])
	m.mu.Unlock()

	m.logger.Debugf("StateManager:transition", "%s -> %s", prev, next)
	for _, fn := range cbs {
		fn(next)
	}
	m.bus.Emit(event.NewStateChange(int(prev), int(next), next.String()))
}

// WaitForState returns a future resolved true when target is entered, or
// false after timeout. It short-circuits if the state already matches.
func (m *StateManager) WaitForState(target State, timeout time.Duration) *future.Future[bool] {
	return m.waitFor(timeout, func(s State) bool { return s == target })
}

// WaitForMinimumState is WaitForState for "at least min" queries.
func (m *StateManager) WaitForMinimumState(min State, timeout time.Duration) *future.Future[bool] {
	return m.waitFor(timeout, func(s State) bool { return s != StateError && s >= min })
}

func (m *StateManager) waitFor(timeout time.Duration, satisfied func(State) bool) *future.Future[bool] {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if satisfied(current) {
		return future.Resolved(true)
	}

	p := future.NewPromise[bool]()
	id := m.bus.SubscribeOnceWithCondition(event.KindStateChanged, func(event.Event) {
		p.Resolve(true)
	}, func(evt event.Event) bool {
		return evt.State != nil && satisfied(State(evt.State.Current))
	})
	if timeout > 0 {
		time.AfterFunc(timeout, func() {
			if p.Resolve(false) {
				m.bus.Unsubscribe(id)
			}
		})
	}
	return p.Future()
}
