package turn

import (
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateListening
	StateDraining
	StateEmitting
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateDraining:
		return "DRAINING"
	case StateEmitting:
		return "EMITTING"
	default:
		return "UNKNOWN"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// Machine is the finite state machine for one session's turn lifecycle.
// IDLE -> LISTENING on speech start; LISTENING -> DRAINING on speech stop;
// DRAINING -> EMITTING -> IDLE once the drain grace period elapses.
// LISTENING -> LISTENING is allowed so a repeated speech-start restarts
// the turn instead of failing.
type Machine struct {
	currentState State
	mu           sync.RWMutex

	listeningStartTime time.Time

	stateChangeListeners []StateListener
}

func NewMachine() *Machine {
	return &Machine{currentState: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (m *Machine) transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateIdle:      {StateListening},
		StateListening: {StateListening, StateDraining, StateIdle},
		StateDraining:  {StateEmitting, StateIdle},
		StateEmitting:  {StateIdle},
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, allowed := range allowedStates {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (m *Machine) Transition(state State, reason string) error {
	m.mu.Lock()

	if !m.transitionValid(m.currentState, state) {
		from := m.currentState
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: state}
	}

	oldState := m.currentState
	m.currentState = state

	if state == StateListening {
		m.listeningStartTime = time.Now()
	}

	event := StateChange{
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}

	// Notify listeners outside the lock to avoid deadlocks.
	listeners := make([]StateListener, len(m.stateChangeListeners))
	copy(listeners, m.stateChangeListeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateChangeListeners = append(m.stateChangeListeners, listener)
}

// ListeningFor reports how long the machine has been in LISTENING;
// zero when not listening.
func (m *Machine) ListeningFor() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.currentState != StateListening {
		return 0
	}
	return time.Since(m.listeningStartTime)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
