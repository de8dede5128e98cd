package fsm

import (
	"context"
	"strings"
	"sync"
)

// StateTransitionLatch blocks a caller until a machine reaches an expected
// state or, optionally, the error state. Waiting for a composite state
// matches any of its descendants: the latch compares qualified-name prefixes.
//
// Latches are created with StateMachine.CreateStateTransitionLatch, which
// registers the latch as a state change listener and seeds it with the
// machine's current state atomically, so a transition racing with latch
// creation cannot be missed.
type StateTransitionLatch struct {
	machine    *StateMachine
	expected   *State
	endOnError bool
	errorState *State

	mu      sync.Mutex
	pending []*State
	notify  chan struct{}

	current         *State
	done            bool
	reachedExpected bool
	reachedError    bool
}

func newStateTransitionLatch(machine *StateMachine, expected *State, endOnError bool) *StateTransitionLatch {
	return &StateTransitionLatch{
		machine:    machine,
		expected:   expected,
		endOnError: endOnError,
		errorState: machine.graph.ErrorState(),
		notify:     make(chan struct{}, 1),
	}
}

// StateChanged enqueues the new state for examination by the waiter. It is
// called inside the machine's critical section and never blocks.
func (l *StateTransitionLatch) StateChanged(_ Entity, _, newState *State) {
	l.push(newState)
}

func (l *StateTransitionLatch) push(state *State) {
	l.mu.Lock()
	l.pending = append(l.pending, state)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *StateTransitionLatch) pop() *State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil
	}

	state := l.pending[0]
	l.pending = l.pending[1:]

	return state
}

// Wait blocks until the machine reaches the expected state, reaches the error
// state (when the latch was created with endOnError), or the context is
// cancelled. It returns the reached state in the first two cases and nil with
// the context's error otherwise. The latch is removed from the machine's
// listeners before Wait returns.
func (l *StateTransitionLatch) Wait(ctx context.Context) (*State, error) {
	defer l.machine.RemoveListener(l)

	for {
		for state := l.pop(); state != nil; state = l.pop() {
			l.mu.Lock()
			l.current = state

			if strings.HasPrefix(state.Name(), l.expected.Name()) {
				l.done = true
				l.reachedExpected = true
			} else if l.endOnError && l.errorState != nil && state.Equal(l.errorState) {
				l.done = true
				l.reachedError = true
			}

			done := l.done
			l.mu.Unlock()

			if done {
				return state, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.notify:
		}
	}
}

// IsDone returns true if the latch has completed, whether by reaching the
// expected state or the error state.
func (l *StateTransitionLatch) IsDone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.done
}

// IsExpected returns true if the latch completed by reaching the expected
// state.
func (l *StateTransitionLatch) IsExpected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.reachedExpected
}

// IsError returns true if the latch completed by reaching the error state.
func (l *StateTransitionLatch) IsError() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.reachedError
}

// Current returns the last state examined by the waiter, or nil if none has
// been examined yet.
func (l *StateTransitionLatch) Current() *State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.current
}
