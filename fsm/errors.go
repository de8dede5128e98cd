package fsm

import (
	"errors"
	"fmt"
)

// Configuration errors raised while assembling or building a transition map.
// All of them are fatal: a map that fails Build must not be used.
var (
	// ErrNoStates indicates Build was called on an empty map.
	ErrNoStates = errors.New("state machine contains no states")
	// ErrNoStartState indicates the map has no start state.
	ErrNoStartState = errors.New("state machine has no start state")
	// ErrNoEndState indicates the map has no end state.
	ErrNoEndState = errors.New("state machine has no end state")
	// ErrDuplicateState indicates a state with the same qualified name is
	// already registered.
	ErrDuplicateState = errors.New("state is already present in map")
	// ErrSecondStartState indicates a second start state was registered.
	ErrSecondStartState = errors.New("start state already exists")
	// ErrUnknownState indicates a referenced state is not registered in the
	// map.
	ErrUnknownState = errors.New("state not found in map")
	// ErrUnreachableState indicates a state has no inbound transitions.
	ErrUnreachableState = errors.New("state has no inbound transitions, hence is unreachable")
	// ErrDeadEndState indicates a non-end state has no outbound transitions.
	ErrDeadEndState = errors.New("state has no outbound transitions, hence is dead-end")
	// ErrAlreadyBuilt indicates a mutation was attempted on a frozen map.
	ErrAlreadyBuilt = errors.New("transition map is already built")
	// ErrNotBuilt indicates the map is used before Build.
	ErrNotBuilt = errors.New("transition map not yet built")
)

// ErrFiniteState is the generic state machine failure. It covers conditions
// with no more specific kind, such as a failing error-state entry action or a
// transition failure on a machine with no error state.
var ErrFiniteState = errors.New("finite state machine failure")

// Transition resolution errors. Both derived errors match
// ErrTransitionNotFound under errors.Is.
var (
	// ErrTransitionNotFound indicates no transition could be selected for an
	// event.
	ErrTransitionNotFound = errors.New("no transition found")
	// ErrNoExitTransitions indicates the current state hierarchy has no
	// outgoing transitions at all.
	ErrNoExitTransitions = fmt.Errorf("%w: no exit transitions from state", ErrTransitionNotFound)
	// ErrNoMatchingTransition indicates outgoing transitions exist but no
	// guard accepted the event.
	ErrNoMatchingTransition = fmt.Errorf("%w: no matching exit transition", ErrTransitionNotFound)
)

// ErrMaxTransitionsExceeded indicates the loop-protection bound configured
// with SetMaxTransitions was tripped.
var ErrMaxTransitionsExceeded = errors.New("max transition count exceeded")

// RollbackError is returned by an action to abort a transition cleanly. The
// machine's state is preserved and the error propagates to the caller of
// ApplyEvent. Actions are responsible for undoing their own partial work
// before returning a rollback.
type RollbackError struct {
	Err error
}

// Rollback wraps err as a transition rollback. A nil err is permitted.
func Rollback(err error) *RollbackError {
	return &RollbackError{Err: err}
}

func (e *RollbackError) Error() string {
	if e.Err == nil {
		return "transition rolled back"
	}

	return fmt.Sprintf("transition rolled back: %v", e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

// FailureError is returned by an action to signal that the transition failed.
// The machine redirects to the configured error state, fires its entry action,
// notifies listeners, and then returns the failure to the caller of
// ApplyEvent.
type FailureError struct {
	Err error
}

// Failure wraps err as a transition failure. A nil err is permitted.
func Failure(err error) *FailureError {
	return &FailureError{Err: err}
}

func (e *FailureError) Error() string {
	if e.Err == nil {
		return "transition failed"
	}

	return fmt.Sprintf("transition failed: %v", e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// StateError wraps an error with the state it occurred in.
type StateError struct {
	State string
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// WrapStateError wraps an error with state context. Returns nil if err is nil.
func WrapStateError(state string, err error) error {
	if err == nil {
		return nil
	}

	return &StateError{State: state, Err: err}
}

// TransitionNotFoundError carries the lookup details of a failed transition
// resolution. It matches ErrTransitionNotFound and one of
// ErrNoExitTransitions or ErrNoMatchingTransition under errors.Is.
type TransitionNotFoundError struct {
	State string
	Event Event
	Kind  error
}

func (e *TransitionNotFoundError) Error() string {
	return fmt.Sprintf("%v: state=%s event=%v", e.Kind, e.State, e.Event)
}

func (e *TransitionNotFoundError) Unwrap() error {
	return e.Kind
}
