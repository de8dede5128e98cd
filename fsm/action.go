package fsm

import "context"

// ActionKind tells an action why it is being fired during a transition.
type ActionKind int

const (
	// ExitAction fires when leaving a state.
	ExitAction ActionKind = iota
	// TransitionAction fires while traversing a transition.
	TransitionAction
	// EntryAction fires when entering a state.
	EntryAction
)

func (k ActionKind) String() string {
	switch k {
	case ExitAction:
		return "exit"
	case TransitionAction:
		return "transition"
	case EntryAction:
		return "entry"
	default:
		return "unknown"
	}
}

// Action is a user procedure fired on state entry, state exit, or transition
// traversal. Actions run serially inside the machine's critical section; they
// may perform I/O but must not call back into the same machine.
//
// An action signals a clean abort by returning an error created with
// Rollback, in which case the machine's state is preserved, or a failure by
// returning an error created with Failure, in which case the machine falls
// back to the configured error state. Any other error aborts the transition
// without a state change and propagates to the caller as-is.
//
// The context is the caller's: a cancelled context means the event delivery
// is being abandoned, and long-running actions should honor it.
type Action interface {
	Do(ctx context.Context, event Event, entity Entity, transition *Transition, kind ActionKind) error
}

// ActionFunc adapts a plain function to the Action interface.
type ActionFunc func(ctx context.Context, event Event, entity Entity, transition *Transition, kind ActionKind) error

// Do calls the wrapped function.
func (f ActionFunc) Do(
	ctx context.Context, event Event, entity Entity, transition *Transition, kind ActionKind,
) error {
	return f(ctx, event, entity, transition, kind)
}
