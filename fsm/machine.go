package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
)

// StateChangeListener is notified after the machine moves to a new state.
// Listeners are called inside the machine's critical section, in registration
// order: they must be fast and must not call back into the same machine. They
// may post work to other goroutines.
type StateChangeListener interface {
	StateChanged(entity Entity, oldState, newState *State)
}

// StateChangeListenerFunc adapts a plain function to StateChangeListener.
type StateChangeListenerFunc func(entity Entity, oldState, newState *State)

// StateChanged calls the wrapped function.
func (f StateChangeListenerFunc) StateChanged(entity Entity, oldState, newState *State) {
	f(entity, oldState, newState)
}

// StateMachine applies events to an entity according to a built
// TransitionMap. All event application is strictly serialized: concurrent
// callers of ApplyEvent never interleave, and observers always see either the
// pre- or post-transition state.
type StateMachine struct {
	mu sync.Mutex

	name   string
	graph  *TransitionMap
	entity Entity
	state  *State

	transitionCount     int
	maxTransitions      int
	listeners           []StateChangeListener
	forwardChainEnabled bool

	logger *slog.Logger
}

// NewStateMachine creates a state machine over a built transition map. The
// machine starts in the map's start state. The entity is opaque to the engine
// and is passed verbatim to guards, actions, and listeners.
func NewStateMachine(graph *TransitionMap, entity Entity) *StateMachine {
	return &StateMachine{
		name:   "machine-" + uuid.NewString()[:8],
		graph:  graph,
		entity: entity,
		state:  graph.StartState(),
		logger: slog.Default(),
	}
}

// SetName sets the machine name used in logs, metrics, and spans.
func (sm *StateMachine) SetName(name string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.name = name
}

// Name returns the machine name.
func (sm *StateMachine) Name() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return sm.name
}

// SetLogger replaces the machine's logger. A nil logger restores the default.
func (sm *StateMachine) SetLogger(logger *slog.Logger) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if logger == nil {
		logger = slog.Default()
	}

	sm.logger = logger
}

// SetMaxTransitions bounds the total number of transitions this machine may
// take, as protection against transition loops. Zero means unbounded.
func (sm *StateMachine) SetMaxTransitions(max int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.maxTransitions = max
}

// SetForwardChainEnabled controls whether a successful transition re-attempts
// the same event from the new state.
func (sm *StateMachine) SetForwardChainEnabled(enabled bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.forwardChainEnabled = enabled
}

// ForwardChainEnabled returns whether forward chaining is enabled.
func (sm *StateMachine) ForwardChainEnabled() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return sm.forwardChainEnabled
}

// State returns the current state.
func (sm *StateMachine) State() *State {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return sm.state
}

// Entity returns the entity this machine manages.
func (sm *StateMachine) Entity() Entity {
	return sm.entity
}

// IsEnd returns true if the machine is in an end state.
func (sm *StateMachine) IsEnd() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return sm.state.IsEnd()
}

// ErrorState returns the map's error state or nil if none is configured.
func (sm *StateMachine) ErrorState() *State {
	return sm.graph.ErrorState()
}

// AddListener registers a state change listener.
func (sm *StateMachine) AddListener(listener StateChangeListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.listeners = append(sm.listeners, listener)
}

// RemoveListener removes a previously registered listener. Returns true if the
// listener was found and removed.
func (sm *StateMachine) RemoveListener(listener StateChangeListener) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for i, l := range sm.listeners {
		if l == listener {
			sm.listeners = append(sm.listeners[:i], sm.listeners[i+1:]...)

			return true
		}
	}

	return false
}

// CreateStateTransitionLatch creates a latch that waits for the machine to
// reach the expected state (or any of its substates) or, when endOnError is
// true, the map's error state. Listener registration and the initial state
// snapshot happen atomically with respect to event application, so a
// transition firing concurrently with latch creation is never missed.
func (sm *StateMachine) CreateStateTransitionLatch(expected *State, endOnError bool) *StateTransitionLatch {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	latch := newStateTransitionLatch(sm, expected, endOnError)
	sm.listeners = append(sm.listeners, latch)
	latch.push(sm.state)

	return latch
}

// ApplyEvent delivers an event to the machine, selecting a matching transition
// and firing its actions. Returns nil on success, including the benign case of
// a self-transition.
//
// Error returns follow the action contract: a RollbackError from any action
// aborts the transition with the state preserved; a FailureError redirects the
// machine to the error state and is returned after listeners have observed the
// move; any other action error aborts with the state preserved and propagates
// as-is. Resolution failures return an error matching ErrTransitionNotFound.
//
// The context is passed through to actions. The engine itself only blocks on
// its own mutex.
func (sm *StateMachine) ApplyEvent(ctx context.Context, event Event) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ctx, span := startApplySpan(ctx, sm.name, sm.state.Name())
	defer span.End()

	start := time.Now()

	err := sm.applyEventLocked(ctx, event)

	outcome := outcomeSuccess

	switch {
	case err == nil:
	case isRollback(err):
		outcome = outcomeRollback
	case isFailure(err):
		outcome = outcomeFailure
	default:
		outcome = outcomeError
	}

	applyTotal.WithLabelValues(sm.name, outcome).Inc()
	applyDuration.WithLabelValues(sm.name, outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "applied")
	}

	return err
}

func isRollback(err error) bool {
	var rollback *RollbackError

	return errors.As(err, &rollback)
}

func isFailure(err error) bool {
	var failure *FailureError

	return errors.As(err, &failure)
}

// applyEventLocked runs the transition algorithm, looping while forward
// chaining finds further transitions for the same event. Callers must hold
// sm.mu.
func (sm *StateMachine) applyEventLocked(ctx context.Context, event Event) error {
	var deferred error

	for {
		changed, deferredOnce, err := sm.applyOnce(ctx, event)
		if err != nil {
			return err
		}

		if deferredOnce != nil {
			deferred = deferredOnce
		}

		if changed && sm.forwardChainEnabled {
			// Chain transitions fired by the same event from the new state.
			// No match ends the chain silently.
			if _, chainErr := sm.graph.NextTransition(sm.state, event, sm.entity); chainErr == nil {
				continue
			}
		}

		break
	}

	return deferred
}

// applyOnce performs a single transition step: resolution, exit actions up to
// the least common ancestor, the transition action, entry actions down to the
// next state, error-state fallback, state update, and listener notification.
//
// A FailureError redirected to the error state is returned as deferred so the
// caller can surface it after any forward chaining. Callers must hold sm.mu.
func (sm *StateMachine) applyOnce(ctx context.Context, event Event) (changed bool, deferred, err error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}

	if sm.maxTransitions > 0 {
		sm.transitionCount++
		if sm.transitionCount > sm.maxTransitions {
			return false, nil, fmt.Errorf("%w: state=%s count=%d",
				ErrMaxTransitionsExceeded, sm.state.Name(), sm.transitionCount)
		}
	}

	transition, err := sm.graph.NextTransition(sm.state, event, sm.entity)
	if err != nil {
		return false, nil, err
	}

	next := transition.Output()

	sm.logger.DebugContext(ctx, "Executing state transition",
		"machine", sm.name,
		"from", sm.state.Name(),
		"transition", transition.Name(),
		"to", next.Name())

	actionErr := sm.fireActions(ctx, event, transition, next)
	if actionErr != nil {
		var failure *FailureError
		if !errors.As(actionErr, &failure) {
			// Rollbacks and unclassified action errors abort with the state
			// preserved.
			return false, nil, actionErr
		}

		// Transition failure: redirect to the error state if one exists.
		errorState := sm.graph.ErrorState()
		if errorState == nil {
			return false, nil, fmt.Errorf(
				"%w: transition failed with no error state configured: %w", ErrFiniteState, actionErr)
		}

		if entry := errorState.EntryAction(); entry != nil {
			if entryErr := entry.Do(ctx, event, sm.entity, transition, EntryAction); entryErr != nil {
				return false, nil, fmt.Errorf(
					"%w: transition to error state failed: %w", ErrFiniteState, entryErr)
			}
		}

		next = errorState
		deferred = actionErr
	}

	if sm.state != next {
		prev := sm.state
		sm.state = next

		transitionsTotal.WithLabelValues(sm.name, prev.Name(), next.Name()).Inc()

		sm.logger.DebugContext(ctx, "Entering new state",
			"machine", sm.name,
			"from", prev.Name(),
			"to", next.Name())

		for _, listener := range sm.listeners {
			listener.StateChanged(sm.entity, prev, next)
		}

		changed = true
	}

	return changed, deferred, nil
}

// fireActions fires exit actions from the current state up to (but excluding)
// the least common ancestor with next, then the transition action, then entry
// actions from just below the least common ancestor down to next. The
// ancestor's own actions never fire; a self-transition fires only the
// transition action.
func (sm *StateMachine) fireActions(ctx context.Context, event Event, transition *Transition, next *State) error {
	lca := sm.state.LeastCommonAncestor(next)

	if sm.state != next {
		for exitState := sm.state; exitState != nil && exitState != lca; exitState = exitState.Parent() {
			if exit := exitState.ExitAction(); exit != nil {
				sm.logger.DebugContext(ctx, "Executing exit action",
					"machine", sm.name, "state", exitState.Name())

				if err := exit.Do(ctx, event, sm.entity, transition, ExitAction); err != nil {
					return err
				}
			}
		}
	}

	if action := transition.Action(); action != nil {
		sm.logger.DebugContext(ctx, "Executing transition action",
			"machine", sm.name, "transition", transition.Name())

		if err := action.Do(ctx, event, sm.entity, transition, TransitionAction); err != nil {
			return err
		}
	}

	if sm.state != next {
		entryStates := next.hierarchy

		startIndex := 0

		if lca != nil {
			for i, state := range entryStates {
				if state == lca {
					startIndex = i + 1

					break
				}
			}
		}

		for _, entryState := range entryStates[startIndex:] {
			if entry := entryState.EntryAction(); entry != nil {
				sm.logger.DebugContext(ctx, "Executing entry action",
					"machine", sm.name, "state", entryState.Name())

				if err := entry.Do(ctx, event, sm.entity, transition, EntryAction); err != nil {
					return err
				}
			}
		}
	}

	return nil
}
