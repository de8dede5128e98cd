package fsm

import (
	"fmt"
)

// TransitionMap holds the states and transitions composing a state machine
// graph. A map is mutable while it is being assembled; calling Build validates
// the graph and freezes it. A built map is immutable and may be shared by any
// number of StateMachine instances.
type TransitionMap struct {
	startState *State
	errorState *State

	// Registration order is preserved both for deterministic validation and
	// because transition insertion order defines matching priority.
	states   []*State
	byName   map[string]*State
	outgoing map[string][]*Transition

	built bool
}

// NewTransitionMap creates an empty transition map.
func NewTransitionMap() *TransitionMap {
	return &TransitionMap{
		byName:   make(map[string]*State),
		outgoing: make(map[string][]*Transition),
	}
}

// AddState registers a state in the map. It rejects duplicate qualified names
// and a second start state.
func (m *TransitionMap) AddState(state *State) (*State, error) {
	if m.built {
		return nil, ErrAlreadyBuilt
	}

	if _, ok := m.byName[state.Name()]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateState, state.Name())
	}

	if state.IsStart() && m.startState != nil {
		return nil, fmt.Errorf("%w: old=%s new=%s", ErrSecondStartState, m.startState.Name(), state.Name())
	}

	m.states = append(m.states, state)
	m.byName[state.Name()] = state
	m.outgoing[state.Name()] = nil

	if state.IsStart() {
		m.startState = state
	}

	return state, nil
}

// AddStateNamed creates and registers a state in one step. Parent, entry
// action, and exit action may be nil.
func (m *TransitionMap) AddStateNamed(
	base string, kind StateKind, parent *State, entryAction, exitAction Action,
) (*State, error) {
	return m.AddState(NewState(base, kind, parent, entryAction, exitAction))
}

// AddTransition registers a transition. Both endpoints must already be
// registered in this map.
func (m *TransitionMap) AddTransition(transition *Transition) (*Transition, error) {
	if m.built {
		return nil, ErrAlreadyBuilt
	}

	if _, ok := m.byName[transition.Input().Name()]; !ok {
		return nil, fmt.Errorf("%w: input state %s of transition %s",
			ErrUnknownState, transition.Input().Name(), transition.Name())
	}

	if _, ok := m.byName[transition.Output().Name()]; !ok {
		return nil, fmt.Errorf("%w: output state %s of transition %s",
			ErrUnknownState, transition.Output().Name(), transition.Name())
	}

	key := transition.Input().Name()
	m.outgoing[key] = append(m.outgoing[key], transition)

	return transition, nil
}

// AddTransitionNamed creates and registers a transition in one step.
func (m *TransitionMap) AddTransitionNamed(
	name string, guard Guard, input *State, action Action, output *State,
) (*Transition, error) {
	return m.AddTransition(NewTransition(name, guard, input, action, output))
}

// AddRegexTransition creates and registers a transition guarded by a regex
// over the event payload.
func (m *TransitionMap) AddRegexTransition(
	name, pattern string, input *State, action Action, output *State,
) (*Transition, error) {
	guard, err := NewRegexGuard(pattern)
	if err != nil {
		return nil, err
	}

	return m.AddTransition(NewTransition(name, guard, input, action, output))
}

// AddTypeTransition creates and registers a transition guarded by the dynamic
// type of the event, using prototype as the type exemplar.
func (m *TransitionMap) AddTypeTransition(
	name string, prototype Event, input *State, action Action, output *State,
) (*Transition, error) {
	return m.AddTransition(NewTransition(name, TypeOf(prototype), input, action, output))
}

// AddTransitionGroup registers one self-loop transition per given state, all
// sharing the same guard and action. The effect is an event that may fire, via
// the guard, only while the machine is in one of the given states, without
// changing state. Each generated transition is named name:stateQualifiedName.
func (m *TransitionMap) AddTransitionGroup(name string, guard Guard, states []*State, action Action) error {
	for _, state := range states {
		transitionName := fmt.Sprintf("%s:%s", name, state.Name())

		_, err := m.AddTransition(NewTransition(transitionName, guard, state, action, state))
		if err != nil {
			return err
		}
	}

	return nil
}

// SetErrorState designates a fallback state to which control transfers when a
// transition fails. The state must already be registered.
func (m *TransitionMap) SetErrorState(state *State) error {
	if m.built {
		return ErrAlreadyBuilt
	}

	if _, ok := m.byName[state.Name()]; !ok {
		return fmt.Errorf("%w: error state %s", ErrUnknownState, state.Name())
	}

	m.errorState = state

	return nil
}

// StartState returns the start state, or nil before one is registered.
func (m *TransitionMap) StartState() *State {
	return m.startState
}

// ErrorState returns the designated error state or nil if there is none.
func (m *TransitionMap) ErrorState() *State {
	return m.errorState
}

// StateByName returns the registered state with the given qualified name, or
// nil if the map holds no such state.
func (m *TransitionMap) StateByName(qualified string) *State {
	return m.byName[qualified]
}

// States returns all registered states in registration order.
func (m *TransitionMap) States() []*State {
	out := make([]*State, len(m.states))
	copy(out, m.states)

	return out
}

// OutgoingTransitions returns the transitions leaving state directly, in
// insertion order.
func (m *TransitionMap) OutgoingTransitions(state *State) []*Transition {
	transitions := m.outgoing[state.Name()]

	out := make([]*Transition, len(transitions))
	copy(out, transitions)

	return out
}

// Build validates the graph and freezes the map. After a successful Build the
// map is immutable. Build checks that:
//
//   - the map is non-empty, has a start state, and has at least one end state
//   - every non-start state other than the error state is entered by some
//     transition, either directly or via a substate
//   - every non-end state has an outbound transition, either directly, via a
//     substate, or inherited from an enclosing state
//
// When attributing a transition into a substate to the enclosing states, an
// ancestor only counts a transition whose input is not itself inside that
// ancestor. A move that stays within a composite state is not an entry into
// the composite. The outbound check applies the symmetric rule.
func (m *TransitionMap) Build() error {
	if len(m.states) == 0 {
		return ErrNoStates
	}

	if m.startState == nil {
		return ErrNoStartState
	}

	foundEnd := false

	for _, state := range m.states {
		if state.IsEnd() {
			foundEnd = true

			break
		}
	}

	if !foundEnd {
		return ErrNoEndState
	}

	if err := m.checkReachability(); err != nil {
		return err
	}

	if err := m.checkLiveness(); err != nil {
		return err
	}

	m.built = true

	return nil
}

// checkReachability verifies every non-start, non-error state has an inbound
// transition, walking transition outputs up through ancestors with the
// internal-move exclusion.
func (m *TransitionMap) checkReachability() error {
	inbound := make(map[string]*Transition)

	for _, transitions := range m.outgoing {
		for _, transition := range transitions {
			out := transition.Output()
			for out != nil {
				inbound[out.Name()] = transition

				// Ancestors only count transitions arriving from outside
				// themselves.
				if transition.Input().IsSubstateOf(out.Parent()) {
					out = nil
				} else {
					out = out.Parent()
				}
			}
		}
	}

	for _, state := range m.states {
		if state.IsStart() || state == m.errorState {
			continue
		}

		if inbound[state.Name()] == nil {
			return fmt.Errorf("%w: %s", ErrUnreachableState, state.Name())
		}
	}

	return nil
}

// checkLiveness verifies every non-end state has an outbound transition,
// either its own, via a substate, or inherited from the nearest ancestor that
// has one.
func (m *TransitionMap) checkLiveness() error {
	outbound := make(map[string]*Transition)

	for _, transitions := range m.outgoing {
		for _, transition := range transitions {
			in := transition.Input()
			for in != nil {
				outbound[in.Name()] = transition

				if transition.Output().IsSubstateOf(in.Parent()) {
					in = nil
				} else {
					in = in.Parent()
				}
			}
		}
	}

	// States without their own outbound transitions inherit from the nearest
	// ancestor that has one.
	for _, state := range m.states {
		if state.IsEnd() || outbound[state.Name()] != nil {
			continue
		}

		for parent := state.Parent(); parent != nil; parent = parent.Parent() {
			if transition := outbound[parent.Name()]; transition != nil {
				outbound[state.Name()] = transition

				break
			}
		}
	}

	for _, state := range m.states {
		if !state.IsEnd() && outbound[state.Name()] == nil {
			return fmt.Errorf("%w: %s", ErrDeadEndState, state.Name())
		}
	}

	return nil
}

// NextTransition resolves the transition to take for an event delivered in the
// given state. The state hierarchy is walked from the state upward; at each
// level the transitions registered for that level are consulted in insertion
// order, and the first whose guard accepts wins.
//
// Returns ErrNoExitTransitions if no level has any outgoing transitions, and
// ErrNoMatchingTransition if transitions exist but no guard accepted. Both
// match ErrTransitionNotFound.
func (m *TransitionMap) NextTransition(state *State, event Event, entity Entity) (*Transition, error) {
	if !m.built {
		return nil, ErrNotBuilt
	}

	hasExits := false

	for level := state; level != nil; level = level.Parent() {
		transitions := m.outgoing[level.Name()]
		if len(transitions) > 0 {
			hasExits = true
		}

		for _, transition := range transitions {
			if transition.Accept(event, entity) {
				return transition, nil
			}
		}
	}

	if !hasExits {
		return nil, &TransitionNotFoundError{State: state.Name(), Event: event, Kind: ErrNoExitTransitions}
	}

	return nil, &TransitionNotFoundError{State: state.Name(), Event: event, Kind: ErrNoMatchingTransition}
}
