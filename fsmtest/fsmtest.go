// Package fsmtest provides fixtures for testing state machine graphs:
// recording actions and listeners, scriptable failures, and a slow action for
// exercising cancellation.
package fsmtest

import (
	"context"
	"sync"
	"time"

	"github.com/amp-labs/amp-fsm/fsm"
)

// Recorder collects an ordered log of labels emitted by the actions it
// creates. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends a label to the log.
func (r *Recorder) Record(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, label)
}

// Entries returns a copy of the recorded labels in order.
func (r *Recorder) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.entries))
	copy(out, r.entries)

	return out
}

// Reset clears the log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = nil
}

// Action returns an action that records label each time it fires and
// succeeds.
func (r *Recorder) Action(label string) fsm.Action {
	return fsm.ActionFunc(func(context.Context, fsm.Event, fsm.Entity, *fsm.Transition, fsm.ActionKind) error {
		r.Record(label)

		return nil
	})
}

// ErrAction returns an action that records label each time it fires and then
// returns err.
func (r *Recorder) ErrAction(label string, err error) fsm.Action {
	return fsm.ActionFunc(func(context.Context, fsm.Event, fsm.Entity, *fsm.Transition, fsm.ActionKind) error {
		r.Record(label)

		return err
	})
}

// Sleeper returns an action that sleeps for the given duration, honoring
// context cancellation. It records label when it starts.
func (r *Recorder) Sleeper(label string, d time.Duration) fsm.Action {
	return fsm.ActionFunc(func(ctx context.Context, _ fsm.Event, _ fsm.Entity, _ *fsm.Transition, _ fsm.ActionKind) error {
		r.Record(label)

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Change is one observed state change.
type Change struct {
	Old *fsm.State
	New *fsm.State
}

// Listener records state changes delivered to it.
type Listener struct {
	mu      sync.Mutex
	changes []Change
}

// NewListener creates an empty listener.
func NewListener() *Listener {
	return &Listener{}
}

// StateChanged records the change.
func (l *Listener) StateChanged(_ fsm.Entity, oldState, newState *fsm.State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.changes = append(l.changes, Change{Old: oldState, New: newState})
}

// Changes returns a copy of the observed changes in order.
func (l *Listener) Changes() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Change, len(l.changes))
	copy(out, l.changes)

	return out
}

// LinearGraph is a minimal three-state graph: START -> ACTIVE -> END. The
// first transition accepts any event; the second accepts only the payload
// "done".
type LinearGraph struct {
	Map    *fsm.TransitionMap
	Start  *fsm.State
	Middle *fsm.State
	End    *fsm.State
	Rec    *Recorder
}

// NewLinearGraph builds and freezes a linear graph using the given recorder
// for all actions. It panics on assembly errors; the graph is a fixed fixture.
func NewLinearGraph(rec *Recorder) *LinearGraph {
	graph := fsm.NewTransitionMap()

	start := mustState(graph.AddStateNamed("START", fsm.KindStart, nil, nil, nil))
	middle := mustState(graph.AddStateNamed("ACTIVE", fsm.KindActive, nil, rec.Action("entry-ACTIVE"), rec.Action("exit-ACTIVE")))
	end := mustState(graph.AddStateNamed("END", fsm.KindEnd, nil, rec.Action("entry-END"), nil))

	mustTransition(graph.AddTransitionNamed("begin", fsm.Always, start, rec.Action("begin"), middle))
	mustTransition(graph.AddRegexTransition("finish", "done", middle, rec.Action("finish"), end))

	if err := graph.Build(); err != nil {
		panic(err)
	}

	return &LinearGraph{Map: graph, Start: start, Middle: middle, End: end, Rec: rec}
}

func mustState(state *fsm.State, err error) *fsm.State {
	if err != nil {
		panic(err)
	}

	return state
}

func mustTransition(transition *fsm.Transition, err error) *fsm.Transition {
	if err != nil {
		panic(err)
	}

	return transition
}
