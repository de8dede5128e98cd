// Package visualizer generates Mermaid state diagrams from built transition
// maps. Composite states are rendered as nested blocks; the error state is
// styled distinctly.
package visualizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/amp-labs/amp-fsm/fsm"
)

// ErrMapNil is returned when the given transition map is nil.
var ErrMapNil = errors.New("transition map cannot be nil")

// Options controls diagram rendering.
type Options struct {
	// Direction is the suffix appended to the Mermaid stateDiagram keyword,
	// e.g. "v2" renders stateDiagram-v2. Defaults to "v2".
	Direction string
	// ShowTransitionNames renders transition names as edge labels.
	ShowTransitionNames bool
	// Fenced wraps the diagram in a ```mermaid code fence.
	Fenced bool
}

// DefaultOptions returns the default rendering options.
func DefaultOptions() Options {
	return Options{
		Direction:           "v2",
		ShowTransitionNames: true,
		Fenced:              true,
	}
}

// Mermaid renders the transition map as a Mermaid state diagram with default
// options.
func Mermaid(graph *fsm.TransitionMap) (string, error) {
	return MermaidWithOptions(graph, DefaultOptions())
}

// MermaidWithOptions renders the transition map as a Mermaid state diagram.
func MermaidWithOptions(graph *fsm.TransitionMap, opts Options) (string, error) {
	if graph == nil {
		return "", ErrMapNil
	}

	if opts.Direction == "" {
		opts.Direction = "v2"
	}

	var sb strings.Builder

	if opts.Fenced {
		sb.WriteString("```mermaid\n")
	}

	sb.WriteString(fmt.Sprintf("stateDiagram-%s\n", opts.Direction))

	if start := graph.StartState(); start != nil {
		sb.WriteString(fmt.Sprintf("    [*] --> %s\n", nodeID(start)))
	}

	// Declare composite states as nested blocks, roots first.
	for _, state := range graph.States() {
		if state.IsSubstate() {
			continue
		}

		writeState(&sb, state, 1)
	}

	// Edges.
	for _, state := range graph.States() {
		for _, transition := range graph.OutgoingTransitions(state) {
			label := ""
			if opts.ShowTransitionNames && transition.Name() != "" {
				label = ": " + transition.Name()
			}

			sb.WriteString(fmt.Sprintf("    %s --> %s%s\n",
				nodeID(transition.Input()), nodeID(transition.Output()), label))
		}

		if state.IsEnd() {
			sb.WriteString(fmt.Sprintf("    %s --> [*]\n", nodeID(state)))
		}
	}

	if errorState := graph.ErrorState(); errorState != nil {
		sb.WriteString(fmt.Sprintf("\n    class %s errorState\n", nodeID(errorState)))
		sb.WriteString("    classDef errorState fill:#ffcdd2,stroke:#b71c1c,stroke-width:2px\n")
	}

	if opts.Fenced {
		sb.WriteString("```\n")
	}

	return sb.String(), nil
}

// writeState declares a state, recursing into children as a nested block.
func writeState(sb *strings.Builder, state *fsm.State, depth int) {
	indent := strings.Repeat("    ", depth)
	children := state.Children()

	if len(children) == 0 {
		sb.WriteString(fmt.Sprintf("%s%s: %s\n", indent, nodeID(state), state.BaseName()))

		return
	}

	sb.WriteString(fmt.Sprintf("%sstate %s {\n", indent, nodeID(state)))

	for _, child := range children {
		writeState(sb, child, depth+1)
	}

	sb.WriteString(indent + "}\n")
}

// nodeID converts a qualified state name into a Mermaid-safe identifier.
func nodeID(state *fsm.State) string {
	return strings.ReplaceAll(state.Name(), ":", "_")
}
