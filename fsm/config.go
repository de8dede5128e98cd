package fsm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Configuration file errors.
var (
	// ErrConfigNameRequired indicates the config has no name.
	ErrConfigNameRequired = errors.New("config name is required")
	// ErrBadStateKind indicates a state kind outside start/active/end.
	ErrBadStateKind = errors.New("state kind must be start, active, or end")
	// ErrBadGuardSpec indicates an unparseable guard specification.
	ErrBadGuardSpec = errors.New("invalid guard specification")
	// ErrUnknownAction indicates an action name missing from the registry.
	ErrUnknownAction = errors.New("action not found in registry")
	// ErrUnknownEventType indicates an event type name missing from the
	// registry.
	ErrUnknownEventType = errors.New("event type not found in registry")
)

// Config is the declarative YAML form of a state graph. States must be listed
// parents-first; parent, from, and to fields reference states by qualified
// name. Guard specifications take one of the forms "always" (or empty),
// "not:<spec>", "regex:<pattern>", or "type:<event type name>".
type Config struct {
	Name        string             `json:"name"        yaml:"name"`
	ErrorState  string             `json:"errorState"  yaml:"errorState"`
	States      []StateConfig      `json:"states"      yaml:"states"`
	Transitions []TransitionConfig `json:"transitions" yaml:"transitions"`
	Groups      []GroupConfig      `json:"groups"      yaml:"groups"`
}

// StateConfig declares a single state.
type StateConfig struct {
	Name   string `json:"name"   yaml:"name"`
	Kind   string `json:"kind"   yaml:"kind"`
	Parent string `json:"parent" yaml:"parent"`
	Entry  string `json:"entry"  yaml:"entry"`
	Exit   string `json:"exit"   yaml:"exit"`
}

// TransitionConfig declares a single transition.
type TransitionConfig struct {
	Name   string `json:"name"   yaml:"name"`
	From   string `json:"from"   yaml:"from"`
	To     string `json:"to"     yaml:"to"`
	Guard  string `json:"guard"  yaml:"guard"`
	Action string `json:"action" yaml:"action"`
}

// GroupConfig declares a transition group: one self-loop per listed state,
// sharing a guard and action.
type GroupConfig struct {
	Name   string   `json:"name"   yaml:"name"`
	Guard  string   `json:"guard"  yaml:"guard"`
	States []string `json:"states" yaml:"states"`
	Action string   `json:"action" yaml:"action"`
}

// Registry supplies the named collaborators a Config refers to: actions by
// name, and event prototypes by name for type guards.
type Registry struct {
	Actions map[string]Action
	Events  map[string]Event
}

// LoadConfig reads and parses a YAML graph definition from a file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Intentional path-based loading
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	return LoadConfigFromBytes(data)
}

// LoadConfigFromFS reads and parses a YAML graph definition from a filesystem,
// typically an embed.FS.
func LoadConfigFromFS(fsys fs.FS, path string) (*Config, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read config from FS: %w", err)
	}

	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes parses a YAML graph definition.
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var config Config

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("parse YAML config: %w", err)
	}

	if config.Name == "" {
		return nil, ErrConfigNameRequired
	}

	return &config, nil
}

// BuildMap assembles and builds a TransitionMap from a config and a registry.
// The returned map is frozen and ready for use.
func (c *Config) BuildMap(registry *Registry) (*TransitionMap, error) {
	if registry == nil {
		registry = &Registry{}
	}

	graph := NewTransitionMap()

	for _, sc := range c.States {
		kind, err := parseStateKind(sc.Kind)
		if err != nil {
			return nil, fmt.Errorf("state %s: %w", sc.Name, err)
		}

		var parent *State

		if sc.Parent != "" {
			parent = graph.StateByName(sc.Parent)
			if parent == nil {
				return nil, fmt.Errorf("state %s: parent %w: %s", sc.Name, ErrUnknownState, sc.Parent)
			}
		}

		entry, err := registry.action(sc.Entry)
		if err != nil {
			return nil, fmt.Errorf("state %s: entry %w", sc.Name, err)
		}

		exit, err := registry.action(sc.Exit)
		if err != nil {
			return nil, fmt.Errorf("state %s: exit %w", sc.Name, err)
		}

		if _, err := graph.AddStateNamed(sc.Name, kind, parent, entry, exit); err != nil {
			return nil, err
		}
	}

	for _, tc := range c.Transitions {
		guard, err := registry.parseGuard(tc.Guard)
		if err != nil {
			return nil, fmt.Errorf("transition %s: %w", tc.Name, err)
		}

		action, err := registry.action(tc.Action)
		if err != nil {
			return nil, fmt.Errorf("transition %s: %w", tc.Name, err)
		}

		from := graph.StateByName(tc.From)
		if from == nil {
			return nil, fmt.Errorf("transition %s: from %w: %s", tc.Name, ErrUnknownState, tc.From)
		}

		to := graph.StateByName(tc.To)
		if to == nil {
			return nil, fmt.Errorf("transition %s: to %w: %s", tc.Name, ErrUnknownState, tc.To)
		}

		if _, err := graph.AddTransitionNamed(tc.Name, guard, from, action, to); err != nil {
			return nil, err
		}
	}

	for _, gc := range c.Groups {
		guard, err := registry.parseGuard(gc.Guard)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", gc.Name, err)
		}

		action, err := registry.action(gc.Action)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", gc.Name, err)
		}

		states := make([]*State, 0, len(gc.States))

		for _, name := range gc.States {
			state := graph.StateByName(name)
			if state == nil {
				return nil, fmt.Errorf("group %s: %w: %s", gc.Name, ErrUnknownState, name)
			}

			states = append(states, state)
		}

		if err := graph.AddTransitionGroup(gc.Name, guard, states, action); err != nil {
			return nil, err
		}
	}

	if c.ErrorState != "" {
		errorState := graph.StateByName(c.ErrorState)
		if errorState == nil {
			return nil, fmt.Errorf("%w: error state %s", ErrUnknownState, c.ErrorState)
		}

		if err := graph.SetErrorState(errorState); err != nil {
			return nil, err
		}
	}

	if err := graph.Build(); err != nil {
		return nil, err
	}

	return graph, nil
}

func parseStateKind(kind string) (StateKind, error) {
	switch strings.ToLower(kind) {
	case "start":
		return KindStart, nil
	case "active", "":
		return KindActive, nil
	case "end":
		return KindEnd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadStateKind, kind)
	}
}

// action resolves an action name against the registry. An empty name means no
// action.
func (r *Registry) action(name string) (Action, error) {
	if name == "" {
		return nil, nil //nolint:nilnil // No name means no action, not an error.
	}

	action, ok := r.Actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}

	return action, nil
}

// parseGuard parses a guard specification.
func (r *Registry) parseGuard(spec string) (Guard, error) {
	switch {
	case spec == "" || spec == "always":
		return Always, nil

	case strings.HasPrefix(spec, "not:"):
		inner, err := r.parseGuard(strings.TrimPrefix(spec, "not:"))
		if err != nil {
			return nil, err
		}

		return Not(inner), nil

	case strings.HasPrefix(spec, "regex:"):
		return NewRegexGuard(strings.TrimPrefix(spec, "regex:"))

	case strings.HasPrefix(spec, "type:"):
		name := strings.TrimPrefix(spec, "type:")

		prototype, ok := r.Events[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, name)
		}

		return TypeOf(prototype), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrBadGuardSpec, spec)
	}
}
