package fsm

import (
	"fmt"
	"reflect"
	"regexp"
)

// Guard is a side-effect-free predicate that decides whether an event may take
// a particular transition. Guards must be fast and must not mutate the entity.
type Guard interface {
	Accept(event Event, entity Entity, state *State) bool
}

// GuardFunc adapts a plain function to the Guard interface.
type GuardFunc func(event Event, entity Entity, state *State) bool

// Accept calls the wrapped function.
func (f GuardFunc) Accept(event Event, entity Entity, state *State) bool {
	return f(event, entity, state)
}

// Always is a guard that accepts every event.
var Always Guard = alwaysGuard{} //nolint:gochecknoglobals

type alwaysGuard struct{}

func (alwaysGuard) Accept(Event, Entity, *State) bool {
	return true
}

// Not returns a guard that accepts exactly when the inner guard rejects.
func Not(inner Guard) Guard {
	return negationGuard{inner: inner}
}

type negationGuard struct {
	inner Guard
}

func (g negationGuard) Accept(event Event, entity Entity, state *State) bool {
	return !g.inner.Accept(event, entity, state)
}

// TypeOf returns a guard that accepts an event exactly when its dynamic type
// equals the dynamic type of prototype. The check is on the event value
// itself, not its payload.
func TypeOf(prototype Event) Guard {
	return typeGuard{typ: reflect.TypeOf(prototype)}
}

type typeGuard struct {
	typ reflect.Type
}

func (g typeGuard) Accept(event Event, _ Entity, _ *State) bool {
	return reflect.TypeOf(event) == g.typ
}

// NewRegexGuard compiles pattern and returns a guard that accepts an event
// exactly when its payload is a string matched in full by the pattern.
func NewRegexGuard(pattern string) (Guard, error) {
	re, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
	if err != nil {
		return nil, fmt.Errorf("compile regex guard %q: %w", pattern, err)
	}

	return regexGuard{re: re}, nil
}

// MustRegexGuard is like NewRegexGuard but panics on an invalid pattern. Use
// for patterns known at compile time.
func MustRegexGuard(pattern string) Guard {
	guard, err := NewRegexGuard(pattern)
	if err != nil {
		panic(err)
	}

	return guard
}

type regexGuard struct {
	re *regexp.Regexp
}

func (g regexGuard) Accept(event Event, _ Entity, _ *State) bool {
	payload, ok := event.Data().(string)
	if !ok {
		return false
	}

	return g.re.MatchString(payload)
}
