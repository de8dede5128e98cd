package fsm_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amp-labs/amp-fsm/fsm"
	"github.com/amp-labs/amp-fsm/fsmtest"
)

// beatEvent is a distinct event type for type-guard configs.
type beatEvent struct{}

func (beatEvent) Data() any { return nil }

const lifecycleYAML = `
name: connection-lifecycle
errorState: FAILED
states:
  - name: OFFLINE
    kind: start
  - name: ONLINE
    kind: active
    entry: connect
    exit: disconnect
  - name: DEGRADED
    kind: active
    parent: ONLINE
  - name: CLOSED
    kind: end
  - name: FAILED
    kind: end
transitions:
  - name: go-online
    from: OFFLINE
    to: ONLINE
    guard: "regex:online"
    action: connect
  - name: degrade
    from: ONLINE
    to: "ONLINE:DEGRADED"
    guard: "regex:degrade"
  - name: close
    from: ONLINE
    to: CLOSED
    guard: "regex:close"
groups:
  - name: heartbeat
    guard: "type:beat"
    states: [ONLINE, "ONLINE:DEGRADED"]
`

func testRegistry(rec *fsmtest.Recorder) *fsm.Registry {
	return &fsm.Registry{
		Actions: map[string]fsm.Action{
			"connect":    rec.Action("connect"),
			"disconnect": rec.Action("disconnect"),
		},
		Events: map[string]fsm.Event{
			"beat": beatEvent{},
		},
	}
}

func TestConfig_BuildMap(t *testing.T) {
	t.Parallel()

	config, err := fsm.LoadConfigFromBytes([]byte(lifecycleYAML))
	require.NoError(t, err)
	assert.Equal(t, "connection-lifecycle", config.Name)

	rec := fsmtest.NewRecorder()

	graph, err := config.BuildMap(testRegistry(rec))
	require.NoError(t, err)

	assert.Equal(t, "OFFLINE", graph.StartState().Name())
	require.NotNil(t, graph.ErrorState())
	assert.Equal(t, "FAILED", graph.ErrorState().Name())

	// The nested state got its qualified name from its parent.
	require.NotNil(t, graph.StateByName("ONLINE:DEGRADED"))

	machine := fsm.NewStateMachine(graph, nil)
	require.NoError(t, machine.ApplyEvent(context.Background(), fsm.NewEvent("online")))
	assert.Equal(t, "ONLINE", machine.State().Name())

	// The heartbeat group self-loops on the type guard.
	require.NoError(t, machine.ApplyEvent(context.Background(), beatEvent{}))
	assert.Equal(t, "ONLINE", machine.State().Name())

	require.NoError(t, machine.ApplyEvent(context.Background(), fsm.NewEvent("degrade")))
	assert.Equal(t, "ONLINE:DEGRADED", machine.State().Name())

	// The degraded substate inherits the parent's close transition.
	require.NoError(t, machine.ApplyEvent(context.Background(), fsm.NewEvent("close")))
	assert.Equal(t, "CLOSED", machine.State().Name())
	assert.True(t, machine.IsEnd())
}

func TestConfig_NameRequired(t *testing.T) {
	t.Parallel()

	_, err := fsm.LoadConfigFromBytes([]byte("states: []"))
	require.ErrorIs(t, err, fsm.ErrConfigNameRequired)
}

func TestConfig_BadYAML(t *testing.T) {
	t.Parallel()

	_, err := fsm.LoadConfigFromBytes([]byte("{not yaml"))
	require.Error(t, err)
}

func TestConfig_UnknownAction(t *testing.T) {
	t.Parallel()

	config := &fsm.Config{
		Name: "bad",
		States: []fsm.StateConfig{
			{Name: "S", Kind: "start", Entry: "missing"},
			{Name: "E", Kind: "end"},
		},
	}

	_, err := config.BuildMap(&fsm.Registry{})
	require.ErrorIs(t, err, fsm.ErrUnknownAction)
}

func TestConfig_BadGuardSpec(t *testing.T) {
	t.Parallel()

	config := &fsm.Config{
		Name: "bad",
		States: []fsm.StateConfig{
			{Name: "S", Kind: "start"},
			{Name: "E", Kind: "end"},
		},
		Transitions: []fsm.TransitionConfig{
			{Name: "t", From: "S", To: "E", Guard: "sometimes"},
		},
	}

	_, err := config.BuildMap(nil)
	require.ErrorIs(t, err, fsm.ErrBadGuardSpec)
}

func TestConfig_UnknownEventType(t *testing.T) {
	t.Parallel()

	config := &fsm.Config{
		Name: "bad",
		States: []fsm.StateConfig{
			{Name: "S", Kind: "start"},
			{Name: "E", Kind: "end"},
		},
		Transitions: []fsm.TransitionConfig{
			{Name: "t", From: "S", To: "E", Guard: "type:ghost"},
		},
	}

	_, err := config.BuildMap(nil)
	require.ErrorIs(t, err, fsm.ErrUnknownEventType)
}

func TestConfig_BadStateKind(t *testing.T) {
	t.Parallel()

	config := &fsm.Config{
		Name: "bad",
		States: []fsm.StateConfig{
			{Name: "S", Kind: "middle"},
		},
	}

	_, err := config.BuildMap(nil)
	require.ErrorIs(t, err, fsm.ErrBadStateKind)
}

func TestConfig_UnknownParent(t *testing.T) {
	t.Parallel()

	config := &fsm.Config{
		Name: "bad",
		States: []fsm.StateConfig{
			{Name: "S", Kind: "start"},
			{Name: "C", Kind: "active", Parent: "MISSING"},
		},
	}

	_, err := config.BuildMap(nil)
	require.ErrorIs(t, err, fsm.ErrUnknownState)
}

func TestConfig_NotGuard(t *testing.T) {
	t.Parallel()

	config := &fsm.Config{
		Name:       "negated",
		ErrorState: "",
		States: []fsm.StateConfig{
			{Name: "S", Kind: "start"},
			{Name: "A", Kind: "active"},
			{Name: "E", Kind: "end"},
		},
		Transitions: []fsm.TransitionConfig{
			{Name: "go", From: "S", To: "A", Guard: "not:regex:skip"},
			{Name: "finish", From: "A", To: "E", Guard: "always"},
		},
	}

	graph, err := config.BuildMap(nil)
	require.NoError(t, err)

	machine := fsm.NewStateMachine(graph, nil)

	// "skip" is rejected by the negated guard; anything else passes.
	err = machine.ApplyEvent(context.Background(), fsm.NewEvent("skip"))
	require.ErrorIs(t, err, fsm.ErrNoMatchingTransition)

	require.NoError(t, machine.ApplyEvent(context.Background(), fsm.NewEvent("go")))
	assert.Equal(t, "A", machine.State().Name())
}

func TestConfig_LoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(lifecycleYAML), 0o600))

	config, err := fsm.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "connection-lifecycle", config.Name)

	_, err = fsm.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
