package fsmtest_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amp-labs/amp-fsm/fsm"
	"github.com/amp-labs/amp-fsm/fsmtest"
)

var errScripted = errors.New("scripted failure")

func TestRecorder(t *testing.T) {
	t.Parallel()

	rec := fsmtest.NewRecorder()

	action := rec.Action("one")
	failing := rec.ErrAction("two", errScripted)

	require.NoError(t, action.Do(context.Background(), fsm.NewEvent(nil), nil, nil, fsm.EntryAction))
	require.ErrorIs(t, failing.Do(context.Background(), fsm.NewEvent(nil), nil, nil, fsm.ExitAction), errScripted)

	assert.Equal(t, []string{"one", "two"}, rec.Entries())

	rec.Reset()
	assert.Empty(t, rec.Entries())
}

func TestLinearGraphFixture(t *testing.T) {
	t.Parallel()

	rec := fsmtest.NewRecorder()
	graph := fsmtest.NewLinearGraph(rec)

	assert.Equal(t, "START", graph.Start.Name())
	assert.Equal(t, "ACTIVE", graph.Middle.Name())
	assert.Equal(t, "END", graph.End.Name())

	machine := fsm.NewStateMachine(graph.Map, nil)
	require.NoError(t, machine.ApplyEvent(context.Background(), fsm.NewEvent("anything")))
	require.NoError(t, machine.ApplyEvent(context.Background(), fsm.NewEvent("done")))

	assert.True(t, machine.IsEnd())
}
