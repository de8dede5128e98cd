package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amp-labs/amp-fsm/fsm"
)

func TestEventRequest_GetBlocksUntilStatus(t *testing.T) {
	t.Parallel()

	request := newEventRequest(nil, fsm.NewEvent("x"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		request.setStatus(EventStatus{Successful: true})
	}()

	status, err := request.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Successful)
	assert.True(t, request.IsDone())
}

func TestEventRequest_GetHonorsContext(t *testing.T) {
	t.Parallel()

	request := newEventRequest(nil, fsm.NewEvent("x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := request.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEventRequest_GetTimeout(t *testing.T) {
	t.Parallel()

	request := newEventRequest(nil, fsm.NewEvent("x"))

	_, err := request.GetTimeout(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrGetTimeout)

	request.setStatus(EventStatus{Successful: true})

	status, err := request.GetTimeout(20 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, status.Successful)
}

func TestEventRequest_StatusPublishedOnce(t *testing.T) {
	t.Parallel()

	request := newEventRequest(nil, fsm.NewEvent("x"))

	request.setStatus(EventStatus{Successful: true})
	request.setStatus(EventStatus{Cancelled: true})

	status, err := request.Get(context.Background())
	require.NoError(t, err)

	// The first write wins.
	assert.True(t, status.Successful)
	assert.False(t, status.Cancelled)
}

func TestEventRequest_CancelBeforeStart(t *testing.T) {
	t.Parallel()

	request := newEventRequest(nil, fsm.NewEvent("x"))

	assert.True(t, request.Cancel(false))
	assert.True(t, request.IsCancelRequested())
	assert.False(t, request.IsStarted())
}

func TestEventRequest_CancelAfterDone(t *testing.T) {
	t.Parallel()

	request := newEventRequest(nil, fsm.NewEvent("x"))
	request.markStarted()
	request.setStatus(EventStatus{Successful: true})

	assert.False(t, request.Cancel(true))
	assert.False(t, request.IsCancelled())
}

func TestEventRequest_Annotation(t *testing.T) {
	t.Parallel()

	request := newEventRequest(nil, fsm.NewEvent("x"))

	assert.Nil(t, request.Annotation())

	request.SetAnnotation("note")
	assert.Equal(t, "note", request.Annotation())
}

func TestEventStatus_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "successful", EventStatus{Successful: true}.String())
	assert.Contains(t, EventStatus{Cancelled: true}.String(), "cancelled")
	assert.Contains(t, EventStatus{}.String(), "failed")
}
