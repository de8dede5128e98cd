package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/amp-labs/amp-fsm/fsm"
)

// ErrGetTimeout is returned by GetTimeout when the status does not arrive in
// time.
var ErrGetTimeout = errors.New("timed out waiting for event status")

// EventRequest is the future side of a submitted event. The dispatcher
// publishes the final EventStatus exactly once; Get and GetTimeout block until
// it arrives. Requests can be cancelled before they start (they are skipped
// when dequeued) or, with mayInterrupt, while they are running.
type EventRequest struct {
	id         string
	dispatcher *EventDispatcher
	event      fsm.Event

	started         *atomic.Bool
	cancelRequested *atomic.Bool

	mu         sync.Mutex
	status     *EventStatus
	annotation any
	done       chan struct{}
}

func newEventRequest(dispatcher *EventDispatcher, event fsm.Event) *EventRequest {
	return &EventRequest{
		id:              uuid.NewString(),
		dispatcher:      dispatcher,
		event:           event,
		started:         atomic.NewBool(false),
		cancelRequested: atomic.NewBool(false),
		done:            make(chan struct{}),
	}
}

// ID returns the unique request identifier.
func (r *EventRequest) ID() string {
	return r.id
}

// Event returns the submitted event.
func (r *EventRequest) Event() fsm.Event {
	return r.event
}

// SetAnnotation attaches a client annotation to this request.
func (r *EventRequest) SetAnnotation(annotation any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.annotation = annotation
}

// Annotation returns the client annotation, or nil if none has been set. The
// completion listener's return value is stored here by the dispatcher.
func (r *EventRequest) Annotation() any {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.annotation
}

// markStarted records that the worker has begun applying the event.
func (r *EventRequest) markStarted() {
	r.started.Store(true)
}

// setStatus publishes the terminal status and wakes all waiters. The first
// call wins; later calls are ignored.
func (r *EventRequest) setStatus(status EventStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != nil {
		return
	}

	r.status = &status
	close(r.done)
}

// Get blocks until the status is published or the context is cancelled.
func (r *EventRequest) Get(ctx context.Context) (EventStatus, error) {
	select {
	case <-r.done:
		return r.statusValue(), nil
	case <-ctx.Done():
		return EventStatus{}, ctx.Err()
	}
}

// GetTimeout blocks up to the given duration for the status.
func (r *EventRequest) GetTimeout(timeout time.Duration) (EventStatus, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return r.statusValue(), nil
	case <-timer.C:
		return EventStatus{}, ErrGetTimeout
	}
}

func (r *EventRequest) statusValue() EventStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return *r.status
}

// Cancel cancels the request. A request that has not started is flagged and
// will be skipped when dequeued. A finished request cannot be cancelled. A
// running request is interrupted only when mayInterrupt is true.
//
// Returns true if the cancellation took effect.
func (r *EventRequest) Cancel(mayInterrupt bool) bool {
	if r.IsDone() {
		return false
	}

	if !r.started.Load() {
		r.cancelRequested.Store(true)

		return true
	}

	return r.dispatcher.CancelActive(r, mayInterrupt)
}

// IsCancelRequested returns true if cancellation was requested. The request
// may not have been processed yet.
func (r *EventRequest) IsCancelRequested() bool {
	return r.cancelRequested.Load()
}

// IsStarted returns true if the worker has begun applying the event.
func (r *EventRequest) IsStarted() bool {
	return r.started.Load()
}

// IsDone returns true if the terminal status has been published.
func (r *EventRequest) IsDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// IsCancelled returns true if the request completed as cancelled.
func (r *EventRequest) IsCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status != nil && r.status.Cancelled
}
