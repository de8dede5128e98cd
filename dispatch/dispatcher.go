package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amp-labs/amp-fsm/fsm"
)

// Dispatcher lifecycle errors.
var (
	// ErrAlreadyStarted indicates Start was called on a running dispatcher.
	ErrAlreadyStarted = errors.New("dispatcher already started")
	// ErrStopped indicates a submission to a stopped dispatcher.
	ErrStopped = errors.New("dispatcher is stopped")
	// ErrApplyPanic indicates the state machine or an action panicked while
	// applying an event.
	ErrApplyPanic = errors.New("panic while applying event")
)

// EventCompletionListener is invoked after every processed event, including
// cancelled ones. The return value is stored on the request as its annotation.
// Listener panics are logged and never propagate.
type EventCompletionListener interface {
	OnCompletion(event fsm.Event, status EventStatus) any
}

// EventCompletionListenerFunc adapts a plain function to
// EventCompletionListener.
type EventCompletionListenerFunc func(event fsm.Event, status EventStatus) any

// OnCompletion calls the wrapped function.
func (f EventCompletionListenerFunc) OnCompletion(event fsm.Event, status EventStatus) any {
	return f(event, status)
}

// EventDispatcher delivers events to a state machine from a dedicated worker,
// one at a time, in FIFO order. Each submission returns an EventRequest whose
// status is published when processing finishes.
//
// Events implementing fsm.OutOfBandEvent preempt the queue: every pending and
// running request is cancelled before the out-of-band event is enqueued, with
// no window for another normal event to slip in between.
type EventDispatcher struct {
	machine *fsm.StateMachine
	logger  *slog.Logger

	mu            sync.Mutex
	cond          *sync.Cond
	queue         []*EventRequest
	current       *EventRequest
	currentCancel context.CancelFunc
	listener      EventCompletionListener
	name          string
	running       bool
	cancelled     bool

	pool     pond.Pool
	loopDone chan struct{}
}

// NewEventDispatcher creates a dispatcher for events on a particular state
// machine. The dispatcher is idle until Start is called; events submitted
// before Start queue up.
func NewEventDispatcher(machine *fsm.StateMachine) *EventDispatcher {
	d := &EventDispatcher{
		machine: machine,
		logger:  slog.Default(),
		name:    "event-dispatcher",
	}
	d.cond = sync.NewCond(&d.mu)

	return d
}

// SetLogger replaces the dispatcher's logger. A nil logger restores the
// default.
func (d *EventDispatcher) SetLogger(logger *slog.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if logger == nil {
		logger = slog.Default()
	}

	d.logger = logger
}

// SetListener sets the completion listener invoked after every processed
// event.
func (d *EventDispatcher) SetListener(listener EventCompletionListener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.listener = listener
}

// IsRunning returns true if the dispatcher worker is running.
func (d *EventDispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.running
}

// Start launches the dispatcher worker. The name is used in logs and metrics;
// an empty name keeps the default. A stopped dispatcher may be started again.
func (d *EventDispatcher) Start(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrAlreadyStarted
	}

	if name != "" {
		d.name = name
	}

	d.running = true
	d.cancelled = false
	d.pool = pond.NewPool(1)
	d.loopDone = make(chan struct{})

	d.logger.Debug("Starting event dispatcher", "dispatcher", d.name)

	go d.run(d.loopDone)

	return nil
}

// Stop cancels all pending and running requests, terminates the worker, and
// waits for it to exit. Requests still queued at stop time have a cancelled
// status published so waiters never hang.
func (d *EventDispatcher) Stop() error {
	d.mu.Lock()

	if !d.running {
		d.mu.Unlock()

		return nil
	}

	d.logger.Info("Requesting dispatcher termination", "dispatcher", d.name)

	d.cancelled = true
	d.cancelAllLocked()
	d.cond.Broadcast()

	loopDone := d.loopDone
	pool := d.pool
	d.mu.Unlock()

	<-loopDone
	pool.StopAndWait()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	return nil
}

// Put submits an event for normal FIFO processing and returns its request.
// Events carrying the out-of-band marker are re-routed to PutOutOfBand.
func (d *EventDispatcher) Put(event fsm.Event) (*EventRequest, error) {
	if oob, ok := event.(fsm.OutOfBandEvent); ok && oob.OutOfBand() {
		return d.PutOutOfBand(event)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancelled {
		return nil, ErrStopped
	}

	return d.putLocked(event), nil
}

// PutOutOfBand cancels every pending request and any currently running
// request, then enqueues the event. The purge and the enqueue happen under the
// queue lock, so no normal event can be inserted in between.
func (d *EventDispatcher) PutOutOfBand(event fsm.Event) (*EventRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancelled {
		return nil, ErrStopped
	}

	d.cancelAllLocked()

	return d.putLocked(event), nil
}

func (d *EventDispatcher) putLocked(event fsm.Event) *EventRequest {
	request := newEventRequest(d, event)
	d.queue = append(d.queue, request)

	queueDepth.WithLabelValues(d.name).Set(float64(len(d.queue)))

	d.cond.Signal()

	return request
}

// cancelAllLocked flags every queued request for cancellation and interrupts
// the currently running one. Callers must hold d.mu.
func (d *EventDispatcher) cancelAllLocked() {
	for _, request := range d.queue {
		request.cancelRequested.Store(true)
	}

	if d.current != nil && d.currentCancel != nil {
		d.currentCancel()
	}
}

// CancelActive interrupts the currently running request if it is the given one
// and mayInterrupt is true. Returns true if the interruption was issued.
func (d *EventDispatcher) CancelActive(request *EventRequest, mayInterrupt bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == request && mayInterrupt && d.currentCancel != nil {
		d.currentCancel()

		return true
	}

	return false
}

// run is the dispatcher loop. It dequeues one request at a time, hands it to
// the single-worker pool, and waits for completion before taking the next.
func (d *EventDispatcher) run(loopDone chan struct{}) {
	defer close(loopDone)

	for {
		d.mu.Lock()

		for len(d.queue) == 0 && !d.cancelled {
			d.cond.Wait()
		}

		if d.cancelled {
			pending := d.queue
			d.queue = nil
			queueDepth.WithLabelValues(d.name).Set(0)
			d.mu.Unlock()

			// Nobody will dequeue these; publish a terminal status so
			// waiters are released.
			for _, request := range pending {
				d.finish(request, EventStatus{Cancelled: true})
			}

			d.logger.Info("Dispatcher terminating", "dispatcher", d.name)

			return
		}

		request := d.queue[0]
		d.queue = d.queue[1:]
		queueDepth.WithLabelValues(d.name).Set(float64(len(d.queue)))

		ctx, cancel := context.WithCancel(context.Background())
		d.current = request
		d.currentCancel = cancel

		task := d.pool.SubmitErr(func() error {
			d.process(ctx, request)

			return nil
		})

		d.mu.Unlock()

		_ = task.Wait()

		d.mu.Lock()
		d.current = nil
		d.currentCancel = nil
		d.mu.Unlock()

		cancel()
	}
}

// process applies a single request to the state machine and publishes its
// status.
func (d *EventDispatcher) process(ctx context.Context, request *EventRequest) {
	ctx, span := otel.Tracer("fsm.dispatch").Start(ctx, "dispatch.process")
	span.SetAttributes(
		attribute.String("dispatcher", d.name),
		attribute.String("request_id", request.ID()),
	)
	defer span.End()

	start := time.Now()

	var status EventStatus

	if request.IsCancelRequested() {
		status = EventStatus{Cancelled: true}

		d.logger.Debug("Skipped cancelled event",
			"dispatcher", d.name, "request_id", request.ID())
	} else {
		request.markStarted()

		err := d.applyEvent(ctx, request)

		switch {
		case err == nil:
			status = EventStatus{Successful: true}
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			status = EventStatus{Cancelled: true, Err: err}
		default:
			status = EventStatus{Err: err}
		}

		if err != nil {
			d.logger.Debug("Failed to apply event",
				"dispatcher", d.name, "request_id", request.ID(), "error", err)
		}
	}

	outcome := outcomeSuccess

	switch {
	case status.Cancelled:
		outcome = outcomeCancelled
	case !status.Successful:
		outcome = outcomeError
	}

	processedTotal.WithLabelValues(d.name, outcome).Inc()
	processingDuration.WithLabelValues(d.name).Observe(time.Since(start).Seconds())

	d.finish(request, status)
}

// applyEvent submits the event to the state machine, converting panics into
// errors so a broken action cannot kill the worker.
func (d *EventDispatcher) applyEvent(ctx context.Context, request *EventRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\nstack trace:\n%s", ErrApplyPanic, r, debug.Stack())
		}
	}()

	return d.machine.ApplyEvent(ctx, request.Event())
}

// finish invokes the completion listener and publishes the status. The status
// is always published, and published last, even if the listener panics.
func (d *EventDispatcher) finish(request *EventRequest, status EventStatus) {
	defer request.setStatus(status)

	d.mu.Lock()
	listener := d.listener
	d.mu.Unlock()

	if listener == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Completion listener panicked",
				"dispatcher", d.name,
				"request_id", request.ID(),
				"error", r,
				"stack", string(debug.Stack()))
		}
	}()

	request.SetAnnotation(listener.OnCompletion(request.Event(), status))
}
