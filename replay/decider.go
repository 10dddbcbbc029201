package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tylercunnion/go-replay/backend"
	"github.com/tylercunnion/go-replay/backend/history"
	"github.com/tylercunnion/go-replay/backend/payload"
	"github.com/tylercunnion/go-replay/core"
	"github.com/tylercunnion/go-replay/internal/log"
	"github.com/tylercunnion/go-replay/internal/workflowerrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrDeciderBusy is returned when a decision task or query is attempted
	// while another pass is in flight. A decider is driven by exactly one
	// logical thread of control at a time.
	ErrDeciderBusy = errors.New("a pass is already in progress for this run")

	// ErrDeciderCompleted is returned when a decision task or outcome is
	// delivered after the run reached a terminal state.
	ErrDeciderCompleted = errors.New("decider reached a terminal state")
)

type DeciderState int

const (
	DeciderStateUninitialized DeciderState = iota
	DeciderStateStarted
	DeciderStateLooping
	DeciderStateSuspended
	DeciderStateCompleted
	DeciderStateCancelled
	DeciderStateFailed
)

func (s DeciderState) String() string {
	switch s {
	case DeciderStateUninitialized:
		return "Uninitialized"
	case DeciderStateStarted:
		return "Started"
	case DeciderStateLooping:
		return "Looping"
	case DeciderStateSuspended:
		return "Suspended"
	case DeciderStateCompleted:
		return "Completed"
	case DeciderStateCancelled:
		return "Cancelled"
	case DeciderStateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

func (s DeciderState) Terminal() bool {
	return s == DeciderStateCompleted || s == DeciderStateCancelled || s == DeciderStateFailed
}

// DecisionResult is the outcome of driving one decision task through the
// event loop.
type DecisionResult struct {
	State DeciderState

	// Output of the run, set once State is Completed or Cancelled
	Output payload.Payload

	// Failure of the run, set once State is Failed
	Failure *workflowerrors.Error

	// NextWakeUpAt is the next wall-clock time the run wants to be woken at
	// even with no new external input. Zero when there is none.
	NextWakeUpAt time.Time
}

// Decider replays a single workflow run. It applies history events and local
// activity outcomes to its ReplayWorkflow and drives the cooperative event
// loop until the run suspends or terminates.
//
// A decider is not reentrant. Many deciders run in parallel, but each one
// must only ever be driven by one logical thread of control; concurrent
// passes fail with ErrDeciderBusy.
type Decider struct {
	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock

	run      *core.WorkflowRun
	workflow ReplayWorkflow
	dc       *DecisionContext

	mu           sync.Mutex
	deciding     bool
	state        DeciderState
	nextWakeUpAt time.Time
	lastAttempts map[string]int32

	// Only touched while a pass is in flight
	lastEventID int64
	output      payload.Payload
	failure     *workflowerrors.Error

	closeOnce sync.Once
}

func NewDecider(
	logger *slog.Logger, tracer trace.Tracer, clock clock.Clock, run *core.WorkflowRun, workflow ReplayWorkflow,
) *Decider {
	logger = logger.With(
		slog.String(log.WorkflowIDKey, run.WorkflowID),
		slog.String(log.RunIDKey, run.RunID),
	)

	return &Decider{
		logger:       logger,
		tracer:       tracer,
		clock:        clock,
		run:          run,
		workflow:     workflow,
		dc:           newDecisionContext(run, clock, logger),
		lastAttempts: map[string]int32{},
	}
}

func (d *Decider) Run() *core.WorkflowRun {
	return d.run
}

func (d *Decider) State() DeciderState {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

// NextWakeUpAt is the wake-up time recorded at the last suspension. Zero
// when the run does not need to be woken without new input.
func (d *Decider) NextWakeUpAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.nextWakeUpAt
}

// Decide applies the task's history events in delivery order and runs
// event-loop passes until no immediately-resolvable work remains. It returns
// the run's new state, or an error when the task itself failed and the run's
// state was preserved for redelivery.
func (d *Decider) Decide(ctx context.Context, t *backend.DecisionTask) (*DecisionResult, error) {
	if err := d.beginPass(); err != nil {
		return nil, err
	}
	defer d.endPass()

	ctx, span := d.tracer.Start(ctx, "Decide", trace.WithAttributes(
		attribute.String(log.WorkflowIDKey, d.run.WorkflowID),
		attribute.String(log.RunIDKey, d.run.RunID),
		attribute.Bool("full_history", t.FullHistory()),
		attribute.Int(log.NewEventsKey, len(t.Events)),
	))
	defer span.End()

	d.logger.Debug("Executing decision task",
		slog.String(log.TaskIDKey, t.ID),
		slog.Int(log.NewEventsKey, len(t.Events)))

	if err := d.applyEvents(t); err != nil {
		return nil, err
	}

	if requested, reason := d.dc.CancelRequested(); requested {
		d.workflow.Cancel(reason)
	}

	return d.runEventLoop(ctx)
}

// HandleLocalActivityOutcome queues an attempt outcome for the workflow to
// pick up on its next event-loop pass. Outcomes for the same activity id
// must be delivered in attempt order.
func (d *Decider) HandleLocalActivityOutcome(o *LocalActivityOutcome) error {
	d.mu.Lock()

	if d.state.Terminal() {
		d.mu.Unlock()
		return fmt.Errorf("run %s: %w", d.run.RunID, ErrDeciderCompleted)
	}

	if last, seen := d.lastAttempts[o.ActivityID()]; seen && o.Attempt() <= last {
		d.mu.Unlock()
		return fmt.Errorf("local activity %s: outcome for attempt %d delivered after attempt %d",
			o.ActivityID(), o.Attempt(), last)
	}
	d.lastAttempts[o.ActivityID()] = o.Attempt()

	d.mu.Unlock()

	d.logger.Debug("Queueing local activity outcome",
		slog.String(log.ActivityIDKey, o.ActivityID()),
		slog.Int(log.AttemptKey, int(o.Attempt())))

	d.dc.queueOutcome(o)

	return nil
}

// Query answers a query against the run's current state. Queries are allowed
// in any state including terminal ones, and never mutate replay state.
func (d *Decider) Query(name string, args payload.Payload) (payload.Payload, error) {
	d.mu.Lock()
	if d.deciding {
		d.mu.Unlock()
		return nil, fmt.Errorf("run %s: %w", d.run.RunID, ErrDeciderBusy)
	}
	d.deciding = true
	d.mu.Unlock()

	defer d.endPass()

	return d.workflow.Query(name, args)
}

// Cancel requests cooperative cancellation. It is observed at the next
// event-loop pass, never preempting one in progress.
func (d *Decider) Cancel(reason string) {
	d.dc.requestCancel(reason)
}

// Close releases the workflow's resources. Safe to call multiple times.
func (d *Decider) Close() {
	d.closeOnce.Do(func() {
		d.logger.Debug("Closing decider")

		d.workflow.Close()
	})
}

func (d *Decider) beginPass() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.Terminal() {
		return fmt.Errorf("run %s: %w", d.run.RunID, ErrDeciderCompleted)
	}

	if d.deciding {
		return fmt.Errorf("run %s: %w", d.run.RunID, ErrDeciderBusy)
	}

	d.deciding = true

	return nil
}

func (d *Decider) endPass() {
	d.mu.Lock()
	d.deciding = false
	d.mu.Unlock()
}

func (d *Decider) setState(state DeciderState) {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()
}

func (d *Decider) setNextWakeUpAt(at time.Time) {
	d.mu.Lock()
	d.nextWakeUpAt = at
	d.mu.Unlock()
}

func (d *Decider) applyEvents(t *backend.DecisionTask) error {
	defer d.dc.setReplaying(false)

	for _, event := range t.Events {
		if event.SequenceID != 0 && event.SequenceID <= d.lastEventID {
			return fmt.Errorf("event %s has older sequence id (%d) than already applied history (%d)",
				event.ID, event.SequenceID, d.lastEventID)
		}

		d.dc.setReplaying(event.SequenceID != 0 && event.SequenceID <= t.PreviousStartedEventID)

		if err := d.applyEvent(event); err != nil {
			return err
		}

		if event.SequenceID > d.lastEventID {
			d.lastEventID = event.SequenceID
		}
	}

	return nil
}

func (d *Decider) applyEvent(event *history.Event) error {
	d.logger.Debug("Applying event",
		slog.String(log.EventIDKey, event.ID),
		slog.Int64(log.SeqIDKey, event.SequenceID),
		slog.String(log.EventTypeKey, event.Type.String()),
		slog.Bool(log.IsReplayingKey, d.dc.Replaying()))

	switch event.Type {
	case history.EventType_WorkflowExecutionStarted:
		if d.State() != DeciderStateUninitialized {
			return fmt.Errorf("duplicate start event for run %s", d.run.RunID)
		}

		if err := d.workflow.Start(event, d.dc); err != nil {
			return fmt.Errorf("starting workflow: %w", err)
		}

		d.setState(DeciderStateStarted)

	case history.EventType_SignalReceived:
		if d.State() == DeciderStateUninitialized {
			return errors.New("signal received before the run's start event")
		}

		a := event.Attributes.(*history.SignalReceivedAttributes)
		if err := d.workflow.HandleSignal(a.Name, a.Arg, event.SequenceID); err != nil {
			return fmt.Errorf("handling signal %q: %w", a.Name, err)
		}

	case history.EventType_TimerFired:
		// The fired timer becomes immediately-resolvable work for the next
		// event-loop pass, nothing is delivered directly.

	case history.EventType_WorkflowExecutionCanceled:
		a := event.Attributes.(*history.ExecutionCanceledAttributes)
		d.dc.requestCancel(a.Reason)

	default:
		return fmt.Errorf("unknown event type: %v", event.Type)
	}

	return nil
}

func (d *Decider) runEventLoop(ctx context.Context) (*DecisionResult, error) {
	if d.State() == DeciderStateUninitialized {
		return nil, errors.New("no start event applied, cannot run event loop")
	}

	d.setState(DeciderStateLooping)

	for {
		more, err := d.eventLoopPass(ctx)
		if err != nil {
			return d.failPass(err)
		}

		if !more {
			break
		}
	}

	cancelRequested, _ := d.dc.CancelRequested()

	if output, done := d.workflow.Output(); done {
		d.output = output
		d.setNextWakeUpAt(time.Time{})

		if cancelRequested {
			d.setState(DeciderStateCancelled)
		} else {
			d.setState(DeciderStateCompleted)
		}

		d.logger.Debug("Workflow run finished", slog.String(log.StateKey, d.State().String()))

		return d.result(), nil
	}

	d.setNextWakeUpAt(d.workflow.NextWakeUpTime())
	d.setState(DeciderStateSuspended)

	return d.result(), nil
}

// eventLoopPass runs a single pass, converting panics in workflow code into
// errors carrying the panicking goroutine's stack.
func (d *Decider) eventLoopPass(ctx context.Context) (more bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = workflowerrors.FromPanic(r)
		}
	}()

	return d.workflow.EventLoop(ctx)
}

func (d *Decider) failPass(err error) (*DecisionResult, error) {
	failure := d.workflow.MapUnexpectedError(err)
	if failure == nil {
		failure = workflowerrors.FromError(err)
	}

	if d.workflow.ImplementationOptions().FailurePolicy == FailurePolicyFailDecisionTask {
		// Fail only this task. The run keeps its state so the service can
		// redeliver after a backoff.
		d.setState(DeciderStateSuspended)
		d.logger.Error("Decision task failed", "error", err)

		return nil, failure
	}

	d.failure = failure
	d.setNextWakeUpAt(time.Time{})
	d.setState(DeciderStateFailed)
	d.logger.Error("Workflow run failed", "error", err)

	return d.result(), nil
}

func (d *Decider) result() *DecisionResult {
	return &DecisionResult{
		State:        d.State(),
		Output:       d.output,
		Failure:      d.failure,
		NextWakeUpAt: d.NextWakeUpAt(),
	}
}
