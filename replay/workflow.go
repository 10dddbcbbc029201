package replay

import (
	"context"
	"time"

	"github.com/tylercunnion/go-replay/backend/history"
	"github.com/tylercunnion/go-replay/backend/payload"
	"github.com/tylercunnion/go-replay/internal/workflowerrors"
)

// FailurePolicy controls how unhandled errors raised by workflow code during
// an event-loop pass are surfaced.
type FailurePolicy int

const (
	// FailurePolicyFailWorkflow makes the mapped failure the run's terminal
	// outcome.
	FailurePolicyFailWorkflow FailurePolicy = iota

	// FailurePolicyFailDecisionTask fails only the current decision task.
	// The run keeps its state and the service redelivers the task after a
	// backoff.
	FailurePolicyFailDecisionTask
)

// ImplementationOptions are reported by a workflow implementation and
// consulted by the decider when driving it.
type ImplementationOptions struct {
	FailurePolicy FailurePolicy
}

// ReplayWorkflow is the capability set a workflow implementation exposes to
// the decider. Implementations are supplied by user workflow code; the
// decider is polymorphic over this interface only.
//
// None of the methods are called concurrently; the decider serializes all
// access per run.
type ReplayWorkflow interface {
	// Start begins processing the run's start event. Called exactly once,
	// before any event-loop pass. The decision context stays valid for the
	// lifetime of the run.
	Start(event *history.Event, dc *DecisionContext) error

	// HandleSignal applies a named signal with an optional payload.
	HandleSignal(name string, input payload.Payload, eventID int64) error

	// EventLoop runs one pass of the cooperative event loop and reports
	// whether more immediately-resolvable work remains.
	EventLoop(ctx context.Context) (bool, error)

	// Output returns the final output once the workflow completed.
	Output() (payload.Payload, bool)

	// Cancel requests cancellation with the given reason. Cooperative; the
	// workflow observes it on its next event-loop pass.
	Cancel(reason string)

	// Close releases the workflow's resources.
	Close()

	// NextWakeUpTime is the next wall-clock time the workflow should be
	// woken at even with no new external input. Zero when there is none.
	NextWakeUpTime() time.Time

	// Query answers a named query against current state. Must not mutate
	// replay-derived state.
	Query(name string, args payload.Payload) (payload.Payload, error)

	// MapUnexpectedError translates a failure raised during a loop pass into
	// a workflow-visible failure.
	MapUnexpectedError(err error) *workflowerrors.Error

	ImplementationOptions() ImplementationOptions
}
