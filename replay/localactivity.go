package replay

import (
	"fmt"
	"time"

	"github.com/tylercunnion/go-replay/backend/payload"
	"github.com/tylercunnion/go-replay/internal/workflowerrors"
)

// RetryState describes where a local activity's retry policy stands after an
// attempt failed.
type RetryState int

const (
	RetryStateUnspecified RetryState = iota
	RetryStateInProgress
	RetryStateMaximumAttemptsReached
	RetryStateTimeout
	RetryStateNonRetryableFailure
	RetryStateCancelRequested
)

func (rs RetryState) String() string {
	switch rs {
	case RetryStateInProgress:
		return "InProgress"
	case RetryStateMaximumAttemptsReached:
		return "MaximumAttemptsReached"
	case RetryStateTimeout:
		return "Timeout"
	case RetryStateNonRetryableFailure:
		return "NonRetryableFailure"
	case RetryStateCancelRequested:
		return "CancelRequested"
	default:
		return "Unspecified"
	}
}

type LocalActivityCompleted struct {
	Result payload.Payload
}

type LocalActivityFailed struct {
	RetryState RetryState

	Failure *workflowerrors.Error

	// Backoff before the next attempt; zero when no further attempt will be
	// made.
	Backoff time.Duration
}

// IsTimeout reports whether the carried failure represents a timeout. A
// timed-out attempt may still be retried locally, other failures are
// surfaced per the retry state.
func (f *LocalActivityFailed) IsTimeout() bool {
	return workflowerrors.IsTimeout(f.Failure)
}

type LocalActivityCancelled struct {
	Details payload.Payload
}

// LocalActivityOutcome records how one local activity attempt ended. Exactly
// one of the three variants is populated; the constructors are the only way
// to build one. Outcomes are produced by the activity execution subsystem
// and consumed by the decider to resume a suspended workflow.
type LocalActivityOutcome struct {
	activityID string
	attempt    int32

	completed *LocalActivityCompleted
	failed    *LocalActivityFailed
	cancelled *LocalActivityCancelled
}

func NewCompletedLocalActivityOutcome(activityID string, attempt int32, result payload.Payload) *LocalActivityOutcome {
	return &LocalActivityOutcome{
		activityID: activityID,
		attempt:    attempt,
		completed:  &LocalActivityCompleted{Result: result},
	}
}

func NewFailedLocalActivityOutcome(
	activityID string, attempt int32, retryState RetryState, failure *workflowerrors.Error, backoff time.Duration,
) *LocalActivityOutcome {
	return &LocalActivityOutcome{
		activityID: activityID,
		attempt:    attempt,
		failed: &LocalActivityFailed{
			RetryState: retryState,
			Failure:    failure,
			Backoff:    backoff,
		},
	}
}

func NewCancelledLocalActivityOutcome(activityID string, attempt int32, details payload.Payload) *LocalActivityOutcome {
	return &LocalActivityOutcome{
		activityID: activityID,
		attempt:    attempt,
		cancelled:  &LocalActivityCancelled{Details: details},
	}
}

func (o *LocalActivityOutcome) ActivityID() string {
	return o.activityID
}

func (o *LocalActivityOutcome) Attempt() int32 {
	return o.attempt
}

func (o *LocalActivityOutcome) Completed() (*LocalActivityCompleted, bool) {
	return o.completed, o.completed != nil
}

func (o *LocalActivityOutcome) Failed() (*LocalActivityFailed, bool) {
	return o.failed, o.failed != nil
}

func (o *LocalActivityOutcome) Cancelled() (*LocalActivityCancelled, bool) {
	return o.cancelled, o.cancelled != nil
}

func (o *LocalActivityOutcome) String() string {
	switch {
	case o.completed != nil:
		return fmt.Sprintf("LocalActivityOutcome{%s/%d completed}", o.activityID, o.attempt)
	case o.failed != nil:
		return fmt.Sprintf("LocalActivityOutcome{%s/%d failed, retryState=%s}", o.activityID, o.attempt, o.failed.RetryState)
	default:
		return fmt.Sprintf("LocalActivityOutcome{%s/%d cancelled}", o.activityID, o.attempt)
	}
}
