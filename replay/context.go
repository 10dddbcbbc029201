package replay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tylercunnion/go-replay/backend/converter"
	"github.com/tylercunnion/go-replay/core"
)

// DecisionContext is the run-scoped view the decider hands to workflow code
// when it starts. Workflow code uses it to observe replay status, time,
// cancellation, and to pick up local activity outcomes it is waiting for.
type DecisionContext struct {
	run       *core.WorkflowRun
	clock     clock.Clock
	logger    *slog.Logger
	converter converter.Converter

	mu              sync.Mutex
	replaying       bool
	cancelRequested bool
	cancelReason    string
	outcomes        map[string][]*LocalActivityOutcome
}

func newDecisionContext(run *core.WorkflowRun, clock clock.Clock, logger *slog.Logger) *DecisionContext {
	return &DecisionContext{
		run:       run,
		clock:     clock,
		logger:    logger,
		converter: converter.DefaultConverter,
		outcomes:  map[string][]*LocalActivityOutcome{},
	}
}

func (dc *DecisionContext) Run() *core.WorkflowRun {
	return dc.run
}

func (dc *DecisionContext) Logger() *slog.Logger {
	return dc.logger
}

// Converter translates between workflow values and the opaque payloads on
// history events and results.
func (dc *DecisionContext) Converter() converter.Converter {
	return dc.converter
}

// Now returns the current wall-clock time from the injected clock.
func (dc *DecisionContext) Now() time.Time {
	return dc.clock.Now()
}

// Replaying reports whether the event currently being applied was already
// processed by an earlier decision task.
func (dc *DecisionContext) Replaying() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	return dc.replaying
}

// CancelRequested reports whether cancellation was requested, and the reason.
func (dc *DecisionContext) CancelRequested() (bool, string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	return dc.cancelRequested, dc.cancelReason
}

// TakeLocalActivityOutcome removes and returns the oldest pending outcome
// for the given activity id. Outcomes for one activity are always taken in
// attempt order.
func (dc *DecisionContext) TakeLocalActivityOutcome(activityID string) (*LocalActivityOutcome, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	pending := dc.outcomes[activityID]
	if len(pending) == 0 {
		return nil, false
	}

	o := pending[0]
	if len(pending) == 1 {
		delete(dc.outcomes, activityID)
	} else {
		dc.outcomes[activityID] = pending[1:]
	}

	return o, true
}

func (dc *DecisionContext) setReplaying(replaying bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.replaying = replaying
}

func (dc *DecisionContext) requestCancel(reason string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.cancelRequested {
		return
	}

	dc.cancelRequested = true
	dc.cancelReason = reason
}

func (dc *DecisionContext) queueOutcome(o *LocalActivityOutcome) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.outcomes[o.ActivityID()] = append(dc.outcomes[o.ActivityID()], o)
}
