package backend

import (
	"github.com/tylercunnion/go-replay/backend/history"
	"github.com/tylercunnion/go-replay/backend/metadata"
	"github.com/tylercunnion/go-replay/core"
)

// DecisionTask represents work for one slice of a workflow run's execution.
type DecisionTask struct {
	// ID is an identifier for this task. It's set by the task source.
	ID string

	// Run is the workflow run this task is for
	Run *core.WorkflowRun

	Metadata *metadata.WorkflowMetadata

	// PreviousStartedEventID is the sequence ID of the newest event that was
	// part of an earlier task for this run. Events at or below it are
	// replayed, events above it are new.
	PreviousStartedEventID int64

	// Events are the history events to apply, in delivery order.
	Events []*history.Event
}

// FullHistory reports whether the task's event stream begins at the run's
// start event. A full-history task never relies on previously cached state;
// any other task is incremental ("sticky") and is meaningless without a
// cached decider for its run.
func (t *DecisionTask) FullHistory() bool {
	return len(t.Events) > 0 && t.Events[0].Type == history.EventType_WorkflowExecutionStarted
}
