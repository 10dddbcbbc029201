// Package log defines the attribute keys used for structured logging across
// the worker core.
package log

const (
	WorkflowIDKey = "workflow_id"
	RunIDKey      = "run_id"

	TaskIDKey = "task_id"

	EventIDKey     = "event_id"
	EventTypeKey   = "event_type"
	SeqIDKey       = "seq_id"
	IsReplayingKey = "replaying"

	ActivityIDKey = "activity_id"
	AttemptKey    = "attempt"

	StateKey     = "state"
	NewEventsKey = "new_events"
	CacheSizeKey = "cache_size"
)
