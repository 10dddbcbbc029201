package history

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

type EventType uint

const (
	_ EventType = iota

	EventType_WorkflowExecutionStarted
	EventType_WorkflowExecutionCanceled

	EventType_TimerFired

	EventType_SignalReceived
)

func (et EventType) String() string {
	switch et {
	case EventType_WorkflowExecutionStarted:
		return "WorkflowExecutionStarted"
	case EventType_WorkflowExecutionCanceled:
		return "WorkflowExecutionCanceled"

	case EventType_TimerFired:
		return "TimerFired"

	case EventType_SignalReceived:
		return "SignalReceived"
	default:
		return "Unknown"
	}
}

type Event struct {
	// ID is a unique identifier for this event
	ID string

	Type EventType

	Timestamp time.Time

	// SequenceID is the position of this event in the run's history. It only
	// ever grows for a given run.
	SequenceID int64

	// ScheduleEventID correlates events belonging together, for example a
	// timer's schedule and fired events.
	ScheduleEventID int64

	// Attributes are event type specific attributes
	Attributes interface{}
}

func (e *Event) String() string {
	return strconv.Itoa(int(e.Type))
}

type HistoryEventOption func(e *Event)

func ScheduleEventID(scheduleEventID int64) HistoryEventOption {
	return func(e *Event) {
		e.ScheduleEventID = scheduleEventID
	}
}

func SequenceID(sequenceID int64) HistoryEventOption {
	return func(e *Event) {
		e.SequenceID = sequenceID
	}
}

func NewHistoryEvent(timestamp time.Time, eventType EventType, attributes interface{}, opts ...HistoryEventOption) *Event {
	e := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  timestamp,
		Attributes: attributes,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}
