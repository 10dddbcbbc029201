package history

import "time"

type TimerFiredAttributes struct {
	// At is the wall-clock time the timer was scheduled to fire at.
	At time.Time `json:"at,omitempty"`
}
