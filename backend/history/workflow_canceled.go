package history

type ExecutionCanceledAttributes struct {
	// Reason the cancellation was requested with.
	Reason string `json:"reason,omitempty"`
}
