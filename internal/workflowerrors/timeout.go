package workflowerrors

type TimeoutError struct {
	message string
}

func (te *TimeoutError) Error() string {
	return te.message
}

func NewTimeoutError(msg string) error {
	return &TimeoutError{
		message: msg,
	}
}

// IsTimeout reports whether the given workflow error represents a timeout.
func IsTimeout(err *Error) bool {
	return err != nil && err.Type == getErrorType(&TimeoutError{})
}
