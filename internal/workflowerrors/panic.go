package workflowerrors

import "fmt"

type PanicError struct {
	message    string
	stacktrace string
}

func (pe *PanicError) Error() string {
	return pe.message
}

func (pe *PanicError) Stacktrace() string {
	return pe.stacktrace
}

func NewPanicError(msg string) error {
	return &PanicError{
		message: msg,
	}
}

// FromPanic converts a recovered panic value into a PanicError, capturing the
// stack of the panicking goroutine.
func FromPanic(v any) *PanicError {
	return &PanicError{
		message:    fmt.Sprintf("panic: %v", v),
		stacktrace: stack(fmt.Errorf("%v", v)),
	}
}
