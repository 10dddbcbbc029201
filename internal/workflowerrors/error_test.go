package workflowerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_FromError_Nil(t *testing.T) {
	err := FromError(nil)
	require.Nil(t, err)
}

func Test_FromError_DoesNotWrapAgain(t *testing.T) {
	err := FromError(errors.New("foo"))

	err2 := FromError(err)
	require.NoError(t, errors.Unwrap(err2))
}

func Test_FromError_DoesWrap(t *testing.T) {
	input := errors.New("foo")
	e := FromError(input)

	var expectedType *Error
	require.ErrorAs(t, e, &expectedType)
	require.Error(t, e, input.Error())

	require.False(t, e.Permanent)
	require.NoError(t, e.Cause)
}

func Test_NewPermanentError(t *testing.T) {
	input := errors.New("foo")
	e := NewPermanentError(input)

	require.True(t, e.Permanent)
	require.False(t, CanRetry(e))
}

func Test_RoundTrip_Panic(t *testing.T) {
	input := NewPanicError("foo")
	e := FromError(input)

	output := ToError(e)
	require.Equal(t, input, output)
}

func Test_RoundTrip_Timeout(t *testing.T) {
	input := NewTimeoutError("deadline passed")
	e := FromError(input)

	require.True(t, IsTimeout(e))

	output := ToError(e)
	require.Equal(t, input, output)
}

func Test_IsTimeout(t *testing.T) {
	require.False(t, IsTimeout(nil))
	require.False(t, IsTimeout(FromError(errors.New("foo"))))
	require.True(t, IsTimeout(FromError(NewTimeoutError("foo"))))
}

func Test_FromPanic(t *testing.T) {
	pe := FromPanic("boom")

	require.Equal(t, "panic: boom", pe.Error())
	require.NotEmpty(t, pe.Stacktrace())

	e := FromError(pe)
	require.Equal(t, "PanicError", e.Type)
}
