package rpcretry

import (
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func Test_WithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()

	require.Equal(t, 50*time.Millisecond, o.InitialInterval)
	require.Equal(t, time.Second, o.CongestionInitialInterval)
	require.Equal(t, time.Minute, o.Expiration)
	require.Equal(t, 2.0, o.BackoffCoefficient)
	require.Equal(t, 100*o.InitialInterval, o.MaximumInterval)
	require.Equal(t, 0.1, o.MaximumJitterCoefficient)
}

func Test_WithDefaults_MaximumAttemptsOnly(t *testing.T) {
	o := Options{MaximumAttempts: 5}.WithDefaults()

	// MaximumAttempts bounds retries, Expiration stays unset
	require.Equal(t, time.Duration(0), o.Expiration)
	require.NoError(t, o.Validate())
}

func Test_WithDefaults_DisableJitter(t *testing.T) {
	o := Options{MaximumJitterCoefficient: -1}.WithDefaults()
	require.Equal(t, 0.0, o.MaximumJitterCoefficient)
}

func Test_Validate(t *testing.T) {
	tests := []struct {
		name    string
		options Options
		wantErr string
	}{
		{
			name:    "neither expiration nor maximum attempts",
			options: Options{},
			wantErr: "at least one of Expiration or MaximumAttempts",
		},
		{
			name:    "coefficient below one",
			options: Options{Expiration: time.Minute, BackoffCoefficient: 0.5},
			wantErr: "BackoffCoefficient must be >= 1.0",
		},
		{
			name: "maximum interval below initial",
			options: Options{
				Expiration:      time.Minute,
				InitialInterval: time.Second,
				MaximumInterval: time.Millisecond,
			},
			wantErr: "must not be smaller than InitialInterval",
		},
		{
			name:    "jitter out of range",
			options: Options{Expiration: time.Minute, MaximumJitterCoefficient: 1.0},
			wantErr: "MaximumJitterCoefficient must be < 1.0",
		},
		{
			name:    "valid",
			options: Options{MaximumAttempts: 3, BackoffCoefficient: 1.5},
		},
		{
			name:    "valid defaults",
			options: Options{}.WithDefaults(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.options.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func Test_Retryable_AlwaysNonRetryableCodes(t *testing.T) {
	o := Options{}.WithDefaults()

	nonRetryable := []codes.Code{
		codes.Canceled,
		codes.InvalidArgument,
		codes.NotFound,
		codes.AlreadyExists,
		codes.FailedPrecondition,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.Unimplemented,
		codes.DeadlineExceeded,
	}

	for _, code := range nonRetryable {
		require.False(t, o.Retryable(status.Error(code, "failure")), code.String())
	}

	require.True(t, o.Retryable(status.Error(codes.Unavailable, "failure")))
	require.True(t, o.Retryable(status.Error(codes.Internal, "failure")))
	require.True(t, o.Retryable(status.Error(codes.ResourceExhausted, "failure")))
}

func Test_Retryable_DoNotRetry(t *testing.T) {
	o := Options{
		DoNotRetry: []DoNotRetryItem{
			{Code: codes.Aborted},
		},
	}.WithDefaults()

	require.False(t, o.Retryable(status.Error(codes.Aborted, "failure")))
	require.True(t, o.Retryable(status.Error(codes.Internal, "failure")))
}

func Test_Retryable_NonGRPCError(t *testing.T) {
	o := Options{}.WithDefaults()

	require.True(t, o.Retryable(errors.New("plain error")))
}

func Test_Congestion(t *testing.T) {
	require.True(t, Congestion(status.Error(codes.ResourceExhausted, "busy")))
	require.False(t, Congestion(status.Error(codes.Unavailable, "down")))
	require.False(t, Congestion(errors.New("plain error")))
}

func Test_BackOff_MaximumAttempts(t *testing.T) {
	o := Options{
		InitialInterval:          time.Millisecond,
		MaximumAttempts:          3,
		MaximumJitterCoefficient: -1,
	}.WithDefaults()
	require.NoError(t, o.Validate())

	b := o.BackOff()

	// Two retries after the initial attempt, then stop
	require.NotEqual(t, backoff.Stop, b.NextBackOff())
	require.NotEqual(t, backoff.Stop, b.NextBackOff())
	require.Equal(t, backoff.Stop, b.NextBackOff())
}

func Test_CongestionBackOff_UsesCongestionInterval(t *testing.T) {
	o := Options{
		CongestionInitialInterval: 3 * time.Second,
		MaximumAttempts:           10,
		MaximumJitterCoefficient:  -1,
	}.WithDefaults()

	b := o.CongestionBackOff()
	require.Equal(t, 3*time.Second, b.NextBackOff())
}
