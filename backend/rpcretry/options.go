package rpcretry

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DoNotRetryItem marks failures with the given status code as non-retryable.
type DoNotRetryItem struct {
	Code codes.Code

	// DetailsType is the type name of a failure detail message. When set,
	// only failures carrying a detail of this type are non-retryable; when
	// empty, all failures with Code are non-retryable.
	DetailsType string
}

// Options is the retry/backoff policy configuration for calls to the
// orchestration service. The replay core never calls the service itself, the
// surrounding machinery consumes this policy.
type Options struct {
	// InitialInterval to wait before the first retry on regular failures.
	// Defaults to 50ms.
	InitialInterval time.Duration

	// CongestionInitialInterval to wait before the first retry on congestion
	// failures (RESOURCE_EXHAUSTED). Defaults to 1s.
	CongestionInitialInterval time.Duration

	// Expiration is the maximum time to keep retrying. Defaults to 1 minute.
	// At least one of Expiration or MaximumAttempts must be set.
	Expiration time.Duration

	// BackoffCoefficient multiplies the previous interval to get the next
	// one. Must be >= 1.0. Defaults to 2.0.
	BackoffCoefficient float64

	// MaximumAttempts stops retrying once reached, even if Expiration has not
	// passed. 0 means unlimited.
	MaximumAttempts int

	// MaximumInterval caps the interval growth. Must not be smaller than
	// InitialInterval. Defaults to 100x InitialInterval.
	MaximumInterval time.Duration

	// MaximumJitterCoefficient is the amount of jitter applied to each
	// interval, in [0, 1). 0 uses the default of 0.1, a negative value
	// disables jitter.
	MaximumJitterCoefficient float64

	// DoNotRetry lists failures that are never retried regardless of the
	// remaining attempts or time.
	DoNotRetry []DoNotRetryItem
}

var DefaultOptions = Options{
	InitialInterval:           50 * time.Millisecond,
	CongestionInitialInterval: time.Second,
	Expiration:                time.Minute,
	BackoffCoefficient:        2.0,
	MaximumJitterCoefficient:  0.1,
}

// alwaysNonRetryable status codes are never retried, independent of the
// configured DoNotRetry set.
var alwaysNonRetryable = map[codes.Code]bool{
	codes.Canceled:           true,
	codes.InvalidArgument:    true,
	codes.NotFound:           true,
	codes.AlreadyExists:      true,
	codes.FailedPrecondition: true,
	codes.PermissionDenied:   true,
	codes.Unauthenticated:    true,
	codes.Unimplemented:      true,
	codes.DeadlineExceeded:   true,
}

// WithDefaults fills unset fields with their default values.
func (o Options) WithDefaults() Options {
	if o.InitialInterval == 0 {
		o.InitialInterval = DefaultOptions.InitialInterval
	}

	if o.CongestionInitialInterval == 0 {
		o.CongestionInitialInterval = DefaultOptions.CongestionInitialInterval
	}

	if o.Expiration == 0 && o.MaximumAttempts == 0 {
		o.Expiration = DefaultOptions.Expiration
	}

	if o.BackoffCoefficient == 0 {
		o.BackoffCoefficient = DefaultOptions.BackoffCoefficient
	}

	if o.MaximumInterval == 0 {
		o.MaximumInterval = 100 * o.InitialInterval
	}

	if o.MaximumJitterCoefficient == 0 {
		o.MaximumJitterCoefficient = DefaultOptions.MaximumJitterCoefficient
	} else if o.MaximumJitterCoefficient < 0 {
		o.MaximumJitterCoefficient = 0
	}

	return o
}

func (o Options) Validate() error {
	if o.InitialInterval < 0 {
		return fmt.Errorf("invalid InitialInterval: %v", o.InitialInterval)
	}

	if o.CongestionInitialInterval < 0 {
		return fmt.Errorf("invalid CongestionInitialInterval: %v", o.CongestionInitialInterval)
	}

	if o.Expiration < 0 {
		return fmt.Errorf("invalid Expiration: %v", o.Expiration)
	}

	if o.Expiration == 0 && o.MaximumAttempts == 0 {
		return errors.New("at least one of Expiration or MaximumAttempts must be set")
	}

	if o.MaximumAttempts < 0 {
		return fmt.Errorf("invalid MaximumAttempts: %d", o.MaximumAttempts)
	}

	if o.BackoffCoefficient != 0 && o.BackoffCoefficient < 1.0 {
		return fmt.Errorf("BackoffCoefficient must be >= 1.0: %v", o.BackoffCoefficient)
	}

	if o.MaximumInterval != 0 && o.InitialInterval != 0 && o.MaximumInterval < o.InitialInterval {
		return fmt.Errorf("MaximumInterval %v must not be smaller than InitialInterval %v", o.MaximumInterval, o.InitialInterval)
	}

	if o.MaximumJitterCoefficient >= 1.0 {
		return fmt.Errorf("MaximumJitterCoefficient must be < 1.0: %v", o.MaximumJitterCoefficient)
	}

	return nil
}

// Retryable classifies the given error. Non-gRPC errors are retried by
// default.
func (o Options) Retryable(err error) bool {
	s, ok := status.FromError(err)
	if !ok {
		return true
	}

	code := s.Code()
	if code == codes.OK {
		return false
	}

	if alwaysNonRetryable[code] {
		return false
	}

	for _, item := range o.DoNotRetry {
		if item.Code != code {
			continue
		}

		if item.DetailsType == "" {
			return false
		}

		for _, d := range s.Details() {
			if detailsTypeName(d) == item.DetailsType {
				return false
			}
		}
	}

	return true
}

// Congestion reports whether the given error is a congestion-class failure,
// which uses CongestionInitialInterval for its first retry.
func Congestion(err error) bool {
	s, ok := status.FromError(err)
	return ok && s.Code() == codes.ResourceExhausted
}

// BackOff builds the backoff schedule for regular failures. Options must be
// validated and have defaults applied.
func (o Options) BackOff() backoff.BackOff {
	return o.newBackOff(o.InitialInterval)
}

// CongestionBackOff builds the backoff schedule for congestion failures.
func (o Options) CongestionBackOff() backoff.BackOff {
	return o.newBackOff(o.CongestionInitialInterval)
}

func (o Options) newBackOff(initialInterval time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.RandomizationFactor = o.MaximumJitterCoefficient
	b.Multiplier = o.BackoffCoefficient
	b.MaxInterval = o.MaximumInterval
	b.MaxElapsedTime = o.Expiration
	b.Reset()

	if o.MaximumAttempts > 0 {
		// The first attempt is not a retry
		return backoff.WithMaxRetries(b, uint64(o.MaximumAttempts-1))
	}

	return b
}

func detailsTypeName(d any) string {
	t := reflect.TypeOf(d)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return t.Name()
}
