package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hupe1980/recallmesh/logging"
)

// RetryPolicy describes how provider calls are retried. It is a passive
// value; WithRetry applies it.
type RetryPolicy struct {
	// Attempts is the total number of attempts including the first one.
	// Values below 2 disable retries.
	Attempts int
	// ExpBase multiplies the delay after each failed attempt.
	ExpBase float64
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps a single delay. Zero means no cap beyond the backoff default.
	MaxDelay time.Duration
	// StatusCodes lists the HTTP statuses worth retrying.
	StatusCodes []int
}

// DefaultRetryPolicy returns 5 attempts with base 7 starting at one second,
// retrying 429, 500, 503 and 504.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     5,
		ExpBase:      7,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		StatusCodes:  []int{429, 500, 503, 504},
	}
}

// Retryable reports whether err is an *APIError whose status is listed.
func (p RetryPolicy) Retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return slices.Contains(p.StatusCodes, apiErr.StatusCode)
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.ExpBase
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}

	b.Reset()

	retries := 0
	if p.Attempts > 1 {
		retries = p.Attempts - 1
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// ExhaustedError is returned when every attempt failed with a retryable
// error.
type ExhaustedError struct {
	Attempts  int
	LastError error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("model call failed after %d attempts: %v", e.Attempts, e.LastError)
}

func (e *ExhaustedError) Unwrap() error { return e.LastError }

// RetryOptions configures WithRetry.
type RetryOptions struct {
	Logger logging.Logger
}

type retryModel struct {
	next   Model
	policy RetryPolicy
	logger logging.Logger
}

// WithRetry wraps m so failed calls are repeated according to policy. A call
// is only retried while nothing has been delivered to the caller; once a
// chunk has been forwarded the error is returned as is.
func WithRetry(m Model, policy RetryPolicy, optFns ...func(o *RetryOptions)) Model {
	opts := RetryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &retryModel{next: m, policy: policy, logger: opts.Logger}
}

func (r *retryModel) Info() Info { return r.next.Info() }

func (r *retryModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		attempts := 0

		op := func() error {
			attempts++

			forwarded := false
			respCh, callErr := r.next.Generate(ctx, req)

			for resp := range respCh {
				select {
				case out <- resp:
					forwarded = true
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}

			err := <-callErr
			if err == nil {
				return nil
			}

			if forwarded || !r.policy.Retryable(err) {
				return backoff.Permanent(err)
			}

			return err
		}

		notify := func(err error, wait time.Duration) {
			r.logger.Warn("model.retry", "model", r.next.Info().Name, "attempt", attempts, "wait", wait, "error", err)
		}

		err := backoff.RetryNotify(op, r.policy.backOff(ctx), notify)
		if err == nil {
			return
		}

		if r.policy.Retryable(err) && attempts > 1 {
			err = &ExhaustedError{Attempts: attempts, LastError: err}
		}

		errCh <- err
	}()

	return out, errCh
}
