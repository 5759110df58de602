package dvf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&StatusError{Status: 500}))
	assert.True(t, IsTransient(&StatusError{Status: 503}))
	assert.False(t, IsTransient(&StatusError{Status: 404}))
	assert.False(t, IsTransient(errors.New("parse error")))

	// Wrapped status errors are still recognized
	wrapped := errorsJoin(&StatusError{Status: 502})
	assert.True(t, IsTransient(wrapped))
}

func errorsJoin(err error) error {
	return &wrapErr{err}
}

type wrapErr struct{ err error }

func (w *wrapErr) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapErr) Unwrap() error { return w.err }

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Retryable:   IsTransient,
	}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return &StatusError{Status: 503}
	})

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyStopsOnNonRetryable(t *testing.T) {
	policy := DefaultRetryPolicy()

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return &StatusError{Status: 404}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicySucceedsAfterTransientFailure(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Retryable:   IsTransient,
	}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &StatusError{Status: 500}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Hour,
		Retryable:   IsTransient,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := policy.Do(ctx, func() error {
		calls++
		return &StatusError{Status: 500}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
