package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_SucceedsOnFirstAttempt(t *testing.T) {
	e := New(Config{RetryAttempts: 3, RetryDelay: time.Millisecond}, zerolog.Nop())
	calls := 0

	result, err := Execute(context.Background(), e, func() (int, error) {
		calls++
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	e := New(Config{RetryAttempts: 3, RetryDelay: time.Millisecond}, zerolog.Nop())
	calls := 0

	result, err := Execute(context.Background(), e, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestExecute_ExhaustsAttemptsAndPropagatesLastError(t *testing.T) {
	e := New(Config{RetryAttempts: 3, RetryDelay: time.Millisecond}, zerolog.Nop())
	calls := 0

	_, err := Execute(context.Background(), e, func() (int, error) {
		calls++
		return 0, errors.New("attempt failed")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_OnRetryCalledPerFailedAttempt(t *testing.T) {
	var retries []int
	e := New(Config{
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		OnRetry:       func(attempt int, err error) { retries = append(retries, attempt) },
	}, zerolog.Nop())

	_, _ = Execute(context.Background(), e, func() (int, error) {
		return 0, errors.New("fail")
	})

	// 3 attempts total, but the last failure doesn't retry -> 2 callbacks.
	assert.Equal(t, []int{1, 2}, retries)
}

func TestExecute_HonorsContextCancellationDuringBackoff(t *testing.T) {
	e := New(Config{RetryAttempts: 5, RetryDelay: time.Second}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan struct{})
	go func() {
		_, _ = Execute(ctx, e, func() (int, error) {
			calls++
			return 0, errors.New("fail")
		})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Execute did not return promptly after context cancellation")
	}
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("400 Bad Request: invalid symbol"), false},
		{nil, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, IsTransient(c.err))
	}
}
