package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRetryer_SucceedsFirstAttempt(t *testing.T) {
	r := New(DefaultPolicy(), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_RetriesRetryableError(t *testing.T) {
	r := New(&Policy{Attempts: 3, Delay: time.Millisecond}, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return WrapRetryable(errors.New("connection refused"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryer_NonRetryableStopsImmediately(t *testing.T) {
	r := New(&Policy{Attempts: 3, Delay: time.Millisecond}, zap.NewNop())

	terminal := errors.New("HTTP 400")
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return terminal
	})

	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, calls)
}

func TestRetryer_ExhaustsAttempts(t *testing.T) {
	r := New(&Policy{Attempts: 3, Delay: time.Millisecond}, zap.NewNop())

	inner := errors.New("timeout")
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return WrapRetryable(inner)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, 3, calls)
}

func TestRetryer_ContextCancellation(t *testing.T) {
	r := New(&Policy{Attempts: 3, Delay: time.Second}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, func() error {
			calls++
			return WrapRetryable(errors.New("flaky"))
		})
	}()

	// 首次失败后处于延迟等待中，取消 context 应立即中断
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retryer did not honor context cancellation")
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	var attempts []int
	r := New(&Policy{
		Attempts: 3,
		Delay:    time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		},
	}, zap.NewNop())

	_ = r.Do(context.Background(), func() error {
		return WrapRetryable(errors.New("flaky"))
	})

	// 首次执行不触发回调
	assert.Equal(t, []int{2, 3}, attempts)
}

func TestRetryer_NilPolicyUsesDefault(t *testing.T) {
	r := New(nil, nil)
	err := r.Do(context.Background(), func() error { return nil })
	assert.NoError(t, err)
}

func TestWrapRetryable(t *testing.T) {
	assert.Nil(t, WrapRetryable(nil))

	inner := errors.New("boom")
	wrapped := WrapRetryable(inner)
	assert.True(t, IsRetryable(wrapped))
	assert.ErrorIs(t, wrapped, inner)
	assert.Equal(t, "boom", wrapped.Error())

	assert.False(t, IsRetryable(inner))
	assert.False(t, IsRetryable(nil))
}
