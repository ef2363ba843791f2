// Package retry 提供固定间隔的有界重试。
//
// 与指数退避不同，导入场景下上游失败多为短暂的网络抖动，
// 固定间隔的少量重试足够，且行为可预测。
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy 定义重试策略配置
type Policy struct {
	// Attempts 总尝试次数（含首次执行，最小为 1）
	Attempts int
	// Delay 两次尝试之间的固定间隔
	Delay time.Duration
	// OnRetry 重试回调
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 返回默认重试策略：共 3 次尝试，间隔 1 秒
func DefaultPolicy() *Policy {
	return &Policy{
		Attempts: 3,
		Delay:    time.Second,
	}
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，失败且错误可重试时按策略重试
	Do(ctx context.Context, fn func() error) error
}

// fixedDelayRetryer 固定间隔重试器实现
type fixedDelayRetryer struct {
	policy *Policy
	logger *zap.Logger
}

// New 创建固定间隔重试器
func New(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}

	// 参数校验
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.Delay < 0 {
		policy.Delay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &fixedDelayRetryer{
		policy: policy,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
// 仅对 WrapRetryable 标记过的错误重试；其余错误立即返回
func (r *fixedDelayRetryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		// 第一次执行不延迟
		if attempt > 1 {
			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.Attempts),
				zap.Duration("delay", r.policy.Delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, r.policy.Delay)
			}

			// 等待延迟，同时监听 context 取消
			select {
			case <-ctx.Done():
				return fmt.Errorf("重试被取消: %w", ctx.Err())
			case <-time.After(r.policy.Delay):
			}
		}

		lastErr = fn()

		// 成功，直接返回
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return nil
		}

		// 不可重试的错误立即终止
		if !IsRetryable(lastErr) {
			r.logger.Debug("错误不可重试", zap.Error(lastErr))
			return lastErr
		}
	}

	// 所有尝试都失败了
	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.Attempts),
		zap.Error(lastErr),
	)

	return fmt.Errorf("重试 %d 次后仍失败: %w", r.policy.Attempts, lastErr)
}

// RetryableError 标记为可重试的错误类型
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable 检查错误是否被 WrapRetryable 包装为可重试错误
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// WrapRetryable 将错误包装为可重试错误
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}
