// Package retry 提供带退避的重试机制.
package retry

import (
	"context"
	"fmt"
	"time"
)

// 默认配置值.
const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 100 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
)

// Retry 重试器.
type Retry struct {
	ctx         context.Context
	fn          func() error
	maxAttempts int
	delay       time.Duration
	maxDelay    time.Duration
	exponential bool
	retryable   func(error) bool
	onRetry     func(attempt int, err error)
}

// Do 创建重试器.
//
// 使用示例:
//
//	err := retry.Do(ctx, func() error {
//	    return publish()
//	}).WithMaxAttempts(5).WithBackoff(100*time.Millisecond, 2*time.Second).If(pubsub.IsRetryable).Run()
func Do(ctx context.Context, fn func() error) *Retry {
	return &Retry{
		ctx:         ctx,
		fn:          fn,
		maxAttempts: DefaultMaxAttempts,
		delay:       DefaultDelay,
		maxDelay:    DefaultMaxDelay,
	}
}

// WithMaxAttempts 设置最大尝试次数，小于 1 时按 1 处理.
func (r *Retry) WithMaxAttempts(n int) *Retry {
	if n < 1 {
		n = 1
	}
	r.maxAttempts = n
	return r
}

// WithDelay 设置固定重试间隔.
func (r *Retry) WithDelay(d time.Duration) *Retry {
	r.delay = d
	r.exponential = false
	return r
}

// WithBackoff 设置指数退避，间隔从 base 开始每次翻倍，不超过 max.
func (r *Retry) WithBackoff(base, max time.Duration) *Retry {
	r.delay = base
	r.maxDelay = max
	r.exponential = true
	return r
}

// If 设置可重试判断，返回 false 的错误立即返回.
func (r *Retry) If(fn func(error) bool) *Retry {
	r.retryable = fn
	return r
}

// OnRetry 设置每次重试前的回调.
func (r *Retry) OnRetry(fn func(attempt int, err error)) *Retry {
	r.onRetry = fn
	return r
}

// Run 执行重试.
//
// 成功返回 nil；不可重试的错误原样返回；
// 次数耗尽时返回同时包装 ErrMaxAttempts 与最后一次错误的错误.
func (r *Retry) Run() error {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		default:
		}

		lastErr = r.fn()
		if lastErr == nil {
			return nil
		}
		if r.retryable != nil && !r.retryable(lastErr) {
			return lastErr
		}

		if attempt < r.maxAttempts-1 {
			if r.onRetry != nil {
				r.onRetry(attempt+1, lastErr)
			}
			select {
			case <-time.After(r.wait(attempt)):
			case <-r.ctx.Done():
				return r.ctx.Err()
			}
		}
	}

	return fmt.Errorf("%w: %w", ErrMaxAttempts, lastErr)
}

func (r *Retry) wait(attempt int) time.Duration {
	if !r.exponential {
		return r.delay
	}
	d := r.delay << attempt
	if d <= 0 || (r.maxDelay > 0 && d > r.maxDelay) {
		return r.maxDelay
	}
	return d
}
