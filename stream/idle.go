package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tsukikage7/pubsubflow/clock"
)

// ErrIdleTimeout 在指定时间内没有元素通过.
var ErrIdleTimeout = errors.New("stream: 空闲超时")

// IdleTimeout 原样转发 in 中的元素，若连续 d 时间没有元素到达则返回 ErrIdleTimeout.
//
// in 关闭时正常返回 nil. clk 为 nil 时使用系统时间.
func IdleTimeout[T any](ctx context.Context, in <-chan T, out chan<- T, d time.Duration, clk clock.Clock) error {
	defer close(out)

	clk = clock.OrReal(clk)
	for {
		timer := clk.After(d)
		select {
		case v, ok := <-in:
			if !ok {
				return nil
			}
			if err := send(ctx, out, v); err != nil {
				return err
			}
		case <-timer:
			return fmt.Errorf("%w: %s 内没有收到元素", ErrIdleTimeout, d)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
