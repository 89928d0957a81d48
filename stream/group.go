package stream

import (
	"context"
	"time"

	"github.com/Tsukikage7/pubsubflow/clock"
)

// GroupedWithin 将元素分组输出：凑满 n 个，或自本组第一个元素到达起经过 d，以先到者为准.
//
// in 关闭时输出剩余的不完整分组；不会输出空分组. clk 为 nil 时使用系统时间.
func GroupedWithin[T any](ctx context.Context, in <-chan T, out chan<- []T, n int, d time.Duration, clk clock.Clock) error {
	defer close(out)

	if n < 1 {
		return ErrInvalidBatchSize
	}

	clk = clock.OrReal(clk)
	var (
		batch  []T
		expire <-chan time.Time
	)

	flush := func() error {
		expire = nil
		if len(batch) == 0 {
			return nil
		}
		b := batch
		batch = nil
		return send(ctx, out, b)
	}

	for {
		select {
		case v, ok := <-in:
			if !ok {
				return flush()
			}
			if len(batch) == 0 {
				batch = make([]T, 0, n)
				expire = clk.After(d)
			}
			batch = append(batch, v)
			if len(batch) >= n {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-expire:
			if err := flush(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
