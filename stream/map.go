package stream

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type result[Out any] struct {
	value Out
	err   error
}

// MapOrdered 以最多 parallelism 个并发调用 fn，按输入顺序输出结果.
//
// 已开始处理但尚未输出的元素不超过 parallelism 个.
// fn 返回错误时取消其余调用并返回该错误.
func MapOrdered[In, Out any](ctx context.Context, in <-chan In, out chan<- Out, parallelism int, fn Func[In, Out]) error {
	defer close(out)

	if parallelism < 1 {
		return ErrInvalidParallelism
	}

	g, gctx := errgroup.WithContext(ctx)
	slots := make(chan struct{}, parallelism)
	futures := make(chan chan result[Out], parallelism)

	// 生产者：按序启动调用
	g.Go(func() error {
		defer close(futures)
		for {
			select {
			case slots <- struct{}{}:
			case <-gctx.Done():
				return nil
			}

			item, ok, err := recv(gctx, in)
			if err != nil || !ok {
				return nil
			}

			f := make(chan result[Out], 1)
			g.Go(func() error {
				v, err := fn(gctx, item)
				f <- result[Out]{value: v, err: err}
				return nil
			})
			futures <- f
		}
	})

	// 消费者：按序等待并输出
	g.Go(func() error {
		for f := range futures {
			var r result[Out]
			select {
			case r = <-f:
			case <-gctx.Done():
				return gctx.Err()
			}
			if r.err != nil {
				return r.err
			}
			if err := send(gctx, out, r.value); err != nil {
				return err
			}
			<-slots
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// MapUnordered 以最多 parallelism 个并发调用 fn，结果按完成顺序输出.
func MapUnordered[In, Out any](ctx context.Context, in <-chan In, out chan<- Out, parallelism int, fn Func[In, Out]) error {
	defer close(out)

	if parallelism < 1 {
		return ErrInvalidParallelism
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for {
		item, ok, err := recv(gctx, in)
		if err != nil || !ok {
			break
		}
		g.Go(func() error {
			v, err := fn(gctx, item)
			if err != nil {
				return err
			}
			return send(gctx, out, v)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
