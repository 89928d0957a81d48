// Package stream 提供基于 channel 的流式组合算子.
//
// 所有算子都是阻塞调用：从 in 读取、向 out 写入，返回时关闭 out.
// out 的容量即下游缓冲，下游不读取时算子阻塞（背压）.
package stream

import (
	"context"
	"errors"
)

// ErrInvalidParallelism 并行度小于 1.
var ErrInvalidParallelism = errors.New("stream: 并行度必须大于 0")

// ErrInvalidBatchSize 批大小小于 1.
var ErrInvalidBatchSize = errors.New("stream: 批大小必须大于 0")

// Func 对单个元素的处理函数.
type Func[In, Out any] func(ctx context.Context, item In) (Out, error)

// send 向 out 写入 v，ctx 取消时放弃.
func send[T any](ctx context.Context, out chan<- T, v T) error {
	select {
	case out <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recv 从 in 读取，ctx 取消时返回错误，in 关闭时 ok 为 false.
func recv[T any](ctx context.Context, in <-chan T) (v T, ok bool, err error) {
	select {
	case v, ok = <-in:
		return v, ok, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}
