package pubsub

import (
	"context"
	"fmt"

	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/stream"
)

const opAcknowledge = "acknowledge"

// Acknowledger 确认流.
//
// 每个请求对应一次确认 RPC，最多 parallelism 个同时进行，不保证输出顺序.
// 请求被 broker 接受后原样输出，作为完成信号.
type Acknowledger struct {
	broker Broker
	opts   *options
}

// NewAcknowledger 创建确认流.
func NewAcknowledger(broker Broker, opts ...Option) (*Acknowledger, error) {
	if broker == nil {
		return nil, ErrNilBroker
	}
	o := buildOptions(opts)
	if o.parallelism < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidParallelism, o.parallelism)
	}
	return &Acknowledger{broker: broker, opts: o}, nil
}

// Parallelism 返回并发 RPC 数上限.
func (a *Acknowledger) Parallelism() int {
	return a.opts.parallelism
}

// Acknowledge 确认单个请求.
//
// AckIDs 为空时不发起 RPC，直接返回 nil.
func (a *Acknowledger) Acknowledge(ctx context.Context, req *AcknowledgeRequest) error {
	if req == nil || req.Subscription == "" {
		return ErrEmptySubscription
	}
	if len(req.AckIDs) == 0 {
		return nil
	}

	if err := classify(ctx, opAcknowledge, a.broker.Acknowledge(ctx, req)); err != nil {
		if !isContextErr(err) {
			a.opts.metrics.RecordAckError(req.Subscription, err)
		}
		return err
	}

	a.opts.metrics.RecordAck(req.Subscription, len(req.AckIDs))
	return nil
}

// Run 从 in 读取确认请求，确认成功后输出到 out，返回时关闭 out.
//
// in 关闭且所有请求完成后返回 nil；任一 RPC 失败使整个流失败.
func (a *Acknowledger) Run(ctx context.Context, in <-chan *AcknowledgeRequest, out chan<- *AcknowledgeRequest) error {
	err := stream.MapUnordered(ctx, in, out, a.opts.parallelism, func(ctx context.Context, req *AcknowledgeRequest) (*AcknowledgeRequest, error) {
		if err := a.Acknowledge(ctx, req); err != nil {
			return nil, err
		}
		return req, nil
	})
	if err != nil && !isContextErr(err) {
		a.opts.logger.With(logger.Err(err)).Error("[PubSub] 确认流失败")
	}
	return err
}
