package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/stream"
)

const opPublish = "publish"

// Publisher 发布流.
//
// 最多 parallelism 个发布 RPC 同时进行，响应按请求顺序输出.
// 任一 RPC 失败都会使整个流失败，内部不做重试.
type Publisher struct {
	broker Broker
	opts   *options
}

// NewPublisher 创建发布流.
//
// 使用示例:
//
//	pub, err := pubsub.NewPublisher(broker, pubsub.WithParallelism(4))
func NewPublisher(broker Broker, opts ...Option) (*Publisher, error) {
	if broker == nil {
		return nil, ErrNilBroker
	}
	o := buildOptions(opts)
	if o.parallelism < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidParallelism, o.parallelism)
	}
	return &Publisher{broker: broker, opts: o}, nil
}

// Parallelism 返回并发 RPC 数上限.
func (p *Publisher) Parallelism() int {
	return p.opts.parallelism
}

// Publish 发布单个请求.
//
// 响应中的消息 ID 数量与请求不一致、存在空 ID 或重复 ID 时返回 ErrProtocol.
func (p *Publisher) Publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, span := p.opts.tracer.startPublishSpan(ctx, req.Topic, len(req.Messages))
	defer span.End()

	start := time.Now()
	resp, err := p.broker.Publish(ctx, p.opts.tracer.injectRequest(ctx, req))
	if err = classify(ctx, opPublish, err); err == nil {
		err = checkPublishResponse(req, resp)
	}
	if err != nil {
		p.opts.tracer.setError(span, err)
		if !isContextErr(err) {
			p.opts.metrics.RecordPublishError(req.Topic, err)
			p.opts.logger.WithContext(ctx).With(
				logger.String("topic", req.Topic),
				logger.Int("messages", len(req.Messages)),
				logger.Err(err),
			).Debug("[PubSub] 发布失败")
		}
		return nil, err
	}

	p.opts.metrics.RecordPublish(req.Topic, len(req.Messages), time.Since(start))
	return resp, nil
}

// Run 从 in 读取发布请求并向 out 输出响应，返回时关闭 out.
//
// in 关闭且所有响应输出后返回 nil；ctx 取消时返回 ctx.Err().
// 缓冲中的请求不超过 parallelism 个.
func (p *Publisher) Run(ctx context.Context, in <-chan *PublishRequest, out chan<- *PublishResponse) error {
	err := stream.MapOrdered(ctx, in, out, p.opts.parallelism, p.Publish)
	if err != nil && !isContextErr(err) {
		p.opts.logger.With(logger.Err(err)).Error("[PubSub] 发布流失败")
	}
	return err
}

func checkPublishResponse(req *PublishRequest, resp *PublishResponse) error {
	if resp == nil {
		return ProtocolError(opPublish, errors.New("响应为空"))
	}
	if len(resp.MessageIDs) != len(req.Messages) {
		return ProtocolError(opPublish, fmt.Errorf("请求 %d 条消息，响应 %d 个 ID", len(req.Messages), len(resp.MessageIDs)))
	}
	seen := make(map[string]int, len(resp.MessageIDs))
	for i, id := range resp.MessageIDs {
		if id == "" {
			return ProtocolError(opPublish, fmt.Errorf("第 %d 个消息 ID 为空", i))
		}
		if j, ok := seen[id]; ok {
			return ProtocolError(opPublish, fmt.Errorf("第 %d 与第 %d 个消息 ID 重复: %s", j, i, id))
		}
		seen[id] = i
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
