package dedup

import (
	"context"
	"time"

	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/metrics"
	"github.com/Tsukikage7/pubsubflow/pubsub"
)

// 重复消息计数指标.
const metricDuplicates = "duplicate_messages_total"

// DuplicateFunc 处理被过滤的重复消息.
type DuplicateFunc func(ctx context.Context, msg *pubsub.ReceivedMessage)

// Option 过滤器配置选项.
type Option func(*Filter)

// WithTTL 设置去重记录保留时间，默认 DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(f *Filter) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// WithOnDuplicate 设置重复消息回调.
func WithOnDuplicate(fn DuplicateFunc) Option {
	return func(f *Filter) {
		f.onDuplicate = fn
	}
}

// WithSkipOnError 存储出错时放行消息而不是终止.
func WithSkipOnError(skip bool) Option {
	return func(f *Filter) {
		f.skipOnError = skip
	}
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(f *Filter) {
		if log != nil {
			f.logger = log
		}
	}
}

// WithMetrics 设置指标收集器.
func WithMetrics(collector metrics.Collector) Option {
	return func(f *Filter) {
		f.collector = collector
	}
}

// Filter 按 MessageID 过滤重复投递.
type Filter struct {
	store       Store
	ttl         time.Duration
	onDuplicate DuplicateFunc
	skipOnError bool
	logger      logger.Logger
	collector   metrics.Collector
}

// NewFilter 创建过滤器.
func NewFilter(store Store, opts ...Option) (*Filter, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	f := &Filter{
		store:  store,
		ttl:    DefaultTTL,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Allow 判断消息是否首次出现.
//
// 没有 MessageID 的消息无法去重，总是放行.
func (f *Filter) Allow(ctx context.Context, msg *pubsub.ReceivedMessage) (bool, error) {
	if msg == nil || msg.Message == nil || msg.Message.MessageID == "" {
		return true, nil
	}

	seen, err := f.store.Mark(ctx, msg.Message.MessageID, f.ttl)
	if err != nil {
		if f.skipOnError {
			f.logger.WithContext(ctx).With(
				logger.String("message_id", msg.Message.MessageID),
				logger.Err(err),
			).Warn("[PubSub] 去重存储失败，放行消息")
			return true, nil
		}
		return false, err
	}
	return !seen, nil
}

// Run 从 in 读取消息，向 out 输出首次出现的消息，返回时关闭 out.
//
// 重复消息交给 OnDuplicate 回调；in 关闭时返回 nil，ctx 取消时返回 ctx.Err().
func (f *Filter) Run(ctx context.Context, in <-chan *pubsub.ReceivedMessage, out chan<- *pubsub.ReceivedMessage) error {
	defer close(out)

	for {
		var (
			msg *pubsub.ReceivedMessage
			ok  bool
		)
		select {
		case msg, ok = <-in:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		allow, err := f.Allow(ctx, msg)
		if err != nil {
			return err
		}
		if !allow {
			f.duplicate(ctx, msg)
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Filter) duplicate(ctx context.Context, msg *pubsub.ReceivedMessage) {
	f.logger.WithContext(ctx).With(
		logger.String("message_id", msg.Message.MessageID),
		logger.Int("delivery_attempt", msg.DeliveryAttempt),
	).Debug("[PubSub] 过滤重复消息")

	if f.collector != nil {
		f.collector.Counter(metricDuplicates, nil)
	}
	if f.onDuplicate != nil {
		f.onDuplicate(ctx, msg)
	}
}
