package pubsub

import (
	"time"

	"github.com/Tsukikage7/pubsubflow/clock"
	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/metrics"
)

// 默认配置值.
const (
	DefaultParallelism        = 1
	DefaultPollInterval       = time.Second
	DefaultAckDeadlineSeconds = 10
)

// Option 组件配置选项.
//
// 未被组件使用的选项会被忽略，例如 Publisher 忽略 WithPollInterval.
type Option func(*options)

type options struct {
	logger            logger.Logger
	metrics           *pubsubMetrics
	tracer            *pubsubTracer
	clock             clock.Clock
	parallelism       int           // Publisher / Acknowledger
	pollInterval      time.Duration // Subscriber
	maxStreamFailures int           // Subscriber
}

func defaultOptions() *options {
	return &options{
		logger:       logger.Nop(),
		clock:        clock.Real(),
		parallelism:  DefaultParallelism,
		pollInterval: DefaultPollInterval,
	}
}

func buildOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithMetrics 设置指标收集器.
func WithMetrics(collector metrics.Collector) Option {
	return func(o *options) {
		if collector != nil {
			o.metrics = newPubsubMetrics(collector)
		}
	}
}

// WithTracing 启用链路追踪，使用全局 TracerProvider.
func WithTracing(serviceName string) Option {
	return func(o *options) {
		o.tracer = newPubsubTracer(serviceName)
	}
}

// WithParallelism 设置并发 RPC 数上限，适用于 Publisher 和 Acknowledger.
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// WithPollInterval 设置两次打开流式拉取之间的最小间隔，适用于 Subscriber.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithClock 设置时间源，适用于 Subscriber.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = clock.OrReal(c)
	}
}

// WithMaxStreamFailures 设置连续失败的流数上限，适用于 Subscriber.
//
// 连续 n 条流在未投递任何消息的情况下以错误结束时，Subscriber 返回最后一个错误.
// 0 表示不限制.
func WithMaxStreamFailures(n int) Option {
	return func(o *options) {
		o.maxStreamFailures = n
	}
}
