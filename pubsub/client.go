package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/connectivity"

	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/metrics"
	"github.com/Tsukikage7/pubsubflow/tracing"
	grpcclient "github.com/Tsukikage7/pubsubflow/transport/grpc/client"
)

// Client Pub/Sub 客户端.
//
// 持有共享的连接、日志、指标与追踪配置，创建的 Publisher、Subscriber、Acknowledger 共用同一个 Broker.
//
// 示例:
//
//	client, err := pubsub.NewClientFromSettings(settings, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	pub, _ := client.Publisher()
//	sub, _ := client.Subscriber(&pubsub.StreamingPullRequest{Subscription: sub})
type Client struct {
	broker   Broker
	conn     *grpcclient.Client
	settings *Settings
	logger   logger.Logger

	collector      metrics.Collector
	serviceName    string
	tracerProvider *sdktrace.TracerProvider

	mu     sync.Mutex
	closed bool
}

// ClientOption 客户端配置选项.
type ClientOption func(*Client)

// WithBroker 使用指定的 Broker，适用于测试或自定义传输.
func WithBroker(b Broker) ClientOption {
	return func(c *Client) {
		c.broker = b
	}
}

// WithSettings 设置组件默认参数，如并行度与确认期限.
func WithSettings(s *Settings) ClientOption {
	return func(c *Client) {
		c.settings = s
	}
}

// WithClientLogger 设置日志记录器.
func WithClientLogger(log logger.Logger) ClientOption {
	return func(c *Client) {
		c.logger = log
	}
}

// WithClientMetrics 启用指标监控.
func WithClientMetrics(collector metrics.Collector) ClientOption {
	return func(c *Client) {
		c.collector = collector
	}
}

// WithClientTracing 启用链路追踪，需要先初始化全局 TracerProvider.
func WithClientTracing(serviceName string) ClientOption {
	return func(c *Client) {
		c.serviceName = serviceName
	}
}

// NewClient 创建客户端，必须设置 WithBroker.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}

	if c.broker == nil {
		return nil, ErrNilBroker
	}
	if c.logger == nil {
		c.logger = logger.Nop()
	}
	if c.settings == nil {
		c.settings = DefaultSettings()
	}
	c.settings.ApplyDefaults()

	c.logger.Debug("[PubSub] 客户端已创建")
	return c, nil
}

// NewClientFromSettings 按配置建立 gRPC 连接并创建客户端.
//
// 同时按配置创建指标收集器，启用追踪时初始化全局 TracerProvider.
func NewClientFromSettings(s *Settings, log logger.Logger) (*Client, error) {
	if s == nil {
		s = DefaultSettings()
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	collector, err := metrics.NewMetrics(s.Metrics)
	if err != nil {
		return nil, err
	}

	tp, err := tracing.NewTracer(s.Tracing)
	if err != nil {
		return nil, err
	}

	clientOpts := []grpcclient.Option{
		grpcclient.WithName("PubSub"),
		grpcclient.WithTarget(s.Endpoint.Address()),
		grpcclient.WithLogger(log),
		grpcclient.WithKeepalive(s.Endpoint.KeepaliveTime, s.Endpoint.KeepaliveTimeout),
	}
	if s.Endpoint.UsePlaintext {
		clientOpts = append(clientOpts, grpcclient.WithPlaintext())
	}
	if s.Endpoint.RootCAFile != "" {
		clientOpts = append(clientOpts, grpcclient.WithRootCAFile(s.Endpoint.RootCAFile))
	}
	if s.Endpoint.Authority != "" {
		clientOpts = append(clientOpts, grpcclient.WithAuthority(s.Endpoint.Authority))
	}
	if s.Tracing.Enabled {
		clientOpts = append(clientOpts,
			grpcclient.WithInterceptors(tracing.UnaryClientInterceptor(s.Tracing.ServiceName)),
			grpcclient.WithStreamInterceptors(tracing.StreamClientInterceptor(s.Tracing.ServiceName)),
		)
	}

	conn, err := grpcclient.New(clientOpts...)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}

	c := &Client{
		broker:         NewGRPCBroker(conn.Conn()),
		conn:           conn,
		settings:       s,
		logger:         log,
		collector:      collector,
		tracerProvider: tp,
	}
	if s.Tracing.Enabled {
		c.serviceName = s.Tracing.ServiceName
	}

	log.With(logger.String("endpoint", s.Endpoint.Address())).Info("[PubSub] 客户端已连接")
	return c, nil
}

// Broker 返回共享的 Broker.
func (c *Client) Broker() Broker {
	return c.broker
}

// Settings 返回客户端配置.
func (c *Client) Settings() *Settings {
	return c.settings
}

// Collector 返回指标收集器，未启用时为 nil.
func (c *Client) Collector() metrics.Collector {
	return c.collector
}

// baseOptions 返回客户端级别的默认选项，调用方的选项会覆盖它们.
func (c *Client) baseOptions(parallelism int) []Option {
	opts := []Option{
		WithLogger(c.logger),
		WithParallelism(parallelism),
		WithPollInterval(c.settings.Subscriber.PollInterval),
		WithMaxStreamFailures(c.settings.Subscriber.MaxStreamFailures),
	}
	if c.collector != nil {
		opts = append(opts, WithMetrics(c.collector))
	}
	if c.serviceName != "" {
		opts = append(opts, WithTracing(c.serviceName))
	}
	return opts
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// Publisher 创建发布流.
func (c *Client) Publisher(opts ...Option) (*Publisher, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return NewPublisher(c.broker, append(c.baseOptions(c.settings.Publisher.Parallelism), opts...)...)
}

// Subscriber 创建订阅源.
//
// req 中未设置的确认期限与流控参数取自客户端配置.
func (c *Client) Subscriber(req *StreamingPullRequest, opts ...Option) (*Subscriber, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrEmptySubscription
	}

	r := *req
	if r.AckDeadlineSeconds == 0 {
		r.AckDeadlineSeconds = c.settings.Subscriber.AckDeadlineSeconds
	}
	if r.MaxOutstandingMessages == 0 {
		r.MaxOutstandingMessages = c.settings.Subscriber.MaxOutstandingMessages
	}
	if r.MaxOutstandingBytes == 0 {
		r.MaxOutstandingBytes = c.settings.Subscriber.MaxOutstandingBytes
	}
	return NewSubscriber(c.broker, &r, append(c.baseOptions(DefaultParallelism), opts...)...)
}

// Acknowledger 创建确认流.
func (c *Client) Acknowledger(opts ...Option) (*Acknowledger, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return NewAcknowledger(c.broker, append(c.baseOptions(c.settings.Acknowledger.Parallelism), opts...)...)
}

// BufferSize 返回订阅输出 channel 的建议容量.
func (c *Client) BufferSize() int {
	return c.settings.Subscriber.BufferSize
}

// HealthCheck 检查连接状态.
//
// 连接处于 TransientFailure 或 Shutdown 时返回 ErrHealthCheck；使用自定义 Broker 时只检查是否已关闭.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.conn == nil {
		return nil
	}

	conn := c.conn.Conn()
	state := conn.GetState()
	if state == connectivity.Idle {
		conn.Connect()
		// 等待离开 Idle 或 ctx 到期
		if conn.WaitForStateChange(ctx, state) {
			state = conn.GetState()
		}
	}
	switch state {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return fmt.Errorf("%w: 连接状态 %s", ErrHealthCheck, state)
	default:
		return nil
	}
}

// Close 关闭客户端，可重复调用.
func (c *Client) Close() error {
	return c.Shutdown(context.Background())
}

// Shutdown 关闭连接并刷新追踪数据，可重复调用.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.tracerProvider != nil {
		if err := c.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.logger.Debug("[PubSub] 客户端已关闭")
	return errors.Join(errs...)
}
