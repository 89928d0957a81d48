package pubsub

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// pubsubTracer Pub/Sub 追踪器.
//
// 使用全局 OpenTelemetry TracerProvider，需要先通过 tracing.NewTracer 初始化.
// nil 接收者上的调用为空操作.
type pubsubTracer struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// noopSpan 未启用追踪时返回的空 span.
var noopSpan = trace.SpanFromContext(context.Background())

func newPubsubTracer(serviceName string) *pubsubTracer {
	return &pubsubTracer{
		tracer:     otel.Tracer(serviceName),
		propagator: otel.GetTextMapPropagator(),
	}
}

// startPublishSpan 开始发布 span.
func (t *pubsubTracer) startPublishSpan(ctx context.Context, topic string, count int) (context.Context, trace.Span) {
	if t == nil {
		return ctx, noopSpan
	}
	return t.tracer.Start(ctx, "pubsub.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "gcp_pubsub"),
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.operation", "publish"),
			attribute.Int("messaging.batch.message_count", count),
		),
	)
}

// startStreamSpan 开始流式拉取 span，流结束时关闭.
func (t *pubsubTracer) startStreamSpan(ctx context.Context, subscription string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, noopSpan
	}
	return t.tracer.Start(ctx, "pubsub.streaming_pull",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "gcp_pubsub"),
			attribute.String("messaging.source.name", subscription),
			attribute.String("messaging.operation", "receive"),
		),
	)
}

// injectRequest 将追踪上下文写入每条消息的属性.
//
// 返回请求的副本，不修改调用方的消息.
func (t *pubsubTracer) injectRequest(ctx context.Context, req *PublishRequest) *PublishRequest {
	if t == nil {
		return req
	}
	msgs := make([]*Message, len(req.Messages))
	for i, m := range req.Messages {
		c := *m
		c.Attributes = make(map[string]string, len(m.Attributes)+2)
		for k, v := range m.Attributes {
			c.Attributes[k] = v
		}
		t.propagator.Inject(ctx, &mapCarrier{headers: c.Attributes})
		msgs[i] = &c
	}
	return &PublishRequest{Topic: req.Topic, Messages: msgs}
}

// setError 设置 span 错误.
func (t *pubsubTracer) setError(span trace.Span, err error) {
	if t != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// ExtractContext 从消息属性中提取发布方的追踪上下文.
func ExtractContext(ctx context.Context, msg *Message) context.Context {
	if msg == nil || len(msg.Attributes) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, &mapCarrier{headers: msg.Attributes})
}

// mapCarrier 实现 propagation.TextMapCarrier 接口.
type mapCarrier struct {
	headers map[string]string
}

func (c *mapCarrier) Get(key string) string {
	return c.headers[key]
}

func (c *mapCarrier) Set(key, value string) {
	c.headers[key] = value
}

func (c *mapCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for k := range c.headers {
		keys = append(keys, k)
	}
	return keys
}
