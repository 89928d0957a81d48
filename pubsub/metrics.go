package pubsub

import (
	"errors"
	"time"

	"github.com/Tsukikage7/pubsubflow/metrics"
)

// pubsubMetrics Pub/Sub 指标记录器，指标名不含前缀，由 Collector 的命名空间（默认 pubsub）补全.
//
// 封装 metrics.Collector，nil 接收者上的调用为空操作.
type pubsubMetrics struct {
	collector metrics.Collector
}

func newPubsubMetrics(collector metrics.Collector) *pubsubMetrics {
	return &pubsubMetrics{collector: collector}
}

// RecordPublish 记录一次成功发布.
func (m *pubsubMetrics) RecordPublish(topic string, count int, latency time.Duration) {
	if m == nil {
		return
	}
	labels := map[string]string{"topic": topic}
	m.collector.Add("published_messages_total", float64(count), labels)
	m.collector.Histogram("publish_duration_seconds", latency.Seconds(), labels)
}

// RecordPublishError 记录发布失败.
func (m *pubsubMetrics) RecordPublishError(topic string, err error) {
	if m == nil {
		return
	}
	m.collector.Counter("publish_errors_total", map[string]string{"topic": topic, "kind": errorKind(err)})
}

// RecordReceive 记录收到的消息.
func (m *pubsubMetrics) RecordReceive(subscription string, count int) {
	if m == nil {
		return
	}
	m.collector.Add("received_messages_total", float64(count), map[string]string{"subscription": subscription})
}

// RecordStreamOpen 记录打开流式拉取.
func (m *pubsubMetrics) RecordStreamOpen(subscription string) {
	if m == nil {
		return
	}
	m.collector.Counter("stream_opens_total", map[string]string{"subscription": subscription})
}

// RecordStreamEnd 记录流结束，reason 为 eof、error 或 rejected.
func (m *pubsubMetrics) RecordStreamEnd(subscription, reason string) {
	if m == nil {
		return
	}
	m.collector.Counter("stream_ends_total", map[string]string{"subscription": subscription, "reason": reason})
}

// RecordAck 记录确认成功.
func (m *pubsubMetrics) RecordAck(subscription string, count int) {
	if m == nil {
		return
	}
	m.collector.Add("acked_total", float64(count), map[string]string{"subscription": subscription})
}

// RecordAckError 记录确认失败.
func (m *pubsubMetrics) RecordAckError(subscription string, err error) {
	if m == nil {
		return
	}
	m.collector.Counter("ack_errors_total", map[string]string{"subscription": subscription, "kind": errorKind(err)})
}

func errorKind(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.String()
	}
	return "other"
}
