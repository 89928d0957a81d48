package pubsub

import (
	"fmt"
	"time"
)

// Message Pub/Sub 消息.
//
// MessageID 与 PublishTime 由 broker 在发布时分配，发布时无需填写.
type Message struct {
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
	MessageID   string
	PublishTime time.Time
}

// PublishRequest 发布请求，一次发布 1..N 条消息到同一主题.
type PublishRequest struct {
	Topic    string
	Messages []*Message
}

// PublishResponse 发布响应.
//
// MessageIDs 与请求中的消息按位置一一对应.
type PublishResponse struct {
	MessageIDs []string
}

// ReceivedMessage 从订阅收到的消息.
//
// AckID 仅在产生它的流上、租约到期前有效.
type ReceivedMessage struct {
	Message         *Message
	AckID           string
	DeliveryAttempt int
}

// StreamingPullRequest 流式拉取请求.
type StreamingPullRequest struct {
	Subscription string
	// AckDeadlineSeconds 流上消息的确认期限
	AckDeadlineSeconds int
	// ClientID 为空时由 broker 实现分配
	ClientID string
	// MaxOutstandingMessages 未确认消息数上限，0 表示不限制
	MaxOutstandingMessages int64
	// MaxOutstandingBytes 未确认字节数上限，0 表示不限制
	MaxOutstandingBytes int64
}

// AcknowledgeRequest 确认请求.
//
// AckIDs 的顺序无关，重复确认不视为错误.
type AcknowledgeRequest struct {
	Subscription string
	AckIDs       []string
}

// TopicPath 返回 projects/{project}/topics/{topic}.
func TopicPath(project, topic string) string {
	return fmt.Sprintf("projects/%s/topics/%s", project, topic)
}

// SubscriptionPath 返回 projects/{project}/subscriptions/{subscription}.
func SubscriptionPath(project, subscription string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", project, subscription)
}

// NewMessage 以 data 创建消息.
func NewMessage(data []byte) *Message {
	return &Message{Data: data}
}

// Batch 用一组消息构建发布请求.
func Batch(topic string, msgs []*Message) *PublishRequest {
	return &PublishRequest{Topic: topic, Messages: msgs}
}

// AckRequest 为一组已收到的消息构建确认请求.
func AckRequest(subscription string, msgs ...*ReceivedMessage) *AcknowledgeRequest {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.AckID)
	}
	return &AcknowledgeRequest{Subscription: subscription, AckIDs: ids}
}

func (r *PublishRequest) validate() error {
	if r == nil || r.Topic == "" {
		return ErrEmptyTopic
	}
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	for _, m := range r.Messages {
		if m == nil {
			return ErrNilMessage
		}
	}
	return nil
}

func (r *StreamingPullRequest) validate() error {
	if r == nil || r.Subscription == "" {
		return ErrEmptySubscription
	}
	if r.AckDeadlineSeconds <= 0 {
		return ErrInvalidAckDeadline
	}
	return nil
}
