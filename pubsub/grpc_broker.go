package pubsub

import (
	"context"
	"errors"
	"io"
	"sync"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/google/uuid"
	"google.golang.org/grpc"
)

// GRPCBroker 基于 Pub/Sub v1 gRPC 接口的 Broker 实现.
//
// 所有调用共享同一条连接，可并发使用.
type GRPCBroker struct {
	publisher  pubsubpb.PublisherClient
	subscriber pubsubpb.SubscriberClient
	clientID   string
}

var _ Broker = (*GRPCBroker)(nil)

// NewGRPCBroker 在已建立的连接上创建 Broker.
func NewGRPCBroker(conn grpc.ClientConnInterface) *GRPCBroker {
	return &GRPCBroker{
		publisher:  pubsubpb.NewPublisherClient(conn),
		subscriber: pubsubpb.NewSubscriberClient(conn),
		clientID:   uuid.NewString(),
	}
}

// ClientID 返回流式拉取默认使用的客户端 ID.
func (b *GRPCBroker) ClientID() string {
	return b.clientID
}

// Publish 发布消息.
func (b *GRPCBroker) Publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	msgs := make([]*pubsubpb.PubsubMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, &pubsubpb.PubsubMessage{
			Data:        m.Data,
			Attributes:  m.Attributes,
			OrderingKey: m.OrderingKey,
		})
	}

	resp, err := b.publisher.Publish(ctx, &pubsubpb.PublishRequest{
		Topic:    req.Topic,
		Messages: msgs,
	})
	if err != nil {
		return nil, classify(ctx, opPublish, err)
	}
	return &PublishResponse{MessageIDs: resp.GetMessageIds()}, nil
}

// StreamingPull 打开流式拉取并发送初始请求.
func (b *GRPCBroker) StreamingPull(ctx context.Context, req *StreamingPullRequest) (PullStream, error) {
	sctx, cancel := context.WithCancel(ctx)
	st, err := b.subscriber.StreamingPull(sctx)
	if err != nil {
		cancel()
		return nil, classify(ctx, opStreamingPull, err)
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = b.clientID
	}
	err = st.Send(&pubsubpb.StreamingPullRequest{
		Subscription:             req.Subscription,
		StreamAckDeadlineSeconds: int32(req.AckDeadlineSeconds),
		ClientId:                 clientID,
		MaxOutstandingMessages:   req.MaxOutstandingMessages,
		MaxOutstandingBytes:      req.MaxOutstandingBytes,
	})
	if errors.Is(err, io.EOF) {
		// 服务端已关闭流，真实错误需要通过 Recv 获取
		_, err = st.Recv()
	}
	if err != nil {
		cancel()
		return nil, classify(ctx, opStreamingPull, err)
	}

	return &grpcPullStream{ctx: sctx, stream: st, cancel: cancel}, nil
}

// Acknowledge 确认消息.
func (b *GRPCBroker) Acknowledge(ctx context.Context, req *AcknowledgeRequest) error {
	_, err := b.subscriber.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: req.Subscription,
		AckIds:       req.AckIDs,
	})
	return classify(ctx, opAcknowledge, err)
}

type grpcPullStream struct {
	ctx    context.Context
	stream pubsubpb.Subscriber_StreamingPullClient
	cancel context.CancelFunc
	once   sync.Once
}

func (s *grpcPullStream) Recv() ([]*ReceivedMessage, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, classify(s.ctx, opStreamingPull, err)
	}

	msgs := make([]*ReceivedMessage, 0, len(resp.GetReceivedMessages()))
	for _, rm := range resp.GetReceivedMessages() {
		msgs = append(msgs, fromProto(rm))
	}
	return msgs, nil
}

func (s *grpcPullStream) Close() error {
	s.once.Do(func() {
		_ = s.stream.CloseSend()
		s.cancel()
	})
	return nil
}

func fromProto(rm *pubsubpb.ReceivedMessage) *ReceivedMessage {
	pm := rm.GetMessage()
	msg := &Message{
		Data:        pm.GetData(),
		Attributes:  pm.GetAttributes(),
		OrderingKey: pm.GetOrderingKey(),
		MessageID:   pm.GetMessageId(),
	}
	if ts := pm.GetPublishTime(); ts != nil {
		msg.PublishTime = ts.AsTime()
	}
	return &ReceivedMessage{
		Message:         msg,
		AckID:           rm.GetAckId(),
		DeliveryAttempt: int(rm.GetDeliveryAttempt()),
	}
}
