package pubsubtest

import (
	"context"
	"errors"
	"io"
	"net"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/Tsukikage7/pubsubflow/pubsub"
)

const bufSize = 1 << 20

// Target 进程内服务的拨号目标，需配合 Server.DialOption 使用.
const Target = "passthrough:///bufnet"

// Server 通过 bufconn 暴露内存 Broker 的 Pub/Sub v1 gRPC 服务.
type Server struct {
	broker *Broker
	srv    *grpc.Server
	lis    *bufconn.Listener
}

// NewServer 创建并启动服务.
func NewServer(b *Broker) *Server {
	s := &Server{
		broker: b,
		srv:    grpc.NewServer(),
		lis:    bufconn.Listen(bufSize),
	}
	pubsubpb.RegisterPublisherServer(s.srv, &publisherService{broker: b})
	pubsubpb.RegisterSubscriberServer(s.srv, &subscriberService{broker: b})

	go func() { _ = s.srv.Serve(s.lis) }()
	return s
}

// Broker 返回底层的内存 Broker.
func (s *Server) Broker() *Broker {
	return s.broker
}

// DialOption 返回连接到该服务的 dial 选项.
func (s *Server) DialOption() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return s.lis.DialContext(ctx)
	})
}

// Dial 创建到该服务的明文连接.
func (s *Server) Dial() (*grpc.ClientConn, error) {
	return grpc.NewClient(Target,
		s.DialOption(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
}

// Close 停止服务.
func (s *Server) Close() {
	s.srv.Stop()
}

type publisherService struct {
	pubsubpb.UnimplementedPublisherServer
	broker *Broker
}

type subscriberService struct {
	pubsubpb.UnimplementedSubscriberServer
	broker *Broker
}

// Publish 实现 pubsubpb.PublisherServer.
func (s *publisherService) Publish(ctx context.Context, req *pubsubpb.PublishRequest) (*pubsubpb.PublishResponse, error) {
	msgs := make([]*pubsub.Message, 0, len(req.GetMessages()))
	for _, m := range req.GetMessages() {
		msgs = append(msgs, &pubsub.Message{
			Data:        m.GetData(),
			Attributes:  m.GetAttributes(),
			OrderingKey: m.GetOrderingKey(),
		})
	}

	resp, err := s.broker.Publish(ctx, &pubsub.PublishRequest{Topic: req.GetTopic(), Messages: msgs})
	if err != nil {
		return nil, err
	}
	return &pubsubpb.PublishResponse{MessageIds: resp.MessageIDs}, nil
}

// Acknowledge 实现 pubsubpb.SubscriberServer.
func (s *subscriberService) Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest) (*emptypb.Empty, error) {
	err := s.broker.Acknowledge(ctx, &pubsub.AcknowledgeRequest{
		Subscription: req.GetSubscription(),
		AckIDs:       req.GetAckIds(),
	})
	if err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// StreamingPull 实现 pubsubpb.SubscriberServer.
//
// 首个请求必须携带订阅；后续请求中的 ack_ids 会被确认.
func (s *subscriberService) StreamingPull(srv pubsubpb.Subscriber_StreamingPullServer) error {
	ctx := srv.Context()

	first, err := srv.Recv()
	if err != nil {
		return err
	}
	if first.GetSubscription() == "" {
		return status.Error(codes.InvalidArgument, "subscription is required")
	}

	ms, err := s.broker.StreamingPull(ctx, &pubsub.StreamingPullRequest{
		Subscription:           first.GetSubscription(),
		AckDeadlineSeconds:     int(first.GetStreamAckDeadlineSeconds()),
		ClientID:               first.GetClientId(),
		MaxOutstandingMessages: first.GetMaxOutstandingMessages(),
		MaxOutstandingBytes:    first.GetMaxOutstandingBytes(),
	})
	if err != nil {
		return err
	}
	defer ms.Close()

	go s.drainRequests(ctx, srv, first.GetSubscription())

	for {
		batch, err := ms.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		resp := &pubsubpb.StreamingPullResponse{
			ReceivedMessages: make([]*pubsubpb.ReceivedMessage, 0, len(batch)),
		}
		for _, rm := range batch {
			resp.ReceivedMessages = append(resp.ReceivedMessages, toProto(rm))
		}
		if err := srv.Send(resp); err != nil {
			return err
		}
	}
}

// drainRequests 读取客户端后续的请求，确认其中携带的 ack_ids.
func (s *subscriberService) drainRequests(ctx context.Context, srv pubsubpb.Subscriber_StreamingPullServer, subscription string) {
	for {
		req, err := srv.Recv()
		if err != nil {
			return
		}
		if len(req.GetAckIds()) > 0 {
			_ = s.broker.Acknowledge(ctx, &pubsub.AcknowledgeRequest{
				Subscription: subscription,
				AckIDs:       req.GetAckIds(),
			})
		}
	}
}

func toProto(rm *pubsub.ReceivedMessage) *pubsubpb.ReceivedMessage {
	m := rm.Message
	return &pubsubpb.ReceivedMessage{
		AckId: rm.AckID,
		Message: &pubsubpb.PubsubMessage{
			Data:        m.Data,
			Attributes:  m.Attributes,
			OrderingKey: m.OrderingKey,
			MessageId:   m.MessageID,
			PublishTime: timestamppb.New(m.PublishTime),
		},
		DeliveryAttempt: int32(rm.DeliveryAttempt),
	}
}
