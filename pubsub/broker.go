package pubsub

import "context"

// Broker 与 broker 通信的能力，对应一条共享的 RPC 连接.
//
// 实现必须可被并发调用.
type Broker interface {
	// Publish 发布一批消息，响应中的 ID 与请求消息按位置对应.
	Publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error)
	// StreamingPull 打开一条流式拉取，ctx 取消时流随之中止.
	StreamingPull(ctx context.Context, req *StreamingPullRequest) (PullStream, error)
	// Acknowledge 确认消息.
	Acknowledge(ctx context.Context, req *AcknowledgeRequest) error
}

// PullStream 一条打开的流式拉取.
type PullStream interface {
	// Recv 阻塞直到收到下一批消息；broker 正常结束流时返回 io.EOF.
	Recv() ([]*ReceivedMessage, error)
	// Close 关闭流，可重复调用.
	Close() error
}
