package pubsub

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// 预定义错误.
//
// 所有错误均可通过 errors.Is 进行判断:
//
//	if errors.Is(err, pubsub.ErrTransport) {
//	    // 连接层故障，可以重试
//	}
var (
	// ErrTransport 传输层错误：连接失败、超时、broker 暂时不可用.
	ErrTransport = errors.New("pubsub: 传输错误")

	// ErrProtocol broker 响应不符合约定，如消息 ID 数量与请求不一致.
	ErrProtocol = errors.New("pubsub: 协议错误")

	// ErrRejected broker 拒绝请求：资源不存在、无权限、参数非法.
	ErrRejected = errors.New("pubsub: 请求被拒绝")

	// ErrEmptyTopic 发布主题为空.
	ErrEmptyTopic = errors.New("pubsub: 主题为空")

	// ErrNoMessages 发布请求不包含消息.
	ErrNoMessages = errors.New("pubsub: 发布请求不包含消息")

	// ErrNilMessage 发布请求包含空消息.
	ErrNilMessage = errors.New("pubsub: 消息为空")

	// ErrEmptySubscription 订阅为空.
	ErrEmptySubscription = errors.New("pubsub: 订阅为空")

	// ErrInvalidAckDeadline 确认期限必须大于 0.
	ErrInvalidAckDeadline = errors.New("pubsub: 确认期限必须大于 0")

	// ErrInvalidParallelism 并行度必须大于 0.
	ErrInvalidParallelism = errors.New("pubsub: 并行度必须大于 0")

	// ErrNilBroker 未设置 broker.
	ErrNilBroker = errors.New("pubsub: broker 为空")

	// ErrClientClosed 客户端已关闭.
	ErrClientClosed = errors.New("pubsub: 客户端已关闭")

	// ErrHealthCheck 健康检查失败.
	ErrHealthCheck = errors.New("pubsub: 健康检查失败")

	// ErrInvalidSettings 配置非法.
	ErrInvalidSettings = errors.New("pubsub: 配置非法")
)

// Kind 错误分类.
type Kind int

const (
	// KindTransport 传输错误.
	KindTransport Kind = iota + 1
	// KindProtocol 协议错误.
	KindProtocol
	// KindRejected 请求被拒绝.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindProtocol:
		return ErrProtocol
	case KindRejected:
		return ErrRejected
	default:
		return nil
	}
}

// Error 带分类的 broker 调用错误.
type Error struct {
	Kind Kind
	// Op 出错的操作：publish、streaming_pull、acknowledge
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pubsub: %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap 返回底层错误.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrTransport) 等判断生效.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// IsRetryable 判断错误是否值得重试，仅传输错误可重试.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

// TransportError 构造传输错误.
func TransportError(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// ProtocolError 构造协议错误.
func ProtocolError(op string, err error) error {
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}

// RejectedError 构造拒绝错误.
func RejectedError(op string, err error) error {
	return &Error{Kind: KindRejected, Op: op, Err: err}
}

// classify 将 broker 返回的错误归类.
//
// ctx 已取消时原样返回 ctx.Err()；已归类的错误原样返回；
// gRPC 状态码按拒绝/传输区分，其余错误视为传输错误.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	s, ok := status.FromError(err)
	if !ok {
		return TransportError(op, err)
	}
	switch s.Code() {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied,
		codes.FailedPrecondition, codes.Unauthenticated, codes.AlreadyExists,
		codes.OutOfRange, codes.Unimplemented:
		return RejectedError(op, err)
	default:
		return TransportError(op, err)
	}
}
