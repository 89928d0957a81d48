package client

import (
	"time"

	"github.com/Tsukikage7/pubsubflow/logger"
	"google.golang.org/grpc"
)

// 默认 keepalive 参数.
const (
	DefaultKeepaliveTime    = 60 * time.Second
	DefaultKeepaliveTimeout = 20 * time.Second
)

// Option 配置选项函数.
type Option func(*options)

// options 客户端配置.
type options struct {
	name               string
	target             string
	plaintext          bool
	rootCAFile         string
	authority          string
	keepaliveTime      time.Duration
	keepaliveTimeout   time.Duration
	logger             logger.Logger
	interceptors       []grpc.UnaryClientInterceptor
	streamInterceptors []grpc.StreamClientInterceptor
	dialOptions        []grpc.DialOption
}

// defaultOptions 返回默认配置.
func defaultOptions() *options {
	return &options{
		name:             "gRPC-Client",
		keepaliveTime:    DefaultKeepaliveTime,
		keepaliveTimeout: DefaultKeepaliveTimeout,
	}
}

// WithName 设置客户端名称（用于日志）.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithTarget 设置拨号目标，如 host:port（必需）.
func WithTarget(target string) Option {
	return func(o *options) {
		o.target = target
	}
}

// WithPlaintext 使用明文连接，适用于本地模拟器.
func WithPlaintext() Option {
	return func(o *options) {
		o.plaintext = true
	}
}

// WithRootCAFile 使用指定的 CA 证书校验服务端，未设置时使用系统证书.
func WithRootCAFile(path string) Option {
	return func(o *options) {
		o.rootCAFile = path
	}
}

// WithAuthority 覆盖 :authority 头.
func WithAuthority(authority string) Option {
	return func(o *options) {
		o.authority = authority
	}
}

// WithKeepalive 设置 keepalive 探测间隔与超时，零值保持默认.
func WithKeepalive(interval, timeout time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.keepaliveTime = interval
		}
		if timeout > 0 {
			o.keepaliveTimeout = timeout
		}
	}
}

// WithLogger 设置日志实例（必需）.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithInterceptors 添加一元拦截器.
func WithInterceptors(interceptors ...grpc.UnaryClientInterceptor) Option {
	return func(o *options) {
		o.interceptors = append(o.interceptors, interceptors...)
	}
}

// WithStreamInterceptors 添加流式拦截器.
func WithStreamInterceptors(interceptors ...grpc.StreamClientInterceptor) Option {
	return func(o *options) {
		o.streamInterceptors = append(o.streamInterceptors, interceptors...)
	}
}

// WithDialOptions 添加额外的 dial 选项.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) {
		o.dialOptions = append(o.dialOptions, opts...)
	}
}
