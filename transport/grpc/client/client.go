// Package client 提供 gRPC 客户端工具.
package client

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/Tsukikage7/pubsubflow/logger"
)

// Client gRPC 客户端封装.
//
// 一个 Client 持有一条连接，可被多个调用方并发复用.
type Client struct {
	conn *grpc.ClientConn
	opts *options
}

// New 创建 gRPC 客户端，必需设置 target、logger，否则会 panic.
//
// 连接是惰性建立的，首次调用时才真正拨号.
func New(opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if o.target == "" {
		panic("grpc client: 必须设置 target")
	}
	if o.logger == nil {
		panic("grpc client: 必须设置 logger")
	}

	creds, err := o.transportCredentials()
	if err != nil {
		return nil, err
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                o.keepaliveTime,
			Timeout:             o.keepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}
	if o.authority != "" {
		dialOpts = append(dialOpts, grpc.WithAuthority(o.authority))
	}
	if len(o.interceptors) > 0 {
		dialOpts = append(dialOpts, grpc.WithChainUnaryInterceptor(o.interceptors...))
	}
	if len(o.streamInterceptors) > 0 {
		dialOpts = append(dialOpts, grpc.WithChainStreamInterceptor(o.streamInterceptors...))
	}
	dialOpts = append(dialOpts, o.dialOptions...)

	conn, err := grpc.NewClient(o.target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	o.logger.With(
		logger.String("name", o.name),
		logger.String("target", o.target),
		logger.Bool("plaintext", o.plaintext),
	).Info("[gRPC] 客户端初始化成功")

	return &Client{
		conn: conn,
		opts: o,
	}, nil
}

func (o *options) transportCredentials() (credentials.TransportCredentials, error) {
	if o.plaintext {
		return insecure.NewCredentials(), nil
	}
	if o.rootCAFile != "" {
		creds, err := credentials.NewClientTLSFromFile(o.rootCAFile, "")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadCredentials, err)
		}
		return creds, nil
	}
	return credentials.NewClientTLSFromCert(nil, ""), nil
}

// Conn 返回底层 gRPC 连接.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// Target 返回拨号目标.
func (c *Client) Target() string {
	return c.opts.target
}

// Close 关闭连接.
func (c *Client) Close() error {
	if c.conn != nil {
		c.opts.logger.With(
			logger.String("name", c.opts.name),
			logger.String("target", c.opts.target),
		).Info("[gRPC] 关闭连接")
		return c.conn.Close()
	}
	return nil
}
