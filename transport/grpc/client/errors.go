package client

import "errors"

// 错误定义.
var (
	// ErrConnectionFailed 创建连接失败.
	ErrConnectionFailed = errors.New("grpc client: 创建连接失败")

	// ErrLoadCredentials 加载 TLS 证书失败.
	ErrLoadCredentials = errors.New("grpc client: 加载证书失败")
)
