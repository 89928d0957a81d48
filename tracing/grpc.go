package tracing

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// metadataCarrier 实现 propagation.TextMapCarrier 接口.
type metadataCarrier metadata.MD

func (mc metadataCarrier) Get(key string) string {
	vals := metadata.MD(mc).Get(key)
	if len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func (mc metadataCarrier) Set(key, value string) {
	metadata.MD(mc).Set(key, value)
}

func (mc metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(mc))
	for k := range mc {
		keys = append(keys, k)
	}
	return keys
}

// UnaryClientInterceptor 返回 gRPC 一元客户端拦截器.
//
// 使用示例:
//
//	conn, err := grpc.NewClient(address,
//	    grpc.WithUnaryInterceptor(tracing.UnaryClientInterceptor("pubsub")),
//	)
func UnaryClientInterceptor(serviceName string) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		ctx, span := otel.Tracer(serviceName).Start(ctx, method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.RPCSystemGRPC,
				semconv.RPCService(serviceName),
				semconv.RPCMethod(method),
			),
		)
		defer span.End()

		err := invoker(InjectGRPCMetadata(ctx), method, req, reply, cc, opts...)
		recordStatus(span, err)
		return err
	}
}

// StreamClientInterceptor 返回 gRPC 流式客户端拦截器.
//
// span 在流结束（收到 EOF 或错误）时关闭.
func StreamClientInterceptor(serviceName string) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		ctx, span := otel.Tracer(serviceName).Start(ctx, method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.RPCSystemGRPC,
				semconv.RPCService(serviceName),
				semconv.RPCMethod(method),
				attribute.Bool("rpc.grpc.is_client_stream", desc.ClientStreams),
				attribute.Bool("rpc.grpc.is_server_stream", desc.ServerStreams),
			),
		)

		clientStream, err := streamer(InjectGRPCMetadata(ctx), desc, cc, method, opts...)
		if err != nil {
			recordStatus(span, err)
			span.End()
			return nil, err
		}

		return &clientStreamWrapper{ClientStream: clientStream, span: span}, nil
	}
}

// clientStreamWrapper 在流结束时关闭 span.
type clientStreamWrapper struct {
	grpc.ClientStream
	span trace.Span
}

func (w *clientStreamWrapper) RecvMsg(m any) error {
	err := w.ClientStream.RecvMsg(m)
	if err != nil {
		if errors.Is(err, io.EOF) {
			recordStatus(w.span, nil)
		} else {
			recordStatus(w.span, err)
		}
		w.span.End()
	}
	return err
}

func recordStatus(span trace.Span, err error) {
	if err == nil {
		span.SetAttributes(attribute.String("rpc.grpc.status_code", "OK"))
		return
	}
	s, _ := status.FromError(err)
	span.SetAttributes(attribute.String("rpc.grpc.status_code", s.Code().String()))
	span.SetStatus(codes.Error, s.Message())
	span.RecordError(err)
}

// InjectGRPCMetadata 将追踪信息注入到出站 gRPC metadata.
func InjectGRPCMetadata(ctx context.Context) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.MD{}
	} else {
		md = md.Copy()
	}
	otel.GetTextMapPropagator().Inject(ctx, metadataCarrier(md))
	return metadata.NewOutgoingContext(ctx, md)
}
