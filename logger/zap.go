package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger zap 日志实现.
type zapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// newZapLogger 创建 zap logger.
func newZapLogger(config *Config) (Logger, error) {
	sink := zapcore.Lock(os.Stdout)
	if strings.EqualFold(config.Output, OutputStderr) {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(buildEncoder(config), sink, parseLevel(config.Level))

	var options []zap.Option
	if config.EnableCaller {
		options = append(options, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if config.EnableStacktrace {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	zapLog := zap.New(core, options...).With(zap.String("service", config.ServiceName))
	return NewZap(zapLog), nil
}

// NewZap 使用已有的 *zap.Logger 构建 Logger.
//
// 测试中可配合 zaptest.NewLogger 使用.
func NewZap(l *zap.Logger) Logger {
	return &zapLogger{logger: l, sugar: l.Sugar()}
}

func (z *zapLogger) Debug(args ...any)                 { z.sugar.Debug(args...) }
func (z *zapLogger) Debugf(format string, args ...any) { z.sugar.Debugf(format, args...) }
func (z *zapLogger) Info(args ...any)                  { z.sugar.Info(args...) }
func (z *zapLogger) Infof(format string, args ...any)  { z.sugar.Infof(format, args...) }
func (z *zapLogger) Warn(args ...any)                  { z.sugar.Warn(args...) }
func (z *zapLogger) Warnf(format string, args ...any)  { z.sugar.Warnf(format, args...) }
func (z *zapLogger) Error(args ...any)                 { z.sugar.Error(args...) }
func (z *zapLogger) Errorf(format string, args ...any) { z.sugar.Errorf(format, args...) }

// With 返回带有附加字段的 logger.
func (z *zapLogger) With(fields ...Field) Logger {
	zapFields := make([]zap.Field, len(fields))
	for i, f := range fields {
		zapFields[i] = toZapField(f)
	}
	return NewZap(z.logger.With(zapFields...))
}

// toZapField 将 Field 转换为 zap.Field.
func toZapField(f Field) zap.Field {
	switch v := f.Value.(type) {
	case string:
		return zap.String(f.Key, v)
	case int:
		return zap.Int(f.Key, v)
	case int64:
		return zap.Int64(f.Key, v)
	case int32:
		return zap.Int32(f.Key, v)
	case uint64:
		return zap.Uint64(f.Key, v)
	case float64:
		return zap.Float64(f.Key, v)
	case bool:
		return zap.Bool(f.Key, v)
	case time.Time:
		return zap.Time(f.Key, v)
	case time.Duration:
		return zap.Duration(f.Key, v)
	case []string:
		return zap.Strings(f.Key, v)
	case error:
		return zap.NamedError(f.Key, v)
	default:
		return zap.Reflect(f.Key, v)
	}
}

// WithContext 返回带有 context 中 span 信息的 logger.
//
// context 中没有有效的 span 时返回当前 logger.
func (z *zapLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return z
	}

	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return z
	}
	return z.With(
		Field{Key: "traceId", Value: sc.TraceID().String()},
		Field{Key: "spanId", Value: sc.SpanID().String()},
	)
}

// Sync 同步日志缓冲区.
func (z *zapLogger) Sync() error {
	return z.logger.Sync()
}

// Close 关闭 logger.
//
// stdout/stderr 的 sync 错误被忽略: https://github.com/uber-go/zap/issues/328
func (z *zapLogger) Close() error {
	_ = z.logger.Sync()
	return nil
}

// String 创建字符串字段.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Strings 创建字符串切片字段.
func Strings(key string, value []string) Field {
	return Field{Key: key, Value: value}
}

// Int 创建整数字段.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 创建 int64 字段.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool 创建布尔字段.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration 创建持续时间字段.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err 创建错误字段.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any 创建任意类型字段.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}
