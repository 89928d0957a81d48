package logger

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// buildEncoder 根据配置构建编码器.
func buildEncoder(config *Config) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = config.TimeKey
	cfg.MessageKey = config.MessageKey
	cfg.EncodeTime = timeEncoder(config.TimeFormat)
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if config.ColorLevel {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if strings.EqualFold(config.Format, FormatConsole) {
		cfg.ConsoleSeparator = "\t"
		cfg.EncodeDuration = zapcore.StringDurationEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

// timeEncoder 获取时间编码器.
func timeEncoder(format string) zapcore.TimeEncoder {
	switch strings.ToLower(format) {
	case TimeFormatISO8601:
		return zapcore.ISO8601TimeEncoder
	case TimeFormatRFC3339:
		return zapcore.RFC3339TimeEncoder
	case TimeFormatRFC3339Nano:
		return zapcore.RFC3339NanoTimeEncoder
	case TimeFormatEpochMillis:
		return zapcore.EpochMillisTimeEncoder
	case TimeFormatDateTime:
		return func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
		}
	default:
		return zapcore.TimeEncoderOfLayout(format)
	}
}

// parseLevel 解析日志级别.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn, "warning":
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
