// Package tracing 提供分布式链路追踪功能.
package tracing

// Config 链路追踪配置.
type Config struct {
	// Enabled 是否启用链路追踪
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// ServiceName 上报的服务名
	ServiceName string `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
	// ServiceVersion 上报的服务版本[可选]
	ServiceVersion string `json:"service_version" yaml:"service_version" mapstructure:"service_version"`
	// SamplingRate 采样率 (0.0-1.0)
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" mapstructure:"sampling_rate"`
	// OTLP OTLP配置
	OTLP *OTLPConfig `json:"otlp" yaml:"otlp" mapstructure:"otlp"`
}

// OTLPConfig OTLP配置.
type OTLPConfig struct {
	// Endpoint OTLP Collector端点
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	// Headers 请求头[可选]
	Headers map[string]string `json:"headers" yaml:"headers" mapstructure:"headers"`
}
