package pubsub

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Tsukikage7/pubsubflow/metrics"
	"github.com/Tsukikage7/pubsubflow/tracing"
)

// 确认期限范围，由 broker 限定.
const (
	MinAckDeadlineSeconds = 10
	MaxAckDeadlineSeconds = 600
)

// Settings 客户端配置.
//
// 配置示例 (YAML):
//
//	endpoint:
//	  host: localhost
//	  port: 8538
//	  use_plaintext: true
//	publisher:
//	  parallelism: 4
//	subscriber:
//	  poll_interval: 1s
//	  ack_deadline_seconds: 10
//	acknowledger:
//	  parallelism: 4
type Settings struct {
	Endpoint     EndpointSettings     `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Publisher    PublisherSettings    `json:"publisher" yaml:"publisher" mapstructure:"publisher"`
	Subscriber   SubscriberSettings   `json:"subscriber" yaml:"subscriber" mapstructure:"subscriber"`
	Acknowledger AcknowledgerSettings `json:"acknowledger" yaml:"acknowledger" mapstructure:"acknowledger"`
	Metrics      *metrics.Config      `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Tracing      *tracing.Config      `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
}

// EndpointSettings broker 地址与连接参数.
type EndpointSettings struct {
	Host string `json:"host" yaml:"host" mapstructure:"host"`
	Port int    `json:"port" yaml:"port" mapstructure:"port"`
	// UsePlaintext 使用明文连接，仅用于本地模拟器
	UsePlaintext bool `json:"use_plaintext" yaml:"use_plaintext" mapstructure:"use_plaintext"`
	// RootCAFile 自定义 CA 证书[可选]
	RootCAFile string `json:"root_ca_file" yaml:"root_ca_file" mapstructure:"root_ca_file"`
	// Authority 覆盖 :authority 头[可选]
	Authority        string        `json:"authority" yaml:"authority" mapstructure:"authority"`
	KeepaliveTime    time.Duration `json:"keepalive_time" yaml:"keepalive_time" mapstructure:"keepalive_time"`
	KeepaliveTimeout time.Duration `json:"keepalive_timeout" yaml:"keepalive_timeout" mapstructure:"keepalive_timeout"`
}

// Address 返回 host:port.
func (e EndpointSettings) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// PublisherSettings 发布流配置.
type PublisherSettings struct {
	Parallelism int `json:"parallelism" yaml:"parallelism" mapstructure:"parallelism"`
}

// SubscriberSettings 订阅源配置.
type SubscriberSettings struct {
	PollInterval           time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`
	AckDeadlineSeconds     int           `json:"ack_deadline_seconds" yaml:"ack_deadline_seconds" mapstructure:"ack_deadline_seconds"`
	BufferSize             int           `json:"buffer_size" yaml:"buffer_size" mapstructure:"buffer_size"`
	MaxOutstandingMessages int64         `json:"max_outstanding_messages" yaml:"max_outstanding_messages" mapstructure:"max_outstanding_messages"`
	MaxOutstandingBytes    int64         `json:"max_outstanding_bytes" yaml:"max_outstanding_bytes" mapstructure:"max_outstanding_bytes"`
	MaxStreamFailures      int           `json:"max_stream_failures" yaml:"max_stream_failures" mapstructure:"max_stream_failures"`
}

// AcknowledgerSettings 确认流配置.
type AcknowledgerSettings struct {
	Parallelism int `json:"parallelism" yaml:"parallelism" mapstructure:"parallelism"`
}

// DefaultSettings 返回默认配置，连接 Google Cloud Pub/Sub.
func DefaultSettings() *Settings {
	s := &Settings{}
	s.ApplyDefaults()
	return s
}

// ApplyDefaults 填充未设置的字段.
func (s *Settings) ApplyDefaults() {
	if s.Endpoint.Host == "" {
		s.Endpoint.Host = "pubsub.googleapis.com"
	}
	if s.Endpoint.Port == 0 {
		s.Endpoint.Port = 443
	}
	if s.Publisher.Parallelism == 0 {
		s.Publisher.Parallelism = DefaultParallelism
	}
	if s.Subscriber.PollInterval == 0 {
		s.Subscriber.PollInterval = DefaultPollInterval
	}
	if s.Subscriber.AckDeadlineSeconds == 0 {
		s.Subscriber.AckDeadlineSeconds = DefaultAckDeadlineSeconds
	}
	if s.Subscriber.BufferSize == 0 {
		s.Subscriber.BufferSize = 16
	}
	if s.Acknowledger.Parallelism == 0 {
		s.Acknowledger.Parallelism = DefaultParallelism
	}
	if s.Metrics == nil {
		s.Metrics = &metrics.Config{}
	}
	s.Metrics.ApplyDefaults()
	if s.Tracing == nil {
		s.Tracing = &tracing.Config{}
	}
	if s.Tracing.ServiceName == "" {
		s.Tracing.ServiceName = "pubsub"
	}
}

// Validate 校验配置.
func (s *Settings) Validate() error {
	var errs []error
	if s.Endpoint.Host == "" {
		errs = append(errs, errors.New("endpoint.host 不能为空"))
	}
	if s.Endpoint.Port <= 0 || s.Endpoint.Port > 65535 {
		errs = append(errs, fmt.Errorf("endpoint.port 非法: %d", s.Endpoint.Port))
	}
	if s.Publisher.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("publisher.parallelism 必须大于 0: %d", s.Publisher.Parallelism))
	}
	if s.Acknowledger.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("acknowledger.parallelism 必须大于 0: %d", s.Acknowledger.Parallelism))
	}
	if s.Subscriber.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("subscriber.poll_interval 不能为负: %s", s.Subscriber.PollInterval))
	}
	if d := s.Subscriber.AckDeadlineSeconds; d < MinAckDeadlineSeconds || d > MaxAckDeadlineSeconds {
		errs = append(errs, fmt.Errorf("subscriber.ack_deadline_seconds 必须在 [%d, %d] 之间: %d",
			MinAckDeadlineSeconds, MaxAckDeadlineSeconds, d))
	}
	if s.Subscriber.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("subscriber.buffer_size 不能为负: %d", s.Subscriber.BufferSize))
	}
	if s.Subscriber.MaxOutstandingMessages < 0 || s.Subscriber.MaxOutstandingBytes < 0 {
		errs = append(errs, errors.New("subscriber.max_outstanding_* 不能为负"))
	}
	if s.Subscriber.MaxStreamFailures < 0 {
		errs = append(errs, fmt.Errorf("subscriber.max_stream_failures 不能为负: %d", s.Subscriber.MaxStreamFailures))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}
