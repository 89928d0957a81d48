package cli

import (
	"errors"

	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/pubsub"
)

// Config pubsubctl 配置.
//
// 客户端配置位于顶层，与 pubsub.Settings 的文件格式一致:
//
//	endpoint:
//	  host: localhost
//	  port: 8538
//	  use_plaintext: true
//	log:
//	  level: debug
//	metrics_addr: ":9090"
type Config struct {
	pubsub.Settings `mapstructure:",squash"`

	Log *logger.Config `json:"log" yaml:"log" mapstructure:"log"`
	// MetricsAddr 指标 HTTP 监听地址，为空时不启动
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr" mapstructure:"metrics_addr"`
}

// envKeys 没有配置文件时也允许环境变量覆盖的键.
var envKeys = []string{
	"endpoint.host",
	"endpoint.port",
	"endpoint.use_plaintext",
	"endpoint.root_ca_file",
	"subscriber.ack_deadline_seconds",
	"tracing.enabled",
	"tracing.otlp.endpoint",
	"log.level",
	"metrics_addr",
}

// ApplyDefaults 填充默认值，日志默认输出到 stderr 以免混入命令输出.
func (c *Config) ApplyDefaults() {
	c.Settings.ApplyDefaults()
	if c.Log == nil {
		c.Log = &logger.Config{}
	}
	if c.Log.Format == "" {
		c.Log.Format = logger.FormatConsole
	}
	if c.Log.Output == "" {
		c.Log.Output = logger.OutputStderr
	}
	c.Log.ApplyDefaults()
}

// Validate 校验配置.
func (c *Config) Validate() error {
	return errors.Join(c.Settings.Validate(), c.Log.Validate())
}
