package metrics

// DefaultBuckets RPC 耗时直方图的默认分桶（秒），覆盖本地模拟器到跨区域发布.
var DefaultBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Config 指标监控配置.
type Config struct {
	// Path 指标暴露路径，默认 /metrics
	Path string `json:"path" yaml:"path" mapstructure:"path"`
	// Namespace 指标命名空间，默认 pubsub
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	// Buckets 直方图分桶，默认 DefaultBuckets
	Buckets []float64 `json:"buckets" yaml:"buckets" mapstructure:"buckets"`
	// ConstLabels 附加到所有指标的固定标签，例如 {"client": "billing-worker"}
	ConstLabels map[string]string `json:"const_labels" yaml:"const_labels" mapstructure:"const_labels"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults 填充未设置的字段.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "/metrics"
	}
	if c.Namespace == "" {
		c.Namespace = "pubsub"
	}
	if len(c.Buckets) == 0 {
		c.Buckets = DefaultBuckets
	}
}
