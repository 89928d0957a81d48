// Package metrics 提供 Prometheus 指标收集功能.
//
// 指标按名称懒注册，同名指标的 label 集合必须一致.
package metrics

import (
	"net/http"
	"time"
)

// Collector 指标收集器接口.
type Collector interface {
	Counter(name string, labels map[string]string)
	Add(name string, value float64, labels map[string]string)
	Histogram(name string, value float64, labels map[string]string)
	Gauge(name string, value float64, labels map[string]string)

	GetHandler() http.Handler
	GetPath() string
}

// NewMetrics 创建指标收集器.
func NewMetrics(cfg *Config) (*PrometheusCollector, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	return NewPrometheus(cfg)
}

// MustNewMetrics 创建指标收集器，失败时 panic.
func MustNewMetrics(cfg *Config) *PrometheusCollector {
	c, err := NewMetrics(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Since 返回从 start 到现在经过的秒数，便于 Histogram 记录耗时.
func Since(start time.Time) float64 {
	return time.Since(start).Seconds()
}
