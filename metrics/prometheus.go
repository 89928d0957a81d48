package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector Prometheus 指标收集器实现.
type PrometheusCollector struct {
	config *Config

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	mu         sync.RWMutex

	registry *prometheus.Registry
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus 创建 Prometheus 指标收集器.
//
// 使用独立的注册表，避免与默认注册表冲突；同时注册 Go 运行时指标.
func NewPrometheus(cfg *Config) (*PrometheusCollector, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	cfg.ApplyDefaults()

	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegisterMetric, err)
	}

	return &PrometheusCollector{
		config:     cfg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		registry:   registry,
	}, nil
}

// Counter 计数器加一.
//
// 使用示例:
//
//	collector.Counter("stream_opens_total", map[string]string{"subscription": sub})
func (c *PrometheusCollector) Counter(name string, labels map[string]string) {
	c.Add(name, 1, labels)
}

// Add 计数器增加 value.
func (c *PrometheusCollector) Add(name string, value float64, labels map[string]string) {
	labelNames, labelValues := extractLabels(labels)

	c.mu.RLock()
	counter, exists := c.counters[name]
	c.mu.RUnlock()

	if !exists {
		c.mu.Lock()
		// 双重检查
		if counter, exists = c.counters[name]; !exists {
			counter = prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace:   c.config.Namespace,
					ConstLabels: c.config.ConstLabels,
					Name:        name,
					Help:        "Counter: " + name,
				},
				labelNames,
			)
			if err := c.registry.Register(counter); err == nil {
				c.counters[name] = counter
			} else {
				counter = nil
			}
		}
		c.mu.Unlock()
	}

	if counter != nil {
		counter.WithLabelValues(labelValues...).Add(value)
	}
}

// Histogram 观察直方图.
func (c *PrometheusCollector) Histogram(name string, value float64, labels map[string]string) {
	labelNames, labelValues := extractLabels(labels)

	c.mu.RLock()
	histogram, exists := c.histograms[name]
	c.mu.RUnlock()

	if !exists {
		c.mu.Lock()
		if histogram, exists = c.histograms[name]; !exists {
			histogram = prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace:   c.config.Namespace,
					ConstLabels: c.config.ConstLabels,
					Name:        name,
					Help:        "Histogram: " + name,
					Buckets:     c.config.Buckets,
				},
				labelNames,
			)
			if err := c.registry.Register(histogram); err == nil {
				c.histograms[name] = histogram
			} else {
				histogram = nil
			}
		}
		c.mu.Unlock()
	}

	if histogram != nil {
		histogram.WithLabelValues(labelValues...).Observe(value)
	}
}

// Gauge 设置仪表盘.
func (c *PrometheusCollector) Gauge(name string, value float64, labels map[string]string) {
	labelNames, labelValues := extractLabels(labels)

	c.mu.RLock()
	gauge, exists := c.gauges[name]
	c.mu.RUnlock()

	if !exists {
		c.mu.Lock()
		if gauge, exists = c.gauges[name]; !exists {
			gauge = prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace:   c.config.Namespace,
					ConstLabels: c.config.ConstLabels,
					Name:        name,
					Help:        "Gauge: " + name,
				},
				labelNames,
			)
			if err := c.registry.Register(gauge); err == nil {
				c.gauges[name] = gauge
			} else {
				gauge = nil
			}
		}
		c.mu.Unlock()
	}

	if gauge != nil {
		gauge.WithLabelValues(labelValues...).Set(value)
	}
}

// extractLabels 从 map 中提取 label 名称和值，按 key 排序保证顺序稳定.
func extractLabels(labels map[string]string) ([]string, []string) {
	labelNames := make([]string, 0, len(labels))
	for k := range labels {
		labelNames = append(labelNames, k)
	}
	sort.Strings(labelNames)

	labelValues := make([]string, 0, len(labels))
	for _, k := range labelNames {
		labelValues = append(labelValues, labels[k])
	}
	return labelNames, labelValues
}

// Registry 返回底层注册表.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// GetHandler 返回 metrics 的 HTTP 处理器.
func (c *PrometheusCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GetPath 返回 metrics 路径.
func (c *PrometheusCollector) GetPath() string {
	return c.config.Path
}
