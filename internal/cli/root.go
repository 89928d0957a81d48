// Package cli 实现 pubsubctl 命令行.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tsukikage7/pubsubflow/config"
	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/pubsub"
)

// ClientFactory 根据配置创建客户端.
type ClientFactory func(cfg *Config, log logger.Logger) (*pubsub.Client, error)

// Option 命令配置选项.
type Option func(*app)

// WithClientFactory 替换客户端创建方式，测试中用于注入内存 Broker.
func WithClientFactory(f ClientFactory) Option {
	return func(a *app) {
		a.factory = f
	}
}

// WithLogger 使用指定的日志实例，忽略配置中的日志设置.
func WithLogger(log logger.Logger) Option {
	return func(a *app) {
		a.log = log
	}
}

type app struct {
	configPath  string
	logLevel    string
	metricsAddr string

	factory ClientFactory
	log     logger.Logger
}

func defaultClientFactory(cfg *Config, log logger.Logger) (*pubsub.Client, error) {
	return pubsub.NewClientFromSettings(&cfg.Settings, log)
}

// NewRootCommand 创建 pubsubctl 根命令.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{factory: defaultClientFactory}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:           "pubsubctl",
		Short:         "Pub/Sub 流式客户端命令行",
		Long:          "pubsubctl 通过 gRPC 连接 Pub/Sub（或本地模拟器），发布、订阅并确认消息.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "配置文件路径 (yaml/json/toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "日志级别: debug|info|warn|error")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "指标 HTTP 监听地址，例如 :9090")

	root.AddCommand(
		newPublishCommand(a),
		newSubscribeCommand(a),
		newAckCommand(a),
	)
	return root
}

// loadConfig 加载配置文件与环境变量，并应用命令行覆盖.
func (a *app) loadConfig() (*Config, error) {
	cfg, err := config.Load[Config](a.configPath, config.WithEnvKeys(envKeys...))
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		if err := cfg.Log.Validate(); err != nil {
			return nil, err
		}
	}
	if a.metricsAddr != "" {
		cfg.MetricsAddr = a.metricsAddr
	}
	return cfg, nil
}

// withClient 准备日志、客户端与指标服务后执行 fn，返回前释放资源.
func (a *app) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *pubsub.Client, log logger.Logger) error) (err error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	log := a.log
	if log == nil {
		if log, err = logger.NewLogger(cfg.Log); err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
	}

	client, err := a.factory(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := client.Shutdown(ctx); cerr != nil {
			log.With(logger.Err(cerr)).Warn("[PubSub] 关闭客户端失败")
		}
	}()

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, client, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, client, log)
}

// serveMetrics 在 addr 上暴露客户端的指标.
func serveMetrics(addr string, client *pubsub.Client, log logger.Logger) (func(), error) {
	collector := client.Collector()
	if collector == nil {
		return func() {}, nil
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("监听指标地址失败: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(collector.GetPath(), collector.GetHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.With(logger.Err(err)).Error("[PubSub] 指标服务异常退出")
		}
	}()
	log.With(logger.String("addr", lis.Addr().String()), logger.String("path", collector.GetPath())).
		Info("[PubSub] 指标服务已启动")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
