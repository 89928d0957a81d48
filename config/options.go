package config

import "strings"

// DefaultEnvPrefix 默认环境变量前缀.
//
// PUBSUB_SUBSCRIBER_POLL_INTERVAL 会映射到 subscriber.poll_interval.
const DefaultEnvPrefix = "PUBSUB"

// Options 配置加载选项.
type Options struct {
	// EnvPrefix 环境变量前缀
	EnvPrefix string

	// EnvKeyReplacer 环境变量键替换器，默认将 . 替换为 _
	EnvKeyReplacer *strings.Replacer

	// AutomaticEnv 是否自动绑定环境变量
	AutomaticEnv bool

	// ConfigType 显式指定配置文件类型（yaml, json, toml）
	ConfigType string

	// Defaults 默认配置值
	Defaults map[string]any

	// EnvKeys 需要显式绑定的键，仅在没有配置文件时也能被环境变量覆盖
	EnvKeys []string
}

// DefaultOptions 返回默认选项.
func DefaultOptions() *Options {
	return &Options{
		EnvPrefix:      DefaultEnvPrefix,
		EnvKeyReplacer: strings.NewReplacer(".", "_"),
		AutomaticEnv:   true,
	}
}

// Option 配置选项函数.
type Option func(*Options)

// WithEnvPrefix 设置环境变量前缀.
func WithEnvPrefix(prefix string) Option {
	return func(o *Options) {
		o.EnvPrefix = prefix
	}
}

// WithoutEnv 禁用环境变量覆盖.
func WithoutEnv() Option {
	return func(o *Options) {
		o.AutomaticEnv = false
	}
}

// WithDefaults 设置默认值.
func WithDefaults(defaults map[string]any) Option {
	return func(o *Options) {
		o.Defaults = defaults
	}
}

// WithConfigType 显式指定配置文件类型.
func WithConfigType(configType string) Option {
	return func(o *Options) {
		o.ConfigType = configType
	}
}

// WithEnvKeys 绑定需要从环境变量读取的键.
func WithEnvKeys(keys ...string) Option {
	return func(o *Options) {
		o.EnvKeys = append(o.EnvKeys, keys...)
	}
}
