package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Load 从文件加载配置.
//
// 文件类型根据扩展名识别，也可以通过 WithConfigType 指定.
// configPath 为空时只读取默认值和环境变量.
func Load[T any](configPath string, opts ...Option) (*T, error) {
	options := buildOptions(opts)
	v := viper.New()
	applyOptions(v, options)

	if configPath == "" {
		return unmarshalAndValidate[T](v)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, configPath)
	}

	configType := options.ConfigType
	if configType == "" {
		configType = GetConfigType(configPath)
	}
	if configType == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, configPath)
	}

	v.SetConfigFile(configPath)
	v.SetConfigType(configType)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadConfig, err)
	}

	return unmarshalAndValidate[T](v)
}

// MustLoad 加载配置，失败时 panic.
func MustLoad[T any](configPath string, opts ...Option) *T {
	config, err := Load[T](configPath, opts...)
	if err != nil {
		panic(err)
	}
	return config
}

// LoadFromBytes 从字节数组加载配置.
func LoadFromBytes[T any](data []byte, configType string, opts ...Option) (*T, error) {
	options := buildOptions(opts)
	v := viper.New()
	v.SetConfigType(configType)
	applyOptions(v, options)

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadConfig, err)
	}

	return unmarshalAndValidate[T](v)
}

func buildOptions(opts []Option) *Options {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applyOptions 应用通用选项到 viper 实例.
func applyOptions(v *viper.Viper, options *Options) {
	for key, value := range options.Defaults {
		v.SetDefault(key, value)
	}

	if !options.AutomaticEnv {
		return
	}

	if options.EnvPrefix != "" {
		v.SetEnvPrefix(options.EnvPrefix)
	}
	if options.EnvKeyReplacer != nil {
		v.SetEnvKeyReplacer(options.EnvKeyReplacer)
	}
	v.AutomaticEnv()

	// AutomaticEnv 只对 viper 已知的键生效，未出现在文件和默认值中的键需要显式绑定
	for _, key := range options.EnvKeys {
		_ = v.BindEnv(key)
	}
}

// unmarshalAndValidate 解析配置，填充默认值并验证.
func unmarshalAndValidate[T any](v *viper.Viper) (*T, error) {
	config := new(T)
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnmarshal, err)
	}

	if defaulter, ok := any(config).(Defaulter); ok {
		defaulter.ApplyDefaults()
	}

	if validator, ok := any(config).(Validatable); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	return config, nil
}
