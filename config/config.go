// Package config 提供配置加载功能.
//
// 基于 viper，支持 yaml/json/toml 文件与环境变量覆盖.
// 目标类型实现 Defaulter 时先填充默认值，实现 Validatable 时再做校验.
package config

import (
	"path/filepath"
	"strings"
)

// Validatable 可验证的配置接口.
type Validatable interface {
	Validate() error
}

// Defaulter 可填充默认值的配置接口.
type Defaulter interface {
	ApplyDefaults()
}

// GetConfigType 根据文件扩展名获取配置类型.
func GetConfigType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return ""
	}
}
