// Package config 提供统一的配置管理
package config

import "fmt"

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别: debug / info / warn / error
	// 默认值: "info"
	Level string `json:"level"`

	// JSON 是否使用 JSON 格式输出
	// 默认值: false
	JSON bool `json:"json"`

	// File 日志文件路径（空 = stderr）
	// 默认值: ""
	File string `json:"file,omitempty"`
}

// DefaultLogConfig 返回默认的日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level: "info",
	}
}

// Validate 验证日志配置的有效性
func (c *LogConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log: unknown level %q", c.Level)
	}
	return nil
}
