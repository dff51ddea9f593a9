// Package config 提供统一的配置管理
package config

import (
	"fmt"
)

// EnvelopeConfig 信封编解码配置
type EnvelopeConfig struct {
	// MaxPayload 单个信封载荷上限（字节）
	// 编码侧超限直接报错，解码侧超限视为畸形输入
	// 默认值: 65536
	MaxPayload int `json:"max_payload"`

	// DefaultHopLimit 新信封的初始跳数预算
	// 默认值: 8
	DefaultHopLimit int `json:"default_hop_limit"`

	// CompressThreshold 载荷压缩阈值（字节）
	// 明文超过该值时在封装前做 zstd 压缩并置压缩标志；0 = 禁用压缩
	// 默认值: 1024
	CompressThreshold int `json:"compress_threshold"`
}

// DefaultEnvelopeConfig 返回默认的信封配置
func DefaultEnvelopeConfig() EnvelopeConfig {
	return EnvelopeConfig{
		MaxPayload:        65536,
		DefaultHopLimit:   8,
		CompressThreshold: 1024,
	}
}

// Validate 验证信封配置的有效性
func (c *EnvelopeConfig) Validate() error {
	if c.MaxPayload < 1 || c.MaxPayload > 1<<24 {
		return fmt.Errorf("envelope: max_payload must be in [1, 16MiB]")
	}
	if c.DefaultHopLimit < 1 || c.DefaultHopLimit > 255 {
		return fmt.Errorf("envelope: default_hop_limit must be in [1, 255]")
	}
	if c.CompressThreshold < 0 {
		return fmt.Errorf("envelope: compress_threshold must be >= 0")
	}
	return nil
}
