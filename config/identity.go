// Package config 提供统一的配置管理
package config

import (
	"encoding/hex"
	"fmt"
)

// IdentityConfig 身份配置
//
// 身份是一对长期 Ed25519 密钥，节点 ID 为公钥指纹。
// 三种来源（优先级从高到低）：
//  1. 程序注入（mesh.WithIdentity）
//  2. KeyFile 指定的密钥文件
//  3. 持久化存储中的 identity/self（不存在则生成并写回）
type IdentityConfig struct {
	// KeyFile 身份密钥文件路径（64 字节 Ed25519 私钥，hex 编码）
	// 默认值: ""（使用存储中的身份）
	KeyFile string `json:"key_file,omitempty"`

	// Seed 测试用的确定性种子（32 字节 hex）
	// 仅用于测试与演示，生产环境必须留空
	// 默认值: ""
	Seed string `json:"seed,omitempty"`
}

// DefaultIdentityConfig 返回默认的身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// Validate 验证身份配置的有效性
func (c *IdentityConfig) Validate() error {
	if c.Seed != "" {
		b, err := hex.DecodeString(c.Seed)
		if err != nil {
			return fmt.Errorf("identity: seed must be hex: %w", err)
		}
		if len(b) != 32 {
			return fmt.Errorf("identity: seed must be 32 bytes, got %d", len(b))
		}
	}
	return nil
}

// SeedBytes 返回解码后的种子，未配置时返回 nil
func (c *IdentityConfig) SeedBytes() []byte {
	if c.Seed == "" {
		return nil
	}
	b, err := hex.DecodeString(c.Seed)
	if err != nil || len(b) != 32 {
		return nil
	}
	return b
}
