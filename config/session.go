// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// SessionConfig 会话加密配置
//
// 每个远端一条棘轮会话：Noise XX 握手派生根密钥，
// 收发链每条消息单向推进，乱序消息依赖跳过键窗口。
type SessionConfig struct {
	// MaxSkip 跳过消息键窗口上限
	// 乱序容忍的最大深度；超窗或已消费的计数器拒绝为重放
	// 默认值: 512
	MaxSkip int `json:"max_skip"`

	// HandshakeTimeout 握手超时
	// 超时后放弃本次握手，后续发送重新触发
	// 默认值: 15s
	HandshakeTimeout Duration `json:"handshake_timeout"`

	// HandshakeCooldown 对同一节点两次握手发起的最小间隔
	// 抑制无会话密文触发的重复握手风暴
	// 默认值: 5s
	HandshakeCooldown Duration `json:"handshake_cooldown"`

	// Persist 停机时是否持久化已建立会话的链状态
	// 默认值: true
	Persist bool `json:"persist"`
}

// DefaultSessionConfig 返回默认的会话配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxSkip:           512,
		HandshakeTimeout:  Duration(15 * time.Second),
		HandshakeCooldown: Duration(5 * time.Second),
		Persist:           true,
	}
}

// Validate 验证会话配置的有效性
func (c *SessionConfig) Validate() error {
	if c.MaxSkip < 0 {
		return fmt.Errorf("session: max_skip must be >= 0")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("session: handshake_timeout must be positive")
	}
	if c.HandshakeCooldown < 0 {
		return fmt.Errorf("session: handshake_cooldown must be >= 0")
	}
	return nil
}
