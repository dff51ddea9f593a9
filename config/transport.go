// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"strings"
	"time"
)

// TransportConfig 传输层配置
//
// 引擎对传输是不可知的，只依赖消息帧契约。
// 内置参考实现：TCP（uvarint 长度前缀帧）与 WebSocket（原生帧）。
type TransportConfig struct {
	// ListenAddrs 监听端点列表
	// 格式 "<scheme>://<host:port>"，如 "tcp://0.0.0.0:9430"、"ws://0.0.0.0:9431"
	// 默认值: ["tcp://127.0.0.1:0"]
	ListenAddrs []string `json:"listen_addrs"`

	// EnableTCP 是否启用 TCP 传输
	// 默认值: true
	EnableTCP bool `json:"enable_tcp"`

	// EnableWS 是否启用 WebSocket 传输
	// 默认值: false
	EnableWS bool `json:"enable_ws"`

	// DialTimeout 拨号超时
	// 默认值: 10s
	DialTimeout Duration `json:"dial_timeout"`

	// MaxConns 最大并发连接数（0 = 不限制）
	// 默认值: 256
	MaxConns int `json:"max_conns"`
}

// DefaultTransportConfig 返回默认的传输层配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ListenAddrs: []string{"tcp://127.0.0.1:0"},
		EnableTCP:   true,
		EnableWS:    false,
		DialTimeout: Duration(10 * time.Second),
		MaxConns:    256,
	}
}

// Validate 验证传输层配置的有效性
func (c *TransportConfig) Validate() error {
	if c.DialTimeout <= 0 {
		return fmt.Errorf("transport: dial_timeout must be positive")
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("transport: max_conns must be >= 0")
	}
	for _, addr := range c.ListenAddrs {
		if !strings.Contains(addr, "://") {
			return fmt.Errorf("transport: listen addr %q missing scheme", addr)
		}
	}
	return nil
}
