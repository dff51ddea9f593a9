// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 JSON 加载和保存配置
//   - 支持预设配置（mobile/desktop/server/minimal）
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Gossip.Interval = config.Duration(2 * time.Second)
//	cfg.Storage.Backend = "badger"
//
//	// 使用预设配置
//	cfg := config.NewServerConfig()
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config 是 go-mesh 的完整配置结构
//
// 该结构体嵌入了所有组件的子配置，提供统一的配置接口。
// 配置按照功能模块组织：
//   - Identity: 身份和密钥管理
//   - Transport: 传输层（TCP/WebSocket 监听与拨号）
//   - Envelope: 信封编解码（载荷上限、跳数预算、压缩）
//   - Session: 会话加密（握手、跳过键窗口）
//   - Relay: 洪泛中继（去重缓存、扇出、工作协程）
//   - Routing: 路由表（路由存活时长、清理周期）
//   - Outbox: 存储转发队列（容量、退避、重试）
//   - Gossip: 反熵同步（摘要周期、扇出、窗口）
//   - DHT: Kademlia 发现（桶参数、配额、限速）
//   - Health: 心跳健康监控（自适应间隔、失联窗口）
//   - Storage: 持久化后端（memory/badger/redis）
//   - Bandwidth: 带宽统计
//   - Log: 日志级别与输出
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// Envelope 信封编解码配置
	Envelope EnvelopeConfig `json:"envelope"`

	// Session 会话加密配置
	Session SessionConfig `json:"session"`

	// Relay 洪泛中继配置
	Relay RelayConfig `json:"relay"`

	// Routing 路由表配置
	Routing RoutingConfig `json:"routing"`

	// Outbox 存储转发队列配置
	Outbox OutboxConfig `json:"outbox"`

	// Gossip 反熵同步配置
	Gossip GossipConfig `json:"gossip"`

	// DHT Kademlia 发现配置
	DHT DHTConfig `json:"dht"`

	// Health 健康监控配置
	Health HealthConfig `json:"health"`

	// Storage 持久化配置
	Storage StorageConfig `json:"storage"`

	// Bandwidth 带宽统计配置
	Bandwidth BandwidthConfig `json:"bandwidth"`

	// Log 日志配置
	Log LogConfig `json:"log"`

	// Bootstrap 引导端点列表
	//
	// 启动时将按顺序拨号这些端点，例如 "tcp://1.2.3.4:9430"。
	// 适用于云服务器部署、私有网络等已知节点地址的场景。
	Bootstrap []string `json:"bootstrap,omitempty"`
}

// NewConfig 创建默认配置
//
// 返回的配置使用所有组件的默认值，适用于大多数场景。
// 可以通过修改字段或使用 Option 函数来定制配置。
func NewConfig() *Config {
	return &Config{
		Identity:  DefaultIdentityConfig(),
		Transport: DefaultTransportConfig(),
		Envelope:  DefaultEnvelopeConfig(),
		Session:   DefaultSessionConfig(),
		Relay:     DefaultRelayConfig(),
		Routing:   DefaultRoutingConfig(),
		Outbox:    DefaultOutboxConfig(),
		Gossip:    DefaultGossipConfig(),
		DHT:       DefaultDHTConfig(),
		Health:    DefaultHealthConfig(),
		Storage:   DefaultStorageConfig(),
		Bandwidth: DefaultBandwidthConfig(),
		Log:       DefaultLogConfig(),
	}
}

// Validate 验证配置的有效性
//
// 检查所有子配置是否有效，如果发现无效配置则返回错误。
// 建议在使用配置前调用此方法。
func (c *Config) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Envelope.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Relay.Validate(); err != nil {
		return err
	}
	if err := c.Routing.Validate(); err != nil {
		return err
	}
	if err := c.Outbox.Validate(); err != nil {
		return err
	}
	if err := c.Gossip.Validate(); err != nil {
		return err
	}
	if err := c.DHT.Validate(); err != nil {
		return err
	}
	if err := c.Health.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Bandwidth.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}

// FromJSON 从 JSON 数据解析配置
//
// 未出现的字段保持默认值。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ToJSON 序列化配置为 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// LoadFile 从文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return FromJSON(data)
}

// SaveFile 保存配置到文件
func (c *Config) SaveFile(path string) error {
	data, err := c.ToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
