// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// ════════════════════════════════════════════════════════════════════════════
//                              预设配置
// ════════════════════════════════════════════════════════════════════════════

// NewMobileConfig 创建移动端预设配置
//
// 适用场景：移动设备、电池供电、不稳定链路
// 特点：
//   - 缓存与队列容量减半，低内存占用
//   - 心跳间隔更长，省电
//   - gossip 周期放缓
//   - 更紧的 DHT 配额
func NewMobileConfig() *Config {
	cfg := NewConfig()
	cfg.Relay.DedupCapacity = 16384
	cfg.Relay.Workers = 2
	cfg.Outbox.GlobalCap = 512
	cfg.Outbox.PerDestCap = 64
	cfg.Gossip.Interval = Duration(8 * time.Second)
	cfg.Gossip.RecentWindow = 256
	cfg.Health.InitialInterval = Duration(10 * time.Second)
	cfg.Health.MaxInterval = Duration(120 * time.Second)
	cfg.DHT.PerPeerQuota = 65536
	cfg.DHT.LookupCacheSize = 32
	cfg.Transport.MaxConns = 64
	return cfg
}

// NewServerConfig 创建服务器预设配置
//
// 适用场景：常驻公网节点、引导节点
// 特点：
//   - 大容量去重缓存与转发队列
//   - 更多工作协程、更高并发连接数
//   - gossip 更频繁，DHT 配额放宽
//   - 默认 Badger 持久化
func NewServerConfig() *Config {
	cfg := NewConfig()
	cfg.Relay.DedupCapacity = 131072
	cfg.Relay.Workers = 8
	cfg.Relay.QueueDepth = 4096
	cfg.Outbox.GlobalCap = 8192
	cfg.Outbox.PerDestCap = 512
	cfg.Gossip.Interval = Duration(2 * time.Second)
	cfg.Gossip.RecentWindow = 2048
	cfg.DHT.PerPeerQuota = 1 << 20
	cfg.DHT.MaxValueSize = 32768
	cfg.DHT.LookupCacheSize = 512
	cfg.Transport.MaxConns = 1024
	cfg.Storage.Backend = StorageBackendBadger
	return cfg
}

// NewMinimalConfig 创建最小预设配置
//
// 适用场景：测试环境、开发调试
// 特点：
//   - 最小缓存与队列
//   - 心跳与 gossip 周期缩短，测试收敛快
//   - 内存存储
func NewMinimalConfig() *Config {
	cfg := NewConfig()
	cfg.Relay.DedupCapacity = 1024
	cfg.Relay.Workers = 1
	cfg.Relay.QueueDepth = 128
	cfg.Outbox.GlobalCap = 64
	cfg.Outbox.PerDestCap = 16
	cfg.Outbox.ScanInterval = Duration(2 * time.Second)
	cfg.Gossip.Interval = Duration(1 * time.Second)
	cfg.Gossip.RecentWindow = 64
	cfg.Gossip.Fanout = 2
	cfg.Health.InitialInterval = Duration(2 * time.Second)
	cfg.Health.MaxInterval = Duration(10 * time.Second)
	cfg.Health.UnreachableAfter = Duration(20 * time.Second)
	cfg.Routing.RouteTTL = Duration(2 * time.Minute)
	cfg.Routing.PruneInterval = Duration(5 * time.Second)
	cfg.DHT.LookupCacheSize = 16
	cfg.Storage.Backend = StorageBackendMemory
	return cfg
}

// ApplyPreset 将预设应用到现有配置
//
// 支持的预设名称：mobile / desktop / server / minimal。
// desktop 即默认配置。
func ApplyPreset(cfg *Config, name string) error {
	var preset *Config
	switch name {
	case "mobile":
		preset = NewMobileConfig()
	case "desktop":
		preset = NewConfig()
	case "server":
		preset = NewServerConfig()
	case "minimal":
		preset = NewMinimalConfig()
	default:
		return fmt.Errorf("unknown preset %q", name)
	}

	// 保留身份、引导与存储路径等部署相关字段
	preset.Identity = cfg.Identity
	preset.Bootstrap = cfg.Bootstrap
	preset.Transport.ListenAddrs = cfg.Transport.ListenAddrs
	if cfg.Storage.Path != DefaultStorageConfig().Path {
		preset.Storage.Path = cfg.Storage.Path
	}
	*cfg = *preset
	return nil
}
