package mesh

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/transport"
)

// Option 引擎配置选项
type Option func(*options) error

// options 聚合所有可配置项。
// cfg 承载声明式配置；其余字段是只能程序注入的运行时对象。
type options struct {
	cfg        *config.Config
	ident      *identity.Identity
	clock      clock.Clock
	transports []transport.Transport
	registerer prometheus.Registerer
	applyLog   bool
}

func defaultOptions() *options {
	return &options{
		cfg: config.NewConfig(),
	}
}

// WithConfig 使用完整的配置对象，替换默认配置。
// 与其它配置类选项组合时应放在最前面。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		o.cfg = cfg
		return nil
	}
}

// WithPreset 应用命名预设（mobile / server / minimal / default）
func WithPreset(name string) Option {
	return func(o *options) error {
		return config.ApplyPreset(o.cfg, name)
	}
}

// WithListenAddrs 设置监听端点，如 "tcp://0.0.0.0:9430"
func WithListenAddrs(addrs ...string) Option {
	return func(o *options) error {
		if len(addrs) == 0 {
			return fmt.Errorf("at least one listen addr required")
		}
		o.cfg.Transport.ListenAddrs = addrs
		return nil
	}
}

// WithBootstrap 设置自举端点，启动时按顺序拨号
func WithBootstrap(endpoints ...string) Option {
	return func(o *options) error {
		o.cfg.Bootstrap = endpoints
		return nil
	}
}

// WithDataDir 启用 Badger 持久化并把数据落在指定目录。
// 不设置时默认纯内存运行，重启即冷启动。
func WithDataDir(dir string) Option {
	return func(o *options) error {
		if dir == "" {
			return fmt.Errorf("data dir is empty")
		}
		o.cfg.Storage.Backend = config.StorageBackendBadger
		o.cfg.Storage.Path = dir
		return nil
	}
}

// WithMemoryStorage 强制使用内存存储（测试与一次性节点）
func WithMemoryStorage() Option {
	return func(o *options) error {
		o.cfg.Storage.Backend = config.StorageBackendMemory
		return nil
	}
}

// WithIdentity 直接注入身份对象，优先级最高
func WithIdentity(id *identity.Identity) Option {
	return func(o *options) error {
		if id == nil {
			return fmt.Errorf("identity is nil")
		}
		o.ident = id
		return nil
	}
}

// WithIdentityFile 从密钥文件加载身份，文件不存在则生成并写入
func WithIdentityFile(path string) Option {
	return func(o *options) error {
		o.cfg.Identity.KeyFile = path
		return nil
	}
}

// WithIdentitySeed 用确定性种子生成身份（32 字节 hex，仅测试用）
func WithIdentitySeed(seed string) Option {
	return func(o *options) error {
		o.cfg.Identity.Seed = seed
		return nil
	}
}

// WithLogLevel 设置全局日志级别（debug / info / warn / error）
func WithLogLevel(level string) Option {
	return func(o *options) error {
		o.cfg.Log.Level = level
		o.applyLog = true
		return nil
	}
}

// WithClock 注入时钟，测试中配合 mock 时钟驱动定时行为
func WithClock(cl clock.Clock) Option {
	return func(o *options) error {
		if cl == nil {
			return fmt.Errorf("clock is nil")
		}
		o.clock = cl
		return nil
	}
}

// WithTransport 注册额外的传输实现。
// 内置 TCP/WebSocket 之外的链路（如测试用内存传输）由此接入。
func WithTransport(t transport.Transport) Option {
	return func(o *options) error {
		if t == nil {
			return fmt.Errorf("transport is nil")
		}
		o.transports = append(o.transports, t)
		return nil
	}
}

// WithMetrics 注册 Prometheus 指标收集器到指定 Registerer
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) error {
		if reg == nil {
			return fmt.Errorf("registerer is nil")
		}
		o.registerer = reg
		return nil
	}
}
