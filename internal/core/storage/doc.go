// Package storage 提供统一的持久化存储服务
//
// Storage 模块为 go-mesh 提供可插拔的键值存储后端，
// 支持 memory、badger、redis 三种引擎，由配置选择。
//
// # 架构
//
// Storage 模块位于 Core Layer，为其他模块提供存储服务：
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                      使用方模块                              │
//	│     Identity | Peerstore | Session | Routing | DHT          │
//	└─────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌─────────────────────────────────────────────────────────────┐
//	│                     storage (本包)                          │
//	│  ┌─────────────────────────────────────────────────────┐   │
//	│  │                    kv.Store                         │   │
//	│  │              带前缀隔离的 KV 抽象                    │   │
//	│  └─────────────────────────────────────────────────────┘   │
//	│                              │                              │
//	│  ┌──────────────┬──────────────────┬──────────────────┐   │
//	│  │ engine/memory│  engine/badger   │   engine/redis   │   │
//	│  │  进程内 map  │  本地持久化      │   远端共享存储    │   │
//	│  └──────────────┴──────────────────┴──────────────────┘   │
//	└─────────────────────────────────────────────────────────────┘
//
// # 键空间设计
//
// 各模块使用不同的键前缀实现数据隔离：
//
//	前缀       | 模块       | 说明
//	-----------|------------|------------------
//	identity/  | Identity   | 节点身份密钥
//	peer/      | Peerstore  | 节点档案
//	route/     | Routing    | 路由表快照
//	session/   | Session    | 会话链状态
//	dht/v/     | DHT        | 值记录
//	dht/u/     | DHT        | 每请求方存储用量
//
// # 使用示例
//
// 使用 Fx 依赖注入（推荐）：
//
//	app := fx.New(
//	    storage.Module(),
//	    // ... 其他模块
//	)
//
// 手动创建：
//
//	eng, err := storage.NewEngine(cfg.Storage)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	peers := storage.NewKVStore(eng, []byte("peer/"))
//
// # 线程安全
//
// 所有公开的类型和方法都是线程安全的。
package storage
