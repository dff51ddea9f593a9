// Package mesh 提供无服务器的网格消息引擎
//
// go-mesh 是一个去中心化的 P2P 消息库：没有中心服务器，
// 每个节点既是端点也是中继，消息在节点间多跳转发直达目标。
//
// # 核心概念
//
//   - Engine: 网格节点，用户交互的主入口
//   - Envelope: 统一线格式，所有协议消息共用一种信封
//   - Session: 邻居间的端到端加密会话（X25519 + ChaCha20-Poly1305）
//   - Relay: 去重/TTL 洪泛中继，广播与点对点共用一条转发路径
//
// # 快速开始
//
//	import "github.com/dep2p/go-mesh"
//
//	// 1. 创建并启动引擎
//	e, err := mesh.Start(ctx,
//	    mesh.WithListenAddrs("tcp://0.0.0.0:9430"),
//	    mesh.WithBootstrap("tcp://seed.example.com:9430"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Close()
//
//	// 2. 注册消息回调
//	e.OnMessage(func(sender mesh.NodeID, payload []byte) {
//	    fmt.Printf("%s: %s\n", sender, payload)
//	})
//
//	// 3. 发送端到端加密消息
//	id, err := e.Send(ctx, peer, []byte("hello mesh"))
//
// # 文件组织
//
// 根包是薄门面，全部实现位于 internal/ 下：
//
//	mesh/
//	├── mesh.go               # Engine 结构、New()、Start() 便捷入口
//	├── mesh_lifecycle.go     # Start、Stop、Close、状态机
//	├── mesh_send.go          # Send、Broadcast、消息与失败回调
//	├── mesh_peers.go         # Connect、Resolve、档案、拉黑
//	├── mesh_observe.go       # 统计、带宽、事件总线、诊断
//	├── options.go            # 函数式选项
//	├── presets.go            # mobile / desktop / server / minimal 预设
//	│
//	├── internal/core/        # 身份、信封、会话、路由、出站队列、传输、存储
//	├── internal/protocol/    # 中继、反熵、健康监控
//	├── internal/discovery/   # Kademlia DHT
//	├── config/               # 声明式配置与预设
//	└── pkg/types/            # 公共类型与事件定义
//
// # 并发模型
//
// Engine 的全部公开方法并发安全。消息与事件回调在引擎的
// 工作协程上执行，应用回调中不应做长时间阻塞操作。
package mesh
