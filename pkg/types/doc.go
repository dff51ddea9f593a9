// Package types 定义 go-mesh 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他 go-mesh 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据：
//
//   - NodeID / MessageID: 节点与消息标识
//   - Peer / PeerState: 节点档案与状态机
//   - Evt*: 事件总线上的事件类型
//   - BandwidthSnapshot: 带宽统计快照
package types
