package transport

import (
	"context"
	"strings"
)

// ConnState 连接状态
type ConnState int

const (
	// ConnStateConnected 连接已建立
	ConnStateConnected ConnState = iota
	// ConnStateDegraded 连接仍在但质量劣化（由健康探测判定）
	ConnStateDegraded
	// ConnStateClosed 连接已关闭
	ConnStateClosed
)

// String 返回状态名称
func (s ConnState) String() string {
	switch s {
	case ConnStateConnected:
		return "connected"
	case ConnStateDegraded:
		return "degraded"
	case ConnStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn 一条双向帧通道
//
// Send 与 Recv 可以并发调用；Send 自身串行化，多 goroutine 并发 Send 安全。
// Recv 阻塞直到收到完整帧或连接出错，由管理器的读循环独占调用。
type Conn interface {
	// Send 发送一个完整帧
	Send(frame []byte) error
	// Recv 阻塞读取下一个完整帧
	Recv() ([]byte, error)
	// Close 关闭连接
	Close() error
	// LocalEndpoint 本端端点（含 scheme）
	LocalEndpoint() string
	// RemoteEndpoint 远端端点（含 scheme）
	RemoteEndpoint() string
}

// Listener 监听器
type Listener interface {
	// Accept 阻塞等待下一条入站连接
	Accept() (Conn, error)
	// Close 停止监听
	Close() error
	// Endpoint 实际绑定的端点（端口 0 会被解析为实际端口）
	Endpoint() string
}

// Transport 一种具体传输方式
type Transport interface {
	// Scheme 传输的 scheme 标识，如 "tcp"、"ws"、"mem"
	Scheme() string
	// Dial 拨号到指定端点
	Dial(ctx context.Context, endpoint string) (Conn, error)
	// Listen 在指定端点上监听
	Listen(endpoint string) (Listener, error)
}

// Handler 上层对传输事件的处理入口
//
// HandleFrame 在连接的读循环中被调用，实现方不应长时间阻塞；
// 需要重活的帧应投递到自己的工作队列。
type Handler interface {
	// HandleFrame 收到一个完整帧
	HandleFrame(c Conn, frame []byte)
	// HandleState 连接状态变化
	HandleState(c Conn, state ConnState)
}

// splitScheme 拆出端点的 scheme 部分，如 "tcp://1.2.3.4:5" → "tcp"
func splitScheme(endpoint string) (scheme string, ok bool) {
	i := strings.Index(endpoint, "://")
	if i <= 0 {
		return "", false
	}
	return endpoint[:i], true
}

// trimScheme 去掉端点的 scheme 前缀，返回地址部分
func trimScheme(endpoint string) string {
	i := strings.Index(endpoint, "://")
	if i < 0 {
		return endpoint
	}
	return endpoint[i+3:]
}
