package mesh

import "errors"

// 根包错误定义
var (
	// ErrNotStarted 引擎尚未启动
	ErrNotStarted = errors.New("engine not started")

	// ErrAlreadyStarted 引擎已经启动
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrEngineClosed 引擎已关闭，实例不可复用
	ErrEngineClosed = errors.New("engine closed")

	// ErrSelfAddressed 目标是本节点自身
	ErrSelfAddressed = errors.New("message addressed to self")

	// ErrInvalidDestination 目标节点 ID 为空
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrPayloadTooLarge 载荷超出单信封上限
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrConnectionFailed 连接失败
	ErrConnectionFailed = errors.New("connection failed")

	// ErrPeerNotFound 找不到指定节点
	ErrPeerNotFound = errors.New("peer not found")
)
