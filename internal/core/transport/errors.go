package transport

import "errors"

var (
	// ErrClosed 管理器或连接已关闭
	ErrClosed = errors.New("transport: closed")

	// ErrNoConn 目标节点没有活跃连接
	ErrNoConn = errors.New("transport: no connection to peer")

	// ErrUnknownScheme 端点的 scheme 未注册对应传输
	ErrUnknownScheme = errors.New("transport: unknown endpoint scheme")

	// ErrInvalidEndpoint 端点格式非法
	ErrInvalidEndpoint = errors.New("transport: invalid endpoint")

	// ErrFrameTooLarge 帧长度超过协议上限
	ErrFrameTooLarge = errors.New("transport: frame exceeds size limit")

	// ErrPeerBlacklisted 目标节点在黑名单中，拒绝拨号
	ErrPeerBlacklisted = errors.New("transport: peer is blacklisted")

	// ErrTooManyConns 连接数达到上限
	ErrTooManyConns = errors.New("transport: connection limit reached")

	// ErrDialFailed 所有候选端点均拨号失败
	ErrDialFailed = errors.New("transport: all endpoints failed")
)
