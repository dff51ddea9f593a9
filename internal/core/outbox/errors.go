package outbox

import "errors"

var (
	// ErrClosed 队列已关闭
	ErrClosed = errors.New("outbox: 队列已关闭")

	// ErrNoSender 未绑定重投发送器
	ErrNoSender = errors.New("outbox: 未绑定发送器")
)
