package session

import "errors"

var (
	// ErrNoSession 与目标节点尚无已建立的会话
	// 调用方应将明文转入存储转发队列等待会话建立事件
	ErrNoSession = errors.New("session: no established session")

	// ErrNotEncrypted 信封载荷未密封
	ErrNotEncrypted = errors.New("session: envelope payload not sealed")

	// ErrReplayOrExpired 序号低于接收水位线且不在跳过窗口内
	ErrReplayOrExpired = errors.New("session: sequence replayed or expired")

	// ErrSkipExceeded 序号与水位线的间距超出跳过窗口上限
	ErrSkipExceeded = errors.New("session: sequence gap exceeds skip window")

	// ErrDecryptFailed AEAD 解封失败（单消息错误，不影响会话）
	ErrDecryptFailed = errors.New("session: payload decryption failed")

	// ErrHandshakeFailed 握手执行失败
	ErrHandshakeFailed = errors.New("session: handshake failed")

	// ErrBadHandshake 握手信封载荷格式错误
	ErrBadHandshake = errors.New("session: malformed handshake payload")

	// ErrNoSender 尚未绑定握手信封的发出通道
	ErrNoSender = errors.New("session: no envelope sender bound")
)
