package relay

import "errors"

var (
	// ErrClosed 中继已停止
	ErrClosed = errors.New("relay: closed")

	// ErrQueueFull 入站队列已满
	ErrQueueFull = errors.New("relay: ingest queue full")

	// ErrHandlerExists 该类型已注册处理器
	ErrHandlerExists = errors.New("relay: handler already registered")

	// ErrNoPath 定向信封找不到任何可用路径
	ErrNoPath = errors.New("relay: no path to recipient")
)
