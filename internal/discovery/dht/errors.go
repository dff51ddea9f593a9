package dht

import "errors"

var (
	// ErrClosed DHT 已关闭
	ErrClosed = errors.New("dht: 已关闭")

	// ErrNotFound 键不存在且迭代查询未能找到
	ErrNotFound = errors.New("dht: 键未找到")

	// ErrNoContacts 路由表为空，无法发起查询
	ErrNoContacts = errors.New("dht: 路由表为空")

	// ErrTimeout RPC 等待响应超时
	ErrTimeout = errors.New("dht: 请求超时")

	// ErrValueTooLarge 值超过单值字节上限
	ErrValueTooLarge = errors.New("dht: 值超过单值上限")

	// ErrQuotaExceeded 发布方累计存储字节超过配额
	ErrQuotaExceeded = errors.New("dht: 存储配额耗尽")

	// ErrStoreRateLimited STORE 请求触发令牌桶限速
	ErrStoreRateLimited = errors.New("dht: 存储请求过于频繁")

	// ErrBadMessage RPC 报文不合法
	ErrBadMessage = errors.New("dht: 报文不合法")

	// ErrBadRecord 地址记录验签失败或指纹不符
	ErrBadRecord = errors.New("dht: 地址记录不合法")
)
