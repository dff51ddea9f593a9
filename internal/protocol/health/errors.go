package health

import "errors"

var (
	// ErrBadProbe 心跳载荷不合法
	ErrBadProbe = errors.New("health: 心跳载荷不合法")
)
