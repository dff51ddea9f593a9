package gossip

import "errors"

var (
	// ErrBadDigest 摘要载荷不合法
	ErrBadDigest = errors.New("gossip: 摘要载荷不合法")

	// ErrBadBatch 推送批次界符越界
	ErrBadBatch = errors.New("gossip: 推送批次不合法")
)
