package dht

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dep2p/go-mesh/pkg/types"
)

// limiterIdleAfter 闲置多久后回收某个请求方的令牌桶
const limiterIdleAfter = 10 * time.Minute

// storeLimiter 按请求方分桶的 STORE 令牌桶限速。
// 时间显式传入，令桶的补充在注入时钟下保持确定性。
type storeLimiter struct {
	mu      sync.Mutex
	perPeer map[types.NodeID]*peerLimiter
	limit   rate.Limit
	burst   int
}

type peerLimiter struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

func newStoreLimiter(perMin, burst int) *storeLimiter {
	return &storeLimiter{
		perPeer: make(map[types.NodeID]*peerLimiter),
		limit:   rate.Limit(float64(perMin) / 60.0),
		burst:   burst,
	}
}

// allow 消费一枚令牌，桶空返回 false
func (l *storeLimiter) allow(peer types.NodeID, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pl, ok := l.perPeer[peer]
	if !ok {
		pl = &peerLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.perPeer[peer] = pl
	}
	pl.lastUsed = now
	return pl.lim.AllowN(now, 1)
}

// gc 回收闲置的令牌桶，防止按请求方分的 map 无界增长
func (l *storeLimiter) gc(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for peer, pl := range l.perPeer {
		if now.Sub(pl.lastUsed) > limiterIdleAfter {
			delete(l.perPeer, peer)
		}
	}
}
