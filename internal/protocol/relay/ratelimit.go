package relay

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// mlogWindow 同一来源两条畸形输入日志之间的最短间隔
const mlogWindow = 10 * time.Second

// mlogMaxSources 限频状态跟踪的来源数上限，超过时整体重置
const mlogMaxSources = 1024

// mlogLimiter 按来源限频的畸形输入日志闸门
//
// 每个来源一个窗口：窗口内首条放行，其余计入抑制数；
// 窗口翻转时放行并报告上个窗口抑制了多少条。
type mlogLimiter struct {
	cl clock.Clock

	mu      sync.Mutex
	sources map[string]*mlogEntry
}

type mlogEntry struct {
	windowStart time.Time
	suppressed  int
}

func newMlogLimiter(cl clock.Clock) *mlogLimiter {
	if cl == nil {
		cl = clock.New()
	}
	return &mlogLimiter{
		cl:      cl,
		sources: make(map[string]*mlogEntry),
	}
}

// allow 判断该来源此刻是否放行一条日志；
// 放行时返回上个窗口被抑制的条数。
func (l *mlogLimiter) allow(source string) (suppressed int, ok bool) {
	now := l.cl.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.sources) > mlogMaxSources {
		l.sources = make(map[string]*mlogEntry)
	}

	e := l.sources[source]
	if e == nil {
		l.sources[source] = &mlogEntry{windowStart: now}
		return 0, true
	}
	if now.Sub(e.windowStart) >= mlogWindow {
		suppressed = e.suppressed
		e.windowStart = now
		e.suppressed = 0
		return suppressed, true
	}
	e.suppressed++
	return 0, false
}
