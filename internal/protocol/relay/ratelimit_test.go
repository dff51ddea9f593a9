package relay

import (
	"fmt"
	"testing"

	"github.com/benbjohnson/clock"
)

func TestMlogLimiterWindow(t *testing.T) {
	mock := clock.NewMock()
	l := newMlogLimiter(mock)

	// 窗口内首条放行，其余抑制
	if n, ok := l.allow("src"); !ok || n != 0 {
		t.Fatalf("首条应放行, got (%d, %v)", n, ok)
	}
	for i := 0; i < 5; i++ {
		if _, ok := l.allow("src"); ok {
			t.Fatal("窗口内重复来源应被抑制")
		}
	}

	// 其他来源互不影响
	if _, ok := l.allow("other"); !ok {
		t.Fatal("不同来源应独立放行")
	}

	// 窗口翻转后放行并带出抑制数
	mock.Add(mlogWindow)
	if n, ok := l.allow("src"); !ok || n != 5 {
		t.Fatalf("窗口翻转应放行并报告抑制数, got (%d, %v)", n, ok)
	}

	// 新窗口重新计数
	if _, ok := l.allow("src"); ok {
		t.Fatal("新窗口内第二条应被抑制")
	}
	mock.Add(mlogWindow)
	if n, ok := l.allow("src"); !ok || n != 1 {
		t.Fatalf("第二个窗口抑制数 = %d, want 1", n)
	}
}

func TestMlogLimiterSourceCap(t *testing.T) {
	mock := clock.NewMock()
	l := newMlogLimiter(mock)

	for i := 0; i < mlogMaxSources+2; i++ {
		l.allow(fmt.Sprintf("src-%d", i))
	}
	// 超过上限后整体重置，不会无界增长
	if len(l.sources) > mlogMaxSources+1 {
		t.Fatalf("来源表未重置, len=%d", len(l.sources))
	}
}
