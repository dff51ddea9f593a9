package dht

import (
	"testing"
	"time"
)

func TestStoreLimiterBurstAndRefill(t *testing.T) {
	l := newStoreLimiter(60, 3)
	peer := testID(0xB1)
	now := time.Unix(3000, 0)

	for i := 0; i < 3; i++ {
		if !l.allow(peer, now) {
			t.Fatalf("突发额度内第 %d 次不应被拒", i+1)
		}
	}
	if l.allow(peer, now) {
		t.Fatal("突发耗尽应被拒")
	}

	// 60/分 = 每秒补一枚
	if !l.allow(peer, now.Add(time.Second)) {
		t.Fatal("一秒后应补回一枚令牌")
	}
	if l.allow(peer, now.Add(time.Second)) {
		t.Fatal("只补了一枚")
	}
}

func TestStoreLimiterPerPeerIsolation(t *testing.T) {
	l := newStoreLimiter(60, 1)
	now := time.Unix(3000, 0)

	if !l.allow(testID(0xB1), now) {
		t.Fatal("第一位应放行")
	}
	if l.allow(testID(0xB1), now) {
		t.Fatal("第一位额度已尽")
	}
	if !l.allow(testID(0xB2), now) {
		t.Fatal("各请求方的桶互不相干")
	}
}

func TestStoreLimiterGC(t *testing.T) {
	l := newStoreLimiter(60, 2)
	peer := testID(0xB1)
	now := time.Unix(3000, 0)

	l.allow(peer, now)
	l.gc(now.Add(limiterIdleAfter / 2))

	l.mu.Lock()
	kept := len(l.perPeer)
	l.mu.Unlock()
	if kept != 1 {
		t.Fatalf("未到闲置期不应回收, 存量 = %d", kept)
	}

	l.gc(now.Add(limiterIdleAfter + time.Second))

	l.mu.Lock()
	kept = len(l.perPeer)
	l.mu.Unlock()
	if kept != 0 {
		t.Fatalf("闲置桶应回收, 存量 = %d", kept)
	}
}
