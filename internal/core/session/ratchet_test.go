package session

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func testRoot(label string) []byte {
	sum := sha256.Sum256([]byte(label))
	return sum[:]
}

func TestDeriveChains_RoleSymmetry(t *testing.T) {
	root := testRoot("role-symmetry")

	initSend, initRecv, err := deriveChains(root, true)
	if err != nil {
		t.Fatalf("derive initiator chains: %v", err)
	}
	respSend, respRecv, err := deriveChains(root, false)
	if err != nil {
		t.Fatalf("derive responder chains: %v", err)
	}

	if !bytes.Equal(initSend, respRecv) {
		t.Error("发起方发送链应等于响应方接收链")
	}
	if !bytes.Equal(initRecv, respSend) {
		t.Error("发起方接收链应等于响应方发送链")
	}
	if bytes.Equal(initSend, initRecv) {
		t.Error("收发链不应相同")
	}
}

func TestDeriveChains_RootSeparation(t *testing.T) {
	s1, r1, err := deriveChains(testRoot("root-a"), true)
	if err != nil {
		t.Fatal(err)
	}
	s2, r2, err := deriveChains(testRoot("root-b"), true)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(s1, s2) || bytes.Equal(r1, r2) {
		t.Error("不同根密钥派生的链不应相同")
	}
}

func TestAdvanceChain(t *testing.T) {
	chain := testRoot("advance")

	k1, next1 := advanceChain(chain)
	k1again, next1again := advanceChain(chain)

	if !bytes.Equal(k1, k1again) || !bytes.Equal(next1, next1again) {
		t.Fatal("链推进应是确定性的")
	}
	if bytes.Equal(k1, next1) {
		t.Error("消息密钥与下一链密钥不应相同")
	}
	if bytes.Equal(k1, chain) || bytes.Equal(next1, chain) {
		t.Error("推进结果不应等于当前链")
	}

	k2, _ := advanceChain(next1)
	if bytes.Equal(k1, k2) {
		t.Error("相邻两条消息密钥不应相同")
	}
}

func TestZeroize(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	zeroize(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("第 %d 字节未覆写: %d", i, v)
		}
	}
}

func TestSkippedKeys_EvictionOrder(t *testing.T) {
	s := newSkippedKeys(3)

	s.put(10, testRoot("k10"))
	s.put(11, testRoot("k11"))
	s.put(12, testRoot("k12"))
	if s.len() != 3 {
		t.Fatalf("len = %d, want 3", s.len())
	}

	// 超容淘汰最旧的 10
	s.put(13, testRoot("k13"))
	if s.len() != 3 {
		t.Fatalf("len = %d, want 3", s.len())
	}
	if _, ok := s.peek(10); ok {
		t.Error("最旧的密钥应被淘汰")
	}
	if _, ok := s.peek(13); !ok {
		t.Error("新密钥应在窗口内")
	}
}

func TestSkippedKeys_DropAndClear(t *testing.T) {
	s := newSkippedKeys(4)
	s.put(1, testRoot("k1"))
	s.put(2, testRoot("k2"))

	s.drop(1)
	if _, ok := s.peek(1); ok {
		t.Error("drop 后密钥仍可见")
	}
	if s.len() != 1 {
		t.Fatalf("len = %d, want 1", s.len())
	}

	// drop 不存在的序号为空操作
	s.drop(99)

	s.clear()
	if s.len() != 0 {
		t.Errorf("clear 后 len = %d", s.len())
	}
}

func TestSkippedKeys_ZeroCap(t *testing.T) {
	s := newSkippedKeys(0)
	s.put(1, testRoot("k1"))
	if s.len() != 0 {
		t.Error("容量为零时不应暂存任何密钥")
	}
}

func TestSkippedKeys_DuplicatePut(t *testing.T) {
	s := newSkippedKeys(4)
	k := testRoot("dup")
	s.put(7, k)
	s.put(7, testRoot("other"))
	if s.len() != 1 {
		t.Fatalf("len = %d, want 1", s.len())
	}
	got, _ := s.peek(7)
	if !bytes.Equal(got, testRoot("dup")) {
		t.Error("重复 put 不应覆盖原密钥")
	}
}
