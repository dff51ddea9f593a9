package gossip

import (
	"fmt"
	"testing"

	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/pkg/types"
)

func makeData(t *testing.T, ident *identity.Identity, payload string) *envelope.Envelope {
	t.Helper()
	env, err := envelope.New(envelope.Data, ident.ID(), types.EmptyNodeID, 8, []byte(payload))
	if err != nil {
		t.Fatalf("创建信封失败: %v", err)
	}
	envelope.Sign(env, ident.PrivateKey())
	return env
}

func TestStoreRejectsControlEnvelopes(t *testing.T) {
	ident, err := identity.Generate()
	if err != nil {
		t.Fatalf("生成身份失败: %v", err)
	}
	s := newRecentStore(8)

	hb, err := envelope.New(envelope.Heartbeat, ident.ID(), types.EmptyNodeID, 1, nil)
	if err != nil {
		t.Fatalf("创建信封失败: %v", err)
	}
	if s.add(hb) {
		t.Fatal("控制信封不应入库")
	}
	if s.size() != 0 {
		t.Fatalf("窗口大小 = %d, 期望 0", s.size())
	}

	if !s.add(makeData(t, ident, "payload")) {
		t.Fatal("Data 信封应当入库")
	}
	if s.size() != 1 {
		t.Fatalf("窗口大小 = %d, 期望 1", s.size())
	}
}

func TestStoreDedupesByID(t *testing.T) {
	ident, err := identity.Generate()
	if err != nil {
		t.Fatalf("生成身份失败: %v", err)
	}
	s := newRecentStore(8)

	env := makeData(t, ident, "once")
	if !s.add(env) {
		t.Fatal("首次入库失败")
	}
	if s.add(env) {
		t.Fatal("重复入库应被拒绝")
	}
	if s.size() != 1 {
		t.Fatalf("窗口大小 = %d, 期望 1", s.size())
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	ident, err := identity.Generate()
	if err != nil {
		t.Fatalf("生成身份失败: %v", err)
	}
	s := newRecentStore(8)

	var ids []types.MessageID
	for i := 0; i < 10; i++ {
		env := makeData(t, ident, fmt.Sprintf("msg-%d", i))
		ids = append(ids, envelope.ID(env))
		if !s.add(env) {
			t.Fatalf("第 %d 条入库失败", i)
		}
	}

	if s.size() != 8 {
		t.Fatalf("窗口大小 = %d, 期望 8", s.size())
	}
	if s.has(ids[0]) || s.has(ids[1]) {
		t.Fatal("最旧的两条应已被覆盖")
	}
	for i := 2; i < 10; i++ {
		if !s.has(ids[i]) {
			t.Fatalf("第 %d 条不应被覆盖", i)
		}
	}
}

func TestStoreNormalizesTTLKeepsSignature(t *testing.T) {
	ident, err := identity.Generate()
	if err != nil {
		t.Fatalf("生成身份失败: %v", err)
	}
	s := newRecentStore(8)

	env := makeData(t, ident, "in flight")
	wantID := envelope.ID(env)
	// 模拟途中信封：TTL 已被递减
	env.TTL = 3
	if !s.add(env) {
		t.Fatal("入库失败")
	}

	frame, ok := s.get(wantID)
	if !ok {
		t.Fatal("入库后查不到")
	}
	stored, err := envelope.Decode(frame)
	if err != nil {
		t.Fatalf("解码库内信封失败: %v", err)
	}
	if stored.TTL != 1 {
		t.Fatalf("库内 TTL = %d, 期望归一为 1", stored.TTL)
	}
	if !envelope.Verify(stored, ident.PublicKey()) {
		t.Fatal("TTL 归一后签名验证失败")
	}
	if envelope.ID(stored) != wantID {
		t.Fatal("TTL 归一改变了消息ID")
	}
}
